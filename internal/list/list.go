// Package list prints news results as plain terminal text for the CLI.
package list

import (
	"fmt"
	"io"
	"strings"
	"time"

	"secnews/internal/markdown"
	"secnews/internal/models"
)

const previewLen = 400

// Print writes items in a scan-friendly block format followed by note, if any.
func Print(w io.Writer, items []models.NewsItem, window time.Duration, note string, now time.Time) {
	hours := int(window / time.Hour)
	if len(items) == 0 {
		fmt.Fprintf(w, "No news found in the last %d hours.\n", hours)
	} else {
		fmt.Fprintf(w, "Found %d items from the last %d hours:\n\n", len(items), hours)
	}

	for _, it := range items {
		title := it.Title
		if title == "" {
			title = "Untitled"
		}
		author := it.Author
		if author == "" {
			author = it.Source
		}

		fmt.Fprintf(w, "Title: %s\n", title)
		fmt.Fprintf(w, "Source: %s\n", it.Source)
		if author != it.Source {
			fmt.Fprintf(w, "Author: %s\n", author)
		}
		fmt.Fprintf(w, "Date: %s (%s)\n", it.Published.Local().Format("2006-01-02 15:04:05"), markdown.TimeAgo(it.Published, now))
		fmt.Fprintf(w, "Link: %s\n", it.Link)
		if p := preview(it.Description); p != "" {
			fmt.Fprintf(w, "Preview: %s\n", p)
		}
		fmt.Fprintln(w, strings.Repeat("-", 80))
	}

	if note != "" {
		fmt.Fprintf(w, "\n%s\n", note)
	}
}

// Sources prints one line per configured source.
func Sources(w io.Writer, srcs []models.SourceDescriptor) {
	for _, s := range srcs {
		state := "enabled"
		if !s.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(w, "%-20s %-8s %s\n", s.Name, state, s.Endpoint)
	}
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > previewLen {
		return string(r[:previewLen]) + "..."
	}
	return s
}
