package markdown

import (
	"fmt"
	"strings"
	"time"

	"secnews/internal/models"
)

const noNews = "No news items found matching your criteria."

// TimeAgo renders the distance between t and now in the coarsest whole unit.
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	if d < time.Minute {
		return "just now"
	}
	if days := int(d / (24 * time.Hour)); days > 0 {
		return plural(days, "day") + " ago"
	}
	if hours := int(d / time.Hour); hours > 0 {
		return plural(hours, "hour") + " ago"
	}
	return plural(int(d/time.Minute), "minute") + " ago"
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// News renders items as a markdown digest. note, when set, is appended as an
// italic footer.
func News(items []models.NewsItem, note string, now time.Time) string {
	var sb strings.Builder
	if len(items) == 0 {
		sb.WriteString(noNews)
		sb.WriteString("\n")
	} else {
		sb.WriteString(fmt.Sprintf("# Cybersecurity News (%d articles)\n\n", len(items)))
		for _, it := range items {
			sb.WriteString(fmt.Sprintf("## %s\n", it.Title))
			sb.WriteString(fmt.Sprintf("**Source:** %s | **Published:** %s\n", it.Source, TimeAgo(it.Published, now)))
			if it.Author != "" && it.Author != it.Source {
				sb.WriteString(fmt.Sprintf("**Author:** %s\n", it.Author))
			}
			sb.WriteString(fmt.Sprintf("**Link:** %s\n", it.Link))
			if it.Description != "" {
				sb.WriteString("\n")
				sb.WriteString(it.Description)
				sb.WriteString("\n")
			}
			sb.WriteString("\n---\n\n")
		}
	}
	if note != "" {
		sb.WriteString(fmt.Sprintf("\n_%s_\n", note))
	}
	return sb.String()
}

// Sources renders the configured sources as a numbered list.
func Sources(srcs []models.SourceDescriptor) string {
	var sb strings.Builder
	sb.WriteString("# Available Cybersecurity News Sources\n\n")
	for i, s := range srcs {
		sb.WriteString(fmt.Sprintf("%d. **%s**", i+1, s.Name))
		if !s.Enabled {
			sb.WriteString(" (disabled)")
		}
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("   - Feed URL: `%s`\n\n", s.Endpoint))
	}
	return sb.String()
}

func Stats(s models.Stats, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("# Cache Statistics\n\n")
	health := "healthy"
	if !s.StoreHealthy {
		health = "unavailable"
	}
	sb.WriteString(fmt.Sprintf("- **Store:** %s\n", health))
	sb.WriteString(fmt.Sprintf("- **Documents:** %d\n", s.DocumentCount))
	if s.LastRefresh != nil {
		sb.WriteString(fmt.Sprintf("- **Last refresh:** %s (%s, %d items)\n",
			s.LastRefresh.UTC().Format(time.RFC3339), TimeAgo(*s.LastRefresh, now), s.LastItemCount))
	} else {
		sb.WriteString("- **Last refresh:** never\n")
	}
	sb.WriteString(fmt.Sprintf("- **Cache TTL:** %d minutes\n", int(s.CacheTTL/time.Minute)))
	if s.LastRefreshFailed {
		sb.WriteString(fmt.Sprintf("- **Last attempt failed:** %s\n", s.LastError))
	}
	if len(s.FailedSources) > 0 {
		sb.WriteString(fmt.Sprintf("- **Failed sources:** %s\n", strings.Join(s.FailedSources, ", ")))
	}
	return sb.String()
}
