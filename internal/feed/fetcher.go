package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"secnews/internal/httpclient"
	"secnews/internal/models"
)

const maxDescriptionRunes = 300

// FetchError reports why a single source could not be fetched. It is never
// fatal to an aggregation round.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Timeout reports whether the fetch failed because its deadline expired.
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// Fetcher retrieves one source and normalizes its items. It does not retry.
type Fetcher struct {
	client *httpclient.Client
	parser Parser
	now    func() time.Time
}

func NewFetcher(client *httpclient.Client, parser Parser) *Fetcher {
	if parser == nil {
		parser = NewGofeedParser()
	}
	return &Fetcher{client: client, parser: parser, now: time.Now}
}

func (f *Fetcher) Fetch(ctx context.Context, src models.SourceDescriptor) ([]models.NewsItem, error) {
	raw, err := f.client.Fetch(ctx, src.Endpoint)
	if err != nil {
		return nil, &FetchError{Source: src.Name, Err: err}
	}
	parsed, err := f.parser.Parse(ctx, raw)
	if err != nil {
		return nil, &FetchError{Source: src.Name, Err: fmt.Errorf("malformed feed: %w", err)}
	}

	fetchedAt := f.now().UTC()
	items := make([]models.NewsItem, 0, len(parsed))
	for _, it := range parsed {
		items = append(items, Normalize(it, src.Name, fetchedAt))
	}
	return items, nil
}

// Normalize maps a parsed entry onto the NewsItem shape.
func Normalize(it RawItem, source string, fetchedAt time.Time) models.NewsItem {
	title := strings.Join(strings.Fields(htmlToText(it.Title)), " ")
	if title == "" {
		title = "Untitled"
	}
	link := strings.TrimSpace(it.Link)
	author := strings.TrimSpace(it.Author)
	if author == "" {
		author = source
	}

	published := fetchedAt
	if it.Published != nil && !it.Published.IsZero() {
		published = it.Published.UTC()
	} else if it.Updated != nil && !it.Updated.IsZero() {
		published = it.Updated.UTC()
	}

	return models.NewsItem{
		Fingerprint: models.Fingerprint(title, link),
		Title:       title,
		Link:        link,
		Description: truncate(htmlToText(firstNonEmpty(it.Description, it.Content)), maxDescriptionRunes),
		Author:      author,
		Published:   published,
		Source:      source,
		FetchedAt:   fetchedAt,
	}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "..."
}
