package feed

import (
	"bytes"
	"context"
	"time"

	"github.com/mmcdole/gofeed"
)

// RawItem is an entry as the parser saw it, before normalization.
type RawItem struct {
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	Published   *time.Time
	Updated     *time.Time
}

// Parser turns raw feed bytes into items. Format detection (RSS, Atom, JSON
// Feed) is the parser's concern.
type Parser interface {
	Parse(ctx context.Context, raw []byte) ([]RawItem, error)
}

// GofeedParser implements Parser with gofeed's universal parser.
type GofeedParser struct{}

func NewGofeedParser() *GofeedParser {
	return &GofeedParser{}
}

func (GofeedParser) Parse(ctx context.Context, raw []byte) ([]RawItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// gofeed.Parser keeps per-call state, so one is built per parse.
	f, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	items := make([]RawItem, 0, len(f.Items))
	for _, it := range f.Items {
		if it == nil {
			continue
		}
		items = append(items, RawItem{
			Title:       it.Title,
			Link:        itemLink(it),
			Description: it.Description,
			Content:     it.Content,
			Author:      itemAuthor(it),
			Published:   it.PublishedParsed,
			Updated:     it.UpdatedParsed,
		})
	}
	return items, nil
}

func itemLink(it *gofeed.Item) string {
	if it.Link != "" {
		return it.Link
	}
	for _, l := range it.Links {
		if l != "" {
			return l
		}
	}
	return it.GUID
}

func itemAuthor(it *gofeed.Item) string {
	for _, a := range it.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}
