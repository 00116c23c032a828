package feed

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"secnews/internal/feedtest"
	"secnews/internal/httpclient"
	"secnews/internal/models"
)

func newTestFetcher(timeout time.Duration) *Fetcher {
	return NewFetcher(httpclient.New(timeout, "secnews-test"), nil)
}

func TestFetch_RSS(t *testing.T) {
	published := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	srv := feedtest.NewServer(t)
	url := srv.Handle("/rss", feedtest.RSS(t, "Awesome blog",
		feedtest.Entry{Title: "Zero-day in FooLib", Link: "https://a.example/1", Description: "<p>Patch <b>now</b></p>", Author: "alice", Published: published},
		feedtest.Entry{Title: "Weekly recap", Link: "https://a.example/2", Description: "Nothing new", Published: published.Add(-time.Hour)},
	))

	items, err := newTestFetcher(5*time.Second).Fetch(t.Context(), models.SourceDescriptor{Name: "A", Endpoint: url, Enabled: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	first := items[0]
	if first.Title != "Zero-day in FooLib" || first.Link != "https://a.example/1" {
		t.Errorf("unexpected first item: %+v", first)
	}
	if first.Description != "Patch now" {
		t.Errorf("description = %q, want HTML stripped", first.Description)
	}
	if first.Source != "A" {
		t.Errorf("source = %q, want A", first.Source)
	}
	if !first.Published.Equal(published) {
		t.Errorf("published = %v, want %v", first.Published, published)
	}
	if first.Fingerprint != models.Fingerprint(first.Title, first.Link) {
		t.Errorf("fingerprint mismatch")
	}
}

func TestFetch_Atom(t *testing.T) {
	published := time.Now().Add(-2 * time.Hour).UTC().Truncate(time.Second)
	srv := feedtest.NewServer(t)
	url := srv.Handle("/atom", feedtest.Atom(t, "Atom blog",
		feedtest.Entry{Title: "Supply chain attack", Link: "https://b.example/1", Description: "npm again", Published: published},
	))

	items, err := newTestFetcher(5*time.Second).Fetch(t.Context(), models.SourceDescriptor{Name: "B", Endpoint: url})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Supply chain attack" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if !items[0].Published.Equal(published) {
		t.Errorf("published = %v, want %v", items[0].Published, published)
	}
}

func TestFetch_MissingDateUsesFetchTime(t *testing.T) {
	fetchedAt := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	srv := feedtest.NewServer(t)
	url := srv.Handle("/rss", feedtest.RSS(t, "Undated", feedtest.Entry{Title: "No date", Link: "https://c.example/1"}))

	f := newTestFetcher(5 * time.Second)
	f.now = func() time.Time { return fetchedAt }
	items, err := f.Fetch(t.Context(), models.SourceDescriptor{Name: "C", Endpoint: url})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if !items[0].Published.Equal(fetchedAt) {
		t.Errorf("published = %v, want fetch time %v", items[0].Published, fetchedAt)
	}
	if items[0].Author != "C" {
		t.Errorf("author = %q, want source name fallback", items[0].Author)
	}
}

func TestFetch_Failures(t *testing.T) {
	srv := feedtest.NewServer(t)
	tests := []struct {
		name    string
		url     string
		timeout bool
	}{
		{"http status", srv.Fail("/down", http.StatusServiceUnavailable), false},
		{"malformed", srv.Handle("/garbage", "this is not a feed"), false},
		{"timeout", srv.Slow("/slow", feedtest.RSS(t, "slow"), 2*time.Second), true},
		{"unreachable", "http://127.0.0.1:1/feed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestFetcher(100*time.Millisecond).Fetch(t.Context(), models.SourceDescriptor{Name: "X", Endpoint: tt.url})
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FetchError, got %v", err)
			}
			if fe.Source != "X" {
				t.Errorf("source = %q, want X", fe.Source)
			}
			if tt.timeout && !fe.Timeout() {
				t.Errorf("expected timeout, got %v", fe.Err)
			}
		})
	}
}

type stubParser struct {
	items []RawItem
	err   error
}

func (p stubParser) Parse(context.Context, []byte) ([]RawItem, error) { return p.items, p.err }

func TestFetch_InjectedParser(t *testing.T) {
	srv := feedtest.NewServer(t)
	url := srv.Handle("/custom", "anything")

	f := NewFetcher(httpclient.New(time.Second, ""), stubParser{items: []RawItem{{Title: "From stub", Link: "https://s.example/1"}}})
	items, err := f.Fetch(t.Context(), models.SourceDescriptor{Name: "S", Endpoint: url})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Title != "From stub" {
		t.Fatalf("unexpected items: %+v", items)
	}

	f = NewFetcher(httpclient.New(time.Second, ""), stubParser{err: errors.New("boom")})
	if _, err := f.Fetch(t.Context(), models.SourceDescriptor{Name: "S", Endpoint: url}); err == nil || !strings.Contains(err.Error(), "malformed feed") {
		t.Fatalf("expected malformed feed error, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	fetchedAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	updated := fetchedAt.Add(-3 * time.Hour)

	it := Normalize(RawItem{
		Title:   "  Spaced   &amp; escaped ",
		Link:    " https://n.example/1 ",
		Content: "<div>" + strings.Repeat("x", 400) + "</div>",
		Updated: &updated,
	}, "N", fetchedAt)

	if it.Title != "Spaced & escaped" {
		t.Errorf("title = %q", it.Title)
	}
	if it.Link != "https://n.example/1" {
		t.Errorf("link = %q", it.Link)
	}
	if !it.Published.Equal(updated) {
		t.Errorf("published = %v, want updated time %v", it.Published, updated)
	}
	if got := len([]rune(it.Description)); got != maxDescriptionRunes+3 {
		t.Errorf("description length = %d, want %d", got, maxDescriptionRunes+3)
	}
	if !strings.HasSuffix(it.Description, "...") {
		t.Errorf("expected truncated description to end with ...")
	}

	if got := Normalize(RawItem{}, "N", fetchedAt).Title; got != "Untitled" {
		t.Errorf("empty title = %q, want Untitled", got)
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "plain   text", "plain text"},
		{"tags", "<p>hello <b>world</b></p>", "hello world"},
		{"entities", "AT&amp;T &lt;3", "AT&T <3"},
		{"script dropped", "<p>keep</p><script>alert(1)</script>", "keep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := htmlToText(tt.input); got != tt.want {
				t.Errorf("htmlToText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
