// Package feedtest renders RSS/Atom fixtures and serves them from an
// httptest server. It is shared by tests across packages.
package feedtest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/feeds"
)

type Entry struct {
	Title       string
	Link        string
	Description string
	Author      string
	Published   time.Time
}

func build(title string, entries []Entry) *feeds.Feed {
	f := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: "https://example.test/"},
		Description: "Recent posts on " + title,
		Created:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, e := range entries {
		it := &feeds.Item{
			Title:       e.Title,
			Link:        &feeds.Link{Href: e.Link},
			Description: e.Description,
			Id:          e.Link,
			Created:     e.Published,
		}
		if e.Author != "" {
			it.Author = &feeds.Author{Name: e.Author}
		}
		f.Items = append(f.Items, it)
	}
	return f
}

// RSS renders entries as an RSS 2.0 document.
func RSS(t testing.TB, title string, entries ...Entry) string {
	t.Helper()
	out, err := build(title, entries).ToRss()
	if err != nil {
		t.Fatalf("render rss: %v", err)
	}
	return out
}

// Atom renders entries as an Atom document.
func Atom(t testing.TB, title string, entries ...Entry) string {
	t.Helper()
	out, err := build(title, entries).ToAtom()
	if err != nil {
		t.Fatalf("render atom: %v", err)
	}
	return out
}

type route struct {
	body   string
	status int
	delay  time.Duration
}

// Server serves feeds by path and counts requests per path.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	routes map[string]route
	hits   map[string]int
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{routes: map[string]route{}, hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rt, ok := s.routes[r.URL.Path]
	s.hits[r.URL.Path]++
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if rt.delay > 0 {
		select {
		case <-time.After(rt.delay):
		case <-r.Context().Done():
			return
		}
	}
	if rt.status != 0 && rt.status != http.StatusOK {
		http.Error(w, http.StatusText(rt.status), rt.status)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(rt.body))
}

// Handle serves body at path and returns the absolute URL.
func (s *Server) Handle(path, body string) string {
	return s.set(path, route{body: body})
}

// Fail makes path answer with the given HTTP status.
func (s *Server) Fail(path string, status int) string {
	return s.set(path, route{status: status})
}

// Slow serves body at path after delay, or gives up when the client does.
func (s *Server) Slow(path, body string, delay time.Duration) string {
	return s.set(path, route{body: body, delay: delay})
}

func (s *Server) set(path string, rt route) string {
	s.mu.Lock()
	s.routes[path] = rt
	s.mu.Unlock()
	return s.URL + path
}

// Hits returns how many requests path received.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}
