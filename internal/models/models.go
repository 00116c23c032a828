package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// NewsItem is a single normalized feed entry.
type NewsItem struct {
	Fingerprint string    `json:"fingerprint"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
	Published   time.Time `json:"published"`
	Source      string    `json:"source"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// SourceDescriptor names one configured feed.
type SourceDescriptor struct {
	Name     string `json:"name" yaml:"name"`
	Endpoint string `json:"feed_url" yaml:"url"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
}

// CacheMeta records the last successful refresh.
type CacheMeta struct {
	LastRefresh time.Time     `json:"last_refresh"`
	ItemCount   int           `json:"item_count"`
	TTL         time.Duration `json:"ttl"`
}

// Age returns how long ago the refresh happened, relative to now.
func (m CacheMeta) Age(now time.Time) time.Duration {
	return now.Sub(m.LastRefresh)
}

type SortOrder int

const (
	NewestFirst SortOrder = iota
	OldestFirst
)

func (o SortOrder) String() string {
	if o == OldestFirst {
		return "oldest"
	}
	return "newest"
}

// QueryFilter selects items from the cache. Empty Sources means all sources,
// empty Search means no text filtering.
type QueryFilter struct {
	Window  time.Duration
	Sources []string
	Search  string
	Order   SortOrder
	Limit   int
}

// Fingerprint derives the dedup key for an item from its title and link.
func Fingerprint(title, link string) string {
	h := sha256.New()
	h.Write([]byte(normalizeText(title)))
	h.Write([]byte("\n"))
	h.Write([]byte(normalizeLink(link)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// normalizeLink drops the fragment and a trailing slash. Only scheme and host
// are case-insensitive; paths that differ in case are different items.
func normalizeLink(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		s = u.String()
	}
	return strings.TrimSuffix(s, "/")
}

// Stats is a snapshot of cache health.
type Stats struct {
	DocumentCount     int
	LastRefresh       *time.Time
	CacheTTL          time.Duration
	LastRefreshFailed bool
	LastItemCount     int
	StoreHealthy      bool
	FailedSources     []string
	LastError         string
}
