package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"secnews/internal/markdown"
	"secnews/internal/models"
)

type NewsItemPayload struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Published   string `json:"published"`
	TimeAgo     string `json:"time_ago"`
	Source      string `json:"source"`
	Author      string `json:"author"`
	Fingerprint string `json:"fingerprint"`
}

type RefreshPayload struct {
	State         string   `json:"state"`
	Refreshed     bool     `json:"refreshed"`
	Note          string   `json:"note"`
	AttemptID     string   `json:"attempt_id,omitempty"`
	FailedSources []string `json:"failed_sources,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// NewsPayload counts only the items returned. LimitReached means the result
// was cut at Limit and more items may match.
type NewsPayload struct {
	ReturnedCount int               `json:"returned_count"`
	Limit         int               `json:"limit"`
	LimitReached  bool              `json:"limit_reached"`
	NewsItems     []NewsItemPayload `json:"news_items"`
	Refresh       RefreshPayload    `json:"refresh"`
}

type SourcesPayload struct {
	TotalSources int                       `json:"total_sources"`
	Sources      []models.SourceDescriptor `json:"sources"`
}

type StatsPayload struct {
	DocumentCount     int      `json:"document_count"`
	LastRefresh       *string  `json:"last_refresh"`
	CacheTTLMinutes   int      `json:"cache_ttl_minutes"`
	LastRefreshFailed bool     `json:"last_refresh_failed"`
	LastItemCount     int      `json:"last_item_count"`
	StoreHealthy      bool     `json:"store_healthy"`
	FailedSources     []string `json:"failed_sources"`
	LastError         string   `json:"last_error,omitempty"`
}

func (r NewsResult) Payload() NewsPayload {
	p := NewsPayload{
		ReturnedCount: len(r.Items),
		Limit:         r.Filter.Limit,
		LimitReached:  r.LimitReached(),
		NewsItems:     make([]NewsItemPayload, 0, len(r.Items)),
		Refresh: RefreshPayload{
			State:     r.Refresh.State.String(),
			Refreshed: r.Refresh.Refreshed,
			Note:      r.Note(),
		},
	}
	if r.Refresh.AttemptID != uuid.Nil {
		p.Refresh.AttemptID = r.Refresh.AttemptID.String()
	}
	for _, f := range r.Refresh.Failures {
		p.Refresh.FailedSources = append(p.Refresh.FailedSources, f.Source)
	}
	if r.RefreshErr != nil {
		p.Refresh.Error = r.RefreshErr.Error()
	}
	for _, it := range r.Items {
		p.NewsItems = append(p.NewsItems, NewsItemPayload{
			Title:       it.Title,
			Link:        it.Link,
			Description: it.Description,
			Published:   it.Published.UTC().Format(time.RFC3339),
			TimeAgo:     markdown.TimeAgo(it.Published, r.At),
			Source:      it.Source,
			Author:      it.Author,
			Fingerprint: it.Fingerprint,
		})
	}
	return p
}

// Text renders the result in its requested format.
func (r NewsResult) Text() (string, error) {
	if r.Format == FormatJSON {
		return marshal(r.Payload())
	}
	note := r.Note()
	if r.LimitReached() {
		note = strings.TrimSpace(note + fmt.Sprintf(" Showing the first %d items; more may match.", r.Filter.Limit))
	}
	return markdown.News(r.Items, note, r.At), nil
}

func NewSourcesPayload(srcs []models.SourceDescriptor) SourcesPayload {
	return SourcesPayload{TotalSources: len(srcs), Sources: srcs}
}

func SourcesText(srcs []models.SourceDescriptor, format Format) (string, error) {
	if format == FormatJSON {
		return marshal(NewSourcesPayload(srcs))
	}
	return markdown.Sources(srcs), nil
}

func NewStatsPayload(s models.Stats) StatsPayload {
	p := StatsPayload{
		DocumentCount:     s.DocumentCount,
		CacheTTLMinutes:   int(s.CacheTTL / time.Minute),
		LastRefreshFailed: s.LastRefreshFailed,
		LastItemCount:     s.LastItemCount,
		StoreHealthy:      s.StoreHealthy,
		FailedSources:     s.FailedSources,
		LastError:         s.LastError,
	}
	if p.FailedSources == nil {
		p.FailedSources = []string{}
	}
	if s.LastRefresh != nil {
		ts := s.LastRefresh.UTC().Format(time.RFC3339)
		p.LastRefresh = &ts
	}
	return p
}

func StatsText(s models.Stats, format Format, now time.Time) (string, error) {
	if format == FormatJSON {
		return marshal(NewStatsPayload(s))
	}
	return markdown.Stats(s, now), nil
}

func marshal(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
