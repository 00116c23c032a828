package tools

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"secnews/internal/models"
	"secnews/internal/refresh"
	"secnews/internal/sources"
)

const (
	DefaultHours = 24
	MaxHours     = 720
	MaxSearchLen = 200
	DefaultLimit = 100
	MaxLimit     = 500
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ValidationError reports malformed tool input. It is raised before any I/O.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// GetNewsParams is the get_news input. Zero values select the defaults.
type GetNewsParams struct {
	Hours          int      `json:"hours,omitempty" jsonschema:"only news published in the last N hours (1-720, default 24)"`
	Sources        []string `json:"sources,omitempty" jsonschema:"restrict to these source names; see list_sources"`
	Search         string   `json:"search,omitempty" jsonschema:"case-insensitive text to look for in title or description (max 200 chars)"`
	ResponseFormat string   `json:"response_format,omitempty" jsonschema:"markdown (default) or json"`
	Sort           string   `json:"sort,omitempty" jsonschema:"newest (default) or oldest"`
	Limit          int      `json:"limit,omitempty" jsonschema:"maximum number of items (1-500, default 100)"`
}

// FormatParams is the input of the tools that only choose an output format.
type FormatParams struct {
	ResponseFormat string `json:"response_format,omitempty" jsonschema:"markdown (default) or json"`
}

// ParseFormat accepts "markdown", "json" or empty (markdown).
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatMarkdown:
		return FormatMarkdown, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", invalid("response_format", "%q is not one of markdown, json", s)
}

// Filter validates p against the registry and converts it into a query.
func (p GetNewsParams) Filter(reg *sources.Registry) (models.QueryFilter, Format, error) {
	var f models.QueryFilter

	hours := p.Hours
	if hours == 0 {
		hours = DefaultHours
	}
	if hours < 1 || hours > MaxHours {
		return f, "", invalid("hours", "must be between 1 and %d, got %d", MaxHours, p.Hours)
	}
	f.Window = time.Duration(hours) * time.Hour

	if len(p.Sources) > reg.Len() {
		return f, "", invalid("sources", "at most %d sources may be given", reg.Len())
	}
	for _, s := range p.Sources {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(f.Sources, s) {
			f.Sources = append(f.Sources, s)
		}
	}
	if unknown := reg.Unknown(f.Sources); len(unknown) > 0 {
		return f, "", invalid("sources", "unknown source(s) %s. Available: %s",
			strings.Join(unknown, ", "), strings.Join(reg.Names(), ", "))
	}

	f.Search = strings.TrimSpace(p.Search)
	if n := utf8.RuneCountInString(f.Search); n > MaxSearchLen {
		return f, "", invalid("search", "must be at most %d characters, got %d", MaxSearchLen, n)
	}

	switch strings.ToLower(strings.TrimSpace(p.Sort)) {
	case "", "newest":
		f.Order = models.NewestFirst
	case "oldest":
		f.Order = models.OldestFirst
	default:
		return f, "", invalid("sort", "%q is not one of newest, oldest", p.Sort)
	}

	f.Limit = p.Limit
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit < 1 || f.Limit > MaxLimit {
		return f, "", invalid("limit", "must be between 1 and %d, got %d", MaxLimit, p.Limit)
	}

	format, err := ParseFormat(p.ResponseFormat)
	if err != nil {
		return f, "", err
	}
	return f, format, nil
}

// Refresher is the part of refresh.Coordinator the tools need.
type Refresher interface {
	EnsureFresh(ctx context.Context) (refresh.Outcome, error)
	Status() refresh.Status
	TTL() time.Duration
}

type Evaluator interface {
	Evaluate(ctx context.Context, f models.QueryFilter) ([]models.NewsItem, error)
}

// StoreInfo is the part of newsstore.Store used for statistics.
type StoreInfo interface {
	Count(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) bool
	ReadMeta(ctx context.Context) (models.CacheMeta, bool, error)
}

// NewsResult is the transport-neutral answer to get_news.
type NewsResult struct {
	Items   []models.NewsItem
	Filter  models.QueryFilter
	Format  Format
	Refresh refresh.Outcome
	// RefreshErr is a refresh failure that did not prevent serving the cache.
	RefreshErr error
	At         time.Time
}

func (r NewsResult) LimitReached() bool {
	return r.Filter.Limit > 0 && len(r.Items) >= r.Filter.Limit
}

// Note summarizes the refresh for the reader of the result.
func (r NewsResult) Note() string {
	if r.RefreshErr != nil {
		return fmt.Sprintf("refresh failed (%v); serving cached data", r.RefreshErr)
	}
	return r.Refresh.Summary(r.At)
}

// Service implements get_news, list_sources and get_stats independently of
// the transport.
type Service struct {
	registry  *sources.Registry
	refresher Refresher
	evaluator Evaluator
	store     StoreInfo
	logger    *log.Logger
	now       func() time.Time
}

func NewService(reg *sources.Registry, refresher Refresher, evaluator Evaluator, store StoreInfo, logger *log.Logger) *Service {
	return &Service{
		registry:  reg,
		refresher: refresher,
		evaluator: evaluator,
		store:     store,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// GetNews validates p, refreshes the cache if it is stale and queries it.
// A failed refresh is reported in the result as long as the store can still
// be read.
func (s *Service) GetNews(ctx context.Context, p GetNewsParams) (NewsResult, error) {
	filter, format, err := p.Filter(s.registry)
	if err != nil {
		return NewsResult{}, err
	}

	res := NewsResult{Filter: filter, Format: format}
	res.Refresh, res.RefreshErr = s.refresher.EnsureFresh(ctx)
	if res.RefreshErr != nil {
		if ctx.Err() != nil {
			return NewsResult{}, ctx.Err()
		}
		s.logf("get_news refresh error: err=%v", res.RefreshErr)
	}

	items, err := s.evaluator.Evaluate(ctx, filter)
	if err != nil {
		return NewsResult{}, err
	}
	res.Items = items
	res.At = s.now()
	s.logf("get_news: hours=%d sources=%d search=%q order=%s items=%d",
		int(filter.Window/time.Hour), len(filter.Sources), filter.Search, filter.Order, len(items))
	return res, nil
}

func (s *Service) ListSources() []models.SourceDescriptor {
	return s.registry.All()
}

// GetStats never fails on an unreachable store; it reports it as unhealthy.
func (s *Service) GetStats(ctx context.Context) (models.Stats, error) {
	st := s.refresher.Status()
	stats := models.Stats{
		CacheTTL:          s.refresher.TTL(),
		LastRefreshFailed: st.LastAttemptFailed,
		LastError:         st.LastError,
		FailedSources:     st.FailedSources,
		StoreHealthy:      s.store.HealthCheck(ctx),
	}
	if !stats.StoreHealthy {
		return stats, nil
	}

	n, err := s.store.Count(ctx)
	if err != nil {
		return stats, err
	}
	stats.DocumentCount = n

	meta, ok, err := s.store.ReadMeta(ctx)
	if err != nil {
		return stats, err
	}
	if ok {
		last := meta.LastRefresh
		stats.LastRefresh = &last
		stats.LastItemCount = meta.ItemCount
	}
	return stats, nil
}

// Now is the clock used for rendering relative times.
func (s *Service) Now() time.Time { return s.now() }
