package aggregate

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"secnews/internal/feed"
	"secnews/internal/models"
)

// SourceFetcher fetches a single source. *feed.Fetcher satisfies it.
type SourceFetcher interface {
	Fetch(ctx context.Context, src models.SourceDescriptor) ([]models.NewsItem, error)
}

// Result is the merged outcome of one aggregation round.
type Result struct {
	Items      []models.NewsItem
	Failures   []*feed.FetchError
	Attempted  int
	Duplicates int
}

// AllFailed reports whether no source produced a result.
func (r Result) AllFailed() bool {
	return r.Attempted == 0 || len(r.Failures) == r.Attempted
}

// Succeeded returns how many sources were fetched without error.
func (r Result) Succeeded() int {
	return r.Attempted - len(r.Failures)
}

// Aggregator fans a SourceFetcher out over every enabled source.
type Aggregator struct {
	fetcher SourceFetcher
	logger  *log.Logger
}

func New(fetcher SourceFetcher, logger *log.Logger) *Aggregator {
	return &Aggregator{fetcher: fetcher, logger: logger}
}

func (a *Aggregator) debugf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

type slot struct {
	items []models.NewsItem
	err   error
}

// FetchAll fetches every enabled source concurrently and merges the results.
// Each goroutine writes only its own slot, so the merge order follows the
// source order regardless of completion order. On fingerprint collision the
// first-seen item wins.
func (a *Aggregator) FetchAll(ctx context.Context, srcs []models.SourceDescriptor) Result {
	enabled := make([]models.SourceDescriptor, 0, len(srcs))
	for _, s := range srcs {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	start := time.Now()
	slots := make([]slot, len(enabled))
	var wg sync.WaitGroup
	for i, src := range enabled {
		wg.Add(1)
		go func(i int, src models.SourceDescriptor) {
			defer wg.Done()
			items, err := a.fetcher.Fetch(ctx, src)
			slots[i] = slot{items: items, err: err}
		}(i, src)
	}
	wg.Wait()

	res := Result{Attempted: len(enabled)}
	seen := make(map[string]struct{})
	for i, s := range slots {
		name := enabled[i].Name
		if s.err != nil {
			var fe *feed.FetchError
			if !errors.As(s.err, &fe) {
				fe = &feed.FetchError{Source: name, Err: s.err}
			}
			res.Failures = append(res.Failures, fe)
			a.debugf("source fetch failed: source=%s err=%v", name, s.err)
			continue
		}
		kept := 0
		for _, it := range s.items {
			if _, dup := seen[it.Fingerprint]; dup {
				res.Duplicates++
				continue
			}
			seen[it.Fingerprint] = struct{}{}
			res.Items = append(res.Items, it)
			kept++
		}
		a.debugf("source fetched: source=%s items=%d kept=%d", name, len(s.items), kept)
	}
	a.debugf("aggregate done: sources=%d failed=%d items=%d duplicates=%d took=%s",
		res.Attempted, len(res.Failures), len(res.Items), res.Duplicates, time.Since(start).Round(time.Millisecond))
	return res
}
