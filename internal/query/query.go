package query

import (
	"context"
	"sort"
	"time"

	"secnews/internal/models"
)

// Store is the read side of newsstore.Store.
type Store interface {
	Query(ctx context.Context, f models.QueryFilter, now time.Time) ([]models.NewsItem, error)
}

// Evaluator answers filtered reads against the cache. It never triggers a
// refresh.
type Evaluator struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Evaluator {
	return &Evaluator{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Evaluate returns the items matching f. The window is measured from the
// moment of the call. Output order is total: published per f.Order, then
// fingerprint ascending.
func (e *Evaluator) Evaluate(ctx context.Context, f models.QueryFilter) ([]models.NewsItem, error) {
	items, err := e.store.Query(ctx, f, e.now())
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, it := range items {
		if _, dup := seen[it.Fingerprint]; dup {
			continue
		}
		seen[it.Fingerprint] = struct{}{}
		out = append(out, it)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Published.Equal(b.Published) {
			if f.Order == models.OldestFirst {
				return a.Published.Before(b.Published)
			}
			return a.Published.After(b.Published)
		}
		return a.Fingerprint < b.Fingerprint
	})
	return out, nil
}
