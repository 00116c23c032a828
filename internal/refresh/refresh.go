package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"secnews/internal/aggregate"
	"secnews/internal/feed"
	"secnews/internal/models"
)

// ErrAllSourcesFailed is recorded when a refresh attempt fetched nothing.
var ErrAllSourcesFailed = errors.New("all sources failed")

const flightKey = "refresh"

// Aggregator fetches and merges every enabled source.
type Aggregator interface {
	FetchAll(ctx context.Context, srcs []models.SourceDescriptor) aggregate.Result
}

// Store is the subset of newsstore.Store the coordinator writes through.
type Store interface {
	BulkUpsert(ctx context.Context, items []models.NewsItem) (int, error)
	Count(ctx context.Context) (int, error)
	ReadMeta(ctx context.Context) (models.CacheMeta, bool, error)
	WriteMeta(ctx context.Context, meta models.CacheMeta) error
}

type State int

const (
	Stale State = iota
	Fresh
)

func (s State) String() string {
	if s == Fresh {
		return "fresh"
	}
	return "stale"
}

// Outcome describes what EnsureFresh or Refresh did.
type Outcome struct {
	// State is the cache state observed before any refresh ran.
	State State
	// Refreshed is set when this call committed new data and meta.
	Refreshed bool
	// AllFailed is set when a refresh ran but no source answered; callers
	// serve whatever the store already holds.
	AllFailed bool
	// Shared is set when the call joined a refresh started by someone else.
	Shared    bool
	AttemptID uuid.UUID
	Sources   int
	Stored    int
	Failures  []*feed.FetchError
	Meta      models.CacheMeta
	HasMeta   bool
}

// Summary is a one-line human description of the outcome.
func (o Outcome) Summary(now time.Time) string {
	switch {
	case o.AllFailed:
		return fmt.Sprintf("refresh failed for all %d sources; serving cached data", o.Sources)
	case o.Refreshed && len(o.Failures) > 0:
		return fmt.Sprintf("refreshed %d items from %d/%d sources", o.Stored, o.Sources-len(o.Failures), o.Sources)
	case o.Refreshed:
		return fmt.Sprintf("refreshed %d items from %d sources", o.Stored, o.Sources)
	case o.HasMeta:
		return fmt.Sprintf("served from cache, last refresh %s ago", o.Meta.Age(now).Round(time.Second))
	default:
		return "served from cache"
	}
}

// Status is the coordinator's record of the most recent attempt.
type Status struct {
	AttemptID         uuid.UUID
	LastAttempt       time.Time
	LastSuccess       time.Time
	LastAttemptFailed bool
	LastError         string
	FailedSources     []string
}

type Options struct {
	TTL time.Duration
	// Timeout bounds one refresh independently of the callers waiting on it.
	Timeout time.Duration
	Logger  *log.Logger
	Now     func() time.Time
}

// Coordinator decides between serving the cache and refetching, and makes
// sure at most one refresh runs at a time.
type Coordinator struct {
	sources []models.SourceDescriptor
	agg     Aggregator
	store   Store
	ttl     time.Duration
	timeout time.Duration
	logger  *log.Logger
	now     func() time.Time

	group  singleflight.Group
	mu     sync.Mutex
	status Status
}

func New(srcs []models.SourceDescriptor, agg Aggregator, store Store, opts Options) *Coordinator {
	c := &Coordinator{
		sources: srcs,
		agg:     agg,
		store:   store,
		ttl:     opts.TTL,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = 10 * time.Minute
	}
	if c.timeout <= 0 {
		c.timeout = time.Minute
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

func (c *Coordinator) TTL() time.Duration { return c.ttl }

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// EnsureFresh returns immediately when the cache is younger than the TTL and
// otherwise runs, or joins, a refresh.
func (c *Coordinator) EnsureFresh(ctx context.Context) (Outcome, error) {
	meta, ok, err := c.store.ReadMeta(ctx)
	if err != nil {
		return Outcome{State: Stale}, err
	}
	if ok && meta.Age(c.now()) < c.ttl {
		return Outcome{State: Fresh, Meta: meta, HasMeta: true}, nil
	}
	out, err := c.join(ctx, false)
	if !out.HasMeta && ok {
		out.Meta, out.HasMeta = meta, true
	}
	return out, err
}

// Refresh runs a refresh regardless of cache age.
func (c *Coordinator) Refresh(ctx context.Context) (Outcome, error) {
	out, err := c.join(ctx, true)
	if err == nil && out.Shared && out.State == Fresh {
		// Joined a flight that found the cache fresh and fetched nothing.
		return c.join(ctx, true)
	}
	return out, err
}

// join waits for the shared refresh. A caller that gives up gets ctx.Err();
// the refresh itself keeps running for everyone else.
func (c *Coordinator) join(ctx context.Context, force bool) (Outcome, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.refresh(detached, force)
	})
	select {
	case r := <-ch:
		out, _ := r.Val.(Outcome)
		out.Shared = r.Shared
		return out, r.Err
	case <-ctx.Done():
		return Outcome{State: Stale}, ctx.Err()
	}
}

// refresh runs inside the flight. Unless forced it re-checks meta first, since
// a previous flight may have committed between the caller's check and now.
func (c *Coordinator) refresh(ctx context.Context, force bool) (Outcome, error) {
	if !force {
		meta, ok, err := c.store.ReadMeta(ctx)
		if err != nil {
			return Outcome{State: Stale}, err
		}
		if ok && meta.Age(c.now()) < c.ttl {
			return Outcome{State: Fresh, Meta: meta, HasMeta: true}, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	id := uuid.New()
	started := c.now()
	c.logf("refresh start: attempt=%s sources=%d", id, len(c.sources))

	res := c.agg.FetchAll(ctx, c.sources)
	out := Outcome{State: Stale, AttemptID: id, Sources: res.Attempted, Failures: res.Failures}

	if res.AllFailed() {
		out.AllFailed = true
		c.record(id, started, res.Failures, ErrAllSourcesFailed)
		return out, nil
	}

	stored, err := c.store.BulkUpsert(ctx, res.Items)
	if err != nil {
		c.record(id, started, res.Failures, err)
		return out, err
	}
	count, err := c.store.Count(ctx)
	if err != nil {
		c.record(id, started, res.Failures, err)
		return out, err
	}
	meta := models.CacheMeta{LastRefresh: c.now(), ItemCount: count, TTL: c.ttl}
	if err := c.store.WriteMeta(ctx, meta); err != nil {
		c.record(id, started, res.Failures, err)
		return out, err
	}

	out.Refreshed = true
	out.Stored = stored
	out.Meta, out.HasMeta = meta, true
	c.record(id, started, res.Failures, nil)
	return out, nil
}

func (c *Coordinator) record(id uuid.UUID, started time.Time, failures []*feed.FetchError, err error) {
	failed := make([]string, 0, len(failures))
	for _, f := range failures {
		failed = append(failed, f.Source)
	}

	c.mu.Lock()
	c.status.AttemptID = id
	c.status.LastAttempt = started
	c.status.FailedSources = failed
	c.status.LastAttemptFailed = err != nil
	if err != nil {
		c.status.LastError = err.Error()
	} else {
		c.status.LastError = ""
		c.status.LastSuccess = c.now()
	}
	c.mu.Unlock()

	took := c.now().Sub(started).Round(time.Millisecond)
	if err != nil {
		c.logf("refresh failed: attempt=%s failed_sources=%d took=%s err=%v", id, len(failed), took, err)
		return
	}
	c.logf("refresh done: attempt=%s failed_sources=%d took=%s", id, len(failed), took)
}

// Status returns a copy of the last attempt's record.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.FailedSources = append([]string(nil), c.status.FailedSources...)
	return s
}

// Run refreshes every interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.logf("background refresh error: %v", err)
			}
		}
	}
}
