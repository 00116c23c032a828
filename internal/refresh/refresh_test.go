package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"secnews/internal/aggregate"
	"secnews/internal/docstore"
	"secnews/internal/feed"
	"secnews/internal/models"
	"secnews/internal/newsstore"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeAggregator struct {
	result  aggregate.Result
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (f *fakeAggregator) FetchAll(ctx context.Context, srcs []models.SourceDescriptor) aggregate.Result {
	if f.calls.Add(1) == 1 && f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.result
}

func item(source, title string) models.NewsItem {
	link := "https://" + source + ".example/" + title
	return models.NewsItem{Title: title, Link: link, Source: source, Published: t0, Fingerprint: models.Fingerprint(title, link)}
}

var testSources = []models.SourceDescriptor{
	{Name: "A", Endpoint: "https://a.example/feed", Enabled: true},
	{Name: "B", Endpoint: "https://b.example/feed", Enabled: true},
}

func okResult() aggregate.Result {
	return aggregate.Result{Items: []models.NewsItem{item("A", "one"), item("B", "two")}, Attempted: 2}
}

func newStore(t *testing.T) *newsstore.Store {
	t.Helper()
	s := newsstore.New(docstore.NewMemory())
	if err := s.Init(t.Context()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func newCoordinator(agg Aggregator, store Store, clk *clock) *Coordinator {
	return New(testSources, agg, store, Options{TTL: 10 * time.Minute, Timeout: 5 * time.Second, Now: clk.Now})
}

func TestEnsureFresh_FirstCallRefreshes(t *testing.T) {
	clk := &clock{now: t0}
	agg := &fakeAggregator{result: okResult()}
	store := newStore(t)
	c := newCoordinator(agg, store, clk)

	out, err := c.EnsureFresh(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != Stale || !out.Refreshed || out.Stored != 2 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	meta, ok, err := store.ReadMeta(t.Context())
	if err != nil || !ok {
		t.Fatalf("read meta: ok=%v err=%v", ok, err)
	}
	if !meta.LastRefresh.Equal(t0) || meta.ItemCount != 2 || meta.TTL != 10*time.Minute {
		t.Errorf("meta = %+v", meta)
	}
	if st := c.Status(); st.LastAttemptFailed || st.AttemptID != out.AttemptID {
		t.Errorf("status = %+v", st)
	}
}

func TestEnsureFresh_TTLBoundary(t *testing.T) {
	clk := &clock{now: t0}
	agg := &fakeAggregator{result: okResult()}
	c := newCoordinator(agg, newStore(t), clk)

	if _, err := c.EnsureFresh(t.Context()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	clk.Set(t0.Add(10*time.Minute - time.Nanosecond))
	out, err := c.EnsureFresh(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != Fresh || out.Refreshed {
		t.Errorf("just under TTL: expected fresh, got %+v", out)
	}
	if got := agg.calls.Load(); got != 1 {
		t.Errorf("fresh cache triggered a fetch: calls=%d", got)
	}

	clk.Set(t0.Add(10 * time.Minute))
	out, err = c.EnsureFresh(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != Stale || !out.Refreshed {
		t.Errorf("at TTL: expected refresh, got %+v", out)
	}
	if got := agg.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

// slowMetaStore widens the gap between a caller's TTL check and its join.
type slowMetaStore struct {
	*newsstore.Store
	delay time.Duration
}

func (s slowMetaStore) ReadMeta(ctx context.Context) (models.CacheMeta, bool, error) {
	time.Sleep(s.delay)
	return s.Store.ReadMeta(ctx)
}

func TestEnsureFresh_SingleFlight(t *testing.T) {
	clk := &clock{now: t0}
	agg := &fakeAggregator{result: okResult()}
	c := newCoordinator(agg, slowMetaStore{newStore(t), 5 * time.Millisecond}, clk)

	// Callers arrive staggered, so some read STALE meta while the first flight
	// is running and only reach the flight after it has committed.
	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.EnsureFresh(context.Background()); err != nil {
				errs <- err
			}
		}()
		time.Sleep(time.Millisecond)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("caller error: %v", err)
	}
	if got := agg.calls.Load(); got != 1 {
		t.Errorf("aggregations = %d, want 1", got)
	}
}

func TestEnsureFresh_RechecksInsideFlight(t *testing.T) {
	clk := &clock{now: t0}
	store := newStore(t)
	agg := &fakeAggregator{result: okResult()}
	c := newCoordinator(agg, store, clk)

	// Meta committed after the caller's own check: the flight must not fetch.
	if err := store.WriteMeta(t.Context(), models.CacheMeta{LastRefresh: t0, ItemCount: 2, TTL: 10 * time.Minute}); err != nil {
		t.Fatalf("seed meta: %v", err)
	}
	out, err := c.join(t.Context(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != Fresh || out.Refreshed || !out.HasMeta {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if got := agg.calls.Load(); got != 0 {
		t.Errorf("aggregations = %d, want 0", got)
	}

	if out, err := c.join(t.Context(), true); err != nil || !out.Refreshed {
		t.Errorf("forced flight: out=%+v err=%v", out, err)
	}
	if got := agg.calls.Load(); got != 1 {
		t.Errorf("aggregations = %d, want 1", got)
	}
}

func TestEnsureFresh_AllSourcesFailedLeavesMetaUntouched(t *testing.T) {
	clk := &clock{now: t0}
	store := newStore(t)
	prev := models.CacheMeta{LastRefresh: t0.Add(-time.Hour), ItemCount: 7, TTL: 10 * time.Minute}
	if err := store.WriteMeta(t.Context(), prev); err != nil {
		t.Fatalf("seed meta: %v", err)
	}
	agg := &fakeAggregator{result: aggregate.Result{
		Attempted: 2,
		Failures: []*feed.FetchError{
			{Source: "A", Err: errors.New("timeout")},
			{Source: "B", Err: errors.New("503")},
		},
	}}
	c := newCoordinator(agg, store, clk)

	out, err := c.EnsureFresh(t.Context())
	if err != nil {
		t.Fatalf("all-failed refresh must not be an error, got %v", err)
	}
	if !out.AllFailed || out.Refreshed || out.State != Stale {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if !out.HasMeta || !out.Meta.LastRefresh.Equal(prev.LastRefresh) {
		t.Errorf("outcome should carry the previous meta, got %+v", out.Meta)
	}

	got, _, _ := store.ReadMeta(t.Context())
	if !got.LastRefresh.Equal(prev.LastRefresh) || got.ItemCount != prev.ItemCount {
		t.Errorf("meta changed: %+v", got)
	}
	st := c.Status()
	if !st.LastAttemptFailed || st.LastError != ErrAllSourcesFailed.Error() || len(st.FailedSources) != 2 {
		t.Errorf("status = %+v", st)
	}

	// Still stale, so the next call tries again.
	if _, err := c.EnsureFresh(t.Context()); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got := agg.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestEnsureFresh_PartialFailureIsSuccess(t *testing.T) {
	clk := &clock{now: t0}
	store := newStore(t)
	agg := &fakeAggregator{result: aggregate.Result{
		Items:     []models.NewsItem{item("A", "one")},
		Attempted: 2,
		Failures:  []*feed.FetchError{{Source: "B", Err: errors.New("dns")}},
	}}
	c := newCoordinator(agg, store, clk)

	out, err := c.EnsureFresh(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Refreshed || len(out.Failures) != 1 {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if meta, ok, _ := store.ReadMeta(t.Context()); !ok || meta.ItemCount != 1 {
		t.Errorf("meta = %+v ok=%v", meta, ok)
	}
	if st := c.Status(); st.LastAttemptFailed || len(st.FailedSources) != 1 || st.FailedSources[0] != "B" {
		t.Errorf("status = %+v", st)
	}
}

type brokenStore struct {
	*newsstore.Store
}

func (b brokenStore) BulkUpsert(context.Context, []models.NewsItem) (int, error) {
	return 0, &newsstore.StoreError{Op: "bulk upsert", Err: errors.New("disk full")}
}

func TestEnsureFresh_StoreFailure(t *testing.T) {
	clk := &clock{now: t0}
	inner := newStore(t)
	prev := models.CacheMeta{LastRefresh: t0.Add(-time.Hour), ItemCount: 3, TTL: 10 * time.Minute}
	if err := inner.WriteMeta(t.Context(), prev); err != nil {
		t.Fatalf("seed meta: %v", err)
	}
	c := newCoordinator(&fakeAggregator{result: okResult()}, brokenStore{inner}, clk)

	_, err := c.EnsureFresh(t.Context())
	var se *newsstore.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	got, _, _ := inner.ReadMeta(t.Context())
	if !got.LastRefresh.Equal(prev.LastRefresh) || got.ItemCount != 3 {
		t.Errorf("meta changed after store failure: %+v", got)
	}
	if st := c.Status(); !st.LastAttemptFailed {
		t.Errorf("status = %+v", st)
	}
}

func TestEnsureFresh_CallerCancelDoesNotAbortRefresh(t *testing.T) {
	clk := &clock{now: t0}
	store := newStore(t)
	agg := &fakeAggregator{result: okResult(), started: make(chan struct{}), release: make(chan struct{})}
	c := newCoordinator(agg, store, clk)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		_, err := c.EnsureFresh(ctx)
		done <- err
	}()
	<-agg.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// A second caller joins the refresh that is still running.
	type result struct {
		out Outcome
		err error
	}
	second := make(chan result, 1)
	go func() {
		out, err := c.EnsureFresh(t.Context())
		second <- result{out, err}
	}()
	time.Sleep(50 * time.Millisecond)
	close(agg.release)
	r := <-second
	out, err := r.out, r.err
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := agg.calls.Load(); got != 1 {
		t.Errorf("aggregations = %d, want 1", got)
	}
	if !out.Refreshed || !out.Shared {
		t.Errorf("expected to share the running refresh, got %+v", out)
	}
	if _, ok, _ := store.ReadMeta(t.Context()); !ok {
		t.Error("refresh did not commit meta")
	}
}

func TestRefresh_IgnoresTTL(t *testing.T) {
	clk := &clock{now: t0}
	agg := &fakeAggregator{result: okResult()}
	c := newCoordinator(agg, newStore(t), clk)

	for range 2 {
		if _, err := c.Refresh(t.Context()); err != nil {
			t.Fatalf("refresh: %v", err)
		}
	}
	if got := agg.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestOutcomeSummary(t *testing.T) {
	tests := []struct {
		name string
		out  Outcome
		want string
	}{
		{"all failed", Outcome{AllFailed: true, Sources: 5}, "refresh failed for all 5 sources; serving cached data"},
		{"partial", Outcome{Refreshed: true, Stored: 10, Sources: 5, Failures: make([]*feed.FetchError, 2)}, "refreshed 10 items from 3/5 sources"},
		{"full", Outcome{Refreshed: true, Stored: 10, Sources: 5}, "refreshed 10 items from 5 sources"},
		{"cached", Outcome{State: Fresh, HasMeta: true, Meta: models.CacheMeta{LastRefresh: t0.Add(-90 * time.Second)}}, "served from cache, last refresh 1m30s ago"},
		{"no meta", Outcome{}, "served from cache"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.out.Summary(t0); got != tt.want {
				t.Errorf("Summary = %q, want %q", got, tt.want)
			}
		})
	}
}
