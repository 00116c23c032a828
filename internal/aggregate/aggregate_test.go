package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"secnews/internal/feed"
	"secnews/internal/feedtest"
	"secnews/internal/httpclient"
	"secnews/internal/models"
)

type fakeFetcher struct {
	items map[string][]models.NewsItem
	errs  map[string]error
	delay map[string]time.Duration
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, src models.SourceDescriptor) ([]models.NewsItem, error) {
	f.calls.Add(1)
	if d := f.delay[src.Name]; d > 0 {
		time.Sleep(d)
	}
	if err := f.errs[src.Name]; err != nil {
		return nil, err
	}
	return f.items[src.Name], nil
}

func item(source, title string) models.NewsItem {
	link := "https://example.test/" + title
	return models.NewsItem{Title: title, Link: link, Source: source, Fingerprint: models.Fingerprint(title, link)}
}

func src(name string, enabled bool) models.SourceDescriptor {
	return models.SourceDescriptor{Name: name, Endpoint: "https://" + name + ".example/feed", Enabled: enabled}
}

func TestFetchAll_DedupFirstSeenWins(t *testing.T) {
	shared := item("A", "shared")
	sharedFromB := shared
	sharedFromB.Source = "B"
	sharedFromB.Description = "different metadata"

	f := &fakeFetcher{
		items: map[string][]models.NewsItem{
			"A": {item("A", "a1"), shared},
			"B": {sharedFromB, item("B", "b1")},
		},
		// B finishes first; the merge must still prefer A's copy.
		delay: map[string]time.Duration{"A": 20 * time.Millisecond},
	}

	res := New(f, nil).FetchAll(t.Context(), []models.SourceDescriptor{src("A", true), src("B", true)})

	if len(res.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(res.Items))
	}
	if res.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", res.Duplicates)
	}
	var got []string
	for _, it := range res.Items {
		got = append(got, it.Source+":"+it.Title)
	}
	want := []string{"A:a1", "A:shared", "B:b1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("merge order = %v, want %v", got, want)
	}
}

func TestFetchAll_PartialFailure(t *testing.T) {
	f := &fakeFetcher{
		items: map[string][]models.NewsItem{
			"A": {item("A", "a1")},
			"C": {item("C", "c1")},
			"E": {item("E", "e1")},
		},
		errs: map[string]error{
			"B": &feed.FetchError{Source: "B", Err: errors.New("timeout")},
			"D": errors.New("plain error"),
		},
	}
	srcs := []models.SourceDescriptor{src("A", true), src("B", true), src("C", true), src("D", true), src("E", true)}

	res := New(f, nil).FetchAll(t.Context(), srcs)

	if res.Attempted != 5 || res.Succeeded() != 3 {
		t.Fatalf("attempted=%d succeeded=%d, want 5/3", res.Attempted, res.Succeeded())
	}
	if res.AllFailed() {
		t.Fatal("partial failure reported as total failure")
	}
	if len(res.Items) != 3 {
		t.Errorf("expected 3 items, got %d", len(res.Items))
	}
	if len(res.Failures) != 2 || res.Failures[0].Source != "B" || res.Failures[1].Source != "D" {
		t.Errorf("unexpected failures: %v", res.Failures)
	}
}

func TestFetchAll_SkipsDisabled(t *testing.T) {
	f := &fakeFetcher{items: map[string][]models.NewsItem{"A": {item("A", "a1")}, "B": {item("B", "b1")}}}

	res := New(f, nil).FetchAll(t.Context(), []models.SourceDescriptor{src("A", true), src("B", false)})

	if f.calls.Load() != 1 {
		t.Errorf("fetcher called %d times, want 1", f.calls.Load())
	}
	if res.Attempted != 1 || len(res.Items) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestFetchAll_AllFailed(t *testing.T) {
	f := &fakeFetcher{errs: map[string]error{"A": errors.New("x"), "B": errors.New("y")}}
	res := New(f, nil).FetchAll(t.Context(), []models.SourceDescriptor{src("A", true), src("B", true)})
	if !res.AllFailed() {
		t.Fatal("expected AllFailed")
	}
	if !(Result{}).AllFailed() {
		t.Fatal("expected empty round to count as failed")
	}
}

func TestFetchAll_BoundedBySlowestSource(t *testing.T) {
	srv := feedtest.NewServer(t)
	body := feedtest.RSS(t, "slow")
	srcs := make([]models.SourceDescriptor, 0, 5)
	for i := range 5 {
		url := srv.Slow(fmt.Sprintf("/slow%d", i), body, 5*time.Second)
		srcs = append(srcs, models.SourceDescriptor{Name: fmt.Sprintf("S%d", i), Endpoint: url, Enabled: true})
	}

	fetcher := feed.NewFetcher(httpclient.New(200*time.Millisecond, "test"), nil)
	start := time.Now()
	res := New(fetcher, nil).FetchAll(t.Context(), srcs)
	elapsed := time.Since(start)

	if !res.AllFailed() {
		t.Fatalf("expected every source to time out, got %+v", res)
	}
	// Sequential timeouts would take 1s; concurrent ones take about 200ms.
	if elapsed > 900*time.Millisecond {
		t.Errorf("fan-out took %v, expected it to be bounded by one timeout", elapsed)
	}
	for _, fe := range res.Failures {
		if !fe.Timeout() {
			t.Errorf("source %s: expected timeout, got %v", fe.Source, fe.Err)
		}
	}
}
