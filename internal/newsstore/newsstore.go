package newsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"secnews/internal/docstore"
	"secnews/internal/models"
)

const (
	NewsIndex = "news"
	MetaIndex = "cache_meta"

	metaID = "refresh"

	// DefaultLimit matches the page size of the original store query.
	DefaultLimit = 100
	MaxLimit     = 500

	// timeLayout is fixed-width so lexical order equals chronological order.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// StoreError wraps a failure of the underlying document store. It is fatal to
// the operation that produced it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Store is the domain view over a docstore.Backend: news items keyed by
// fingerprint and one CacheMeta record.
type Store struct {
	backend docstore.Backend
}

func New(backend docstore.Backend) *Store {
	return &Store{backend: backend}
}

// Init creates the indexes. It is safe to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	if err := s.backend.EnsureIndex(ctx, NewsIndex, "published", "source"); err != nil {
		return storeErr("init", err)
	}
	if err := s.backend.EnsureIndex(ctx, MetaIndex); err != nil {
		return storeErr("init", err)
	}
	return nil
}

type newsDoc struct {
	Fingerprint string `json:"fingerprint"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Published   string `json:"published"`
	Source      string `json:"source"`
	FetchedAt   string `json:"fetched_at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func toDoc(it models.NewsItem) (docstore.Document, error) {
	if it.Fingerprint == "" {
		return docstore.Document{}, fmt.Errorf("item %q has no fingerprint", it.Link)
	}
	b, err := json.Marshal(newsDoc{
		Fingerprint: it.Fingerprint,
		Title:       it.Title,
		Link:        it.Link,
		Description: it.Description,
		Author:      it.Author,
		Published:   formatTime(it.Published),
		Source:      it.Source,
		FetchedAt:   formatTime(it.FetchedAt),
	})
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{ID: it.Fingerprint, Body: b}, nil
}

func fromDoc(d docstore.Document) (models.NewsItem, error) {
	var nd newsDoc
	if err := json.Unmarshal(d.Body, &nd); err != nil {
		return models.NewsItem{}, fmt.Errorf("decode %s: %w", d.ID, err)
	}
	published, err := time.Parse(timeLayout, nd.Published)
	if err != nil {
		return models.NewsItem{}, fmt.Errorf("decode %s published: %w", d.ID, err)
	}
	fetchedAt, _ := time.Parse(timeLayout, nd.FetchedAt)
	return models.NewsItem{
		Fingerprint: d.ID,
		Title:       nd.Title,
		Link:        nd.Link,
		Description: nd.Description,
		Author:      nd.Author,
		Published:   published,
		Source:      nd.Source,
		FetchedAt:   fetchedAt,
	}, nil
}

// BulkUpsert writes every item keyed by fingerprint. The batch is applied
// all-or-nothing: on error nothing was written.
func (s *Store) BulkUpsert(ctx context.Context, items []models.NewsItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	docs := make([]docstore.Document, 0, len(items))
	for _, it := range items {
		d, err := toDoc(it)
		if err != nil {
			return 0, storeErr("bulk upsert", err)
		}
		docs = append(docs, d)
	}
	if err := s.backend.Upsert(ctx, NewsIndex, docs); err != nil {
		return 0, storeErr("bulk upsert", err)
	}
	return len(docs), nil
}

// Query returns items matching every predicate of f, evaluated against now.
func (s *Store) Query(ctx context.Context, f models.QueryFilter, now time.Time) ([]models.NewsItem, error) {
	q := docstore.Query{
		Sort: []docstore.Sort{{Field: "published", Desc: f.Order == models.NewestFirst}},
		Size: f.Limit,
	}
	if q.Size <= 0 {
		q.Size = DefaultLimit
	}
	if q.Size > MaxLimit {
		q.Size = MaxLimit
	}
	if f.Window > 0 {
		q.Filters = append(q.Filters, docstore.Range{Field: "published", Gte: formatTime(now.Add(-f.Window))})
	}
	if len(f.Sources) > 0 {
		q.Filters = append(q.Filters, docstore.Terms{Field: "source", Values: f.Sources})
	}
	if f.Search != "" {
		q.Filters = append(q.Filters, docstore.Match{Fields: []string{"title", "description"}, Text: f.Search})
	}

	docs, err := s.backend.Search(ctx, NewsIndex, q)
	if err != nil {
		return nil, storeErr("query", err)
	}
	items := make([]models.NewsItem, 0, len(docs))
	for _, d := range docs {
		it, err := fromDoc(d)
		if err != nil {
			return nil, storeErr("query", err)
		}
		items = append(items, it)
	}
	return items, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.backend.Count(ctx, NewsIndex)
	return n, storeErr("count", err)
}

// HealthCheck pings the backend and runs a read against the news index. It
// never writes.
func (s *Store) HealthCheck(ctx context.Context) bool {
	if err := s.backend.Ping(ctx); err != nil {
		return false
	}
	_, err := s.backend.Count(ctx, NewsIndex)
	return err == nil
}

type metaDoc struct {
	LastRefresh string `json:"last_refresh"`
	ItemCount   int    `json:"item_count"`
	TTLSeconds  int64  `json:"ttl_seconds"`
}

// ReadMeta returns the stored CacheMeta; ok is false before the first
// successful refresh.
func (s *Store) ReadMeta(ctx context.Context) (meta models.CacheMeta, ok bool, err error) {
	d, found, err := s.backend.Get(ctx, MetaIndex, metaID)
	if err != nil {
		return models.CacheMeta{}, false, storeErr("read meta", err)
	}
	if !found {
		return models.CacheMeta{}, false, nil
	}
	var md metaDoc
	if err := json.Unmarshal(d.Body, &md); err != nil {
		return models.CacheMeta{}, false, storeErr("read meta", err)
	}
	last, err := time.Parse(timeLayout, md.LastRefresh)
	if err != nil {
		return models.CacheMeta{}, false, storeErr("read meta", err)
	}
	return models.CacheMeta{
		LastRefresh: last,
		ItemCount:   md.ItemCount,
		TTL:         time.Duration(md.TTLSeconds) * time.Second,
	}, true, nil
}

// WriteMeta replaces the CacheMeta record in a single document write, so
// readers see either the old record or the new one.
func (s *Store) WriteMeta(ctx context.Context, meta models.CacheMeta) error {
	if meta.LastRefresh.IsZero() {
		return storeErr("write meta", errors.New("last refresh time is required"))
	}
	b, err := json.Marshal(metaDoc{
		LastRefresh: formatTime(meta.LastRefresh),
		ItemCount:   meta.ItemCount,
		TTLSeconds:  int64(meta.TTL / time.Second),
	})
	if err != nil {
		return storeErr("write meta", err)
	}
	return storeErr("write meta", s.backend.Upsert(ctx, MetaIndex, []docstore.Document{{ID: metaID, Body: b}}))
}
