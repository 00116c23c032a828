package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Memory is an in-process Backend with the same query semantics as SQLite.
// Data is lost when the process exits.
type Memory struct {
	mu      sync.RWMutex
	indexes map[string]map[string][]byte
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{indexes: make(map[string]map[string][]byte)}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (m *Memory) EnsureIndex(ctx context.Context, index string, sortable ...string) error {
	if err := checkName(index); err != nil {
		return err
	}
	for _, f := range sortable {
		if err := checkName(f); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.indexes[index] == nil {
		m.indexes[index] = make(map[string][]byte)
	}
	return nil
}

func (m *Memory) Upsert(ctx context.Context, index string, docs []Document) error {
	if err := checkName(index); err != nil {
		return err
	}
	// Validate the whole batch before touching the map so a bad document
	// leaves the index unchanged.
	for _, d := range docs {
		if err := checkDoc(d); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	idx := m.indexes[index]
	if idx == nil {
		idx = make(map[string][]byte)
		m.indexes[index] = idx
	}
	for _, d := range docs {
		idx[d.ID] = slices.Clone(d.Body)
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, index, id string) (Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Document{}, false, ErrClosed
	}
	body, ok := m.indexes[index][id]
	if !ok {
		return Document{}, false, nil
	}
	return Document{ID: id, Body: slices.Clone(body)}, true, nil
}

func (m *Memory) Count(ctx context.Context, index string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.indexes[index]), nil
}

type memHit struct {
	id     string
	body   []byte
	fields map[string]any
}

func (m *Memory) Search(ctx context.Context, index string, q Query) ([]Document, error) {
	if err := checkQuery(q); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var hits []memHit
	for id, body := range m.indexes[index] {
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			m.mu.RUnlock()
			return nil, fmt.Errorf("decode %s/%s: %w", index, id, err)
		}
		if matches(fields, q.Filters) {
			hits = append(hits, memHit{id: id, body: slices.Clone(body), fields: fields})
		}
	}
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	slices.SortFunc(hits, func(a, b memHit) int {
		for _, s := range q.Sort {
			c := compareValues(a.fields[s.Field], b.fields[s.Field])
			if s.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(a.id, b.id)
	})
	if q.Size > 0 && len(hits) > q.Size {
		hits = hits[:q.Size]
	}
	out := make([]Document, len(hits))
	for i, h := range hits {
		out[i] = Document{ID: h.id, Body: h.body}
	}
	return out, nil
}

func matches(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		switch f := f.(type) {
		case Range:
			v, ok := fields[f.Field].(string)
			if !ok {
				if f.Gte != "" || f.Lt != "" {
					return false
				}
				continue
			}
			if f.Gte != "" && v < f.Gte {
				return false
			}
			if f.Lt != "" && v >= f.Lt {
				return false
			}
		case Terms:
			v, ok := fields[f.Field].(string)
			if !ok || !slices.Contains(f.Values, v) {
				return false
			}
		case Match:
			if f.Text == "" || len(f.Fields) == 0 {
				continue
			}
			needle := fold(f.Text)
			found := false
			for _, field := range f.Fields {
				if v, ok := fields[field].(string); ok && strings.Contains(fold(v), needle) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// compareValues orders missing values first, then numbers, then strings,
// mirroring SQLite's NULL < INTEGER/REAL < TEXT ordering.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	default:
		return 3
	}
}
