// Package docstore is a small JSON document store: documents live in named
// indexes, are upserted by ID, and are searched with an AND of field filters.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Document is a JSON body addressed by ID within an index.
type Document struct {
	ID   string
	Body json.RawMessage
}

// Filter is one predicate of a Query. All filters of a query must hold.
type Filter interface {
	filter()
}

// Range matches string fields lexically: Gte <= value < Lt. Empty bounds are open.
type Range struct {
	Field string
	Gte   string
	Lt    string
}

// Terms matches when the field equals one of Values.
type Terms struct {
	Field  string
	Values []string
}

// Match is a case-insensitive substring match against any of Fields. Folding
// is Unicode lower-casing, so "über" matches "Über".
type Match struct {
	Fields []string
	Text   string
}

func (Range) filter() {}
func (Terms) filter() {}
func (Match) filter() {}

type Sort struct {
	Field string
	Desc  bool
}

// Query selects documents. Results are ordered by Sort, then by ID ascending.
// Size <= 0 means no limit.
type Query struct {
	Filters []Filter
	Sort    []Sort
	Size    int
}

// Backend is the document store capability. Indexes spring into existence on
// first write; reading an index that was never written yields no documents.
type Backend interface {
	// EnsureIndex creates the index if needed. sortable lists fields that
	// should be cheap to range over and sort by.
	EnsureIndex(ctx context.Context, index string, sortable ...string) error
	// Upsert writes all docs or none of them.
	Upsert(ctx context.Context, index string, docs []Document) error
	Get(ctx context.Context, index, id string) (Document, bool, error)
	Search(ctx context.Context, index string, q Query) ([]Document, error)
	Count(ctx context.Context, index string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	ErrClosed      = errors.New("docstore: closed")
	ErrInvalidName = errors.New("docstore: invalid index or field name")
	ErrInvalidDoc  = errors.New("docstore: invalid document")
)

var nameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func checkName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func checkDoc(d Document) error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDoc)
	}
	if !json.Valid(d.Body) {
		return fmt.Errorf("%w: body of %q is not valid JSON", ErrInvalidDoc, d.ID)
	}
	return nil
}

func checkQuery(q Query) error {
	for _, f := range q.Filters {
		switch f := f.(type) {
		case Range:
			if err := checkName(f.Field); err != nil {
				return err
			}
		case Terms:
			if err := checkName(f.Field); err != nil {
				return err
			}
		case Match:
			for _, field := range f.Fields {
				if err := checkName(field); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("docstore: unsupported filter %T", f)
		}
	}
	for _, s := range q.Sort {
		if err := checkName(s.Field); err != nil {
			return err
		}
	}
	return nil
}

func fold(s string) string {
	return strings.ToLower(s)
}
