package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Postgres stores documents as jsonb. String comparisons and ordering use the
// "C" collation so range filters stay byte-wise like the other backends.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn (a postgres:// URL or key=value string) and
// creates the tables if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("docstore: postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := initPostgres(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func initPostgres(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS documents (
    idx TEXT NOT NULL,
    id TEXT NOT NULL,
    body JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (idx, id)
);
CREATE TABLE IF NOT EXISTS indexes (
    name TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) EnsureIndex(ctx context.Context, index string, sortable ...string) error {
	if err := checkName(index); err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `INSERT INTO indexes (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, index); err != nil {
		return err
	}
	for _, field := range sortable {
		if err := checkName(field); err != nil {
			return err
		}
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_documents_%s_%s ON documents (idx, (body->>'%s') COLLATE "C")`, index, field, field)
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) Upsert(ctx context.Context, index string, docs []Document) error {
	if err := checkName(index); err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO documents (idx, id, body, updated_at)
        VALUES ($1, $2, $3::jsonb, now())
        ON CONFLICT (idx, id) DO UPDATE SET
           body = EXCLUDED.body,
           updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range docs {
		if err := checkDoc(d); err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, index, d.ID, string(d.Body)); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", index, d.ID, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) Get(ctx context.Context, index, id string) (Document, bool, error) {
	var body string
	err := p.db.QueryRowContext(ctx, `SELECT body::text FROM documents WHERE idx = $1 AND id = $2`, index, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, false, nil
		}
		return Document{}, false, err
	}
	return Document{ID: id, Body: []byte(body)}, true, nil
}

func (p *Postgres) Count(ctx context.Context, index string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE idx = $1`, index).Scan(&n)
	return n, err
}

func (p *Postgres) Search(ctx context.Context, index string, q Query) ([]Document, error) {
	if err := checkQuery(q); err != nil {
		return nil, err
	}
	args := []any{index}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	field := func(name string) string {
		return "(body->>" + arg(name) + "::text)"
	}
	where := []string{"idx = $1"}
	for _, f := range q.Filters {
		switch f := f.(type) {
		case Range:
			if f.Gte != "" {
				where = append(where, fmt.Sprintf(`%s COLLATE "C" >= %s`, field(f.Field), arg(f.Gte)))
			}
			if f.Lt != "" {
				where = append(where, fmt.Sprintf(`%s COLLATE "C" < %s`, field(f.Field), arg(f.Lt)))
			}
		case Terms:
			if len(f.Values) == 0 {
				return nil, nil
			}
			where = append(where, fmt.Sprintf(`%s = ANY(%s)`, field(f.Field), arg(pq.Array(f.Values))))
		case Match:
			if f.Text == "" || len(f.Fields) == 0 {
				continue
			}
			text := fold(f.Text)
			ors := make([]string, len(f.Fields))
			for i, name := range f.Fields {
				ors[i] = fmt.Sprintf(`strpos(lower(coalesce(%s, '')), %s) > 0`, field(name), arg(text))
			}
			where = append(where, "("+strings.Join(ors, " OR ")+")")
		}
	}

	query := "SELECT id, body::text FROM documents WHERE " + strings.Join(where, " AND ")
	order := make([]string, 0, len(q.Sort)+1)
	for _, srt := range q.Sort {
		dir := "ASC"
		if srt.Desc {
			dir = "DESC"
		}
		order = append(order, fmt.Sprintf(`%s COLLATE "C" %s`, field(srt.Field), dir))
	}
	order = append(order, `id COLLATE "C" ASC`)
	query += " ORDER BY " + strings.Join(order, ", ")
	if q.Size > 0 {
		query += " LIMIT " + arg(q.Size)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		var body string
		if err := rows.Scan(&d.ID, &body); err != nil {
			return nil, err
		}
		d.Body = []byte(body)
		out = append(out, d)
	}
	return out, rows.Err()
}
