package docstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
)

// foldFunc lower-cases text the same way the memory backend does; the builtin
// lower() only folds ASCII.
const foldFunc = "secnews_fold"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(foldFunc, 1, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			return fold(v), nil
		case []byte:
			return fold(string(v)), nil
		default:
			return fold(fmt.Sprint(v)), nil
		}
	})
}

// SQLite stores documents as JSON text and queries them with the JSON1
// functions.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("docstore: sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := InitSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

func (s *SQLite) EnsureIndex(ctx context.Context, index string, sortable ...string) error {
	if err := checkName(index); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO indexes (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, index); err != nil {
		return err
	}
	for _, field := range sortable {
		if err := checkName(field); err != nil {
			return err
		}
		// Names are validated above; expression indexes cannot take bound parameters.
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_documents_%s_%s ON documents(idx, json_extract(body, '$.%s'))`, index, field, field)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Upsert(ctx context.Context, index string, docs []Document) error {
	if err := checkName(index); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO documents (idx, id, body, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(idx, id) DO UPDATE SET
           body=excluded.body,
           updated_at=excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, d := range docs {
		if err := checkDoc(d); err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, index, d.ID, string(d.Body), now); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", index, d.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Get(ctx context.Context, index, id string) (Document, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE idx = ? AND id = ?`, index, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, false, nil
		}
		return Document{}, false, err
	}
	return Document{ID: id, Body: []byte(body)}, true, nil
}

func (s *SQLite) Count(ctx context.Context, index string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE idx = ?`, index).Scan(&n)
	return n, err
}

func (s *SQLite) Search(ctx context.Context, index string, q Query) ([]Document, error) {
	if err := checkQuery(q); err != nil {
		return nil, err
	}
	where := []string{"idx = ?"}
	args := []any{index}
	for _, f := range q.Filters {
		switch f := f.(type) {
		case Range:
			if f.Gte != "" {
				where = append(where, "json_extract(body, ?) >= ?")
				args = append(args, jsonPath(f.Field), f.Gte)
			}
			if f.Lt != "" {
				where = append(where, "json_extract(body, ?) < ?")
				args = append(args, jsonPath(f.Field), f.Lt)
			}
		case Terms:
			if len(f.Values) == 0 {
				return nil, nil
			}
			placeholders := make([]string, len(f.Values))
			args = append(args, jsonPath(f.Field))
			for i, v := range f.Values {
				placeholders[i] = "?"
				args = append(args, v)
			}
			where = append(where, "json_extract(body, ?) IN ("+strings.Join(placeholders, ",")+")")
		case Match:
			if f.Text == "" || len(f.Fields) == 0 {
				continue
			}
			ors := make([]string, len(f.Fields))
			for i, field := range f.Fields {
				ors[i] = "instr(" + foldFunc + "(coalesce(json_extract(body, ?), '')), ?) > 0"
				args = append(args, jsonPath(field), fold(f.Text))
			}
			where = append(where, "("+strings.Join(ors, " OR ")+")")
		}
	}

	query := "SELECT id, body FROM documents WHERE " + strings.Join(where, " AND ")
	order := make([]string, 0, len(q.Sort)+1)
	for _, srt := range q.Sort {
		dir := "ASC"
		if srt.Desc {
			dir = "DESC"
		}
		order = append(order, "json_extract(body, ?) "+dir)
		args = append(args, jsonPath(srt.Field))
	}
	order = append(order, "id ASC")
	query += " ORDER BY " + strings.Join(order, ", ")
	if q.Size > 0 {
		query += " LIMIT ?"
		args = append(args, q.Size)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func jsonPath(field string) string {
	return "$." + field
}
