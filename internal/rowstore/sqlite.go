package rowstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the study table in a local sqlite database. Column names
// follow the schema slice exactly; the table is created on first open.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	s := &SQLiteStore{db: db}
	if err := s.ensureTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureTable() error {
	defs := make([]string, 0, len(Columns)+1)
	defs = append(defs, "id INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, c := range Columns {
		defs = append(defs, fmt.Sprintf("%s TEXT NOT NULL DEFAULT ''", c))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS study_rows (%s)", strings.Join(defs, ", "))
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create study_rows: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) AppendRow(ctx context.Context, values []string) (int64, error) {
	if len(values) != len(Columns) {
		return 0, fmt.Errorf("append row: got %d values, schema has %d columns", len(values), len(Columns))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(Columns)), ", ")
	stmt := fmt.Sprintf("INSERT INTO study_rows (%s) VALUES (%s)",
		strings.Join(Columns, ", "), placeholders)
	res, err := s.db.ExecContext(ctx, stmt, toAny(values)...)
	if err != nil {
		return 0, fmt.Errorf("append row: %w", err)
	}
	handle, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append row id: %w", err)
	}
	return handle, nil
}

func (s *SQLiteStore) OverwriteRow(ctx context.Context, handle int64, values []string) error {
	if len(values) != len(Columns) {
		return fmt.Errorf("overwrite row: got %d values, schema has %d columns", len(values), len(Columns))
	}
	sets := make([]string, 0, len(Columns))
	for _, c := range Columns {
		sets = append(sets, c+" = ?")
	}
	args := append(toAny(values), handle)
	stmt := fmt.Sprintf("UPDATE study_rows SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("overwrite row %d: %w", handle, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("overwrite row %d: no such row", handle)
	}
	return nil
}

func (s *SQLiteStore) ReadColumn(ctx context.Context, column int) ([]string, error) {
	if column < 0 || column >= len(Columns) {
		return nil, fmt.Errorf("read column %d: out of schema range", column)
	}
	stmt := fmt.Sprintf("SELECT %s FROM study_rows ORDER BY id ASC", Columns[column])
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("read column %s: %w", Columns[column], err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan column %s: %w", Columns[column], err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReadAll(ctx context.Context) ([][]string, error) {
	stmt := fmt.Sprintf("SELECT %s FROM study_rows ORDER BY id ASC", strings.Join(Columns, ", "))
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out [][]string
	for rows.Next() {
		values := make([]string, len(Columns))
		targets := make([]any, len(Columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, values)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
