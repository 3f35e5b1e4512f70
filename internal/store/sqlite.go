package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"
)

// SQLiteStore implements RowStore using an embedded SQLite database.
type SQLiteStore struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a store.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Reasonable pooling for SQLite; it's a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// FetchAll returns every row of table in insertion order.
func (s *SQLiteStore) FetchAll(ctx context.Context, table string) ([]Row, error) {
	cols, err := Columns(table)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, table)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+strings.Join(cols, ", ")+" FROM "+table+" ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				r[c] = string(b)
				continue
			}
			r[c] = vals[i]
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Upsert inserts rows, updating the non-key columns of rows whose conflictKey exists.
// All rows are written in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, table string, rows []Row, conflictKey string) error {
	if len(rows) == 0 {
		return nil
	}
	if _, err := Columns(table); err != nil {
		return fmt.Errorf("%w: %s", err, table)
	}
	if !hasColumn(table, conflictKey) {
		return fmt.Errorf("%w: column %s.%s", ErrUnknownTable, table, conflictKey)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, r := range rows {
		query, args, err := upsertStatement(table, r, conflictKey)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func upsertStatement(table string, r Row, conflictKey string) (string, []any, error) {
	if _, ok := r[conflictKey]; !ok {
		return "", nil, fmt.Errorf("row missing conflict key %s", conflictKey)
	}

	var cols, updates []string
	var args []any
	for _, c := range schema[table] {
		v, ok := r[c]
		if !ok {
			continue
		}
		cols = append(cols, c)
		args = append(args, sqliteValue(v))
		if c != conflictKey {
			updates = append(updates, c+" = excluded."+c)
		}
	}
	for c := range r {
		if !hasColumn(table, c) {
			return "", nil, fmt.Errorf("%w: column %s.%s", ErrUnknownTable, table, c)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	q := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders + ") " +
		"ON CONFLICT(" + conflictKey + ") DO "
	if len(updates) == 0 {
		q += "NOTHING"
	} else {
		q += "UPDATE SET " + strings.Join(updates, ", ")
	}
	return q, args, nil
}

// DeleteWhere removes rows whose columns equal every filter value.
func (s *SQLiteStore) DeleteWhere(ctx context.Context, table string, f Filter) error {
	if len(f) == 0 {
		return nil
	}
	if _, err := Columns(table); err != nil {
		return fmt.Errorf("%w: %s", err, table)
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		if !hasColumn(table, k) {
			return fmt.Errorf("%w: column %s.%s", ErrUnknownTable, table, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		conds[i] = k + " = ?"
		args[i] = sqliteValue(f[k])
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+strings.Join(conds, " AND "), args...)
	return err
}

// sqliteValue converts a boolean to 1/0 for SQLite.
func sqliteValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}
