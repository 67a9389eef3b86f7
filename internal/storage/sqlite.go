package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecordStore persists records in a single SQLite database.
// The compare-and-swap is expressed directly in the UPDATE predicate, so it
// holds across processes sharing the same database file.
type SQLiteRecordStore struct {
	db *sql.DB
}

func OpenSQLiteRecordStore(path string) (*SQLiteRecordStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteRecordStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL keeps readers off the writer's back; NORMAL is a reasonable
	// durability/perf tradeoff for interactive save intervals.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			kind       TEXT    NOT NULL,
			id         TEXT    NOT NULL,
			version    INTEGER NOT NULL,
			data       BLOB    NOT NULL,
			updated_at TEXT    NOT NULL,
			PRIMARY KEY (kind, id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating records table: %w", err)
	}
	return nil
}

func (s *SQLiteRecordStore) GetRecord(ctx context.Context, kind, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, data, updated_at FROM records WHERE kind = ? AND id = ?`, kind, id)

	rec := &Record{Kind: kind, Id: id}
	var updatedAt string
	err := row.Scan(&rec.Version, &rec.Data, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning record: %w", err)
	}

	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = ts
	}
	return rec, nil
}

func (s *SQLiteRecordStore) PutRecord(ctx context.Context, kind, id string, expectedVersion uint64, data []byte) (uint64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var res sql.Result
	var err error
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO records (kind, id, version, data, updated_at)
			 VALUES (?, ?, 1, ?, ?)
			 ON CONFLICT (kind, id) DO NOTHING`,
			kind, id, data, now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE records SET version = ?, data = ?, updated_at = ?
			 WHERE kind = ? AND id = ? AND version = ?`,
			expectedVersion+1, data, now, kind, id, expectedVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurableWrite, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurableWrite, err)
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}

	return expectedVersion + 1, nil
}

func (s *SQLiteRecordStore) DeleteRecord(ctx context.Context, kind, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, kind, id)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

func (s *SQLiteRecordStore) Close() error {
	return s.db.Close()
}
