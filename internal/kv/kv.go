// Package kv is the storage adapter the task store is built on. It exposes a
// scalar namespace with an atomic increment and a field-mapped ("hash")
// namespace, both keyed by strings, backed by a single SQLite file.
package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a long-lived, process-wide handle. It is safe for concurrent use;
// SQLite serializes writes behind the single connection.
type Store struct {
	db *sql.DB
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskbot", "taskbot.db")
}

func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	statements := []string{
		"PRAGMA journal_mode=WAL;",
		`CREATE TABLE IF NOT EXISTS scalars (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS hashes (
			key TEXT NOT NULL,
			field TEXT NOT NULL,
			value BLOB NOT NULL,
			PRIMARY KEY (key, field)
		);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init kv schema: %w", err)
		}
	}
	return nil
}

// ScalarGet returns the scalar at key as text, or nil when the key is absent.
func (s *Store) ScalarGet(ctx context.Context, key string) ([]byte, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM scalars WHERE key = ?;`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scalar get %q: %w", key, err)
	}
	return []byte(fmt.Sprintf("%d", value)), nil
}

// ScalarIncr atomically increments the scalar at key and returns the new
// value. A fresh key yields 1. The increment is a single UPSERT statement,
// never a read-then-write.
func (s *Store) ScalarIncr(ctx context.Context, key string) (int64, error) {
	var value int64
	err := retryOnBusy(ctx, 5, func() error {
		return s.db.QueryRowContext(ctx, `
			INSERT INTO scalars (key, value) VALUES (?, 1)
			ON CONFLICT(key) DO UPDATE SET value = value + 1
			RETURNING value;
		`, key).Scan(&value)
	})
	if err != nil {
		return 0, fmt.Errorf("scalar incr %q: %w", key, err)
	}
	return value, nil
}

// HashGet returns the value at (key, field), or nil when absent.
func (s *Store) HashGet(ctx context.Context, key, field string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM hashes WHERE key = ? AND field = ?;
	`, key, field).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hash get %q/%q: %w", key, field, err)
	}
	return value, nil
}

func (s *Store) HashSet(ctx context.Context, key, field string, value []byte) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO hashes (key, field, value) VALUES (?, ?, ?)
			ON CONFLICT(key, field) DO UPDATE SET value = excluded.value;
		`, key, field, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("hash set %q/%q: %w", key, field, err)
	}
	return nil
}

// HashMultiGet returns one value per requested field, positionally, with nil
// for fields that have no entry.
func (s *Store) HashMultiGet(ctx context.Context, key string, fields ...string) ([][]byte, error) {
	out := make([][]byte, len(fields))
	for i, field := range fields {
		value, err := s.HashGet(ctx, key, field)
		if err != nil {
			return nil, err
		}
		out[i] = value
	}
	return out, nil
}

// HashScan visits every (field, value) pair under key in unspecified order.
// A non-nil error from fn stops the scan and is returned unwrapped.
func (s *Store) HashScan(ctx context.Context, key string, fn func(field string, value []byte) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM hashes WHERE key = ?;`, key)
	if err != nil {
		return fmt.Errorf("hash scan %q: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var field string
		var value []byte
		if err := rows.Scan(&field, &value); err != nil {
			return fmt.Errorf("scan hash row: %w", err)
		}
		if err := fn(field, value); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("hash scan rows: %w", err)
	}
	return nil
}

// retryOnBusy retries f when SQLite reports BUSY or LOCKED, with exponential
// backoff and bounded jitter on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) || attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.Intn(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}
