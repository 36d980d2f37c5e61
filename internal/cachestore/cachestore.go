// Package cachestore keeps named caches of HTTP responses in sqlite, the
// backing store of the edge cache worker.
package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS caches (
    name TEXT PRIMARY KEY,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_entries (
    cache TEXT NOT NULL,
    key TEXT NOT NULL,
    status INTEGER NOT NULL,
    header TEXT NOT NULL DEFAULT '{}',
    body BLOB NOT NULL,
    stored_at TEXT NOT NULL,
    PRIMARY KEY (cache, key),
    FOREIGN KEY (cache) REFERENCES caches(name) ON DELETE CASCADE
);
`

// Entry is one cached response.
type Entry struct {
	Cache    string
	Key      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Store is a set of named caches.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s, err := New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open connection and creates the schema.
func New(conn *sql.DB) (*Store, error) {
	conn.Exec("PRAGMA foreign_keys=ON")
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// OpenCache creates the named cache if it does not exist.
func (s *Store) OpenCache(ctx context.Context, name string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		name, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("open cache %s: %w", name, err)
	}
	return nil
}

// Put stores e, replacing any entry with the same cache and key. The cache
// is created if needed; both happen in one transaction.
func (s *Store) Put(ctx context.Context, e Entry) error {
	header := e.Header
	if header == nil {
		header = http.Header{}
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now()
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		e.Cache, formatTime(e.StoredAt)); err != nil {
		return fmt.Errorf("put %s %s: %w", e.Cache, e.Key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (cache, key, status, header, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Cache, e.Key, e.Status, string(hdr), body, formatTime(e.StoredAt)); err != nil {
		return fmt.Errorf("put %s %s: %w", e.Cache, e.Key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put: %w", err)
	}
	return nil
}

// Match returns the entry for key in cache, or nil when there is none.
func (s *Store) Match(ctx context.Context, cache, key string) (*Entry, error) {
	var (
		e        = Entry{Cache: cache, Key: key}
		hdr      string
		storedAt string
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM cache_entries WHERE cache = ? AND key = ?`,
		cache, key).Scan(&e.Status, &hdr, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match %s %s: %w", cache, key, err)
	}
	if err := json.Unmarshal([]byte(hdr), &e.Header); err != nil {
		return nil, fmt.Errorf("decode header for %s %s: %w", cache, key, err)
	}
	e.StoredAt, _ = time.Parse(time.RFC3339Nano, storedAt)
	return &e, nil
}

// MatchAny looks key up in every cache, oldest cache first.
func (s *Store) MatchAny(ctx context.Context, key string) (*Entry, error) {
	names, err := s.Caches(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		e, err := s.Match(ctx, name, key)
		if err != nil || e != nil {
			return e, err
		}
	}
	return nil, nil
}

// Delete removes key from cache and reports whether it existed.
func (s *Store) Delete(ctx context.Context, cache, key string) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE cache = ? AND key = ?`, cache, key)
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", cache, key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Caches lists cache names in creation order.
func (s *Store) Caches(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT name FROM caches ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Keys lists the keys stored in cache.
func (s *Store) Keys(ctx context.Context, cache string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT key FROM cache_entries WHERE cache = ? ORDER BY key`, cache)
	if err != nil {
		return nil, fmt.Errorf("list keys of %s: %w", cache, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteCache drops a cache and its entries and reports whether it existed.
func (s *Store) DeleteCache(ctx context.Context, name string) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete cache: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache = ?`, name); err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
