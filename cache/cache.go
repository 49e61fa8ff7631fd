// Package cache persists content-hash → markup results of model calls so
// re-processing a document never repeats an expensive recognition.
package cache

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned when operating on a closed store.
var ErrClosed = errors.New("cache: store is closed")

// Store is a persistent key → markup cache. Entries are loaded into memory
// once on open; Flush writes new entries back to SQLite. Entries are
// immutable once written: Put ignores keys that already exist.
type Store struct {
	db    *sql.DB
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]string
	dirty   map[string]string
	closed  bool
}

// Open opens (or creates) the cache database at path and loads all entries.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS entries (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{
		db:      db,
		entries: make(map[string]string),
		dirty:   make(map[string]string),
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT key, value FROM entries`)
	if err != nil {
		return fmt.Errorf("loading cache entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		s.entries[k] = v
	}
	return rows.Err()
}

// Get returns the cached value for key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// Put records a value for key. Existing entries are never overwritten.
func (s *Store) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.entries[key]; ok {
		return
	}
	s.entries[key] = value
	s.dirty[key] = value
}

// Do returns the cached value for key, or computes it via fn exactly once
// even under concurrent callers for the same key and stores the result.
// A fn error is returned to every waiting caller and nothing is cached.
func (s *Store) Do(key string, fn func() (string, error)) (string, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// Re-check: another caller may have completed between the fast-path
		// lookup and entering the flight group.
		if v, ok := s.Get(key); ok {
			return v, nil
		}
		res, err := fn()
		if err != nil {
			return "", err
		}
		s.Put(key, res)
		return res, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Transform rewrites every in-memory value through fn. Used at job start to
// push loaded values through the response cleaner; the persisted rows are
// left untouched.
func (s *Store) Transform(fn func(string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.entries {
		s.entries[k] = fn(v)
	}
}

// Len returns the number of in-memory entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Flush persists entries added since the last flush.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	pending := s.dirty
	s.dirty = make(map[string]string)
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		s.requeue(pending)
		return fmt.Errorf("beginning cache flush: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO entries (key, value) VALUES (?, ?)`)
	if err != nil {
		tx.Rollback()
		s.requeue(pending)
		return err
	}
	defer stmt.Close()

	for k, v := range pending {
		if _, err := stmt.Exec(k, v); err != nil {
			tx.Rollback()
			s.requeue(pending)
			return fmt.Errorf("writing cache entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.requeue(pending)
		return fmt.Errorf("committing cache flush: %w", err)
	}
	return nil
}

// requeue puts entries from a failed flush back into the dirty set so the
// next flush retries them. Entries dirtied in the meantime win.
func (s *Store) requeue(pending map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range pending {
		if _, ok := s.dirty[k]; !ok {
			s.dirty[k] = v
		}
	}
}

// Close flushes pending entries and closes the database.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil && !errors.Is(err, ErrClosed) {
		s.db.Close()
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

// HashBytes returns the hex MD5 digest of b, the cache key form for image
// content.
func HashBytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// HashText returns the hex MD5 digest of s.
func HashText(s string) string {
	return HashBytes([]byte(s))
}
