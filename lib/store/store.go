// Package store provides a content-addressed script store backed by SQLite.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrScriptNotFound indicates the requested script doesn't exist.
var ErrScriptNotFound = errors.New("script not found")

// Script is one stored script.
type Script struct {
	Hash    string
	Name    string
	Source  string
	AddedAt time.Time
}

// Store persists scripts keyed by the hex SHA-256 of their source.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) a store at the given database path.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS scripts (
		hash TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source TEXT NOT NULL,
		added_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenDefault opens the store at $MINJS_STORE or ~/.minjs/scripts.db.
func OpenDefault() (*Store, error) {
	dbPath := os.Getenv("MINJS_STORE")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home dir: %w", err)
		}
		dbPath = filepath.Join(home, ".minjs", "scripts.db")
	}
	return Open(dbPath)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HashSource returns the store key for a source text.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Add stores a script and returns its hash. Adding identical source again
// is idempotent.
func (s *Store) Add(name, source string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := HashSource(source)
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO scripts (hash, name, source, added_at) VALUES (?, ?, ?, ?)",
		hash, name, source, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("adding script: %w", err)
	}
	return hash, nil
}

// Get retrieves a script by hash, accepting an unambiguous prefix.
func (s *Store) Get(hash string) (*Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT hash, name, source, added_at FROM scripts WHERE hash LIKE ? LIMIT 2",
		hash+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("querying script: %w", err)
	}
	defer rows.Close()

	var found []*Script
	for rows.Next() {
		var sc Script
		var added int64
		if err := rows.Scan(&sc.Hash, &sc.Name, &sc.Source, &added); err != nil {
			return nil, fmt.Errorf("scanning script: %w", err)
		}
		sc.AddedAt = time.Unix(added, 0)
		found = append(found, &sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying script: %w", err)
	}
	switch len(found) {
	case 0:
		return nil, ErrScriptNotFound
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("ambiguous hash prefix %q", hash)
	}
}

// List returns all stored scripts, newest first.
func (s *Store) List() ([]*Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT hash, name, source, added_at FROM scripts ORDER BY added_at DESC")
	if err != nil {
		return nil, fmt.Errorf("listing scripts: %w", err)
	}
	defer rows.Close()

	var scripts []*Script
	for rows.Next() {
		var sc Script
		var added int64
		if err := rows.Scan(&sc.Hash, &sc.Name, &sc.Source, &added); err != nil {
			return nil, fmt.Errorf("scanning script: %w", err)
		}
		sc.AddedAt = time.Unix(added, 0)
		scripts = append(scripts, &sc)
	}
	return scripts, rows.Err()
}

// Delete removes a script by exact hash.
func (s *Store) Delete(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM scripts WHERE hash = ?", hash)
	if err != nil {
		return fmt.Errorf("deleting script: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScriptNotFound
	}
	return nil
}
