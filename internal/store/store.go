package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gosimple/slug"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Directory names under the data root.
const (
	dirState         = "state"
	dirContributions = "contributions"
	dirHistory       = "history"
	dirPending       = "pending_renames"
	dirDocs          = "docs"
	eventsDBName     = "events.db"
)

var dataDirs = []string{dirState, dirContributions, dirHistory, dirPending, dirDocs}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// migrations upgrade the event stream schema. Entry i moves user_version
// from i to i+1; append only.
var migrations = []func(tx *sql.Tx) error{
	// per-member index for service record queries
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_member_events_member
			ON member_events (alliance_id, member_id, seq)`)
		return err
	},
}

// Store provides durable storage for alliance state, contribution
// snapshots, pending reviews and the event stream.
type Store struct {
	root string
	db   *sql.DB
}

// Open prepares the data root and opens the event stream database at
// <root>/events.db, creating both when missing. Opening an existing root
// is safe and upgrades its schema.
func Open(root string) (*Store, error) {
	for _, dir := range dataDirs {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := openEvents(filepath.Join(root, eventsDBName))
	if err != nil {
		return nil, err
	}
	return &Store{root: root, db: db}, nil
}

func openEvents(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	// one connection: SQLite has a single writer and pragmas are
	// per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("event stream %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("event stream schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// migrate applies pending migrations, each in its own transaction
// together with its user_version bump.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if err := migrations[v](tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	return nil
}

// Close closes the event stream database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Root returns the data root directory.
func (s *Store) Root() string { return s.root }

// Ping checks that the event stream database is reachable.
func (s *Store) Ping() error { return s.db.Ping() }

// segment turns an alliance id into a safe path component.
func segment(allianceID string) string {
	if seg := slug.Make(allianceID); seg != "" {
		return seg
	}
	return "_"
}

// verifyPragma reports whether pragma name reads back as want.
func (s *Store) verifyPragma(name, want string) error {
	var got string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&got); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if got != want {
		return fmt.Errorf("%s = %q, want %q", name, got, want)
	}
	return nil
}
