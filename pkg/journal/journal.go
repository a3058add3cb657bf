// Package journal persists responses that arrived when nobody was waiting
// for them: results for timed-out waits, duplicates and ids the client never
// issued or already collected.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("journal closed")

// Entry is one journaled response.
type Entry struct {
	ID          string
	RequestID   string
	Responder   string
	Code        string
	Detail      string
	Reason      string
	CommandType string
	ReceivedAt  time.Time
}

// Store is a SQLite-backed journal.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

type storeConfig struct {
	dsn          string
	maxOpenConns int
	walMode      bool
}

func defaultStoreConfig() storeConfig {
	return storeConfig{
		dsn:          "nsclient-journal.db",
		maxOpenConns: 4,
		walMode:      true,
	}
}

// Option configures a Store.
type Option func(*storeConfig)

// WithDSN sets the data source name (file path or ":memory:" for in-memory).
func WithDSN(dsn string) Option {
	return func(c *storeConfig) {
		c.dsn = dsn
	}
}

// WithMemoryDatabase uses an in-memory database.
func WithMemoryDatabase() Option {
	return func(c *storeConfig) {
		c.dsn = ":memory:"
		c.walMode = false
	}
}

// WithWALMode enables write-ahead logging. Not available for :memory:.
func WithWALMode(enabled bool) Option {
	return func(c *storeConfig) {
		c.walMode = enabled
	}
}

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(c *storeConfig) {
		c.maxOpenConns = n
	}
}

// Open opens the journal and applies the schema.
func Open(opts ...Option) (*Store, error) {
	config := defaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}

	db, err := sql.Open("sqlite", config.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: gets its own database.
	if config.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if config.walMode {
		if _, err := db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = NORMAL;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		stmt, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := db.Exec(string(stmt)); err != nil {
			return fmt.Errorf("apply %s: %w", strings.TrimPrefix(name, "migrations/"), err)
		}
	}
	return nil
}

// Record appends e. Missing ID and ReceivedAt are filled in.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if err := s.check(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stale_responses (id, request_id, responder, code, detail, reason, command_type, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.Responder, e.Code, e.Detail, e.Reason, e.CommandType, e.ReceivedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record response: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, responder, code, detail, reason, command_type, received_at
		FROM stale_responses
		ORDER BY received_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var received int64
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Responder, &e.Code, &e.Detail, &e.Reason, &e.CommandType, &received); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		e.ReceivedAt = time.Unix(0, received)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries received before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM stale_responses WHERE received_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune responses: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
