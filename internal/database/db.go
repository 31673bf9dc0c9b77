// Package database provides the embedded SQLite connection used for the
// recent conversions store and the resource cache.
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schema.sql
var schema string

// Profile selects the durability/speed trade-off of a database
type Profile string

const (
	// ProfileStandard fsyncs at checkpoints
	ProfileStandard Profile = "standard"
	// ProfileCache skips fsync, for data that can be refetched
	ProfileCache Profile = "cache"
)

// MemoryPath opens a private in-memory database, mostly for tests
const MemoryPath = ":memory:"

// Config holds database configuration
type Config struct {
	Path    string
	Profile Profile
	Name    string // Friendly name for logging
}

// DB wraps the SQLite connection
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
	name    string
}

// New opens a database and applies the schema
func New(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if !isMemory(cfg.Path) {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	configureConnectionPool(conn, cfg.Path)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	db := &DB{
		conn:    conn,
		path:    cfg.Path,
		profile: cfg.Profile,
		name:    cfg.Name,
	}

	if err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func isMemory(path string) bool {
	return path == MemoryPath || strings.Contains(path, "mode=memory")
}

// buildConnectionString appends the PRAGMAs for the given profile
func buildConnectionString(path string, profile Profile) string {
	var pragmas []string

	if !isMemory(path) {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}

	switch profile {
	case ProfileCache:
		pragmas = append(pragmas, "synchronous(OFF)", "temp_store(MEMORY)")
	default:
		pragmas = append(pragmas, "synchronous(NORMAL)", "temp_store(MEMORY)")
	}

	pragmas = append(pragmas, "foreign_keys(1)", "busy_timeout(5000)")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	var b strings.Builder
	b.WriteString(path)
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// configureConnectionPool sets pool limits. An in-memory database lives and
// dies with its connection, so it is pinned to exactly one.
func configureConnectionPool(conn *sql.DB, path string) {
	if isMemory(path) {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
		conn.SetConnMaxIdleTime(0)
		return
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema to %s: %w", db.name, err)
	}
	return nil
}

// Wrap adopts an existing connection without applying PRAGMAs or the schema
func Wrap(conn *sql.DB, name string) *DB {
	return &DB{conn: conn, name: name, profile: ProfileStandard}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Name returns the database name for logging
func (db *DB) Name() string {
	return db.name
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Profile returns the database profile
func (db *DB) Profile() Profile {
	return db.profile
}

// Opener opens a database on first use
type Opener func(ctx context.Context) (*DB, error)

// Lazy memoizes a single database open. Concurrent callers block on the same
// in-flight open and all receive the same handle, or the same error.
type Lazy struct {
	open Opener

	once sync.Once
	done chan struct{}
	db   *DB
	err  error
}

// NewLazy returns a Lazy that opens the database described by cfg
func NewLazy(cfg Config) *Lazy {
	return NewLazyFunc(func(ctx context.Context) (*DB, error) {
		return New(ctx, cfg)
	})
}

// NewLazyFunc returns a Lazy backed by an arbitrary opener
func NewLazyFunc(open Opener) *Lazy {
	return &Lazy{
		open: open,
		done: make(chan struct{}),
	}
}

// FromDB wraps an already open database
func FromDB(db *DB) *Lazy {
	l := NewLazyFunc(func(context.Context) (*DB, error) { return db, nil })
	l.start(context.Background())
	return l
}

// Get returns the shared handle, opening it on the first call.
// A caller whose context ends while waiting gets ctx.Err(); the open itself
// keeps going for the others.
func (l *Lazy) Get(ctx context.Context) (*DB, error) {
	l.start(context.WithoutCancel(ctx))

	select {
	case <-l.done:
		return l.db, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Lazy) start(ctx context.Context) {
	l.once.Do(func() {
		go func() {
			defer close(l.done)
			l.db, l.err = l.open(ctx)
		}()
	})
}

// Close closes the handle if it was opened
func (l *Lazy) Close() error {
	select {
	case <-l.done:
		if l.db != nil {
			return l.db.Close()
		}
	default:
	}
	return nil
}
