package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patteeraL/movra/services/currency-converter/internal/database"
	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"github.com/vmihailenco/msgpack/v5"
)

// Storage persists cache generations and their entries
type Storage interface {
	// Generations lists stored generation names, newest first
	Generations(ctx context.Context) ([]string, error)
	HasGeneration(ctx context.Context, name string) (bool, error)
	// PutAll creates the generation if needed and writes every entry in one transaction
	PutAll(ctx context.Context, generation string, entries []model.CachedResource) error
	// Put writes a single entry into an existing generation
	Put(ctx context.Context, entry model.CachedResource) error
	// Match returns nil, nil on a miss
	Match(ctx context.Context, generation, requestKey string) (*model.CachedResource, error)
	// DeleteGenerationsExcept removes every generation but keep and returns how many went
	DeleteGenerationsExcept(ctx context.Context, keep string) (int, error)
	CountEntries(ctx context.Context, generation string) (int, error)
}

const upsertEntryQuery = `
INSERT INTO cache_entries (generation, request_key, payload, stored_at) VALUES (?, ?, ?, ?)
ON CONFLICT(generation, request_key) DO UPDATE SET
	payload = excluded.payload,
	stored_at = excluded.stored_at`

// SQLiteStorage keeps the resource cache in the embedded database.
// Payloads are msgpack encoded.
type SQLiteStorage struct {
	db  *database.Lazy
	now func() time.Time
	mu  sync.Mutex
}

// NewSQLiteStorage creates cache storage on a lazily opened database
func NewSQLiteStorage(db *database.Lazy) *SQLiteStorage {
	return &SQLiteStorage{db: db, now: time.Now}
}

// SetClock replaces the time source (useful for testing)
func (s *SQLiteStorage) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *SQLiteStorage) conn(ctx context.Context) (*sql.DB, error) {
	db, err := s.db.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache storage: %w", err)
	}
	return db.Conn(), nil
}

// Generations lists generation names, newest first
func (s *SQLiteStorage) Generations(ctx context.Context) ([]string, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, "SELECT name FROM cache_generations ORDER BY created_at DESC, name")
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// HasGeneration reports whether the generation exists
func (s *SQLiteStorage) HasGeneration(ctx context.Context, name string) (bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	var n int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_generations WHERE name = ?", name).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check generation %s: %w", name, err)
	}
	return n > 0, nil
}

// PutAll writes a whole install batch atomically
func (s *SQLiteStorage) PutAll(ctx context.Context, generation string, entries []model.CachedResource) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}

	// Encode before taking the lock
	payloads := make([][]byte, len(entries))
	for i, e := range entries {
		if payloads[i], err = msgpack.Marshal(e.Payload); err != nil {
			return fmt.Errorf("failed to encode %s: %w", e.RequestKey, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO cache_generations (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
		generation, now.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to create generation %s: %w", generation, err)
	}

	for i, e := range entries {
		if _, err := tx.ExecContext(ctx, upsertEntryQuery, generation, e.RequestKey, payloads[i], now.UnixMilli()); err != nil {
			return fmt.Errorf("failed to store %s: %w", e.RequestKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit generation %s: %w", generation, err)
	}
	return nil
}

// Put writes one entry. The generation must already exist.
func (s *SQLiteStorage) Put(ctx context.Context, entry model.CachedResource) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}

	payload, err := msgpack.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", entry.RequestKey, err)
	}

	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := conn.ExecContext(ctx, upsertEntryQuery, entry.Generation, entry.RequestKey, payload, storedAt.UnixMilli()); err != nil {
		return fmt.Errorf("failed to store %s in %s: %w", entry.RequestKey, entry.Generation, err)
	}
	return nil
}

// Match looks up one request in a generation
func (s *SQLiteStorage) Match(ctx context.Context, generation, requestKey string) (*model.CachedResource, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var (
		payload  []byte
		storedAt int64
	)
	err = conn.QueryRowContext(ctx,
		"SELECT payload, stored_at FROM cache_entries WHERE generation = ? AND request_key = ?",
		generation, requestKey,
	).Scan(&payload, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to match %s: %w", requestKey, err)
	}

	entry := &model.CachedResource{
		RequestKey: requestKey,
		Generation: generation,
		StoredAt:   time.UnixMilli(storedAt),
	}
	if err := msgpack.Unmarshal(payload, &entry.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", requestKey, err)
	}
	return entry, nil
}

// DeleteGenerationsExcept purges every other generation with its entries
func (s *SQLiteStorage) DeleteGenerationsExcept(ctx context.Context, keep string) (int, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cache_entries WHERE generation <> ?", keep); err != nil {
		return 0, fmt.Errorf("failed to purge entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM cache_generations WHERE name <> ?", keep)
	if err != nil {
		return 0, fmt.Errorf("failed to purge generations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to purge generations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return int(n), nil
}

// CountEntries returns the number of entries stored in a generation
func (s *SQLiteStorage) CountEntries(ctx context.Context, generation string) (int, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries WHERE generation = ?", generation).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}
