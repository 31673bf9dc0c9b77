package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patteeraL/movra/services/currency-converter/internal/database"
	"github.com/patteeraL/movra/services/currency-converter/internal/model"
)

const upsertRecordQuery = `
INSERT INTO recent (currencies, rate, amount, timestamp) VALUES (?, ?, ?, ?)
ON CONFLICT(currencies) DO UPDATE SET
	rate = excluded.rate,
	amount = excluded.amount,
	timestamp = excluded.timestamp`

// SQLiteRecordStore implements RecordStore on the embedded database.
// Writes are serialized through mu, which stands in for the single write
// transaction SQLite allows per database.
type SQLiteRecordStore struct {
	db  *database.Lazy
	now func() time.Time
	mu  sync.Mutex
}

// NewSQLiteRecordStore creates a record store on a lazily opened database
func NewSQLiteRecordStore(db *database.Lazy) *SQLiteRecordStore {
	return &SQLiteRecordStore{
		db:  db,
		now: time.Now,
	}
}

// SetClock replaces the time source (useful for testing)
func (s *SQLiteRecordStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *SQLiteRecordStore) conn(ctx context.Context) (*sql.DB, error) {
	db, err := s.db.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	return db.Conn(), nil
}

// AddRecord upserts the record and stamps it with a timestamp strictly
// greater than any already stored
func (s *SQLiteRecordStore) AddRecord(ctx context.Context, record *model.ConversionRecord) error {
	if record == nil || record.Currencies == "" {
		return fmt.Errorf("record must have a currency pair")
	}

	conn, err := s.conn(ctx)
	if err != nil {
		return &StorageWriteError{Op: "open", Key: record.Currencies, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &StorageWriteError{Op: "begin", Key: record.Currencies, Err: err}
	}
	defer tx.Rollback()

	var latest int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(timestamp), 0) FROM recent").Scan(&latest); err != nil {
		return &StorageWriteError{Op: "put", Key: record.Currencies, Err: err}
	}

	ts := nextTimestamp(s.now(), latest)
	if _, err := tx.ExecContext(ctx, upsertRecordQuery, record.Currencies, record.Rate, record.Amount, ts); err != nil {
		return &StorageWriteError{Op: "put", Key: record.Currencies, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageWriteError{Op: "commit", Key: record.Currencies, Err: err}
	}

	record.Timestamp = ts
	return nil
}

// GetRecord retrieves a record by its currency pair
func (s *SQLiteRecordStore) GetRecord(ctx context.Context, key string) (*model.ConversionRecord, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var r model.ConversionRecord
	err = conn.QueryRowContext(ctx,
		"SELECT currencies, rate, amount, timestamp FROM recent WHERE currencies = ?", key,
	).Scan(&r.Currencies, &r.Rate, &r.Amount, &r.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", key, err)
	}

	return &r, nil
}

// ListRecords reads every record in the requested order
func (s *SQLiteRecordStore) ListRecords(ctx context.Context, orderBy OrderBy) ([]model.ConversionRecord, error) {
	// Timestamp listings are newest first, insertion listings oldest first
	order, err := orderClause(orderBy, orderBy == OrderTimestamp)
	if err != nil {
		return nil, err
	}

	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, "SELECT currencies, rate, amount, timestamp FROM recent ORDER BY "+order)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := make([]model.ConversionRecord, 0)
	for rows.Next() {
		var r model.ConversionRecord
		if err := rows.Scan(&r.Currencies, &r.Rate, &r.Amount, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	return records, nil
}

// DeleteRecord removes a record by its currency pair
func (s *SQLiteRecordStore) DeleteRecord(ctx context.Context, key string) error {
	return s.WithWriteTx(ctx, func(tx Tx) error {
		return tx.Delete(ctx, key)
	})
}

// Count returns the number of stored records
func (s *SQLiteRecordStore) Count(ctx context.Context) (int, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM recent").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// WithWriteTx runs fn inside a single write transaction
func (s *SQLiteRecordStore) WithWriteTx(ctx context.Context, fn func(tx Tx) error) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return &StorageWriteError{Op: "open", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &StorageWriteError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &StorageWriteError{Op: "commit", Err: err}
	}
	return nil
}

// Health pings the database
func (s *SQLiteRecordStore) Health(ctx context.Context) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return conn.PingContext(ctx)
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) OpenCursor(ctx context.Context, orderBy OrderBy, descending bool) (Cursor, error) {
	order, err := orderClause(orderBy, descending)
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.QueryContext(ctx, "SELECT currencies FROM recent ORDER BY "+order)
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan cursor key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to open cursor: %w", err)
	}

	return newKeyCursor(keys, t.Delete), nil
}

func (t *sqliteTx) Delete(ctx context.Context, key string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM recent WHERE currencies = ?", key); err != nil {
		return &StorageWriteError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func orderClause(orderBy OrderBy, descending bool) (string, error) {
	dir := "ASC"
	if descending {
		dir = "DESC"
	}

	switch orderBy {
	case OrderTimestamp:
		return "timestamp " + dir + ", currencies " + dir, nil
	case OrderInsertion:
		return "rowid " + dir, nil
	default:
		return "", fmt.Errorf("unknown ordering %q", orderBy)
	}
}

// nextTimestamp returns now in milliseconds, bumped past latest if the clock
// has not moved forward
func nextTimestamp(now time.Time, latest int64) int64 {
	ts := now.UnixMilli()
	if ts <= latest {
		ts = latest + 1
	}
	return ts
}
