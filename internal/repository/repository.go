package repository

import (
	"context"
	"fmt"

	"github.com/patteeraL/movra/services/currency-converter/internal/model"
)

// OrderBy selects the ordering of a record listing
type OrderBy string

const (
	// OrderInsertion lists records in the order their pair was first stored
	OrderInsertion OrderBy = "insertion"
	// OrderTimestamp lists records by timestamp, most recent first
	OrderTimestamp OrderBy = "timestamp"
)

// ParseOrderBy maps external names (including the "by-date" index name) to an OrderBy
func ParseOrderBy(s string) (OrderBy, error) {
	switch s {
	case "", string(OrderTimestamp), "by-date":
		return OrderTimestamp, nil
	case string(OrderInsertion):
		return OrderInsertion, nil
	default:
		return "", fmt.Errorf("unknown ordering %q", s)
	}
}

// RecordStore defines the storage operations for recent conversions
type RecordStore interface {
	// AddRecord upserts the record by its currency pair and stamps it with
	// the current time. The record's Timestamp is updated in place.
	AddRecord(ctx context.Context, record *model.ConversionRecord) error

	// GetRecord returns nil, nil if the pair has no record
	GetRecord(ctx context.Context, key string) (*model.ConversionRecord, error)

	// ListRecords re-reads every record from storage in the given order
	ListRecords(ctx context.Context, orderBy OrderBy) ([]model.ConversionRecord, error)

	// DeleteRecord removes a record. Deleting a missing key is not an error.
	DeleteRecord(ctx context.Context, key string) error

	// Count returns the number of stored records
	Count(ctx context.Context) (int, error)

	// WithWriteTx runs fn inside the store's write transaction. Deletions
	// made through the Tx commit together when fn returns nil.
	WithWriteTx(ctx context.Context, fn func(tx Tx) error) error

	// Health checks if the store is reachable
	Health(ctx context.Context) error
}

// Tx is the view of a write transaction given to WithWriteTx callbacks
type Tx interface {
	// OpenCursor snapshots the record keys in the given order
	OpenCursor(ctx context.Context, orderBy OrderBy, descending bool) (Cursor, error)

	// Delete removes a record as part of the transaction
	Delete(ctx context.Context, key string) error
}

// ErrNotFound is returned when a requested item is not in the repository
type ErrNotFound struct {
	Key string
}

func (e ErrNotFound) Error() string {
	return "not found: " + e.Key
}

// StorageWriteError is returned when the storage medium rejects a write
type StorageWriteError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageWriteError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage write failed (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage write failed (%s %s): %v", e.Op, e.Key, e.Err)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Err
}
