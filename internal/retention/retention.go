// Package retention trims the recent conversions store to its newest records.
package retention

import (
	"context"
	"errors"
	"fmt"

	"github.com/patteeraL/movra/services/currency-converter/internal/repository"
	"go.uber.org/zap"
)

// DefaultKeepCount is the number of recent conversions kept by default
const DefaultKeepCount = 5

// ErrInvalidKeepCount is returned for a negative keep count
var ErrInvalidKeepCount = errors.New("keep count must not be negative")

// TxStore is the part of a record store the policy needs
type TxStore interface {
	WithWriteTx(ctx context.Context, fn func(tx repository.Tx) error) error
}

// EnforceLimit keeps the first keepCount records of the descending orderBy
// ordering and deletes the rest, all inside one write transaction.
// It returns the number of records deleted.
func EnforceLimit(ctx context.Context, store TxStore, keepCount int, orderBy repository.OrderBy) (int, error) {
	if keepCount < 0 {
		return 0, ErrInvalidKeepCount
	}

	var deleted int
	err := store.WithWriteTx(ctx, func(tx repository.Tx) error {
		// The callback may be retried by the store
		deleted = 0

		cursor, err := tx.OpenCursor(ctx, orderBy, true)
		if err != nil {
			return err
		}

		cursor.Advance(keepCount)
		for cursor.Valid() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := cursor.Delete(ctx); err != nil {
				return err
			}
			deleted++
			cursor.Continue()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to enforce retention: %w", err)
	}

	return deleted, nil
}

// Recorder receives retention measurements
type Recorder interface {
	RecordRetentionDeleted(count int)
}

// Enforcer applies a fixed policy to one store
type Enforcer struct {
	store     TxStore
	keepCount int
	orderBy   repository.OrderBy
	metrics   Recorder
	logger    *zap.Logger
}

// NewEnforcer creates an Enforcer. A nil recorder disables metrics.
func NewEnforcer(store TxStore, keepCount int, orderBy repository.OrderBy, metrics Recorder, logger *zap.Logger) (*Enforcer, error) {
	if keepCount < 0 {
		return nil, ErrInvalidKeepCount
	}
	if orderBy == "" {
		orderBy = repository.OrderTimestamp
	}
	return &Enforcer{
		store:     store,
		keepCount: keepCount,
		orderBy:   orderBy,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// KeepCount returns the configured limit
func (e *Enforcer) KeepCount() int {
	return e.keepCount
}

// Enforce trims the store
func (e *Enforcer) Enforce(ctx context.Context) (int, error) {
	deleted, err := EnforceLimit(ctx, e.store, e.keepCount, e.orderBy)
	if err != nil {
		e.logger.Error("Retention failed", zap.Int("keep", e.keepCount), zap.Error(err))
		return 0, err
	}

	if deleted > 0 {
		e.logger.Debug("Trimmed recent conversions",
			zap.Int("keep", e.keepCount),
			zap.Int("deleted", deleted),
		)
	}
	if e.metrics != nil {
		e.metrics.RecordRetentionDeleted(deleted)
	}

	return deleted, nil
}
