package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	// Default key prefix for Redis
	defaultKeyPrefix = "recent:"

	// Attempts made when a watched key changes under a write transaction
	maxTxAttempts = 5
)

// RedisRecordStore implements RecordStore using Redis.
// Each record is a JSON string; two sorted sets index the pairs by
// timestamp ("by-date") and by first insertion.
type RedisRecordStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
	mu     sync.Mutex
}

// NewRedisRecordStore creates a new Redis-backed record store
func NewRedisRecordStore(client *redis.Client, prefix string) *RedisRecordStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisRecordStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// SetClock replaces the time source (useful for testing)
func (r *RedisRecordStore) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// recordKey generates the Redis key for a record
func (r *RedisRecordStore) recordKey(pair string) string {
	return r.prefix + "record:" + pair
}

func (r *RedisRecordStore) byDateKey() string {
	return r.prefix + "by-date"
}

func (r *RedisRecordStore) byInsertionKey() string {
	return r.prefix + "by-insertion"
}

func (r *RedisRecordStore) seqKey() string {
	return r.prefix + "seq"
}

// AddRecord upserts the record and refreshes its position in the by-date index
func (r *RedisRecordStore) AddRecord(ctx context.Context, record *model.ConversionRecord) error {
	if record == nil || record.Currencies == "" {
		return fmt.Errorf("record must have a currency pair")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var latest int64
	top, err := r.client.ZRevRangeWithScores(ctx, r.byDateKey(), 0, 0).Result()
	if err != nil {
		return &StorageWriteError{Op: "put", Key: record.Currencies, Err: err}
	}
	if len(top) > 0 {
		latest = int64(top[0].Score)
	}

	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return &StorageWriteError{Op: "put", Key: record.Currencies, Err: err}
	}

	stored := *record
	stored.Timestamp = nextTimestamp(r.now(), latest)

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(stored.Currencies), data, 0)
		pipe.ZAdd(ctx, r.byDateKey(), redis.Z{Score: float64(stored.Timestamp), Member: stored.Currencies})
		pipe.ZAddNX(ctx, r.byInsertionKey(), redis.Z{Score: float64(seq), Member: stored.Currencies})
		return nil
	})
	if err != nil {
		return &StorageWriteError{Op: "put", Key: record.Currencies, Err: err}
	}

	record.Timestamp = stored.Timestamp
	return nil
}

// GetRecord retrieves a record by its currency pair
func (r *RedisRecordStore) GetRecord(ctx context.Context, key string) (*model.ConversionRecord, error) {
	data, err := r.client.Get(ctx, r.recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var record model.ConversionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return &record, nil
}

// ListRecords reads every record in the requested order
func (r *RedisRecordStore) ListRecords(ctx context.Context, orderBy OrderBy) ([]model.ConversionRecord, error) {
	pairs, err := r.orderedPairs(ctx, r.client, orderBy, orderBy == OrderTimestamp)
	if err != nil {
		return nil, err
	}

	records := make([]model.ConversionRecord, 0, len(pairs))
	if len(pairs) == 0 {
		return records, nil
	}

	keys := make([]string, len(pairs))
	for i, pair := range pairs {
		keys[i] = r.recordKey(pair)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // Index entry without a record
		}
		var record model.ConversionRecord
		if err := json.Unmarshal([]byte(s), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, record)
	}

	return records, nil
}

// zRanger is the subset of commands shared by *redis.Client and *redis.Tx
type zRanger interface {
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

func (r *RedisRecordStore) orderedPairs(ctx context.Context, c zRanger, orderBy OrderBy, descending bool) ([]string, error) {
	var key string
	switch orderBy {
	case OrderTimestamp:
		key = r.byDateKey()
	case OrderInsertion:
		key = r.byInsertionKey()
	default:
		return nil, fmt.Errorf("unknown ordering %q", orderBy)
	}

	var (
		pairs []string
		err   error
	)
	if descending {
		pairs, err = c.ZRevRange(ctx, key, 0, -1).Result()
	} else {
		pairs, err = c.ZRange(ctx, key, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s index: %w", orderBy, err)
	}
	return pairs, nil
}

// DeleteRecord removes a record and its index entries
func (r *RedisRecordStore) DeleteRecord(ctx context.Context, key string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.queueDelete(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return &StorageWriteError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (r *RedisRecordStore) queueDelete(ctx context.Context, pipe redis.Pipeliner, key string) {
	pipe.Del(ctx, r.recordKey(key))
	pipe.ZRem(ctx, r.byDateKey(), key)
	pipe.ZRem(ctx, r.byInsertionKey(), key)
}

// Count returns the number of indexed records
func (r *RedisRecordStore) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.byDateKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(n), nil
}

// WithWriteTx watches both indexes, runs fn and applies its deletions in
// one MULTI/EXEC. If a concurrent writer touches an index the whole
// transaction, fn included, is retried.
func (r *RedisRecordStore) WithWriteTx(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		var execErr error

		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			rtx := &redisTx{store: r, tx: tx}
			if err := fn(rtx); err != nil {
				return err
			}
			if len(rtx.pending) == 0 {
				return nil
			}

			_, execErr = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, key := range rtx.pending {
					r.queueDelete(ctx, pipe, key)
				}
				return nil
			})
			return execErr
		}, r.byDateKey(), r.byInsertionKey())

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && err == execErr {
			return &StorageWriteError{Op: "commit", Err: err}
		}
		return err
	}

	return &StorageWriteError{Op: "commit", Err: redis.TxFailedErr}
}

// Health checks if Redis is healthy
func (r *RedisRecordStore) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type redisTx struct {
	store   *RedisRecordStore
	tx      *redis.Tx
	pending []string
}

func (t *redisTx) OpenCursor(ctx context.Context, orderBy OrderBy, descending bool) (Cursor, error) {
	pairs, err := t.store.orderedPairs(ctx, t.tx, orderBy, descending)
	if err != nil {
		return nil, err
	}
	return newKeyCursor(pairs, t.Delete), nil
}

// Delete queues the key; it is removed when the transaction executes
func (t *redisTx) Delete(_ context.Context, key string) error {
	t.pending = append(t.pending, key)
	return nil
}
