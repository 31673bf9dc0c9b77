package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/patteeraL/movra/services/currency-converter/internal/database"
	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"github.com/patteeraL/movra/services/currency-converter/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clockedStore interface {
	repository.RecordStore
	SetClock(func() time.Time)
}

func stepClock() func() time.Time {
	var mu sync.Mutex
	next := int64(1)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := time.UnixMilli(next)
		next++
		return t
	}
}

func newSQLiteStore(t *testing.T) clockedStore {
	t.Helper()
	db, err := database.New(context.Background(), database.Config{Path: database.MemoryPath, Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repository.NewSQLiteRecordStore(database.FromDB(db))
}

func newRedisStore(t *testing.T) clockedStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return repository.NewRedisRecordStore(client, "")
}

var backends = map[string]func(t *testing.T) clockedStore{
	"sqlite": newSQLiteStore,
	"redis":  newRedisStore,
}

func fill(t *testing.T, store repository.RecordStore, n int) []string {
	t.Helper()
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = fmt.Sprintf("USD_C%02d", i)
		rec := &model.ConversionRecord{Currencies: keys[i], Rate: float64(i + 1), Amount: 10}
		require.NoError(t, store.AddRecord(context.Background(), rec))
	}
	return keys
}

func listPairs(t *testing.T, store repository.RecordStore) []string {
	t.Helper()
	records, err := store.ListRecords(context.Background(), repository.OrderTimestamp)
	require.NoError(t, err)
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Currencies
	}
	return out
}

func TestEnforceLimit_KeepsMostRecent(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			store.SetClock(stepClock())
			keys := fill(t, store, 8)

			deleted, err := EnforceLimit(context.Background(), store, 5, repository.OrderTimestamp)
			require.NoError(t, err)
			assert.Equal(t, 3, deleted)

			// Newest first: C07..C03
			assert.Equal(t, []string{keys[7], keys[6], keys[5], keys[4], keys[3]}, listPairs(t, store))
		})
	}
}

func TestEnforceLimit_FewerThanKeepCountIsNoop(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			store.SetClock(stepClock())
			fill(t, store, 3)

			deleted, err := EnforceLimit(context.Background(), store, 5, repository.OrderTimestamp)
			require.NoError(t, err)
			assert.Zero(t, deleted)
			assert.Len(t, listPairs(t, store), 3)
		})
	}
}

func TestEnforceLimit_EmptyStore(t *testing.T) {
	store := newSQLiteStore(t)

	deleted, err := EnforceLimit(context.Background(), store, 5, repository.OrderTimestamp)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestEnforceLimit_KeepZeroDeletesAll(t *testing.T) {
	store := newSQLiteStore(t)
	store.SetClock(stepClock())
	fill(t, store, 4)

	deleted, err := EnforceLimit(context.Background(), store, 0, repository.OrderTimestamp)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)
	assert.Empty(t, listPairs(t, store))
}

func TestEnforceLimit_NegativeKeepCount(t *testing.T) {
	_, err := EnforceLimit(context.Background(), newSQLiteStore(t), -1, repository.OrderTimestamp)
	assert.ErrorIs(t, err, ErrInvalidKeepCount)
}

func TestEnforceLimit_LargeStoreTerminates(t *testing.T) {
	store := newSQLiteStore(t)
	store.SetClock(stepClock())
	fill(t, store, 500)

	deleted, err := EnforceLimit(context.Background(), store, 5, repository.OrderTimestamp)
	require.NoError(t, err)
	assert.Equal(t, 495, deleted)
	assert.Len(t, listPairs(t, store), 5)
}

func TestEnforceLimit_ConcurrentAddOfDifferentKeySurvives(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			store.SetClock(stepClock())
			fill(t, store, 8)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := EnforceLimit(context.Background(), store, 5, repository.OrderTimestamp)
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				rec := &model.ConversionRecord{Currencies: "EUR_NEW", Rate: 2, Amount: 1}
				assert.NoError(t, store.AddRecord(context.Background(), rec))
			}()
			wg.Wait()

			// The newest record is never a deletion candidate
			got, err := store.GetRecord(context.Background(), "EUR_NEW")
			require.NoError(t, err)
			assert.NotNil(t, got)

			_, err = EnforceLimit(context.Background(), store, 5, repository.OrderTimestamp)
			require.NoError(t, err)
			assert.Len(t, listPairs(t, store), 5)
		})
	}
}

// mockTx records deletions and can fail on a given key
type mockTx struct {
	keys    []string
	deleted []string
	failOn  string
}

type mockStore struct {
	tx        *mockTx
	committed bool
}

func (m *mockStore) WithWriteTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := fn(m.tx); err != nil {
		return err
	}
	m.committed = true
	return nil
}

func (m *mockTx) OpenCursor(ctx context.Context, orderBy repository.OrderBy, descending bool) (repository.Cursor, error) {
	return &mockCursor{tx: m}, nil
}

func (m *mockTx) Delete(ctx context.Context, key string) error {
	if key == m.failOn {
		return errors.New("quota exceeded")
	}
	m.deleted = append(m.deleted, key)
	return nil
}

type mockCursor struct {
	tx  *mockTx
	pos int
}

func (c *mockCursor) Valid() bool                      { return c.pos < len(c.tx.keys) }
func (c *mockCursor) Key() string                      { return c.tx.keys[c.pos] }
func (c *mockCursor) Advance(n int)                    { c.pos += n }
func (c *mockCursor) Continue()                        { c.pos++ }
func (c *mockCursor) Delete(ctx context.Context) error { return c.tx.Delete(ctx, c.Key()) }

func TestEnforceLimit_DeletesInCursorOrder(t *testing.T) {
	store := &mockStore{tx: &mockTx{keys: []string{"a", "b", "c", "d", "e"}}}

	deleted, err := EnforceLimit(context.Background(), store, 2, repository.OrderTimestamp)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Equal(t, []string{"c", "d", "e"}, store.tx.deleted)
	assert.True(t, store.committed)
}

func TestEnforceLimit_DeleteErrorAbortsTransaction(t *testing.T) {
	store := &mockStore{tx: &mockTx{keys: []string{"a", "b", "c", "d"}, failOn: "c"}}

	_, err := EnforceLimit(context.Background(), store, 1, repository.OrderTimestamp)
	assert.Error(t, err)
	assert.False(t, store.committed)
}

type countingRecorder struct {
	total int
	calls int
}

func (r *countingRecorder) RecordRetentionDeleted(count int) {
	r.total += count
	r.calls++
}

func TestEnforcer_RecordsDeletions(t *testing.T) {
	store := newSQLiteStore(t)
	store.SetClock(stepClock())
	fill(t, store, 7)

	recorder := &countingRecorder{}
	enforcer, err := NewEnforcer(store, DefaultKeepCount, "", recorder, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 5, enforcer.KeepCount())

	deleted, err := enforcer.Enforce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	deleted, err = enforcer.Enforce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)

	assert.Equal(t, 2, recorder.total)
	assert.Equal(t, 2, recorder.calls)
}

func TestNewEnforcer_RejectsNegative(t *testing.T) {
	_, err := NewEnforcer(newSQLiteStore(t), -3, repository.OrderTimestamp, nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidKeepCount)
}
