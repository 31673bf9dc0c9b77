package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisRecordStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisRecordStore(client, "")
	store.SetClock(stepClock(1))
	return store, mr
}

func TestRedisAddRecord_OverwriteScenario(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	add(t, store, "USD_ZMW", 18.1, 10)
	add(t, store, "EUR_USD", 1.08, 20)
	add(t, store, "GBP_USD", 1.26, 30)
	add(t, store, "USD_ZMW", 18.4, 40)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := store.ListRecords(ctx, OrderTimestamp)
	require.NoError(t, err)
	assert.Equal(t, []string{"USD_ZMW", "GBP_USD", "EUR_USD"}, pairs(records))
	assert.Equal(t, int64(4), records[0].Timestamp)
	assert.Equal(t, 18.4, records[0].Rate)

	records, err = store.ListRecords(ctx, OrderInsertion)
	require.NoError(t, err)
	assert.Equal(t, []string{"USD_ZMW", "EUR_USD", "GBP_USD"}, pairs(records))
}

func TestRedisGetAndDeleteRecord(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	add(t, store, "USD_ZMW", 18.1, 10)
	assert.True(t, mr.Exists("recent:record:USD_ZMW"))

	got, err := store.GetRecord(ctx, "USD_ZMW")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, float64(10), got.Amount)

	require.NoError(t, store.DeleteRecord(ctx, "USD_ZMW"))
	require.NoError(t, store.DeleteRecord(ctx, "USD_ZMW"))

	got, err = store.GetRecord(ctx, "USD_ZMW")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisWithWriteTx_AppliesQueuedDeletes(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	add(t, store, "USD_ZMW", 18.1, 10)
	add(t, store, "EUR_USD", 1.08, 20)
	add(t, store, "GBP_USD", 1.26, 30)

	err := store.WithWriteTx(ctx, func(tx Tx) error {
		cur, err := tx.OpenCursor(ctx, OrderTimestamp, true)
		if err != nil {
			return err
		}
		cur.Advance(1)
		for cur.Valid() {
			if err := cur.Delete(ctx); err != nil {
				return err
			}
			cur.Continue()
		}
		return nil
	})
	require.NoError(t, err)

	records, err := store.ListRecords(ctx, OrderTimestamp)
	require.NoError(t, err)
	assert.Equal(t, []string{"GBP_USD"}, pairs(records))
}

func TestRedisListRecords_SkipsDanglingIndexEntries(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	add(t, store, "USD_ZMW", 18.1, 10)
	add(t, store, "EUR_USD", 1.08, 20)
	mr.Del("recent:record:USD_ZMW")

	records, err := store.ListRecords(ctx, OrderTimestamp)
	require.NoError(t, err)
	assert.Equal(t, []string{"EUR_USD"}, pairs(records))
}

func TestRedisAddRecord_Unavailable(t *testing.T) {
	store, mr := newTestRedisStore(t)
	mr.Close()

	err := store.AddRecord(context.Background(), &model.ConversionRecord{Currencies: "USD_ZMW"})

	var writeErr *StorageWriteError
	assert.ErrorAs(t, err, &writeErr)
	assert.Error(t, store.Health(context.Background()))
}
