package repository

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/patteeraL/movra/services/currency-converter/internal/database"
	"github.com/patteeraL/movra/services/currency-converter/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock returns a clock that advances by one millisecond per call,
// starting at the given millisecond
func stepClock(startMs int64) func() time.Time {
	next := startMs
	return func() time.Time {
		t := time.UnixMilli(next)
		next++
		return t
	}
}

// fixedClock always returns the same instant
func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func newTestSQLiteStore(t *testing.T) *SQLiteRecordStore {
	t.Helper()
	db, err := database.New(context.Background(), database.Config{Path: database.MemoryPath, Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewSQLiteRecordStore(database.FromDB(db))
	store.SetClock(stepClock(1))
	return store
}

func add(t *testing.T, store RecordStore, pair string, rate, amount float64) model.ConversionRecord {
	t.Helper()
	rec := &model.ConversionRecord{Currencies: pair, Rate: rate, Amount: amount}
	require.NoError(t, store.AddRecord(context.Background(), rec))
	return *rec
}

func pairs(records []model.ConversionRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Currencies
	}
	return out
}

func TestSQLiteAddRecord_OverwriteScenario(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	add(t, store, "USD_ZMW", 18.1, 10)
	add(t, store, "EUR_USD", 1.08, 20)
	add(t, store, "GBP_USD", 1.26, 30)
	last := add(t, store, "USD_ZMW", 18.4, 40)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := store.ListRecords(ctx, OrderTimestamp)
	require.NoError(t, err)
	assert.Equal(t, []string{"USD_ZMW", "GBP_USD", "EUR_USD"}, pairs(records))
	assert.Equal(t, []int64{4, 3, 2}, []int64{records[0].Timestamp, records[1].Timestamp, records[2].Timestamp})

	// The overwrite keeps the latest values
	assert.Equal(t, last, records[0])
	assert.Equal(t, 18.4, records[0].Rate)
	assert.Equal(t, float64(40), records[0].Amount)
}

func TestSQLiteListRecords_InsertionOrder(t *testing.T) {
	store := newTestSQLiteStore(t)

	add(t, store, "USD_ZMW", 18.1, 10)
	add(t, store, "EUR_USD", 1.08, 20)
	add(t, store, "USD_ZMW", 18.4, 40)

	records, err := store.ListRecords(context.Background(), OrderInsertion)
	require.NoError(t, err)
	assert.Equal(t, []string{"USD_ZMW", "EUR_USD"}, pairs(records))
}

func TestSQLiteListRecords_UnknownOrder(t *testing.T) {
	store := newTestSQLiteStore(t)

	_, err := store.ListRecords(context.Background(), OrderBy("price"))
	assert.Error(t, err)
}

func TestSQLiteAddRecord_ClockStandsStill(t *testing.T) {
	store := newTestSQLiteStore(t)
	store.SetClock(fixedClock(1000))

	a := add(t, store, "USD_ZMW", 18.1, 10)
	b := add(t, store, "EUR_USD", 1.08, 20)
	c := add(t, store, "GBP_USD", 1.26, 30)

	assert.Equal(t, int64(1000), a.Timestamp)
	assert.Equal(t, int64(1001), b.Timestamp)
	assert.Equal(t, int64(1002), c.Timestamp)
}

func TestSQLiteAddRecord_RequiresPair(t *testing.T) {
	store := newTestSQLiteStore(t)

	err := store.AddRecord(context.Background(), &model.ConversionRecord{Rate: 1})
	assert.Error(t, err)
}

func TestSQLiteGetAndDeleteRecord(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	add(t, store, "USD_ZMW", 18.1, 10)

	got, err := store.GetRecord(ctx, "USD_ZMW")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 18.1, got.Rate)

	require.NoError(t, store.DeleteRecord(ctx, "USD_ZMW"))
	// Deleting again is not an error
	require.NoError(t, store.DeleteRecord(ctx, "USD_ZMW"))

	got, err = store.GetRecord(ctx, "USD_ZMW")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteListRecords_RandomSequencesStayOrderedAndUnique(t *testing.T) {
	universe := []string{"USD_ZMW", "EUR_USD", "GBP_USD", "SGD_PHP", "USD_INR", "EUR_GBP"}
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 20; run++ {
		store := newTestSQLiteStore(t)
		ctx := context.Background()

		seen := make(map[string]bool)
		for i := 0; i < 1+rng.Intn(30); i++ {
			pair := universe[rng.Intn(len(universe))]
			// A clock that sometimes repeats itself
			store.SetClock(fixedClock(int64(rng.Intn(5))))
			add(t, store, pair, rng.Float64(), float64(rng.Intn(1000)))
			seen[pair] = true
		}

		records, err := store.ListRecords(ctx, OrderTimestamp)
		require.NoError(t, err)
		assert.Len(t, records, len(seen))

		unique := make(map[string]bool)
		for i, r := range records {
			assert.False(t, unique[r.Currencies], "duplicate pair %s", r.Currencies)
			unique[r.Currencies] = true
			if i > 0 {
				assert.Greater(t, records[i-1].Timestamp, r.Timestamp)
			}
		}
	}
}

func TestSQLiteRecordStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x-change.db")
	ctx := context.Background()

	first := database.NewLazy(database.Config{Path: path, Name: "recent"})
	store := NewSQLiteRecordStore(first)
	add(t, store, "USD_ZMW", 18.1, 10)
	require.NoError(t, first.Close())

	second := database.NewLazy(database.Config{Path: path, Name: "recent"})
	defer second.Close()

	records, err := NewSQLiteRecordStore(second).ListRecords(ctx, OrderTimestamp)
	require.NoError(t, err)
	assert.Equal(t, []string{"USD_ZMW"}, pairs(records))
}

func TestSQLiteWithWriteTx_RollsBackOnError(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	add(t, store, "USD_ZMW", 18.1, 10)
	add(t, store, "EUR_USD", 1.08, 20)

	boom := errors.New("boom")
	err := store.WithWriteTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.Delete(ctx, "USD_ZMW"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteCursor_OrdersKeys(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	add(t, store, "USD_ZMW", 18.1, 10)
	add(t, store, "EUR_USD", 1.08, 20)
	add(t, store, "GBP_USD", 1.26, 30)

	err := store.WithWriteTx(ctx, func(tx Tx) error {
		cur, err := tx.OpenCursor(ctx, OrderTimestamp, true)
		require.NoError(t, err)

		var keys []string
		for ; cur.Valid(); cur.Continue() {
			keys = append(keys, cur.Key())
		}
		assert.Equal(t, []string{"GBP_USD", "EUR_USD", "USD_ZMW"}, keys)

		cur, err = tx.OpenCursor(ctx, OrderTimestamp, false)
		require.NoError(t, err)
		cur.Advance(2)
		assert.Equal(t, "GBP_USD", cur.Key())
		cur.Advance(1)
		assert.False(t, cur.Valid())
		assert.Equal(t, "", cur.Key())
		return nil
	})
	require.NoError(t, err)
}

func TestSQLiteAddRecord_WriteRejected(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(timestamp), 0) FROM recent")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO recent")).
		WillReturnError(errors.New("database or disk is full"))
	mock.ExpectRollback()

	store := NewSQLiteRecordStore(database.FromDB(database.Wrap(conn, "mock")))

	rec := &model.ConversionRecord{Currencies: "USD_ZMW", Rate: 18.1, Amount: 10}
	err = store.AddRecord(context.Background(), rec)

	var writeErr *StorageWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "put", writeErr.Op)
	assert.Equal(t, "USD_ZMW", writeErr.Key)
	assert.Zero(t, rec.Timestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteAddRecord_CommitRejected(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(timestamp), 0) FROM recent")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(5))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO recent")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("transaction aborted"))

	store := NewSQLiteRecordStore(database.FromDB(database.Wrap(conn, "mock")))

	err = store.AddRecord(context.Background(), &model.ConversionRecord{Currencies: "USD_ZMW"})

	var writeErr *StorageWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "commit", writeErr.Op)
}

func TestParseOrderBy(t *testing.T) {
	o, err := ParseOrderBy("by-date")
	require.NoError(t, err)
	assert.Equal(t, OrderTimestamp, o)

	o, err = ParseOrderBy("insertion")
	require.NoError(t, err)
	assert.Equal(t, OrderInsertion, o)

	_, err = ParseOrderBy("alphabetical")
	assert.Error(t, err)
}
