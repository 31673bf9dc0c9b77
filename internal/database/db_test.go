package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InMemory(t *testing.T) {
	db, err := New(context.Background(), Config{Path: MemoryPath, Name: "test"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "test", db.Name())
	assert.Equal(t, ProfileStandard, db.Profile())

	// Schema is applied
	var count int
	err = db.Conn().QueryRow("SELECT COUNT(*) FROM recent").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestNew_FileSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "x-change.db")
	ctx := context.Background()

	db, err := New(ctx, Config{Path: path, Name: "recent"})
	require.NoError(t, err)
	_, err = db.Conn().Exec("INSERT INTO recent (currencies, rate, amount, timestamp) VALUES ('USD_ZMW', 18.5, 10, 1)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := New(ctx, Config{Path: path, Name: "recent"})
	require.NoError(t, err)
	defer reopened.Close()

	var rate float64
	err = reopened.Conn().QueryRow("SELECT rate FROM recent WHERE currencies = 'USD_ZMW'").Scan(&rate)
	require.NoError(t, err)
	assert.Equal(t, 18.5, rate)
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestBuildConnectionString(t *testing.T) {
	assert.Equal(t,
		"data.db?_pragma=journal_mode(WAL)&_pragma=synchronous(OFF)&_pragma=temp_store(MEMORY)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		buildConnectionString("data.db", ProfileCache),
	)
	assert.Equal(t,
		":memory:?_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		buildConnectionString(MemoryPath, ProfileStandard),
	)
}

func TestLazy_OpensOnceForConcurrentCallers(t *testing.T) {
	var opens atomic.Int32
	release := make(chan struct{})

	lazy := NewLazyFunc(func(ctx context.Context) (*DB, error) {
		opens.Add(1)
		<-release
		return New(ctx, Config{Path: MemoryPath, Name: "lazy"})
	})
	defer lazy.Close()

	const callers = 8
	results := make([]*DB, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := lazy.Get(context.Background())
			assert.NoError(t, err)
			results[i] = db
		}(i)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), opens.Load())
	for _, db := range results {
		assert.Same(t, results[0], db)
	}
}

func TestLazy_MemoizesError(t *testing.T) {
	var opens atomic.Int32
	openErr := errors.New("disk full")

	lazy := NewLazyFunc(func(ctx context.Context) (*DB, error) {
		opens.Add(1)
		return nil, openErr
	})

	_, err := lazy.Get(context.Background())
	assert.ErrorIs(t, err, openErr)
	_, err = lazy.Get(context.Background())
	assert.ErrorIs(t, err, openErr)
	assert.Equal(t, int32(1), opens.Load())
}

func TestLazy_CallerContextCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	lazy := NewLazyFunc(func(ctx context.Context) (*DB, error) {
		<-release
		return nil, errors.New("never used")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := lazy.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
