package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql/sqlcore/internal/dialect"
)

func sqliteParams(t *testing.T) dialect.ConnectionParams {
	t.Helper()
	return dialect.ConnectionParams{Dialect: dialect.SQLite, File: ":memory:"}
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := New(1, 2, time.Second, time.Minute)
	defer p.Close()

	params := sqliteParams(t)
	b, err := p.Acquire(context.Background(), params)
	require.NoError(t, err)
	require.NotNil(t, b.Adapter)

	borrowed, max, ok := p.Stats(params)
	require.True(t, ok)
	assert.Equal(t, 1, borrowed)
	assert.Equal(t, 2, max)

	b.Release()
	borrowed, _, _ = p.Stats(params)
	assert.Equal(t, 0, borrowed)

	// Release is idempotent.
	b.Release()
	borrowed, _, _ = p.Stats(params)
	assert.Equal(t, 0, borrowed)
}

func TestAcquireBlocksAtMaxThenExhausts(t *testing.T) {
	p := New(1, 1, 50*time.Millisecond, time.Minute)
	defer p.Close()

	params := sqliteParams(t)
	first, err := p.Acquire(context.Background(), params)
	require.NoError(t, err)
	defer first.Release()

	_, err = p.Acquire(context.Background(), params)
	assert.Error(t, err, "second acquire at max=1 must fail with PoolExhausted")
}

func TestPoolNeverExceedsMaxUnderConcurrency(t *testing.T) {
	const max = 3
	p := New(1, max, 2*time.Second, time.Minute)
	defer p.Close()

	params := sqliteParams(t)
	var wg sync.WaitGroup
	var mu sync.Mutex
	peak := 0
	current := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := p.Acquire(context.Background(), params)
			if err != nil {
				return
			}
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			b.Release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, max)
}

func TestAcquireRetriesWhenEntryClosedJustBeforeSemaphore(t *testing.T) {
	p := New(1, 1, time.Second, time.Minute)
	defer p.Close()

	params := sqliteParams(t)
	e, err := p.getOrCreateEntry(context.Background(), params)
	require.NoError(t, err)

	// Simulate evictIdle winning the race right after Acquire resolved this
	// entry but before it reached the semaphore wait.
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	p.mu.Lock()
	delete(p.entries, params.Key())
	p.mu.Unlock()

	b, err := p.Acquire(context.Background(), params)
	require.NoError(t, err)
	require.NotNil(t, b.Adapter)
	assert.NotSame(t, e.adapter, b.Adapter, "Acquire must not hand back the closed entry's adapter")
	b.Release()
}
