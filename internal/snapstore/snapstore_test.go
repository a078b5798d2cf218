package snapstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql/sqlcore/internal/dialect"
	"github.com/nl2sql/sqlcore/internal/schema"
)

type countingAdapter struct {
	dialect.Adapter
	calls int32
}

func (c *countingAdapter) Snapshot(ctx context.Context, schemaName string, n int) (*schema.Snapshot, error) {
	atomic.AddInt32(&c.calls, 1)
	time.Sleep(5 * time.Millisecond)
	return &schema.Snapshot{SchemaName: schemaName}, nil
}

func TestGetCachesWithinTTL(t *testing.T) {
	s := New(time.Hour)
	a := &countingAdapter{}

	snap1, err := s.Get(context.Background(), "k", "public", 0, a)
	require.NoError(t, err)
	snap2, err := s.Get(context.Background(), "k", "public", 0, a)
	require.NoError(t, err)

	assert.Same(t, snap1, snap2)
	assert.EqualValues(t, 1, a.calls)
}

func TestGetRefetchesAfterExpiry(t *testing.T) {
	s := New(10 * time.Millisecond)
	a := &countingAdapter{}

	_, err := s.Get(context.Background(), "k", "public", 0, a)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = s.Get(context.Background(), "k", "public", 0, a)
	require.NoError(t, err)

	assert.EqualValues(t, 2, a.calls)
}

func TestConcurrentMissesCollapseToOneFetch(t *testing.T) {
	s := New(time.Hour)
	a := &countingAdapter{}

	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, _ = s.Get(context.Background(), "k", "public", 0, a)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	assert.EqualValues(t, 1, a.calls)
}
