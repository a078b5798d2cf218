// Package snapstore implements the Schema Snapshot Store (C3): a
// TTL-cached wrapper around a Dialect Adapter's snapshot() call, keyed by
// (connection key, schema name), with concurrent-miss collapsing so N
// simultaneous callers for the same cold key trigger exactly one
// adapter round-trip.
package snapstore

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nl2sql/sqlcore/internal/dialect"
	"github.com/nl2sql/sqlcore/internal/schema"
	"github.com/nl2sql/sqlcore/utils"
)

type cached struct {
	snapshot  *schema.Snapshot
	fetchedAt time.Time
}

// Store caches snapshots per (connectionKey, schemaName) with a
// configurable TTL (default 1 hour, spec §4.3).
type Store struct {
	mu    sync.RWMutex
	items map[string]cached
	ttl   time.Duration
	group singleflight.Group
	log   *utils.Logger
}

// New constructs a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{items: make(map[string]cached), ttl: ttl, log: utils.GetLogger()}
}

func cacheKey(connectionKey, schemaName string) string { return connectionKey + "::" + schemaName }

// Get returns a cached snapshot if fresh, or calls fetch to populate one
// on miss or expiry. sampleRowsPerTable is forwarded to the adapter only
// on a real fetch.
func (s *Store) Get(ctx context.Context, connectionKey, schemaName string, sampleRowsPerTable int, adapter dialect.Adapter) (*schema.Snapshot, error) {
	key := cacheKey(connectionKey, schemaName)

	s.mu.RLock()
	c, ok := s.items[key]
	s.mu.RUnlock()
	if ok && s.ttl > 0 && time.Since(c.fetchedAt) < s.ttl {
		s.log.Debug("snapstore: cache hit", utils.String("key", key))
		return c.snapshot, nil
	}

	result, err, shared := s.group.Do(key, func() (any, error) {
		s.log.Info("snapstore: cache miss, fetching snapshot", utils.String("key", key))
		snap, err := adapter.Snapshot(ctx, schemaName, sampleRowsPerTable)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.items[key] = cached{snapshot: snap, fetchedAt: time.Now()}
		s.mu.Unlock()
		return snap, nil
	})
	if shared {
		s.log.Debug("snapstore: joined in-flight fetch", utils.String("key", key))
	}
	if err != nil {
		return nil, err
	}
	return result.(*schema.Snapshot), nil
}

// Invalidate drops a cached snapshot, forcing the next Get to re-fetch.
func (s *Store) Invalidate(connectionKey, schemaName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, cacheKey(connectionKey, schemaName))
}
