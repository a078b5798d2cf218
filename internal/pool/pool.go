// Package pool implements the Connection Pool (C2): one pool entry per
// connection identity (dialect, host, port, database, user), shared by
// every session bound to that identity. Acquire/Release follows the
// scoped-borrow pattern from spec §4.2 — callers never hold a connection
// across an LLM call.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/nl2sql/sqlcore/internal/coreerr"
	"github.com/nl2sql/sqlcore/internal/dialect"
	"github.com/nl2sql/sqlcore/utils"
)

// entry is one connection-identity's shared adapter plus its borrow
// bookkeeping. The adapter itself (backed by database/sql) already pools
// physical connections; this layer bounds concurrent *borrowers* and
// evicts idle entries, which is the unit spec §8.7's "live connections
// never exceed max per key" actually governs.
type entry struct {
	mu          sync.Mutex
	adapter     dialect.Adapter
	sem         chan struct{} // capacity = max; acquired while borrowed
	borrowed    int
	lastUsed    time.Time
	min, max    int
	idleTimeout time.Duration
	closed      bool // true once evictIdle has closed and removed this entry
}

// Pool owns every live connection identity for the process.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*entry
	log     *utils.Logger

	defaultMin, defaultMax int
	acquireTimeout         time.Duration
	idleTimeout            time.Duration

	stopJanitor chan struct{}
}

// New constructs a Pool and starts its idle-eviction janitor.
func New(defaultMin, defaultMax int, acquireTimeout, idleTimeout time.Duration) *Pool {
	p := &Pool{
		entries:        make(map[string]*entry),
		log:            utils.GetLogger(),
		defaultMin:     defaultMin,
		defaultMax:     defaultMax,
		acquireTimeout: acquireTimeout,
		idleTimeout:    idleTimeout,
		stopJanitor:    make(chan struct{}),
	}
	go p.janitor()
	return p
}

// Close stops the janitor and closes every pooled adapter.
func (p *Pool) Close() error {
	close(p.stopJanitor)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		e.adapter.Close()
	}
	p.entries = map[string]*entry{}
	return nil
}

func (p *Pool) getOrCreateEntry(ctx context.Context, params dialect.ConnectionParams) (*entry, error) {
	key := params.Key()

	p.mu.RLock()
	e, ok := p.entries[key]
	p.mu.RUnlock()
	if ok {
		return e, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e, nil
	}

	adapter, err := dialect.Connect(ctx, params)
	if err != nil {
		return nil, err
	}
	e = &entry{
		adapter:     adapter,
		sem:         make(chan struct{}, p.defaultMax),
		lastUsed:    time.Now(),
		min:         p.defaultMin,
		max:         p.defaultMax,
		idleTimeout: p.idleTimeout,
	}
	p.entries[key] = e
	p.log.Info("pool: created connection", utils.String("key", key))
	return e, nil
}

// Borrowed is a handle returned by Acquire; callers must call Release
// exactly once, on every exit path.
type Borrowed struct {
	Adapter dialect.Adapter
	release func()
	done    bool
}

// Release returns the connection to the pool. Safe to call multiple times.
func (b *Borrowed) Release() {
	if b.done {
		return
	}
	b.done = true
	b.release()
}

// Acquire borrows the adapter for the given connection identity, blocking
// up to the pool's acquire timeout if the entry is saturated at max
// concurrent borrowers, then failing with PoolExhausted.
//
// getOrCreateEntry and the semaphore wait below are not atomic with each
// other, so the idle-eviction janitor can close and drop the very entry a
// caller is about to borrow in between the two steps. Acquire re-checks
// entry.closed once it has the semaphore slot and retries against a fresh
// entry rather than handing back an adapter the janitor already closed.
func (p *Pool) Acquire(ctx context.Context, params dialect.ConnectionParams) (*Borrowed, error) {
	key := params.Key()
	acquireCtx := ctx
	var cancel context.CancelFunc
	if p.acquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	for {
		e, err := p.getOrCreateEntry(ctx, params)
		if err != nil {
			return nil, err
		}

		select {
		case e.sem <- struct{}{}:
		case <-acquireCtx.Done():
			p.log.Warn("pool: acquire timed out", utils.String("key", key))
			return nil, coreerr.New(coreerr.KindPoolExhausted, "timed out waiting for a connection from the pool")
		}

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			continue // entry was evicted between getOrCreateEntry and the semaphore wait; retry fresh
		}
		e.borrowed++
		e.mu.Unlock()
		p.log.Debug("pool: acquired connection", utils.String("key", key), utils.Int("borrowed", e.borrowed))

		released := false
		return &Borrowed{
			Adapter: e.adapter,
			release: func() {
				if released {
					return
				}
				released = true
				e.mu.Lock()
				e.borrowed--
				e.lastUsed = time.Now()
				e.mu.Unlock()
				<-e.sem
			},
		}, nil
	}
}

func (p *Pool) janitor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopJanitor:
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for key, e := range p.entries {
		e.mu.Lock()
		idle := e.borrowed == 0 && e.idleTimeout > 0 && now.Sub(e.lastUsed) > e.idleTimeout
		if idle {
			e.closed = true
		}
		e.mu.Unlock()
		if idle {
			e.adapter.Close()
			delete(p.entries, key)
			p.log.Info("pool: evicted idle connection", utils.String("key", key))
		}
	}
}

// Stats reports the current borrow count for a connection identity, used
// by tests of spec §8.7 (pool safety).
func (p *Pool) Stats(params dialect.ConnectionParams) (borrowed, max int, ok bool) {
	p.mu.RLock()
	e, exists := p.entries[params.Key()]
	p.mu.RUnlock()
	if !exists {
		return 0, 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.borrowed, e.max, true
}
