// Package session implements the Session Manager half of C2: opaque
// session identifiers over a connection identity, with an idle-timeout
// eviction that is explicit and distinguishable from "unknown session".
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nl2sql/sqlcore/internal/coreerr"
	"github.com/nl2sql/sqlcore/internal/dialect"
	"github.com/nl2sql/sqlcore/internal/schema"
	"github.com/nl2sql/sqlcore/utils"
)

// Session is the in-memory record the spec's §3 data model describes.
// Params keeps the full ConnectionParams, Password included, so pool
// connections can be re-acquired; Redacted returns a copy without it.
type Session struct {
	ID             string
	Params         dialect.ConnectionParams // retained internally to re-acquire pool connections
	LastAccessed   time.Time
	SnapshotRef    *schema.Snapshot
	SelectedTables []string
	createdAt      time.Time
}

// Redacted returns a copy of Params with Password cleared, safe to log or
// return to a caller.
func (s *Session) Redacted() dialect.ConnectionParams {
	p := s.Params
	p.Password = ""
	return p
}

// Manager owns every live session for the process.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	stop        chan struct{}
	log         *utils.Logger
}

// NewManager starts a Manager whose sessions are evicted after idleTimeout
// of inactivity.
func NewManager(idleTimeout time.Duration) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		stop:        make(chan struct{}),
		log:         utils.GetLogger(),
	}
	go m.janitor()
	return m
}

// Close stops the eviction janitor.
func (m *Manager) Close() { close(m.stop) }

// Create issues a new opaque session for a connected dialect adapter.
func (m *Manager) Create(params dialect.ConnectionParams) *Session {
	now := time.Now()
	s := &Session{
		ID:           uuid.New().String(),
		Params:       params,
		LastAccessed: now,
		createdAt:    now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.log.Info("session: created", utils.String("session_id", s.ID))
	return s
}

// Get looks up a session by ID in O(1), touching LastAccessed. Returns
// SessionExpired if the session existed but aged out, or UnknownSession if
// the ID was never issued (or was already reaped) — the spec requires
// these two to be distinguishable, so expiry is detected lazily here
// rather than purely by the janitor.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		m.log.Warn("session: lookup failed, unknown id", utils.String("session_id", id))
		return nil, coreerr.New(coreerr.KindUnknownSession, "no session with id "+id)
	}
	if m.idleTimeout > 0 && time.Since(s.LastAccessed) > m.idleTimeout {
		delete(m.sessions, id)
		m.log.Warn("session: expired", utils.String("session_id", id))
		return nil, coreerr.New(coreerr.KindSessionExpired, "session "+id+" idle past timeout")
	}
	s.LastAccessed = time.Now()
	return s, nil
}

// Delete tears down a session (disconnect()). The underlying pool entry is
// untouched — other sessions may still reference the same connection identity.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	m.log.Info("session: disconnected", utils.String("session_id", id))
}

// SelectTables restricts the tables a future ask() call may consider.
func (m *Manager) SelectTables(id string, tables []string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	s.SelectedTables = tables
	m.mu.Unlock()
	return nil
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *Manager) evictExpired() {
	if m.idleTimeout <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, s := range m.sessions {
		if now.Sub(s.LastAccessed) > m.idleTimeout {
			delete(m.sessions, id)
			m.log.Info("session: janitor evicted idle session", utils.String("session_id", id))
		}
	}
}

// Count returns the number of live sessions, for tests and diagnostics.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
