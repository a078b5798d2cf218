package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql/sqlcore/internal/coreerr"
	"github.com/nl2sql/sqlcore/internal/dialect"
)

func TestCreateGetRoundTrip(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()

	s := m.Create(dialect.ConnectionParams{Dialect: dialect.SQLite, File: "/tmp/x.db"})
	require.NotEmpty(t, s.ID)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestUnknownSessionDistinguishedFromExpired(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	defer m.Close()

	_, err := m.Get("does-not-exist")
	assert.True(t, coreerr.Is(err, coreerr.KindUnknownSession))

	s := m.Create(dialect.ConnectionParams{Dialect: dialect.SQLite, File: "/tmp/y.db"})
	time.Sleep(20 * time.Millisecond)

	_, err = m.Get(s.ID)
	assert.True(t, coreerr.Is(err, coreerr.KindSessionExpired))
}

func TestRedactedNeverExposesPassword(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()

	s := m.Create(dialect.ConnectionParams{
		Dialect:  dialect.Postgres,
		Host:     "db.internal",
		Password: "super-secret",
	})
	assert.Empty(t, s.Redacted().Password)
}

func TestDeleteRemovesSession(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()

	s := m.Create(dialect.ConnectionParams{Dialect: dialect.SQLite, File: "/tmp/z.db"})
	m.Delete(s.ID)

	_, err := m.Get(s.ID)
	assert.True(t, coreerr.Is(err, coreerr.KindUnknownSession))
}
