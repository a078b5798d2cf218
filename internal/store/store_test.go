package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql/sqlcore/internal/ontology"
	"github.com/nl2sql/sqlcore/internal/rag"
)

func sampleOntology() *ontology.Ontology {
	return &ontology.Ontology{
		Concepts: map[string]ontology.Concept{
			"Customer": {
				Name: "Customer", Tables: []string{"customers"},
				Properties: []ontology.Property{{Name: "email", MapsTo: ontology.ColumnRef{Table: "customers", Column: "email"}, Confidence: 0.9}},
			},
		},
		GeneratedAt: time.Now().Truncate(time.Second),
		SourceHash:  "abc123",
	}
}

func TestSaveAndLoadOntologyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	ont := sampleOntology()
	filename, err := s.SaveOntology(ctx, "pg|localhost|5432|shop|app", ont, 3)
	require.NoError(t, err)
	assert.Contains(t, filename, "abc123")

	loaded, ok, err := s.LoadOntology(ctx, "pg|localhost|5432|shop|app")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ont.SourceHash, loaded.SourceHash)
	assert.Contains(t, loaded.Concepts, "Customer")
}

func TestLoadOntologyMissingReturnsFalse(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.LoadOntology(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveOntologyOverwritesPriorForSameConnection(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	first := sampleOntology()
	_, err = s.SaveOntology(ctx, "key", first, 3)
	require.NoError(t, err)

	second := sampleOntology()
	second.SourceHash = "newhash"
	_, err = s.SaveOntology(ctx, "key", second, 3)
	require.NoError(t, err)

	loaded, ok, err := s.LoadOntology(ctx, "key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "newhash", loaded.SourceHash)
}

func TestRAGEntryPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	e := rag.Entry{Question: "find vendors", SQL: "SELECT * FROM vendors", Dialect: "postgresql", Success: true}
	require.NoError(t, s.SaveRAGEntry(ctx, e))

	entries, err := s.LoadRAGEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "find vendors", entries[0].Question)

	require.NoError(t, s.ClearRAGEntries(ctx))
	entries, err = s.LoadRAGEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
