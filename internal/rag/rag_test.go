package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportAndSearchRoundTrip(t *testing.T) {
	s, err := New(HashEmbed, 0)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Import(ctx, Entry{
		Question: "how many orders per customer",
		SQL:      "SELECT customer_id, COUNT(*) FROM orders GROUP BY customer_id",
		Dialect:  "postgresql",
		Success:  true,
	}))

	results, err := s.Search(ctx, "how many orders per customer", "postgresql", "", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].SQL, "GROUP BY")
}

func TestSearchExcludesOtherDialects(t *testing.T) {
	s, err := New(HashEmbed, 0)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Import(ctx, Entry{
		Question: "list customers", SQL: "SELECT * FROM customers", Dialect: "mysql", Success: true,
	}))

	results, err := s.Search(ctx, "list customers", "postgresql", "", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestImportCoalescesDuplicates(t *testing.T) {
	s, err := New(HashEmbed, 0)
	require.NoError(t, err)
	ctx := context.Background()

	e := Entry{Question: "top customers", SQL: "SELECT * FROM customers LIMIT 1", Dialect: "sqlite", Success: true}
	require.NoError(t, s.Import(ctx, e))
	require.NoError(t, s.Import(ctx, e))

	assert.Equal(t, 1, s.Count())
}

func TestClearRemovesAllEntries(t *testing.T) {
	s, err := New(HashEmbed, 0)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Import(ctx, Entry{Question: "q", SQL: "SELECT 1", Dialect: "sqlite", Success: true}))
	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Count())
}
