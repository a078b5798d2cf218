package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql/sqlcore/internal/erroranalyzer"
	"github.com/nl2sql/sqlcore/internal/rag"
	"github.com/nl2sql/sqlcore/internal/resolver"
	"github.com/nl2sql/sqlcore/internal/schema"
)

func sampleSnapshot() *schema.Snapshot {
	return &schema.Snapshot{
		DatabaseName: "shop",
		Tables: []schema.Table{
			{
				Name: "customers",
				Columns: []schema.Column{
					{Name: "id", DataType: "integer", IsPrimaryKey: true},
					{Name: "name", DataType: "text"},
					{Name: "email", DataType: "text"},
				},
			},
			{
				Name: "orders",
				Columns: []schema.Column{
					{Name: "id", DataType: "integer", IsPrimaryKey: true},
					{Name: "customer_id", DataType: "integer", IsForeignKey: true,
						References: &schema.ForeignKey{FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"}},
					{Name: "total", DataType: "numeric"},
					{Name: "placed_at", DataType: "timestamp"},
				},
				ForeignKeys: []schema.ForeignKey{{FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"}},
			},
			{
				Name: "shipments",
				Columns: []schema.Column{
					{Name: "id", DataType: "integer", IsPrimaryKey: true},
					{Name: "order_id", DataType: "integer", IsForeignKey: true},
					{Name: "carrier", DataType: "text"},
				},
			},
		},
	}
}

func TestBuildFirstAttemptUsesResolverSuggestedTablesCapped(t *testing.T) {
	c := &Composer{MaxTables: 2, MaxTurns: DefaultMaxTurns, MaxRAG: DefaultRAGCount}
	report := &resolver.Report{SuggestedTables: []string{"customers", "orders", "shipments"}}

	out := c.Build(Request{
		Question: "how many orders per customer",
		Dialect:  "postgres",
		Snapshot: sampleSnapshot(),
		Report:   report,
		Attempt:  1,
	})

	assert.Contains(t, out, "customers(")
	assert.NotContains(t, out, "shipments(")
	assert.Contains(t, out, "Target database dialect: postgres")
	assert.Contains(t, out, "Question: how many orders per customer")
}

func TestBuildRetryFocusesOnAffectedTable(t *testing.T) {
	c := New()
	lastErr := &erroranalyzer.ErrorReport{
		Kind:                erroranalyzer.KindUnknownColumn,
		OffendingIdentifier: "emial",
		AffectedTable:       "customers",
		HumanHint:           `column "emial" does not exist on table customers`,
	}

	out := c.Build(Request{
		Question:    "find customer by email",
		Dialect:     "postgres",
		Snapshot:    sampleSnapshot(),
		Attempt:     2,
		LastError:   lastErr,
		PriorErrors: []*erroranalyzer.ErrorReport{lastErr},
	})

	assert.Contains(t, out, "customers(")
	assert.NotContains(t, out, "shipments(")
	assert.Contains(t, out, "Previous attempt failed:")
	assert.Contains(t, out, `column "emial" does not exist on table customers`)
}

func TestBuildDeepRetryRendersKeyColumnsOnly(t *testing.T) {
	c := New()
	lastErr := &erroranalyzer.ErrorReport{AffectedTable: "orders", HumanHint: "syntax error"}

	out := c.Build(Request{
		Question:  "totals by customer",
		Dialect:   "postgres",
		Snapshot:  sampleSnapshot(),
		Attempt:   3,
		LastError: lastErr,
	})

	ordersLine := lineContaining(out, "orders(")
	require.NotEmpty(t, ordersLine)
	assert.Contains(t, ordersLine, "id:")
	assert.Contains(t, ordersLine, "customer_id:")
	assert.NotContains(t, ordersLine, "total:")
	assert.NotContains(t, ordersLine, "placed_at:")
}

func TestBuildCapsConversationTurnsAndRAGExamples(t *testing.T) {
	c := &Composer{MaxTables: DefaultMaxTables, MaxTurns: 1, MaxRAG: 1}
	report := &resolver.Report{
		RAGExamples: []rag.Entry{
			{Question: "q1", SQL: "SELECT 1"},
			{Question: "q2", SQL: "SELECT 2"},
		},
	}

	out := c.Build(Request{
		Question: "q3",
		Dialect:  "postgres",
		Snapshot: sampleSnapshot(),
		Report:   report,
		Turns: []Turn{
			{Question: "older", SQL: "SELECT old"},
			{Question: "newer", SQL: "SELECT new"},
		},
		Attempt: 1,
	})

	assert.Contains(t, out, "newer")
	assert.NotContains(t, out, "older")
	// examples keep search order, nearest first, so the cap keeps q1
	assert.Contains(t, out, "q1")
	assert.NotContains(t, out, "q2")
}

func TestBuildRendersCriticalInstructionsForbiddingRepeats(t *testing.T) {
	c := New()
	out := c.Build(Request{
		Question:          "q",
		Dialect:           "postgres",
		Snapshot:          sampleSnapshot(),
		Attempt:           2,
		LastError:         &erroranalyzer.ErrorReport{HumanHint: "boom"},
		FailedIdentifiers: []string{"emial"},
		FailedSQL:         []string{"SELECT emial FROM customers"},
	})

	assert.Contains(t, out, "Do not reuse these identifiers, which failed previously: emial")
	assert.Contains(t, out, "Do not repeat any SQL statement already attempted.")
}

func lineContaining(text, substr string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, substr) {
			return line
		}
	}
	return ""
}
