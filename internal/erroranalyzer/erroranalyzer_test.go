package erroranalyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql/sqlcore/internal/schema"
)

func snap() *schema.Snapshot {
	return &schema.Snapshot{
		Tables: []schema.Table{
			{
				Name: "customers",
				Columns: []schema.Column{
					{Name: "id", IsPrimaryKey: true},
					{Name: "name"},
					{Name: "email"},
				},
			},
			{
				Name: "orders",
				Columns: []schema.Column{
					{Name: "id", IsPrimaryKey: true},
					{Name: "customer_id", IsForeignKey: true},
				},
			},
		},
	}
}

func TestAnalyzePostgresUnknownColumn(t *testing.T) {
	r := Analyze(`ERROR: column "emial" does not exist`, "SELECT emial FROM customers", snap())
	require.Equal(t, KindUnknownColumn, r.Kind)
	assert.Equal(t, "emial", r.OffendingIdentifier)
	assert.Equal(t, "customers", r.AffectedTable)
	require.NotEmpty(t, r.Candidates)
	assert.Equal(t, "email", r.Candidates[0].Name)
}

func TestAnalyzeMySQLUnknownColumnViaAlias(t *testing.T) {
	r := Analyze(`Unknown column 'c.emial' in 'field list'`, "SELECT c.emial FROM customers c", snap())
	require.Equal(t, KindUnknownColumn, r.Kind)
	assert.Equal(t, "customers", r.AffectedTable)
}

func TestAnalyzeSQLiteUnknownTable(t *testing.T) {
	r := Analyze("no such table: custmers", "SELECT * FROM custmers", snap())
	require.Equal(t, KindUnknownTable, r.Kind)
	require.NotEmpty(t, r.Candidates)
	assert.Equal(t, "customers", r.Candidates[0].Name)
}

func TestAnalyzeTimeout(t *testing.T) {
	r := Analyze("canceling statement due to statement timeout", "SELECT 1", snap())
	assert.Equal(t, KindTimeout, r.Kind)
}

func TestAnalyzeSyntaxError(t *testing.T) {
	r := Analyze("syntax error at or near \"FORM\"", "SELECT * FORM customers", snap())
	assert.Equal(t, KindSyntax, r.Kind)
}

func TestRankCandidatesBreaksTiesByLengthThenLexicographic(t *testing.T) {
	cands := rankCandidates("ab", []string{"zz", "yy", "abc", "ac"})
	require.Len(t, cands, 4)
	assert.Equal(t, "ac", cands[0].Name)
	assert.Equal(t, "abc", cands[1].Name)
	assert.Equal(t, "yy", cands[2].Name)
	assert.Equal(t, "zz", cands[3].Name)
}

func TestDamerauLevenshteinTreatsAdjacentTranspositionAsOneEdit(t *testing.T) {
	assert.Equal(t, 1, damerauLevenshtein("mial", "mail"))
	assert.Equal(t, 0, damerauLevenshtein("mail", "mail"))
	assert.Equal(t, 1, damerauLevenshtein("mail", "mails"))
}

func TestRankCandidatesPrefersTranspositionOverTwoEditDistance(t *testing.T) {
	cands := rankCandidates("mial", []string{"mail", "email"})
	require.Len(t, cands, 2)
	assert.Equal(t, "mail", cands[0].Name)
	assert.Equal(t, 1, cands[0].Distance)
}
