package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql/sqlcore/internal/coreerr"
	"github.com/nl2sql/sqlcore/internal/dialect"
	"github.com/nl2sql/sqlcore/internal/erroranalyzer"
	"github.com/nl2sql/sqlcore/internal/llm"
	"github.com/nl2sql/sqlcore/internal/schema"
)

// scriptedAdapter executes a pre-scripted sequence of (result, error) pairs,
// one per call, so tests can simulate a failing-then-succeeding statement
// without a real database.
type scriptedAdapter struct {
	results []*dialect.QueryResult
	errs    []error
	calls   int
}

func (s *scriptedAdapter) DialectName() dialect.Name { return dialect.SQLite }
func (s *scriptedAdapter) TestConnection(ctx context.Context) (bool, string, dialect.ConnectionInfo, error) {
	return true, "ok", dialect.ConnectionInfo{}, nil
}
func (s *scriptedAdapter) ListSchemas(ctx context.Context) ([]dialect.SchemaInfo, error) { return nil, nil }
func (s *scriptedAdapter) Snapshot(ctx context.Context, schemaName string, n int) (*schema.Snapshot, error) {
	return nil, nil
}
func (s *scriptedAdapter) QuoteIdentifier(name string) string { return `"` + name + `"` }
func (s *scriptedAdapter) Close() error                       { return nil }

func (s *scriptedAdapter) Execute(ctx context.Context, sqlText string, opts dialect.ExecOptions) (*dialect.QueryResult, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], s.errs[i]
}

func rolePermissionsSnapshot() *schema.Snapshot {
	return &schema.Snapshot{
		Tables: []schema.Table{
			{
				Name: "role_permissions",
				Columns: []schema.Column{
					{Name: "id", IsPrimaryKey: true},
					{Name: "role_id", IsForeignKey: true},
					{Name: "permission_id", IsForeignKey: true},
					{Name: "created_at"},
				},
			},
		},
	}
}

func TestAskSucceedsOnFirstAttempt(t *testing.T) {
	mockLLM := llm.NewMock([]string{"SELECT role_id FROM role_permissions"})
	adapter := &scriptedAdapter{
		results: []*dialect.QueryResult{{Columns: []string{"role_id"}, RowCount: 1}},
		errs:    []error{nil},
	}

	a := New(mockLLM, nil)
	res, err := a.Ask(context.Background(), Request{
		Question: "list role ids",
		Dialect:  dialect.SQLite,
		Snapshot: rolePermissionsSnapshot(),
		Adapter:  adapter,
		Options:  Options{EnforceIdentifierContainment: true},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.Attempts, 1)
}

func TestAskRepairsUnknownIdentifierWithinRetryBudget(t *testing.T) {
	// Scenario S3: first attempt references a nonexistent column, second
	// attempt (fed back by the mock as a scripted "repair") succeeds.
	mockLLM := llm.NewMock([]string{
		"SELECT r.user_id FROM role_permissions r",
		"SELECT r.role_id FROM role_permissions r",
	})
	adapter := &scriptedAdapter{
		results: []*dialect.QueryResult{nil, {Columns: []string{"role_id"}, RowCount: 1}},
		errs: []error{
			coreerr.NewPermanent(coreerr.KindUnknownIdentifier, errors.New(`no such column: user_id`)),
			nil,
		},
	}

	a := New(mockLLM, nil)
	res, err := a.Ask(context.Background(), Request{
		Question: "list role ids",
		Dialect:  dialect.SQLite,
		Snapshot: rolePermissionsSnapshot(),
		Adapter:  adapter,
		Options:  Options{MaxRetries: 3},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Attempts, 2)
	assert.Contains(t, res.Attempts[0].SQL, "user_id")
	assert.Contains(t, res.Attempts[1].SQL, "role_id")
}

func TestAskExhaustsRetriesAndFails(t *testing.T) {
	mockLLM := llm.NewMock(nil)
	mockLLM.Default = "SELECT nonexistent_col FROM role_permissions"
	adapter := &scriptedAdapter{
		results: []*dialect.QueryResult{nil, nil, nil, nil},
		errs: []error{
			coreerr.NewPermanent(coreerr.KindUnknownIdentifier, errors.New("no such column: nonexistent_col")),
			coreerr.NewPermanent(coreerr.KindUnknownIdentifier, errors.New("no such column: nonexistent_col")),
			coreerr.NewPermanent(coreerr.KindUnknownIdentifier, errors.New("no such column: nonexistent_col")),
			coreerr.NewPermanent(coreerr.KindUnknownIdentifier, errors.New("no such column: nonexistent_col")),
		},
	}

	a := New(mockLLM, nil)
	res, err := a.Ask(context.Background(), Request{
		Question: "broken query",
		Dialect:  dialect.SQLite,
		Snapshot: rolePermissionsSnapshot(),
		Adapter:  adapter,
		Options:  Options{MaxRetries: 3},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	// identical SQL every attempt: the first attempt is executed and fails,
	// then the no-repeat rule rejects the second and third as duplicates,
	// and two validator failures in a row terminate the loop, so three
	// attempts are recorded.
	assert.NotEmpty(t, res.Attempts)
	assert.NotNil(t, res.Cause)
}

func TestValidateRejectsMutationWithoutAllowWrite(t *testing.T) {
	err := validate("DELETE FROM role_permissions", map[string]bool{}, rolePermissionsSnapshot(), Options{})
	assert.Error(t, err)
	assert.ErrorIs(t, err, errReadOnlyPolicy)
}

func TestAskSurfacesReadOnlyRejectionAsPermissionKind(t *testing.T) {
	mock := llm.NewMock([]string{"DELETE FROM role_permissions"})
	// MaxRetries 0 falls back to the default budget, so every generation
	// returns the rejected write.
	mock.Default = "DELETE FROM role_permissions"
	a := New(mock, nil)
	res, err := a.Ask(context.Background(), Request{
		Question: "remove role",
		Dialect:  dialect.Postgres,
		Snapshot: rolePermissionsSnapshot(),
		Adapter:  &scriptedAdapter{},
		Options:  Options{MaxRetries: 0},
	})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.NotNil(t, res.Cause)
	assert.Equal(t, erroranalyzer.KindPermission, res.Cause.Kind)
}

func TestValidateRejectsEmpty(t *testing.T) {
	err := validate("   ", map[string]bool{}, rolePermissionsSnapshot(), Options{})
	assert.Error(t, err)
}

func TestExtractSQLStripsMarkdownFence(t *testing.T) {
	got := extractSQL("```sql\nSELECT 1;\n```")
	assert.Equal(t, "SELECT 1", got)
}

func TestExtractSQLFindsStatementInProse(t *testing.T) {
	got := extractSQL("Sure, here you go: SELECT 1 FROM dual; Let me know if you need anything else.")
	assert.Equal(t, "SELECT 1 FROM dual", got)
}
