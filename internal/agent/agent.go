// Package agent implements the SQL Agent (C10): the bounded
// INIT->GENERATE->VALIDATE->EXECUTE->{SUCCESS|ANALYZE}->...->FAIL state
// machine that coordinates the Resolver, Prompt Composer, LLM provider,
// Dialect Adapter, and Error Analyzer for one question.
package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nl2sql/sqlcore/internal/coreerr"
	"github.com/nl2sql/sqlcore/internal/dialect"
	"github.com/nl2sql/sqlcore/internal/erroranalyzer"
	"github.com/nl2sql/sqlcore/internal/llm"
	"github.com/nl2sql/sqlcore/internal/prompt"
	"github.com/nl2sql/sqlcore/internal/rag"
	"github.com/nl2sql/sqlcore/internal/resolver"
	"github.com/nl2sql/sqlcore/internal/schema"
	"github.com/nl2sql/sqlcore/utils"
)

// maxTransientRetries bounds EXECUTE retries that never touch the LLM
// (spec §4.10 / §7: transient errors retried "bounded by a small count").
const maxTransientRetries = 2

// DefaultMaxRetries and MaxAllowedRetries bound Options.MaxRetries per spec §6.
const (
	DefaultMaxRetries = 3
	MaxAllowedRetries = 10
)

// Options mirrors the ask() operation's recognized options (spec §6).
type Options struct {
	MaxRetries          int
	RowLimit            int
	TimeoutSec          int
	SchemaName          string
	AllowWrite          bool
	ReturnRows          bool
	ConversationContext []prompt.Turn
	// EnforceIdentifierContainment rejects SQL referencing identifiers
	// absent from the snapshot before ever executing it (spec §4.10
	// VALIDATE, "configurable").
	EnforceIdentifierContainment bool
}

func (o Options) normalized() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxRetries > MaxAllowedRetries {
		o.MaxRetries = MaxAllowedRetries
	}
	if o.RowLimit <= 0 {
		o.RowLimit = 100
	}
	if o.TimeoutSec <= 0 {
		o.TimeoutSec = 30
	}
	return o
}

// Attempt records one GENERATE/VALIDATE/EXECUTE cycle.
type Attempt struct {
	Number    int
	SQL       string
	Rationale string
	Error     *erroranalyzer.ErrorReport
	Succeeded bool
}

// Request bundles everything one Ask call needs.
type Request struct {
	Question string
	Dialect  dialect.Name
	Snapshot *schema.Snapshot
	Adapter  dialect.Adapter
	Resolver *resolver.Resolver // may be nil: agent proceeds without hints
	RAGStore *rag.Store         // may be nil: success is not persisted
	Options  Options
}

// Result is the ask() return shape (spec §6).
type Result struct {
	Success     bool
	SQL         string
	Explanation string
	QueryResult *dialect.QueryResult
	Attempts    []Attempt
	Cause       *erroranalyzer.ErrorReport
}

// Agent coordinates one question's full retry loop.
type Agent struct {
	Provider llm.Provider
	Composer *prompt.Composer
}

// New constructs an Agent.
func New(provider llm.Provider, composer *prompt.Composer) *Agent {
	if composer == nil {
		composer = prompt.New()
	}
	return &Agent{Provider: provider, Composer: composer}
}

// Ask runs the INIT->GENERATE->VALIDATE->EXECUTE->{SUCCESS|ANALYZE} loop.
func (a *Agent) Ask(ctx context.Context, req Request) (*Result, error) {
	opts := req.Options.normalized()

	// INIT: fuse resolver hints, if a resolver was supplied.
	var report *resolver.Report
	if req.Resolver != nil {
		r, err := req.Resolver.Resolve(ctx, req.Question, string(req.Dialect), opts.SchemaName, req.Snapshot)
		if err != nil {
			utils.GetLogger().Warn("resolver failed, proceeding without hints", utils.Error(err))
		} else {
			report = r
		}
	}

	var (
		attempts      []Attempt
		seenSQL       = make(map[string]bool)
		failedIdents  []string
		priorErrors   []*erroranalyzer.ErrorReport
		lastError     *erroranalyzer.ErrorReport
		consecutiveValidatorFailures int
	)

	for attemptNum := 1; attemptNum <= opts.MaxRetries+1; attemptNum++ {
		// GENERATE
		promptText := a.Composer.Build(prompt.Request{
			Question:          req.Question,
			Dialect:           string(req.Dialect),
			Snapshot:          req.Snapshot,
			Report:            report,
			Turns:             req.Options.ConversationContext,
			Attempt:           attemptNum,
			LastError:         lastError,
			PriorErrors:       priorErrors,
			FailedIdentifiers: failedIdents,
			FailedSQL:         sqlKeys(seenSQL),
		})

		rawSQL, rationale, err := a.Provider.GenerateSQL(ctx, promptText)
		if err != nil {
			return nil, fmt.Errorf("agent: generate sql: %w", err)
		}
		candidateSQL := extractSQL(rawSQL)

		attempt := Attempt{Number: attemptNum, SQL: candidateSQL, Rationale: rationale}

		// VALIDATE
		if verr := validate(candidateSQL, seenSQL, req.Snapshot, opts); verr != nil {
			consecutiveValidatorFailures++
			kind := erroranalyzer.KindOther
			if errors.Is(verr, errReadOnlyPolicy) {
				kind = erroranalyzer.KindPermission
			}
			attempt.Error = &erroranalyzer.ErrorReport{Kind: kind, HumanHint: verr.Error()}
			attempts = append(attempts, attempt)
			lastError = attempt.Error
			priorErrors = append(priorErrors, lastError)

			if consecutiveValidatorFailures >= 2 {
				return &Result{Success: false, Attempts: attempts, Cause: lastError}, nil
			}
			continue
		}
		consecutiveValidatorFailures = 0
		seenSQL[candidateSQL] = true

		// EXECUTE, with bounded transient retry before touching the LLM again.
		qr, execErr := a.executeWithTransientRetry(ctx, req.Adapter, candidateSQL, dialect.ExecOptions{
			RowLimit:   opts.RowLimit,
			Timeout:    time.Duration(opts.TimeoutSec) * time.Second,
			AllowWrite: opts.AllowWrite,
		})

		if execErr == nil {
			attempt.Succeeded = true
			attempts = append(attempts, attempt)
			if req.RAGStore != nil {
				if ierr := req.RAGStore.Import(ctx, rag.Entry{
					Question: req.Question, SQL: candidateSQL, Dialect: string(req.Dialect),
					SchemaName: opts.SchemaName, Success: true,
				}); ierr != nil {
					utils.GetLogger().Warn("rag import failed", utils.Error(ierr))
				}
			}
			return &Result{
				Success: true, SQL: candidateSQL, Explanation: rationale,
				QueryResult: qr, Attempts: attempts,
			}, nil
		}

		// ANALYZE (PermanentError path; transient exhaustion also lands here)
		report2 := erroranalyzer.Analyze(execErr.Error(), candidateSQL, req.Snapshot)
		attempt.Error = report2
		attempts = append(attempts, attempt)
		lastError = report2
		priorErrors = append(priorErrors, report2)
		if report2.OffendingIdentifier != "" {
			failedIdents = appendUnique(failedIdents, report2.OffendingIdentifier)
		}

		if attemptNum > opts.MaxRetries {
			return &Result{Success: false, Attempts: attempts, Cause: lastError}, nil
		}
	}

	return &Result{Success: false, Attempts: attempts, Cause: lastError}, nil
}

// executeWithTransientRetry retries EXECUTE without regenerating the prompt
// while the adapter reports Transient errors, bounded by
// maxTransientRetries (spec §4.10, §7).
func (a *Agent) executeWithTransientRetry(ctx context.Context, adapter dialect.Adapter, sqlText string, opts dialect.ExecOptions) (*dialect.QueryResult, error) {
	var lastErr error
	for i := 0; i <= maxTransientRetries; i++ {
		qr, err := adapter.Execute(ctx, sqlText, opts)
		if err == nil {
			return qr, nil
		}
		lastErr = err
		if !coreerr.IsTransient(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func sqlKeys(seen map[string]bool) []string {
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return list
		}
	}
	return append(list, v)
}

var sqlKeywordPattern = regexp.MustCompile(`(?i)\b(SELECT|WITH|INSERT|UPDATE|DELETE)\b`)

// errReadOnlyPolicy marks a validate() rejection caused by the mutation
// denylist, so Ask can surface it as erroranalyzer.KindPermission (spec §7:
// "Unsafe" / write blocked) instead of the generic KindOther.
var errReadOnlyPolicy = errors.New("statement violates read-only policy")

// validate implements spec §4.10's VALIDATE step: reject empty responses,
// non-SQL prose, mutation-denylist violations, exact duplicate SQL, and
// (when enabled) identifiers absent from the snapshot.
func validate(candidateSQL string, seenSQL map[string]bool, snap *schema.Snapshot, opts Options) error {
	trimmed := strings.TrimSpace(candidateSQL)
	if trimmed == "" {
		return errors.New("empty response")
	}
	if !sqlKeywordPattern.MatchString(trimmed) {
		return errors.New("response contains no recognizable SQL statement")
	}
	if dialect.IsMutation(trimmed) && !opts.AllowWrite {
		return errReadOnlyPolicy
	}
	if seenSQL[trimmed] {
		return errors.New("identical SQL already attempted")
	}
	if opts.EnforceIdentifierContainment {
		if bad := findUncontainedIdentifier(trimmed, snap); bad != "" {
			return fmt.Errorf("identifier %q not present in schema", bad)
		}
	}
	return nil
}

var identifierPattern = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\.[a-zA-Z_][a-zA-Z0-9_]*\b`)

// findUncontainedIdentifier is a conservative check: it only inspects
// explicitly table-qualified "table.column" references, since bare
// identifiers are frequently SQL keywords or aliases and a full SQL
// parser is outside this core's scope.
func findUncontainedIdentifier(sqlText string, snap *schema.Snapshot) string {
	for _, m := range identifierPattern.FindAllString(sqlText, -1) {
		parts := strings.SplitN(m, ".", 2)
		table, column := parts[0], parts[1]
		if _, ok := snap.Table(table); !ok {
			continue // table qualifier may be an alias; Analyzer handles that case on execution failure
		}
		if !snap.HasColumn(table, column) {
			return m
		}
	}
	return ""
}

// fencedSQL extracts the body of a ```sql fenced block, if present.
var fencedSQL = regexp.MustCompile("(?is)```sql\\s*(.*?)```")
var fencedBare = regexp.MustCompile("(?is)```\\s*(.*?)```")

// extractSQL pulls the SQL statement out of a raw LLM completion that may
// wrap it in markdown fences or prose, returning the first statement up to
// its terminating semicolon or the end of text.
func extractSQL(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := fencedSQL.FindStringSubmatch(raw); len(m) > 1 {
		return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m[1]), ";"))
	}
	if m := fencedBare.FindStringSubmatch(raw); len(m) > 1 {
		return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m[1]), ";"))
	}

	loc := sqlKeywordPattern.FindStringIndex(raw)
	if loc == nil {
		return raw
	}
	statement := raw[loc[0]:]
	if i := strings.Index(statement, ";"); i != -1 {
		statement = statement[:i]
	}
	return strings.TrimSpace(statement)
}
