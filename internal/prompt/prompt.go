// Package prompt implements the Prompt Composer (C8): assembles a
// token-budgeted prompt from the dialect, a compact schema subset, resolver
// hints, RAG examples, conversation history, and (on retry) the prior
// error analysis.
package prompt

import (
	"fmt"
	"strings"

	"github.com/nl2sql/sqlcore/internal/erroranalyzer"
	"github.com/nl2sql/sqlcore/internal/rag"
	"github.com/nl2sql/sqlcore/internal/resolver"
	"github.com/nl2sql/sqlcore/internal/schema"
)

// Turn is one prior conversational exchange, oldest first.
type Turn struct {
	Question string
	SQL      string
}

// Defaults from spec §4.8's token-budget policy.
const (
	DefaultMaxTables = 15
	DefaultMaxTurns  = 2
	DefaultRAGCount  = 3
)

// Composer builds prompts for the SQL Agent.
type Composer struct {
	MaxTables int
	MaxTurns  int
	MaxRAG    int
}

// New constructs a Composer with spec-default limits.
func New() *Composer {
	return &Composer{MaxTables: DefaultMaxTables, MaxTurns: DefaultMaxTurns, MaxRAG: DefaultRAGCount}
}

// Request carries everything BuildInitial/BuildFocused need.
type Request struct {
	Question          string
	Dialect           string
	Snapshot          *schema.Snapshot
	Report            *resolver.Report
	Turns             []Turn
	Attempt           int // 1 on first generation, 2+ on retries
	LastError         *erroranalyzer.ErrorReport
	PriorErrors       []*erroranalyzer.ErrorReport // all distinct errors from attempts 1..N-1
	FailedIdentifiers []string                     // identifiers that must not be repeated
	FailedSQL         []string                     // exact SQL strings already attempted
}

// Build assembles the prompt text for req. Attempt 1 uses the full
// resolver-selected table set; attempts 2+ build a focused prompt over only
// the tables named in the last error plus FK neighbors, per spec §4.8.
func (c *Composer) Build(req Request) string {
	var sb strings.Builder

	sb.WriteString(dialectDirective(req.Dialect))
	sb.WriteString("\n\n")

	tables := c.tablesFor(req)
	sb.WriteString("Schema:\n")
	sb.WriteString(renderSchema(tables, req.Snapshot, req.Attempt))
	sb.WriteString("\n")

	if req.Report != nil {
		if rendered := renderHints(req.Report); rendered != "" {
			sb.WriteString(rendered)
			sb.WriteString("\n")
		}
		if len(req.Report.RAGExamples) > 0 {
			sb.WriteString(renderExamples(req.Report.RAGExamples, c.ragLimit()))
			sb.WriteString("\n")
		}
	}

	if len(req.Turns) > 0 {
		sb.WriteString(renderTurns(c.turnLimit(req.Turns)))
		sb.WriteString("\n")
	}

	if req.Attempt > 1 {
		sb.WriteString(renderErrorAnalysis(req.LastError, req.PriorErrors))
		sb.WriteString("\n")
	}

	sb.WriteString(renderCriticalInstructions(req.FailedIdentifiers, req.FailedSQL))
	sb.WriteString("\n\n")
	sb.WriteString("Question: " + req.Question + "\n")
	sb.WriteString("Respond with the SQL statement and a one-sentence rationale.")

	return sb.String()
}

func (c *Composer) maxTables() int {
	if c.MaxTables <= 0 {
		return DefaultMaxTables
	}
	return c.MaxTables
}

func (c *Composer) ragLimit() int {
	if c.MaxRAG <= 0 {
		return DefaultRAGCount
	}
	return c.MaxRAG
}

func (c *Composer) turnLimit(turns []Turn) []Turn {
	max := c.MaxTurns
	if max <= 0 {
		max = DefaultMaxTurns
	}
	if len(turns) <= max {
		return turns
	}
	return turns[len(turns)-max:]
}

// tablesFor selects the table set per the retry-tier policy: attempt 1 uses
// up to MaxTables from the resolver's suggestion; attempt 2+ is focused
// onto the last error's affected table plus FK neighbors, via
// schema.Snapshot.Focused.
func (c *Composer) tablesFor(req Request) []schema.Table {
	if req.Attempt <= 1 || req.LastError == nil || req.LastError.AffectedTable == "" {
		names := req.Snapshot.TableNames()
		if req.Report != nil && len(req.Report.SuggestedTables) > 0 {
			names = req.Report.SuggestedTables
		}
		if len(names) > c.maxTables() {
			names = names[:c.maxTables()]
		}
		focused := req.Snapshot.Focused(names)
		return focused.Tables
	}
	focused := req.Snapshot.Focused([]string{req.LastError.AffectedTable})
	return focused.Tables
}

func dialectDirective(dialect string) string {
	return fmt.Sprintf("Target database dialect: %s. Generate syntax compatible with this dialect only.", dialect)
}

// renderSchema renders the compact table(col:type,...) form. On deep
// retries (attempt >= 3) only PK/FK columns are kept; columns named by the
// last error are not added back. Sample rows are not rendered on any
// attempt.
func renderSchema(tables []schema.Table, snap *schema.Snapshot, attempt int) string {
	var sb strings.Builder
	for _, t := range tables {
		cols := t.Columns
		if attempt >= 3 {
			cols = keyColumnsOnly(t)
		}
		parts := make([]string, 0, len(cols))
		for _, c := range cols {
			parts = append(parts, c.Name+":"+c.DataType)
		}
		sb.WriteString(t.Name + "(" + strings.Join(parts, ",") + ")\n")
	}
	return sb.String()
}

func keyColumnsOnly(t schema.Table) []schema.Column {
	var out []schema.Column
	for _, c := range t.Columns {
		if c.IsPrimaryKey || c.IsForeignKey {
			out = append(out, c)
		}
	}
	return out
}

func renderHints(report *resolver.Report) string {
	if len(report.ColumnRecommendations) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Likely relevant columns:\n")
	for _, rec := range report.ColumnRecommendations {
		sb.WriteString(fmt.Sprintf("  %s.%s (confidence %.2f, from %v)\n", rec.Table, rec.Column, rec.Confidence, rec.Sources))
	}
	if len(report.JoinHints) > 0 {
		sb.WriteString("Join hints:\n")
		for _, j := range report.JoinHints {
			sb.WriteString("  " + strings.Join(j.Tables, " -> ") + "\n")
		}
	}
	return sb.String()
}

func renderExamples(examples []rag.Entry, limit int) string {
	if len(examples) > limit {
		examples = examples[:limit]
	}
	var sb strings.Builder
	sb.WriteString("Similar past questions:\n")
	for _, e := range examples {
		sb.WriteString(fmt.Sprintf("  Q: %s\n  SQL: %s\n", e.Question, e.SQL))
	}
	return sb.String()
}

func renderTurns(turns []Turn) string {
	var sb strings.Builder
	sb.WriteString("Conversation so far:\n")
	for _, t := range turns {
		sb.WriteString("  Q: " + t.Question + "\n  SQL: " + t.SQL + "\n")
	}
	return sb.String()
}

func renderErrorAnalysis(last *erroranalyzer.ErrorReport, prior []*erroranalyzer.ErrorReport) string {
	var sb strings.Builder
	sb.WriteString("Previous attempt failed:\n")
	if last != nil {
		sb.WriteString("  " + last.HumanHint + "\n")
	}
	distinct := make(map[string]bool)
	for _, e := range prior {
		if e == nil || e.OffendingIdentifier == "" || distinct[e.OffendingIdentifier] {
			continue
		}
		distinct[e.OffendingIdentifier] = true
		sb.WriteString("  Previously failed identifier: " + e.OffendingIdentifier + "\n")
	}
	return sb.String()
}

func renderCriticalInstructions(failedIdentifiers, failedSQL []string) string {
	var sb strings.Builder
	sb.WriteString("Critical instructions:\n")
	sb.WriteString("- Use only tables and columns listed in the Schema section above.\n")
	if len(failedIdentifiers) > 0 {
		sb.WriteString("- Do not reuse these identifiers, which failed previously: " + strings.Join(failedIdentifiers, ", ") + "\n")
	}
	if len(failedSQL) > 0 {
		sb.WriteString("- Do not repeat any SQL statement already attempted.\n")
	}
	return sb.String()
}
