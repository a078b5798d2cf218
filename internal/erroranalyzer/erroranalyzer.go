// Package erroranalyzer implements the Error Analyzer (C9): a pure function
// over a raw database error, the SQL that produced it, and the active
// snapshot, producing a structured report the SQL Agent uses to repair its
// next generation attempt.
package erroranalyzer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/nl2sql/sqlcore/internal/schema"
)

// Kind classifies the error per spec §4.9.
type Kind string

const (
	KindUnknownColumn Kind = "unknown_column"
	KindUnknownTable  Kind = "unknown_table"
	KindTypeMismatch  Kind = "type_mismatch"
	KindSyntax        Kind = "syntax"
	KindPermission    Kind = "permission"
	KindTimeout       Kind = "timeout"
	KindOther         Kind = "other"
)

// Candidate is one ranked alternative identifier suggestion.
type Candidate struct {
	Name     string
	Distance int
}

// ErrorReport is the structured output of Analyze.
type ErrorReport struct {
	Kind                Kind
	OffendingIdentifier string
	AffectedTable       string
	Candidates          []Candidate
	HumanHint           string
}

// normalizeIdentifier strips quoting characters dialects use around
// identifiers ("x", `x`, [x]) and lowercases, mirroring the teacher's
// normalizeFieldName idiom from deterministic_extractor.go.
func normalizeIdentifier(s string) string {
	s = strings.Trim(s, `"'`+"`"+"[]")
	return strings.ToLower(strings.TrimSpace(s))
}

var (
	unknownColumnPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)column "?([a-zA-Z0-9_.]+)"? does not exist`),
		regexp.MustCompile(`(?i)unknown column '([a-zA-Z0-9_.]+)'`),
		regexp.MustCompile(`(?i)no such column: ([a-zA-Z0-9_.]+)`),
		regexp.MustCompile(`(?i)invalid identifier '?"?([a-zA-Z0-9_.]+)"?'?`),
	}
	unknownTablePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)relation "([a-zA-Z0-9_.]+)" does not exist`),
		regexp.MustCompile(`(?i)table '([a-zA-Z0-9_.]+)' doesn't exist`),
		regexp.MustCompile(`(?i)no such table: ([a-zA-Z0-9_.]+)`),
		regexp.MustCompile(`(?i)table or view does not exist`),
	}
	typeMismatchPattern = regexp.MustCompile(`(?i)(type mismatch|invalid input syntax for type|cannot compare|incompatible types)`)
	syntaxPattern       = regexp.MustCompile(`(?i)(syntax error|sql command not properly ended)`)
	permissionPattern   = regexp.MustCompile(`(?i)(permission denied|insufficient privilege|access denied|ora-01031)`)
	timeoutPattern      = regexp.MustCompile(`(?i)(timeout|timed out|canceling statement due to statement timeout)`)
)

// Analyze parses rawErr against generatedSQL and snap. It is a pure
// function: no I/O, no LLM call.
func Analyze(rawErr string, generatedSQL string, snap *schema.Snapshot) *ErrorReport {
	report := &ErrorReport{Kind: KindOther}

	switch {
	case matchAny(rawErr, unknownColumnPatterns) != "":
		report.Kind = KindUnknownColumn
		report.OffendingIdentifier = normalizeIdentifier(matchAny(rawErr, unknownColumnPatterns))
	case matchAny(rawErr, unknownTablePatterns) != "":
		report.Kind = KindUnknownTable
		report.OffendingIdentifier = normalizeIdentifier(matchAny(rawErr, unknownTablePatterns))
	case typeMismatchPattern.MatchString(rawErr):
		report.Kind = KindTypeMismatch
	case syntaxPattern.MatchString(rawErr):
		report.Kind = KindSyntax
	case permissionPattern.MatchString(rawErr):
		report.Kind = KindPermission
	case timeoutPattern.MatchString(rawErr):
		report.Kind = KindTimeout
	}

	aliases := extractAliases(generatedSQL)
	report.AffectedTable = resolveAffectedTable(report.OffendingIdentifier, generatedSQL, aliases, snap)
	if i := strings.LastIndex(report.OffendingIdentifier, "."); i != -1 {
		report.OffendingIdentifier = report.OffendingIdentifier[i+1:]
	}

	switch report.Kind {
	case KindUnknownColumn:
		report.Candidates = rankCandidates(report.OffendingIdentifier, columnNamesOf(snap, report.AffectedTable))
	case KindUnknownTable:
		report.Candidates = rankCandidates(report.OffendingIdentifier, snap.TableNames())
	}

	report.HumanHint = humanHint(report)
	return report
}

func matchAny(s string, patterns []*regexp.Regexp) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(s); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// extractAliases finds "FROM table alias" / "JOIN table alias" /
// "table AS alias" bindings, a snippet-scoped binding as described by spec
// §4.9's alias resolution tier (c).
func extractAliases(sql string) map[string]string {
	aliases := make(map[string]string)
	pattern := regexp.MustCompile(`(?i)(?:FROM|JOIN)\s+([a-zA-Z0-9_."]+)\s+(?:AS\s+)?([a-zA-Z0-9_]+)\b`)
	for _, m := range pattern.FindAllStringSubmatch(sql, -1) {
		table := strings.Trim(m[1], `"`)
		alias := strings.ToLower(m[2])
		if isSQLKeyword(alias) {
			continue
		}
		aliases[alias] = table
	}
	return aliases
}

func isSQLKeyword(s string) bool {
	switch strings.ToUpper(s) {
	case "WHERE", "ON", "JOIN", "INNER", "LEFT", "RIGHT", "GROUP", "ORDER", "LIMIT", "AS":
		return true
	}
	return false
}

// resolveAffectedTable implements spec §4.9's three-tier alias resolution:
// (a) first-letter match to a schema table, (b) initials match, (c) SQL
// snippet-scoped alias binding.
func resolveAffectedTable(identifier, sql string, aliases map[string]string, snap *schema.Snapshot) string {
	if identifier == "" {
		return ""
	}
	if strings.Contains(identifier, ".") {
		parts := strings.SplitN(identifier, ".", 2)
		qualifier := strings.ToLower(parts[0])
		if table, ok := aliases[qualifier]; ok {
			return table
		}
		if t, ok := snap.Table(qualifier); ok {
			return t.Name
		}
		identifier = parts[1]
	}

	if t, ok := snap.Table(identifier); ok {
		return t.Name
	}

	for _, t := range snap.Tables {
		if _, ok := t.Column(identifier); ok {
			return t.Name
		}
	}

	for _, table := range aliases {
		if t, ok := snap.Table(table); ok {
			lower := strings.ToLower(t.Name)
			if len(lower) > 0 && lower[0] == identifier[0] {
				return t.Name
			}
		}
	}

	for _, table := range aliases {
		if t, ok := snap.Table(table); ok {
			if initials(t.Name) == identifier {
				return t.Name
			}
		}
	}

	// Fall back to the surrounding SQL: a statement that reads from exactly
	// one snapshot table attributes the identifier to that table.
	only := ""
	for _, m := range regexp.MustCompile(`(?i)(?:FROM|JOIN)\s+([a-zA-Z0-9_."]+)`).FindAllStringSubmatch(sql, -1) {
		if t, ok := snap.Table(strings.Trim(m[1], `"`)); ok {
			if only != "" && !strings.EqualFold(only, t.Name) {
				return ""
			}
			only = t.Name
		}
	}
	return only
}

func initials(name string) string {
	var sb strings.Builder
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '_' }) {
		if len(part) > 0 {
			sb.WriteByte(part[0])
		}
	}
	return strings.ToLower(sb.String())
}

func columnNamesOf(snap *schema.Snapshot, table string) []string {
	if table == "" {
		var all []string
		for _, t := range snap.Tables {
			for _, c := range t.Columns {
				all = append(all, c.Name)
			}
		}
		return all
	}
	t, ok := snap.Table(table)
	if !ok {
		return nil
	}
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// rankCandidates returns up to 5 names from pool ranked by case-insensitive
// Damerau-Levenshtein distance to identifier, shortest-name and then
// lexicographic as tiebreakers (spec §4.9). A transposed typo like "mial"
// for "mail" is one edit under Damerau-Levenshtein but two under plain
// Levenshtein, so a single adjacent-swap pass sits on top of the edit-
// distance matrix rather than reaching for a plain Levenshtein library.
func rankCandidates(identifier string, pool []string) []Candidate {
	if identifier == "" {
		return nil
	}
	lower := strings.ToLower(identifier)

	candidates := make([]Candidate, 0, len(pool))
	for _, name := range pool {
		candidates = append(candidates, Candidate{
			Name:     name,
			Distance: damerauLevenshtein(lower, strings.ToLower(name)),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		if len(candidates[i].Name) != len(candidates[j].Name) {
			return len(candidates[i].Name) < len(candidates[j].Name)
		}
		return candidates[i].Name < candidates[j].Name
	})
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}
	return candidates
}

// damerauLevenshtein computes the optimal-string-alignment edit distance
// between a and b: insertion, deletion, substitution, and transposition of
// two adjacent characters each cost one edit, with no substring edited
// more than once.
func damerauLevenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)

	d := make([][]int, la+1)
	for i := range d {
		d[i] = make([]int, lb+1)
		d[i][0] = i
	}
	for j := 0; j <= lb; j++ {
		d[0][j] = j
	}

	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = min3(
				d[i-1][j]+1,      // deletion
				d[i][j-1]+1,      // insertion
				d[i-1][j-1]+cost, // substitution
			)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				if t := d[i-2][j-2] + 1; t < d[i][j] {
					d[i][j] = t
				}
			}
		}
	}
	return d[la][lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func humanHint(r *ErrorReport) string {
	switch r.Kind {
	case KindUnknownColumn:
		hint := "column \"" + r.OffendingIdentifier + "\" does not exist"
		if r.AffectedTable != "" {
			hint += " on table " + r.AffectedTable
		}
		if len(r.Candidates) > 0 {
			hint += "; did you mean " + r.Candidates[0].Name + "?"
		}
		return hint
	case KindUnknownTable:
		hint := "table \"" + r.OffendingIdentifier + "\" does not exist"
		if len(r.Candidates) > 0 {
			hint += "; did you mean " + r.Candidates[0].Name + "?"
		}
		return hint
	case KindTypeMismatch:
		return "a comparison or assignment used incompatible types"
	case KindSyntax:
		return "the generated SQL has a syntax error"
	case KindPermission:
		return "the connection lacks permission for this statement"
	case KindTimeout:
		return "the statement exceeded its execution timeout"
	default:
		return "the statement failed for an unclassified reason"
	}
}
