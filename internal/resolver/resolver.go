// Package resolver implements the Semantic Resolver (C7): fuses the
// Ontology Builder, Knowledge Graph Index, and RAG Example Store into a
// single ranked report of column/table recommendations for a question.
package resolver

import (
	"context"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/nl2sql/sqlcore/internal/graph"
	"github.com/nl2sql/sqlcore/internal/ontology"
	"github.com/nl2sql/sqlcore/internal/rag"
	"github.com/nl2sql/sqlcore/internal/schema"
)

// Source identifies which fusion input produced a recommendation.
type Source string

const (
	SourceOntology Source = "ontology"
	SourceGraph    Source = "graph"
	SourceRAG      Source = "rag"
)

// ColumnRecommendation is one scored, source-attributed column suggestion.
type ColumnRecommendation struct {
	Table      string
	Column     string
	Confidence float64
	Sources    []Source
}

// JoinHint is an FK chain connecting two suggested tables.
type JoinHint struct {
	Tables   []string // ordered path, including both endpoints
	HopCount int
}

// Report is the fused ResolverReport for one question.
type Report struct {
	ColumnRecommendations []ColumnRecommendation
	SuggestedTables       []string
	JoinHints             []JoinHint
	RAGExamples           []rag.Entry
}

// Resolver fuses C4 (Ontology), C5 (GraphIndex), and C6 (RAG) inputs. Any of
// Graph or RAGStore may be nil (spec §4.5, §4.6 both allow graceful
// degradation).
type Resolver struct {
	Ontology *ontology.Ontology
	Graph    *graph.Index
	RAGStore *rag.Store
	RAGTopK  int
}

// bonusCap and bonusAmount implement spec §4.7's cross-source confidence
// bonus: an item seen in two sources gets min(confidences)+0.05, capped.
const (
	bonusAmount = 0.05
	bonusCap    = 0.99
)

// Resolve fuses all three sources into a Report for question, restricted to
// columns that exist in snap (the invariant from spec §4.7).
func (r *Resolver) Resolve(ctx context.Context, question string, dialect, schemaName string, snap *schema.Snapshot) (*Report, error) {
	terms := tokenize(question)

	scored := make(map[string]*ColumnRecommendation) // key: table.column

	if r.Ontology != nil {
		for _, c := range r.Ontology.Concepts {
			if !conceptMatches(c, terms) {
				continue
			}
			for _, p := range c.Properties {
				if !snap.HasColumn(p.MapsTo.Table, p.MapsTo.Column) {
					continue
				}
				addSource(scored, p.MapsTo.Table, p.MapsTo.Column, p.Confidence, SourceOntology)
			}
		}
	}

	if r.Graph != nil {
		insights := r.Graph.Insights(question)
		for table, cols := range insights.SuggestedColumns {
			for _, c := range cols {
				if !snap.HasColumn(table, c.Column) {
					continue
				}
				addSource(scored, table, c.Column, c.Confidence, SourceGraph)
			}
		}
	}

	var examples []rag.Entry
	if r.RAGStore != nil {
		topK := r.RAGTopK
		if topK <= 0 {
			topK = 3
		}
		found, err := r.RAGStore.Search(ctx, question, dialect, schemaName, topK)
		if err != nil {
			return nil, err
		}
		examples = found
		for _, e := range found {
			for _, t := range snap.Tables {
				if strings.Contains(strings.ToLower(e.SQL), strings.ToLower(t.Name)) {
					// RAG examples contribute table-level signal only; a
					// table mentioned in a retrieved SQL string is a weak
					// vote for every primary key of that table (a common
					// join/select anchor), attributed to the rag source.
					for _, pk := range t.PrimaryKeys {
						addSource(scored, t.Name, pk, float64(e.Similarity), SourceRAG)
					}
				}
			}
		}
	}

	recs := make([]ColumnRecommendation, 0, len(scored))
	for _, rec := range scored {
		recs = append(recs, *rec)
	}
	sortRecommendations(recs, terms, snap)

	tableSet := make(map[string]bool)
	for _, rec := range recs {
		tableSet[strings.ToLower(rec.Table)] = true
	}
	expandOneHop(tableSet, snap)

	tables := make([]string, 0, len(tableSet))
	for _, t := range snap.Tables {
		if tableSet[strings.ToLower(t.Name)] {
			tables = append(tables, t.Name)
		}
	}
	sort.Strings(tables)

	return &Report{
		ColumnRecommendations: recs,
		SuggestedTables:       tables,
		JoinHints:             joinHints(tables, snap),
		RAGExamples:           examples,
	}, nil
}

func addSource(scored map[string]*ColumnRecommendation, table, column string, confidence float64, source Source) {
	key := strings.ToLower(table) + "." + strings.ToLower(column)
	existing, ok := scored[key]
	if !ok {
		scored[key] = &ColumnRecommendation{
			Table: table, Column: column, Confidence: confidence, Sources: []Source{source},
		}
		return
	}
	for _, s := range existing.Sources {
		if s == source {
			if confidence > existing.Confidence {
				existing.Confidence = confidence
			}
			return
		}
	}
	bonus := min(existing.Confidence, confidence) + bonusAmount
	if bonus > bonusCap {
		bonus = bonusCap
	}
	if bonus > existing.Confidence {
		existing.Confidence = bonus
	}
	existing.Sources = append(existing.Sources, source)
}

func conceptMatches(c ontology.Concept, terms []string) bool {
	names := append([]string{c.Name}, c.Synonyms...)
	for _, n := range names {
		lower := strings.ToLower(n)
		for _, term := range terms {
			if strings.Contains(lower, term) || strings.Contains(term, lower) {
				return true
			}
		}
	}
	return false
}

// sortRecommendations breaks ties per spec §4.7: (1) concept match
// specificity is already folded into confidence via the ontology source,
// (2) PK/FK relevance, (3) lexical similarity to question tokens.
func sortRecommendations(recs []ColumnRecommendation, terms []string, snap *schema.Snapshot) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Confidence != recs[j].Confidence {
			return recs[i].Confidence > recs[j].Confidence
		}
		iKey, jKey := keyRelevance(recs[i], snap), keyRelevance(recs[j], snap)
		if iKey != jKey {
			return iKey > jKey
		}
		return lexicalSimilarity(recs[i].Column, terms) > lexicalSimilarity(recs[j].Column, terms)
	})
}

func keyRelevance(rec ColumnRecommendation, snap *schema.Snapshot) int {
	t, ok := snap.Table(rec.Table)
	if !ok {
		return 0
	}
	col, ok := t.Column(rec.Column)
	if !ok {
		return 0
	}
	score := 0
	if col.IsPrimaryKey {
		score += 2
	}
	if col.IsForeignKey {
		score++
	}
	return score
}

func lexicalSimilarity(column string, terms []string) float64 {
	best := 0.0
	lower := strings.ToLower(column)
	for _, term := range terms {
		dist := levenshtein.ComputeDistance(lower, term)
		maxLen := len(lower)
		if len(term) > maxLen {
			maxLen = len(term)
		}
		if maxLen == 0 {
			continue
		}
		sim := 1 - float64(dist)/float64(maxLen)
		if sim > best {
			best = sim
		}
	}
	return best
}

// expandOneHop adds FK-adjacent tables of everything in tableSet (spec
// §4.7 suggested_tables: "tables joined by FK within one hop").
func expandOneHop(tableSet map[string]bool, snap *schema.Snapshot) {
	additions := make(map[string]bool)
	for _, t := range snap.Tables {
		if !tableSet[strings.ToLower(t.Name)] {
			continue
		}
		for _, fk := range t.ForeignKeys {
			additions[strings.ToLower(fk.ToTable)] = true
		}
	}
	for _, t := range snap.Tables {
		for _, fk := range t.ForeignKeys {
			if tableSet[strings.ToLower(fk.ToTable)] {
				additions[strings.ToLower(t.Name)] = true
			}
		}
	}
	for k := range additions {
		tableSet[k] = true
	}
}

// joinHints derives FK chains connecting the suggested tables, each
// annotated with a hop count. Only direct (one-hop) FK edges between pairs
// of suggested tables are reported; longer chains are out of scope for the
// resolver (the Prompt Composer can still infer transitive joins from the
// schema subset it receives).
func joinHints(tables []string, snap *schema.Snapshot) []JoinHint {
	inSet := make(map[string]bool, len(tables))
	for _, t := range tables {
		inSet[strings.ToLower(t)] = true
	}

	var hints []JoinHint
	seen := make(map[string]bool)
	for _, t := range snap.Tables {
		if !inSet[strings.ToLower(t.Name)] {
			continue
		}
		for _, fk := range t.ForeignKeys {
			if !inSet[strings.ToLower(fk.ToTable)] {
				continue
			}
			a, b := t.Name, fk.ToTable
			key := strings.ToLower(a) + "\x00" + strings.ToLower(b)
			reverseKey := strings.ToLower(b) + "\x00" + strings.ToLower(a)
			if seen[key] || seen[reverseKey] {
				continue
			}
			seen[key] = true
			hints = append(hints, JoinHint{Tables: []string{a, b}, HopCount: 1})
		}
	}
	sort.Slice(hints, func(i, j int) bool { return hints[i].Tables[0] < hints[j].Tables[0] })
	return hints
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}
