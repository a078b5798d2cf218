// Package graph implements the Knowledge Graph Index (C5): a projection of
// an Ontology into Concept/Property/Column/Table/Synonym nodes and
// confidence-weighted edges, queryable by natural-language term matching.
package graph

import (
	"sort"
	"strings"

	"github.com/nl2sql/sqlcore/internal/ontology"
)

// NodeKind classifies a graph node.
type NodeKind string

const (
	NodeConcept NodeKind = "Concept"
	NodeProperty NodeKind = "Property"
	NodeColumn  NodeKind = "Column"
	NodeTable   NodeKind = "Table"
	NodeSynonym NodeKind = "Synonym"
)

// EdgeKind classifies a graph edge.
type EdgeKind string

const (
	EdgeHasProperty    EdgeKind = "HAS_PROPERTY"
	EdgeMapsToColumn   EdgeKind = "MAPS_TO_COLUMN"
	EdgeRefersTo       EdgeKind = "REFERS_TO"
	EdgeMapsToTable    EdgeKind = "MAPS_TO_TABLE"
	EdgeRelatedTo      EdgeKind = "RELATED_TO"
)

// Node is one entity in the graph, addressed by (Kind, ID).
type Node struct {
	Kind NodeKind
	ID   string // e.g. "Customer", "customers.name", "customers"
}

// Edge connects two nodes with an optional confidence (set on MAPS_TO_COLUMN
// and RELATED_TO edges) and relationship kind (set on RELATED_TO only).
type Edge struct {
	From       Node
	To         Node
	Kind       EdgeKind
	Confidence float64
	RelKind    string // set only for RELATED_TO, mirrors ontology.RelationshipKind
}

func columnNodeID(table, column string) string { return table + "." + column }

// Index is the in-memory projection of an Ontology. Spec §4.5 allows an
// embedded or remote graph backend, but requires a gracefully-degraded
// in-memory traversal producing identical results when no backend is
// configured; this implementation always computes in-memory and treats that
// as the canonical path rather than a fallback, since it yields identical
// results at lower latency than any remote round trip.
type Index struct {
	nodes []Node
	edges []Edge

	// conceptProperties indexes HAS_PROPERTY edges for fast traversal.
	conceptProperties map[string][]string // concept name -> property node IDs
}

// Build projects an Ontology into a queryable Index. Property node IDs are
// "{concept}.{property}" to keep them unique across concepts that reuse a
// property name.
func Build(ont *ontology.Ontology) *Index {
	idx := &Index{conceptProperties: make(map[string][]string)}

	for _, c := range ont.Concepts {
		conceptNode := Node{Kind: NodeConcept, ID: c.Name}
		idx.nodes = append(idx.nodes, conceptNode)

		for _, t := range c.Tables {
			tableNode := Node{Kind: NodeTable, ID: t}
			idx.nodes = append(idx.nodes, tableNode)
			idx.edges = append(idx.edges, Edge{From: conceptNode, To: tableNode, Kind: EdgeMapsToTable})
		}

		for _, p := range c.Properties {
			propID := c.Name + "." + p.Name
			propNode := Node{Kind: NodeProperty, ID: propID}
			colNode := Node{Kind: NodeColumn, ID: columnNodeID(p.MapsTo.Table, p.MapsTo.Column)}

			idx.nodes = append(idx.nodes, propNode, colNode)
			idx.edges = append(idx.edges, Edge{From: conceptNode, To: propNode, Kind: EdgeHasProperty})
			idx.edges = append(idx.edges, Edge{
				From: propNode, To: colNode, Kind: EdgeMapsToColumn, Confidence: p.Confidence,
			})
			idx.conceptProperties[c.Name] = append(idx.conceptProperties[c.Name], propID)
		}

		for _, syn := range c.Synonyms {
			synNode := Node{Kind: NodeSynonym, ID: syn}
			idx.nodes = append(idx.nodes, synNode)
			idx.edges = append(idx.edges, Edge{From: synNode, To: conceptNode, Kind: EdgeRefersTo})
		}
	}

	for _, r := range ont.Relationships {
		from := Node{Kind: NodeConcept, ID: r.FromConcept}
		to := Node{Kind: NodeConcept, ID: r.ToConcept}
		idx.edges = append(idx.edges, Edge{
			From: from, To: to, Kind: EdgeRelatedTo, Confidence: r.Confidence, RelKind: string(r.Kind),
		})
	}

	return idx
}

// RemoveConceptProperty removes a HAS_PROPERTY/MAPS_TO_COLUMN edge pair for
// (conceptName, propertyName), enforcing the round-trip invariant from
// spec §3: removing an ontology property removes its graph edges.
func (idx *Index) RemoveConceptProperty(conceptName, propertyName string) {
	propID := conceptName + "." + propertyName
	kept := idx.edges[:0:0]
	for _, e := range idx.edges {
		if e.Kind == EdgeHasProperty && e.To.ID == propID {
			continue
		}
		if e.Kind == EdgeMapsToColumn && e.From.ID == propID {
			continue
		}
		kept = append(kept, e)
	}
	idx.edges = kept

	props := idx.conceptProperties[conceptName]
	for i, p := range props {
		if p == propID {
			idx.conceptProperties[conceptName] = append(props[:i], props[i+1:]...)
			break
		}
	}
}

// SuggestedColumn is one entry of Insights.SuggestedColumns[table].
type SuggestedColumn struct {
	Column     string
	Confidence float64
	Meaning    string // concept.property that produced this suggestion
}

// Insights is the result of a natural-language query against the graph.
type Insights struct {
	ConceptsDetected  []string
	SuggestedColumns  map[string][]SuggestedColumn // table -> columns
	SemanticMappings  []string                      // "concept.property -> table.column" strings
	Recommendations   []string
}

// maxColumnsPerTable bounds Insights.SuggestedColumns entries per table
// (spec §4.5: "capped to K per table").
const maxColumnsPerTable = 5

// Insights answers a natural-language question by case-insensitive
// substring matching of its terms against concept names and synonyms, then
// walking HAS_PROPERTY/MAPS_TO_COLUMN edges from the matched concepts. The
// parameter is named question, never query, to avoid the naming collision
// between "the user's question" and "a graph query string" that has
// historically caused confusion in similar SPARQL-backed tools.
func (idx *Index) Insights(question string) Insights {
	terms := tokenize(question)
	detected := idx.detectConcepts(terms)

	out := Insights{
		ConceptsDetected: detected,
		SuggestedColumns: make(map[string][]SuggestedColumn),
	}

	for _, concept := range detected {
		for _, propID := range idx.conceptProperties[concept] {
			colNode, confidence, ok := idx.mappedColumn(propID)
			if !ok {
				continue
			}
			table, column := splitColumnID(colNode.ID)
			out.SuggestedColumns[table] = append(out.SuggestedColumns[table], SuggestedColumn{
				Column:     column,
				Confidence: confidence,
				Meaning:    propID,
			})
			out.SemanticMappings = append(out.SemanticMappings, propID+" -> "+colNode.ID)
		}
	}

	for table, cols := range out.SuggestedColumns {
		sort.Slice(cols, func(i, j int) bool { return cols[i].Confidence > cols[j].Confidence })
		if len(cols) > maxColumnsPerTable {
			cols = cols[:maxColumnsPerTable]
		}
		out.SuggestedColumns[table] = cols
	}

	for table := range out.SuggestedColumns {
		out.Recommendations = append(out.Recommendations, "consider table "+table)
	}
	sort.Strings(out.Recommendations)

	return out
}

func (idx *Index) mappedColumn(propID string) (Node, float64, bool) {
	for _, e := range idx.edges {
		if e.Kind == EdgeMapsToColumn && e.From.ID == propID {
			return e.To, e.Confidence, true
		}
	}
	return Node{}, 0, false
}

func splitColumnID(id string) (table, column string) {
	i := strings.LastIndex(id, ".")
	if i == -1 {
		return id, ""
	}
	return id[:i], id[i+1:]
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

// detectConcepts matches question terms against concept names and their
// synonyms, case-insensitively, as a substring match in either direction
// (a multi-word concept name like "order item" matches the single term
// "order" no less than the reverse).
func (idx *Index) detectConcepts(terms []string) []string {
	seen := make(map[string]bool)
	var out []string

	conceptNames := make(map[string]bool)
	synonymTargets := make(map[string]string) // synonym (lower) -> concept name
	for _, n := range idx.nodes {
		if n.Kind == NodeConcept {
			conceptNames[n.ID] = true
		}
	}
	for _, e := range idx.edges {
		if e.Kind == EdgeRefersTo {
			synonymTargets[strings.ToLower(e.From.ID)] = e.To.ID
		}
	}

	for concept := range conceptNames {
		lower := strings.ToLower(concept)
		for _, term := range terms {
			if strings.Contains(lower, term) || strings.Contains(term, lower) {
				if !seen[concept] {
					seen[concept] = true
					out = append(out, concept)
				}
				break
			}
		}
	}
	for syn, concept := range synonymTargets {
		for _, term := range terms {
			if strings.Contains(syn, term) || strings.Contains(term, syn) {
				if !seen[concept] {
					seen[concept] = true
					out = append(out, concept)
				}
				break
			}
		}
	}

	sort.Strings(out)
	return out
}
