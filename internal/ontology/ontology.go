// Package ontology implements the Dynamic Ontology Builder (C4): LLM-assisted
// induction of domain concepts, properties, and relationships from a
// schema snapshot, batched across tables and merged into a single
// connection-scoped Ontology.
package ontology

import (
	"sort"
	"strings"
	"time"

	"github.com/nl2sql/sqlcore/internal/schema"
)

// ColumnRef identifies a single column a Property maps to.
type ColumnRef struct {
	Table  string `yaml:"table" json:"table"`
	Column string `yaml:"column" json:"column"`
}

// Property is a Concept attribute bound to a physical column.
type Property struct {
	Name       string    `yaml:"name" json:"name"`
	MapsTo     ColumnRef `yaml:"maps_to" json:"maps_to"`
	Confidence float64   `yaml:"confidence" json:"confidence"`
}

func propertyKey(p Property) string {
	return strings.ToLower(p.Name) + "\x00" + strings.ToLower(p.MapsTo.Table) + "\x00" + strings.ToLower(p.MapsTo.Column)
}

// Concept is a domain entity induced from one or more tables.
type Concept struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Confidence  float64    `yaml:"confidence" json:"confidence"`
	Tables      []string   `yaml:"tables" json:"tables"`
	Properties  []Property `yaml:"properties" json:"properties"`
	Synonyms    []string   `yaml:"synonyms" json:"synonyms"`
}

// RelationshipKind classifies how two concepts relate.
type RelationshipKind string

const (
	RelationshipForeignKey RelationshipKind = "foreign_key"
	RelationshipSuggested  RelationshipKind = "suggested"
)

// Relationship links two concepts through one or more join tables.
type Relationship struct {
	FromConcept string           `yaml:"from_concept" json:"from_concept"`
	ToConcept   string           `yaml:"to_concept" json:"to_concept"`
	Kind        RelationshipKind `yaml:"kind" json:"kind"`
	ViaTables   []string         `yaml:"via_tables" json:"via_tables"`
	Confidence  float64          `yaml:"confidence" json:"confidence"`
}

// Ontology is the induced domain model for one connection, tied to the
// exact snapshot content it was built from via SourceHash.
type Ontology struct {
	Concepts      map[string]Concept `yaml:"concepts" json:"concepts"`
	Relationships []Relationship     `yaml:"relationships" json:"relationships"`
	GeneratedAt   time.Time          `yaml:"generated_at" json:"generated_at"`
	SourceHash    string             `yaml:"source_hash" json:"source_hash"`
}

// candidate is the shape an LLM batch response is parsed into, before
// merge and validation. It carries the same fields as Concept, with JSON
// tags only.
type candidate struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Confidence  float64    `json:"confidence"`
	Tables      []string   `json:"tables"`
	Properties  []Property `json:"properties"`
	Synonyms    []string   `json:"synonyms"`
}

// mergeCandidates implements spec step 3: concepts with the same
// canonical (case-folded) name are unified by union of tables/properties,
// best-confidence synonym set, and max confidence. Property lists are
// de-duplicated by (name, maps_to.table, maps_to.column).
func mergeCandidates(batches [][]candidate) map[string]Concept {
	merged := make(map[string]Concept)
	order := make([]string, 0)

	for _, batch := range batches {
		for _, c := range batch {
			key := strings.ToLower(strings.TrimSpace(c.Name))
			if key == "" {
				continue
			}
			existing, ok := merged[key]
			if !ok {
				merged[key] = Concept{
					Name:        c.Name,
					Description: c.Description,
					Confidence:  c.Confidence,
					Tables:      dedupStrings(c.Tables),
					Properties:  dedupProperties(c.Properties),
					Synonyms:    dedupStrings(c.Synonyms),
				}
				order = append(order, key)
				continue
			}

			if c.Confidence > existing.Confidence {
				existing.Confidence = c.Confidence
				existing.Synonyms = dedupStrings(c.Synonyms)
			}
			if existing.Description == "" {
				existing.Description = c.Description
			}
			existing.Tables = dedupStrings(append(existing.Tables, c.Tables...))
			existing.Properties = dedupProperties(append(existing.Properties, c.Properties...))
			merged[key] = existing
		}
	}

	out := make(map[string]Concept, len(merged))
	for _, key := range order {
		out[merged[key].Name] = merged[key]
	}
	return out
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func dedupProperties(in []Property) []Property {
	seen := make(map[string]int, len(in))
	out := make([]Property, 0, len(in))
	for _, p := range in {
		key := propertyKey(p)
		if idx, ok := seen[key]; ok {
			if p.Confidence > out[idx].Confidence {
				out[idx].Confidence = p.Confidence
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// validate implements spec step 5: drop any property whose maps_to does
// not reference an existing column in snap, returning the surviving
// concepts and a list of human-readable warnings for dropped mappings.
func validate(concepts map[string]Concept, snap *schema.Snapshot) (map[string]Concept, []string) {
	var warnings []string
	out := make(map[string]Concept, len(concepts))
	for name, c := range concepts {
		kept := c.Properties[:0:0]
		for _, p := range c.Properties {
			if snap.HasColumn(p.MapsTo.Table, p.MapsTo.Column) {
				kept = append(kept, p)
				continue
			}
			warnings = append(warnings, "dropped invalid maps_to "+p.MapsTo.Table+"."+p.MapsTo.Column+" for property "+p.Name+" of concept "+c.Name)
		}
		c.Properties = kept
		out[name] = c
	}
	return out, warnings
}

// deriveForeignKeyRelationships implements the FK half of spec step 4:
// for every FK edge between tables that both belong to some concept, emit
// a confidence-1.0 Relationship between those concepts.
func deriveForeignKeyRelationships(concepts map[string]Concept, snap *schema.Snapshot) []Relationship {
	tableToConcepts := make(map[string][]string)
	for name, c := range concepts {
		for _, t := range c.Tables {
			key := strings.ToLower(t)
			tableToConcepts[key] = append(tableToConcepts[key], name)
		}
	}

	seen := make(map[string]bool)
	var rels []Relationship
	for _, t := range snap.Tables {
		fromConcepts := tableToConcepts[strings.ToLower(t.Name)]
		for _, fk := range t.ForeignKeys {
			toConcepts := tableToConcepts[strings.ToLower(fk.ToTable)]
			for _, from := range fromConcepts {
				for _, to := range toConcepts {
					if from == to {
						continue
					}
					a, b := from, to
					if a > b {
						a, b = b, a
					}
					dedupKey := a + "\x00" + b + "\x00" + t.Name + "\x00" + fk.ToTable
					if seen[dedupKey] {
						continue
					}
					seen[dedupKey] = true
					rels = append(rels, Relationship{
						FromConcept: from,
						ToConcept:   to,
						Kind:        RelationshipForeignKey,
						ViaTables:   []string{t.Name, fk.ToTable},
						Confidence:  1.0,
					})
				}
			}
		}
	}
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].FromConcept != rels[j].FromConcept {
			return rels[i].FromConcept < rels[j].FromConcept
		}
		return rels[i].ToConcept < rels[j].ToConcept
	})
	return rels
}
