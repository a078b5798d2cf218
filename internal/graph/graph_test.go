package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql/sqlcore/internal/ontology"
)

func sampleOntology() *ontology.Ontology {
	return &ontology.Ontology{
		Concepts: map[string]ontology.Concept{
			"Customer": {
				Name:     "Customer",
				Tables:   []string{"customers"},
				Synonyms: []string{"client"},
				Properties: []ontology.Property{
					{Name: "full_name", MapsTo: ontology.ColumnRef{Table: "customers", Column: "name"}, Confidence: 0.9},
				},
			},
			"Order": {
				Name:   "Order",
				Tables: []string{"orders"},
				Properties: []ontology.Property{
					{Name: "amount", MapsTo: ontology.ColumnRef{Table: "orders", Column: "total"}, Confidence: 0.7},
				},
			},
		},
		Relationships: []ontology.Relationship{
			{FromConcept: "Customer", ToConcept: "Order", Kind: ontology.RelationshipForeignKey, Confidence: 1.0},
		},
	}
}

func TestInsightsMatchesConceptByNameAndSynonym(t *testing.T) {
	idx := Build(sampleOntology())

	res := idx.Insights("show me every client and their order total")
	assert.Contains(t, res.ConceptsDetected, "Customer")
	assert.Contains(t, res.ConceptsDetected, "Order")

	require.Contains(t, res.SuggestedColumns, "customers")
	assert.Equal(t, "name", res.SuggestedColumns["customers"][0].Column)

	require.Contains(t, res.SuggestedColumns, "orders")
	assert.Equal(t, "total", res.SuggestedColumns["orders"][0].Column)
}

func TestRemoveConceptPropertyDropsEdges(t *testing.T) {
	idx := Build(sampleOntology())
	idx.RemoveConceptProperty("Customer", "full_name")

	res := idx.Insights("client")
	assert.NotContains(t, res.SuggestedColumns, "customers")
}

func TestInsightsCapsColumnsPerTable(t *testing.T) {
	ont := &ontology.Ontology{Concepts: map[string]ontology.Concept{
		"Widget": {Name: "Widget", Tables: []string{"widgets"}},
	}}
	props := make([]ontology.Property, 0, 8)
	for i := 0; i < 8; i++ {
		props = append(props, ontology.Property{
			Name:       "p" + string(rune('a'+i)),
			MapsTo:     ontology.ColumnRef{Table: "widgets", Column: "c" + string(rune('a'+i))},
			Confidence: float64(i) / 10,
		})
	}
	w := ont.Concepts["Widget"]
	w.Properties = props
	ont.Concepts["Widget"] = w

	idx := Build(ont)
	res := idx.Insights("widget")
	assert.LessOrEqual(t, len(res.SuggestedColumns["widgets"]), maxColumnsPerTable)
}
