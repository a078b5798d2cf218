package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/nl2sql/sqlcore/internal/llm"
	"github.com/nl2sql/sqlcore/internal/schema"
	"github.com/nl2sql/sqlcore/utils"
)

// DefaultBatchSize is B from spec §4.4 step 2.
const DefaultBatchSize = 10

// Builder induces an Ontology from a schema.Snapshot via an llm.Provider.
type Builder struct {
	Provider  llm.Provider
	BatchSize int
}

// New constructs a Builder with the given provider and default batch size.
func New(provider llm.Provider) *Builder {
	return &Builder{Provider: provider, BatchSize: DefaultBatchSize}
}

// Build runs the five-step algorithm from spec §4.4: batch, induce per
// batch, merge, derive relationships, validate. seedConcepts are optional
// user-supplied concept names the LLM is told already exist and should be
// reused rather than re-invented where applicable.
func (b *Builder) Build(ctx context.Context, snap *schema.Snapshot, seedConcepts []string) (*Ontology, []string, error) {
	if len(snap.Tables) == 0 {
		return nil, nil, fmt.Errorf("ontology: snapshot has no tables")
	}
	batchSize := b.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	batches := batchTables(snap.Tables, batchSize)
	results := make([][]candidate, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i, tables := range batches {
		i, tables := i, tables
		g.Go(func() error {
			cands, err := b.induceBatch(gctx, tables, seedConcepts)
			if err != nil {
				return fmt.Errorf("ontology: batch %d: %w", i, err)
			}
			results[i] = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	merged := mergeCandidates(results)
	validated, warnings := validate(merged, snap)

	relationships := deriveForeignKeyRelationships(validated, snap)
	suggested, err := b.suggestRelationships(ctx, validated)
	if err != nil {
		utils.GetLogger().Warn("ontology relationship suggestion failed", utils.Error(err))
	} else {
		relationships = append(relationships, suggested...)
	}

	ont := &Ontology{
		Concepts:      validated,
		Relationships: relationships,
		GeneratedAt:   time.Now(),
		SourceHash:    snap.ContentHash(),
	}
	return ont, warnings, nil
}

func batchTables(tables []schema.Table, size int) [][]schema.Table {
	var batches [][]schema.Table
	for i := 0; i < len(tables); i += size {
		end := i + size
		if end > len(tables) {
			end = len(tables)
		}
		batches = append(batches, tables[i:end])
	}
	return batches
}

// batchResponse is the JSON shape the induction prompt asks the LLM to
// return: an object whose "concepts" field holds the concept candidates.
// induceBatch also accepts a bare array of candidates.
type batchResponse struct {
	Concepts []candidate `json:"concepts"`
}

func (b *Builder) induceBatch(ctx context.Context, tables []schema.Table, seedConcepts []string) ([]candidate, error) {
	prompt := buildInductionPrompt(tables, seedConcepts)
	text, err := b.Provider.GenerateStructured(ctx, []llm.Message{
		{Role: "system", Content: "You are a database schema analyst. Respond with JSON only."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, err
	}

	jsonStr := extractJSON(text)
	var resp batchResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		// tolerate a bare array instead of {"concepts": [...]}
		var bare []candidate
		if err2 := json.Unmarshal([]byte(jsonStr), &bare); err2 != nil {
			return nil, fmt.Errorf("unmarshal concept candidates: %w", err)
		}
		resp.Concepts = bare
	}

	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[strings.ToLower(t.Name)] = true
	}

	filtered := resp.Concepts[:0:0]
	for _, c := range resp.Concepts {
		var tables []string
		for _, t := range c.Tables {
			if allowed[strings.ToLower(t)] {
				tables = append(tables, t)
			}
		}
		if len(tables) == 0 {
			continue // candidate referenced only tables outside this batch
		}
		c.Tables = tables

		var props []Property
		for _, p := range c.Properties {
			if allowed[strings.ToLower(p.MapsTo.Table)] {
				props = append(props, p)
			}
		}
		c.Properties = props
		filtered = append(filtered, c)
	}
	return filtered, nil
}

func buildInductionPrompt(tables []schema.Table, seedConcepts []string) string {
	var sb strings.Builder
	sb.WriteString("Identify domain concepts present in the following tables.\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Only use table and column names exactly as given below; never invent names.\n")
	sb.WriteString("- Do not propose generic placeholder concepts (e.g. \"Entity\", \"Record\", \"Data\").\n")
	sb.WriteString("- Every property must set maps_to to a real table.column from this batch.\n")
	if len(seedConcepts) > 0 {
		sb.WriteString("- Reuse these existing concept names where applicable: " + strings.Join(seedConcepts, ", ") + "\n")
	}
	sb.WriteString("\nTables:\n")
	for _, t := range tables {
		sb.WriteString("Table " + t.Name + ":\n")
		for _, c := range t.Columns {
			flags := ""
			if c.IsPrimaryKey {
				flags += " PK"
			}
			if c.IsForeignKey {
				flags += " FK"
			}
			nullability := "NOT NULL"
			if c.Nullable {
				nullability = "NULL"
			}
			sb.WriteString(fmt.Sprintf("  %s %s %s%s\n", c.Name, c.DataType, nullability, flags))
		}
	}
	sb.WriteString("\nRespond with JSON: {\"concepts\": [{\"name\":...,\"description\":...,\"confidence\":0..1,\"tables\":[...],\"properties\":[{\"name\":...,\"maps_to\":{\"table\":...,\"column\":...},\"confidence\":0..1}],\"synonyms\":[...]}]}\n")
	sb.WriteString("Return ONLY the JSON object, no additional text.")
	return sb.String()
}

type relationshipCandidate struct {
	FromConcept string  `json:"from_concept"`
	ToConcept   string  `json:"to_concept"`
	ViaTables   []string `json:"via_tables"`
	Confidence  float64 `json:"confidence"`
}

type relationshipResponse struct {
	Relationships []relationshipCandidate `json:"relationships"`
}

// suggestRelationships asks the LLM for relationships between concepts
// beyond the FK-derived ones (spec §4.4 step 4). Confidence is capped at
// 0.9 regardless of what the model returns, and both endpoints must be
// concepts that survived validation.
func (b *Builder) suggestRelationships(ctx context.Context, concepts map[string]Concept) ([]Relationship, error) {
	if len(concepts) < 2 {
		return nil, nil
	}
	names := make([]string, 0, len(concepts))
	for name := range concepts {
		names = append(names, name)
	}

	prompt := "Given these domain concepts: " + strings.Join(names, ", ") +
		", suggest relationships between them that are not simple foreign keys " +
		"(e.g. business associations). Respond with JSON only: " +
		"{\"relationships\": [{\"from_concept\":...,\"to_concept\":...,\"via_tables\":[...],\"confidence\":0..1}]}. " +
		"Only use concept names from the list above. Return ONLY the JSON object."

	text, err := b.Provider.GenerateStructured(ctx, []llm.Message{
		{Role: "system", Content: "You are a database schema analyst. Respond with JSON only."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, err
	}

	var resp relationshipResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(concepts))
	for name := range concepts {
		known[name] = true
	}

	var out []Relationship
	for _, r := range resp.Relationships {
		if !known[r.FromConcept] || !known[r.ToConcept] || r.FromConcept == r.ToConcept {
			continue
		}
		confidence := r.Confidence
		if confidence <= 0 || confidence > 0.9 {
			confidence = 0.9
		}
		out = append(out, Relationship{
			FromConcept: r.FromConcept,
			ToConcept:   r.ToConcept,
			Kind:        RelationshipSuggested,
			ViaTables:   r.ViaTables,
			Confidence:  confidence,
		})
	}
	return out, nil
}

var (
	fencedJSONWithLang = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
	fencedJSON         = regexp.MustCompile("(?s)```\\s*(\\{.*?\\})\\s*```")
)

// extractJSON pulls a JSON object out of an LLM response that may wrap it
// in markdown code fences, mirroring the teacher's schema-inference
// response parsing.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if m := fencedJSONWithLang.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if m := fencedJSON.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(content, "{") && strings.HasSuffix(content, "}") {
		return content
	}

	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}
	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return content[start:]
}

// exportMetadata is the metadata block of the persisted ontology document
// (spec §6: "metadata.{concept_count, property_count, relationship_count,
// table_count, generated_at, snapshot_hash}"), computed at export time
// rather than carried on Ontology itself.
type exportMetadata struct {
	ConceptCount      int       `yaml:"concept_count" json:"concept_count"`
	PropertyCount     int       `yaml:"property_count" json:"property_count"`
	RelationshipCount int       `yaml:"relationship_count" json:"relationship_count"`
	TableCount        int       `yaml:"table_count" json:"table_count"`
	GeneratedAt       time.Time `yaml:"generated_at" json:"generated_at"`
	SnapshotHash      string    `yaml:"snapshot_hash" json:"snapshot_hash"`
}

// exportDoc is the on-disk shape: concepts, relationships, and a metadata
// block, matching spec §6's persisted state layout exactly.
type exportDoc struct {
	Concepts      map[string]Concept `yaml:"concepts" json:"concepts"`
	Relationships []Relationship     `yaml:"relationships" json:"relationships"`
	Metadata      exportMetadata     `yaml:"metadata" json:"metadata"`
}

// Export renders ont as YAML in the spec §6 persisted layout, named
// {connection_key}_{hash}.yml. tableCount is the number of tables in the
// snapshot ont was built from; Ontology itself only retains the tables its
// concepts reference, not the snapshot's full table count, so the caller
// (which still holds the snapshot) must supply it.
func Export(connectionKey string, ont *Ontology, tableCount int) (filename string, data []byte, err error) {
	propertyCount := 0
	for _, c := range ont.Concepts {
		propertyCount += len(c.Properties)
	}

	doc := exportDoc{
		Concepts:      ont.Concepts,
		Relationships: ont.Relationships,
		Metadata: exportMetadata{
			ConceptCount:      len(ont.Concepts),
			PropertyCount:     propertyCount,
			RelationshipCount: len(ont.Relationships),
			TableCount:        tableCount,
			GeneratedAt:       ont.GeneratedAt,
			SnapshotHash:      ont.SourceHash,
		},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", nil, err
	}
	name := connectionKey + "_" + ont.SourceHash + ".yml"
	return name, out, nil
}

// Decode parses YAML produced by Export back into an Ontology, recovering
// GeneratedAt/SourceHash from the metadata block. The count fields are
// re-derived from Concepts/Relationships rather than restored verbatim.
func Decode(data []byte) (*Ontology, error) {
	var doc exportDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &Ontology{
		Concepts:      doc.Concepts,
		Relationships: doc.Relationships,
		GeneratedAt:   doc.Metadata.GeneratedAt,
		SourceHash:    doc.Metadata.SnapshotHash,
	}, nil
}
