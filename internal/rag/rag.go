// Package rag implements the RAG Example Store (C6): a vector-indexed
// history of successful (question, SQL) pairs with nearest-neighbor
// retrieval, filtered by dialect and optionally schema.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/philippgille/chromem-go"
)

const collectionName = "sql_examples"

// Entry is one immutable (question, sql) example, per spec §3 RAGEntry.
type Entry struct {
	Question   string
	SQL        string
	Dialect    string
	SchemaName string
	Success    bool
	Similarity float32 // set only on Search results
}

func dedupeKey(question, sqlText, dialect string) string {
	h := sha256.Sum256([]byte(strings.ToLower(question) + "\x00" + sqlText + "\x00" + strings.ToLower(dialect)))
	return hex.EncodeToString(h[:])
}

// DedupeID returns the stable identifier Import derives for e, exported so
// a durable backing store (internal/store) can key its own copy of the
// same entry identically.
func DedupeID(e Entry) string { return dedupeKey(e.Question, e.SQL, e.Dialect) }

// Store wraps a chromem-go collection. It is optional per spec §4.6: when
// nil, the Semantic Resolver proceeds without RAG examples.
type Store struct {
	collection *chromem.Collection
	threshold  float32
}

// New creates a Store backed by an in-memory chromem-go database. embedFunc
// is typically HashEmbed for dependency-free operation, or
// chromem.NewEmbeddingFuncOpenAI(...) when a real embedding model is
// configured. similarityThreshold filters Search results (spec §4.6:
// "above a cosine similarity threshold").
func New(embedFunc chromem.EmbeddingFunc, similarityThreshold float32) (*Store, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("rag: create collection: %w", err)
	}
	return &Store{collection: col, threshold: similarityThreshold}, nil
}

// Import stores a successful (question, sql) example, coalescing duplicates
// on (question, sql, dialect) by overwriting the prior entry with the same
// derived ID (spec §4.6/§6 import).
func (s *Store) Import(ctx context.Context, e Entry) error {
	id := dedupeKey(e.Question, e.SQL, e.Dialect)
	return s.collection.AddDocument(ctx, chromem.Document{
		ID:      id,
		Content: e.Question,
		Metadata: map[string]string{
			"sql":         e.SQL,
			"dialect":     strings.ToLower(e.Dialect),
			"schema_name": e.SchemaName,
			"success":     boolString(e.Success),
		},
	})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Search returns the top-K examples nearest to question, above the
// similarity threshold, filtered by dialect and optionally schemaName.
// Unsuccessful entries are excluded by default per spec §3.
func (s *Store) Search(ctx context.Context, question, dialect, schemaName string, topK int) ([]Entry, error) {
	if s.collection.Count() == 0 {
		return nil, nil
	}
	where := map[string]string{
		"dialect": strings.ToLower(dialect),
		"success": "true",
	}
	if schemaName != "" {
		where["schema_name"] = schemaName
	}

	n := topK
	if max := s.collection.Count(); n > max {
		n = max
	}
	results, err := s.collection.Query(ctx, question, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("rag: query: %w", err)
	}

	out := make([]Entry, 0, len(results))
	for _, r := range results {
		if r.Similarity < s.threshold {
			continue
		}
		out = append(out, Entry{
			Question:   r.Content,
			SQL:        r.Metadata["sql"],
			Dialect:    r.Metadata["dialect"],
			SchemaName: r.Metadata["schema_name"],
			Success:    r.Metadata["success"] == "true",
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// Clear removes every stored example.
func (s *Store) Clear(ctx context.Context) error {
	return s.collection.Delete(ctx, nil, nil)
}

// Count returns the number of stored examples, for diagnostics.
func (s *Store) Count() int { return s.collection.Count() }
