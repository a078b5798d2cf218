package rag

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// embedDimensions is the fixed vector length produced by HashEmbed.
const embedDimensions = 256

// HashEmbed is a dependency-free fallback embedding function: it hashes
// each token of the input into one of embedDimensions buckets and
// L2-normalizes the resulting vector. It has none of a real embedding
// model's semantic properties beyond shared-vocabulary similarity, but it
// is deterministic and needs no network call, which keeps tests and
// offline operation possible. Production deployments should instead pass
// chromem.NewEmbeddingFuncOpenAI (or any chromem.EmbeddingFunc) into New.
//
// No example in the reference pack ships a local embedding model; this is
// the one piece of the RAG store built on the standard library rather than
// a pack dependency, because chromem-go itself is embedding-agnostic and
// requires the caller to supply a function.
func HashEmbed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embedDimensions)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%embedDimensions]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec, nil
}
