package vectorsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LocalDimension is the vector width produced by the "local" embedding
// function, the default when no real embedding model is configured.
const LocalDimension = 384

// EmbeddingFunction maps text to a vector. It is the opaque, external
// collaborator the Vector Source calls; a real deployment points it at a
// model, but the "local" function keeps the system runnable on its own.
type EmbeddingFunction func(ctx context.Context, text string) ([]float32, error)

// embeddingRegistry resolves an EmbeddingFunction by config name, mirroring
// the role chroma.embeddingFunction plays in the corpus this is modeled on.
var embeddingRegistry = map[string]func() EmbeddingFunction{
	"local": func() EmbeddingFunction { return localEmbedding },
}

// ResolveEmbeddingFunction looks up a named embedding function. Unknown
// names fall back to "local" rather than failing outright, since the
// function is a config-selected collaborator, not a hard dependency.
func ResolveEmbeddingFunction(name string) EmbeddingFunction {
	if name == "" {
		name = "local"
	}
	if factory, ok := embeddingRegistry[name]; ok {
		return factory()
	}
	return localEmbedding
}

// localEmbedding derives a deterministic vector from the text's SHA-256
// digest. It is not a semantic embedding; it exists so upsert/query paths
// are exercisable without a real model.
func localEmbedding(_ context.Context, text string) ([]float32, error) {
	digest := sha256.Sum256([]byte(text))
	vector := make([]float32, LocalDimension)
	for i := range vector {
		vector[i] = float32(digest[i%len(digest)]) / 255.0
	}
	return vector, nil
}

// ComputeHash hashes text for embedding memoization and staleness checks.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// memoEmbedder wraps an EmbeddingFunction with an LRU cache keyed by content
// hash, so repeated analyze passes over unchanged chunks never recompute.
type memoEmbedder struct {
	fn    EmbeddingFunction
	cache *lru.Cache[string, []float32]
}

func newMemoEmbedder(fn EmbeddingFunction, size int) (*memoEmbedder, error) {
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &memoEmbedder{fn: fn, cache: cache}, nil
}

func (m *memoEmbedder) embed(ctx context.Context, text string) (vector []float32, hash string, err error) {
	hash = ComputeHash(text)
	if cached, ok := m.cache.Get(hash); ok {
		out := make([]float32, len(cached))
		copy(out, cached)
		return out, hash, nil
	}

	vector, err = m.fn(ctx, text)
	if err != nil {
		return nil, hash, err
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)
	m.cache.Add(hash, stored)
	return vector, hash, nil
}
