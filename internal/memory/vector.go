package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/karvel/famulus/internal/embedding"
	"github.com/karvel/famulus/internal/vectorstore"
)

// vectorCollection is the Qdrant collection holding memory embeddings.
const vectorCollection = "memories"

// VectorHit is a single semantic similarity result.
type VectorHit struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// VectorIndex is the embedding-similarity layer over Qdrant. It is optional:
// when Qdrant or the embedder is unreachable the rest of the memory system
// keeps working without it.
type VectorIndex struct {
	embedder embedding.Provider
	store    *vectorstore.Client
	logger   *zap.Logger
}

// NewVectorIndex creates the semantic vector layer.
func NewVectorIndex(embedder embedding.Provider, store *vectorstore.Client, logger *zap.Logger) *VectorIndex {
	return &VectorIndex{embedder: embedder, store: store, logger: logger}
}

// EnsureReady creates the memory collection if needed.
func (v *VectorIndex) EnsureReady(ctx context.Context) error {
	dim := uint64(v.embedder.Dimension())
	if dim == 0 {
		dim = 1024
	}
	if err := v.store.EnsureCollection(ctx, vectorCollection, dim); err != nil {
		return fmt.Errorf("init memory collection: %w", err)
	}
	return nil
}

// Store embeds the content and upserts it with its metadata.
func (v *VectorIndex) Store(ctx context.Context, content string, metadata map[string]string) error {
	vectors, err := v.embedder.Embed(ctx, []string{content})
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("empty embedding result")
	}

	payload := make(map[string]string, len(metadata)+2)
	for k, val := range metadata {
		payload[k] = val
	}
	payload["content"] = content
	payload["indexed_at"] = time.Now().UTC().Format(time.RFC3339)

	return v.store.Upsert(ctx, vectorCollection, uuid.New().String(), vectors[0], payload)
}

// Search embeds the query and returns the nearest stored memories.
func (v *VectorIndex) Search(ctx context.Context, query string, topK int) ([]VectorHit, error) {
	if topK <= 0 {
		topK = 5
	}
	vectors, err := v.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	hits, err := v.store.Search(ctx, vectorCollection, vectors[0], uint64(topK))
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]VectorHit, 0, len(hits))
	for _, h := range hits {
		hit := VectorHit{
			ID:      h.ID,
			Content: h.Payload["content"],
			Score:   float64(h.Score),
		}
		if raw := h.Payload["indexed_at"]; raw != "" {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				hit.Timestamp = ts
			}
		}
		results = append(results, hit)
	}
	return results, nil
}

// Count returns the number of indexed memories.
func (v *VectorIndex) Count(ctx context.Context) (int, error) {
	n, err := v.store.Count(ctx, vectorCollection)
	if err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return int(n), nil
}
