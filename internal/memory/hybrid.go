package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrStoreUnavailable reports that an operation needs a memory layer that
// was not configured or failed to start.
var ErrStoreUnavailable = errors.New("memory store unavailable")

// Working-memory keys the facade maintains for the current exchange.
const (
	keyLastQuery    = "last_query"
	keyLastResponse = "last_response"
)

// dedupePrefixLen is how much leading content identifies a duplicate result.
const dedupePrefixLen = 100

// Result is one normalized hit from any memory layer.
type Result struct {
	Content     string    `json:"content"`
	Source      string    `json:"source"`
	Score       float64   `json:"score"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	AccessCount int       `json:"access_count,omitempty"`
	FinalScore  float64   `json:"final_score"`
}

// EpisodicStore is the slice of the episodic layer the facade needs.
type EpisodicStore interface {
	Record(ctx context.Context, query, response string, confidence float64, metadata map[string]any) (string, error)
	Search(ctx context.Context, query string, limit int) ([]Episode, error)
	Count(ctx context.Context) (int, error)
}

// KeywordStore is the slice of the full-text layer the facade needs.
type KeywordStore interface {
	Store(ctx context.Context, entry Knowledge) (string, error)
	Search(ctx context.Context, query string, limit int) ([]Knowledge, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// VectorStore is the slice of the embedding layer the facade needs.
type VectorStore interface {
	Store(ctx context.Context, content string, metadata map[string]string) error
	Search(ctx context.Context, query string, topK int) ([]VectorHit, error)
	Count(ctx context.Context) (int, error)
}

// ConceptStore is the slice of the knowledge graph the facade needs.
type ConceptStore interface {
	Search(ctx context.Context, query string, limit int) ([]Concept, error)
	Count(ctx context.Context) (int, error)
}

// ProceduralCache is the slice of the procedural layer the facade needs.
type ProceduralCache interface {
	Store(ctx context.Context, query, response string, confidence float64) error
	Lookup(ctx context.Context, query string) (string, bool, error)
	Count(ctx context.Context) (int, error)
}

// Deps carries the layers the facade composes. Any layer except Working may
// be nil; the facade skips what is missing.
type Deps struct {
	Working    *Working
	Episodic   EpisodicStore
	Keyword    KeywordStore
	Vector     VectorStore
	Graph      ConceptStore
	Procedural ProceduralCache
}

// Hybrid is the unified surface over all memory layers: one search, one
// store, one forget. Layers that are down degrade the result set, never the
// call.
type Hybrid struct {
	working    *Working
	episodic   EpisodicStore
	keyword    KeywordStore
	vector     VectorStore
	graph      ConceptStore
	procedural ProceduralCache
	ranker     *Ranker
	logger     *zap.Logger
}

// NewHybrid creates the memory facade.
func NewHybrid(deps Deps, ranker *Ranker, logger *zap.Logger) *Hybrid {
	if deps.Working == nil {
		deps.Working = NewWorking(0)
	}
	if ranker == nil {
		ranker = NewRanker(DecayExponential, 0)
	}
	return &Hybrid{
		working:    deps.Working,
		episodic:   deps.Episodic,
		keyword:    deps.Keyword,
		vector:     deps.Vector,
		graph:      deps.Graph,
		procedural: deps.Procedural,
		ranker:     ranker,
		logger:     logger,
	}
}

// Working exposes the in-process attention slots.
func (h *Hybrid) Working() *Working {
	return h.working
}

// Search fans the query out to every available layer, ranks the merged
// results by content score, freshness and access frequency, deduplicates by
// content prefix and returns the top K. A failing layer is skipped.
func (h *Hybrid) Search(ctx context.Context, query string, topK int) []Result {
	if topK <= 0 {
		topK = 5
	}

	var results []Result
	for _, hit := range h.working.Search(query) {
		results = append(results, Result{
			Content: hit.Content,
			Source:  "working",
			Score:   hit.Attention,
		})
	}

	if h.episodic != nil {
		episodes, err := h.episodic.Search(ctx, query, topK)
		if err != nil {
			h.logger.Warn("episodic search failed", zap.Error(err))
		}
		for _, ep := range episodes {
			results = append(results, Result{
				Content:   "Q: " + ep.Query + "\nA: " + ep.Response,
				Source:    "episodic",
				Score:     ep.Confidence,
				Timestamp: ep.Timestamp,
			})
		}
	}

	if h.keyword != nil {
		items, err := h.keyword.Search(ctx, query, topK)
		if err != nil {
			h.logger.Warn("keyword search failed", zap.Error(err))
		}
		for _, item := range items {
			results = append(results, Result{
				Content:     item.Content,
				Source:      "keyword",
				Score:       item.Score,
				Timestamp:   item.Timestamp,
				AccessCount: item.AccessCount,
			})
		}
	}

	if h.vector != nil {
		hits, err := h.vector.Search(ctx, query, topK)
		if err != nil {
			h.logger.Warn("vector search failed", zap.Error(err))
		}
		for _, hit := range hits {
			results = append(results, Result{
				Content:   hit.Content,
				Source:    "vector",
				Score:     hit.Score,
				Timestamp: hit.Timestamp,
			})
		}
	}

	if h.graph != nil {
		concepts, err := h.graph.Search(ctx, query, topK)
		if err != nil {
			h.logger.Warn("graph search failed", zap.Error(err))
		}
		for _, c := range concepts {
			content := "Concept: " + c.Label
			if len(c.Connections) > 0 {
				related := c.Connections
				if len(related) > 5 {
					related = related[:5]
				}
				content += " | Related: " + strings.Join(related, ", ")
			}
			results = append(results, Result{
				Content: content,
				Source:  "graph",
				Score:   c.Activation,
			})
		}
	}

	results = h.ranker.Rank(results)

	seen := make(map[string]bool, len(results))
	unique := results[:0]
	for _, r := range results {
		key := truncate(r.Content, dedupePrefixLen)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, r)
	}
	if len(unique) > topK {
		unique = unique[:topK]
	}
	return unique
}

// StoreInteraction fans a finished exchange out to the working, episodic,
// keyword and vector layers.
func (h *Hybrid) StoreInteraction(ctx context.Context, query, response string, metadata map[string]any) error {
	h.working.Store(keyLastQuery, query, 1.0)
	h.working.Store(keyLastResponse, truncate(response, 500), 1.0)

	if h.episodic != nil {
		if _, err := h.episodic.Record(ctx, query, response, 0.5, metadata); err != nil {
			return err
		}
	}
	if h.keyword != nil {
		entry := Knowledge{
			Title:    truncate(query, 100),
			Content:  response,
			Category: "interaction",
			Source:   "conversation",
		}
		if _, err := h.keyword.Store(ctx, entry); err != nil {
			return err
		}
	}
	if h.vector != nil {
		text := "Q: " + query + "\nA: " + truncate(response, 500)
		if err := h.vector.Store(ctx, text, map[string]string{"type": "interaction"}); err != nil {
			return err
		}
	}
	return nil
}

// StoreKnowledge writes a fact into the semantic layers. It fails only when
// no semantic layer is available at all.
func (h *Hybrid) StoreKnowledge(ctx context.Context, title, content, category string) error {
	if h.keyword == nil && h.vector == nil {
		return ErrStoreUnavailable
	}
	if h.keyword != nil {
		entry := Knowledge{Title: title, Content: content, Category: category}
		if _, err := h.keyword.Store(ctx, entry); err != nil {
			return err
		}
	}
	if h.vector != nil {
		md := map[string]string{"title": title, "category": category}
		if err := h.vector.Store(ctx, content, md); err != nil {
			return err
		}
	}
	return nil
}

// LookupProcedural consults the answer cache. Without a cache every query
// is a miss.
func (h *Hybrid) LookupProcedural(ctx context.Context, query string) (string, bool, error) {
	if h.procedural == nil {
		return "", false, nil
	}
	return h.procedural.Lookup(ctx, query)
}

// StoreProcedural caches a high-confidence answer for reuse.
func (h *Hybrid) StoreProcedural(ctx context.Context, query, response string) error {
	if h.procedural == nil {
		return nil
	}
	return h.procedural.Store(ctx, query, response, 0.8)
}

// Forget removes keyword entries matching the query and reports how many
// were deleted.
func (h *Hybrid) Forget(ctx context.Context, query string, limit int) (int, error) {
	if h.keyword == nil {
		return 0, ErrStoreUnavailable
	}
	if limit <= 0 {
		limit = 20
	}

	items, err := h.keyword.Search(ctx, query, limit)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, item := range items {
		if err := h.keyword.Delete(ctx, item.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	if deleted > 0 {
		h.logger.Info("forgot memories",
			zap.String("query", query), zap.Int("deleted", deleted))
	}
	return deleted, nil
}

// Stats reports entry counts per available layer.
func (h *Hybrid) Stats(ctx context.Context) map[string]int {
	stats := map[string]int{"working_slots": h.working.Len()}

	count := func(name string, fn func(context.Context) (int, error)) {
		n, err := fn(ctx)
		if err != nil {
			h.logger.Warn("memory stats failed", zap.String("layer", name), zap.Error(err))
			return
		}
		stats[name] = n
	}
	if h.episodic != nil {
		count("episodes", h.episodic.Count)
	}
	if h.keyword != nil {
		count("knowledge_entries", h.keyword.Count)
	}
	if h.vector != nil {
		count("vectors", h.vector.Count)
	}
	if h.graph != nil {
		count("concepts", h.graph.Count)
	}
	if h.procedural != nil {
		count("procedures", h.procedural.Count)
	}
	return stats
}

// truncate returns at most max runes of s.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
