package memory

import (
	"context"

	"go.uber.org/zap"
)

const (
	// workingDecayRate is applied to attention weights each cycle.
	workingDecayRate = 0.1
	// cleanupMinConfidence prunes procedures below this confidence.
	cleanupMinConfidence = 0.2
	// promoteLimit caps lesson promotions per cycle.
	promoteLimit = 5
	// promoteMinLessonLen skips trivially short lessons.
	promoteMinLessonLen = 10
)

// GraphDecayer decays concept activations and removes faded concepts.
type GraphDecayer interface {
	Decay(ctx context.Context, rate float64) (int, error)
}

// ProceduralCleaner drops low-confidence cached procedures.
type ProceduralCleaner interface {
	Cleanup(ctx context.Context, minConfidence float64) (int, error)
}

// LessonSource yields episodes carrying lessons worth promoting.
type LessonSource interface {
	Lessons(ctx context.Context, limit int) ([]Episode, error)
}

// Consolidator runs the periodic memory maintenance cycle: decay working
// attention, decay the knowledge graph, drop failed procedures and promote
// episodic lessons into the semantic layer. Every step is local; no model
// tokens are spent.
type Consolidator struct {
	working    *Working
	graph      GraphDecayer
	procedural ProceduralCleaner
	episodic   LessonSource
	keyword    KeywordStore
	decayRate  float64
	logger     *zap.Logger
}

// NewConsolidator wires a consolidation cycle over the given layers. Nil
// layers are skipped. decayRate is the knowledge-graph decay per cycle.
func NewConsolidator(working *Working, graph GraphDecayer, procedural ProceduralCleaner,
	episodic LessonSource, keyword KeywordStore, decayRate float64, logger *zap.Logger) *Consolidator {
	if working == nil {
		working = NewWorking(0)
	}
	if decayRate <= 0 {
		decayRate = 0.01
	}
	return &Consolidator{
		working:    working,
		graph:      graph,
		procedural: procedural,
		episodic:   episodic,
		keyword:    keyword,
		decayRate:  decayRate,
		logger:     logger,
	}
}

// Consolidate runs one cycle and reports per-step counts.
func (c *Consolidator) Consolidate(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)

	c.working.DecayAll(workingDecayRate)
	stats["working_slots"] = c.working.Len()

	if c.graph != nil {
		removed, err := c.graph.Decay(ctx, c.decayRate)
		if err != nil {
			return stats, err
		}
		stats["concepts_removed"] = removed
	}

	if c.procedural != nil {
		cleaned, err := c.procedural.Cleanup(ctx, cleanupMinConfidence)
		if err != nil {
			return stats, err
		}
		stats["procedures_cleaned"] = cleaned
	}

	if c.episodic != nil && c.keyword != nil {
		episodes, err := c.episodic.Lessons(ctx, promoteLimit)
		if err != nil {
			return stats, err
		}
		promoted := 0
		for _, ep := range episodes {
			if len(ep.Lesson) <= promoteMinLessonLen {
				continue
			}
			entry := Knowledge{
				Title:    "Lesson",
				Content:  ep.Lesson,
				Category: "episodic_promotion",
				Source:   "consolidation",
			}
			if _, err := c.keyword.Store(ctx, entry); err != nil {
				return stats, err
			}
			promoted++
		}
		stats["lessons_promoted"] = promoted
	}

	c.logger.Info("consolidation cycle complete",
		zap.Int("working_slots", stats["working_slots"]),
		zap.Int("concepts_removed", stats["concepts_removed"]),
		zap.Int("procedures_cleaned", stats["procedures_cleaned"]),
		zap.Int("lessons_promoted", stats["lessons_promoted"]))
	return stats, nil
}
