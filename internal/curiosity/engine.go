// Package curiosity implements budget-gated self-directed exploration.
// Free operations (decay sweeps, contradiction scans) run every tick;
// anything that costs model tokens must win a curiosity grant from the
// ledger first.
package curiosity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/karvel/famulus/internal/budget"
	"github.com/karvel/famulus/internal/memory"
	"github.com/karvel/famulus/internal/provider"
)

const (
	graphDecayRate    = 0.005
	workingDecayRate  = 0.02
	maxContradictions = 3
	minInsightLen     = 20
	defaultOpTokens   = 500
)

// ConceptGraph is the slice of the knowledge graph the engine sweeps.
type ConceptGraph interface {
	Decay(ctx context.Context, rate float64) (int, error)
	FindContradictions(ctx context.Context) ([]memory.Contradiction, error)
	RandomPair(ctx context.Context) (string, string, bool, error)
}

// KnowledgeStore receives insights worth keeping.
type KnowledgeStore interface {
	StoreKnowledge(ctx context.Context, title, content, category string) error
}

// Completer is the provider surface for exploration calls.
type Completer interface {
	Complete(ctx context.Context, req *provider.Request) (*provider.Completion, error)
}

// Deps bundles the engine's collaborators. Only Ledger is required;
// every nil capability just narrows what a tick can do.
type Deps struct {
	Ledger    *budget.Ledger
	Graph     ConceptGraph
	Working   *memory.Working
	Knowledge KnowledgeStore
	LLM       Completer
}

// Status is the engine's queue state, for the API.
type Status struct {
	PendingExplorations int `json:"pending_explorations"`
	ExplorationsDone    int `json:"explorations_done"`
	OpsRemaining        int `json:"ops_remaining"`
}

// TickReport summarizes one curiosity cycle.
type TickReport struct {
	RemovedConcepts     int
	WorkingSlots        int
	ContradictionsFound int
	QueuedExplorations  int
	Explored            string
}

type explorationKind string

const (
	kindConceptBlend  explorationKind = "concept_blend"
	kindContradiction explorationKind = "contradiction_resolution"
)

type exploration struct {
	kind           explorationKind
	pair           [2]string
	contradictions []memory.Contradiction
	priority       int
}

// Engine queues explorations discovered by free sweeps and spends at
// most one curiosity grant per tick working through them.
type Engine struct {
	ledger      *budget.Ledger
	graph       ConceptGraph
	working     *memory.Working
	knowledge   KnowledgeStore
	llm         Completer
	perOpTokens int

	mu    sync.Mutex
	queue []exploration
	done  int

	logger *zap.Logger
}

// NewEngine builds a curiosity engine; a non-positive perOpTokens
// takes the 500-token default.
func NewEngine(deps Deps, perOpTokens int, logger *zap.Logger) *Engine {
	if perOpTokens <= 0 {
		perOpTokens = defaultOpTokens
	}
	return &Engine{
		ledger:      deps.Ledger,
		graph:       deps.Graph,
		working:     deps.Working,
		knowledge:   deps.Knowledge,
		llm:         deps.LLM,
		perOpTokens: perOpTokens,
		logger:      logger,
	}
}

// Tick runs one curiosity cycle.
func (e *Engine) Tick(ctx context.Context) TickReport {
	var rep TickReport
	e.freeOperations(ctx, &rep)
	if e.llm != nil && e.ledger.CuriosityOpsRemaining() > 0 {
		e.budgetOperation(ctx, &rep)
	}
	e.mu.Lock()
	rep.QueuedExplorations = len(e.queue)
	e.mu.Unlock()
	return rep
}

// Status reports the queue state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		PendingExplorations: len(e.queue),
		ExplorationsDone:    e.done,
		OpsRemaining:        e.ledger.CuriosityOpsRemaining(),
	}
}

// freeOperations are the zero-token sweeps that run every tick.
func (e *Engine) freeOperations(ctx context.Context, rep *TickReport) {
	if e.graph != nil {
		removed, err := e.graph.Decay(ctx, graphDecayRate)
		if err != nil {
			e.logger.Debug("graph decay failed", zap.Error(err))
		} else {
			rep.RemovedConcepts = removed
		}
	}

	if e.working != nil {
		e.working.DecayAll(workingDecayRate)
		rep.WorkingSlots = e.working.Len()
	}

	if e.graph == nil {
		return
	}

	contradictions, err := e.graph.FindContradictions(ctx)
	switch {
	case err != nil:
		e.logger.Debug("contradiction scan failed", zap.Error(err))
	case len(contradictions) > 0:
		rep.ContradictionsFound = len(contradictions)
		if len(contradictions) > maxContradictions {
			contradictions = contradictions[:maxContradictions]
		}
		e.enqueue(exploration{
			kind:           kindContradiction,
			contradictions: contradictions,
			priority:       2,
		})
	}

	a, b, ok, err := e.graph.RandomPair(ctx)
	if err != nil {
		e.logger.Debug("random pair failed", zap.Error(err))
	} else if ok {
		e.enqueue(exploration{
			kind:     kindConceptBlend,
			pair:     [2]string{a, b},
			priority: 1,
		})
	}
}

// budgetOperation spends one curiosity grant on the highest-priority
// queued exploration. A denied grant puts the exploration back at the
// head of the queue for a later tick.
func (e *Engine) budgetOperation(ctx context.Context, rep *TickReport) {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	sort.SliceStable(e.queue, func(i, j int) bool {
		return e.queue[i].priority > e.queue[j].priority
	})
	ex := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()

	if !e.ledger.RequestCuriosityOp(e.perOpTokens) {
		e.mu.Lock()
		e.queue = append([]exploration{ex}, e.queue...)
		e.mu.Unlock()
		e.logger.Debug("curiosity grant denied, exploration requeued")
		return
	}

	var err error
	switch ex.kind {
	case kindConceptBlend:
		err = e.exploreBlend(ctx, ex.pair)
	case kindContradiction:
		err = e.exploreContradictions(ctx, ex.contradictions)
	}
	if err != nil {
		e.logger.Warn("exploration failed",
			zap.String("kind", string(ex.kind)), zap.Error(err))
	}

	e.mu.Lock()
	e.done++
	e.mu.Unlock()
	rep.Explored = string(ex.kind)
}

func (e *Engine) enqueue(ex exploration) {
	e.mu.Lock()
	e.queue = append(e.queue, ex)
	e.mu.Unlock()
}

func (e *Engine) exploreBlend(ctx context.Context, pair [2]string) error {
	prompt := fmt.Sprintf(
		"Consider these two concepts: %q and %q. Is there an interesting connection or novel combination? Respond briefly (2-3 sentences).",
		pair[0], pair[1])
	comp, err := e.llm.Complete(ctx, &provider.Request{
		Prompt:   prompt,
		TaskType: "simple_tasks",
		Source:   "curiosity",
	})
	if err != nil {
		return fmt.Errorf("blend completion: %w", err)
	}
	if e.knowledge != nil && len(comp.Content) > minInsightLen {
		title := fmt.Sprintf("Blend: %s + %s", pair[0], pair[1])
		if err := e.knowledge.StoreKnowledge(ctx, title, comp.Content, "curiosity_blend"); err != nil {
			return fmt.Errorf("store insight: %w", err)
		}
	}
	return nil
}

func (e *Engine) exploreContradictions(ctx context.Context, list []memory.Contradiction) error {
	parts := make([]string, 0, len(list))
	for _, c := range list {
		parts = append(parts, fmt.Sprintf("%s both is and is not %s", c.Concept, c.Target))
	}
	prompt := fmt.Sprintf(
		"I found potential contradictions in my knowledge: %s. Please analyze: are these real contradictions or just different perspectives? Respond briefly.",
		strings.Join(parts, "; "))
	if _, err := e.llm.Complete(ctx, &provider.Request{
		Prompt:   prompt,
		TaskType: "simple_tasks",
		Source:   "curiosity",
	}); err != nil {
		return fmt.Errorf("contradiction completion: %w", err)
	}
	return nil
}
