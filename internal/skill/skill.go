package skill

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/karvel/famulus/internal/budget"
	"github.com/karvel/famulus/internal/memory"
)

const execTimeout = 30 * time.Second

// Skill is a local capability that answers without spending any model
// tokens. Match scores how well the input fits; zero means no fit.
type Skill interface {
	Name() string
	Match(text string) float64
	Execute(ctx context.Context, text string, sc Context) (*Result, error)
}

// Result is the outcome of one skill execution.
type Result struct {
	Content string `json:"content"`
	Success bool   `json:"success"`
	Source  string `json:"source"`
}

// MemoryFacade is the slice of the hybrid memory API the builtin
// skills use.
type MemoryFacade interface {
	Search(ctx context.Context, query string, topK int) []memory.Result
	StoreKnowledge(ctx context.Context, title, content, category string) error
	Forget(ctx context.Context, query string, limit int) (int, error)
	Stats(ctx context.Context) map[string]int
}

// BudgetReporter exposes ledger status to the status skill.
type BudgetReporter interface {
	Status() budget.Status
}

// Context carries the collaborators a skill may consult. Absent fields
// stay nil and skills degrade to an unsuccessful result.
type Context struct {
	Memory MemoryFacade
	Ledger BudgetReporter
}

// triggerCounter is implemented by skills whose score comes from
// keyword triggers; the catalog uses the raw hit count to break ties.
type triggerCounter interface {
	TriggerHits(text string) int
}

// Catalog is the static skill registry, populated once at startup.
type Catalog struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Skill
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byName: make(map[string]Skill)}
}

// Register adds a skill. Re-registering a name replaces the skill but
// keeps its original position.
func (c *Catalog) Register(s Skill) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byName[s.Name()]; !ok {
		c.order = append(c.order, s.Name())
	}
	c.byName[s.Name()] = s
}

// Get returns a skill by name, or nil if not registered.
func (c *Catalog) Get(name string) Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byName[name]
}

// All returns every skill in registration order.
func (c *Catalog) All() []Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Skill, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name])
	}
	return out
}

// Match returns the best-scoring skill for the input, or nil when no
// skill scores above zero. Equal scores are broken by the raw trigger
// hit count, then by registration order.
func (c *Catalog) Match(text string) Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best Skill
	var bestScore float64
	bestHits := -1
	for _, name := range c.order {
		s := c.byName[name]
		score := s.Match(text)
		if score <= 0 {
			continue
		}
		hits := 0
		if tc, ok := s.(triggerCounter); ok {
			hits = tc.TriggerHits(text)
		}
		if score > bestScore || (score == bestScore && hits > bestHits) {
			best, bestScore, bestHits = s, score, hits
		}
	}
	return best
}

// Execute runs a skill under a hard timeout. Errors come back as
// unsuccessful results so the caller always has something to show.
func (c *Catalog) Execute(ctx context.Context, s Skill, text string, sc Context) *Result {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	res, err := s.Execute(ctx, text, sc)
	if err != nil {
		return &Result{Content: "Skill error: " + err.Error(), Success: false, Source: s.Name()}
	}
	if res == nil {
		return &Result{Content: "", Success: false, Source: s.Name()}
	}
	return res
}

// keywordSkill provides the trigger matching shared by the builtins.
// ASCII triggers match on word boundaries so "note" does not fire
// inside "annotate"; multi-word triggers match as phrases.
type keywordSkill struct {
	name     string
	triggers []string
}

func (k *keywordSkill) Name() string { return k.name }

func (k *keywordSkill) Match(text string) float64 {
	return float64(k.TriggerHits(text))
}

func (k *keywordSkill) TriggerHits(text string) int {
	lower := strings.ToLower(text)
	hits := 0
	for _, t := range k.triggers {
		if containsWord(lower, t) {
			hits++
		}
	}
	return hits
}

func containsWord(lower, trigger string) bool {
	for start := 0; ; {
		i := strings.Index(lower[start:], trigger)
		if i < 0 {
			return false
		}
		i += start
		before := i == 0 || !isWordChar(lower[i-1])
		end := i + len(trigger)
		after := end >= len(lower) || !isWordChar(lower[end])
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isWordChar(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}
