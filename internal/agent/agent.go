package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/karvel/famulus/internal/memory"
	"github.com/karvel/famulus/internal/provider"
)

// ErrUnknownAgent is returned when a requested specialist is not registered.
var ErrUnknownAgent = errors.New("unknown agent")

// ErrNotConnected is returned by specialists that need a language model
// when none is configured.
var ErrNotConnected = errors.New("no language model connected")

// Response carries a specialist's answer and its self-assessed confidence.
type Response struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Agent      string  `json:"agent"`
}

// Completer is the slice of the provider router the specialists use.
type Completer interface {
	Complete(ctx context.Context, req *provider.Request) (*provider.Completion, error)
}

// MemorySearcher lets the knowledge specialist consult the hybrid store.
type MemorySearcher interface {
	Search(ctx context.Context, query string, topK int) []memory.Result
}

// CommandRunner executes a shell command inside the host's sandbox.
// The pool ships no implementation; the host process provides one.
type CommandRunner interface {
	Run(ctx context.Context, command string) (string, error)
}

// RunContext carries per-request context and optional capabilities
// into a specialist. Absent capabilities stay nil.
type RunContext struct {
	History   string
	Memory    string
	Facade    MemorySearcher
	Runner    CommandRunner
	ImagePath string
}

// Agent is one specialist responder.
type Agent interface {
	Name() string
	Description() string
	Execute(ctx context.Context, input string, rc RunContext) (*Response, error)
}

// Pool is the static specialist registry, populated once at startup.
type Pool struct {
	mu     sync.RWMutex
	agents map[string]Agent
	logger *zap.Logger
}

// NewPool creates an empty specialist pool.
func NewPool(logger *zap.Logger) *Pool {
	return &Pool{agents: make(map[string]Agent), logger: logger}
}

// Register adds a specialist to the pool.
func (p *Pool) Register(a Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agents[a.Name()] = a
	p.logger.Info("registered specialist", zap.String("name", a.Name()))
}

// Get returns a specialist by name.
func (p *Pool) Get(name string) (Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.agents[name]
	return a, ok
}

// Names lists the registered specialists in sorted order.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.agents))
	for name := range p.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named specialist against the input.
func (p *Pool) Execute(ctx context.Context, name, input string, rc RunContext) (*Response, error) {
	a, ok := p.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	resp, err := a.Execute(ctx, input, rc)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("specialist answered",
		zap.String("agent", name),
		zap.Float64("confidence", resp.Confidence))
	return resp, nil
}

// buildPrompt assembles the harness every model-backed specialist
// shares: recent conversation, memory context, then the request.
func buildPrompt(history, memctx, input string) string {
	var parts []string
	if history != "" {
		parts = append(parts, "Recent conversation:\n"+history)
	}
	if memctx != "" {
		parts = append(parts, "Relevant context:\n"+memctx)
	}
	parts = append(parts, "User request:\n"+input)
	return strings.Join(parts, "\n\n")
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
