package orchestrator

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/karvel/famulus/internal/agent"
	"github.com/karvel/famulus/internal/budget"
	"github.com/karvel/famulus/internal/memory"
	"github.com/karvel/famulus/internal/provider"
	"github.com/karvel/famulus/internal/skill"
)

const (
	defaultHistoryLimit = 16
	historyTailLen      = 6
	memoryTopK          = 3
	snippetLen          = 200
	proceduralBar       = 0.85
	rememberTimeout     = 30 * time.Second

	exhaustedMessage = "The daily token budget is used up. It resets automatically at midnight."
	noModelMessage   = "No language model is configured. Skills and memory recall still work."
)

const systemPrompt = `You are Famulus, a personal multi-agent assistant.

Core traits:
- Helpful, accurate, and concise
- Respond in the same language the user writes in
- You handle coding, research, reasoning, file work, and more
- You remember conversation context and refer back to it naturally
- When uncertain, say so rather than inventing facts

Style:
- Professional but friendly
- Direct and clear, not verbose
- Clean formatting where it helps (bullet points, code blocks)

System notes:
- You run locally on the user's machine
- You work under a daily token budget, so keep responses efficient
- Specialist agents and skills activate automatically for complex tasks`

// Result is the orchestrator's answer to one user message.
type Result struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Completer is the provider surface the orchestrator needs.
type Completer interface {
	Complete(ctx context.Context, req *provider.Request) (*provider.Completion, error)
}

// Memory is the slice of the hybrid facade the orchestrator touches.
// A nil Memory degrades the memory steps to no-ops.
type Memory interface {
	Search(ctx context.Context, query string, topK int) []memory.Result
	StoreInteraction(ctx context.Context, query, response string, metadata map[string]any) error
	StoreProcedural(ctx context.Context, query, response string) error
	StoreKnowledge(ctx context.Context, title, content, category string) error
	Forget(ctx context.Context, query string, limit int) (int, error)
	Stats(ctx context.Context) map[string]int
}

// SessionStore persists per-session conversation history.
type SessionStore interface {
	AppendMessage(ctx context.Context, sessionID, role, content string, metadata map[string]any) error
	History(ctx context.Context, sessionID string, limit int) ([]provider.Message, error)
}

// Deps bundles the orchestrator's collaborators. Ledger, Skills, and
// Pool are required; the rest may be nil and degrade their paths.
type Deps struct {
	Ledger   *budget.Ledger
	LLM      Completer
	Skills   *skill.Catalog
	Pool     *agent.Pool
	Memory   Memory
	Sessions SessionStore
	Runner   agent.CommandRunner
}

// Config holds the routing thresholds. Zero values fall back to the
// defaults tuned in production.
type Config struct {
	ConfidenceThreshold float64 // verifier pass bar
	VerifyBelow         float64 // verify answers under this self-confidence
	MinTriggerHits      int
	ShortQueryMaxWords  int
	HistoryLimit        int
}

// Orchestrator routes each user message through the cheapest capable
// path: skill catalog, then specialist agents, then direct chat.
type Orchestrator struct {
	ledger   *budget.Ledger
	llm      Completer
	skills   *skill.Catalog
	pool     *agent.Pool
	mem      Memory
	sessions SessionStore
	runner   agent.CommandRunner
	verifier *Verifier
	detector *Detector
	cfg      Config
	bg       sync.WaitGroup
	logger   *zap.Logger
}

// New wires an orchestrator from its collaborators.
func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.VerifyBelow <= 0 {
		cfg.VerifyBelow = 0.6
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Orchestrator{
		ledger:   deps.Ledger,
		llm:      deps.LLM,
		skills:   deps.Skills,
		pool:     deps.Pool,
		mem:      deps.Memory,
		sessions: deps.Sessions,
		runner:   deps.Runner,
		verifier: NewVerifier(deps.LLM, cfg.ConfidenceThreshold, logger),
		detector: NewDetector(cfg.MinTriggerHits, cfg.ShortQueryMaxWords),
		cfg:      cfg,
		logger:   logger,
	}
}

// Assist answers one user message.
func (o *Orchestrator) Assist(ctx context.Context, sessionID, input string) (*Result, error) {
	if sessionID == "" {
		sessionID = "default"
	}

	// Budget gate: exhausted means a fixed refusal, never a model call.
	if o.ledger.IsExhausted() {
		o.logger.Warn("budget exhausted, refusing request")
		return &Result{Content: exhaustedMessage, Confidence: 1.0, Source: "budget"}, nil
	}

	o.saveMessage(ctx, sessionID, "user", input)
	history := o.loadHistory(ctx, sessionID)

	// Skills answer without spending tokens.
	if s := o.skills.Match(input); s != nil {
		o.logger.Info("skill matched", zap.String("skill", s.Name()))
		res := o.skillPath(ctx, s, input)
		o.postProcess(ctx, sessionID, input, res)
		return res, nil
	}

	var res *Result
	if name := o.detector.Detect(input); name != "" {
		o.logger.Info("specialist detected", zap.String("agent", name))
		res = o.specialistPath(ctx, name, input, history)
	} else {
		o.logger.Debug("direct chat mode")
		res = o.chatPath(ctx, input, history)
	}

	o.postProcess(ctx, sessionID, input, res)
	return res, nil
}

// Drain waits for in-flight background memory writes. Called on
// shutdown so nothing the user saw goes unrecorded.
func (o *Orchestrator) Drain() {
	o.bg.Wait()
}

func (o *Orchestrator) skillPath(ctx context.Context, s skill.Skill, input string) *Result {
	sr := o.skills.Execute(ctx, s, input, skill.Context{Memory: o.mem, Ledger: o.ledger})
	confidence := 0.3
	if sr.Success {
		confidence = 0.9
	}
	return &Result{Content: sr.Content, Confidence: confidence, Source: "skill:" + s.Name()}
}

func (o *Orchestrator) specialistPath(ctx context.Context, name, input string, history []provider.Message) *Result {
	ag, ok := o.pool.Get(name)
	if !ok {
		o.logger.Warn("specialist not registered, falling back to chat", zap.String("agent", name))
		return o.chatPath(ctx, input, history)
	}

	rc := agent.RunContext{
		History: formatHistoryTail(history, historyTailLen),
		Memory:  o.memoryContext(ctx, input),
		Facade:  o.mem,
		Runner:  o.runner,
	}
	resp, err := ag.Execute(ctx, input, rc)
	if err != nil {
		o.logger.Error("specialist failed, falling back to chat",
			zap.String("agent", name), zap.Error(err))
		return o.chatPath(ctx, input, history)
	}

	res := &Result{Content: resp.Content, Confidence: resp.Confidence, Source: resp.Agent}
	if res.Confidence < o.cfg.VerifyBelow {
		o.reviewAnswer(ctx, input, res)
	}
	return res
}

// chatPath sends the full conversation plus fused memory context to
// the provider. The freshly saved user turn arrives as the last
// history entry, so history is replayed without it.
func (o *Orchestrator) chatPath(ctx context.Context, input string, history []provider.Message) *Result {
	if o.llm == nil {
		return &Result{Content: noModelMessage, Confidence: 0.0, Source: "none"}
	}

	messages := []provider.Message{{Role: "system", Content: systemPrompt}}
	if memctx := o.memoryContext(ctx, input); memctx != "" {
		messages = append(messages, provider.Message{
			Role:    "system",
			Content: "Relevant memories:\n" + memctx,
		})
	}
	if len(history) > 0 {
		messages = append(messages, history[:len(history)-1]...)
	}
	messages = append(messages, provider.Message{Role: "user", Content: input})

	comp, err := o.llm.Complete(ctx, &provider.Request{
		Messages: messages,
		TaskType: "general",
		Source:   "chat",
	})
	if err != nil {
		o.logger.Error("chat completion failed", zap.Error(err))
		return &Result{
			Content:    "Sorry, something went wrong while answering: " + err.Error(),
			Confidence: 0.0,
			Source:     "error",
		}
	}
	return &Result{Content: comp.Content, Confidence: 0.8, Source: "chat"}
}

// reviewAnswer runs the verifier over a low-confidence answer and
// appends its suggestion when the critique fails. Verifier errors
// never block the answer.
func (o *Orchestrator) reviewAnswer(ctx context.Context, input string, res *Result) {
	vr, err := o.verifier.Verify(ctx, input, res.Content)
	if err != nil {
		o.logger.Warn("verification skipped", zap.Error(err))
		return
	}
	if !vr.Passed && vr.Suggestion != "" {
		res.Content += "\n\n(Note: " + vr.Suggestion + ")"
	}
	o.logger.Debug("verification done",
		zap.Float64("confidence", vr.Confidence),
		zap.Bool("passed", vr.Passed))
}

func (o *Orchestrator) postProcess(ctx context.Context, sessionID, input string, res *Result) {
	o.saveMessage(ctx, sessionID, "assistant", res.Content)
	if o.mem == nil {
		return
	}
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		o.remember(input, res)
	}()
}

// remember records the interaction after the response has shipped.
func (o *Orchestrator) remember(input string, res *Result) {
	ctx, cancel := context.WithTimeout(context.Background(), rememberTimeout)
	defer cancel()

	meta := map[string]any{
		"source":     res.Source,
		"confidence": strconv.FormatFloat(res.Confidence, 'f', 2, 64),
	}
	if err := o.mem.StoreInteraction(ctx, input, res.Content, meta); err != nil {
		o.logger.Warn("store interaction failed", zap.Error(err))
	}
	if res.Confidence > proceduralBar {
		if err := o.mem.StoreProcedural(ctx, input, res.Content); err != nil {
			o.logger.Warn("store procedural failed", zap.Error(err))
		}
	}
}

// memoryContext fuses the top memory hits into a short bullet list.
func (o *Orchestrator) memoryContext(ctx context.Context, query string) string {
	if o.mem == nil {
		return ""
	}
	var lines []string
	for _, r := range o.mem.Search(ctx, query, memoryTopK) {
		if r.Content == "" {
			continue
		}
		lines = append(lines, "- "+clip(r.Content, snippetLen))
	}
	return strings.Join(lines, "\n")
}

func (o *Orchestrator) saveMessage(ctx context.Context, sessionID, role, content string) {
	if o.sessions == nil {
		return
	}
	if err := o.sessions.AppendMessage(ctx, sessionID, role, content, nil); err != nil {
		o.logger.Warn("session write failed", zap.Error(err))
	}
}

func (o *Orchestrator) loadHistory(ctx context.Context, sessionID string) []provider.Message {
	if o.sessions == nil {
		return nil
	}
	history, err := o.sessions.History(ctx, sessionID, o.cfg.HistoryLimit)
	if err != nil {
		o.logger.Warn("session read failed", zap.Error(err))
		return nil
	}
	return history
}

// formatHistoryTail renders the last n turns as a compact transcript.
func formatHistoryTail(history []provider.Message, n int) string {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	parts := make([]string, 0, len(history))
	for _, m := range history {
		role := "Assistant"
		if m.Role == "user" {
			role = "User"
		}
		parts = append(parts, role+": "+clip(m.Content, snippetLen))
	}
	return strings.Join(parts, "\n")
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
