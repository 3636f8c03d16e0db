package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/karvel/famulus/internal/budget"
)

// ErrAllProvidersFailed signals that the primary and fallback providers
// both failed for a request.
var ErrAllProvidersFailed = errors.New("all providers failed")

const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
)

// Router routes completion requests to registered providers and charges
// every call against the daily token budget. Admission is checked before
// a provider is contacted; actual usage is recorded after it answers.
type Router struct {
	providers map[string]Provider
	primary   string
	fallback  string
	models    map[string]string // task type -> model
	ledger    *budget.Ledger
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a budget-gated provider router.
func NewRouter(ledger *budget.Ledger, logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		models:    make(map[string]string),
		ledger:    ledger,
		logger:    logger,
	}
}

// Register adds a provider. The first registered provider becomes the
// primary until SetRouting overrides it.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.primary == "" {
		r.primary = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetRouting configures the primary and fallback providers and the
// task-type model table. Task types missing from the table fall back to
// the "default" entry.
func (r *Router) SetRouting(primary, fallback string, models map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if primary != "" {
		r.primary = primary
	}
	r.fallback = fallback
	if models != nil {
		r.models = models
	}
}

// Complete runs a request against the primary provider, retrying once on
// the fallback when a different one is configured. Budget exhaustion is
// final and never retried.
func (r *Router) Complete(ctx context.Context, req *Request) (*Completion, error) {
	r.mu.RLock()
	primary, fallback := r.primary, r.fallback
	r.mu.RUnlock()

	p, ok := r.provider(primary)
	if !ok {
		return nil, fmt.Errorf("no provider registered")
	}

	comp, err := r.completeWith(ctx, p, req)
	if err == nil {
		return comp, nil
	}
	if errors.Is(err, budget.ErrExhausted) {
		return nil, err
	}

	fb, ok := r.provider(fallback)
	if !ok || fallback == primary {
		return nil, fmt.Errorf("%w: %s", ErrAllProvidersFailed, err)
	}
	r.logger.Warn("primary provider failed, trying fallback",
		zap.String("primary", primary), zap.String("fallback", fallback), zap.Error(err))

	comp, err = r.completeWith(ctx, fb, req)
	if err == nil {
		return comp, nil
	}
	if errors.Is(err, budget.ErrExhausted) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrAllProvidersFailed, err)
}

func (r *Router) completeWith(ctx context.Context, p Provider, req *Request) (*Completion, error) {
	model, err := r.resolveModel(req.TaskType)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if perMax := r.ledger.PerRequestMax(); perMax > 0 && maxTokens > perMax {
		maxTokens = perMax
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	var est int
	if len(req.Messages) > 0 {
		for _, m := range req.Messages {
			est += EstimateTokens(m.Content)
		}
	} else {
		est = EstimateTokens(req.Prompt)
	}

	if !r.ledger.RequestTokens(est + maxTokens) {
		st := r.ledger.Status()
		return nil, fmt.Errorf("%w: used %d/%d tokens", budget.ErrExhausted, st.TokensUsed, st.DailyLimit)
	}

	resp, err := p.Chat(ctx, &ChatRequest{
		Model:       model,
		Messages:    buildMessages(req),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.ID(), err)
	}

	used := est + EstimateTokens(resp.Content)
	source := req.Source
	if source == "" {
		source = "user"
	}
	r.ledger.Consume(used, source, map[string]string{
		"model":     model,
		"task_type": req.TaskType,
	})

	respModel := resp.Model
	if respModel == "" {
		respModel = model
	}
	return &Completion{
		Content:    resp.Content,
		Model:      respModel,
		TokensUsed: used,
	}, nil
}

func (r *Router) resolveModel(taskType string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.models[taskType]; ok && m != "" {
		return m, nil
	}
	if m, ok := r.models["default"]; ok && m != "" {
		return m, nil
	}
	return "", fmt.Errorf("no model configured for task type %q", taskType)
}

func (r *Router) provider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

func buildMessages(req *Request) []Message {
	if len(req.Messages) > 0 {
		return req.Messages
	}
	msgs := make([]Message, 0, 2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.SystemPrompt})
	}
	return append(msgs, Message{Role: "user", Content: req.Prompt})
}
