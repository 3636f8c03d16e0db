package provider

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/karvel/famulus/internal/budget"
)

type fakeProvider struct {
	id      string
	reply   string
	err     error
	calls   int
	lastReq *ChatRequest
}

func (f *fakeProvider) ID() string   { return f.id }
func (f *fakeProvider) Name() string { return f.id }

func (f *fakeProvider) Chat(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &ChatResponse{Model: req.Model, Content: f.reply, FinishReason: "stop"}, nil
}

func newTestLedger(t *testing.T, dailyLimit int) *budget.Ledger {
	t.Helper()
	l, err := budget.NewLedger(budget.Config{
		DailyLimitTokens:    dailyLimit,
		PerRequestMaxTokens: 200,
		HardStop:            true,
		StatePath:           filepath.Join(t.TempDir(), "budget_state.json"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l
}

func newTestRouter(t *testing.T, ledger *budget.Ledger, providers ...Provider) *Router {
	t.Helper()
	r := NewRouter(ledger, zap.NewNop())
	for _, p := range providers {
		r.Register(p)
	}
	r.SetRouting("", "", map[string]string{"default": "test-model"})
	return r
}

func TestCompleteRoutesAndConsumes(t *testing.T) {
	ledger := newTestLedger(t, 10000)
	p := &fakeProvider{id: "p1", reply: "ok"}
	r := newTestRouter(t, ledger, p)

	comp, err := r.Complete(context.Background(), &Request{Prompt: "hello world"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if comp.Content != "ok" {
		t.Errorf("content = %q, want %q", comp.Content, "ok")
	}
	if comp.Model != "test-model" {
		t.Errorf("model = %q, want test-model", comp.Model)
	}

	// "hello world" estimates to 2 tokens, "ok" to 1.
	if comp.TokensUsed != 3 {
		t.Errorf("tokens used = %d, want 3", comp.TokensUsed)
	}
	st := ledger.Status()
	if st.TokensUsed != 3 || st.RequestCount != 1 {
		t.Errorf("ledger used=%d count=%d, want 3 and 1", st.TokensUsed, st.RequestCount)
	}
	hist := ledger.History(1)
	if len(hist) != 1 || hist[0].Source != "user" {
		t.Fatalf("history = %+v, want one entry with source user", hist)
	}
	if hist[0].Metadata["model"] != "test-model" {
		t.Errorf("history metadata = %v, want model recorded", hist[0].Metadata)
	}
}

func TestCompleteDeniedWhenBudgetExhausted(t *testing.T) {
	ledger := newTestLedger(t, 100)
	primary := &fakeProvider{id: "p1", reply: "ok"}
	fallback := &fakeProvider{id: "p2", reply: "ok"}
	r := newTestRouter(t, ledger, primary, fallback)
	r.SetRouting("p1", "p2", nil)

	_, err := r.Complete(context.Background(), &Request{Prompt: "hello"})
	if !errors.Is(err, budget.ErrExhausted) {
		t.Fatalf("err = %v, want budget.ErrExhausted", err)
	}
	if !strings.Contains(err.Error(), "0/100") {
		t.Errorf("err = %v, want usage in message", err)
	}

	// Denial happens before any provider is contacted and is never
	// retried on the fallback.
	if primary.calls != 0 || fallback.calls != 0 {
		t.Errorf("provider calls = %d/%d, want 0/0", primary.calls, fallback.calls)
	}
}

func TestCompleteFallsBackOnProviderError(t *testing.T) {
	ledger := newTestLedger(t, 10000)
	primary := &fakeProvider{id: "p1", err: errors.New("connection refused")}
	fallback := &fakeProvider{id: "p2", reply: "from fallback"}
	r := newTestRouter(t, ledger, primary, fallback)
	r.SetRouting("p1", "p2", nil)

	comp, err := r.Complete(context.Background(), &Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if comp.Content != "from fallback" {
		t.Errorf("content = %q, want fallback reply", comp.Content)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Errorf("provider calls = %d/%d, want 1/1", primary.calls, fallback.calls)
	}

	// Only the successful call is charged.
	if got := ledger.Status().RequestCount; got != 1 {
		t.Errorf("request count = %d, want 1", got)
	}
}

func TestCompleteAllProvidersFailed(t *testing.T) {
	ledger := newTestLedger(t, 10000)
	primary := &fakeProvider{id: "p1", err: errors.New("boom")}
	fallback := &fakeProvider{id: "p2", err: errors.New("also boom")}
	r := newTestRouter(t, ledger, primary, fallback)
	r.SetRouting("p1", "p2", nil)

	_, err := r.Complete(context.Background(), &Request{Prompt: "hello"})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestCompleteSkipsFallbackWhenSameAsPrimary(t *testing.T) {
	ledger := newTestLedger(t, 10000)
	primary := &fakeProvider{id: "p1", err: errors.New("boom")}
	r := newTestRouter(t, ledger, primary)
	r.SetRouting("p1", "p1", nil)

	_, err := r.Complete(context.Background(), &Request{Prompt: "hello"})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
}

func TestCompleteResolvesModelByTaskType(t *testing.T) {
	ledger := newTestLedger(t, 10000)
	p := &fakeProvider{id: "p1", reply: "ok"}
	r := newTestRouter(t, ledger, p)
	r.SetRouting("", "", map[string]string{
		"default": "base-model",
		"code":    "code-model",
	})

	if _, err := r.Complete(context.Background(), &Request{Prompt: "x", TaskType: "code"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if p.lastReq.Model != "code-model" {
		t.Errorf("model = %q, want code-model", p.lastReq.Model)
	}

	if _, err := r.Complete(context.Background(), &Request{Prompt: "x", TaskType: "chat"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if p.lastReq.Model != "base-model" {
		t.Errorf("unmapped task type got model %q, want base-model", p.lastReq.Model)
	}
}

func TestCompleteNoModelConfigured(t *testing.T) {
	ledger := newTestLedger(t, 10000)
	p := &fakeProvider{id: "p1", reply: "ok"}
	r := NewRouter(ledger, zap.NewNop())
	r.Register(p)

	_, err := r.Complete(context.Background(), &Request{Prompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "no model configured") {
		t.Fatalf("err = %v, want missing model error", err)
	}
	if p.calls != 0 {
		t.Errorf("provider calls = %d, want 0", p.calls)
	}
}

func TestCompleteBuildsMessages(t *testing.T) {
	ledger := newTestLedger(t, 10000)
	p := &fakeProvider{id: "p1", reply: "ok"}
	r := newTestRouter(t, ledger, p)

	req := &Request{Prompt: "hi", SystemPrompt: "be brief"}
	if _, err := r.Complete(context.Background(), req); err != nil {
		t.Fatalf("complete: %v", err)
	}
	msgs := p.lastReq.Messages
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Content != "hi" {
		t.Fatalf("messages = %+v, want system then user", msgs)
	}

	// Explicit messages win over prompt and system prompt.
	req = &Request{
		Prompt:       "ignored",
		SystemPrompt: "ignored",
		Messages: []Message{
			{Role: "system", Content: "sys"},
			{Role: "user", Content: "one"},
			{Role: "assistant", Content: "two"},
			{Role: "user", Content: "three"},
		},
	}
	if _, err := r.Complete(context.Background(), req); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(p.lastReq.Messages) != 4 || p.lastReq.Messages[3].Content != "three" {
		t.Fatalf("messages = %+v, want passthrough of 4", p.lastReq.Messages)
	}
}

func TestCompleteAppliesRequestDefaults(t *testing.T) {
	ledger := newTestLedger(t, 10000)
	p := &fakeProvider{id: "p1", reply: "ok"}
	r := newTestRouter(t, ledger, p)

	if _, err := r.Complete(context.Background(), &Request{Prompt: "x"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if p.lastReq.MaxTokens != 200 {
		t.Errorf("max tokens = %d, want per-request cap 200", p.lastReq.MaxTokens)
	}
	if p.lastReq.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", p.lastReq.Temperature)
	}

	if _, err := r.Complete(context.Background(), &Request{Prompt: "x", MaxTokens: 50, Temperature: 0.2}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if p.lastReq.MaxTokens != 50 || p.lastReq.Temperature != 0.2 {
		t.Errorf("got max=%d temp=%v, want explicit 50 and 0.2", p.lastReq.MaxTokens, p.lastReq.Temperature)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 1},
		{"hello", 1},
		{"hello world", 2},
		{"你好世界", 4},
		{"mixed 中文 text", 5},
	}
	for _, c := range cases {
		if got := EstimateTokens(c.text); got != c.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}
