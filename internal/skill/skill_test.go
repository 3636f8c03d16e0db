package skill

import (
	"context"
	"strings"
	"testing"

	"github.com/karvel/famulus/internal/budget"
	"github.com/karvel/famulus/internal/memory"
)

type stubSkill struct {
	name  string
	score float64
	hits  int
}

func (s *stubSkill) Name() string              { return s.name }
func (s *stubSkill) Match(string) float64      { return s.score }
func (s *stubSkill) TriggerHits(string) int    { return s.hits }
func (s *stubSkill) Execute(_ context.Context, _ string, _ Context) (*Result, error) {
	return &Result{Content: s.name, Success: true, Source: s.name}, nil
}

type fakeFacade struct {
	results    []memory.Result
	stats      map[string]int
	deleted    int
	lastSearch string
	lastForget string
	stored     []string
}

func (f *fakeFacade) Search(_ context.Context, query string, _ int) []memory.Result {
	f.lastSearch = query
	return f.results
}

func (f *fakeFacade) StoreKnowledge(_ context.Context, title, content, category string) error {
	f.stored = append(f.stored, title+"|"+content+"|"+category)
	return nil
}

func (f *fakeFacade) Forget(_ context.Context, query string, _ int) (int, error) {
	f.lastForget = query
	return f.deleted, nil
}

func (f *fakeFacade) Stats(_ context.Context) map[string]int {
	return f.stats
}

type fakeLedger struct{ status budget.Status }

func (f *fakeLedger) Status() budget.Status { return f.status }

func TestCatalogMatchPicksHighestScore(t *testing.T) {
	cat := NewCatalog()
	cat.Register(&stubSkill{name: "low", score: 1})
	cat.Register(&stubSkill{name: "high", score: 3})

	got := cat.Match("anything")
	if got == nil || got.Name() != "high" {
		t.Fatalf("match = %v, want high", got)
	}
}

func TestCatalogMatchBreaksTiesByTriggerHits(t *testing.T) {
	cat := NewCatalog()
	cat.Register(&stubSkill{name: "few", score: 2, hits: 1})
	cat.Register(&stubSkill{name: "many", score: 2, hits: 2})

	got := cat.Match("anything")
	if got == nil || got.Name() != "many" {
		t.Fatalf("match = %v, want many despite later registration", got)
	}
}

func TestCatalogMatchNilWhenNothingScores(t *testing.T) {
	cat := NewCatalog()
	cat.Register(&stubSkill{name: "zero", score: 0})

	if got := cat.Match("anything"); got != nil {
		t.Fatalf("match = %v, want nil", got)
	}
}

func TestBuiltinTriggerRouting(t *testing.T) {
	cat := NewCatalog()
	RegisterBuiltins(cat)

	cases := []struct {
		text string
		want string
	}{
		{"forget my old address", "forget"},
		{"remember that I like tea", "remember"},
		{"search memory for python tips", "recall"},
		{"what do you remember about me", "recall"},
		{"show budget status", "status"},
	}
	for _, c := range cases {
		got := cat.Match(c.text)
		if got == nil || got.Name() != c.want {
			t.Errorf("Match(%q) = %v, want %s", c.text, got, c.want)
		}
	}

	if got := cat.Match("how is the weather today"); got != nil {
		t.Errorf("Match(weather) = %v, want nil", got.Name())
	}
}

func TestRecallSkillFormatsResults(t *testing.T) {
	mem := &fakeFacade{results: []memory.Result{
		{Content: "Q: setup\nA: use docker", Source: "episodic", Score: 0.9},
		{Content: "Python packaging notes", Source: "keyword", Score: 0.5},
	}}
	cat := NewCatalog()
	RegisterBuiltins(cat)

	res := cat.Execute(context.Background(), cat.Get("recall"), "recall about python", Context{Memory: mem})
	if !res.Success {
		t.Fatalf("recall failed: %s", res.Content)
	}
	if mem.lastSearch != "python" {
		t.Errorf("search subject = %q, want python", mem.lastSearch)
	}
	if !strings.Contains(res.Content, "(episodic)") || !strings.Contains(res.Content, "(keyword)") {
		t.Errorf("result missing source labels: %s", res.Content)
	}
}

func TestRecallSkillNoResults(t *testing.T) {
	cat := NewCatalog()
	RegisterBuiltins(cat)

	res := cat.Execute(context.Background(), cat.Get("recall"), "recall quantum chromodynamics", Context{Memory: &fakeFacade{}})
	if !res.Success {
		t.Fatal("empty recall should still succeed")
	}
	if !strings.Contains(res.Content, "No memories found") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRememberSkillStoresContent(t *testing.T) {
	mem := &fakeFacade{}
	cat := NewCatalog()
	RegisterBuiltins(cat)

	res := cat.Execute(context.Background(), cat.Get("remember"),
		"remember that the wifi password is hunter2", Context{Memory: mem})
	if !res.Success {
		t.Fatalf("remember failed: %s", res.Content)
	}
	if len(mem.stored) != 1 {
		t.Fatalf("stored %d entries, want 1", len(mem.stored))
	}
	if mem.stored[0] != "the wifi password is hunter2|the wifi password is hunter2|fact" {
		t.Errorf("stored = %q", mem.stored[0])
	}
}

func TestRememberSkillRejectsEmptySubject(t *testing.T) {
	cat := NewCatalog()
	RegisterBuiltins(cat)

	res := cat.Execute(context.Background(), cat.Get("remember"), "remember", Context{Memory: &fakeFacade{}})
	if res.Success {
		t.Error("bare remember should not succeed")
	}
}

func TestForgetSkillDeletes(t *testing.T) {
	mem := &fakeFacade{deleted: 3}
	cat := NewCatalog()
	RegisterBuiltins(cat)

	res := cat.Execute(context.Background(), cat.Get("forget"), "forget about the old project", Context{Memory: mem})
	if !res.Success {
		t.Fatalf("forget failed: %s", res.Content)
	}
	if mem.lastForget != "old project" {
		t.Errorf("forget subject = %q, want old project", mem.lastForget)
	}
	if !strings.Contains(res.Content, "Deleted 3 memories") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestForgetSkillNothingToDelete(t *testing.T) {
	cat := NewCatalog()
	RegisterBuiltins(cat)

	res := cat.Execute(context.Background(), cat.Get("forget"), "forget the moon landing", Context{Memory: &fakeFacade{}})
	if !res.Success {
		t.Fatal("empty forget should still succeed")
	}
	if !strings.Contains(res.Content, "nothing to delete") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestStatusSkillReportsBudgetAndMemory(t *testing.T) {
	mem := &fakeFacade{stats: map[string]int{"episodes": 4, "knowledge_entries": 9}}
	led := &fakeLedger{status: budget.Status{
		TokensUsed:            1200,
		DailyLimit:            50000,
		UsageRatio:            0.024,
		RequestCount:          14,
		CuriosityOpsUsed:      2,
		CuriosityOpsRemaining: 18,
	}}
	cat := NewCatalog()
	RegisterBuiltins(cat)

	res := cat.Execute(context.Background(), cat.Get("status"), "status", Context{Memory: mem, Ledger: led})
	if !res.Success {
		t.Fatalf("status failed: %s", res.Content)
	}
	for _, want := range []string{"1200/50000", "14 requests", "18 of 20", "episodes: 4", "knowledge entries: 9"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("status missing %q in:\n%s", want, res.Content)
		}
	}
}

func TestSkillsUnavailableWithoutMemory(t *testing.T) {
	cat := NewCatalog()
	RegisterBuiltins(cat)

	for _, name := range []string{"recall", "remember", "forget"} {
		res := cat.Execute(context.Background(), cat.Get(name), name+" something", Context{})
		if res.Success {
			t.Errorf("%s should fail without memory", name)
		}
	}
}
