package skill

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

const (
	recallTopK     = 5
	snippetMaxLen  = 200
	titleMaxLen    = 50
	forgetMaxHits  = 20
	defaultCategory = "fact"
)

// RegisterBuiltins adds the default local skills to the catalog. They
// answer directly from memory and the budget ledger, never a model.
func RegisterBuiltins(cat *Catalog) {
	cat.Register(&recallSkill{keywordSkill{
		name:     "recall",
		triggers: []string{"recall", "what do you remember", "memory search", "search memory"},
	}})
	cat.Register(&rememberSkill{keywordSkill{
		name:     "remember",
		triggers: []string{"remember", "memorize", "note down"},
	}})
	cat.Register(&forgetSkill{keywordSkill{
		name:     "forget",
		triggers: []string{"forget", "delete memory", "clear memory"},
	}})
	cat.Register(&statusSkill{keywordSkill{
		name:     "status",
		triggers: []string{"status", "budget", "token usage", "memory stats"},
	}})
}

type recallSkill struct{ keywordSkill }

func (s *recallSkill) Execute(ctx context.Context, text string, sc Context) (*Result, error) {
	if sc.Memory == nil {
		return &Result{Content: "Memory system is not available.", Success: false, Source: s.name}, nil
	}

	subject := trimFillers(extractSubject(text, s.triggers))
	if subject == "" {
		subject = text
	}

	results := sc.Memory.Search(ctx, subject, recallTopK)
	if len(results) == 0 {
		return &Result{
			Content: fmt.Sprintf("No memories found for %q.", subject),
			Success: true,
			Source:  s.name,
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories for %q:\n", len(results), subject)
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] (%s) %s", i+1, r.Source, clip(r.Content, snippetMaxLen))
	}
	return &Result{Content: b.String(), Success: true, Source: s.name}, nil
}

type rememberSkill struct{ keywordSkill }

func (s *rememberSkill) Execute(ctx context.Context, text string, sc Context) (*Result, error) {
	if sc.Memory == nil {
		return &Result{Content: "Memory system is not available.", Success: false, Source: s.name}, nil
	}

	content := extractSubject(text, s.triggers)
	if words := strings.Fields(content); len(words) > 1 && (words[0] == "that" || words[0] == "to") {
		content = strings.Join(words[1:], " ")
	}
	if content == "" {
		return &Result{
			Content: `Tell me what to remember, e.g. "remember the wifi password is hunter2".`,
			Success: false,
			Source:  s.name,
		}, nil
	}

	title := clip(content, titleMaxLen)
	if err := sc.Memory.StoreKnowledge(ctx, title, content, defaultCategory); err != nil {
		return nil, fmt.Errorf("store knowledge: %w", err)
	}
	return &Result{
		Content: fmt.Sprintf("Stored: %q [%s]", title, defaultCategory),
		Success: true,
		Source:  s.name,
	}, nil
}

type forgetSkill struct{ keywordSkill }

func (s *forgetSkill) Execute(ctx context.Context, text string, sc Context) (*Result, error) {
	if sc.Memory == nil {
		return &Result{Content: "Memory system is not available.", Success: false, Source: s.name}, nil
	}

	subject := trimFillers(extractSubject(text, s.triggers))
	if subject == "" {
		return &Result{
			Content: `Tell me what to forget, e.g. "forget old project notes".`,
			Success: false,
			Source:  s.name,
		}, nil
	}

	deleted, err := sc.Memory.Forget(ctx, subject, forgetMaxHits)
	if err != nil {
		return nil, fmt.Errorf("forget %q: %w", subject, err)
	}
	if deleted == 0 {
		return &Result{
			Content: fmt.Sprintf("No memories found about %q, nothing to delete.", subject),
			Success: true,
			Source:  s.name,
		}, nil
	}
	return &Result{
		Content: fmt.Sprintf("Deleted %d memories about %q.", deleted, subject),
		Success: true,
		Source:  s.name,
	}, nil
}

type statusSkill struct{ keywordSkill }

func (s *statusSkill) Execute(ctx context.Context, _ string, sc Context) (*Result, error) {
	if sc.Ledger == nil && sc.Memory == nil {
		return &Result{Content: "Status is not available.", Success: false, Source: s.name}, nil
	}

	var b strings.Builder
	b.WriteString("System status:\n")
	if sc.Ledger != nil {
		st := sc.Ledger.Status()
		fmt.Fprintf(&b, "- Budget: %d/%d tokens used (%.0f%%), %d requests today\n",
			st.TokensUsed, st.DailyLimit, st.UsageRatio*100, st.RequestCount)
		fmt.Fprintf(&b, "- Curiosity: %d of %d background operations left\n",
			st.CuriosityOpsRemaining, st.CuriosityOpsUsed+st.CuriosityOpsRemaining)
	}
	if sc.Memory != nil {
		stats := sc.Memory.Stats(ctx)
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %d\n", strings.ReplaceAll(k, "_", " "), stats[k])
		}
	}
	return &Result{Content: strings.TrimRight(b.String(), "\n"), Success: true, Source: s.name}, nil
}

// extractSubject strips the command words that triggered the skill and
// returns whatever remains.
func extractSubject(text string, commands []string) string {
	sorted := make([]string, len(commands))
	copy(sorted, commands)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	for _, cmd := range sorted {
		lower := strings.ToLower(text)
		if i := strings.Index(lower, cmd); i >= 0 {
			text = text[:i] + text[i+len(cmd):]
		}
	}
	return strings.Join(strings.Fields(text), " ")
}

var fillerWords = map[string]bool{
	"about": true, "that": true, "the": true, "my": true,
	"me": true, "please": true, "to": true, "of": true, "for": true,
}

func trimFillers(s string) string {
	words := strings.Fields(s)
	for len(words) > 0 && fillerWords[strings.ToLower(words[0])] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
