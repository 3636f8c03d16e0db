package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/karvel/famulus/internal/memory"
	"github.com/karvel/famulus/internal/provider"
)

const knowledgeTopK = 5

// llmAgent is the shared shape of the model-backed specialists. Each
// instance differs in its system prompt, task type, and the optional
// refine/assess hooks.
type llmAgent struct {
	name        string
	description string
	taskType    string
	system      string
	llm         Completer
	refine      func(input, prompt string) string
	assess      func(rc RunContext, response string) float64
}

func (a *llmAgent) Name() string        { return a.name }
func (a *llmAgent) Description() string { return a.description }

func (a *llmAgent) Execute(ctx context.Context, input string, rc RunContext) (*Response, error) {
	if a.llm == nil {
		return nil, fmt.Errorf("%s specialist: %w", a.name, ErrNotConnected)
	}
	prompt := buildPrompt(rc.History, rc.Memory, input)
	if a.refine != nil {
		prompt = a.refine(input, prompt)
	}
	comp, err := a.llm.Complete(ctx, &provider.Request{
		Prompt:       prompt,
		SystemPrompt: a.system,
		TaskType:     a.taskType,
		Source:       a.name + "_agent",
	})
	if err != nil {
		return nil, fmt.Errorf("%s specialist: %w", a.name, err)
	}
	confidence := 0.75
	if a.assess != nil {
		confidence = a.assess(rc, comp.Content)
	}
	return &Response{Content: comp.Content, Confidence: confidence, Agent: a.name}, nil
}

func assessCode(_ RunContext, response string) float64 {
	if strings.Contains(response, "```") ||
		strings.Contains(response, "def ") ||
		strings.Contains(response, "function ") {
		return 0.85
	}
	return 0.6
}

func assessReasoning(_ RunContext, response string) float64 {
	lower := strings.ToLower(response)
	switch {
	case strings.Contains(lower, "high confidence"):
		return 0.92
	case strings.Contains(lower, "uncertain"), strings.Contains(lower, "low confidence"):
		return 0.55
	default:
		return 0.78
	}
}

// assessResearch treats retrieved memory context as supporting evidence.
func assessResearch(rc RunContext, _ string) float64 {
	if rc.Memory != "" {
		return 0.85
	}
	return 0.65
}

func refineCoderPrompt(input, prompt string) string {
	lower := strings.ToLower(input)
	switch {
	case containsAny(lower, "debug", "error", "fix", "bug", "traceback", "exception"):
		return prompt + "\n\nAnalyze the error, identify the root cause, and provide the corrected code."
	case containsAny(lower, "explain", "how does", "what does"):
		return prompt + "\n\nExplain the code step by step, clearly and concisely."
	default:
		return prompt
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// knowledgeAgent answers from the user's own knowledge base. It keeps
// working without a language model, returning the raw matches instead
// of a synthesized answer.
type knowledgeAgent struct {
	llm Completer
}

func (a *knowledgeAgent) Name() string { return "knowledge" }
func (a *knowledgeAgent) Description() string {
	return "Personal knowledge base lookups and concept exploration"
}

func (a *knowledgeAgent) Execute(ctx context.Context, input string, rc RunContext) (*Response, error) {
	var hits []memory.Result
	if rc.Facade != nil {
		hits = rc.Facade.Search(ctx, input, knowledgeTopK)
	}

	if len(hits) == 0 {
		if a.llm == nil {
			return &Response{
				Content:    "The knowledge base has no related material yet.",
				Confidence: 0.2,
				Agent:      "knowledge",
			}, nil
		}
		comp, err := a.llm.Complete(ctx, &provider.Request{
			Prompt:       input,
			SystemPrompt: knowledgeSystem,
			TaskType:     "general",
			Source:       "knowledge_agent",
		})
		if err != nil {
			return nil, fmt.Errorf("knowledge specialist: %w", err)
		}
		return &Response{Content: comp.Content, Confidence: 0.65, Agent: "knowledge"}, nil
	}

	lines := make([]string, 0, len(hits))
	for _, r := range hits {
		lines = append(lines, fmt.Sprintf("[%s] %s", r.Source, clip(r.Content, 200)))
	}
	material := strings.Join(lines, "\n\n")

	if a.llm == nil {
		return &Response{
			Content:    "Found in the knowledge base:\n\n" + material,
			Confidence: 0.85,
			Agent:      "knowledge",
		}, nil
	}
	prompt := fmt.Sprintf(
		"The knowledge base contains the following related material:\n\n%s\n\nUser question: %s\n\nAnswer using the material above; say so when it is not enough.",
		material, input)
	comp, err := a.llm.Complete(ctx, &provider.Request{
		Prompt:       prompt,
		SystemPrompt: knowledgeSystem,
		TaskType:     "general",
		Source:       "knowledge_agent",
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge specialist: %w", err)
	}
	return &Response{Content: comp.Content, Confidence: 0.85, Agent: "knowledge"}, nil
}

// RegisterDefaults fills the pool with the standard specialists.
// workspace is the directory the file specialist is confined to.
func RegisterDefaults(p *Pool, llm Completer, workspace string) {
	p.Register(&llmAgent{
		name:        "coder",
		description: "Code generation, debugging, and refactoring",
		taskType:    "code_generation",
		system:      coderSystem,
		llm:         llm,
		refine:      refineCoderPrompt,
		assess:      assessCode,
	})
	p.Register(&llmAgent{
		name:        "reasoning",
		description: "Step-by-step reasoning and analysis",
		taskType:    "complex_reasoning",
		system:      reasoningSystem,
		llm:         llm,
		assess:      assessReasoning,
	})
	p.Register(&llmAgent{
		name:        "research",
		description: "Research and information synthesis",
		taskType:    "complex_reasoning",
		system:      researchSystem,
		llm:         llm,
		assess:      assessResearch,
	})
	p.Register(&knowledgeAgent{llm: llm})
	p.Register(&fileAgent{workspace: workspace})
	p.Register(&shellAgent{})
	p.Register(&webAgent{client: &http.Client{Timeout: 10 * time.Second}})
	p.Register(&visionAgent{})
}
