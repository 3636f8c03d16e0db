package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/karvel/famulus/internal/provider"
)

const verifyPrompt = `You are a critical verification assistant. Your job is to check whether the following answer is correct, complete, and logically sound.

Original Question: %s

Proposed Answer: %s

Please analyze:
1. Is the answer factually correct?
2. Is it logically consistent?
3. Does it fully address the question?
4. Any errors or omissions?

Rate your confidence (0.0-1.0) that the answer is correct.
Respond in JSON: {"confidence": 0.X, "issues": ["..."], "suggestion": "..."}`

// Verification is the parsed critique of an answer.
type Verification struct {
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues"`
	Suggestion string   `json:"suggestion"`
	Passed     bool     `json:"-"`
}

// Verifier asks the provider to critique an answer it produced.
type Verifier struct {
	llm       Completer
	threshold float64
	logger    *zap.Logger
}

// NewVerifier builds a verifier; a non-positive threshold defaults to 0.7.
func NewVerifier(llm Completer, threshold float64, logger *zap.Logger) *Verifier {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Verifier{llm: llm, threshold: threshold, logger: logger}
}

// Verify critiques an answer against its question. A critique the
// model returns but the parser cannot read counts as passed, so
// verification never blocks an answer on its own defects.
func (v *Verifier) Verify(ctx context.Context, question, answer string) (*Verification, error) {
	if v.llm == nil {
		return nil, fmt.Errorf("verify: no language model configured")
	}
	comp, err := v.llm.Complete(ctx, &provider.Request{
		Prompt:   fmt.Sprintf(verifyPrompt, question, answer),
		TaskType: "simple_tasks",
		Source:   "system",
	})
	if err != nil {
		return nil, fmt.Errorf("verify completion: %w", err)
	}

	ver, perr := parseVerification(comp.Content)
	if perr != nil {
		v.logger.Warn("verification parse error", zap.Error(perr))
		return &Verification{
			Confidence: 0.5,
			Issues:     []string{"verification failed to parse: " + perr.Error()},
			Passed:     true,
		}, nil
	}
	ver.Passed = ver.Confidence >= v.threshold
	return ver, nil
}

// parseVerification reads the critique JSON, tolerating a markdown
// code fence around it.
func parseVerification(raw string) (*Verification, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if _, after, ok := strings.Cut(text, "\n"); ok {
			text = after
		}
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	var ver Verification
	if err := json.Unmarshal([]byte(text), &ver); err != nil {
		return nil, err
	}
	return &ver, nil
}
