package orchestrator

import "strings"

// specialistOrder fixes the tie-break: when two specialists score the
// same, the one listed first wins.
var specialistOrder = []string{
	"coder", "research", "reasoning", "file", "shell", "web", "vision",
}

// specialistTriggers maps each specialist to the keywords hinting a
// request belongs to it. Matching is plain substring over the
// lowercased input; the thresholds on Detector keep single grazing
// hits from hijacking long prose.
var specialistTriggers = map[string][]string{
	"coder": {
		"code", "debug", "function", "class", "python", "javascript",
		"java", "golang", "implement", "bug", "error", "compile",
		"refactor", "script", "api",
	},
	"research": {
		"search", "google", "latest", "news", "look up",
		"find information", "what is the latest", "research",
	},
	"reasoning": {
		"why", "analyze", "reasoning", "logic", "prove",
		"step by step", "calculate", "math", "deduce",
	},
	"file": {
		"file", "read file", "write file", "directory", "folder",
		"path", "workspace",
	},
	"shell": {
		"run command", "terminal", "command", "shell", "bash",
		"pip install", "npm", "git",
	},
	"web": {
		"website", "url", "browse", "scrape", "download", "http",
		"webpage",
	},
	"vision": {
		"image", "photo", "screenshot", "ocr", "recognize", "picture",
	},
}

// Detector picks a specialist from trigger-keyword counts. A
// specialist qualifies with at least minHits distinct triggers, or a
// single trigger on a query of at most shortMaxWords words.
type Detector struct {
	minHits       int
	shortMaxWords int
}

// NewDetector builds a detector; non-positive thresholds take the
// production defaults (2 hits, 5 words).
func NewDetector(minHits, shortMaxWords int) *Detector {
	if minHits <= 0 {
		minHits = 2
	}
	if shortMaxWords <= 0 {
		shortMaxWords = 5
	}
	return &Detector{minHits: minHits, shortMaxWords: shortMaxWords}
}

// Detect returns the best-matching specialist name, or "" for none.
func (d *Detector) Detect(input string) string {
	text := strings.ToLower(input)
	words := len(strings.Fields(text))

	best := ""
	bestCount := 0
	for _, name := range specialistOrder {
		count := 0
		for _, kw := range specialistTriggers[name] {
			if strings.Contains(text, kw) {
				count++
			}
		}
		if count >= d.minHits || (count == 1 && words <= d.shortMaxWords) {
			if count > bestCount {
				best = name
				bestCount = count
			}
		}
	}
	return best
}
