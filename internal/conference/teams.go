package conference

import (
	"strings"
	"unicode/utf8"
)

// Team is a named lineup of specialists.
type Team struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Agents      []string `json:"agents"`
	Description string   `json:"description"`
}

// DefaultTeam is used when a requested team key is unknown.
const DefaultTeam = "analysis"

// Teams is the fixed team lookup table.
var Teams = map[string]Team{
	"tech": {
		Key:         "tech",
		Name:        "Tech Team",
		Agents:      []string{"coder", "reasoning", "research"},
		Description: "Programming, technical analysis, investigation",
	},
	"analysis": {
		Key:         "analysis",
		Name:        "Analysis Team",
		Agents:      []string{"reasoning", "research", "knowledge"},
		Description: "Deep analysis, data research, knowledge synthesis",
	},
	"debug": {
		Key:         "debug",
		Name:        "Debug Team",
		Agents:      []string{"coder", "shell", "file"},
		Description: "Debugging, command runs, file inspection",
	},
	"research": {
		Key:         "research",
		Name:        "Research Team",
		Agents:      []string{"research", "web", "reasoning"},
		Description: "Web lookups, data gathering, reasoning",
	},
	"creative": {
		Key:         "creative",
		Name:        "Creative Team",
		Agents:      []string{"reasoning", "coder", "knowledge"},
		Description: "Ideation, prototyping, knowledge synthesis",
	},
}

// conferenceTriggers hint that a question deserves a multi-agent
// discussion instead of a single answer.
var conferenceTriggers = []string{
	"compare", "pros and cons", "discuss", "debate",
	"multiple perspectives", "deep analysis", "conference",
	"team discuss",
}

const longInputRunes = 100

// SuggestTeam decides whether the input warrants a conference and
// returns the team key, or "" when a single agent should handle it.
// Two triggers select a conference outright; one trigger only does on
// long input, so a passing "compare" in a short question stays cheap.
func SuggestTeam(input string) string {
	text := strings.ToLower(input)

	if strings.Contains(text, "conference") || strings.Contains(text, "team discuss") {
		return DetectTeam(text)
	}

	hits := 0
	for _, t := range conferenceTriggers {
		if strings.Contains(text, t) {
			hits++
		}
	}
	if hits >= 2 || (hits >= 1 && utf8.RuneCountInString(text) > longInputRunes) {
		return DetectTeam(text)
	}
	return ""
}

// DetectTeam picks the team whose specialty matches the topic,
// falling back to the analysis lineup.
func DetectTeam(text string) string {
	text = strings.ToLower(text)
	switch {
	case containsAny(text, []string{"code", "api", "bug", "debug"}):
		return "tech"
	case containsAny(text, []string{"search", "web", "find"}):
		return "research"
	case containsAny(text, []string{"error", "crash"}):
		return "debug"
	case containsAny(text, []string{"design", "creative", "idea"}):
		return "creative"
	default:
		return DefaultTeam
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
