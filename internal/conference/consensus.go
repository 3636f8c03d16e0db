package conference

import "strings"

var (
	agreeKeywords    = []string{"agree", "consensus", "correct", "agree with"}
	disagreeKeywords = []string{"disagree", "incorrect", "wrong", "differ", "however, i think"}
)

const (
	defaultQuorum = 0.6
	minimumVoice  = 0.3
)

// checkConsensus applies the disagree-override heuristic: one strong
// disagreement blocks consensus outright; otherwise the quorum share
// of the round's contributions must carry an agreement keyword.
// Contributions under 0.3 confidence (timeouts, failures) count as
// neither, but stay in the denominator.
func checkConsensus(contributions []Contribution, quorum float64) bool {
	if len(contributions) == 0 {
		return false
	}
	agree := 0
	for _, c := range contributions {
		if c.Confidence < minimumVoice {
			continue
		}
		text := strings.ToLower(c.Content)
		if containsAny(text, disagreeKeywords) {
			return false
		}
		if containsAny(text, agreeKeywords) {
			agree++
		}
	}
	return float64(agree) >= float64(len(contributions))*quorum
}
