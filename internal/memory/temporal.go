package memory

import (
	"math"
	"sort"
	"time"
)

// DecayKind selects the freshness curve used by the Ranker.
type DecayKind string

const (
	DecayExponential DecayKind = "exponential"
	DecayPower       DecayKind = "power"
	DecayStep        DecayKind = "step"
)

// stepThresholds maps age-in-hours upper bounds to freshness scores.
var stepThresholds = []struct {
	maxAgeHours float64
	score       float64
}{
	{1, 1.0},
	{24, 0.8},
	{168, 0.5},
	{720, 0.2},
}

// Ranker fuses heterogeneous result scores with a decay-based
// freshness term and an access-frequency bonus.
type Ranker struct {
	kind          DecayKind
	halfLifeHours float64

	now func() time.Time
}

// NewRanker builds a Ranker. halfLifeHours only affects the
// exponential curve; zero selects the 24h default.
func NewRanker(kind DecayKind, halfLifeHours float64) *Ranker {
	if halfLifeHours <= 0 {
		halfLifeHours = 24
	}
	if kind == "" {
		kind = DecayExponential
	}
	return &Ranker{kind: kind, halfLifeHours: halfLifeHours, now: time.Now}
}

// Freshness maps a timestamp to [0,1]. Future timestamps clamp to 1;
// a zero timestamp simply ages out like any very old entry.
func (r *Ranker) Freshness(ts time.Time) float64 {
	ageHours := r.now().Sub(ts).Hours()
	switch r.kind {
	case DecayPower:
		if ageHours < 1 {
			ageHours = 1
		}
		return 1 / math.Sqrt(ageHours)
	case DecayStep:
		for _, t := range stepThresholds {
			if ageHours < t.maxAgeHours {
				return t.score
			}
		}
		return 0.1
	default:
		if ageHours < 0 {
			return 1
		}
		return math.Exp(-0.693 * ageHours / r.halfLifeHours)
	}
}

// Score combines content relevance with freshness and a frequency
// bonus. Accessed items stay relevant longer.
func (r *Ranker) Score(contentScore float64, ts time.Time, accessCount int) float64 {
	freqBonus := math.Min(0.3, float64(accessCount)*0.02)
	return contentScore*0.6 + r.Freshness(ts)*0.3 + freqBonus*0.1
}

// Rank fills each result's FinalScore and sorts descending.
func (r *Ranker) Rank(results []Result) []Result {
	for i := range results {
		results[i].FinalScore = r.Score(results[i].Score, results[i].Timestamp, results[i].AccessCount)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})
	return results
}
