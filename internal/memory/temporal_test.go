package memory

import (
	"math"
	"testing"
	"time"
)

func fixedRanker(kind DecayKind, halfLife float64) (*Ranker, time.Time) {
	r := NewRanker(kind, halfLife)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, now
}

func TestExponentialFreshness(t *testing.T) {
	r, now := fixedRanker(DecayExponential, 24)

	if got := r.Freshness(now); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("freshness(now) = %v, want 1.0", got)
	}
	// One half-life old: exp(-0.693) is approximately 0.5.
	if got := r.Freshness(now.Add(-24 * time.Hour)); math.Abs(got-0.5) > 0.001 {
		t.Errorf("freshness(24h) = %v, want ~0.5", got)
	}
	if got := r.Freshness(now.Add(time.Hour)); got != 1.0 {
		t.Errorf("future freshness = %v, want 1.0", got)
	}
	if got := r.Freshness(time.Time{}); got > 1e-6 {
		t.Errorf("zero timestamp freshness = %v, want ~0", got)
	}
}

func TestPowerFreshness(t *testing.T) {
	r, now := fixedRanker(DecayPower, 0)

	if got := r.Freshness(now); got != 1.0 {
		t.Errorf("freshness(now) = %v, want 1.0 (clamped to 1h floor)", got)
	}
	if got := r.Freshness(now.Add(-4 * time.Hour)); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("freshness(4h) = %v, want 0.5", got)
	}
}

func TestStepFreshness(t *testing.T) {
	r, now := fixedRanker(DecayStep, 0)

	cases := []struct {
		age  time.Duration
		want float64
	}{
		{30 * time.Minute, 1.0},
		{12 * time.Hour, 0.8},
		{3 * 24 * time.Hour, 0.5},
		{20 * 24 * time.Hour, 0.2},
		{60 * 24 * time.Hour, 0.1},
	}
	for _, c := range cases {
		if got := r.Freshness(now.Add(-c.age)); got != c.want {
			t.Errorf("freshness(age=%v) = %v, want %v", c.age, got, c.want)
		}
	}
}

func TestScoreWeights(t *testing.T) {
	r, now := fixedRanker(DecayExponential, 24)

	// Fresh entry, no accesses: 0.6*score + 0.3*1.0.
	got := r.Score(1.0, now, 0)
	if math.Abs(got-0.9) > 1e-9 {
		t.Errorf("score = %v, want 0.9", got)
	}

	// Frequency bonus caps at 0.3 regardless of access count.
	capped := r.Score(1.0, now, 1000)
	if math.Abs(capped-0.93) > 1e-9 {
		t.Errorf("capped score = %v, want 0.93", capped)
	}
	if r.Score(1.0, now, 15) != capped {
		t.Error("15 accesses should already hit the frequency cap")
	}
}

func TestRankPrefersRecent(t *testing.T) {
	r, now := fixedRanker(DecayExponential, 24)

	results := []Result{
		{Content: "old", Score: 0.8, Timestamp: now.Add(-72 * time.Hour)},
		{Content: "new", Score: 0.8, Timestamp: now.Add(-time.Minute)},
		{Content: "mid", Score: 0.8, Timestamp: now.Add(-24 * time.Hour)},
	}
	ranked := r.Rank(results)

	want := []string{"new", "mid", "old"}
	for i, w := range want {
		if ranked[i].Content != w {
			t.Fatalf("rank[%d] = %q, want %q", i, ranked[i].Content, w)
		}
	}
	if ranked[0].FinalScore <= ranked[1].FinalScore {
		t.Error("final scores should be strictly ordered")
	}
}

func TestRankContentDominatesFreshness(t *testing.T) {
	r, now := fixedRanker(DecayExponential, 24)

	results := []Result{
		{Content: "weak-fresh", Score: 0.1, Timestamp: now},
		{Content: "strong-stale", Score: 0.9, Timestamp: now.Add(-48 * time.Hour)},
	}
	ranked := r.Rank(results)
	if ranked[0].Content != "strong-stale" {
		t.Errorf("content weight should dominate: got %q first", ranked[0].Content)
	}
}
