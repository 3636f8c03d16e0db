//go:build e2e

package memory

import (
	"context"
	"math"
	"testing"
)

func TestProceduralAgainstRedis(t *testing.T) {
	ctx := context.Background()
	proc, err := NewProcedural(e2eRedisURL, e2eLogger)
	if err != nil {
		t.Fatalf("NewProcedural: %v", err)
	}
	t.Cleanup(func() { proc.Close() })

	t.Run("StoreAndLookupNormalized", func(t *testing.T) {
		if err := proc.Store(ctx, "How do I restart nginx?", "sudo systemctl restart nginx", 0.8); err != nil {
			t.Fatalf("Store: %v", err)
		}
		// Case and spacing differences hash to the same procedure.
		resp, ok, err := proc.Lookup(ctx, "HOW DO I   RESTART NGINX?")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if !ok {
			t.Fatal("expected a cache hit")
		}
		if resp != "sudo systemctl restart nginx" {
			t.Errorf("response = %q", resp)
		}
	})

	t.Run("RepeatStoreBumpsConfidence", func(t *testing.T) {
		if err := proc.Store(ctx, "how do i restart nginx?", "sudo systemctl restart nginx", 0.8); err != nil {
			t.Fatalf("Store: %v", err)
		}
		similar, err := proc.Similar(ctx, "restart nginx", 3)
		if err != nil {
			t.Fatalf("Similar: %v", err)
		}
		if len(similar) != 1 {
			t.Fatalf("expected 1 similar procedure, got %d", len(similar))
		}
		got := similar[0]
		if math.Abs(got.Confidence-0.85) > 1e-9 {
			t.Errorf("confidence = %v, want 0.85", got.Confidence)
		}
		// Initial store, one lookup hit, one repeat store.
		if got.SuccessCount != 3 {
			t.Errorf("success count = %d, want 3", got.SuccessCount)
		}
		if got.Similarity <= procSimilarityThreshold {
			t.Errorf("similarity = %v, want > %v", got.Similarity, procSimilarityThreshold)
		}
	})

	t.Run("FailureHidesLowConfidence", func(t *testing.T) {
		if err := proc.Store(ctx, "summon the coffee spirits", "grind, bloom, pour", 0.55); err != nil {
			t.Fatalf("Store: %v", err)
		}
		if err := proc.MarkFailure(ctx, "summon the coffee spirits"); err != nil {
			t.Fatalf("MarkFailure: %v", err)
		}
		// 0.55 - 0.1 sits below the serving floor.
		_, ok, err := proc.Lookup(ctx, "summon the coffee spirits")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if ok {
			t.Error("low-confidence procedure should not serve lookups")
		}
		similar, err := proc.Similar(ctx, "coffee spirits", 3)
		if err != nil {
			t.Fatalf("Similar: %v", err)
		}
		if len(similar) != 0 {
			t.Errorf("low-confidence procedure leaked into Similar: %+v", similar)
		}
	})

	t.Run("MarkFailureUnknownIsNoop", func(t *testing.T) {
		if err := proc.MarkFailure(ctx, "never stored anywhere"); err != nil {
			t.Fatalf("MarkFailure: %v", err)
		}
		n, err := proc.Count(ctx)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != 2 {
			t.Errorf("count = %d, want 2", n)
		}
	})

	t.Run("CleanupSweepsBelowThreshold", func(t *testing.T) {
		removed, err := proc.Cleanup(ctx, 0.5)
		if err != nil {
			t.Fatalf("Cleanup: %v", err)
		}
		if removed != 1 {
			t.Errorf("removed = %d, want 1", removed)
		}
		n, err := proc.Count(ctx)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != 1 {
			t.Errorf("count after cleanup = %d, want 1", n)
		}
		_, ok, err := proc.Lookup(ctx, "how do i restart nginx?")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if !ok {
			t.Error("confident procedure should survive cleanup")
		}
	})
}
