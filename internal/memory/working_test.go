package memory

import (
	"fmt"
	"math"
	"testing"
)

func TestWorkingCapacityNeverExceeded(t *testing.T) {
	w := NewWorking(3)
	for i := 0; i < 10; i++ {
		w.Store(fmt.Sprintf("k%d", i), fmt.Sprintf("content %d", i), 1.0)
		if w.Len() > 3 {
			t.Fatalf("capacity exceeded: %d slots after %d stores", w.Len(), i+1)
		}
	}
	if w.Len() != 3 {
		t.Errorf("expected 3 slots, got %d", w.Len())
	}
}

func TestWorkingEvictsLowestAttention(t *testing.T) {
	w := NewWorking(3)
	w.Store("strong", "strong fact", 0.9)
	w.Store("weak", "weak fact", 0.2)
	w.Store("mid", "mid fact", 0.5)

	w.Store("new", "new fact", 1.0)

	if _, ok := w.Retrieve("weak"); ok {
		t.Error("lowest-attention slot should have been evicted")
	}
	for _, key := range []string{"strong", "mid", "new"} {
		if _, ok := w.Retrieve(key); !ok {
			t.Errorf("slot %q should survive eviction", key)
		}
	}
}

func TestWorkingUpsertKeepsSingleSlot(t *testing.T) {
	w := NewWorking(3)
	w.Store("greeting", "hello", 0.4)
	w.Store("greeting", "hello again", 1.0)

	if w.Len() != 1 {
		t.Fatalf("upsert created a duplicate: %d slots", w.Len())
	}
	content, ok := w.Retrieve("greeting")
	if !ok || content != "hello again" {
		t.Errorf("retrieve = %q, %v; want updated content", content, ok)
	}
	snap := w.Snapshot()
	if snap[0].AccessCount != 2 { // one upsert, one retrieve
		t.Errorf("access count = %d, want 2", snap[0].AccessCount)
	}
}

func TestWorkingRetrieveBoostsCapped(t *testing.T) {
	w := NewWorking(3)
	w.Store("fact", "the sky is blue", 0.85)

	w.Retrieve("fact")
	snap := w.Snapshot()
	if math.Abs(snap[0].Attention-0.95) > 1e-9 {
		t.Errorf("attention after boost = %v, want 0.95", snap[0].Attention)
	}

	w.Retrieve("fact")
	w.Retrieve("fact")
	snap = w.Snapshot()
	if snap[0].Attention != 1.0 {
		t.Errorf("attention = %v, want capped at 1.0", snap[0].Attention)
	}
}

func TestWorkingDecayRemovesFaded(t *testing.T) {
	w := NewWorking(5)
	w.Store("a", "alpha", 1.0)
	w.Store("b", "beta", 0.02)

	removed := w.DecayAll(0.5)
	if removed != 1 {
		t.Errorf("removed = %d, want 1 (the faded slot)", removed)
	}
	if _, ok := w.Retrieve("b"); ok {
		t.Error("slot below floor should be gone")
	}
	if _, ok := w.Retrieve("a"); !ok {
		t.Error("healthy slot should survive")
	}
}

func TestWorkingFullDecayEmptiesStore(t *testing.T) {
	w := NewWorking(5)
	for i := 0; i < 5; i++ {
		w.Store(fmt.Sprintf("k%d", i), "content", 1.0)
	}
	w.DecayAll(1.0)
	if w.Len() != 0 {
		t.Errorf("decay(1.0) left %d slots, want 0", w.Len())
	}
}

func TestWorkingSearch(t *testing.T) {
	w := NewWorking(5)
	w.Store("lang", "favorite language is Go", 0.5)
	w.Store("editor", "uses helix as an editor", 0.9)
	w.Store("pet", "has a cat named Miso", 0.7)

	hits := w.Search("editor")
	if len(hits) != 1 || hits[0].Key != "editor" {
		t.Fatalf("search(editor) = %+v, want the editor slot", hits)
	}

	// Word-level match: any query word appearing in content counts.
	hits = w.Search("which language")
	if len(hits) != 1 || hits[0].Key != "lang" {
		t.Fatalf("search(which language) = %+v, want the lang slot", hits)
	}

	// Sorted by attention descending.
	w.Store("editor2", "backup editor is vim", 0.3)
	hits = w.Search("editor")
	if len(hits) != 2 || hits[0].Key != "editor" || hits[1].Key != "editor2" {
		t.Fatalf("search ordering wrong: %+v", hits)
	}

	if hits := w.Search("unrelated"); len(hits) != 0 {
		t.Errorf("search(unrelated) = %+v, want none", hits)
	}
}
