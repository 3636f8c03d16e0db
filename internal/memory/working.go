package memory

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultWorkingSlots = 7
	retrieveBoost       = 0.1
	minAttention        = 0.01
)

// Slot is a single working-memory entry with an attention weight.
type Slot struct {
	Key          string    `json:"key"`
	Content      string    `json:"content"`
	Attention    float64   `json:"attention"`
	CreatedAt    time.Time `json:"created_at"`
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// WorkingHit is one search match from working memory.
type WorkingHit struct {
	Key       string
	Content   string
	Attention float64
}

// Working is a bounded attention-weighted cache of the active
// conversation's salient facts (the 7±2 model). All operations are
// local and synchronous; background decay may run concurrently with
// orchestrator reads, so access is guarded.
type Working struct {
	mu       sync.RWMutex
	maxSlots int
	slots    map[string]*Slot
	order    []string // least recently used first
}

// NewWorking creates a working memory with the given capacity.
func NewWorking(maxSlots int) *Working {
	if maxSlots <= 0 {
		maxSlots = defaultWorkingSlots
	}
	return &Working{
		maxSlots: maxSlots,
		slots:    make(map[string]*Slot, maxSlots),
	}
}

// Store upserts a slot. An existing key keeps its access history but
// takes the new content and attention and moves to the most recently
// used position. At capacity the lowest-attention slot is evicted.
func (w *Working) Store(key, content string, attention float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if slot, ok := w.slots[key]; ok {
		slot.Content = content
		slot.Attention = attention
		slot.AccessCount++
		slot.LastAccessed = now
		w.moveToEnd(key)
		return
	}

	if len(w.slots) >= w.maxSlots {
		w.evictLowest()
	}
	w.slots[key] = &Slot{
		Key:          key,
		Content:      content,
		Attention:    attention,
		CreatedAt:    now,
		LastAccessed: now,
	}
	w.order = append(w.order, key)
}

// Retrieve returns the slot content and boosts its attention.
func (w *Working) Retrieve(key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	slot, ok := w.slots[key]
	if !ok {
		return "", false
	}
	slot.AccessCount++
	slot.LastAccessed = time.Now()
	slot.Attention += retrieveBoost
	if slot.Attention > 1.0 {
		slot.Attention = 1.0
	}
	w.moveToEnd(key)
	return slot.Content, true
}

// Search does a naive substring/keyword match across slot contents.
// Results are sorted by attention descending. Zero external calls.
func (w *Working) Search(query string) []WorkingHit {
	w.mu.RLock()
	defer w.mu.RUnlock()

	q := strings.ToLower(query)
	words := strings.Fields(q)
	var hits []WorkingHit
	for _, slot := range w.slots {
		content := strings.ToLower(slot.Content)
		if matchesAny(content, q, words) {
			hits = append(hits, WorkingHit{Key: slot.Key, Content: slot.Content, Attention: slot.Attention})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Attention > hits[j].Attention })
	return hits
}

func matchesAny(content, query string, words []string) bool {
	if strings.Contains(content, query) {
		return true
	}
	for _, word := range words {
		if strings.Contains(content, word) {
			return true
		}
	}
	return false
}

// DecayAll multiplies every attention weight by (1-rate) and removes
// slots that fall below the attention floor. Returns removed count.
func (w *Working) DecayAll(rate float64) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for key, slot := range w.slots {
		slot.Attention *= 1.0 - rate
		if slot.Attention < minAttention {
			delete(w.slots, key)
			w.removeFromOrder(key)
			removed++
		}
	}
	return removed
}

// Snapshot returns all slots sorted by attention descending, for
// prompt injection and monitoring.
func (w *Working) Snapshot() []Slot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Slot, 0, len(w.slots))
	for _, slot := range w.slots {
		out = append(out, *slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attention > out[j].Attention })
	return out
}

// Len reports the occupied slot count.
func (w *Working) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.slots)
}

// Clear drops every slot.
func (w *Working) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.slots = make(map[string]*Slot, w.maxSlots)
	w.order = nil
}

// evictLowest removes the lowest-attention slot, oldest first on
// ties. Caller holds the lock.
func (w *Working) evictLowest() {
	if len(w.order) == 0 {
		return
	}
	lowestKey := ""
	lowest := 0.0
	for _, key := range w.order {
		slot := w.slots[key]
		if lowestKey == "" || slot.Attention < lowest {
			lowestKey = key
			lowest = slot.Attention
		}
	}
	delete(w.slots, lowestKey)
	w.removeFromOrder(lowestKey)
}

func (w *Working) moveToEnd(key string) {
	w.removeFromOrder(key)
	w.order = append(w.order, key)
}

func (w *Working) removeFromOrder(key string) {
	for i, k := range w.order {
		if k == key {
			w.order = append(w.order[:i], w.order[i+1:]...)
			return
		}
	}
}
