package rules

import (
	"sort"
	"sync"
)

// WeightTable tracks the learned confidence multiplier for each pattern.
// Factors start at 1.0 and drift toward 1.0 on helpful feedback or toward
// the floor on dismissals, never leaving [floor, 1.0].
type WeightTable struct {
	mu      sync.RWMutex
	factors map[string]float64
	rate    float64
	floor   float64
}

// NewWeightTable creates a weight table with the given learning rate and
// factor floor.
func NewWeightTable(rate, floor float64) *WeightTable {
	return &WeightTable{
		factors: make(map[string]float64),
		rate:    rate,
		floor:   floor,
	}
}

// Factor returns the current multiplier for a pattern, defaulting to 1.0
// for patterns that have never received feedback.
func (w *WeightTable) Factor(patternID string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if f, ok := w.factors[patternID]; ok {
		return f
	}
	return 1.0
}

// Reinforce moves a pattern's factor toward 1.0 by one learning step.
func (w *WeightTable) Reinforce(patternID string) float64 {
	return w.step(patternID, 1.0)
}

// Penalize moves a pattern's factor toward the floor by one learning step.
func (w *WeightTable) Penalize(patternID string) float64 {
	return w.step(patternID, w.floor)
}

func (w *WeightTable) step(patternID string, target float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	cur, ok := w.factors[patternID]
	if !ok {
		cur = 1.0
	}
	next := cur + w.rate*(target-cur)
	next = clamp(next, w.floor, 1.0)
	w.factors[patternID] = next
	return next
}

// Set installs a factor directly, clamped to the valid range. Used when
// restoring persisted weights on startup.
func (w *WeightTable) Set(patternID string, factor float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.factors[patternID] = clamp(factor, w.floor, 1.0)
}

// Snapshot returns all learned factors keyed by pattern id.
func (w *WeightTable) Snapshot() map[string]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make(map[string]float64, len(w.factors))
	for id, f := range w.factors {
		out[id] = f
	}
	return out
}

// Leaders returns the pattern ids with the lowest factors first, which is
// the set most suppressed by feedback.
func (w *WeightTable) Leaders() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ids := make([]string, 0, len(w.factors))
	for id := range w.factors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if w.factors[ids[i]] != w.factors[ids[j]] {
			return w.factors[ids[i]] < w.factors[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
