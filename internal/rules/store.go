// Package rules implements the deterministic pattern layer of the
// analysis pipeline: a validated pattern registry, learned per-pattern
// weights, and a parallel matching engine.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/lemayian23/code-review-ai/internal/types"
)

// compiledPattern pairs a pattern definition with its compiled expression.
type compiledPattern struct {
	def types.Pattern
	re  *regexp.Regexp
}

// Store holds the active pattern set. All methods are safe for concurrent
// use.
type Store struct {
	mu         sync.RWMutex
	patterns   map[string]*compiledPattern
	byCategory map[string][]string
}

// NewStore creates an empty pattern store.
func NewStore() *Store {
	return &Store{
		patterns:   make(map[string]*compiledPattern),
		byCategory: make(map[string][]string),
	}
}

// NewStoreWithDefaults creates a store pre-populated with the built-in
// pattern set.
func NewStoreWithDefaults() *Store {
	s := NewStore()
	for _, p := range DefaultPatterns() {
		if err := s.Add(p); err != nil {
			panic(fmt.Sprintf("invalid built-in pattern %s: %v", p.ID, err))
		}
	}
	return s
}

// Add registers a new pattern. It fails if the pattern is invalid or the
// id is already taken.
func (s *Store) Add(p types.Pattern) error {
	cp, err := compile(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.patterns[p.ID]; exists {
		return fmt.Errorf("pattern %s already registered", p.ID)
	}
	s.patterns[p.ID] = cp
	s.byCategory[p.Category] = append(s.byCategory[p.Category], p.ID)
	return nil
}

// Update replaces an existing pattern definition in place.
func (s *Store) Update(p types.Pattern) error {
	cp, err := compile(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.patterns[p.ID]
	if !exists {
		return fmt.Errorf("pattern %s not found", p.ID)
	}
	if old.def.Category != p.Category {
		s.removeFromCategory(old.def.Category, p.ID)
		s.byCategory[p.Category] = append(s.byCategory[p.Category], p.ID)
	}
	s.patterns[p.ID] = cp
	return nil
}

// Deactivate marks a pattern inactive without removing its definition, so
// its learned weight survives a later reactivation.
func (s *Store) Deactivate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, exists := s.patterns[id]
	if !exists {
		return fmt.Errorf("pattern %s not found", id)
	}
	cp.def.Active = false
	return nil
}

// Activate re-enables a previously deactivated pattern.
func (s *Store) Activate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, exists := s.patterns[id]
	if !exists {
		return fmt.Errorf("pattern %s not found", id)
	}
	cp.def.Active = true
	return nil
}

// Get returns a pattern definition by id.
func (s *Store) Get(id string) (types.Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, exists := s.patterns[id]
	if !exists {
		return types.Pattern{}, false
	}
	return cp.def, true
}

// List returns all pattern definitions ordered by id.
func (s *Store) List() []types.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Pattern, 0, len(s.patterns))
	for _, cp := range s.patterns {
		out = append(out, cp.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListByCategory returns the active pattern ids in a category.
func (s *Store) ListByCategory(category string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byCategory[category]))
	for _, id := range s.byCategory[category] {
		if cp, ok := s.patterns[id]; ok && cp.def.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// active returns a stable snapshot of the active compiled patterns,
// ordered by id so matching order is deterministic.
func (s *Store) active() []*compiledPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*compiledPattern, 0, len(s.patterns))
	for _, cp := range s.patterns {
		if cp.def.Active {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].def.ID < out[j].def.ID })
	return out
}

func (s *Store) removeFromCategory(category, id string) {
	ids := s.byCategory[category]
	for i, v := range ids {
		if v == id {
			s.byCategory[category] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

func compile(p types.Pattern) (*compiledPattern, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("pattern id must not be empty")
	}
	if p.Message == "" {
		return nil, fmt.Errorf("pattern %s: message must not be empty", p.ID)
	}
	if p.Category == "" {
		return nil, fmt.Errorf("pattern %s: category must not be empty", p.ID)
	}
	if p.BaseWeight <= 0 || p.BaseWeight > 1 {
		return nil, fmt.Errorf("pattern %s: base weight %.2f out of range (0, 1]", p.ID, p.BaseWeight)
	}
	re, err := regexp.Compile(p.Expr)
	if err != nil {
		return nil, fmt.Errorf("pattern %s: invalid expression: %w", p.ID, err)
	}
	return &compiledPattern{def: p, re: re}, nil
}
