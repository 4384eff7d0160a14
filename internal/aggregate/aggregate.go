// Package aggregate merges rule and model findings into ranked review
// suggestions with combined confidence.
package aggregate

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/lemayian23/code-review-ai/internal/types"
)

// Aggregator groups corroborating findings and combines their confidence
// with a noisy-or: independent signals agreeing on the same issue push
// confidence up, capped so combined confidence never reads as certainty.
type Aggregator struct {
	cap            float64
	minOverlap     float64
	lineTolerance  int
	maxSuggestions int
}

// Option adjusts aggregator behavior.
type Option func(*Aggregator)

// WithCap sets the confidence ceiling.
func WithCap(c float64) Option {
	return func(a *Aggregator) { a.cap = c }
}

// WithMaxSuggestions bounds the output size, keeping the top-ranked.
func WithMaxSuggestions(n int) Option {
	return func(a *Aggregator) { a.maxSuggestions = n }
}

// New creates an aggregator with the default grouping thresholds.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		cap:           0.95,
		minOverlap:    0.5,
		lineTolerance: 3,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate merges findings into suggestions. Output ordering is fully
// deterministic: combined confidence descending, then severity, then file
// path and line.
func (a *Aggregator) Aggregate(findings []types.Finding) []types.Suggestion {
	if len(findings) == 0 {
		return nil
	}

	// Stable input order so grouping does not depend on map iteration.
	sorted := make([]types.Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		x, y := sorted[i], sorted[j]
		if x.FilePath != y.FilePath {
			return x.FilePath < y.FilePath
		}
		if x.Line != y.Line {
			return x.Line < y.Line
		}
		return x.ID < y.ID
	})

	var groups [][]types.Finding
	for _, f := range sorted {
		placed := false
		for gi, g := range groups {
			if a.sameIssue(g[0], f) {
				groups[gi] = append(g, f)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []types.Finding{f})
		}
	}

	suggestions := make([]types.Suggestion, 0, len(groups))
	for _, g := range groups {
		suggestions = append(suggestions, a.merge(g))
	}

	sort.Slice(suggestions, func(i, j int) bool {
		x, y := suggestions[i], suggestions[j]
		if x.Confidence != y.Confidence {
			return x.Confidence > y.Confidence
		}
		if x.Severity.Rank() != y.Severity.Rank() {
			return x.Severity.Rank() > y.Severity.Rank()
		}
		if x.FilePath != y.FilePath {
			return x.FilePath < y.FilePath
		}
		return x.Line < y.Line
	})

	if a.maxSuggestions > 0 && len(suggestions) > a.maxSuggestions {
		suggestions = suggestions[:a.maxSuggestions]
	}
	return suggestions
}

// sameIssue reports whether two findings describe the same underlying
// problem: same file and category, nearby lines, and messages sharing at
// least half their tokens.
func (a *Aggregator) sameIssue(x, y types.Finding) bool {
	if x.FilePath != y.FilePath || x.Category != y.Category {
		return false
	}
	d := x.Line - y.Line
	if d < 0 {
		d = -d
	}
	if d > a.lineTolerance {
		return false
	}
	return tokenOverlap(x.Message, y.Message) >= a.minOverlap
}

func (a *Aggregator) merge(group []types.Finding) types.Suggestion {
	// noisy-or: 1 - prod(1 - c_i), capped.
	combined := 1.0
	for _, f := range group {
		combined *= 1 - f.Confidence
	}
	confidence := 1 - combined
	if confidence > a.cap {
		confidence = a.cap
	}

	// The highest-confidence member supplies the wording; ranks tie-break
	// toward the more severe finding.
	best := group[0]
	for _, f := range group[1:] {
		if f.Confidence > best.Confidence ||
			(f.Confidence == best.Confidence && f.Severity.Rank() > best.Severity.Rank()) {
			best = f
		}
	}

	s := types.Suggestion{
		ID:         uuid.New().String(),
		Category:   best.Category,
		Severity:   maxSeverity(group),
		FilePath:   best.FilePath,
		Line:       best.Line,
		Message:    best.Message,
		Suggestion: best.Suggestion,
		Confidence: confidence,
	}
	for _, f := range group {
		s.FindingIDs = append(s.FindingIDs, f.ID)
		if f.PatternID != "" && !contains(s.PatternIDs, f.PatternID) {
			s.PatternIDs = append(s.PatternIDs, f.PatternID)
		}
		if f.ModelID != "" && !contains(s.ModelIDs, f.ModelID) {
			s.ModelIDs = append(s.ModelIDs, f.ModelID)
		}
	}
	sort.Strings(s.PatternIDs)
	sort.Strings(s.ModelIDs)
	return s
}

func maxSeverity(group []types.Finding) types.Severity {
	max := group[0].Severity
	for _, f := range group[1:] {
		if f.Severity.Rank() > max.Rank() {
			max = f.Severity
		}
	}
	return max
}

// tokenOverlap computes the Jaccard-style overlap between the word sets
// of two messages, case-insensitive.
func tokenOverlap(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	smaller := len(ta)
	if len(tb) < smaller {
		smaller = len(tb)
	}
	return float64(shared) / float64(smaller)
}

func tokens(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,:;()[]{}\"'`")
		if len(w) > 2 {
			out[w] = true
		}
	}
	return out
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
