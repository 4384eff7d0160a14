package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"github.com/google/uuid"

	"github.com/lemayian23/code-review-ai/internal/chunk"
	"github.com/lemayian23/code-review-ai/internal/types"
)

// Engine matches the active pattern set against added diff lines. Patterns
// evaluate independently across a worker pool; a pattern that panics is
// skipped without affecting the rest of the run.
type Engine struct {
	store   *Store
	weights *WeightTable
	workers int
	logger  *logging.Logger
}

// NewEngine creates a matching engine over the given store and weight
// table.
func NewEngine(store *Store, weights *WeightTable, workers int, logger *logging.Logger) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		store:   store,
		weights: weights,
		workers: workers,
		logger:  logger,
	}
}

// Evaluate runs every active pattern against the added lines and returns
// the findings ordered by file path, line, then pattern id. The result is
// deterministic for a given pattern set and input.
func (e *Engine) Evaluate(ctx context.Context, lines []chunk.AddedLine) []types.Finding {
	patterns := e.store.active()
	if len(patterns) == 0 || len(lines) == 0 {
		return nil
	}

	results := make([][]types.Finding, len(patterns))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = e.matchOne(ctx, patterns[idx], lines)
			}
		}()
	}

dispatch:
	for i := range patterns {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	var findings []types.Finding
	for _, fs := range results {
		findings = append(findings, fs...)
	}
	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.PatternID < b.PatternID
	})

	e.logger.Debug(ctx, "Pattern engine produced %d findings from %d patterns over %d lines",
		len(findings), len(patterns), len(lines))
	return findings
}

// matchOne evaluates a single pattern against all lines, recovering from
// panics so one broken pattern cannot take down the run.
func (e *Engine) matchOne(ctx context.Context, cp *compiledPattern, lines []chunk.AddedLine) (findings []types.Finding) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, "Pattern %s panicked during match: %v", cp.def.ID, r)
			findings = nil
		}
	}()

	confidence := clamp(cp.def.BaseWeight*e.weights.Factor(cp.def.ID), 0, 1)
	for _, line := range lines {
		if !cp.re.MatchString(line.Text) {
			continue
		}
		findings = append(findings, types.Finding{
			ID:         uuid.New().String(),
			Origin:     types.FindingFromRule,
			Category:   cp.def.Category,
			Severity:   cp.def.Severity,
			FilePath:   line.FilePath,
			Line:       line.Line,
			Message:    cp.def.Message,
			Suggestion: cp.def.Suggestion,
			Confidence: confidence,
			PatternID:  cp.def.ID,
		})
	}
	return findings
}

// Describe renders a short human-readable summary of the active set, used
// by the patterns CLI subcommand.
func (e *Engine) Describe() string {
	patterns := e.store.active()
	out := ""
	for _, cp := range patterns {
		out += fmt.Sprintf("%-28s %-14s %-8s weight %.2f (factor %.2f)\n",
			cp.def.ID, cp.def.Category, cp.def.Severity, cp.def.BaseWeight, e.weights.Factor(cp.def.ID))
	}
	return out
}
