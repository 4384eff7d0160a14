package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
	"github.com/XiaoConstantine/dspy-go/pkg/logging"

	"github.com/lemayian23/code-review-ai/internal/types"
)

const (
	triageMaxTokens = 1024
	deepMaxTokens   = 4096

	// Rough chars-per-token used for pre-call budget estimates.
	charsPerToken = 4
)

// Options configure a model orchestrator.
type Options struct {
	CallTimeout time.Duration
	CacheTTL    time.Duration
}

// Orchestrator runs the two-tier model analysis: triage screens the diff
// with the cheap model, and only escalates to the deep model when the
// screen says the change warrants it. Responses are cached by content
// fingerprint so identical resubmissions cost nothing.
type Orchestrator struct {
	triage Provider
	deep   Provider
	cache  *Cache
	opts   Options
	logger *logging.Logger
}

// NewOrchestrator wires the two model tiers together.
func NewOrchestrator(triage, deep Provider, opts Options, logger *logging.Logger) *Orchestrator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 90 * 24 * time.Hour
	}
	return &Orchestrator{
		triage: triage,
		deep:   deep,
		cache:  NewCache(opts.CacheTTL),
		opts:   opts,
		logger: logger,
	}
}

// CacheStats exposes the response cache counters.
func (o *Orchestrator) CacheStats() (hits, misses uint64, rate float64) {
	return o.cache.Stats()
}

// Analyze runs the tiered pipeline over a diff and its retrieved context.
// Provider failures degrade rather than abort: a failed tier falls back
// to the other provider once, and if that also fails the tier contributes
// zero findings. Budget exhaustion stops escalation but keeps whatever
// the cheaper tier already produced.
func (o *Orchestrator) Analyze(ctx context.Context, diff, contextText string, budget *Budget) ([]types.Finding, error) {
	triageFindings, escalate, err := o.runTriage(ctx, diff, contextText, budget)
	if err != nil {
		if errors.Is(err, types.ErrBudgetExhausted) {
			o.logger.Warn(ctx, "Budget exhausted before triage, returning no model findings")
			return nil, nil
		}
		return nil, err
	}
	if !escalate {
		o.logger.Debug(ctx, "Triage found no need for deep analysis, %d screening findings", len(triageFindings))
		return triageFindings, nil
	}

	deepFindings, err := o.runDeep(ctx, diff, contextText, budget)
	if err != nil {
		if errors.Is(err, types.ErrBudgetExhausted) {
			o.logger.Warn(ctx, "Budget exhausted before deep analysis, keeping %d triage findings", len(triageFindings))
			return triageFindings, nil
		}
		return nil, err
	}
	return append(triageFindings, deepFindings...), nil
}

func (o *Orchestrator) runTriage(ctx context.Context, diff, contextText string, budget *Budget) ([]types.Finding, bool, error) {
	key := Fingerprint(TierTriage, diff, contextText)
	if cached, ok := o.cache.Get(key); ok {
		o.logger.Debug(ctx, "Triage cache hit")
		return cached, needsEscalation(cached), nil
	}

	prompt := buildTriagePrompt(diff)
	cost, err := o.chargeEstimate(budget, o.triage.ModelID(), prompt, triageMaxTokens)
	if err != nil {
		return nil, false, err
	}

	content, model, err := o.generateWithFallback(ctx, o.triage, o.deep, prompt, triageMaxTokens)
	if err != nil {
		o.logger.Warn(ctx, "Triage unavailable on both providers: %v", err)
		return nil, false, nil
	}

	findings := ParseFindings(content, model)
	o.cache.Put(key, findings, cost)
	return findings, needsEscalation(findings), nil
}

func (o *Orchestrator) runDeep(ctx context.Context, diff, contextText string, budget *Budget) ([]types.Finding, error) {
	key := Fingerprint(TierDeep, diff, contextText)
	if cached, ok := o.cache.Get(key); ok {
		o.logger.Debug(ctx, "Deep analysis cache hit")
		return cached, nil
	}

	prompt := buildDeepPrompt(diff, contextText)
	cost, err := o.chargeEstimate(budget, o.deep.ModelID(), prompt, deepMaxTokens)
	if err != nil {
		return nil, err
	}

	content, model, err := o.generateWithFallback(ctx, o.deep, o.triage, prompt, deepMaxTokens)
	if err != nil {
		o.logger.Warn(ctx, "Deep analysis unavailable on both providers: %v", err)
		return nil, nil
	}

	findings := ParseFindings(content, model)
	o.cache.Put(key, findings, cost)
	return findings, nil
}

// generateWithFallback tries the primary provider, then the fallback
// exactly once. Each attempt gets its own timeout.
func (o *Orchestrator) generateWithFallback(ctx context.Context, primary, fallback Provider, prompt string, maxTokens int) (string, string, error) {
	content, err := o.generate(ctx, primary, prompt, maxTokens)
	if err == nil {
		return content, primary.ModelID(), nil
	}
	if ctx.Err() != nil {
		return "", "", fmt.Errorf("%w: %v", types.ErrProviderTimeout, ctx.Err())
	}
	o.logger.Warn(ctx, "Provider %s failed, falling back to %s: %v", primary.ModelID(), fallback.ModelID(), err)

	content, ferr := o.generate(ctx, fallback, prompt, maxTokens)
	if ferr == nil {
		return content, fallback.ModelID(), nil
	}
	return "", "", fmt.Errorf("%w: primary: %v; fallback: %v", types.ErrProviderError, err, ferr)
}

func (o *Orchestrator) generate(ctx context.Context, p Provider, prompt string, maxTokens int) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()

	resp, err := p.Generate(callCtx, prompt, core.WithMaxTokens(maxTokens))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s", types.ErrProviderTimeout, p.ModelID())
		}
		return "", err
	}
	return resp.Content, nil
}

// chargeEstimate debits the pre-call estimate from the budget and
// returns the amount so cache entries can carry what the call cost.
func (o *Orchestrator) chargeEstimate(budget *Budget, model, prompt string, maxOut int) (float64, error) {
	cost := EstimateCost(model, len(prompt)/charsPerToken, maxOut)
	if budget == nil {
		return cost, nil
	}
	if err := budget.Charge(cost); err != nil {
		return 0, err
	}
	return cost, nil
}

// needsEscalation decides whether the screening result justifies the deep
// pass: any finding at high severity or above, or three or more findings
// overall.
func needsEscalation(findings []types.Finding) bool {
	if len(findings) >= 3 {
		return true
	}
	for _, f := range findings {
		if f.Severity.Rank() >= types.SeverityHigh.Rank() {
			return true
		}
	}
	return false
}

func buildTriagePrompt(diff string) string {
	var b strings.Builder
	b.WriteString("You are screening a code change for review-worthy issues.\n")
	b.WriteString("Identify only clear problems: bugs, security flaws, data races.\n")
	b.WriteString("Respond with a JSON array of findings, each object having\n")
	b.WriteString(`"file", "line", "category", "severity", "message", "suggestion", "confidence".`)
	b.WriteString("\nRespond with [] if the change looks fine.\n\nDiff:\n")
	b.WriteString(diff)
	return b.String()
}

func buildDeepPrompt(diff, contextText string) string {
	var b strings.Builder
	b.WriteString("You are performing a detailed code review of the change below.\n")
	b.WriteString("Use the repository context to judge correctness, security,\n")
	b.WriteString("concurrency safety, and maintainability. Report each issue as an\n")
	b.WriteString("object in a JSON array with keys ")
	b.WriteString(`"file", "line", "category", "severity", "message", "suggestion", "confidence".`)
	b.WriteString("\nConfidence is your probability the issue is real, between 0 and 1.\n")
	if contextText != "" {
		b.WriteString("\nRepository context:\n")
		b.WriteString(contextText)
		b.WriteString("\n")
	}
	b.WriteString("\nDiff:\n")
	b.WriteString(diff)
	return b.String()
}
