package llm

import (
	"context"
	"fmt"

	"github.com/XiaoConstantine/anthropic-go/anthropic"
	"github.com/XiaoConstantine/dspy-go/pkg/core"
	"github.com/XiaoConstantine/dspy-go/pkg/llms"
)

// Tier identifies which pass of the pipeline a model call belongs to.
type Tier string

const (
	// TierTriage is the cheap first pass that screens the diff.
	TierTriage Tier = "triage"
	// TierDeep is the expensive pass that produces detailed findings.
	TierDeep Tier = "deep"
)

// Provider is the narrow slice of core.LLM the orchestrator needs.
type Provider interface {
	Generate(ctx context.Context, prompt string, options ...core.GenerateOption) (*core.LLMResponse, error)
	ModelID() string
}

// NewTriageProvider constructs the screening-tier model client.
func NewTriageProvider(geminiKey, model string) (Provider, error) {
	llms.EnsureFactory()
	llm, err := llms.NewGeminiLLM(geminiKey, core.ModelID(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create triage model %s: %w", model, err)
	}
	return llm, nil
}

// NewDeepProvider constructs the analysis-tier model client.
func NewDeepProvider(anthropicKey, model string) (Provider, error) {
	llms.EnsureFactory()
	llm, err := llms.NewAnthropicLLM(anthropicKey, anthropic.ModelID(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create deep model %s: %w", model, err)
	}
	return llm, nil
}
