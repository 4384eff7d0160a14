package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemayian23/code-review-ai/internal/types"
)

type stubProvider struct {
	id      string
	content string
	err     error
	calls   atomic.Int64
}

func (s *stubProvider) Generate(ctx context.Context, prompt string, options ...core.GenerateOption) (*core.LLMResponse, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &core.LLMResponse{Content: s.content}, nil
}

func (s *stubProvider) ModelID() string { return s.id }

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Severity: logging.ERROR,
		Outputs:  []logging.Output{logging.NewConsoleOutput(false)},
	})
}

const criticalTriage = `[{"file": "a.go", "line": 1, "category": "security", "severity": "critical", "message": "injection risk", "confidence": 0.8}]`
const deepResponse = `[{"file": "a.go", "line": 1, "category": "security", "severity": "high", "message": "confirmed injection", "confidence": 0.85}]`

func newTestOrchestrator(triage, deep Provider) *Orchestrator {
	return NewOrchestrator(triage, deep, Options{
		CallTimeout: time.Second,
		CacheTTL:    time.Hour,
	}, testLogger())
}

func TestAnalyzeNoEscalation(t *testing.T) {
	triage := &stubProvider{id: "cheap", content: "[]"}
	deep := &stubProvider{id: "deep", content: deepResponse}
	o := newTestOrchestrator(triage, deep)

	fs, err := o.Analyze(context.Background(), "diff", "", NewBudget(1))
	require.NoError(t, err)
	assert.Empty(t, fs)
	assert.Equal(t, int64(1), triage.calls.Load())
	assert.Equal(t, int64(0), deep.calls.Load())
}

func TestAnalyzeEscalatesOnSevereTriage(t *testing.T) {
	triage := &stubProvider{id: "cheap", content: criticalTriage}
	deep := &stubProvider{id: "deep", content: deepResponse}
	o := newTestOrchestrator(triage, deep)

	fs, err := o.Analyze(context.Background(), "diff", "ctx", NewBudget(1))
	require.NoError(t, err)
	require.Len(t, fs, 2)
	assert.Equal(t, int64(1), deep.calls.Load())
}

func TestAnalyzeCachesByFingerprint(t *testing.T) {
	triage := &stubProvider{id: "cheap", content: criticalTriage}
	deep := &stubProvider{id: "deep", content: deepResponse}
	o := newTestOrchestrator(triage, deep)

	_, err := o.Analyze(context.Background(), "diff", "ctx", NewBudget(10))
	require.NoError(t, err)
	_, err = o.Analyze(context.Background(), "diff  \n", "ctx", NewBudget(10))
	require.NoError(t, err)

	assert.Equal(t, int64(1), triage.calls.Load())
	assert.Equal(t, int64(1), deep.calls.Load())

	hits, _, _ := o.CacheStats()
	assert.Equal(t, uint64(2), hits)

	// Cached entries carry the charged estimate, so hits count as
	// avoided spend.
	assert.Greater(t, o.cache.Saved(), 0.0)
}

func TestAnalyzeFallsBackOnce(t *testing.T) {
	triage := &stubProvider{id: "cheap", err: errors.New("boom")}
	deep := &stubProvider{id: "deep", content: "[]"}
	o := newTestOrchestrator(triage, deep)

	fs, err := o.Analyze(context.Background(), "diff", "", NewBudget(1))
	require.NoError(t, err)
	assert.Empty(t, fs)
	assert.Equal(t, int64(1), triage.calls.Load())
	assert.Equal(t, int64(1), deep.calls.Load())
}

func TestAnalyzeBothProvidersDownYieldsNoFindings(t *testing.T) {
	triage := &stubProvider{id: "cheap", err: errors.New("down")}
	deep := &stubProvider{id: "deep", err: errors.New("also down")}
	o := newTestOrchestrator(triage, deep)

	fs, err := o.Analyze(context.Background(), "diff", "", NewBudget(1))
	require.NoError(t, err)
	assert.Empty(t, fs)
}

func TestAnalyzeBudgetStopsEscalation(t *testing.T) {
	triage := &stubProvider{id: "gemini-2.0-flash", content: criticalTriage}
	deep := &stubProvider{id: "claude-sonnet-4-5", content: deepResponse}
	o := newTestOrchestrator(triage, deep)

	// Enough for the cheap tier only: the deep pre-charge must fail.
	budget := NewBudget(0.001)
	fs, err := o.Analyze(context.Background(), "diff", "", budget)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Equal(t, int64(0), deep.calls.Load())
}

func TestAnalyzeBudgetExhaustedBeforeTriage(t *testing.T) {
	triage := &stubProvider{id: "claude-sonnet-4-5", content: criticalTriage}
	deep := &stubProvider{id: "claude-sonnet-4-5", content: deepResponse}
	o := newTestOrchestrator(triage, deep)

	budget := NewBudget(0.0000001)
	fs, err := o.Analyze(context.Background(), "some diff content here", "", budget)
	require.NoError(t, err)
	assert.Empty(t, fs)
	assert.Equal(t, int64(0), triage.calls.Load())
}

func TestNeedsEscalation(t *testing.T) {
	assert.False(t, needsEscalation(nil))
	assert.False(t, needsEscalation([]types.Finding{{Severity: types.SeverityLow}}))
	assert.True(t, needsEscalation([]types.Finding{{Severity: types.SeverityHigh}}))
	assert.True(t, needsEscalation([]types.Finding{
		{Severity: types.SeverityLow}, {Severity: types.SeverityLow}, {Severity: types.SeverityLow},
	}))
}
