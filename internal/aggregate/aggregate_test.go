package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemayian23/code-review-ai/internal/types"
)

func finding(id, file string, line int, category, msg string, conf float64, sev types.Severity) types.Finding {
	return types.Finding{
		ID:         id,
		Origin:     types.FindingFromRule,
		Category:   category,
		Severity:   sev,
		FilePath:   file,
		Line:       line,
		Message:    msg,
		Confidence: conf,
	}
}

func TestAggregateEmpty(t *testing.T) {
	assert.Empty(t, New().Aggregate(nil))
}

func TestAggregateCombinesAgreeingSources(t *testing.T) {
	rule := finding("r1", "db.go", 42, "security", "SQL statement built from formatted strings", 0.8, types.SeverityCritical)
	model := finding("m1", "db.go", 43, "security", "SQL statement built from user input strings", 0.7, types.SeverityHigh)
	model.Origin = types.FindingFromModel
	model.ModelID = "claude"
	rule.PatternID = "sql-concat"

	out := New().Aggregate([]types.Finding{rule, model})
	require.Len(t, out, 1)
	s := out[0]

	// noisy-or: 1 - (1-0.8)(1-0.7) = 0.94
	assert.InDelta(t, 0.94, s.Confidence, 1e-9)
	assert.Equal(t, types.SeverityCritical, s.Severity)
	assert.ElementsMatch(t, []string{"r1", "m1"}, s.FindingIDs)
	assert.Equal(t, []string{"sql-concat"}, s.PatternIDs)
	assert.Equal(t, []string{"claude"}, s.ModelIDs)
	// The strongest member supplies the wording.
	assert.Equal(t, rule.Message, s.Message)
}

func TestAggregateCapsConfidence(t *testing.T) {
	a := finding("a", "x.go", 1, "security", "hardcoded credential in source", 0.9, types.SeverityHigh)
	b := finding("b", "x.go", 1, "security", "hardcoded credential detected here", 0.9, types.SeverityHigh)

	out := New().Aggregate([]types.Finding{a, b})
	require.Len(t, out, 1)
	assert.InDelta(t, 0.95, out[0].Confidence, 1e-9)
}

func TestAggregateKeepsDistinctIssuesApart(t *testing.T) {
	a := finding("a", "x.go", 1, "security", "hardcoded credential", 0.9, types.SeverityHigh)
	b := finding("b", "y.go", 1, "security", "hardcoded credential", 0.9, types.SeverityHigh)
	c := finding("c", "x.go", 1, "maintainability", "deeply nested block", 0.7, types.SeverityMedium)
	d := finding("d", "x.go", 90, "security", "hardcoded credential", 0.9, types.SeverityHigh)

	out := New().Aggregate([]types.Finding{a, b, c, d})
	assert.Len(t, out, 4)
}

func TestAggregateUnrelatedMessagesStaySeparate(t *testing.T) {
	a := finding("a", "x.go", 1, "correctness", "error value is discarded silently", 0.6, types.SeverityMedium)
	b := finding("b", "x.go", 2, "correctness", "nil pointer dereference possible", 0.6, types.SeverityMedium)

	out := New().Aggregate([]types.Finding{a, b})
	assert.Len(t, out, 2)
}

func TestAggregateOrdering(t *testing.T) {
	low := finding("l", "a.go", 1, "style", "minor style issue present", 0.3, types.SeverityLow)
	high := finding("h", "b.go", 2, "security", "serious security issue found", 0.9, types.SeverityCritical)
	mid := finding("m", "c.go", 3, "correctness", "possible logic error here", 0.6, types.SeverityMedium)

	out := New().Aggregate([]types.Finding{low, high, mid})
	require.Len(t, out, 3)
	assert.Equal(t, "b.go", out[0].FilePath)
	assert.Equal(t, "c.go", out[1].FilePath)
	assert.Equal(t, "a.go", out[2].FilePath)
}

func TestAggregateDeterministic(t *testing.T) {
	in := []types.Finding{
		finding("a", "x.go", 1, "security", "issue alpha found here", 0.7, types.SeverityHigh),
		finding("b", "x.go", 9, "security", "issue beta found here", 0.7, types.SeverityHigh),
		finding("c", "y.go", 3, "style", "issue gamma found here", 0.4, types.SeverityLow),
	}
	reversed := []types.Finding{in[2], in[1], in[0]}

	a := New().Aggregate(in)
	b := New().Aggregate(reversed)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].FilePath, b[i].FilePath)
		assert.Equal(t, a[i].Line, b[i].Line)
		assert.InDelta(t, a[i].Confidence, b[i].Confidence, 1e-9)
	}
}

func TestAggregateMaxSuggestions(t *testing.T) {
	in := []types.Finding{
		finding("a", "a.go", 1, "style", "first distinct issue", 0.3, types.SeverityLow),
		finding("b", "b.go", 1, "style", "second distinct issue", 0.9, types.SeverityLow),
		finding("c", "c.go", 1, "style", "third distinct issue", 0.6, types.SeverityLow),
	}
	out := New(WithMaxSuggestions(2)).Aggregate(in)
	require.Len(t, out, 2)
	assert.InDelta(t, 0.9, out[0].Confidence, 1e-9)
	assert.InDelta(t, 0.6, out[1].Confidence, 1e-9)
}

func TestAggregateCustomCap(t *testing.T) {
	a := finding("a", "x.go", 1, "security", "duplicate issue reported twice", 0.9, types.SeverityHigh)
	b := finding("b", "x.go", 1, "security", "duplicate issue reported twice", 0.9, types.SeverityHigh)
	out := New(WithCap(0.8)).Aggregate([]types.Finding{a, b})
	require.Len(t, out, 1)
	assert.InDelta(t, 0.8, out[0].Confidence, 1e-9)
}
