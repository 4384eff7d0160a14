package rules

import (
	"context"
	"testing"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemayian23/code-review-ai/internal/chunk"
	"github.com/lemayian23/code-review-ai/internal/types"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Severity: logging.ERROR,
		Outputs:  []logging.Output{logging.NewConsoleOutput(false)},
	})
}

func validPattern(id string) types.Pattern {
	return types.Pattern{
		ID:         id,
		Name:       "test pattern",
		Expr:       `TODO`,
		Message:    "found a marker",
		Category:   "maintainability",
		Severity:   types.SeverityLow,
		BaseWeight: 0.6,
		Active:     true,
	}
}

func TestStoreAddValidation(t *testing.T) {
	s := NewStore()

	p := validPattern("p1")
	require.NoError(t, s.Add(p))

	dup := validPattern("p1")
	assert.Error(t, s.Add(dup))

	bad := validPattern("p2")
	bad.Expr = `([unclosed`
	assert.Error(t, s.Add(bad))

	bad = validPattern("p3")
	bad.BaseWeight = 1.5
	assert.Error(t, s.Add(bad))

	bad = validPattern("p4")
	bad.Message = ""
	assert.Error(t, s.Add(bad))

	bad = validPattern("")
	assert.Error(t, s.Add(bad))
}

func TestStoreUpdateAndDeactivate(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(validPattern("p1")))

	updated := validPattern("p1")
	updated.Category = "security"
	require.NoError(t, s.Update(updated))

	got, ok := s.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "security", got.Category)
	assert.Equal(t, []string{"p1"}, s.ListByCategory("security"))
	assert.Empty(t, s.ListByCategory("maintainability"))

	require.NoError(t, s.Deactivate("p1"))
	assert.Empty(t, s.ListByCategory("security"))
	require.NoError(t, s.Activate("p1"))
	assert.Equal(t, []string{"p1"}, s.ListByCategory("security"))

	assert.Error(t, s.Update(validPattern("missing")))
	assert.Error(t, s.Deactivate("missing"))
}

func TestDefaultPatternsAreValid(t *testing.T) {
	s := NewStoreWithDefaults()
	assert.NotEmpty(t, s.List())
	for _, p := range s.List() {
		assert.True(t, p.Active, p.ID)
		assert.Greater(t, p.BaseWeight, 0.0, p.ID)
		assert.LessOrEqual(t, p.BaseWeight, 1.0, p.ID)
	}
}

func TestWeightTableSteps(t *testing.T) {
	w := NewWeightTable(0.1, 0.1)

	assert.Equal(t, 1.0, w.Factor("p1"))

	// A dismissal moves the factor toward the floor by one EMA step.
	got := w.Penalize("p1")
	assert.InDelta(t, 0.91, got, 1e-9)

	// Helpful feedback moves it back toward 1.0.
	got = w.Reinforce("p1")
	assert.InDelta(t, 0.919, got, 1e-9)
}

func TestWeightTableNeverLeavesRange(t *testing.T) {
	w := NewWeightTable(0.5, 0.2)
	for i := 0; i < 100; i++ {
		w.Penalize("p1")
	}
	assert.GreaterOrEqual(t, w.Factor("p1"), 0.2)

	for i := 0; i < 100; i++ {
		w.Reinforce("p1")
	}
	assert.LessOrEqual(t, w.Factor("p1"), 1.0)

	w.Set("p2", 5.0)
	assert.Equal(t, 1.0, w.Factor("p2"))
	w.Set("p2", -1.0)
	assert.Equal(t, 0.2, w.Factor("p2"))
}

func TestEngineFindsMatches(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(types.Pattern{
		ID:         "sql-concat",
		Name:       "sql concat",
		Expr:       `Sprintf\(.*SELECT`,
		Message:    "formatted sql",
		Category:   "security",
		Severity:   types.SeverityCritical,
		BaseWeight: 0.8,
		Active:     true,
	}))
	w := NewWeightTable(0.1, 0.1)
	e := NewEngine(s, w, 2, testLogger())

	lines := []chunk.AddedLine{
		{FilePath: "db.go", Line: 10, Text: `q := fmt.Sprintf("SELECT * FROM t WHERE id=%s", id)`},
		{FilePath: "db.go", Line: 11, Text: `rows, err := db.Query(q)`},
	}
	findings := e.Evaluate(context.Background(), lines)
	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, types.FindingFromRule, f.Origin)
	assert.Equal(t, "sql-concat", f.PatternID)
	assert.Equal(t, 10, f.Line)
	assert.InDelta(t, 0.8, f.Confidence, 1e-9)
}

func TestEngineConfidenceUsesLearnedFactor(t *testing.T) {
	s := NewStore()
	p := validPattern("p1")
	require.NoError(t, s.Add(p))
	w := NewWeightTable(0.1, 0.1)
	w.Set("p1", 0.5)
	e := NewEngine(s, w, 2, testLogger())

	findings := e.Evaluate(context.Background(), []chunk.AddedLine{
		{FilePath: "a.go", Line: 1, Text: "// TODO later"},
	})
	require.Len(t, findings, 1)
	assert.InDelta(t, 0.6*0.5, findings[0].Confidence, 1e-9)
}

func TestEngineDeterministicOrder(t *testing.T) {
	s := NewStoreWithDefaults()
	w := NewWeightTable(0.1, 0.1)
	e := NewEngine(s, w, 8, testLogger())

	lines := []chunk.AddedLine{
		{FilePath: "b.go", Line: 5, Text: `password := "hunter22"`},
		{FilePath: "a.go", Line: 9, Text: "// TODO fix"},
		{FilePath: "a.go", Line: 2, Text: `sum := md5.Sum(data)`},
	}

	first := e.Evaluate(context.Background(), lines)
	require.NotEmpty(t, first)
	for i := 0; i < 10; i++ {
		again := e.Evaluate(context.Background(), lines)
		// IDs are fresh each run; compare everything else.
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].PatternID, again[j].PatternID)
			assert.Equal(t, first[j].FilePath, again[j].FilePath)
			assert.Equal(t, first[j].Line, again[j].Line)
		}
	}

	// Sorted by file, then line, then pattern id.
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		if prev.FilePath == cur.FilePath {
			assert.LessOrEqual(t, prev.Line, cur.Line)
		} else {
			assert.Less(t, prev.FilePath, cur.FilePath)
		}
	}
}

func TestEngineInactivePatternsSkipped(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add(validPattern("p1")))
	require.NoError(t, s.Deactivate("p1"))
	e := NewEngine(s, NewWeightTable(0.1, 0.1), 2, testLogger())

	findings := e.Evaluate(context.Background(), []chunk.AddedLine{
		{FilePath: "a.go", Line: 1, Text: "// TODO"},
	})
	assert.Empty(t, findings)
}

func TestEngineEmptyInput(t *testing.T) {
	e := NewEngine(NewStoreWithDefaults(), NewWeightTable(0.1, 0.1), 2, testLogger())
	assert.Empty(t, e.Evaluate(context.Background(), nil))
}
