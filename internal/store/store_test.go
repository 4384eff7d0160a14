package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemayian23/code-review-ai/internal/types"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Severity: logging.ERROR,
		Outputs:  []logging.Output{logging.NewConsoleOutput(false)},
	})
}

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndUpdateReview(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := &types.Review{
		ID:         "r1",
		Repository: "acme/app",
		Status:     types.StatusPending,
		FilePaths:  []string{"a.go", "b.go"},
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.SaveReview(ctx, r))

	r.Status = types.StatusCompleted
	r.Duration = 2 * time.Second
	r.CostEstimate = 0.03
	require.NoError(t, s.SaveReview(ctx, r))
}

func TestSuggestionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveReview(ctx, &types.Review{
		ID: "r1", Repository: "acme/app", Status: types.StatusCompleted, CreatedAt: time.Now(),
	}))

	in := []types.Suggestion{{
		ID:         "s1",
		Category:   "security",
		Severity:   types.SeverityHigh,
		FilePath:   "db.go",
		Line:       42,
		Message:    "formatted sql",
		Suggestion: "use placeholders",
		Confidence: 0.91,
		FindingIDs: []string{"f1", "f2"},
		PatternIDs: []string{"sql-concat"},
		ModelIDs:   []string{"claude"},
	}}
	require.NoError(t, s.SaveSuggestions(ctx, "r1", in))

	got, err := s.GetSuggestion(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ReviewID)
	assert.Equal(t, types.SeverityHigh, got.Severity)
	assert.Equal(t, 42, got.Line)
	assert.InDelta(t, 0.91, got.Confidence, 1e-9)
	assert.Equal(t, []string{"f1", "f2"}, got.FindingIDs)
	assert.Equal(t, []string{"sql-concat"}, got.PatternIDs)
	assert.Equal(t, []string{"claude"}, got.ModelIDs)
}

func TestGetSuggestionMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSuggestion(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrReviewNotFound)
}

func TestFeedbackIdempotentAndOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	fb1 := types.Feedback{ID: "fb1", SuggestionID: "s1", Helpful: true, CreatedAt: base}
	fb2 := types.Feedback{ID: "fb2", SuggestionID: "s1", Helpful: false, CreatedAt: base.Add(time.Second)}

	require.NoError(t, s.SaveFeedback(ctx, fb2))
	require.NoError(t, s.SaveFeedback(ctx, fb1))
	// Replaying a record is a no-op.
	require.NoError(t, s.SaveFeedback(ctx, fb1))

	got, err := s.ListFeedback(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fb1", got[0].ID)
	assert.Equal(t, "fb2", got[1].ID)
	assert.True(t, got[0].Helpful)
}

func TestWeightsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveWeight(ctx, "p1", 0.7))
	require.NoError(t, s.SaveWeight(ctx, "p1", 0.6))
	require.NoError(t, s.SaveWeight(ctx, "p2", 0.9))

	got, err := s.LoadWeights(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"p1": 0.6, "p2": 0.9}, got)
}

func TestMetricsSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestMetrics(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, s.SaveMetrics(ctx, types.LearningMetrics{
		TotalFeedback: 5, HelpfulFeedback: 3, HelpfulRatio: 0.6, GeneratedAt: time.Now(),
	}))
	require.NoError(t, s.SaveMetrics(ctx, types.LearningMetrics{
		TotalFeedback: 8, HelpfulFeedback: 5, HelpfulRatio: 0.625, GeneratedAt: time.Now(),
	}))

	latest, err = s.LatestMetrics(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 8, latest.TotalFeedback)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
