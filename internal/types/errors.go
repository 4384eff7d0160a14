package types

import "errors"

// Error taxonomy for analysis failures. All of these are contained per
// review: callers downgrade them to partial results rather than aborting
// the process.
var (
	// ErrRetrievalUnavailable means the similarity index collaborator is
	// unreachable. Callers proceed with an empty context set.
	ErrRetrievalUnavailable = errors.New("retrieval index unavailable")

	// ErrProviderTimeout means a model provider call exceeded its deadline.
	ErrProviderTimeout = errors.New("model provider timeout")

	// ErrProviderError means a model provider call failed outright.
	ErrProviderError = errors.New("model provider error")

	// ErrBudgetExhausted means the per-review cost budget has been spent;
	// no further provider calls are issued.
	ErrBudgetExhausted = errors.New("cost budget exhausted")

	// ErrAnalysisInProgress means a second analysis was requested for a
	// review id whose current analysis has not reached a terminal state.
	ErrAnalysisInProgress = errors.New("analysis already in progress for review")

	// ErrReviewNotFound means no review with the given id is known.
	ErrReviewNotFound = errors.New("review not found")

	// ErrReviewTerminal means the review already reached completed/failed
	// and cannot transition further.
	ErrReviewTerminal = errors.New("review is in a terminal state")
)

// Failure cause codes attached to failed reviews.
const (
	CauseCancelled   = "cancelled"
	CauseTimeout     = "timeout"
	CauseAggregation = "aggregation_failed"
	CauseInternal    = "internal_error"
)
