// Package types contains all shared types used across the code-review-ai
// codebase. This package has NO internal dependencies and serves as the
// foundation for breaking circular dependencies between other packages.
package types

import (
	"context"
	"time"
)

// =============================================================================
// Review Lifecycle Types
// =============================================================================

// ReviewStatus represents the lifecycle state of an analysis request.
type ReviewStatus string

const (
	StatusPending     ReviewStatus = "pending"
	StatusRetrieving  ReviewStatus = "retrieving"
	StatusAnalyzing   ReviewStatus = "analyzing"
	StatusAggregating ReviewStatus = "aggregating"
	StatusCompleted   ReviewStatus = "completed"
	StatusFailed      ReviewStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s ReviewStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Review identifies one analysis request end-to-end. It is owned by the
// review manager and mutated only through state transitions.
type Review struct {
	ID           string
	Repository   string
	Diff         string
	FilePaths    []string
	Status       ReviewStatus
	FailureCause string
	FailureMsg   string
	Suggestions  []Suggestion
	CreatedAt    time.Time
	Duration     time.Duration
	CostEstimate float64
}

// =============================================================================
// Context Retrieval Types
// =============================================================================

// ChunkOrigin indicates where a retrieved chunk came from.
type ChunkOrigin string

const (
	ChunkFromCode    ChunkOrigin = "code"
	ChunkFromDoc     ChunkOrigin = "doc"
	ChunkFromHistory ChunkOrigin = "history"
)

// ContextChunk is a retrieved snippet relevant to the diff under analysis.
// Immutable once retrieved; scoped to a single review.
type ContextChunk struct {
	FilePath  string
	StartLine int
	EndLine   int
	Text      string
	Score     float64 // similarity, 0..1
	Origin    ChunkOrigin
}

// =============================================================================
// Finding & Suggestion Types
// =============================================================================

// Severity levels for findings and suggestions.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns a sortable rank for the severity, higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// FindingOrigin identifies which analysis source produced a finding.
type FindingOrigin string

const (
	FindingFromRule  FindingOrigin = "rule"
	FindingFromModel FindingOrigin = "model"
)

// Finding is a raw candidate issue from a single source, before aggregation.
type Finding struct {
	ID         string
	Origin     FindingOrigin
	Category   string
	Severity   Severity
	FilePath   string
	Line       int
	Message    string
	Suggestion string
	Confidence float64 // raw, 0..1
	PatternID  string  // set when Origin == FindingFromRule
	ModelID    string  // set when Origin == FindingFromModel
}

// Suggestion is a finalized, deduplicated, confidence-scored issue shown to
// the user. Immutable once attached to a review.
type Suggestion struct {
	ID         string
	ReviewID   string
	Category   string
	Severity   Severity
	FilePath   string
	Line       int
	Message    string
	Suggestion string
	Confidence float64 // calibrated, 0..1

	// Provenance for downstream feedback attribution.
	FindingIDs []string
	PatternIDs []string
	ModelIDs   []string
}

// =============================================================================
// Pattern & Feedback Types
// =============================================================================

// Pattern is a named deterministic detection rule with a learned confidence
// weight. Created from configuration; the feedback-adjusted factor lives in
// the shared weight table, not here.
type Pattern struct {
	ID         string
	Name       string
	Expr       string // regular expression applied to added diff lines
	Message    string
	Suggestion string
	Category   string
	Severity   Severity
	BaseWeight float64
	Active     bool
}

// Feedback is a human judgment on one suggestion. Immutable once created.
type Feedback struct {
	ID           string
	SuggestionID string
	Helpful      bool
	Correction   string
	Category     string
	CreatedAt    time.Time
}

// =============================================================================
// Learning Types
// =============================================================================

// LearningMetrics is the aggregate, periodically recomputed snapshot of how
// well the system is learning from feedback.
type LearningMetrics struct {
	TotalFeedback    int
	HelpfulFeedback  int
	HelpfulRatio     float64
	Precision        float64
	Recall           float64
	F1Score          float64
	CalibrationError float64 // mean absolute error per confidence bucket
	LearningVelocity float64 // recent helpful-rate delta
	GeneratedAt      time.Time
}

// =============================================================================
// Event Types
// =============================================================================

// EventType classifies a review progress event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventFailed   EventType = "failed"
)

// ReviewEvent is one entry in the ordered event log of a review. Progress
// events may be delivered more than once; complete/failed are emitted exactly
// once per terminal state.
type ReviewEvent struct {
	ReviewID    string
	Seq         int
	Type        EventType
	Stage       string
	Message     string
	Suggestions []Suggestion // populated on EventComplete
	Cause       string       // populated on EventFailed
	Timestamp   time.Time
}

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// SimilaritySearcher is the external similarity-search collaborator. Search
// returns chunks ranked by descending similarity; failure is reported as an
// error, the caller decides whether to degrade.
type SimilaritySearcher interface {
	Search(ctx context.Context, embedding []float32, repository string, k int) ([]ContextChunk, error)
}

// EventSink receives ordered progress/complete events keyed by review id.
type EventSink interface {
	Emit(ctx context.Context, event ReviewEvent)
}

// PersistenceStore receives finalized review/suggestion/feedback records for
// durable storage. Writes are durable once acknowledged.
type PersistenceStore interface {
	SaveReview(ctx context.Context, review *Review) error
	SaveSuggestions(ctx context.Context, reviewID string, suggestions []Suggestion) error
	GetSuggestion(ctx context.Context, id string) (*Suggestion, error)
	SaveFeedback(ctx context.Context, fb Feedback) error
	ListFeedback(ctx context.Context) ([]Feedback, error)
	SaveMetrics(ctx context.Context, m LearningMetrics) error
	Close() error
}

// GoldenSet is the held-out known-issue collaborator used to approximate
// recall. Implementations may be backed by an evaluation dataset.
type GoldenSet interface {
	KnownIssueRecall(ctx context.Context) (float64, error)
}
