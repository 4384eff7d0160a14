// Package learning turns human feedback into adjusted pattern weights and
// periodic quality metrics.
package learning

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"github.com/google/uuid"

	"github.com/lemayian23/code-review-ai/internal/rules"
	"github.com/lemayian23/code-review-ai/internal/types"
)

const calibrationBuckets = 10

// FeedbackStore is the persistence surface the learner needs.
type FeedbackStore interface {
	GetSuggestion(ctx context.Context, id string) (*types.Suggestion, error)
	SaveFeedback(ctx context.Context, fb types.Feedback) error
	ListFeedback(ctx context.Context) ([]types.Feedback, error)
	SaveMetrics(ctx context.Context, m types.LearningMetrics) error
	SaveWeight(ctx context.Context, patternID string, factor float64) error
}

// Learner consumes feedback, nudges pattern weights, and computes metric
// snapshots. Feedback is applied asynchronously; Submit returns as soon
// as the record is durable.
type Learner struct {
	store   FeedbackStore
	weights *rules.WeightTable
	golden  types.GoldenSet
	logger  *logging.Logger

	queue chan types.Feedback
	wg    sync.WaitGroup

	mu   sync.Mutex
	seen map[string]bool
	done bool
}

// New creates a learner and starts its background worker. golden may be
// nil when no held-out issue set is configured.
func New(store FeedbackStore, weights *rules.WeightTable, golden types.GoldenSet, logger *logging.Logger) *Learner {
	l := &Learner{
		store:   store,
		weights: weights,
		golden:  golden,
		logger:  logger,
		queue:   make(chan types.Feedback, 256),
		seen:    make(map[string]bool),
	}
	l.wg.Add(1)
	go l.worker()
	return l
}

// Submit records feedback for a suggestion. The suggestion must exist;
// the weight adjustment happens in the background after the record is
// stored. Duplicate feedback ids are ignored.
func (l *Learner) Submit(ctx context.Context, fb types.Feedback) error {
	if fb.SuggestionID == "" {
		return fmt.Errorf("feedback requires a suggestion id")
	}
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}

	sg, err := l.store.GetSuggestion(ctx, fb.SuggestionID)
	if err != nil {
		return fmt.Errorf("cannot accept feedback: %w", err)
	}
	if fb.Category == "" {
		fb.Category = sg.Category
	}

	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return fmt.Errorf("learner is shut down")
	}
	if l.seen[fb.ID] {
		l.mu.Unlock()
		return nil
	}
	l.seen[fb.ID] = true
	l.mu.Unlock()

	if err := l.store.SaveFeedback(ctx, fb); err != nil {
		return err
	}

	// The enqueue happens under the mutex so Close cannot shut the
	// channel between the done check and the send.
	l.mu.Lock()
	enqueued := false
	if !l.done {
		select {
		case l.queue <- fb:
			enqueued = true
		default:
		}
	}
	l.mu.Unlock()

	if !enqueued {
		// Queue full or learner shut down after the record was stored;
		// apply inline rather than drop the signal.
		l.apply(ctx, fb)
	}
	return nil
}

func (l *Learner) worker() {
	defer l.wg.Done()
	ctx := context.Background()
	for fb := range l.queue {
		l.apply(ctx, fb)
	}
}

// apply nudges every pattern that contributed to the suggestion: helpful
// feedback moves its factor toward 1.0, a dismissal moves it toward the
// floor.
func (l *Learner) apply(ctx context.Context, fb types.Feedback) {
	sg, err := l.store.GetSuggestion(ctx, fb.SuggestionID)
	if err != nil {
		l.logger.Warn(ctx, "Skipping weight update, suggestion %s unavailable: %v", fb.SuggestionID, err)
		return
	}
	for _, pid := range sg.PatternIDs {
		var factor float64
		if fb.Helpful {
			factor = l.weights.Reinforce(pid)
		} else {
			factor = l.weights.Penalize(pid)
		}
		if err := l.store.SaveWeight(ctx, pid, factor); err != nil {
			l.logger.Warn(ctx, "Failed to persist weight for %s: %v", pid, err)
		}
	}
	l.logger.Debug(ctx, "Applied feedback %s (helpful=%v) across %d patterns", fb.ID, fb.Helpful, len(sg.PatternIDs))
}

// Rebuild replays the entire feedback log through the weight table in
// chronological order. Running it twice from the same log produces the
// same factors.
func (l *Learner) Rebuild(ctx context.Context) error {
	history, err := l.store.ListFeedback(ctx)
	if err != nil {
		return err
	}
	for _, fb := range history {
		l.apply(ctx, fb)
		l.mu.Lock()
		l.seen[fb.ID] = true
		l.mu.Unlock()
	}
	l.logger.Info(ctx, "Replayed %d feedback records into pattern weights", len(history))
	return nil
}

// ComputeMetrics recomputes the quality snapshot from the full feedback
// log and persists it. The computation is a pure function of the log, so
// replaying it yields identical numbers.
func (l *Learner) ComputeMetrics(ctx context.Context) (*types.LearningMetrics, error) {
	history, err := l.store.ListFeedback(ctx)
	if err != nil {
		return nil, err
	}

	m := &types.LearningMetrics{GeneratedAt: time.Now()}
	m.TotalFeedback = len(history)
	for _, fb := range history {
		if fb.Helpful {
			m.HelpfulFeedback++
		}
	}
	if m.TotalFeedback > 0 {
		m.HelpfulRatio = float64(m.HelpfulFeedback) / float64(m.TotalFeedback)
	}

	// Precision: fraction of surfaced suggestions judged helpful.
	m.Precision = m.HelpfulRatio

	// Recall comes from the held-out known-issue set when available.
	if l.golden != nil {
		recall, err := l.golden.KnownIssueRecall(ctx)
		if err != nil {
			l.logger.Warn(ctx, "Known-issue recall unavailable: %v", err)
		} else {
			m.Recall = recall
		}
	}
	if m.Precision+m.Recall > 0 {
		m.F1Score = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}

	m.CalibrationError = l.calibrationError(ctx, history)
	m.LearningVelocity = velocity(history)

	if err := l.store.SaveMetrics(ctx, *m); err != nil {
		return nil, err
	}
	return m, nil
}

// calibrationError buckets feedback by the confidence of the judged
// suggestion (ten equal-width buckets) and averages the absolute gap
// between each bucket's mean confidence and its observed helpful rate.
// Empty buckets are skipped.
func (l *Learner) calibrationError(ctx context.Context, history []types.Feedback) float64 {
	type bucket struct {
		sumConf float64
		helpful int
		total   int
	}
	var buckets [calibrationBuckets]bucket

	for _, fb := range history {
		sg, err := l.store.GetSuggestion(ctx, fb.SuggestionID)
		if err != nil {
			continue
		}
		idx := int(sg.Confidence * calibrationBuckets)
		if idx >= calibrationBuckets {
			idx = calibrationBuckets - 1
		}
		if idx < 0 {
			idx = 0
		}
		buckets[idx].sumConf += sg.Confidence
		buckets[idx].total++
		if fb.Helpful {
			buckets[idx].helpful++
		}
	}

	sum, n := 0.0, 0
	for _, b := range buckets {
		if b.total == 0 {
			continue
		}
		meanConf := b.sumConf / float64(b.total)
		rate := float64(b.helpful) / float64(b.total)
		sum += math.Abs(meanConf - rate)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// velocity is the helpful rate over the most recent ten records minus the
// rate over the ten before that. Positive means the system is improving.
func velocity(history []types.Feedback) float64 {
	n := len(history)
	if n < 2 {
		return 0
	}
	recent := history[max(0, n-10):]
	prior := history[max(0, n-20):max(0, n-10)]
	if len(prior) == 0 {
		return 0
	}
	return helpfulRate(recent) - helpfulRate(prior)
}

func helpfulRate(fbs []types.Feedback) float64 {
	if len(fbs) == 0 {
		return 0
	}
	h := 0
	for _, fb := range fbs {
		if fb.Helpful {
			h++
		}
	}
	return float64(h) / float64(len(fbs))
}

// Close stops the background worker after draining queued feedback.
func (l *Learner) Close() {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return
	}
	l.done = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
}
