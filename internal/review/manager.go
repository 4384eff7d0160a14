// Package review coordinates the analysis lifecycle: state transitions,
// parallel rule and model evaluation, aggregation, event streaming, and
// persistence.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lemayian23/code-review-ai/internal/aggregate"
	"github.com/lemayian23/code-review-ai/internal/chunk"
	"github.com/lemayian23/code-review-ai/internal/llm"
	"github.com/lemayian23/code-review-ai/internal/rules"
	"github.com/lemayian23/code-review-ai/internal/types"
)

// Retriever fetches context relevant to a diff.
type Retriever interface {
	Retrieve(ctx context.Context, ds *chunk.DiffSet, repository string, k int) ([]types.ContextChunk, error)
}

// Analyzer runs the tiered model analysis.
type Analyzer interface {
	Analyze(ctx context.Context, diff, contextText string, budget *llm.Budget) ([]types.Finding, error)
}

// Options bound review execution.
type Options struct {
	RetrievalTopK int
	Deadline      time.Duration
	BudgetUSD     float64
}

// Request describes one analysis submission. ID is optional; when set,
// resubmitting the same id while a run is active is rejected.
type Request struct {
	ID         string
	Repository string
	Diff       string
}

type reviewState struct {
	mu     sync.Mutex
	review types.Review
	log    *eventLog
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns all review state. A review moves pending, retrieving,
// analyzing, aggregating, and then completed; failed is reachable from
// every non-terminal state and both terminal states are immutable.
type Manager struct {
	retriever  Retriever
	engine     *rules.Engine
	analyzer   Analyzer
	aggregator *aggregate.Aggregator
	store      types.PersistenceStore
	sink       types.EventSink
	opts       Options
	logger     *logging.Logger

	mu      sync.Mutex
	reviews map[string]*reviewState
	active  map[string]bool
}

// NewManager wires the pipeline stages together. store and sinks may be
// nil when persistence or streaming is not configured.
func NewManager(retriever Retriever, engine *rules.Engine, analyzer Analyzer, aggregator *aggregate.Aggregator,
	store types.PersistenceStore, opts Options, logger *logging.Logger, sinks ...types.EventSink) *Manager {
	if opts.RetrievalTopK <= 0 {
		opts.RetrievalTopK = 10
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 5 * time.Minute
	}
	return &Manager{
		retriever:  retriever,
		engine:     engine,
		analyzer:   analyzer,
		aggregator: aggregator,
		store:      store,
		sink:       multiSink(sinks),
		opts:       opts,
		logger:     logger,
		reviews:    make(map[string]*reviewState),
		active:     make(map[string]bool),
	}
}

// Submit registers a review and starts its analysis in the background.
// It returns immediately with the pending review; progress arrives
// through the event sinks. Submitting an id that already has an active
// run fails with types.ErrAnalysisInProgress.
func (m *Manager) Submit(ctx context.Context, req Request) (*types.Review, error) {
	if strings.TrimSpace(req.Diff) == "" {
		return nil, fmt.Errorf("diff must not be empty")
	}
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	ds, err := chunk.Parse(req.Diff)
	var paths []string
	if err != nil {
		m.logger.Warn(ctx, "Diff for review %s did not parse as git diff, using raw line scan: %v", id, err)
		ds = nil
	} else {
		paths = ds.FilePaths()
	}

	st := &reviewState{
		review: types.Review{
			ID:         id,
			Repository: req.Repository,
			Diff:       req.Diff,
			FilePaths:  paths,
			Status:     types.StatusPending,
			CreatedAt:  time.Now(),
		},
		log:  &eventLog{},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	if m.active[id] {
		m.mu.Unlock()
		return nil, fmt.Errorf("review %s: %w", id, types.ErrAnalysisInProgress)
	}
	m.active[id] = true
	m.reviews[id] = st
	m.mu.Unlock()

	runCtx, cancel := context.WithTimeout(context.Background(), m.opts.Deadline)
	st.cancel = cancel

	go m.run(runCtx, st, ds)

	r := st.snapshot()
	return &r, nil
}

// Get returns a snapshot of a review.
func (m *Manager) Get(id string) (*types.Review, error) {
	m.mu.Lock()
	st, ok := m.reviews[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("review %s: %w", id, types.ErrReviewNotFound)
	}
	r := st.snapshot()
	return &r, nil
}

// Events returns the ordered event history recorded so far for a review.
func (m *Manager) Events(id string) ([]types.ReviewEvent, error) {
	m.mu.Lock()
	st, ok := m.reviews[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("review %s: %w", id, types.ErrReviewNotFound)
	}
	return st.log.history(), nil
}

// Cancel aborts an active review. Cancelling a terminal review is an
// error because terminal states are immutable.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	st, ok := m.reviews[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("review %s: %w", id, types.ErrReviewNotFound)
	}

	st.mu.Lock()
	terminal := st.review.Status.Terminal()
	cancel := st.cancel
	st.mu.Unlock()
	if terminal {
		return fmt.Errorf("review %s: %w", id, types.ErrReviewTerminal)
	}
	cancel()
	return nil
}

// Regenerate re-analyzes a finished review under the same id. The review
// re-enters pending, prior suggestions are discarded, and feedback
// recorded against them stays in the store. A review that is still
// running cannot be regenerated.
func (m *Manager) Regenerate(ctx context.Context, id string) (*types.Review, error) {
	m.mu.Lock()
	st, ok := m.reviews[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("review %s: %w", id, types.ErrReviewNotFound)
	}
	if m.active[id] {
		m.mu.Unlock()
		return nil, fmt.Errorf("review %s: %w", id, types.ErrAnalysisInProgress)
	}
	m.active[id] = true
	m.mu.Unlock()

	st.mu.Lock()
	if !st.review.Status.Terminal() {
		st.mu.Unlock()
		m.mu.Lock()
		delete(m.active, id)
		m.mu.Unlock()
		return nil, fmt.Errorf("review %s: %w", id, types.ErrAnalysisInProgress)
	}
	st.review.Status = types.StatusPending
	st.review.Suggestions = nil
	st.review.FailureCause = ""
	st.review.FailureMsg = ""
	st.review.Duration = 0
	st.review.CostEstimate = 0
	diff := st.review.Diff
	st.done = make(chan struct{})
	st.mu.Unlock()

	st.log.reopen()

	ds, err := chunk.Parse(diff)
	if err != nil {
		m.logger.Warn(ctx, "Diff for review %s did not parse as git diff, using raw line scan: %v", id, err)
		ds = nil
	}

	runCtx, cancel := context.WithTimeout(context.Background(), m.opts.Deadline)
	st.mu.Lock()
	st.cancel = cancel
	st.mu.Unlock()

	go m.run(runCtx, st, ds)

	r := st.snapshot()
	return &r, nil
}

// Wait blocks until a review reaches a terminal state or ctx expires.
func (m *Manager) Wait(ctx context.Context, id string) (*types.Review, error) {
	m.mu.Lock()
	st, ok := m.reviews[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("review %s: %w", id, types.ErrReviewNotFound)
	}

	st.mu.Lock()
	done := st.done
	st.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r := st.snapshot()
	return &r, nil
}

// run drives one review through the pipeline. It is the only writer of
// the review's status after submission.
func (m *Manager) run(ctx context.Context, st *reviewState, ds *chunk.DiffSet) {
	st.mu.Lock()
	done, cancel := st.done, st.cancel
	st.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.active, st.review.ID)
		m.mu.Unlock()
		close(done)
	}()

	start := time.Now()
	id := st.review.ID

	m.transition(ctx, st, types.StatusRetrieving, "retrieving repository context")
	contextText := m.retrieve(ctx, st, ds)
	if ctx.Err() != nil {
		m.fail(ctx, st, ctx.Err(), start)
		return
	}

	m.transition(ctx, st, types.StatusAnalyzing, "running pattern and model analysis")

	budget := llm.NewBudget(m.opts.BudgetUSD)
	var ruleFindings, modelFindings []types.Finding

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ruleFindings = m.engine.Evaluate(gctx, addedLines(st.review.Diff, ds))
		return nil
	})
	g.Go(func() error {
		fs, err := m.analyzer.Analyze(gctx, st.review.Diff, contextText, budget)
		if err != nil {
			return err
		}
		modelFindings = fs
		return nil
	})
	if err := g.Wait(); err != nil {
		m.fail(ctx, st, err, start)
		return
	}
	if ctx.Err() != nil {
		m.fail(ctx, st, ctx.Err(), start)
		return
	}

	m.emitProgress(ctx, st, "analyzing",
		fmt.Sprintf("%d rule findings, %d model findings", len(ruleFindings), len(modelFindings)))

	m.transition(ctx, st, types.StatusAggregating, "merging findings")
	suggestions := m.aggregator.Aggregate(append(ruleFindings, modelFindings...))
	for i := range suggestions {
		suggestions[i].ReviewID = id
	}

	st.mu.Lock()
	st.review.Suggestions = suggestions
	st.review.Status = types.StatusCompleted
	st.review.Duration = time.Since(start)
	st.review.CostEstimate = budget.Spent()
	snapshot := st.review
	st.mu.Unlock()

	m.persist(ctx, &snapshot)

	if ev, ok := st.log.append(id, types.EventComplete, "completed", "analysis complete", suggestions, ""); ok {
		m.sink.Emit(ctx, ev)
	}
	m.logger.Info(ctx, "Review %s completed with %d suggestions in %s ($%.4f)",
		id, len(suggestions), snapshot.Duration.Round(time.Millisecond), snapshot.CostEstimate)
}

// retrieve fetches context for the diff, degrading to an empty context
// set when the similarity index is unavailable.
func (m *Manager) retrieve(ctx context.Context, st *reviewState, ds *chunk.DiffSet) string {
	if ds == nil || m.retriever == nil {
		return ""
	}
	chunks, err := m.retriever.Retrieve(ctx, ds, st.review.Repository, m.opts.RetrievalTopK)
	if err != nil {
		if errors.Is(err, types.ErrRetrievalUnavailable) {
			m.logger.Warn(ctx, "Context retrieval unavailable for review %s, continuing without context", st.review.ID)
			m.emitProgress(ctx, st, "retrieving", "context index unavailable, analyzing without context")
			return ""
		}
		m.logger.Warn(ctx, "Context retrieval failed for review %s: %v", st.review.ID, err)
		return ""
	}
	m.emitProgress(ctx, st, "retrieving", fmt.Sprintf("retrieved %d context chunks", len(chunks)))

	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "%s:%d-%d\n%s\n\n", c.FilePath, c.StartLine, c.EndLine, c.Text)
	}
	return b.String()
}

func (m *Manager) transition(ctx context.Context, st *reviewState, to types.ReviewStatus, msg string) {
	st.mu.Lock()
	st.review.Status = to
	st.mu.Unlock()
	m.emitProgress(ctx, st, string(to), msg)
}

func (m *Manager) emitProgress(ctx context.Context, st *reviewState, stage, msg string) {
	if ev, ok := st.log.append(st.review.ID, types.EventProgress, stage, msg, nil, ""); ok {
		m.sink.Emit(ctx, ev)
	}
}

// fail moves the review to the failed state with a classified cause and
// emits the terminal event exactly once.
func (m *Manager) fail(ctx context.Context, st *reviewState, err error, start time.Time) {
	cause := classify(err)

	st.mu.Lock()
	if st.review.Status.Terminal() {
		st.mu.Unlock()
		return
	}
	st.review.Status = types.StatusFailed
	st.review.FailureCause = cause
	st.review.FailureMsg = err.Error()
	st.review.Duration = time.Since(start)
	snapshot := st.review
	st.mu.Unlock()

	m.persist(ctx, &snapshot)

	if ev, ok := st.log.append(st.review.ID, types.EventFailed, "failed", err.Error(), nil, cause); ok {
		m.sink.Emit(ctx, ev)
	}
	m.logger.Error(ctx, "Review %s failed (%s): %v", st.review.ID, cause, err)
}

func (m *Manager) persist(ctx context.Context, r *types.Review) {
	if m.store == nil {
		return
	}
	// Persistence runs outside the review deadline so a timeout still
	// leaves a durable record.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := m.store.SaveReview(saveCtx, r); err != nil {
		m.logger.Error(saveCtx, "Failed to persist review %s: %v", r.ID, err)
		return
	}
	if len(r.Suggestions) > 0 {
		if err := m.store.SaveSuggestions(saveCtx, r.ID, r.Suggestions); err != nil {
			m.logger.Error(saveCtx, "Failed to persist suggestions for review %s: %v", r.ID, err)
		}
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return types.CauseCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, types.ErrProviderTimeout):
		return types.CauseTimeout
	default:
		return types.CauseInternal
	}
}

// addedLines extracts the added lines for the rule engine, falling back
// to a raw scan when the diff did not parse.
func addedLines(raw string, ds *chunk.DiffSet) []chunk.AddedLine {
	if ds != nil {
		return ds.AddedLines()
	}
	return chunk.FallbackAddedLines(raw)
}

func (st *reviewState) snapshot() types.Review {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.review
}
