package review

import (
	"context"
	"sync"
	"time"

	"github.com/lemayian23/code-review-ai/internal/types"
)

// eventLog keeps the ordered event history for one review and fans each
// event out to the configured sinks. Sequence numbers are assigned here
// so every consumer observes the same order.
type eventLog struct {
	mu     sync.Mutex
	events []types.ReviewEvent
	seq    int
	closed bool
}

// append stamps and records an event, returning it for fanout. Events
// after the terminal event are dropped.
func (l *eventLog) append(reviewID string, typ types.EventType, stage, message string, suggestions []types.Suggestion, cause string) (types.ReviewEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return types.ReviewEvent{}, false
	}
	l.seq++
	ev := types.ReviewEvent{
		ReviewID:    reviewID,
		Seq:         l.seq,
		Type:        typ,
		Stage:       stage,
		Message:     message,
		Suggestions: suggestions,
		Cause:       cause,
		Timestamp:   time.Now(),
	}
	l.events = append(l.events, ev)
	if typ == types.EventComplete || typ == types.EventFailed {
		l.closed = true
	}
	return ev, true
}

// reopen admits a new run after a terminal event. Sequence numbers
// continue so consumers still observe a single total order per review.
func (l *eventLog) reopen() {
	l.mu.Lock()
	l.closed = false
	l.mu.Unlock()
}

// history returns a copy of the recorded events.
func (l *eventLog) history() []types.ReviewEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.ReviewEvent, len(l.events))
	copy(out, l.events)
	return out
}

// multiSink fans one event out to several sinks.
type multiSink []types.EventSink

func (m multiSink) Emit(ctx context.Context, ev types.ReviewEvent) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}
