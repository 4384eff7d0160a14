// Package console renders review progress and results for interactive
// use, separate from structured logging.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"github.com/briandowns/spinner"
	"github.com/logrusorgru/aurora"
	"github.com/mattn/go-isatty"

	"github.com/lemayian23/code-review-ai/internal/types"
)

// Console writes user-facing output and implements types.EventSink so it
// can follow a review as it runs.
type Console struct {
	w       io.Writer
	logger  *logging.Logger
	spinner *spinner.Spinner
	color   bool

	mu sync.Mutex
}

// New creates a console bound to w, usually os.Stdout. Color and spinner
// animation are enabled only when w is a terminal.
func New(w io.Writer, logger *logging.Logger) *Console {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd())
	}

	var s *spinner.Spinner
	if color {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		if err := s.Color("cyan"); err != nil {
			logger.Warn(context.Background(), "Failed to set spinner color: %v", err)
		}
	}
	return &Console{
		w:       w,
		logger:  logger,
		spinner: s,
		color:   color,
	}
}

// Emit implements types.EventSink.
func (c *Console) Emit(_ context.Context, ev types.ReviewEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case types.EventProgress:
		c.progress(ev)
	case types.EventComplete:
		c.stopSpinner()
		c.printSuggestions(ev.Suggestions)
	case types.EventFailed:
		c.stopSpinner()
		msg := fmt.Sprintf("✖ Review failed (%s): %s", ev.Cause, ev.Message)
		if c.color {
			msg = aurora.Red(msg).String()
		}
		c.println(msg)
	}
}

func (c *Console) progress(ev types.ReviewEvent) {
	label := fmt.Sprintf(" [%s] %s", ev.Stage, ev.Message)
	if c.spinner != nil {
		c.spinner.Suffix = label
		if !c.spinner.Active() {
			c.spinner.Start()
		}
		return
	}
	c.println(strings.TrimSpace(label))
}

func (c *Console) stopSpinner() {
	if c.spinner != nil && c.spinner.Active() {
		c.spinner.Stop()
	}
}

// printSuggestions renders the final ranked list.
func (c *Console) printSuggestions(suggestions []types.Suggestion) {
	if len(suggestions) == 0 {
		msg := "✔ No issues found"
		if c.color {
			msg = aurora.Green(msg).String()
		}
		c.println(msg)
		return
	}

	header := fmt.Sprintf("✔ %d suggestion(s)", len(suggestions))
	if c.color {
		header = aurora.Green(header).String()
	}
	c.println(header)
	c.println("")

	for i, s := range suggestions {
		loc := fmt.Sprintf("%s:%d", s.FilePath, s.Line)
		sev := strings.ToUpper(string(s.Severity))
		if c.color {
			switch s.Severity {
			case types.SeverityCritical, types.SeverityHigh:
				sev = aurora.Red(sev).String()
			case types.SeverityMedium:
				sev = aurora.Yellow(sev).String()
			default:
				sev = aurora.Blue(sev).String()
			}
			loc = aurora.Bold(loc).String()
		}
		c.println(fmt.Sprintf("%2d. %s %s [%s] (%.0f%%)", i+1, sev, loc, s.Category, s.Confidence*100))
		c.println(fmt.Sprintf("    %s", s.Message))
		if s.Suggestion != "" {
			fix := "    Suggestion: " + s.Suggestion
			if c.color {
				fix = aurora.Faint(fix).String()
			}
			c.println(fix)
		}
		c.println(fmt.Sprintf("    id: %s", s.ID))
		c.println("")
	}
}

// PrintMetrics renders a learning metrics snapshot.
func (c *Console) PrintMetrics(m *types.LearningMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.println("Learning metrics")
	c.println(fmt.Sprintf("  feedback:     %d total, %d helpful (%.0f%%)",
		m.TotalFeedback, m.HelpfulFeedback, m.HelpfulRatio*100))
	c.println(fmt.Sprintf("  precision:    %.3f", m.Precision))
	c.println(fmt.Sprintf("  recall:       %.3f", m.Recall))
	c.println(fmt.Sprintf("  f1:           %.3f", m.F1Score))
	c.println(fmt.Sprintf("  calibration:  %.3f mean absolute error", m.CalibrationError))
	c.println(fmt.Sprintf("  velocity:     %+.3f", m.LearningVelocity))
	c.println(fmt.Sprintf("  generated at: %s", m.GeneratedAt.Format(time.RFC3339)))
}

// Printf writes formatted text outside of event handling.
func (c *Console) Printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *Console) println(s string) {
	fmt.Fprintln(c.w, s)
}
