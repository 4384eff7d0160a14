package llm

import (
	"fmt"
	"sync"

	"github.com/lemayian23/code-review-ai/internal/types"
)

// Per-million-token rates in USD, by model family substring. Unknown
// models fall back to the deep-tier rate so the budget errs conservative.
var tokenRates = map[string]struct{ in, out float64 }{
	"gemini-2.0-flash": {in: 0.10, out: 0.40},
	"gemini":           {in: 0.15, out: 0.60},
	"claude-haiku":     {in: 0.80, out: 4.00},
	"claude-sonnet":    {in: 3.00, out: 15.00},
	"claude":           {in: 3.00, out: 15.00},
}

const defaultInRate, defaultOutRate = 3.00, 15.00

// EstimateCost converts token usage into dollars for a model id.
func EstimateCost(model string, inTokens, outTokens int) float64 {
	in, out := defaultInRate, defaultOutRate
	best := -1
	for prefix, r := range tokenRates {
		if len(prefix) > best && hasPrefixFold(model, prefix) {
			in, out = r.in, r.out
			best = len(prefix)
		}
	}
	return float64(inTokens)*in/1e6 + float64(outTokens)*out/1e6
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		a, b := s[i], prefix[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// Budget caps model spend for a single review. Charges are admitted
// atomically; once the limit would be exceeded, further calls fail with
// types.ErrBudgetExhausted.
type Budget struct {
	mu    sync.Mutex
	limit float64
	spent float64
}

// NewBudget creates a budget with the given dollar limit. A non-positive
// limit means unlimited.
func NewBudget(limit float64) *Budget {
	return &Budget{limit: limit}
}

// Charge records a cost if it fits within the remaining budget.
func (b *Budget) Charge(cost float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 && b.spent+cost > b.limit {
		return fmt.Errorf("%w: spent $%.4f of $%.4f, next call needs $%.4f",
			types.ErrBudgetExhausted, b.spent, b.limit, cost)
	}
	b.spent += cost
	return nil
}

// Spent returns the total charged so far.
func (b *Budget) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}

// Remaining returns the budget left, or -1 when unlimited.
func (b *Budget) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit <= 0 {
		return -1
	}
	r := b.limit - b.spent
	if r < 0 {
		r = 0
	}
	return r
}
