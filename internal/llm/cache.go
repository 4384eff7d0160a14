// Package llm coordinates the tiered model calls of the analysis
// pipeline: a cheap triage pass, a deep analysis pass, response caching,
// and per-review cost accounting.
package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lemayian23/code-review-ai/internal/types"
)

// PromptVersion participates in the cache key so that prompt changes
// invalidate prior entries.
const PromptVersion = "v3"

// Fingerprint derives the cache key for a model call. Whitespace-only
// differences in the diff or context do not change the key.
func Fingerprint(tier Tier, diff, contextText string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|", tier, PromptVersion)
	h.Write([]byte(normalize(diff)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(contextText)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

type cacheEntry struct {
	findings []types.Finding
	cost     float64
	expires  time.Time
}

// Cache is an in-memory TTL cache of model responses. Hits return the
// cached findings along with a zero incremental cost; the cost an entry
// carried when stored accumulates into the saved-spend counter.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration

	hits   uint64
	misses uint64
	saved  float64
}

// NewCache creates a response cache with the given entry lifetime.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached findings for a fingerprint, if present and not
// expired.
func (c *Cache) Get(key string) ([]types.Finding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		return nil, false
	}
	c.hits++
	c.saved += e.cost
	out := make([]types.Finding, len(e.findings))
	copy(out, e.findings)
	return out, true
}

// Put stores findings under a fingerprint for the cache lifetime. cost
// is the spend the call incurred; later hits count it as avoided spend.
func (c *Cache) Put(key string, findings []types.Finding, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]types.Finding, len(findings))
	copy(stored, findings)
	c.entries[key] = cacheEntry{
		findings: stored,
		cost:     cost,
		expires:  time.Now().Add(c.ttl),
	}
}

// Stats reports hit and miss counts plus the hit rate since creation.
func (c *Cache) Stats() (hits, misses uint64, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return c.hits, c.misses, rate
}

// Saved reports the total estimated spend avoided by cache hits.
func (c *Cache) Saved() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved
}

// Prune drops expired entries and returns how many were removed.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
