// Package retriever turns a diff into a ranked set of relevant context
// chunks via the external similarity-search collaborator.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
	"github.com/XiaoConstantine/dspy-go/pkg/logging"

	"github.com/lemayian23/code-review-ai/internal/chunk"
	"github.com/lemayian23/code-review-ai/internal/types"
)

// Embedder generates vector embeddings for query text. Satisfied by any
// core.LLM with embedding capability.
type Embedder interface {
	CreateEmbedding(ctx context.Context, input string, opts ...core.EmbeddingOption) (*core.EmbeddingResult, error)
}

// Options bound retrieval behavior.
type Options struct {
	SimilarityThreshold float64
	Timeout             time.Duration
	MaxQueryChars       int
}

// Retriever queries the similarity index for context relevant to a diff.
type Retriever struct {
	embedder Embedder
	searcher types.SimilaritySearcher
	opts     Options
	logger   *logging.Logger
}

// New creates a retriever over the given embedder and search collaborator.
func New(embedder Embedder, searcher types.SimilaritySearcher, opts Options, logger *logging.Logger) *Retriever {
	if opts.MaxQueryChars <= 0 {
		opts.MaxQueryChars = 4000
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		opts:     opts,
		logger:   logger,
	}
}

// Retrieve returns up to k chunks relevant to the diff, ordered by
// descending relevance. The index is tried exactly once; on failure it
// returns types.ErrRetrievalUnavailable so the caller can degrade to an
// empty context set instead of aborting the analysis.
func (r *Retriever) Retrieve(ctx context.Context, ds *chunk.DiffSet, repository string, k int) ([]types.ContextChunk, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	query := r.buildQuery(ds)
	if query == "" {
		r.logger.Debug(ctx, "Diff produced no query content, skipping retrieval")
		return nil, nil
	}

	embedding, err := r.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		r.logger.Warn(ctx, "Query embedding failed: %v", err)
		return nil, fmt.Errorf("%w: %v", types.ErrRetrievalUnavailable, err)
	}

	chunks, err := r.searcher.Search(ctx, embedding.Vector, repository, k)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			r.logger.Warn(ctx, "Similarity search timed out for repository %s", repository)
		} else {
			r.logger.Warn(ctx, "Similarity search failed for repository %s: %v", repository, err)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrRetrievalUnavailable, err)
	}

	filtered := chunks[:0]
	for _, c := range chunks {
		if c.Score >= r.opts.SimilarityThreshold {
			filtered = append(filtered, c)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})
	if len(filtered) > k {
		filtered = filtered[:k]
	}

	r.logger.Debug(ctx, "Retrieved %d context chunks (threshold %.2f) for repository %s",
		len(filtered), r.opts.SimilarityThreshold, repository)
	return filtered, nil
}

// buildQuery concatenates the diff's logical blocks into one bounded query
// string, most significant blocks first.
func (r *Retriever) buildQuery(ds *chunk.DiffSet) string {
	blocks := ds.Blocks(chunk.DefaultMaxBlockLines)

	var b strings.Builder
	for _, blk := range blocks {
		if b.Len()+len(blk.Text) > r.opts.MaxQueryChars {
			break
		}
		b.WriteString(blk.FilePath)
		b.WriteString("\n")
		b.WriteString(blk.Text)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
