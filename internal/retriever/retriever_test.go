package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemayian23/code-review-ai/internal/chunk"
	"github.com/lemayian23/code-review-ai/internal/types"
)

type stubEmbedder struct {
	vector []float32
	err    error
	inputs []string
}

func (s *stubEmbedder) CreateEmbedding(_ context.Context, input string, _ ...core.EmbeddingOption) (*core.EmbeddingResult, error) {
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return nil, s.err
	}
	return &core.EmbeddingResult{Vector: s.vector}, nil
}

type stubSearcher struct {
	chunks []types.ContextChunk
	err    error
	gotK   int
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, _ string, k int) ([]types.ContextChunk, error) {
	s.gotK = k
	return s.chunks, s.err
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Severity: logging.ERROR,
		Outputs:  []logging.Output{logging.NewConsoleOutput(false)},
	})
}

const retrieverDiff = `diff --git a/auth.go b/auth.go
--- a/auth.go
+++ b/auth.go
@@ -1,1 +1,3 @@
 package auth
+func checkToken(tok string) bool {
+	return tok != ""
`

func parsedDiff(t *testing.T) *chunk.DiffSet {
	t.Helper()
	ds, err := chunk.Parse(retrieverDiff)
	require.NoError(t, err)
	return ds
}

func TestRetrieveFiltersAndSorts(t *testing.T) {
	searcher := &stubSearcher{chunks: []types.ContextChunk{
		{FilePath: "low.go", Score: 0.4},
		{FilePath: "best.go", Score: 0.95},
		{FilePath: "good.go", Score: 0.8},
	}}
	r := New(&stubEmbedder{vector: []float32{1, 0}}, searcher, Options{
		SimilarityThreshold: 0.7,
		Timeout:             time.Second,
	}, testLogger())

	out, err := r.Retrieve(context.Background(), parsedDiff(t), "acme/app", 5)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "best.go", out[0].FilePath)
	assert.Equal(t, "good.go", out[1].FilePath)
	assert.Equal(t, 5, searcher.gotK)
}

func TestRetrieveCapsAtK(t *testing.T) {
	searcher := &stubSearcher{chunks: []types.ContextChunk{
		{FilePath: "a.go", Score: 0.9},
		{FilePath: "b.go", Score: 0.8},
		{FilePath: "c.go", Score: 0.75},
	}}
	r := New(&stubEmbedder{vector: []float32{1}}, searcher, Options{SimilarityThreshold: 0.5}, testLogger())

	out, err := r.Retrieve(context.Background(), parsedDiff(t), "repo", 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRetrieveEmbeddingFailureDegrades(t *testing.T) {
	r := New(&stubEmbedder{err: errors.New("no embedder")}, &stubSearcher{}, Options{}, testLogger())

	_, err := r.Retrieve(context.Background(), parsedDiff(t), "repo", 5)
	assert.ErrorIs(t, err, types.ErrRetrievalUnavailable)
}

func TestRetrieveSearchFailureDegrades(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("index offline")}
	r := New(&stubEmbedder{vector: []float32{1}}, searcher, Options{}, testLogger())

	_, err := r.Retrieve(context.Background(), parsedDiff(t), "repo", 5)
	assert.ErrorIs(t, err, types.ErrRetrievalUnavailable)
}

func TestRetrieveEmptyDiffSkipsSearch(t *testing.T) {
	ds, err := chunk.Parse("")
	require.NoError(t, err)

	emb := &stubEmbedder{vector: []float32{1}}
	out, rerr := New(emb, &stubSearcher{}, Options{}, testLogger()).
		Retrieve(context.Background(), ds, "repo", 5)
	require.NoError(t, rerr)
	assert.Empty(t, out)
	assert.Empty(t, emb.inputs)
}

func TestRetrieveQueryIncludesFilePath(t *testing.T) {
	emb := &stubEmbedder{vector: []float32{1}}
	_, err := New(emb, &stubSearcher{}, Options{}, testLogger()).
		Retrieve(context.Background(), parsedDiff(t), "repo", 5)
	require.NoError(t, err)
	require.Len(t, emb.inputs, 1)
	assert.Contains(t, emb.inputs[0], "auth.go")
	assert.Contains(t, emb.inputs[0], "checkToken")
}
