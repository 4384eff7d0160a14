package ragstore

import (
	"context"
	"strings"
	"testing"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemayian23/code-review-ai/internal/types"
)

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) CreateEmbedding(_ context.Context, input string, _ ...core.EmbeddingOption) (*core.EmbeddingResult, error) {
	c.calls++
	return &core.EmbeddingResult{Vector: []float32{float32(len(input)), 1, 2}}, nil
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Severity: logging.ERROR,
		Outputs:  []logging.Output{logging.NewConsoleOutput(false)},
	})
}

func TestChunkFileWindows(t *testing.T) {
	emb := &countingEmbedder{}
	ix := NewIndexer(nil, emb, testLogger())

	var sb strings.Builder
	for i := 0; i < 120; i++ {
		sb.WriteString("line of code\n")
	}

	chunks, err := ix.chunkFile(context.Background(), "pkg/server.go", "acme/app", "go", sb.String())
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// Windows overlap: each new window starts before the previous ended.
	for i := 1; i < len(chunks); i++ {
		assert.Less(t, chunks[i].StartLine, chunks[i-1].EndLine)
	}
	first := chunks[0]
	assert.Equal(t, "acme/app", first.Repository)
	assert.Equal(t, "pkg/server.go", first.FilePath)
	assert.Equal(t, 1, first.StartLine)
	assert.Equal(t, types.ChunkFromCode, first.Origin)
	assert.Equal(t, "go", first.Language)
	assert.NotEmpty(t, first.Embedding)
	assert.Equal(t, len(chunks), emb.calls)
}

func TestChunkFileMarkdownIsDocOrigin(t *testing.T) {
	ix := NewIndexer(nil, &countingEmbedder{}, testLogger())
	chunks, err := ix.chunkFile(context.Background(), "README.md", "r", "markdown", "# Title\nsome docs\n")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkFromDoc, chunks[0].Origin)
}

func TestChunkFileEmptyContent(t *testing.T) {
	ix := NewIndexer(nil, &countingEmbedder{}, testLogger())
	chunks, err := ix.chunkFile(context.Background(), "a.go", "r", "go", "\n\n\n")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSkipDir(t *testing.T) {
	assert.True(t, skipDir(".git"))
	assert.True(t, skipDir("node_modules"))
	assert.True(t, skipDir("vendor"))
	assert.True(t, skipDir("_build"))
	assert.False(t, skipDir("internal"))
	assert.False(t, skipDir("cmd"))
}
