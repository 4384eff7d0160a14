package ragstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
	"github.com/XiaoConstantine/dspy-go/pkg/logging"

	"github.com/lemayian23/code-review-ai/internal/chunk"
	"github.com/lemayian23/code-review-ai/internal/types"
)

const (
	indexWindowLines  = 60
	indexOverlapLines = 10
	maxIndexFileBytes = 512 * 1024
)

// Embedder produces vectors for index content.
type Embedder interface {
	CreateEmbedding(ctx context.Context, input string, opts ...core.EmbeddingOption) (*core.EmbeddingResult, error)
}

// Indexer walks a repository tree and writes embedded source windows into
// the store, keyed by repository name.
type Indexer struct {
	store    *Store
	embedder Embedder
	logger   *logging.Logger
}

// NewIndexer creates an indexer over the given store and embedder.
func NewIndexer(store *Store, embedder Embedder, logger *logging.Logger) *Indexer {
	return &Indexer{store: store, embedder: embedder, logger: logger}
}

// IndexRepository embeds every recognized source file under root and
// stores the windows under repository. It returns the number of chunks
// written.
func (ix *Indexer) IndexRepository(ctx context.Context, root, repository string) (int, error) {
	var batch []*IndexedChunk

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		lang := chunk.DetectLanguage(path)
		if lang == "unknown" {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxIndexFileBytes {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			ix.logger.Warn(ctx, "Skipping unreadable file %s: %v", path, err)
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		chunks, err := ix.chunkFile(ctx, rel, repository, lang, string(data))
		if err != nil {
			return err
		}
		batch = append(batch, chunks...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	if len(batch) == 0 {
		return 0, nil
	}
	if err := ix.store.StoreChunks(ctx, batch); err != nil {
		return 0, err
	}
	ix.logger.Info(ctx, "Indexed %d chunks from %s into repository %s", len(batch), root, repository)
	return len(batch), nil
}

// chunkFile splits file content into overlapping line windows and embeds
// each one.
func (ix *Indexer) chunkFile(ctx context.Context, relPath, repository, lang, content string) ([]*IndexedChunk, error) {
	lines := strings.Split(content, "\n")
	var out []*IndexedChunk

	for start := 0; start < len(lines); start += indexWindowLines - indexOverlapLines {
		end := start + indexWindowLines
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if text == "" {
			if end == len(lines) {
				break
			}
			continue
		}

		embedding, err := ix.embedder.CreateEmbedding(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed %s window %d: %w", relPath, start, err)
		}
		origin := types.ChunkFromCode
		if lang == "markdown" {
			origin = types.ChunkFromDoc
		}
		out = append(out, &IndexedChunk{
			ID:         fmt.Sprintf("%s:%s:%d", repository, relPath, start),
			Repository: repository,
			FilePath:   relPath,
			StartLine:  start + 1,
			EndLine:    end,
			Text:       text,
			Origin:     origin,
			Language:   lang,
			Embedding:  embedding.Vector,
		})
		if end == len(lines) {
			break
		}
	}
	return out, nil
}

func skipDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", "dist", "build", ".idea", ".vscode":
		return true
	}
	return strings.HasPrefix(name, "_")
}
