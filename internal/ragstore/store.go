// Package ragstore provides a sqlite-vec backed similarity store used as
// the retrieval index collaborator.
package ragstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	_ "github.com/mattn/go-sqlite3"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"

	"github.com/lemayian23/code-review-ai/internal/types"
)

// IndexedChunk is one embedded snippet stored in the index.
type IndexedChunk struct {
	ID         string
	Repository string
	FilePath   string
	StartLine  int
	EndLine    int
	Text       string
	Origin     types.ChunkOrigin
	Language   string
	Embedding  []float32
}

// Store is a sqlite-vec similarity store. It implements
// types.SimilaritySearcher.
type Store struct {
	db     *sql.DB
	log    *logging.Logger
	dims   int
	mu     sync.RWMutex
	closed bool
}

// Open creates (or opens) a store at the given path with the configured
// vector dimensions.
func Open(path string, dims int, logger *logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	s := &Store{db: db, log: logger, dims: dims}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS index_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		repository TEXT NOT NULL,
		file_path TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		text TEXT NOT NULL,
		origin TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Vector virtual table (REQUIRED for sqlite-vec).
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
		rowid INTEGER PRIMARY KEY,
		embedding float[%d] distance_metric=cosine,
		chunk_id TEXT PARTITION KEY
		)`, s.dims),

		`CREATE INDEX IF NOT EXISTS idx_chunks_repository ON chunks(repository)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to initialize index table: %w", err)
		}
	}

	if err := s.setMetadata("vector_dimensions", strconv.Itoa(s.dims)); err != nil {
		s.log.Warn(context.Background(), "Failed to store vector dimensions metadata: %v", err)
	}
	return nil
}

func (s *Store) setMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO index_metadata (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)`, key, value)
	return err
}

// StoreChunk saves one embedded chunk.
func (s *Store) StoreChunk(ctx context.Context, c *IndexedChunk) error {
	return s.StoreChunks(ctx, []*IndexedChunk{c})
}

// StoreChunks saves multiple chunks in a single transaction.
func (s *Store) StoreChunks(ctx context.Context, chunks []*IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if len(c.Embedding) != s.dims {
			return fmt.Errorf("chunk %s: embedding has %d dimensions, index expects %d",
				c.ID, len(c.Embedding), s.dims)
		}

		meta, err := json.Marshal(map[string]string{"language": c.Language})
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunks (id, repository, file_path, start_line, end_line, text, origin, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Repository, c.FilePath, c.StartLine, c.EndLine, c.Text, string(c.Origin), string(meta))
		if err != nil {
			return fmt.Errorf("failed to store chunk %s: %w", c.ID, err)
		}

		blob, err := sqlite_vec.SerializeFloat32(c.Embedding)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO vec_chunks (embedding, chunk_id) VALUES (?, ?)`,
			blob, c.ID)
		if err != nil {
			return fmt.Errorf("failed to store embedding for chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Debug(ctx, "Stored %d chunks in similarity index", len(chunks))
	return nil
}

// Search returns the chunks most similar to the query embedding for a
// repository, ranked by descending similarity.
func (s *Store) Search(ctx context.Context, embedding []float32, repository string, k int) ([]types.ContextChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT c.file_path, c.start_line, c.end_line, c.text, c.origin, v.distance
	FROM vec_chunks v
	JOIN chunks c ON v.chunk_id = c.id
	WHERE v.embedding MATCH ?
	AND c.repository = ?
	AND k = ?
	ORDER BY distance ASC`, blob, repository, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar chunks: %w", err)
	}
	defer rows.Close()

	var results []types.ContextChunk
	for rows.Next() {
		var (
			cc       types.ContextChunk
			origin   string
			distance float64
		)
		if err := rows.Scan(&cc.FilePath, &cc.StartLine, &cc.EndLine, &cc.Text, &origin, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		cc.Origin = types.ChunkOrigin(origin)
		// Cosine distance is 0..2; fold into a 0..1 similarity score.
		cc.Score = 1 - distance/2
		if cc.Score < 0 {
			cc.Score = 0
		}
		results = append(results, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	s.log.Debug(ctx, "Similarity search returned %d chunks for repository %s", len(results), repository)
	return results, nil
}

// HasContent reports whether anything is indexed for the repository.
func (s *Store) HasContent(ctx context.Context, repository string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, fmt.Errorf("store is closed")
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE repository = ?`, repository).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count > 0, nil
}

// Close shuts the store down. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
