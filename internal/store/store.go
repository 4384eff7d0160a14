// Package store persists reviews, suggestions, feedback, pattern weights
// and metric snapshots in a local sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lemayian23/code-review-ai/internal/types"
)

// SQLite persists review artifacts durably. It implements
// types.PersistenceStore. All methods are safe for concurrent use.
type SQLite struct {
	db     *sql.DB
	log    *logging.Logger
	mu     sync.Mutex
	closed bool
}

// Open creates or opens the database at path and applies the schema.
func Open(path string, logger *logging.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &SQLite{db: db, log: logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		repository TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_cause TEXT,
		failure_msg TEXT,
		file_paths TEXT NOT NULL,
		cost_estimate REAL NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS suggestions (
		id TEXT PRIMARY KEY,
		review_id TEXT NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		file_path TEXT NOT NULL,
		line INTEGER NOT NULL,
		message TEXT NOT NULL,
		suggestion TEXT,
		confidence REAL NOT NULL,
		provenance TEXT NOT NULL,
		FOREIGN KEY (review_id) REFERENCES reviews(id)
	);
	CREATE INDEX IF NOT EXISTS idx_suggestions_review ON suggestions(review_id);
	CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		suggestion_id TEXT NOT NULL,
		helpful INTEGER NOT NULL,
		correction TEXT,
		category TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS pattern_weights (
		pattern_id TEXT PRIMARY KEY,
		factor REAL NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS metric_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		total_feedback INTEGER NOT NULL,
		helpful_feedback INTEGER NOT NULL,
		helpful_ratio REAL NOT NULL,
		precision_score REAL NOT NULL,
		recall_score REAL NOT NULL,
		f1_score REAL NOT NULL,
		calibration_error REAL NOT NULL,
		learning_velocity REAL NOT NULL,
		generated_at TIMESTAMP NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveReview upserts a review record.
func (s *SQLite) SaveReview(ctx context.Context, r *types.Review) error {
	paths, err := json.Marshal(r.FilePaths)
	if err != nil {
		return fmt.Errorf("failed to encode file paths: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, repository, status, failure_cause, failure_msg, file_paths, cost_estimate, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			failure_cause = excluded.failure_cause,
			failure_msg = excluded.failure_msg,
			cost_estimate = excluded.cost_estimate,
			duration_ms = excluded.duration_ms`,
		r.ID, r.Repository, string(r.Status), r.FailureCause, r.FailureMsg,
		string(paths), r.CostEstimate, r.Duration.Milliseconds(), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save review %s: %w", r.ID, err)
	}
	return nil
}

// SaveSuggestions stores a review's finalized suggestions in one
// transaction.
func (s *SQLite) SaveSuggestions(ctx context.Context, reviewID string, suggestions []types.Suggestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO suggestions
		(id, review_id, category, severity, file_path, line, message, suggestion, confidence, provenance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sg := range suggestions {
		prov, err := json.Marshal(map[string][]string{
			"findings": sg.FindingIDs,
			"patterns": sg.PatternIDs,
			"models":   sg.ModelIDs,
		})
		if err != nil {
			return fmt.Errorf("failed to encode provenance: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, sg.ID, reviewID, sg.Category, string(sg.Severity),
			sg.FilePath, sg.Line, sg.Message, sg.Suggestion, sg.Confidence, string(prov)); err != nil {
			return fmt.Errorf("failed to save suggestion %s: %w", sg.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit suggestions: %w", err)
	}
	return nil
}

// GetSuggestion loads one suggestion by id.
func (s *SQLite) GetSuggestion(ctx context.Context, id string) (*types.Suggestion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, review_id, category, severity, file_path, line, message, suggestion, confidence, provenance
		FROM suggestions WHERE id = ?`, id)

	var sg types.Suggestion
	var severity, provenance string
	err := row.Scan(&sg.ID, &sg.ReviewID, &sg.Category, &severity, &sg.FilePath,
		&sg.Line, &sg.Message, &sg.Suggestion, &sg.Confidence, &provenance)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("suggestion %s: %w", id, types.ErrReviewNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load suggestion %s: %w", id, err)
	}
	sg.Severity = types.Severity(severity)

	var prov map[string][]string
	if err := json.Unmarshal([]byte(provenance), &prov); err == nil {
		sg.FindingIDs = prov["findings"]
		sg.PatternIDs = prov["patterns"]
		sg.ModelIDs = prov["models"]
	}
	return &sg, nil
}

// SaveFeedback stores one feedback record. Duplicate ids are rejected by
// the primary key, which keeps replay idempotent.
func (s *SQLite) SaveFeedback(ctx context.Context, fb types.Feedback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO feedback (id, suggestion_id, helpful, correction, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.SuggestionID, fb.Helpful, fb.Correction, fb.Category, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save feedback %s: %w", fb.ID, err)
	}
	return nil
}

// ListFeedback returns all feedback ordered oldest first, which is the
// replay order for metric recomputation.
func (s *SQLite) ListFeedback(ctx context.Context) ([]types.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suggestion_id, helpful, correction, category, created_at
		FROM feedback ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var out []types.Feedback
	for rows.Next() {
		var fb types.Feedback
		if err := rows.Scan(&fb.ID, &fb.SuggestionID, &fb.Helpful, &fb.Correction, &fb.Category, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback row: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// SaveWeight persists one learned pattern factor.
func (s *SQLite) SaveWeight(ctx context.Context, patternID string, factor float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pattern_weights (pattern_id, factor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(pattern_id) DO UPDATE SET factor = excluded.factor, updated_at = excluded.updated_at`,
		patternID, factor, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save weight for %s: %w", patternID, err)
	}
	return nil
}

// LoadWeights returns all persisted pattern factors.
func (s *SQLite) LoadWeights(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pattern_id, factor FROM pattern_weights`)
	if err != nil {
		return nil, fmt.Errorf("failed to load weights: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var id string
		var f float64
		if err := rows.Scan(&id, &f); err != nil {
			return nil, fmt.Errorf("failed to scan weight row: %w", err)
		}
		out[id] = f
	}
	return out, rows.Err()
}

// SaveMetrics appends a metric snapshot.
func (s *SQLite) SaveMetrics(ctx context.Context, m types.LearningMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_snapshots
		(total_feedback, helpful_feedback, helpful_ratio, precision_score, recall_score, f1_score, calibration_error, learning_velocity, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.TotalFeedback, m.HelpfulFeedback, m.HelpfulRatio, m.Precision, m.Recall,
		m.F1Score, m.CalibrationError, m.LearningVelocity, m.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to save metric snapshot: %w", err)
	}
	return nil
}

// LatestMetrics returns the most recent snapshot, or nil when none exist.
func (s *SQLite) LatestMetrics(ctx context.Context) (*types.LearningMetrics, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT total_feedback, helpful_feedback, helpful_ratio, precision_score, recall_score, f1_score, calibration_error, learning_velocity, generated_at
		FROM metric_snapshots ORDER BY id DESC LIMIT 1`)

	var m types.LearningMetrics
	err := row.Scan(&m.TotalFeedback, &m.HelpfulFeedback, &m.HelpfulRatio, &m.Precision,
		&m.Recall, &m.F1Score, &m.CalibrationError, &m.LearningVelocity, &m.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load metric snapshot: %w", err)
	}
	return &m, nil
}

// Close shuts down the database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
