package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/basel-ax/imagegate/internal/domain"
)

// GenerationRepository defines the interface for generation history access
type GenerationRepository interface {
	Record(ctx context.Context, rec domain.GenerationRecord) error
	Recent(ctx context.Context, limit int) ([]domain.GenerationRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

const schema = `
	CREATE TABLE IF NOT EXISTS generations (
		request_id  UUID PRIMARY KEY,
		model_key   TEXT NOT NULL,
		prompt      TEXT NOT NULL,
		width       INTEGER NOT NULL,
		height      INTEGER NOT NULL,
		outcome     TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS generations_finished_at_idx ON generations (finished_at);
`

// PostgresGenerationRepository implements GenerationRepository for PostgreSQL
type PostgresGenerationRepository struct {
	db *sql.DB
}

// NewPostgresGenerationRepository creates a new PostgreSQL generation repository
func NewPostgresGenerationRepository(db *sql.DB) *PostgresGenerationRepository {
	return &PostgresGenerationRepository{db: db}
}

// EnsureSchema creates the generations table when it does not exist
func (r *PostgresGenerationRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create generations table: %w", err)
	}
	return nil
}

// Record stores a finished generation. Recording the same request twice
// keeps the first row.
func (r *PostgresGenerationRepository) Record(ctx context.Context, rec domain.GenerationRecord) error {
	query := `
		INSERT INTO generations
			(request_id, model_key, prompt, width, height, outcome, message, duration_ms, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.ModelKey,
		rec.Prompt,
		rec.Width,
		rec.Height,
		rec.Outcome,
		rec.Message,
		rec.Duration.Milliseconds(),
		rec.FinishedAt,
	)
	return err
}

// Recent returns up to limit records, newest first
func (r *PostgresGenerationRepository) Recent(ctx context.Context, limit int) ([]domain.GenerationRecord, error) {
	query := `
		SELECT request_id, model_key, prompt, width, height, outcome, message, duration_ms, finished_at
		FROM generations
		ORDER BY finished_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.GenerationRecord
	for rows.Next() {
		var rec domain.GenerationRecord
		var durationMs int64
		if err := rows.Scan(
			&rec.RequestID,
			&rec.ModelKey,
			&rec.Prompt,
			&rec.Width,
			&rec.Height,
			&rec.Outcome,
			&rec.Message,
			&durationMs,
			&rec.FinishedAt,
		); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteOlderThan removes records that finished before cutoff
func (r *PostgresGenerationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM generations
		WHERE finished_at < $1
	`

	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
