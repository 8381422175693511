package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/basel-ax/imagegate/internal/domain"
)

// Runs against a real database when IMAGEGATE_TEST_DSN is set, e.g.
// "host=localhost port=5432 user=postgres password=postgres dbname=imagegate_test sslmode=disable".
func openTestRepository(t *testing.T) *PostgresGenerationRepository {
	t.Helper()
	dsn := os.Getenv("IMAGEGATE_TEST_DSN")
	if dsn == "" {
		t.Skip("IMAGEGATE_TEST_DSN not set")
	}

	ctx := context.Background()
	db, err := OpenPostgres(ctx, dsn, PoolSettings{MaxOpenConns: 2, MaxIdleConns: 2, ConnMaxLifetime: time.Minute})
	if err != nil {
		t.Fatalf("OpenPostgres() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := NewPostgresGenerationRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error: %v", err)
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() second run error: %v", err)
	}
	return repo
}

func TestPostgresGenerationRepository_RecordRecentPrune(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	old := domain.GenerationRecord{
		RequestID:  uuid.NewString(),
		ModelKey:   "flux-dev",
		Prompt:     "an old lighthouse",
		Width:      512,
		Height:     512,
		Outcome:    string(domain.KindRateLimited),
		Message:    "Too many requests",
		Duration:   300 * time.Millisecond,
		FinishedAt: now.Add(-48 * time.Hour),
	}
	fresh := domain.GenerationRecord{
		RequestID:  uuid.NewString(),
		ModelKey:   "flux-schnell",
		Prompt:     "a new lighthouse",
		Width:      1024,
		Height:     768,
		Outcome:    domain.OutcomeSuccess,
		Duration:   2 * time.Second,
		FinishedAt: now,
	}
	for _, rec := range []domain.GenerationRecord{old, fresh, fresh} {
		if err := repo.Record(ctx, rec); err != nil {
			t.Fatalf("Record(%s) error: %v", rec.RequestID, err)
		}
	}

	recent, err := repo.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(recent) != 1 || recent[0].RequestID != fresh.RequestID {
		t.Fatalf("Recent(1) = %+v", recent)
	}
	if recent[0].Duration != fresh.Duration || recent[0].Height != 768 {
		t.Errorf("round trip = %+v", recent[0])
	}

	deleted, err := repo.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error: %v", err)
	}
	if deleted < 1 {
		t.Errorf("deleted = %d, want at least 1", deleted)
	}
}
