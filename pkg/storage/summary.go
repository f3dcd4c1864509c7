package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Summary mirrors the summaries table.
type Summary struct {
	ID        int64
	StoryID   int64
	Text      string
	Model     string
	CreatedAt time.Time
}

type SummaryStore struct {
	pool *pgxpool.Pool
}

func NewSummaryStore(pool *pgxpool.Pool) *SummaryStore {
	return &SummaryStore{pool: pool}
}

// Upsert writes a story's summary, replacing any prior one on conflict so
// re-running enrichment for a story is idempotent.
func (s *SummaryStore) Upsert(ctx context.Context, storyID int64, text, model string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO summaries (story_id, text, model) VALUES ($1, $2, $3)
		ON CONFLICT (story_id) DO UPDATE SET text = EXCLUDED.text, model = EXCLUDED.model`,
		storyID, text, model)
	if err != nil {
		return fmt.Errorf("upsert summary for story %d: %w", storyID, err)
	}
	return nil
}

// GetByStoryID returns the summary for a story, or ErrNotFound.
func (s *SummaryStore) GetByStoryID(ctx context.Context, storyID int64) (*Summary, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, story_id, text, model, created_at FROM summaries WHERE story_id = $1`, storyID)
	var sm Summary
	if err := row.Scan(&sm.ID, &sm.StoryID, &sm.Text, &sm.Model, &sm.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get summary for story %d: %w", storyID, err)
	}
	return &sm, nil
}
