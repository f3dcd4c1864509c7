package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// State types recognized in scraper_state.state_type.
const (
	StateTypeBackfill   = "backfill"
	StateTypeContinuous = "continuous"
)

// Scraper state statuses.
const (
	ScraperStatusActive    = "active"
	ScraperStatusCompleted = "completed"
)

// ScraperState mirrors a row of the scraper_state table.
type ScraperState struct {
	ID              int64
	StateType       string
	CurrentItemID   int64
	TargetTimestamp *time.Time
	Status          string
	ItemsProcessed  int64
	StoriesFound    int64
	LastRunAt       *time.Time
}

type ScraperStateStore struct {
	pool *pgxpool.Pool
}

func NewScraperStateStore(pool *pgxpool.Pool) *ScraperStateStore {
	return &ScraperStateStore{pool: pool}
}

// GetOrInit returns the row for stateType, creating it with the given
// starting item id (and, for backfill, a target timestamp) if absent. Safe
// to call concurrently: the unique constraint on state_type plus ON
// CONFLICT DO NOTHING means a losing racer simply re-reads the winner's row.
func (s *ScraperStateStore) GetOrInit(ctx context.Context, stateType string, startItemID int64, targetTimestamp *time.Time) (*ScraperState, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scraper_state (state_type, current_item_id, target_timestamp, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (state_type) DO NOTHING`,
		stateType, startItemID, targetTimestamp, ScraperStatusActive)
	if err != nil {
		return nil, fmt.Errorf("init scraper state %q: %w", stateType, err)
	}
	return s.Get(ctx, stateType)
}

// Get returns the row for stateType, or ErrNotFound.
func (s *ScraperStateStore) Get(ctx context.Context, stateType string) (*ScraperState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, state_type, current_item_id, target_timestamp, status,
		       items_processed, stories_found, last_run_at
		FROM scraper_state WHERE state_type = $1`, stateType)

	var st ScraperState
	if err := row.Scan(&st.ID, &st.StateType, &st.CurrentItemID, &st.TargetTimestamp, &st.Status,
		&st.ItemsProcessed, &st.StoriesFound, &st.LastRunAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get scraper state %q: %w", stateType, err)
	}
	return &st, nil
}

// Advance records progress after processing a batch: the new cursor
// position and incremented counters, stamping last_run_at to now.
func (s *ScraperStateStore) Advance(ctx context.Context, stateType string, newItemID int64, itemsProcessed, storiesFound int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scraper_state
		SET current_item_id = $2,
		    items_processed = items_processed + $3,
		    stories_found = stories_found + $4,
		    last_run_at = now()
		WHERE state_type = $1`,
		stateType, newItemID, itemsProcessed, storiesFound)
	if err != nil {
		return fmt.Errorf("advance scraper state %q: %w", stateType, err)
	}
	return nil
}

// MarkCompleted transitions backfill to the completed status once its
// target timestamp has been reached.
func (s *ScraperStateStore) MarkCompleted(ctx context.Context, stateType string) error {
	_, err := s.pool.Exec(ctx, `UPDATE scraper_state SET status = $2, last_run_at = now() WHERE state_type = $1`,
		stateType, ScraperStatusCompleted)
	if err != nil {
		return fmt.Errorf("complete scraper state %q: %w", stateType, err)
	}
	return nil
}

// TryAdvisoryLock attempts to take a session-scoped advisory lock keyed by
// stateType's hash, returning false immediately if another process already
// holds it. Callers must release via pg_advisory_unlock (ReleaseAdvisoryLock) on the SAME
// connection that acquired it, so this takes an explicit *pgxpool.Conn
// rather than the pool (spec.md §4.2's race-safe continuous-mode
// initialization invariant).
func TryAdvisoryLock(ctx context.Context, conn *pgxpool.Conn, stateType string) (bool, error) {
	var ok bool
	err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, "scraper_state:"+stateType).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("try advisory lock %q: %w", stateType, err)
	}
	return ok, nil
}

// ReleaseAdvisoryLock releases a lock taken by TryAdvisoryLock on the same connection.
func ReleaseAdvisoryLock(ctx context.Context, conn *pgxpool.Conn, stateType string) error {
	_, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, "scraper_state:"+stateType)
	if err != nil {
		return fmt.Errorf("release advisory lock %q: %w", stateType, err)
	}
	return nil
}
