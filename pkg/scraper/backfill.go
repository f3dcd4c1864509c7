package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/tagrover/tagrover/pkg/hn"
	"github.com/tagrover/tagrover/pkg/storage"
)

// BackfillConfig controls one Tick of backfill mode.
type BackfillConfig struct {
	BatchSize      int
	MaxBatches     int
	BackfillDays   int
	RateLimitDelay time.Duration
}

// Backfill scans ids downward from a known ceiling toward
// now - BackfillDays, stopping once it reaches that horizon or id 0.
type Backfill struct {
	kernel *Kernel
	hn     *hn.Client
	state  *storage.ScraperStateStore
	cfg    BackfillConfig
}

func NewBackfill(kernel *Kernel, hnClient *hn.Client, state *storage.ScraperStateStore, cfg BackfillConfig) *Backfill {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 50
	}
	if cfg.BackfillDays <= 0 {
		cfg.BackfillDays = 7
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 50 * time.Millisecond
	}
	return &Backfill{kernel: kernel, hn: hnClient, state: state, cfg: cfg}
}

// TickResult summarizes one Tick call.
type TickResult struct {
	BatchesRun int
	Stats      BatchStats
	Completed  bool
}

// Tick runs up to cfg.MaxBatches batches of backfill progress, persisting
// state after every batch so a crash mid-tick loses at most one batch of
// work and resumes cleanly from the last committed current_item_id.
func (b *Backfill) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult

	st, err := b.initOrResume(ctx)
	if err != nil {
		return result, err
	}
	if st.Status == storage.ScraperStatusCompleted {
		result.Completed = true
		return result, nil
	}

	current := st.CurrentItemID
	for i := 0; i < b.cfg.MaxBatches; i++ {
		if current <= 0 {
			if err := b.state.MarkCompleted(ctx, storage.StateTypeBackfill); err != nil {
				return result, err
			}
			result.Completed = true
			break
		}

		low := current - int64(b.cfg.BatchSize) + 1
		if low < 1 {
			low = 1
		}
		ids := make([]int64, 0, int(current-low+1))
		for id := current; id >= low; id-- {
			ids = append(ids, id)
		}

		stats, err := b.kernel.ProcessItemBatch(ctx, ids, st.TargetTimestamp)
		if err != nil {
			return result, fmt.Errorf("backfill batch: %w", err)
		}
		result.BatchesRun++
		result.Stats.ItemsScanned += stats.ItemsScanned
		result.Stats.StoriesFound += stats.StoriesFound
		result.Stats.StoriesNew += stats.StoriesNew

		current = low - 1
		if err := b.state.Advance(ctx, storage.StateTypeBackfill, current, int64(stats.ItemsScanned), int64(stats.StoriesFound)); err != nil {
			return result, fmt.Errorf("persist backfill progress: %w", err)
		}

		if stats.ReachedTargetDate || current <= 0 {
			if err := b.state.MarkCompleted(ctx, storage.StateTypeBackfill); err != nil {
				return result, err
			}
			result.Completed = true
			break
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(b.cfg.RateLimitDelay):
		}
	}

	return result, nil
}

func (b *Backfill) initOrResume(ctx context.Context) (*storage.ScraperState, error) {
	existing, err := b.state.Get(ctx, storage.StateTypeBackfill)
	if err == nil {
		return existing, nil
	}
	if err != storage.ErrNotFound {
		return nil, fmt.Errorf("load backfill state: %w", err)
	}

	maxID, err := b.hn.MaxItemID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch max item id for backfill init: %w", err)
	}
	target := time.Now().UTC().AddDate(0, 0, -b.cfg.BackfillDays)

	return b.state.GetOrInit(ctx, storage.StateTypeBackfill, maxID, &target)
}
