package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tagrover/tagrover/pkg/hn"
	"github.com/tagrover/tagrover/pkg/storage"
)

// ContinuousConfig controls one Tick of continuous mode.
type ContinuousConfig struct {
	BatchSize      int
	MaxBatches     int
	RateLimitDelay time.Duration
}

// Continuous advances upward from the last seen id to the current upstream
// max, then sweeps the curated top/new/best lists to catch stories that
// rose in rank before the forward id walk reached them.
type Continuous struct {
	kernel *Kernel
	hn     *hn.Client
	state  *storage.ScraperStateStore
	pool   *pgxpool.Pool
	cfg    ContinuousConfig
}

func NewContinuous(kernel *Kernel, hnClient *hn.Client, state *storage.ScraperStateStore, pool *pgxpool.Pool, cfg ContinuousConfig) *Continuous {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 30
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 50 * time.Millisecond
	}
	return &Continuous{kernel: kernel, hn: hnClient, state: state, pool: pool, cfg: cfg}
}

// Tick walks forward from the persisted cursor toward the current upstream
// max in batches, then performs the curated-list sweep. At most
// cfg.MaxBatches batches run per call; ids beyond that are left for the
// next Tick.
func (c *Continuous) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult

	st, err := c.initOrResume(ctx)
	if err != nil {
		return result, err
	}

	maxID, err := c.hn.MaxItemID(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch max item id: %w", err)
	}

	current := st.CurrentItemID
	for i := 0; i < c.cfg.MaxBatches && current < maxID; i++ {
		high := current + int64(c.cfg.BatchSize)
		if high > maxID {
			high = maxID
		}
		ids := make([]int64, 0, int(high-current))
		for id := current + 1; id <= high; id++ {
			ids = append(ids, id)
		}

		stats, err := c.kernel.ProcessItemBatch(ctx, ids, nil)
		if err != nil {
			return result, fmt.Errorf("continuous batch: %w", err)
		}
		result.BatchesRun++
		result.Stats.ItemsScanned += stats.ItemsScanned
		result.Stats.StoriesFound += stats.StoriesFound
		result.Stats.StoriesNew += stats.StoriesNew

		current = high
		if err := c.state.Advance(ctx, storage.StateTypeContinuous, current, int64(stats.ItemsScanned), int64(stats.StoriesFound)); err != nil {
			return result, fmt.Errorf("persist continuous progress: %w", err)
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(c.cfg.RateLimitDelay):
		}
	}

	sweepStats, err := c.curatedListSweep(ctx)
	if err != nil {
		return result, fmt.Errorf("curated list sweep: %w", err)
	}
	result.Stats.ItemsScanned += sweepStats.ItemsScanned
	result.Stats.StoriesFound += sweepStats.StoriesFound
	result.Stats.StoriesNew += sweepStats.StoriesNew

	return result, nil
}

// initOrResume race-safely creates the continuous state row if absent: it
// takes a session-scoped advisory lock keyed on the state type on one
// acquired pool connection (not a transaction-scoped lock; it is released
// explicitly on that connection), then re-checks existence under the lock
// before creating, so two schedulers
// racing to initialize continuous mode can never both succeed.
func (c *Continuous) initOrResume(ctx context.Context) (*storage.ScraperState, error) {
	if existing, err := c.state.Get(ctx, storage.StateTypeContinuous); err == nil {
		return existing, nil
	} else if err != storage.ErrNotFound {
		return nil, fmt.Errorf("load continuous state: %w", err)
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for advisory lock: %w", err)
	}
	defer conn.Release()

	acquired, err := storage.TryAdvisoryLock(ctx, conn, storage.StateTypeContinuous)
	if err != nil {
		return nil, err
	}
	if !acquired {
		// Another scheduler is initializing right now; wait for it to
		// finish and read back what it wrote rather than racing it.
		for {
			if existing, err := c.state.Get(ctx, storage.StateTypeContinuous); err == nil {
				return existing, nil
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
	defer func() { _ = storage.ReleaseAdvisoryLock(ctx, conn, storage.StateTypeContinuous) }()

	if existing, err := c.state.Get(ctx, storage.StateTypeContinuous); err == nil {
		return existing, nil
	}

	maxID, err := c.hn.MaxItemID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch max item id for continuous init: %w", err)
	}
	return c.state.GetOrInit(ctx, storage.StateTypeContinuous, maxID-1, nil)
}

func (c *Continuous) curatedListSweep(ctx context.Context) (BatchStats, error) {
	var all BatchStats

	top, err := c.hn.TopStoryIDs(ctx)
	if err != nil {
		top = nil
	}
	news, err := c.hn.NewStoryIDs(ctx)
	if err != nil {
		news = nil
	}
	best, err := c.hn.BestStoryIDs(ctx)
	if err != nil {
		best = nil
	}

	seen := make(map[int64]bool)
	var dedup []int64
	for _, list := range [][]int64{top, news, best} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				dedup = append(dedup, id)
			}
		}
	}
	if len(dedup) == 0 {
		return all, nil
	}

	return c.kernel.ProcessItemBatch(ctx, dedup, nil)
}
