// Package scheduler composes the four periodic jobs spec.md §4.7 names —
// backfill, continuous, recovery, agent — on top of robfig/cron/v3,
// replacing the teacher's pkg/queue worker-pool shape (which drained a
// database-backed job queue) with cron-scheduled, non-overlapping ticks.
package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/tagrover/tagrover/pkg/agent"
	"github.com/tagrover/tagrover/pkg/enrichment"
	"github.com/tagrover/tagrover/pkg/scraper"
)

// Config controls interval and behavior knobs for all four jobs.
type Config struct {
	BackfillIntervalMinutes   int
	ContinuousIntervalMinutes int
	RecoveryIntervalMinutes   int
	AgentRunIntervalWeeks     int
	RecoveryBatchSize         int
	EnrichmentBatchSize       int
	AutoApplyAgentProposals   bool
}

// Scheduler owns a cron instance and registers the four jobs described in
// spec.md §4.7. Each job id replaces any prior entry, a run that fires
// while the previous run of the same entry is still going is skipped
// (cron.SkipIfStillRunning), and a panic or error in one job is
// logged and does not unregister the others.
type Scheduler struct {
	cron        *cron.Cron
	logger      *slog.Logger
	backfill    *scraper.Backfill
	continuous  *scraper.Continuous
	enrichment  *enrichment.Pipeline
	orchestrator *agent.Orchestrator
	cfg         Config

	backfillDone atomic.Bool
	mu           sync.Mutex
	entries      map[string]cron.EntryID
}

func New(logger *slog.Logger, backfill *scraper.Backfill, continuous *scraper.Continuous, enrich *enrichment.Pipeline, orchestrator *agent.Orchestrator, cfg Config) *Scheduler {
	if cfg.BackfillIntervalMinutes <= 0 {
		cfg.BackfillIntervalMinutes = 10
	}
	if cfg.ContinuousIntervalMinutes <= 0 {
		cfg.ContinuousIntervalMinutes = 5
	}
	if cfg.RecoveryIntervalMinutes <= 0 {
		cfg.RecoveryIntervalMinutes = 30
	}
	if cfg.AgentRunIntervalWeeks <= 0 {
		cfg.AgentRunIntervalWeeks = 1
	}
	if cfg.RecoveryBatchSize <= 0 {
		cfg.RecoveryBatchSize = 50
	}
	if cfg.EnrichmentBatchSize <= 0 {
		cfg.EnrichmentBatchSize = 50
	}

	return &Scheduler{
		cron:         cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:       logger,
		backfill:     backfill,
		continuous:   continuous,
		enrichment:   enrich,
		orchestrator: orchestrator,
		cfg:          cfg,
		entries:      make(map[string]cron.EntryID),
	}
}

// Start registers all four jobs and starts the cron scheduler's own
// goroutine. It returns immediately; jobs run on cron's internal clock.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.register("backfill", every(s.cfg.BackfillIntervalMinutes, "m"), func() { s.runBackfill(ctx) }); err != nil {
		return err
	}
	if err := s.register("continuous", every(s.cfg.ContinuousIntervalMinutes, "m"), func() { s.runContinuous(ctx) }); err != nil {
		return err
	}
	if err := s.register("recovery", every(s.cfg.RecoveryIntervalMinutes, "m"), func() { s.runRecovery(ctx) }); err != nil {
		return err
	}
	if err := s.register("agent", every(s.cfg.AgentRunIntervalWeeks*7*24*60, "m"), func() { s.runAgent(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler, waiting for any in-flight job
// invocation to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

func (s *Scheduler) register(id, spec string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[id]; ok {
		s.cron.Remove(existing)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		defer s.recoverJob(id)
		job()
	})
	if err != nil {
		return err
	}
	s.entries[id] = entryID
	return nil
}

func (s *Scheduler) recoverJob(id string) {
	if r := recover(); r != nil {
		s.logger.Error("scheduler job panicked", "job", id, "panic", r)
	}
}

func (s *Scheduler) runBackfill(ctx context.Context) {
	if s.backfillDone.Load() {
		return
	}
	result, err := s.backfill.Tick(ctx)
	if err != nil {
		s.logger.Error("backfill tick failed", "error", err)
		return
	}
	if result.Completed {
		s.backfillDone.Store(true)
		s.logger.Info("backfill completed")
	}
	s.logger.Info("backfill tick", "batches", result.BatchesRun, "stories_new", result.Stats.StoriesNew)
}

func (s *Scheduler) runContinuous(ctx context.Context) {
	result, err := s.continuous.Tick(ctx)
	if err != nil {
		s.logger.Error("continuous tick failed", "error", err)
		return
	}
	s.logger.Info("continuous tick", "batches", result.BatchesRun, "stories_new", result.Stats.StoriesNew)

	processed, err := s.enrichment.GenerateMissing(ctx, s.cfg.EnrichmentBatchSize)
	if err != nil {
		s.logger.Error("continuous enrichment failed", "error", err)
		return
	}
	s.logger.Info("continuous enrichment", "processed", processed)
}

func (s *Scheduler) runRecovery(ctx context.Context) {
	processed, err := s.enrichment.GenerateMissing(ctx, s.cfg.RecoveryBatchSize)
	if err != nil {
		s.logger.Error("recovery tick failed", "error", err)
		return
	}
	s.logger.Info("recovery tick", "processed", processed)
}

func (s *Scheduler) runAgent(ctx context.Context) {
	mode := agent.ModeProposal
	if s.cfg.AutoApplyAgentProposals {
		mode = agent.ModeAutoApply
	}
	result, err := s.orchestrator.Run(ctx, mode)
	if err != nil {
		s.logger.Error("agent run failed", "error", err)
		return
	}
	s.logger.Info("agent run completed", "proposals", len(result.ProposalIDs), "auto_approved", len(result.AutoApprovedIDs))
}

func every(n int, unit string) string {
	if n <= 0 {
		n = 1
	}
	return "@every " + strconv.Itoa(n) + unit
}
