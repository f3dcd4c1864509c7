// Command tagrover runs the HN ingestion scrapers, the enrichment
// pipeline, the taxonomy-maintenance agent scheduler, and the query HTTP
// API as one process, wired the way the teacher's cmd entrypoint wires its
// database/service/server trio.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tagrover/tagrover/pkg/agent"
	"github.com/tagrover/tagrover/pkg/api"
	"github.com/tagrover/tagrover/pkg/config"
	"github.com/tagrover/tagrover/pkg/database"
	"github.com/tagrover/tagrover/pkg/enrichment"
	"github.com/tagrover/tagrover/pkg/hn"
	"github.com/tagrover/tagrover/pkg/oracle"
	"github.com/tagrover/tagrover/pkg/query"
	"github.com/tagrover/tagrover/pkg/scheduler"
	"github.com/tagrover/tagrover/pkg/scraper"
	"github.com/tagrover/tagrover/pkg/storage"
	"github.com/tagrover/tagrover/pkg/taxonomy"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(logger); err != nil {
		logger.Error("fatal startup error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// Loading a .env file is a local-dev convenience; its absence in
	// container/production environments (where env vars are injected
	// directly) is not an error.
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "error", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, database.Config{
		DSN:             cfg.DatabaseURL,
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	})
	if err != nil {
		return err
	}
	defer dbClient.Close()

	stories := storage.NewStoryStore(dbClient.Pool)
	summaries := storage.NewSummaryStore(dbClient.Pool)
	tags := storage.NewTagStore(dbClient.Pool)
	scraperState := storage.NewScraperStateStore(dbClient.Pool)
	runs := storage.NewAgentRunStore(dbClient.Pool)
	proposals := storage.NewTagProposalStore(dbClient.Pool)
	users := storage.NewUserStore(dbClient.Pool)

	taxService := taxonomy.NewService(tags)
	filterEngine := query.NewEngine(dbClient.Pool)

	hnClient := hn.NewClient(hn.Config{BaseURL: cfg.HNAPIBaseURL, MaxConcurrency: 50})
	defer hnClient.Close()

	kernel := scraper.NewKernel(hnClient, stories, users)
	backfill := scraper.NewBackfill(kernel, hnClient, scraperState, scraper.BackfillConfig{
		BatchSize:      cfg.ScraperBackfillBatchSize,
		MaxBatches:     cfg.ScraperBackfillMaxBatches,
		BackfillDays:   cfg.BackfillDays(),
		RateLimitDelay: cfg.ScraperRateLimitDelay,
	})
	continuous := scraper.NewContinuous(kernel, hnClient, scraperState, dbClient.Pool, scraper.ContinuousConfig{
		BatchSize:      cfg.ScraperContinuousBatchSize,
		RateLimitDelay: cfg.ScraperRateLimitDelay,
	})

	var oracleImpl oracle.Oracle = oracle.NoopOracle{}
	if cfg.OpenAIAPIKey != "" {
		oracleImpl = oracle.NewOpenAIOracle(cfg.OpenAIAPIKey, cfg.SummarizationModel, "")
	} else {
		logger.Warn("no OPENAI_API_KEY configured, enrichment will leave stories unsummarized and untagged")
	}
	pipeline := enrichment.NewPipeline(oracleImpl, stories, summaries, tags, taxService, cfg.SummarizationModel)

	analyzer := agent.NewAnalyzer(stories, tags, agent.AnalyzerConfig{WindowDays: cfg.AgentAnalysisWindowDays, SparseUsageThreshold: cfg.AgentMinTagUsage})
	proposer := agent.NewProposer(proposals, nil, agent.ProposerConfig{MaxProposalsPerRun: cfg.AgentMaxProposalsPerRun})
	reorganizer := agent.NewReorganizer(proposals, tags)
	orchestrator := agent.NewOrchestrator(runs, proposals, analyzer, proposer, agent.OrchestratorConfig{AutoApproveMaxAffected: cfg.AgentAutoApproveMaxAffected})

	sched := scheduler.New(logger, backfill, continuous, pipeline, orchestrator, scheduler.Config{
		BackfillIntervalMinutes:   int(cfg.BackfillInterval.Minutes()),
		ContinuousIntervalMinutes: int(cfg.ContinuousInterval.Minutes()),
		RecoveryIntervalMinutes:   int(cfg.RecoveryInterval.Minutes()),
		AgentRunIntervalWeeks:     int(cfg.AgentRunInterval.Hours() / (7 * 24)),
		RecoveryBatchSize:         cfg.SummarizationBatchSize,
		EnrichmentBatchSize:       cfg.SummarizationBatchSize,
		AutoApplyAgentProposals:   cfg.AgentEnableAutoApprove,
	})
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	server := api.NewServer(logger, api.Dependencies{
		Pool:         dbClient.Pool,
		Stories:      stories,
		Summaries:    summaries,
		Tags:         tags,
		Runs:         runs,
		Proposals:    proposals,
		FilterEngine: filterEngine,
		Reorganizer:  reorganizer,
		Orchestrator: orchestrator,
		APIKey:       cfg.APIKey,
		IsProduction: cfg.IsProduction(),
		ConfigStats:  cfg.Stats(),
		Refresh: func(ctx context.Context) error {
			_, err := continuous.Tick(ctx)
			return err
		},
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
