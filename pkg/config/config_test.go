package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"ENVIRONMENT", "DATABASE_URL", "OPENAI_API_KEY", "API_KEY", "HN_API_BASE_URL",
		"SCRAPER_BACKFILL_BATCH_SIZE", "SCRAPER_BACKFILL_MAX_BATCHES", "SCRAPER_CONTINUOUS_BATCH_SIZE",
		"SCRAPER_BACKFILL_DAYS_DEV", "SCRAPER_BACKFILL_DAYS_PROD", "SCRAPER_RATE_LIMIT_DELAY_MS",
		"SUMMARIZATION_MODEL", "SUMMARIZATION_BATCH_SIZE",
		"AGENT_ANALYSIS_WINDOW_DAYS", "AGENT_MIN_TAG_USAGE", "AGENT_MAX_PROPOSALS_PER_RUN",
		"AGENT_ENABLE_AUTO_APPROVE", "AGENT_AUTO_APPROVE_MAX_AFFECTED", "AGENT_RUN_INTERVAL_WEEKS",
		"BACKFILL_INTERVAL_MINUTES", "CONTINUOUS_INTERVAL_MINUTES", "RECOVERY_INTERVAL_MINUTES",
	}
	for _, k := range keys {
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/tagrover")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	require.Equal(t, EnvDevelopment, cfg.Environment)
	require.Equal(t, 100, cfg.ScraperBackfillBatchSize)
	require.Equal(t, 50, cfg.ScraperBackfillMaxBatches)
	require.Equal(t, 50, cfg.ScraperContinuousBatchSize)
	require.Equal(t, 7, cfg.ScraperBackfillDaysDev)
	require.Equal(t, 30, cfg.ScraperBackfillDaysProd)
	require.Equal(t, 50*time.Millisecond, cfg.ScraperRateLimitDelay)
	require.Equal(t, 5, cfg.SummarizationBatchSize)
	require.Equal(t, 30, cfg.AgentAnalysisWindowDays)
	require.Equal(t, 3, cfg.AgentMinTagUsage)
	require.Equal(t, 10, cfg.AgentMaxProposalsPerRun)
	require.False(t, cfg.AgentEnableAutoApprove)
	require.Equal(t, 5, cfg.AgentAutoApproveMaxAffected)
	require.Equal(t, 7*24*time.Hour, cfg.AgentRunInterval)
	require.Equal(t, 7, cfg.BackfillDays())
}

func TestLoadFromEnv_ProductionBackfillDays(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/tagrover")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, 30, cfg.BackfillDays())
}

func TestLoadFromEnv_RequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnv_InvalidEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/tagrover")
	t.Setenv("ENVIRONMENT", "staging")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnv_YAMLOverlayFillsUnsetVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/tagrover")
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(configYAMLPath, []byte("summarization_model: gpt-4o\nagent_min_tag_usage: 9\n"), 0o644))

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", cfg.SummarizationModel)
	require.Equal(t, 9, cfg.AgentMinTagUsage)
}

func TestLoadFromEnv_EnvTakesPrecedenceOverYAMLOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/tagrover")
	t.Setenv("SUMMARIZATION_MODEL", "gpt-4o-mini-env")
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(configYAMLPath, []byte("summarization_model: gpt-4o-yaml\n"), 0o644))

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini-env", cfg.SummarizationModel)
}

func TestStats_RedactsSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/tagrover")
	t.Setenv("OPENAI_API_KEY", "sk-secret")
	t.Setenv("API_KEY", "bearer-secret")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	stats := cfg.Stats()
	require.True(t, stats.HasOpenAIKey)
	require.True(t, stats.AuthEnabled)
}
