// Package config loads tagrover's environment-driven configuration.
//
// All variables are read case-insensitively (the upper-case name is tried
// first, then the process environment is scanned for a case-folded match) with named
// defaults, mirroring the teacher's pkg/database/config.go getEnvOrDefault
// idiom generalized across every knob named in the specification.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// configYAMLPath is the optional local-dev overlay file: a flat key/value
// map read once at startup and consulted as a fallback between the process
// environment and the hardcoded defaults below. Real deployments set env
// vars directly and never need this file.
const configYAMLPath = "config.yaml"

// Environment identifies the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config is the fully resolved application configuration.
type Config struct {
	Environment Environment

	DatabaseURL string

	OpenAIAPIKey string
	APIKey       string // shared bearer token for mutating endpoints; empty disables auth

	HNAPIBaseURL string

	ScraperBackfillBatchSize   int
	ScraperBackfillMaxBatches  int
	ScraperContinuousBatchSize int
	ScraperBackfillDaysDev     int
	ScraperBackfillDaysProd    int
	ScraperRateLimitDelay      time.Duration

	SummarizationModel     string
	SummarizationBatchSize int

	AgentAnalysisWindowDays     int
	AgentMinTagUsage            int
	AgentMaxProposalsPerRun     int
	AgentEnableAutoApprove      bool
	AgentAutoApproveMaxAffected int
	AgentRunInterval            time.Duration

	BackfillInterval   time.Duration
	ContinuousInterval time.Duration
	RecoveryInterval   time.Duration

	HTTPPort string
}

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// BackfillDays returns the startup backfill lookback window appropriate
// for the configured environment.
func (c *Config) BackfillDays() int {
	if c.IsProduction() {
		return c.ScraperBackfillDaysProd
	}
	return c.ScraperBackfillDaysDev
}

// Stats is a small summary surfaced on the health endpoint, mirroring the
// teacher's Config.Stats() convention for an at-a-glance configuration view.
type Stats struct {
	Environment      string `json:"environment"`
	HasOpenAIKey     bool   `json:"has_openai_key"`
	AuthEnabled      bool   `json:"auth_enabled"`
	AutoApproveAgent bool   `json:"agent_auto_approve"`
}

func (c *Config) Stats() Stats {
	return Stats{
		Environment:      string(c.Environment),
		HasOpenAIKey:     c.OpenAIAPIKey != "",
		AuthEnabled:      c.APIKey != "",
		AutoApproveAgent: c.AgentEnableAutoApprove,
	}
}

// LoadFromEnv resolves Config from the process environment, applying the
// defaults named in the specification's environment table. A config.yaml
// in the working directory, if present, is consulted for any variable the
// environment leaves unset.
func LoadFromEnv() (*Config, error) {
	overlay, err := loadYAMLOverlay(configYAMLPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:  Environment(strings.ToLower(getEnv(overlay, "ENVIRONMENT", string(EnvDevelopment)))),
		DatabaseURL:  getEnv(overlay, "DATABASE_URL", ""),
		OpenAIAPIKey: getEnv(overlay, "OPENAI_API_KEY", ""),
		APIKey:       getEnv(overlay, "API_KEY", ""),
		HNAPIBaseURL: getEnv(overlay, "HN_API_BASE_URL", "https://hacker-news.firebaseio.com/v0"),
		HTTPPort:     getEnv(overlay, "HTTP_PORT", "8080"),

		SummarizationModel: getEnv(overlay, "SUMMARIZATION_MODEL", "gpt-4o-mini"),
	}

	if cfg.ScraperBackfillBatchSize, err = getEnvInt(overlay, "SCRAPER_BACKFILL_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.ScraperBackfillMaxBatches, err = getEnvInt(overlay, "SCRAPER_BACKFILL_MAX_BATCHES", 50); err != nil {
		return nil, err
	}
	if cfg.ScraperContinuousBatchSize, err = getEnvInt(overlay, "SCRAPER_CONTINUOUS_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.ScraperBackfillDaysDev, err = getEnvInt(overlay, "SCRAPER_BACKFILL_DAYS_DEV", 7); err != nil {
		return nil, err
	}
	if cfg.ScraperBackfillDaysProd, err = getEnvInt(overlay, "SCRAPER_BACKFILL_DAYS_PROD", 30); err != nil {
		return nil, err
	}
	rateLimitMs, err := getEnvInt(overlay, "SCRAPER_RATE_LIMIT_DELAY_MS", 50)
	if err != nil {
		return nil, err
	}
	cfg.ScraperRateLimitDelay = time.Duration(rateLimitMs) * time.Millisecond

	if cfg.SummarizationBatchSize, err = getEnvInt(overlay, "SUMMARIZATION_BATCH_SIZE", 5); err != nil {
		return nil, err
	}

	if cfg.AgentAnalysisWindowDays, err = getEnvInt(overlay, "AGENT_ANALYSIS_WINDOW_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.AgentMinTagUsage, err = getEnvInt(overlay, "AGENT_MIN_TAG_USAGE", 3); err != nil {
		return nil, err
	}
	if cfg.AgentMaxProposalsPerRun, err = getEnvInt(overlay, "AGENT_MAX_PROPOSALS_PER_RUN", 10); err != nil {
		return nil, err
	}
	if cfg.AgentAutoApproveMaxAffected, err = getEnvInt(overlay, "AGENT_AUTO_APPROVE_MAX_AFFECTED", 5); err != nil {
		return nil, err
	}
	cfg.AgentEnableAutoApprove, err = getEnvBool(overlay, "AGENT_ENABLE_AUTO_APPROVE", false)
	if err != nil {
		return nil, err
	}
	agentWeeks, err := getEnvInt(overlay, "AGENT_RUN_INTERVAL_WEEKS", 1)
	if err != nil {
		return nil, err
	}
	cfg.AgentRunInterval = time.Duration(agentWeeks) * 7 * 24 * time.Hour

	backfillMin, err := getEnvInt(overlay, "BACKFILL_INTERVAL_MINUTES", 10)
	if err != nil {
		return nil, err
	}
	cfg.BackfillInterval = time.Duration(backfillMin) * time.Minute

	continuousMin, err := getEnvInt(overlay, "CONTINUOUS_INTERVAL_MINUTES", 5)
	if err != nil {
		return nil, err
	}
	cfg.ContinuousInterval = time.Duration(continuousMin) * time.Minute

	recoveryMin, err := getEnvInt(overlay, "RECOVERY_INTERVAL_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	cfg.RecoveryInterval = time.Duration(recoveryMin) * time.Minute

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that must hold before the rest of the system
// is wired up.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		return fmt.Errorf("ENVIRONMENT must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment)
	}
	if c.ScraperBackfillBatchSize < 1 {
		return fmt.Errorf("SCRAPER_BACKFILL_BATCH_SIZE must be at least 1")
	}
	if c.ScraperContinuousBatchSize < 1 {
		return fmt.Errorf("SCRAPER_CONTINUOUS_BATCH_SIZE must be at least 1")
	}
	if c.AgentAutoApproveMaxAffected < 0 {
		return fmt.Errorf("AGENT_AUTO_APPROVE_MAX_AFFECTED cannot be negative")
	}
	return nil
}

// loadYAMLOverlay reads a flat string map from path, returning an empty map
// (not an error) when the file is absent — the overlay is an optional
// local-dev convenience, never a requirement.
func loadYAMLOverlay(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	overlay := map[string]string{}
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	normalized := make(map[string]string, len(overlay))
	for k, v := range overlay {
		normalized[strings.ToUpper(k)] = v
	}
	return normalized, nil
}

// getEnv performs a case-insensitive lookup (the upper-cased key first, then
// any os.Environ entry whose name matches it case-insensitively), falling
// back to the yaml overlay and then defaultVal when absent or empty.
func getEnv(overlay map[string]string, key, defaultVal string) string {
	if val := os.Getenv(strings.ToUpper(key)); val != "" {
		return val
	}
	for _, kv := range os.Environ() {
		if name, val, ok := strings.Cut(kv, "="); ok && val != "" && strings.EqualFold(name, key) {
			return val
		}
	}
	if val, ok := overlay[strings.ToUpper(key)]; ok && val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(overlay map[string]string, key string, defaultVal int) (int, error) {
	raw := getEnv(overlay, key, "")
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(overlay map[string]string, key string, defaultVal bool) (bool, error) {
	raw := getEnv(overlay, key, "")
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
