// Package config loads tracehound configuration from the environment,
// with an optional .env file for development setups.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the full runtime configuration.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Scheduler
	PollInterval    time.Duration
	LookbackWindow  time.Duration
	DailyBudgetUSD  float64 // 0 = no daily cap
	ServicesFilter  []string
	SummaryInterval time.Duration // 0 = no periodic summary

	// Triage
	MinOccurrenceForInvestigation int
	InvestigationCooldown         time.Duration

	// Telemetry backend
	TelemetryURL     string
	TelemetryToken   string
	TelemetryTimeout time.Duration

	// Diagnosis backend
	AnthropicAPIKey  string
	AnthropicBaseURL string
	DiagnosisModel   string
	DiagnosisTimeout time.Duration
	PerCallBudgetUSD float64

	// Investigation context
	CodebasePath string

	// Storage
	StoreBackend string // "sqlite" or "memory"
	DataDir      string

	// Notifications
	NotifyURLs []string

	// HTTP surfaces
	ListenAddr  string
	MetricsAddr string
	APIToken    string // empty disables bearer auth
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	cfg := &Config{
		LogLevel:  envString("TRACEHOUND_LOG_LEVEL", "info"),
		LogFormat: envString("TRACEHOUND_LOG_FORMAT", "auto"),
		LogFile:   envString("TRACEHOUND_LOG_FILE", ""),

		PollInterval:    envDuration("TRACEHOUND_POLL_INTERVAL", 60*time.Second),
		LookbackWindow:  envDuration("TRACEHOUND_LOOKBACK_WINDOW", 15*time.Minute),
		DailyBudgetUSD:  envFloat("TRACEHOUND_DAILY_BUDGET_USD", 0),
		ServicesFilter:  envList("TRACEHOUND_SERVICES"),
		SummaryInterval: envDuration("TRACEHOUND_SUMMARY_INTERVAL", 0),

		MinOccurrenceForInvestigation: envInt("TRACEHOUND_MIN_OCCURRENCES", 3),
		InvestigationCooldown:         envDuration("TRACEHOUND_INVESTIGATION_COOLDOWN", 24*time.Hour),

		TelemetryURL:     envString("TRACEHOUND_TELEMETRY_URL", "http://localhost:4318"),
		TelemetryToken:   envString("TRACEHOUND_TELEMETRY_TOKEN", ""),
		TelemetryTimeout: envDuration("TRACEHOUND_TELEMETRY_TIMEOUT", 30*time.Second),

		AnthropicAPIKey:  envString("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: envString("TRACEHOUND_ANTHROPIC_BASE_URL", ""),
		DiagnosisModel:   envString("TRACEHOUND_DIAGNOSIS_MODEL", "claude-sonnet-4-5"),
		DiagnosisTimeout: envDuration("TRACEHOUND_DIAGNOSIS_TIMEOUT", 60*time.Second),
		PerCallBudgetUSD: envFloat("TRACEHOUND_PER_CALL_BUDGET_USD", 1.0),

		CodebasePath: envString("TRACEHOUND_CODEBASE_PATH", ""),

		StoreBackend: envString("TRACEHOUND_STORE", "sqlite"),
		DataDir:      envString("TRACEHOUND_DATA_DIR", "/var/lib/tracehound"),

		NotifyURLs: envList("TRACEHOUND_NOTIFY_URLS"),

		ListenAddr:  envString("TRACEHOUND_LISTEN_ADDR", ":7655"),
		MetricsAddr: envString("TRACEHOUND_METRICS_ADDR", ":9091"),
		APIToken:    envString("TRACEHOUND_API_TOKEN", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Dur("poll_interval", cfg.PollInterval).
		Dur("lookback", cfg.LookbackWindow).
		Float64("daily_budget_usd", cfg.DailyBudgetUSD).
		Str("store", cfg.StoreBackend).
		Str("model", cfg.DiagnosisModel).
		Msg("Configuration loaded")

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.LookbackWindow <= 0 {
		return fmt.Errorf("lookback window must be positive, got %s", c.LookbackWindow)
	}
	if c.DailyBudgetUSD < 0 {
		return fmt.Errorf("daily budget must not be negative, got %f", c.DailyBudgetUSD)
	}
	if c.PerCallBudgetUSD < 0 {
		return fmt.Errorf("per-call budget must not be negative, got %f", c.PerCallBudgetUSD)
	}
	switch c.StoreBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Invalid float in environment, using default")
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	// Accept bare seconds for compatibility with plain numeric settings.
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Invalid duration in environment, using default")
		return fallback
	}
	return v
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
