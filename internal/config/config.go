// Package config loads CoachPipe configuration from the environment and
// optional JSON files for providers and routing rules.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/coachpipe/coachpipe/internal/models"
	"github.com/coachpipe/coachpipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CoachPipe state data
	DefaultStateDir = "/var/lib/coachpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "coachpipe.db"
	// DefaultAPIAddr is the default API listen address
	DefaultAPIAddr = ":8080"
	// DefaultSweepCron runs the stale-thread sweep at the top of every hour
	DefaultSweepCron = "0 * * * *"
	// DefaultProviderMaxTokens caps completion length for the default provider set
	DefaultProviderMaxTokens = 1024
)

// Config holds environment configuration.
type Config struct {
	StateDir    string
	DatabaseDSN string
	RedisAddr   string
	APIAddr     string

	OpenAIKey string
	GeminiKey string
	GrokKey   string

	ProvidersFile string
	RulesFile     string

	Persona           string
	ProviderMaxTokens int
	StaleThreadWindow time.Duration
	SweepCron         string

	ProfanityFilter bool
	PIIFilter       bool
	EvidenceMode    bool
}

// Load reads configuration from a .env file (if present) and the
// environment, applying defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := Config{
		StateDir:          os.Getenv("COACHPIPE_STATE_DIR"),
		DatabaseDSN:       os.Getenv("COACHPIPE_DB_DSN"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		APIAddr:           os.Getenv("API_ADDR"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiKey:         os.Getenv("GEMINI_API_KEY"),
		GrokKey:           os.Getenv("XAI_API_KEY"),
		ProvidersFile:     os.Getenv("COACHPIPE_PROVIDERS_FILE"),
		RulesFile:         os.Getenv("COACHPIPE_RULES_FILE"),
		Persona:           os.Getenv("COACHPIPE_PERSONA"),
		SweepCron:         os.Getenv("COACHPIPE_SWEEP_CRON"),
		ProviderMaxTokens: util.ParseIntEnv("COACHPIPE_PROVIDER_MAX_TOKENS", DefaultProviderMaxTokens),
		StaleThreadWindow: util.ParseDurationEnv("COACHPIPE_STALE_WINDOW", 24*time.Hour),
		ProfanityFilter:   util.ParseBoolEnv("COACHPIPE_PROFANITY_FILTER", true),
		PIIFilter:         util.ParseBoolEnv("COACHPIPE_PII_FILTER", true),
		EvidenceMode:      util.ParseBoolEnv("COACHPIPE_EVIDENCE_MODE", true),
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DatabaseDSN)
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = DefaultAPIAddr
	}
	if cfg.SweepCron == "" {
		cfg.SweepCron = DefaultSweepCron
	}

	slog.Debug("environment configuration loaded",
		"state_dir", cfg.StateDir,
		"dsn_set", cfg.DatabaseDSN != "",
		"redis_set", cfg.RedisAddr != "",
		"api_addr", cfg.APIAddr,
		"openai_key_set", cfg.OpenAIKey != "",
		"gemini_key_set", cfg.GeminiKey != "",
		"grok_key_set", cfg.GrokKey != "")

	return cfg
}

// LoadProviders reads provider configs from a JSON file, or builds the
// default provider set from configured API keys when no file is given.
func LoadProviders(cfg Config) ([]models.ProviderConfig, error) {
	if cfg.ProvidersFile != "" {
		data, err := os.ReadFile(cfg.ProvidersFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read providers file: %w", err)
		}
		var providers []models.ProviderConfig
		if err := json.Unmarshal(data, &providers); err != nil {
			return nil, fmt.Errorf("failed to parse providers file: %w", err)
		}
		return providers, nil
	}
	return DefaultProviders(cfg), nil
}

// LoadRules reads routing rules from a JSON file. No file means no rules.
func LoadRules(cfg Config) ([]models.RoutingRule, error) {
	if cfg.RulesFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var rules []models.RoutingRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return rules, nil
}

// DefaultProviders builds the provider set from configured API keys in
// default fallback order: openai, gemini, grok. With no keys at all the
// set degrades to the static provider so the service still starts.
func DefaultProviders(cfg Config) []models.ProviderConfig {
	maxTokens := cfg.ProviderMaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultProviderMaxTokens
	}
	var providers []models.ProviderConfig
	if cfg.OpenAIKey != "" {
		providers = append(providers, models.ProviderConfig{
			ID:            "openai",
			Type:          models.ProviderOpenAI,
			Models:        []string{"gpt-4o", "gpt-4o-mini"},
			DefaultModel:  "gpt-4o-mini",
			Temperature:   0.7,
			MaxTokens:     maxTokens,
			Active:        true,
			FallbackOrder: 1,
			APIKey:        cfg.OpenAIKey,
		})
	}
	if cfg.GeminiKey != "" {
		providers = append(providers, models.ProviderConfig{
			ID:            "gemini",
			Type:          models.ProviderGemini,
			Models:        []string{"gemini-1.5-pro", "gemini-1.5-flash"},
			DefaultModel:  "gemini-1.5-flash",
			Temperature:   0.7,
			MaxTokens:     maxTokens,
			Active:        true,
			FallbackOrder: 2,
			APIKey:        cfg.GeminiKey,
		})
	}
	if cfg.GrokKey != "" {
		providers = append(providers, models.ProviderConfig{
			ID:            "grok",
			Type:          models.ProviderGrok,
			Models:        []string{"grok-2"},
			DefaultModel:  "grok-2",
			Temperature:   0.7,
			MaxTokens:     maxTokens,
			Active:        true,
			FallbackOrder: 3,
			APIKey:        cfg.GrokKey,
		})
	}
	if len(providers) == 0 {
		slog.Warn("config.DefaultProviders: no API keys configured, using static provider")
		providers = append(providers, models.ProviderConfig{
			ID:            "static",
			Type:          models.ProviderStatic,
			Models:        []string{"canned-1"},
			DefaultModel:  "canned-1",
			Active:        true,
			FallbackOrder: 99,
		})
	}
	return providers
}
