package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coachpipe/coachpipe/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"COACHPIPE_STATE_DIR", "COACHPIPE_DB_DSN", "DATABASE_URL", "REDIS_ADDR",
		"API_ADDR", "OPENAI_API_KEY", "GEMINI_API_KEY", "XAI_API_KEY",
		"COACHPIPE_SWEEP_CRON", "COACHPIPE_STALE_WINDOW",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q, want %q", cfg.StateDir, DefaultStateDir)
	}
	wantDSN := filepath.Join(DefaultStateDir, DefaultDBFileName)
	if cfg.DatabaseDSN != wantDSN {
		t.Errorf("DatabaseDSN = %q, want %q", cfg.DatabaseDSN, wantDSN)
	}
	if cfg.APIAddr != DefaultAPIAddr {
		t.Errorf("APIAddr = %q, want %q", cfg.APIAddr, DefaultAPIAddr)
	}
	if cfg.SweepCron != DefaultSweepCron {
		t.Errorf("SweepCron = %q, want %q", cfg.SweepCron, DefaultSweepCron)
	}
	if cfg.StaleThreadWindow != 24*time.Hour {
		t.Errorf("StaleThreadWindow = %v, want 24h", cfg.StaleThreadWindow)
	}
	if !cfg.ProfanityFilter || !cfg.PIIFilter || !cfg.EvidenceMode {
		t.Error("expected policy toggles to default to true")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COACHPIPE_STATE_DIR", "/tmp/coach")
	t.Setenv("COACHPIPE_DB_DSN", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/coach")
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("COACHPIPE_STALE_WINDOW", "48h")
	t.Setenv("COACHPIPE_PROVIDER_MAX_TOKENS", "2048")
	t.Setenv("COACHPIPE_EVIDENCE_MODE", "false")

	cfg := Load()
	if cfg.DatabaseDSN != "postgres://localhost/coach" {
		t.Errorf("DatabaseDSN = %q, want DATABASE_URL value", cfg.DatabaseDSN)
	}
	if cfg.APIAddr != ":9999" {
		t.Errorf("APIAddr = %q, want :9999", cfg.APIAddr)
	}
	if cfg.StaleThreadWindow != 48*time.Hour {
		t.Errorf("StaleThreadWindow = %v, want 48h", cfg.StaleThreadWindow)
	}
	if cfg.ProviderMaxTokens != 2048 {
		t.Errorf("ProviderMaxTokens = %d, want 2048", cfg.ProviderMaxTokens)
	}
	if cfg.EvidenceMode {
		t.Error("expected EvidenceMode disabled")
	}
}

func TestDefaultProviders(t *testing.T) {
	cfg := Config{OpenAIKey: "sk-test", GrokKey: "xai-test"}
	providers := DefaultProviders(cfg)
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers))
	}
	if providers[0].ID != "openai" || providers[0].FallbackOrder != 1 {
		t.Errorf("unexpected first provider: %+v", providers[0])
	}
	if providers[1].ID != "grok" {
		t.Errorf("unexpected second provider: %+v", providers[1])
	}
	if providers[0].MaxTokens != DefaultProviderMaxTokens {
		t.Errorf("MaxTokens = %d, want default %d", providers[0].MaxTokens, DefaultProviderMaxTokens)
	}

	cfg.ProviderMaxTokens = 256
	providers = DefaultProviders(cfg)
	if providers[0].MaxTokens != 256 {
		t.Errorf("MaxTokens = %d, want configured 256", providers[0].MaxTokens)
	}

	providers = DefaultProviders(Config{})
	if len(providers) != 1 || providers[0].Type != models.ProviderStatic {
		t.Fatalf("expected static fallback provider, got %+v", providers)
	}
}

func TestLoadProvidersFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	data := `[{"id":"openai","type":"openai","models":["gpt-4o"],"default_model":"gpt-4o","active":true,"fallback_order":1}]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write providers file: %v", err)
	}

	providers, err := LoadProviders(Config{ProvidersFile: path})
	if err != nil {
		t.Fatalf("LoadProviders failed: %v", err)
	}
	if len(providers) != 1 || providers[0].ID != "openai" {
		t.Fatalf("unexpected providers: %+v", providers)
	}

	if _, err := LoadProviders(Config{ProvidersFile: filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Error("expected error for missing providers file")
	}
}

func TestLoadRulesFromFile(t *testing.T) {
	rules, err := LoadRules(Config{})
	if err != nil || rules != nil {
		t.Fatalf("expected no rules without a file, got %v, %v", rules, err)
	}

	path := filepath.Join(t.TempDir(), "rules.json")
	data := `[{"id":"health-to-gemini","domains":["health"],"provider":"gemini","priority":10,"active":true}]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}

	rules, err = LoadRules(Config{RulesFile: path})
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if len(rules) != 1 || rules[0].Provider != "gemini" {
		t.Fatalf("unexpected rules: %+v", rules)
	}
}
