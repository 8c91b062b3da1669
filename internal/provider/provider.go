// Package provider implements the LLM backend adapters.
//
// Each adapter maps one vendor API onto the LLMProvider interface the
// router calls. Adapters hold no routing logic: timeouts, fallback and
// retries are the router's job.
package provider

import (
	"context"
	"fmt"

	"github.com/coachpipe/coachpipe/internal/models"
)

// GenerateOptions are per-call overrides of the provider's defaults.
type GenerateOptions struct {
	Temperature *float64
	MaxTokens   *int
	Language    string
}

// LLMProvider generates one completion for a fully built prompt.
type LLMProvider interface {
	GenerateResponse(ctx context.Context, prompt, model string, opts GenerateOptions) (string, error)
	Config() models.ProviderConfig
}

// New builds the adapter for a provider configuration.
func New(cfg models.ProviderConfig) (LLMProvider, error) {
	switch cfg.Type {
	case models.ProviderOpenAI, models.ProviderGrok:
		return NewOpenAIProvider(cfg)
	case models.ProviderGemini:
		return NewGeminiProvider(cfg)
	case models.ProviderStatic:
		return NewStaticProvider(cfg), nil
	default:
		return nil, fmt.Errorf("provider.New: unknown provider type %q", cfg.Type)
	}
}

// temperature resolves the effective sampling temperature.
func temperature(cfg models.ProviderConfig, opts GenerateOptions) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	return cfg.Temperature
}

// maxTokens resolves the effective completion token cap.
func maxTokens(cfg models.ProviderConfig, opts GenerateOptions) int {
	if opts.MaxTokens != nil {
		return *opts.MaxTokens
	}
	return cfg.MaxTokens
}
