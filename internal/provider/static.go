package provider

import (
	"context"

	"github.com/coachpipe/coachpipe/internal/models"
)

// defaultStaticResponse is a minimal protocol-conformant turn.
const defaultStaticResponse = "Thanks for sharing that. Let's keep going.\n\n" +
	"### QUESTION\n" +
	"Type: single-choice\n" +
	"Prompt: Would you like to continue?\n\n" +
	"Options:\n" +
	"( ) Yes\n" +
	"( ) No\n"

// StaticProvider returns a canned response. It backs tests and dry runs
// where no vendor credentials are available.
type StaticProvider struct {
	cfg      models.ProviderConfig
	Response string
	Err      error
	// Calls records every prompt passed in, newest last.
	Calls []string
}

// NewStaticProvider creates a static adapter with the default canned turn.
func NewStaticProvider(cfg models.ProviderConfig) *StaticProvider {
	return &StaticProvider{cfg: cfg, Response: defaultStaticResponse}
}

// GenerateResponse records the prompt and returns the canned response or error.
func (p *StaticProvider) GenerateResponse(ctx context.Context, prompt, model string, opts GenerateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.Calls = append(p.Calls, prompt)
	if p.Err != nil {
		return "", p.Err
	}
	return p.Response, nil
}

// Config returns the provider's static configuration.
func (p *StaticProvider) Config() models.ProviderConfig {
	return p.cfg
}
