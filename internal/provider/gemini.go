package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/coachpipe/coachpipe/internal/models"
)

// GeminiProvider adapts Google's Gemini API.
type GeminiProvider struct {
	cfg    models.ProviderConfig
	client *genai.Client
}

// NewGeminiProvider creates a Gemini adapter.
func NewGeminiProvider(cfg models.ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("NewGeminiProvider: missing API key for provider %s", cfg.ID)
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("NewGeminiProvider: create client: %w", err)
	}

	return &GeminiProvider{cfg: cfg, client: client}, nil
}

// GenerateResponse sends the prompt as a single message and joins the
// first candidate's text parts.
func (p *GeminiProvider) GenerateResponse(ctx context.Context, prompt, model string, opts GenerateOptions) (string, error) {
	if model == "" {
		model = p.cfg.DefaultModel
	}

	gm := p.client.GenerativeModel(model)
	gm.SetTemperature(float32(temperature(p.cfg, opts)))
	if mt := maxTokens(p.cfg, opts); mt > 0 {
		gm.SetMaxOutputTokens(int32(mt))
	}

	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("GeminiProvider.GenerateResponse: provider %s: %w", p.cfg.ID, err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("GeminiProvider.GenerateResponse: provider %s returned no candidates", p.cfg.ID)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("GeminiProvider.GenerateResponse: provider %s returned empty content", p.cfg.ID)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	slog.Debug("GeminiProvider.GenerateResponse: completion received",
		"provider", p.cfg.ID, "model", model, "length", text.Len())
	return strings.TrimSpace(text.String()), nil
}

// Config returns the provider's static configuration.
func (p *GeminiProvider) Config() models.ProviderConfig {
	return p.cfg
}

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
