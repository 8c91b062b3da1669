package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/coachpipe/coachpipe/internal/models"
)

// GrokBaseURL is the x.ai endpoint, which speaks the OpenAI wire protocol.
const GrokBaseURL = "https://api.x.ai/v1"

// OpenAIProvider adapts the OpenAI chat completions API. It also serves
// Grok: the x.ai API is OpenAI-compatible and only the base URL differs.
type OpenAIProvider struct {
	cfg    models.ProviderConfig
	client openai.Client
}

// NewOpenAIProvider creates an adapter for an OpenAI or Grok configuration.
func NewOpenAIProvider(cfg models.ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("NewOpenAIProvider: missing API key for provider %s", cfg.ID)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	baseURL := cfg.BaseURL
	if baseURL == "" && cfg.Type == models.ProviderGrok {
		baseURL = GrokBaseURL
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}

	return &OpenAIProvider{
		cfg:    cfg,
		client: openai.NewClient(reqOpts...),
	}, nil
}

// GenerateResponse sends the prompt as a single user message and returns
// the first choice's content.
func (p *OpenAIProvider) GenerateResponse(ctx context.Context, prompt, model string, opts GenerateOptions) (string, error) {
	if model == "" {
		model = p.cfg.DefaultModel
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(temperature(p.cfg, opts)),
		MaxTokens:   openai.Int(int64(maxTokens(p.cfg, opts))),
	})
	if err != nil {
		return "", fmt.Errorf("OpenAIProvider.GenerateResponse: provider %s: %w", p.cfg.ID, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAIProvider.GenerateResponse: provider %s returned no choices", p.cfg.ID)
	}

	slog.Debug("OpenAIProvider.GenerateResponse: completion received",
		"provider", p.cfg.ID, "model", model, "length", len(resp.Choices[0].Message.Content))
	return resp.Choices[0].Message.Content, nil
}

// Config returns the provider's static configuration.
func (p *OpenAIProvider) Config() models.ProviderConfig {
	return p.cfg
}
