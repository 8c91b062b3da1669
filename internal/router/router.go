// Package router selects an LLM provider for each request by matching
// routing rules against the request context, and falls back across the
// remaining active providers when the chosen one fails.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coachpipe/coachpipe/internal/models"
	"github.com/coachpipe/coachpipe/internal/provider"
)

// Result is the outcome of a routed generation call.
type Result struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Response string `json:"response"`
	Fallback bool   `json:"fallback"`
}

// Router holds the registered providers and routing rules.
type Router struct {
	mu        sync.RWMutex
	providers map[string]provider.LLMProvider
	rules     []models.RoutingRule
	metrics   *Metrics
}

// New creates an empty router. metrics may be nil.
func New(metrics *Metrics) *Router {
	return &Router{
		providers: make(map[string]provider.LLMProvider),
		metrics:   metrics,
	}
}

// AddProvider registers a provider under its configured ID, replacing any
// existing provider with the same ID.
func (r *Router) AddProvider(p provider.LLMProvider) error {
	cfg := p.Config()
	if cfg.ID == "" {
		return fmt.Errorf("AddProvider: provider config has empty ID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[cfg.ID] = p
	slog.Info("Router.AddProvider: provider registered", "id", cfg.ID, "type", cfg.Type, "active", cfg.Active)
	return nil
}

// RemoveProvider unregisters a provider by ID.
func (r *Router) RemoveProvider(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return fmt.Errorf("RemoveProvider: %w: %s", models.ErrProviderNotFound, id)
	}
	delete(r.providers, id)
	return nil
}

// GetProvider returns the provider registered under id.
func (r *Router) GetProvider(id string) (provider.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("GetProvider: %w: %s", models.ErrProviderNotFound, id)
	}
	return p, nil
}

// AllProviders returns the configs of every registered provider.
func (r *Router) AllProviders() []models.ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ProviderConfig, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Config())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddRule inserts a routing rule, keeping the rule list sorted by
// descending priority. A rule with the same ID is replaced.
func (r *Router) AddRule(rule models.RoutingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rules {
		if r.rules[i].ID == rule.ID {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			break
		}
	}
	r.rules = append(r.rules, rule)
	sort.SliceStable(r.rules, func(i, j int) bool { return r.rules[i].Priority > r.rules[j].Priority })
}

// RemoveRule deletes a rule by ID.
func (r *Router) RemoveRule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rules {
		if r.rules[i].ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("RemoveRule: rule not found: %s", id)
}

// Rules returns a copy of the rule list in evaluation order.
func (r *Router) Rules() []models.RoutingRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.RoutingRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Route resolves the provider ID and model for a request context without
// issuing a call. Rules are evaluated in descending priority; the first
// active rule whose conditions all match and whose provider is registered
// and active wins. With no matching rule the active provider with the
// lowest fallback order is used with its default model.
func (r *Router) Route(reqCtx models.RequestContext) (string, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.routeLocked(reqCtx)
}

func (r *Router) routeLocked(reqCtx models.RequestContext) (string, string, error) {
	for i := range r.rules {
		rule := &r.rules[i]
		if !rule.Active || !rule.Matches(reqCtx) {
			continue
		}
		p, ok := r.providers[rule.Provider]
		if !ok {
			continue
		}
		cfg := p.Config()
		if !cfg.Active {
			continue
		}
		model := rule.Model
		if model == "" || !cfg.SupportsModel(model) {
			model = cfg.DefaultModel
		}
		return cfg.ID, model, nil
	}
	chain := r.fallbackChainLocked("")
	if len(chain) == 0 {
		return "", "", models.ErrNoAvailableProviders
	}
	cfg := chain[0].Config()
	return cfg.ID, cfg.DefaultModel, nil
}

// fallbackChainLocked returns active providers in ascending fallback
// order, excluding the given ID.
func (r *Router) fallbackChainLocked(exclude string) []provider.LLMProvider {
	var chain []provider.LLMProvider
	for id, p := range r.providers {
		if id == exclude {
			continue
		}
		if !p.Config().Active {
			continue
		}
		chain = append(chain, p)
	}
	sort.Slice(chain, func(i, j int) bool {
		ci, cj := chain[i].Config(), chain[j].Config()
		if ci.FallbackOrder != cj.FallbackOrder {
			return ci.FallbackOrder < cj.FallbackOrder
		}
		return ci.ID < cj.ID
	})
	return chain
}

// RouteRequest resolves a provider for the request context and issues the
// generation call, walking the fallback chain on failure. Every call is
// bounded by the provider's configured timeout.
func (r *Router) RouteRequest(ctx context.Context, prompt string, reqCtx models.RequestContext, opts provider.GenerateOptions) (*Result, error) {
	r.mu.RLock()
	primaryID, model, err := r.routeLocked(reqCtx)
	if err != nil {
		r.mu.RUnlock()
		return nil, fmt.Errorf("RouteRequest: %w", err)
	}
	primary := r.providers[primaryID]
	chain := r.fallbackChainLocked(primaryID)
	r.mu.RUnlock()

	resp, err := r.call(ctx, primary, prompt, model, opts)
	if err == nil {
		return &Result{Provider: primaryID, Model: model, Response: resp}, nil
	}
	slog.Warn("Router.RouteRequest: primary provider failed", "provider", primaryID, "error", err)

	for _, p := range chain {
		cfg := p.Config()
		r.metrics.ObserveFallback(primaryID, cfg.ID)
		resp, ferr := r.call(ctx, p, prompt, cfg.DefaultModel, opts)
		if ferr == nil {
			slog.Info("Router.RouteRequest: fallback provider succeeded", "provider", cfg.ID, "after", primaryID)
			return &Result{Provider: cfg.ID, Model: cfg.DefaultModel, Response: resp, Fallback: true}, nil
		}
		slog.Warn("Router.RouteRequest: fallback provider failed", "provider", cfg.ID, "error", ferr)
	}
	return nil, fmt.Errorf("RouteRequest: all providers failed: %w", models.ErrNoAvailableProviders)
}

// call issues up to the provider's attempt budget of generation calls,
// each bounded by the provider's timeout. Timeouts are not retried: the
// attempt already consumed its full time budget.
func (r *Router) call(ctx context.Context, p provider.LLMProvider, prompt, model string, opts provider.GenerateOptions) (string, error) {
	cfg := p.Config()
	var lastErr error
	for attempt := 1; attempt <= cfg.CallRetries(); attempt++ {
		resp, err := r.callOnce(ctx, p, prompt, model, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, models.ErrProviderTimeout) || ctx.Err() != nil {
			break
		}
		slog.Warn("Router.call: attempt failed", "provider", cfg.ID, "attempt", attempt, "error", err)
	}
	return "", lastErr
}

// callOnce issues one provider call bounded by the provider's timeout.
func (r *Router) callOnce(ctx context.Context, p provider.LLMProvider, prompt, model string, opts provider.GenerateOptions) (string, error) {
	cfg := p.Config()
	callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout())
	defer cancel()

	start := time.Now()
	resp, err := p.GenerateResponse(callCtx, prompt, model, opts)
	r.metrics.ObserveCallLatency(cfg.ID, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			r.metrics.ObserveTimeout(cfg.ID)
			r.metrics.ObserveRequest(cfg.ID, "timeout")
			return "", fmt.Errorf("%w: %s", models.ErrProviderTimeout, cfg.ID)
		}
		r.metrics.ObserveRequest(cfg.ID, "error")
		return "", err
	}
	r.metrics.ObserveRequest(cfg.ID, "ok")
	return resp, nil
}
