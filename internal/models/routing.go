package models

import "time"

// ProviderType names a supported LLM backend vendor.
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderGemini ProviderType = "gemini"
	ProviderGrok   ProviderType = "grok"
	// ProviderStatic returns canned responses; used in tests and dry runs.
	ProviderStatic ProviderType = "static"
)

// Routing defaults
const (
	// DefaultProviderTimeout bounds a single provider call when the config omits one.
	DefaultProviderTimeout = 30 * time.Second
	// DefaultMaxRetries is the attempt budget per provider within one routed request.
	DefaultMaxRetries = 3
)

// ProviderConfig is the static configuration for one provider adapter.
type ProviderConfig struct {
	ID            string        `json:"id"`
	Type          ProviderType  `json:"type"`
	Models        []string      `json:"models"`
	DefaultModel  string        `json:"default_model"`
	Temperature   float64       `json:"temperature"`
	MaxTokens     int           `json:"max_tokens"`
	Timeout       time.Duration `json:"timeout"`
	MaxRetries    int           `json:"max_retries,omitempty"`
	Active        bool          `json:"active"`
	FallbackOrder int           `json:"fallback_order"`
	APIKey        string        `json:"-"`
	BaseURL       string        `json:"base_url,omitempty"`
}

// CallTimeout returns the configured timeout or the default.
func (c *ProviderConfig) CallTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultProviderTimeout
}

// CallRetries returns the configured per-request attempt budget or the default.
func (c *ProviderConfig) CallRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return DefaultMaxRetries
}

// SupportsModel reports whether the model is in the provider's supported list.
func (c *ProviderConfig) SupportsModel(model string) bool {
	for _, m := range c.Models {
		if m == model {
			return true
		}
	}
	return false
}

// RoutingRule maps request context to a provider and model.
// Absent condition slices are wildcards; present ones must contain the
// request's value for the rule to match.
type RoutingRule struct {
	ID        string         `json:"id"`
	Domains   []DomainOfLife `json:"domains,omitempty"`
	Languages []string       `json:"languages,omitempty"`
	UserTypes []UserType     `json:"user_types,omitempty"`
	AgeBands  []AgeBand      `json:"age_bands,omitempty"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Priority  int            `json:"priority"`
	Active    bool           `json:"active"`
}

// RequestContext is the routing-relevant slice of a chat request.
type RequestContext struct {
	Domain   DomainOfLife `json:"domain"`
	Language string       `json:"language"`
	UserType UserType     `json:"user_type"`
	AgeBand  AgeBand      `json:"age_band"`
}

// Matches reports whether every condition the rule specifies is satisfied
// by the request context.
func (r *RoutingRule) Matches(ctx RequestContext) bool {
	if len(r.Domains) > 0 && !containsDomain(r.Domains, ctx.Domain) {
		return false
	}
	if len(r.Languages) > 0 && !containsString(r.Languages, ctx.Language) {
		return false
	}
	if len(r.UserTypes) > 0 && !containsUserType(r.UserTypes, ctx.UserType) {
		return false
	}
	if len(r.AgeBands) > 0 && !containsAgeBand(r.AgeBands, ctx.AgeBand) {
		return false
	}
	return true
}

func containsDomain(list []DomainOfLife, d DomainOfLife) bool {
	for _, v := range list {
		if v == d {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsUserType(list []UserType, u UserType) bool {
	for _, v := range list {
		if v == u {
			return true
		}
	}
	return false
}

func containsAgeBand(list []AgeBand, a AgeBand) bool {
	for _, v := range list {
		if v == a {
			return true
		}
	}
	return false
}
