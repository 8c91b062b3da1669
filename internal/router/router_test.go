package router

import (
	"context"
	"errors"
	"testing"

	"github.com/coachpipe/coachpipe/internal/models"
	"github.com/coachpipe/coachpipe/internal/provider"
)

func staticProvider(id string, fallbackOrder int) *provider.StaticProvider {
	return provider.NewStaticProvider(models.ProviderConfig{
		ID:            id,
		Type:          models.ProviderStatic,
		Models:        []string{"canned-1"},
		DefaultModel:  "canned-1",
		Active:        true,
		FallbackOrder: fallbackOrder,
	})
}

func TestRouteHighestPriorityRuleWins(t *testing.T) {
	r := New(nil)
	if err := r.AddProvider(staticProvider("alpha", 1)); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	if err := r.AddProvider(staticProvider("beta", 2)); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	r.AddRule(models.RoutingRule{ID: "low", Provider: "alpha", Model: "canned-1", Priority: 1, Active: true})
	r.AddRule(models.RoutingRule{ID: "high", Provider: "beta", Model: "canned-1", Priority: 10, Active: true})

	id, model, err := r.Route(models.RequestContext{Domain: models.DomainCareer, Language: "en"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if id != "beta" {
		t.Errorf("expected provider beta, got %s", id)
	}
	if model != "canned-1" {
		t.Errorf("expected model canned-1, got %s", model)
	}
}

func TestRouteConditionsFilterRules(t *testing.T) {
	r := New(nil)
	if err := r.AddProvider(staticProvider("alpha", 1)); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	if err := r.AddProvider(staticProvider("beta", 2)); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	r.AddRule(models.RoutingRule{
		ID:       "health-only",
		Domains:  []models.DomainOfLife{models.DomainHealth},
		Provider: "beta",
		Priority: 10,
		Active:   true,
	})
	r.AddRule(models.RoutingRule{ID: "catchall", Provider: "alpha", Priority: 1, Active: true})

	id, _, err := r.Route(models.RequestContext{Domain: models.DomainCareer})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if id != "alpha" {
		t.Errorf("career request should skip the health-only rule, got %s", id)
	}

	id, _, err = r.Route(models.RequestContext{Domain: models.DomainHealth})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if id != "beta" {
		t.Errorf("health request should hit the health-only rule, got %s", id)
	}
}

func TestRouteNoRulesUsesLowestFallbackOrder(t *testing.T) {
	r := New(nil)
	if err := r.AddProvider(staticProvider("backup", 5)); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	if err := r.AddProvider(staticProvider("primary", 1)); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}

	id, _, err := r.Route(models.RequestContext{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if id != "primary" {
		t.Errorf("expected lowest fallback order provider, got %s", id)
	}
}

func TestRouteSkipsInactiveProvider(t *testing.T) {
	r := New(nil)
	inactive := staticProvider("off", 1)
	cfg := inactive.Config()
	cfg.Active = false
	inactive2 := provider.NewStaticProvider(cfg)
	if err := r.AddProvider(inactive2); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	if err := r.AddProvider(staticProvider("on", 2)); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	r.AddRule(models.RoutingRule{ID: "prefers-off", Provider: "off", Priority: 10, Active: true})

	id, _, err := r.Route(models.RequestContext{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if id != "on" {
		t.Errorf("inactive provider should be skipped, got %s", id)
	}
}

func TestRouteNoProvidersAvailable(t *testing.T) {
	r := New(nil)
	_, _, err := r.Route(models.RequestContext{})
	if !errors.Is(err, models.ErrNoAvailableProviders) {
		t.Errorf("expected ErrNoAvailableProviders, got %v", err)
	}
}

func TestRouteRequestFallsBackOnFailure(t *testing.T) {
	r := New(nil)
	failing := staticProvider("flaky", 1)
	failing.Err = errors.New("upstream 500")
	backup := staticProvider("steady", 2)
	backup.Response = "All good."
	if err := r.AddProvider(failing); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	if err := r.AddProvider(backup); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	r.AddRule(models.RoutingRule{ID: "default", Provider: "flaky", Priority: 1, Active: true})

	res, err := r.RouteRequest(context.Background(), "hello", models.RequestContext{}, provider.GenerateOptions{})
	if err != nil {
		t.Fatalf("RouteRequest: %v", err)
	}
	if res.Provider != "steady" {
		t.Errorf("expected fallback to steady, got %s", res.Provider)
	}
	if !res.Fallback {
		t.Error("expected result to be flagged as fallback")
	}
	if res.Response != "All good." {
		t.Errorf("unexpected response %q", res.Response)
	}
	if len(failing.Calls) != models.DefaultMaxRetries {
		t.Errorf("expected flaky to exhaust its attempt budget of %d, got %d calls", models.DefaultMaxRetries, len(failing.Calls))
	}
}

// transientProvider fails a fixed number of times, then succeeds.
type transientProvider struct {
	cfg      models.ProviderConfig
	failures int
	calls    int
}

func (p *transientProvider) GenerateResponse(ctx context.Context, prompt, model string, opts provider.GenerateOptions) (string, error) {
	p.calls++
	if p.calls <= p.failures {
		return "", errors.New("upstream 500")
	}
	return "Recovered.", nil
}

func (p *transientProvider) Config() models.ProviderConfig { return p.cfg }

func TestRouteRequestRetriesTransientFailure(t *testing.T) {
	r := New(nil)
	shaky := &transientProvider{
		cfg:      staticProvider("shaky", 1).Config(),
		failures: 2,
	}
	if err := r.AddProvider(shaky); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}

	res, err := r.RouteRequest(context.Background(), "hello", models.RequestContext{}, provider.GenerateOptions{})
	if err != nil {
		t.Fatalf("RouteRequest: %v", err)
	}
	if res.Fallback {
		t.Error("retries should recover on the primary without falling back")
	}
	if res.Response != "Recovered." {
		t.Errorf("unexpected response %q", res.Response)
	}
	if shaky.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", shaky.calls)
	}
}

func TestRouteRequestHonorsMaxRetries(t *testing.T) {
	r := New(nil)
	cfg := staticProvider("once", 1).Config()
	cfg.MaxRetries = 1
	failing := provider.NewStaticProvider(cfg)
	failing.Err = errors.New("upstream 500")
	if err := r.AddProvider(failing); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}

	if _, err := r.RouteRequest(context.Background(), "hello", models.RequestContext{}, provider.GenerateOptions{}); err == nil {
		t.Fatal("expected error with every attempt failing")
	}
	if len(failing.Calls) != 1 {
		t.Errorf("max_retries=1 should allow a single attempt, got %d", len(failing.Calls))
	}
}

func TestRouteRequestAllProvidersFail(t *testing.T) {
	r := New(nil)
	a := staticProvider("a", 1)
	a.Err = errors.New("boom")
	b := staticProvider("b", 2)
	b.Err = errors.New("boom")
	if err := r.AddProvider(a); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	if err := r.AddProvider(b); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}

	_, err := r.RouteRequest(context.Background(), "hello", models.RequestContext{}, provider.GenerateOptions{})
	if !errors.Is(err, models.ErrNoAvailableProviders) {
		t.Errorf("expected ErrNoAvailableProviders, got %v", err)
	}
}

func TestAddRuleReplacesByID(t *testing.T) {
	r := New(nil)
	r.AddRule(models.RoutingRule{ID: "r1", Provider: "alpha", Priority: 1, Active: true})
	r.AddRule(models.RoutingRule{ID: "r1", Provider: "beta", Priority: 5, Active: true})

	rules := r.Rules()
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].Provider != "beta" || rules[0].Priority != 5 {
		t.Errorf("rule was not replaced: %+v", rules[0])
	}
}

func TestRemoveRule(t *testing.T) {
	r := New(nil)
	r.AddRule(models.RoutingRule{ID: "r1", Provider: "alpha", Priority: 1, Active: true})
	if err := r.RemoveRule("r1"); err != nil {
		t.Fatalf("RemoveRule: %v", err)
	}
	if err := r.RemoveRule("r1"); err == nil {
		t.Error("expected error removing missing rule")
	}
}

func TestRemoveProvider(t *testing.T) {
	r := New(nil)
	if err := r.AddProvider(staticProvider("alpha", 1)); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	if err := r.RemoveProvider("alpha"); err != nil {
		t.Fatalf("RemoveProvider: %v", err)
	}
	if err := r.RemoveProvider("alpha"); !errors.Is(err, models.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}
