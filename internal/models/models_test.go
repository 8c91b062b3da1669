package models

import (
	"strings"
	"testing"
)

func TestChatRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr error
	}{
		{
			name: "valid request",
			req:  ChatRequest{UserID: "u1", Content: "I want a new job", Domain: DomainCareer},
		},
		{
			name:    "missing user id",
			req:     ChatRequest{Content: "hello"},
			wantErr: ErrEmptyUserID,
		},
		{
			name:    "empty content",
			req:     ChatRequest{UserID: "u1"},
			wantErr: ErrEmptyContent,
		},
		{
			name:    "content too long",
			req:     ChatRequest{UserID: "u1", Content: strings.Repeat("a", MaxChatContentLength+1)},
			wantErr: ErrContentTooLong,
		},
		{
			name:    "unknown domain",
			req:     ChatRequest{UserID: "u1", Content: "hello", Domain: "astrology"},
			wantErr: ErrInvalidDomain,
		},
		{
			name: "domain optional",
			req:  ChatRequest{UserID: "u1", Content: "hello"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageRoleValues(t *testing.T) {
	roles := map[MessageRole]string{
		MessageRoleUser:      "user",
		MessageRoleAssistant: "assistant",
		MessageRoleSystem:    "system",
	}
	for role, want := range roles {
		if string(role) != want {
			t.Errorf("role constant = %q, want %q", role, want)
		}
	}
}

func TestIsValidFlowState(t *testing.T) {
	valid := []FlowState{FlowOK, FlowDelay, FlowLimit, FlowDone, "LIMIT_DAILY", "LIMIT_3"}
	for _, f := range valid {
		if !IsValidFlowState(f) {
			t.Errorf("IsValidFlowState(%q) = false, want true", f)
		}
	}
	invalid := []FlowState{"", "ok", "FINISHED", "LIMIT_", "LIMITX"}
	for _, f := range invalid {
		if IsValidFlowState(f) {
			t.Errorf("IsValidFlowState(%q) = true, want false", f)
		}
	}
}

func TestRoutingRuleMatches(t *testing.T) {
	ctx := RequestContext{
		Domain:   DomainFinance,
		Language: "en",
		UserType: UserTypeProfessional,
		AgeBand:  AgeBandAdult,
	}

	tests := []struct {
		name string
		rule RoutingRule
		want bool
	}{
		{
			name: "empty conditions are wildcards",
			rule: RoutingRule{},
			want: true,
		},
		{
			name: "all conditions satisfied",
			rule: RoutingRule{
				Domains:   []DomainOfLife{DomainFinance, DomainHealth},
				Languages: []string{"en"},
				UserTypes: []UserType{UserTypeProfessional},
				AgeBands:  []AgeBand{AgeBandAdult},
			},
			want: true,
		},
		{
			name: "one condition fails",
			rule: RoutingRule{
				Domains:   []DomainOfLife{DomainFinance},
				Languages: []string{"hi"},
			},
			want: false,
		},
		{
			name: "domain mismatch",
			rule: RoutingRule{Domains: []DomainOfLife{DomainCareer}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Matches(ctx); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAssistantTurnQuestionIDs(t *testing.T) {
	turn := AssistantTurn{
		Blocks: []QuestionBlock{
			{ID: "b1", Questions: []Question{{ID: "q1"}, {ID: "q2"}}},
			{ID: "b2", Questions: []Question{{ID: "q3"}}},
		},
	}
	ids := turn.QuestionIDs()
	want := []string{"q1", "q2", "q3"}
	if len(ids) != len(want) {
		t.Fatalf("QuestionIDs() returned %d ids, want %d", len(ids), len(want))
	}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("QuestionIDs()[%d] = %q, want %q", i, ids[i], id)
		}
	}
}

func TestProviderConfigSupportsModel(t *testing.T) {
	cfg := ProviderConfig{Models: []string{"gpt-4o", "gpt-4o-mini"}}
	if !cfg.SupportsModel("gpt-4o") {
		t.Error("SupportsModel(gpt-4o) = false, want true")
	}
	if cfg.SupportsModel("o3") {
		t.Error("SupportsModel(o3) = true, want false")
	}
}

func TestProviderConfigCallRetries(t *testing.T) {
	cfg := ProviderConfig{}
	if got := cfg.CallRetries(); got != DefaultMaxRetries {
		t.Errorf("CallRetries() = %d, want default %d", got, DefaultMaxRetries)
	}
	cfg.MaxRetries = 1
	if got := cfg.CallRetries(); got != 1 {
		t.Errorf("CallRetries() = %d, want 1", got)
	}
}
