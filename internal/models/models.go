// Package models defines the core data structures for CoachPipe.
//
// It includes conversation threads, messages, parsed assistant turns, and the
// provider/routing configuration types shared across modules.
package models

import (
	"errors"
	"time"
)

// Stage identifies the conversational phase of a thread.
type Stage string

const (
	// StageDiscover gathers missing slot information from the user.
	StageDiscover Stage = "DISCOVER"
	// StageMirror reflects the gathered information back for confirmation.
	StageMirror Stage = "MIRROR"
	// StageOptions presents candidate directions to choose from.
	StageOptions Stage = "OPTIONS"
	// StagePlan builds a concrete plan from the chosen direction.
	StagePlan Stage = "PLAN"
	// StageHandoff is the terminal stage; the plan is handed to the user.
	StageHandoff Stage = "HANDOFF"
)

// IsValidStage checks if the given stage is one of the defined phases.
func IsValidStage(s Stage) bool {
	switch s {
	case StageDiscover, StageMirror, StageOptions, StagePlan, StageHandoff:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the stage has no outgoing transitions.
func (s Stage) IsTerminal() bool {
	return s == StageHandoff
}

// ThreadStatus describes the lifecycle state of a thread.
type ThreadStatus string

const (
	// ThreadStatusActive marks a thread that is accepting turns.
	ThreadStatusActive ThreadStatus = "active"
	// ThreadStatusCompleted marks a thread that reached HANDOFF with flow state DONE.
	ThreadStatusCompleted ThreadStatus = "completed"
	// ThreadStatusPaused marks a thread idled past the stale window.
	ThreadStatusPaused ThreadStatus = "paused"
)

// DomainOfLife tags a thread with the coaching domain it covers.
type DomainOfLife string

const (
	DomainCareer         DomainOfLife = "career"
	DomainRelationships  DomainOfLife = "relationships"
	DomainHealth         DomainOfLife = "health"
	DomainFinance        DomainOfLife = "finance"
	DomainEducation      DomainOfLife = "education"
	DomainPersonalGrowth DomainOfLife = "personal-growth"
	DomainFamily         DomainOfLife = "family"
	DomainHobbies        DomainOfLife = "hobbies"
)

// AllDomains lists every supported coaching domain.
var AllDomains = []DomainOfLife{
	DomainCareer,
	DomainRelationships,
	DomainHealth,
	DomainFinance,
	DomainEducation,
	DomainPersonalGrowth,
	DomainFamily,
	DomainHobbies,
}

// IsValidDomain checks if the given domain is supported.
func IsValidDomain(d DomainOfLife) bool {
	for _, known := range AllDomains {
		if d == known {
			return true
		}
	}
	return false
}

// AgeBand buckets users for age-appropriate content checks.
type AgeBand string

const (
	AgeBandChild  AgeBand = "child"
	AgeBandTeen   AgeBand = "teen"
	AgeBandAdult  AgeBand = "adult"
	AgeBandSenior AgeBand = "senior"
)

// UserType buckets users for feature gating and tone defaults.
type UserType string

const (
	UserTypeStudent      UserType = "student"
	UserTypeProfessional UserType = "professional"
	UserTypeParent       UserType = "parent"
	UserTypeSenior       UserType = "senior"
	UserTypeOther        UserType = "other"
)

// MessageRole identifies the author of a stored message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Validation constants for input validation
const (
	// MaxChatContentLength caps a single user message.
	MaxChatContentLength = 8192
	// MaxQuestionBlocks caps the number of question blocks per assistant turn.
	MaxQuestionBlocks = 4
	// MinQuestionOptions is the minimum option count for a question to survive parsing.
	MinQuestionOptions = 2
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID          = errors.New("user id cannot be empty")
	ErrEmptyContent         = errors.New("message content cannot be empty")
	ErrContentTooLong       = errors.New("message content exceeds maximum length")
	ErrInvalidDomain        = errors.New("invalid domain of life")
	ErrInvalidStage         = errors.New("invalid conversation stage")
	ErrThreadNotFound       = errors.New("thread not found")
	ErrThreadNotActive      = errors.New("thread is not active")
	ErrLedgerNotFound       = errors.New("slot ledger not found")
	ErrUnsupportedLanguage  = errors.New("unsupported language")
	ErrInappropriateContent = errors.New("content failed policy checks")
	ErrNoAvailableProviders = errors.New("no available providers")
	ErrProviderTimeout      = errors.New("provider call timed out")
	ErrProviderNotFound     = errors.New("provider not found")
	ErrJSONResponse         = errors.New("provider returned JSON instead of protocol text")
)

// Thread identifies one coaching conversation.
type Thread struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Domain    DomainOfLife `json:"domain"`
	Language  string       `json:"language"`
	Stage     Stage        `json:"stage"`
	Status    ThreadStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Message is one stored conversation message.
type Message struct {
	ID        string      `json:"id"`
	ThreadID  string      `json:"thread_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// ChatRequest carries one user turn into the worker.
type ChatRequest struct {
	ThreadID string       `json:"thread_id,omitempty"` // empty on the first turn
	UserID   string       `json:"user_id"`
	Content  string       `json:"content"`
	Domain   DomainOfLife `json:"domain,omitempty"`
	Language string       `json:"language,omitempty"`
	UserType UserType     `json:"user_type,omitempty"`
	AgeBand  AgeBand      `json:"age_band,omitempty"`
}

// Validate performs structural validation on a ChatRequest.
func (r *ChatRequest) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if r.Content == "" {
		return ErrEmptyContent
	}
	if len(r.Content) > MaxChatContentLength {
		return ErrContentTooLong
	}
	if r.Domain != "" && !IsValidDomain(r.Domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ChatResponse is the worker's reply for one processed turn.
type ChatResponse struct {
	ThreadID string        `json:"thread_id"`
	Stage    Stage         `json:"stage"`
	Turn     AssistantTurn `json:"turn"`
	Usage    UsageMetrics  `json:"usage"`
}

// UsageMetrics records estimated token usage for one provider call.
type UsageMetrics struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}
