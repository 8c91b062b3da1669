// Package stage implements the five-stage conversation machine.
//
// Transitions are guarded by slot-ledger coverage and the user's latest
// structured selections. Each stage also contributes a natural-language
// directive that becomes part of the LLM prompt.
package stage

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/coachpipe/coachpipe/internal/ledger"
	"github.com/coachpipe/coachpipe/internal/models"
)

// DiscoverCoverageThreshold gates the DISCOVER to MIRROR transition.
const DiscoverCoverageThreshold = 0.8

// guardInput is everything a transition guard may look at.
type guardInput struct {
	coverage  float64
	conflicts int
	responses []models.UserResponse
}

// transition is one (from, to, guard) entry of the transition table.
type transition struct {
	from        models.Stage
	to          models.Stage
	guard       func(guardInput) bool
	description string
}

// transitions is scanned top to bottom; the first passing guard wins, so
// ordering matters for stages with multiple outgoing edges.
var transitions = []transition{
	{
		from: models.StageDiscover,
		to:   models.StageMirror,
		guard: func(in guardInput) bool {
			return in.coverage >= DiscoverCoverageThreshold && in.conflicts == 0
		},
		description: "80% of required slots known and no conflicts",
	},
	{
		from: models.StageMirror,
		to:   models.StageOptions,
		guard: func(in guardInput) bool {
			return lastSelectionIncludes(in.responses, "yes")
		},
		description: "user confirmed the mirrored understanding",
	},
	{
		from: models.StageMirror,
		to:   models.StageDiscover,
		guard: func(in guardInput) bool {
			return lastSelectionIncludes(in.responses, "no")
		},
		description: "user rejected the mirrored understanding",
	},
	{
		from: models.StageOptions,
		to:   models.StagePlan,
		guard: func(in guardInput) bool {
			last, ok := lastResponse(in.responses)
			return ok && last.HasSelection()
		},
		description: "at least one pathway chosen",
	},
	{
		from: models.StagePlan,
		to:   models.StageHandoff,
		guard: func(in guardInput) bool {
			return in.coverage >= 1.0 && in.conflicts == 0
		},
		description: "all required slots complete and consistent",
	},
}

func lastResponse(responses []models.UserResponse) (models.UserResponse, bool) {
	if len(responses) == 0 {
		return models.UserResponse{}, false
	}
	return responses[len(responses)-1], true
}

// lastSelectionIncludes matches against stable option values, not display
// labels, so localized option text cannot break transitions. Values are
// compared case-insensitively; a label equal to the value is accepted as a
// fallback for clients that echo labels.
func lastSelectionIncludes(responses []models.UserResponse, value string) bool {
	last, ok := lastResponse(responses)
	if !ok {
		return false
	}
	for _, sel := range last.Selected {
		if strings.EqualFold(sel, value) {
			return true
		}
	}
	return false
}

// Machine tracks the current stage per thread and evaluates transitions
// against the slot ledger.
type Machine struct {
	mu      sync.RWMutex
	stages  map[string]models.Stage
	ledgers *ledger.Manager
}

// NewMachine creates a stage machine backed by the given ledger manager.
func NewMachine(ledgers *ledger.Manager) *Machine {
	return &Machine{
		stages:  make(map[string]models.Stage),
		ledgers: ledgers,
	}
}

// CurrentStage returns the thread's stage, defaulting to DISCOVER.
func (m *Machine) CurrentStage(threadID string) models.Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.stages[threadID]; ok {
		return s
	}
	return models.StageDiscover
}

// SetStage forces the thread to a stage; used when rehydrating a thread
// from the store.
func (m *Machine) SetStage(threadID string, stage models.Stage) error {
	if !models.IsValidStage(stage) {
		return fmt.Errorf("SetStage: %w: %s", models.ErrInvalidStage, stage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[threadID] = stage
	return nil
}

// CanTransition evaluates the guard for a specific edge of the table.
func (m *Machine) CanTransition(threadID string, from, to models.Stage, domain models.DomainOfLife, responses []models.UserResponse) bool {
	for _, t := range transitions {
		if t.from != from || t.to != to {
			continue
		}
		return t.guard(m.guardInput(threadID, domain, responses))
	}
	return false
}

// NextStage scans transitions out of the current stage and returns the
// first whose guard passes. The second return is false when no transition
// applies.
func (m *Machine) NextStage(threadID string, domain models.DomainOfLife, responses []models.UserResponse) (models.Stage, bool) {
	current := m.CurrentStage(threadID)
	in := m.guardInput(threadID, domain, responses)
	for _, t := range transitions {
		if t.from != current {
			continue
		}
		if t.guard(in) {
			return t.to, true
		}
	}
	return current, false
}

// TransitionToNext commits the first applicable transition and returns the
// resulting stage, which is unchanged when no guard passes.
func (m *Machine) TransitionToNext(threadID string, domain models.DomainOfLife, responses []models.UserResponse) models.Stage {
	next, ok := m.NextStage(threadID, domain, responses)
	if !ok {
		return m.CurrentStage(threadID)
	}
	m.mu.Lock()
	m.stages[threadID] = next
	m.mu.Unlock()
	slog.Info("Machine.TransitionToNext: stage transition", "threadID", threadID, "to", next)
	return next
}

func (m *Machine) guardInput(threadID string, domain models.DomainOfLife, responses []models.UserResponse) guardInput {
	return guardInput{
		coverage:  m.ledgers.Coverage(threadID, domain),
		conflicts: len(m.ledgers.Conflicts(threadID)),
		responses: responses,
	}
}

// StagePrompt returns the stage directive embedded into the LLM prompt.
func (m *Machine) StagePrompt(threadID string, domain models.DomainOfLife) string {
	switch m.CurrentStage(threadID) {
	case models.StageDiscover:
		unknown := m.ledgers.UnknownSlots(threadID, domain)
		return fmt.Sprintf("You are in DISCOVER stage. Ask questions to gather information about: %s. Focus on understanding the user's core intent and constraints. Ask at most %d questions per turn.",
			strings.Join(unknown, ", "), models.MaxQuestionBlocks)
	case models.StageMirror:
		return fmt.Sprintf("You are in MIRROR stage. Reflect back what you understand about: %s. Ask a single Yes/No question to confirm understanding.",
			knownSummary(m.ledgers.KnownSlots(threadID)))
	case models.StageOptions:
		return "You are in OPTIONS stage. Offer 2-4 actionable pathways based on what you've learned. Use multi-select questions. Include examples only if needed."
	case models.StagePlan:
		remaining := m.ledgers.UnknownSlots(threadID, domain)
		return fmt.Sprintf("You are in PLAN stage. Create a detailed plan. Fill remaining slots: %s. Ask at most %d targeted questions per turn.",
			strings.Join(remaining, ", "), models.MaxQuestionBlocks)
	case models.StageHandoff:
		return "You are in HANDOFF stage. Finalize the plan and provide next steps. Use <CODE>DONE</CODE> and <STRUCT>REPORT</STRUCT> or <STRUCT>SCHEDULE</STRUCT>."
	}
	return "Continue the conversation appropriately."
}

// knownSummary renders known slots as "slot: value" pairs in a stable order.
func knownSummary(known map[string]string) string {
	keys := make([]string, 0, len(known))
	for k := range known {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+": "+known[k])
	}
	return strings.Join(pairs, ", ")
}
