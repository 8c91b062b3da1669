// Package ledger tracks per-thread slot coverage.
//
// A ledger records which facts (slots) about the user's goal are known,
// which are still unknown, and which known values contradict each other.
// Coverage against the domain's required-slot list gates stage transitions.
package ledger

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coachpipe/coachpipe/internal/models"
)

// requiredSlots lists the slots every domain must fill before HANDOFF.
// The required set is currently identical across domains; the table is
// keyed per domain so individual domains can diverge.
var requiredSlots = func() map[models.DomainOfLife][]string {
	common := []string{"domainOfLife", "goal", "timeframe", "availability", "resources", "constraints", "language"}
	m := make(map[models.DomainOfLife][]string, len(models.AllDomains))
	for _, d := range models.AllDomains {
		m[d] = common
	}
	return m
}()

// optionalSlots lists domain-specific slots that improve the plan but do
// not gate transitions.
var optionalSlots = map[models.DomainOfLife][]string{
	models.DomainCareer:         {"experience", "industry", "location"},
	models.DomainRelationships:  {"relationshipType", "currentStatus"},
	models.DomainHealth:         {"currentHealth", "medicalHistory"},
	models.DomainFinance:        {"currentIncome", "debtLevel"},
	models.DomainEducation:      {"currentLevel", "subject"},
	models.DomainPersonalGrowth: {"currentSkills", "growthArea"},
	models.DomainFamily:         {"familySize", "familyType"},
	models.DomainHobbies:        {"hobbyType", "skillLevel"},
}

// RequiredSlots returns the required slot ids for a domain.
func RequiredSlots(domain models.DomainOfLife) []string {
	return requiredSlots[domain]
}

// OptionalSlots returns the domain-specific optional slot ids.
func OptionalSlots(domain models.DomainOfLife) []string {
	return optionalSlots[domain]
}

// conflictRule flags a pair of known slot values that contradict each other.
type conflictRule struct {
	slot      string
	otherSlot string
	valueMark string
	otherMark string
}

var conflictRules = []conflictRule{
	{slot: "timeframe", otherSlot: "availability", valueMark: "2 hours/day", otherMark: "no time weekdays"},
	{slot: "availability", otherSlot: "timeframe", valueMark: "no time weekdays", otherMark: "2 hours/day"},
}

// Ledger holds the slot state for one thread.
type Ledger struct {
	ThreadID    string
	Known       map[string]string
	Unknown     map[string]struct{}
	Conflicts   map[string][]string
	LastUpdated time.Time
}

// State is the serializable form of a ledger, for callers that choose to
// persist it across process restarts.
type State struct {
	Known     map[string]string   `json:"known"`
	Unknown   []string            `json:"unknown"`
	Conflicts map[string][]string `json:"conflicts,omitempty"`
}

// Manager owns the in-memory ledgers for all live threads.
type Manager struct {
	mu      sync.RWMutex
	ledgers map[string]*Ledger
}

// NewManager creates an empty ledger manager.
func NewManager() *Manager {
	return &Manager{ledgers: make(map[string]*Ledger)}
}

// Create initializes an empty ledger for the thread, replacing any existing one.
func (m *Manager) Create(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledgers[threadID] = &Ledger{
		ThreadID:    threadID,
		Known:       make(map[string]string),
		Unknown:     make(map[string]struct{}),
		Conflicts:   make(map[string][]string),
		LastUpdated: time.Now(),
	}
	slog.Debug("Manager.Create: ledger initialized", "threadID", threadID)
}

// Exists reports whether a ledger exists for the thread.
func (m *Manager) Exists(threadID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ledgers[threadID]
	return ok
}

// UpdateSlot records a slot value: removes it from the unknown set, runs
// conflict detection against already-known slots, then commits the value.
// Silent no-op when the ledger does not exist; the caller must create it first.
func (m *Manager) UpdateSlot(threadID, slotID, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger, ok := m.ledgers[threadID]
	if !ok {
		slog.Debug("Manager.UpdateSlot: no ledger, ignoring", "threadID", threadID, "slotID", slotID)
		return
	}

	delete(ledger.Unknown, slotID)
	checkConflicts(ledger, slotID, value)
	ledger.Known[slotID] = value
	ledger.LastUpdated = time.Now()
}

// MarkSlotUnknown adds a slot to the unknown set without touching known values.
func (m *Manager) MarkSlotUnknown(threadID, slotID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger, ok := m.ledgers[threadID]
	if !ok {
		return
	}
	ledger.Unknown[slotID] = struct{}{}
	ledger.LastUpdated = time.Now()
}

// Coverage returns the fraction of the domain's required slots that are known.
// A missing ledger has zero coverage.
func (m *Manager) Coverage(threadID string, domain models.DomainOfLife) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ledger, ok := m.ledgers[threadID]
	if !ok {
		return 0
	}
	required := requiredSlots[domain]
	if len(required) == 0 {
		return 0
	}
	known := 0
	for _, slot := range required {
		if _, ok := ledger.Known[slot]; ok {
			known++
		}
	}
	return float64(known) / float64(len(required))
}

// UnknownSlots returns the required slots for the domain that are not yet known.
func (m *Manager) UnknownSlots(threadID string, domain models.DomainOfLife) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ledger, ok := m.ledgers[threadID]
	if !ok {
		return nil
	}
	var missing []string
	for _, slot := range requiredSlots[domain] {
		if _, ok := ledger.Known[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	return missing
}

// KnownSlots returns a copy of the known slot map.
func (m *Manager) KnownSlots(threadID string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ledger, ok := m.ledgers[threadID]
	if !ok {
		return nil
	}
	known := make(map[string]string, len(ledger.Known))
	for k, v := range ledger.Known {
		known[k] = v
	}
	return known
}

// Conflicts returns a copy of the open conflict map.
func (m *Manager) Conflicts(threadID string) map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ledger, ok := m.ledgers[threadID]
	if !ok {
		return map[string][]string{}
	}
	conflicts := make(map[string][]string, len(ledger.Conflicts))
	for k, v := range ledger.Conflicts {
		conflicts[k] = append([]string(nil), v...)
	}
	return conflicts
}

// ClearConflicts drops all recorded conflicts for the thread.
func (m *Manager) ClearConflicts(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger, ok := m.ledgers[threadID]
	if !ok {
		return
	}
	ledger.Conflicts = make(map[string][]string)
	ledger.LastUpdated = time.Now()
}

// Snapshot exports the ledger for persistence. The second return is false
// when no ledger exists.
func (m *Manager) Snapshot(threadID string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ledger, ok := m.ledgers[threadID]
	if !ok {
		return State{}, false
	}
	state := State{
		Known:     make(map[string]string, len(ledger.Known)),
		Conflicts: make(map[string][]string, len(ledger.Conflicts)),
	}
	for k, v := range ledger.Known {
		state.Known[k] = v
	}
	for k := range ledger.Unknown {
		state.Unknown = append(state.Unknown, k)
	}
	for k, v := range ledger.Conflicts {
		state.Conflicts[k] = append([]string(nil), v...)
	}
	return state, true
}

// Restore replaces the thread's ledger with a previously exported state.
func (m *Manager) Restore(threadID string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger := &Ledger{
		ThreadID:    threadID,
		Known:       make(map[string]string, len(state.Known)),
		Unknown:     make(map[string]struct{}, len(state.Unknown)),
		Conflicts:   make(map[string][]string, len(state.Conflicts)),
		LastUpdated: time.Now(),
	}
	for k, v := range state.Known {
		ledger.Known[k] = v
	}
	for _, k := range state.Unknown {
		ledger.Unknown[k] = struct{}{}
	}
	for k, v := range state.Conflicts {
		ledger.Conflicts[k] = append([]string(nil), v...)
	}
	m.ledgers[threadID] = ledger
}

// checkConflicts runs the rule table for the incoming value against
// already-known slots. Caller holds the write lock.
func checkConflicts(ledger *Ledger, slotID, value string) {
	for _, rule := range conflictRules {
		if rule.slot != slotID {
			continue
		}
		other, known := ledger.Known[rule.otherSlot]
		if !known {
			continue
		}
		if strings.Contains(value, rule.valueMark) && strings.Contains(other, rule.otherMark) {
			ledger.Conflicts[slotID] = []string{rule.otherSlot}
			slog.Debug("Manager.checkConflicts: conflict detected",
				"threadID", ledger.ThreadID, "slotID", slotID, "conflictsWith", rule.otherSlot)
		}
	}
}
