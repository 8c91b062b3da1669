package models

import "regexp"

// FlowState signals turn-level control status to the caller.
type FlowState string

const (
	// FlowOK is the normal continue state.
	FlowOK FlowState = "OK"
	// FlowDelay asks the caller to pause before the next turn.
	FlowDelay FlowState = "DELAY"
	// FlowLimit signals a usage or scope limit was reached.
	FlowLimit FlowState = "LIMIT"
	// FlowDone signals the conversation reached a natural end.
	FlowDone FlowState = "DONE"
)

// IsValidFlowState accepts the defined codes plus parameterized LIMIT_x forms.
func IsValidFlowState(f FlowState) bool {
	switch f {
	case FlowOK, FlowDelay, FlowLimit, FlowDone:
		return true
	}
	return len(f) > len(FlowLimit)+1 && f[:len(FlowLimit)+1] == FlowLimit+"_"
}

// StructIntent signals a downstream action the turn implies.
type StructIntent string

const (
	IntentNone     StructIntent = "NONE"
	IntentReport   StructIntent = "REPORT"
	IntentSchedule StructIntent = "SCHEDULE"
)

// IsValidStructIntent checks if the given intent code is defined.
func IsValidStructIntent(si StructIntent) bool {
	switch si {
	case IntentNone, IntentReport, IntentSchedule:
		return true
	default:
		return false
	}
}

// QuestionType distinguishes single-choice from multi-choice questions.
type QuestionType string

const (
	QuestionTypeSingle QuestionType = "single"
	QuestionTypeMulti  QuestionType = "multi"
)

// ProgressPattern validates a question block's "k/N" progress marker.
var ProgressPattern = regexp.MustCompile(`^\d+/\d+$`)

// Option is one selectable answer for a question.
type Option struct {
	Value string `json:"value"` // stable identifier, matched on transitions
	Label string `json:"label"` // display text
}

// Question is one question inside a block.
type Question struct {
	ID       string       `json:"id"`
	Prompt   string       `json:"prompt"`
	Type     QuestionType `json:"type"`
	Options  []Option     `json:"options"`
	Required bool         `json:"required"`
}

// QuestionBlock groups questions sharing a progress marker and type.
type QuestionBlock struct {
	ID        string       `json:"id"`
	Type      QuestionType `json:"type"`
	Progress  string       `json:"progress"` // "k/N"
	Questions []Question   `json:"questions"`
}

// AssistantTurn is the parsed output of one assistant response.
type AssistantTurn struct {
	Message  string          `json:"message"`
	Blocks   []QuestionBlock `json:"blocks,omitempty"`
	Flow     FlowState       `json:"flow"`
	Intent   StructIntent    `json:"intent"`
	Language string          `json:"language,omitempty"` // heuristic detection, advisory
}

// QuestionIDs returns all question ids across all blocks in order.
func (t *AssistantTurn) QuestionIDs() []string {
	var ids []string
	for _, b := range t.Blocks {
		for _, q := range b.Questions {
			ids = append(ids, q.ID)
		}
	}
	return ids
}

// UserResponse is one structured answer produced by the UI collaborator.
type UserResponse struct {
	QuestionID string   `json:"question_id"`
	Selected   []string `json:"selected"` // option values
	FreeText   string   `json:"free_text,omitempty"`
	Transcript string   `json:"transcript,omitempty"` // voice input, if any
}

// HasSelection reports whether at least one option was chosen.
func (r *UserResponse) HasSelection() bool {
	return len(r.Selected) > 0
}
