// Package inspect implements the rule-based inspector pass over parsed
// assistant turns, plus the hallucination controls applied after it.
//
// The inspector runs six independent checks (format, language, age,
// content safety, numeric ranges, contradictions) and attempts bounded
// auto-repair when every violation is mechanical. Content violations are
// never patched here; they force a REVISE so the worker can substitute a
// clarification turn.
package inspect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/coachpipe/coachpipe/internal/models"
)

// Decision is the inspector verdict for a turn.
type Decision string

const (
	// DecisionPass means the turn may continue down the pipeline.
	DecisionPass Decision = "PASS"
	// DecisionRevise means the turn must not be shown to the user as-is.
	DecisionRevise Decision = "REVISE"
)

// ErrorType classifies an inspector finding.
type ErrorType string

const (
	ErrorFormat        ErrorType = "format"
	ErrorLanguage      ErrorType = "language"
	ErrorContent       ErrorType = "content"
	ErrorRange         ErrorType = "range"
	ErrorContradiction ErrorType = "contradiction"
)

// Error is one inspector finding.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Field      string    `json:"field,omitempty"`
	Value      string    `json:"value,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// Result is the outcome of one inspection.
type Result struct {
	Decision Decision
	Errors   []Error
	Warnings []string
	Repaired bool
	// Turn is the turn to continue with: repaired when Repaired is true,
	// otherwise the input unchanged.
	Turn models.AssistantTurn
}

// FallbackMessage replaces an empty assistant message during repair.
const FallbackMessage = "I understand. Let me help you with that."

var (
	profanityPattern = regexp.MustCompile(`(?i)\b(shit|damn|hell|fuck|bitch|asshole)\b`)

	piiPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                              // SSN
		regexp.MustCompile(`\b\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\b`),                  // credit card
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), // email
		regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`),                              // phone
	}

	timeframePattern = regexp.MustCompile(`(?i)(\d+)\s*(hour|day|week|month|year)s?`)

	adultKeywords = []string{"alcohol", "drugs", "violence", "explicit", "mature", "adult-only"}

	contradictionRules = []struct {
		first   *regexp.Regexp
		second  *regexp.Regexp
		message string
	}{
		{regexp.MustCompile(`(?i)no time`), regexp.MustCompile(`(?i)2 hours|daily|every day`), `Contradiction: "no time" vs "daily commitment"`},
		{regexp.MustCompile(`(?i)beginner`), regexp.MustCompile(`(?i)expert|advanced|professional`), `Contradiction: "beginner" vs "expert level"`},
		{regexp.MustCompile(`(?i)free|no cost`), regexp.MustCompile(`(?i)expensive|costly|budget`), `Contradiction: "free" vs "expensive"`},
	}

	scriptRanges = map[string][2]rune{
		"hi": {0x0900, 0x097F},
		"bn": {0x0980, 0x09FF},
		"ar": {0x0600, 0x06FF},
		"zh": {0x4E00, 0x9FFF},
		"ja": {0x3040, 0x30FF},
	}
)

// Inspect runs all checks against the turn and attempts auto-repair when
// every finding is format-typed. Repair that does not clear all findings
// yields REVISE with the original errors and the original turn.
func Inspect(turn models.AssistantTurn, language string, ageBand models.AgeBand) Result {
	errors := runChecks(turn, language, ageBand)
	if len(errors) == 0 {
		return Result{Decision: DecisionPass, Turn: turn}
	}

	if allFormat(errors) {
		repaired := repair(turn)
		if len(runChecks(repaired, language, ageBand)) == 0 {
			return Result{Decision: DecisionPass, Repaired: true, Turn: repaired}
		}
	}

	return Result{Decision: DecisionRevise, Errors: errors, Turn: turn}
}

func allFormat(errors []Error) bool {
	for _, e := range errors {
		if e.Type != ErrorFormat {
			return false
		}
	}
	return true
}

func runChecks(turn models.AssistantTurn, language string, ageBand models.AgeBand) []Error {
	var errors []Error
	errors = append(errors, checkFormat(turn)...)
	errors = append(errors, checkLanguage(turn, language)...)
	errors = append(errors, checkAgeAppropriate(turn, ageBand)...)
	errors = append(errors, checkContentSafety(turn)...)
	errors = append(errors, checkRanges(turn)...)
	errors = append(errors, checkContradictions(turn)...)
	return errors
}

// fullText joins the message with all question prompts and option labels,
// the surface the user will actually see.
func fullText(turn models.AssistantTurn) string {
	var b strings.Builder
	b.WriteString(turn.Message)
	for _, block := range turn.Blocks {
		for _, q := range block.Questions {
			b.WriteByte(' ')
			b.WriteString(q.Prompt)
			for _, o := range q.Options {
				b.WriteByte(' ')
				b.WriteString(o.Label)
			}
		}
	}
	return b.String()
}

func checkFormat(turn models.AssistantTurn) []Error {
	var errors []Error

	if strings.TrimSpace(turn.Message) == "" {
		errors = append(errors, Error{
			Type:       ErrorFormat,
			Message:    "Message content is required",
			Field:      "message",
			Suggestion: "Provide a short message for this turn",
		})
	}

	if len(turn.Blocks) > models.MaxQuestionBlocks {
		errors = append(errors, Error{
			Type:       ErrorFormat,
			Message:    fmt.Sprintf("Maximum %d question blocks allowed per turn", models.MaxQuestionBlocks),
			Field:      "blocks",
			Value:      strconv.Itoa(len(turn.Blocks)),
			Suggestion: "Reduce the number of question blocks",
		})
	}

	seen := make(map[string]bool)
	for _, block := range turn.Blocks {
		for _, q := range block.Questions {
			if seen[q.ID] {
				errors = append(errors, Error{
					Type:       ErrorFormat,
					Message:    "Duplicate question ID: " + q.ID,
					Field:      "questionId",
					Value:      q.ID,
					Suggestion: "Use unique question IDs",
				})
			}
			seen[q.ID] = true

			if strings.TrimSpace(q.Prompt) == "" {
				errors = append(errors, Error{
					Type:    ErrorFormat,
					Message: "Question text is required for ID: " + q.ID,
					Field:   "questionText",
					Value:   q.ID,
				})
			}

			if len(q.Options) < models.MinQuestionOptions {
				errors = append(errors, Error{
					Type:       ErrorFormat,
					Message:    fmt.Sprintf("Question %s must have at least %d options", q.ID, models.MinQuestionOptions),
					Field:      "questionOptions",
					Value:      q.ID,
					Suggestion: "Add more options",
				})
			}
		}

		if !models.ProgressPattern.MatchString(block.Progress) {
			errors = append(errors, Error{
				Type:       ErrorFormat,
				Message:    "Invalid progress format: " + block.Progress,
				Field:      "progress",
				Value:      block.Progress,
				Suggestion: `Use format "k/N" where k and N are numbers`,
			})
		}
	}

	return errors
}

// checkLanguage cross-checks the target language against script presence.
// English targets always pass: the heuristic cannot separate English from
// transliterated text, so only missing non-Latin scripts are flagged.
func checkLanguage(turn models.AssistantTurn, target string) []Error {
	r, ok := scriptRanges[target]
	if !ok {
		return nil
	}
	for _, ch := range fullText(turn) {
		if ch >= r[0] && ch <= r[1] {
			return nil
		}
	}
	return []Error{{
		Type:       ErrorLanguage,
		Message:    "Content should be in " + target + " language",
		Field:      "language",
		Value:      target,
		Suggestion: "Translate content to the target language",
	}}
}

func checkAgeAppropriate(turn models.AssistantTurn, ageBand models.AgeBand) []Error {
	if ageBand != models.AgeBandChild && ageBand != models.AgeBandTeen {
		return nil
	}
	content := strings.ToLower(fullText(turn))
	for _, keyword := range adultKeywords {
		if strings.Contains(content, keyword) {
			return []Error{{
				Type:       ErrorContent,
				Message:    "Content contains age-inappropriate material",
				Field:      "ageAppropriate",
				Value:      string(ageBand),
				Suggestion: "Use age-appropriate language",
			}}
		}
	}
	return nil
}

func checkContentSafety(turn models.AssistantTurn) []Error {
	var errors []Error
	content := fullText(turn)

	if profanityPattern.MatchString(content) {
		errors = append(errors, Error{
			Type:       ErrorContent,
			Message:    "Content contains profanity",
			Field:      "profanity",
			Suggestion: "Remove profanity",
		})
	}

	for _, pattern := range piiPatterns {
		if pattern.MatchString(content) {
			errors = append(errors, Error{
				Type:       ErrorContent,
				Message:    "Content contains personally identifiable information",
				Field:      "pii",
				Suggestion: "Remove PII",
			})
			break
		}
	}

	return errors
}

func checkRanges(turn models.AssistantTurn) []Error {
	var errors []Error
	for _, m := range timeframePattern.FindAllStringSubmatch(fullText(turn), -1) {
		value, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		unit := strings.ToLower(m[2])
		if (unit == "hour" && value > 24) || (unit == "day" && value > 365) {
			errors = append(errors, Error{
				Type:       ErrorRange,
				Message:    fmt.Sprintf("Unrealistic timeframe: %d %ss", value, unit),
				Field:      "timeframe",
				Value:      fmt.Sprintf("%d %ss", value, unit),
				Suggestion: "Use realistic timeframes",
			})
		}
	}
	return errors
}

func checkContradictions(turn models.AssistantTurn) []Error {
	var errors []Error
	content := fullText(turn)
	for _, rule := range contradictionRules {
		if rule.first.MatchString(content) && rule.second.MatchString(content) {
			errors = append(errors, Error{
				Type:       ErrorContradiction,
				Message:    rule.message,
				Field:      "contradiction",
				Suggestion: "Resolve contradictory statements",
			})
		}
	}
	return errors
}

// repair mechanically fixes format violations on a copy of the turn.
func repair(turn models.AssistantTurn) models.AssistantTurn {
	repaired := turn
	repaired.Blocks = make([]models.QuestionBlock, len(turn.Blocks))
	copy(repaired.Blocks, turn.Blocks)

	for i := range repaired.Blocks {
		if !models.ProgressPattern.MatchString(repaired.Blocks[i].Progress) {
			repaired.Blocks[i].Progress = "1/1"
		}
	}

	if strings.TrimSpace(repaired.Message) == "" {
		repaired.Message = FallbackMessage
	}

	if !models.IsValidFlowState(repaired.Flow) {
		repaired.Flow = models.FlowOK
	}

	if !models.IsValidStructIntent(repaired.Intent) {
		repaired.Intent = models.IntentNone
	}

	return repaired
}
