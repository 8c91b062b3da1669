package worker

import (
	"fmt"
	"strings"

	"github.com/coachpipe/coachpipe/internal/models"
)

// DefaultPersona is the system persona used when none is configured.
const DefaultPersona = "You are a warm, practical life coach. You help people clarify " +
	"what they want, reflect it back to them, explore options, and commit to a concrete plan. " +
	"You ask at most a few focused questions per turn and never lecture."

// protocolInstructions tells the model how to format its output. The
// parser understands exactly this Markdown dialect.
const protocolInstructions = `RESPONSE FORMAT (follow exactly):
- Write your message as plain Markdown text.
- To ask structured questions, emit one or more blocks of this form:

### QUESTION
Type: single-choice
Prompt: <question text>

Options:
( ) Option A
( ) Option B

- Use "[ ]" option markers and "Type: multi-choice" when several answers may apply.
- At most 4 question blocks per response; every question needs at least 2 options.
- You may include ":::info" / ":::warning" callouts and "Chart:" lines; they are passed through to the UI.
- To signal conversation state, write one of the codes OK, DELAY, LIMIT or DONE on its own line.
- To signal a follow-up action, write REPORT or SCHEDULE on its own line.
- NEVER output JSON, YAML or code fences containing your answer. Plain Markdown only.`

// jsonRetryInstruction is appended to the prompt on the single corrective
// retry after a JSON-shaped response.
const jsonRetryInstruction = "IMPORTANT: Your previous response was JSON. Do NOT output JSON. " +
	"Respond in plain Markdown following the response format above."

// promptInput collects everything that goes into one generation prompt.
// The current user message is persisted before prompt build and arrives
// as the newest history entry.
type promptInput struct {
	persona         string
	toneGuide       string
	personalization string
	history         []models.Message
	stageDirective  string
	jsonRetry       bool
}

// buildPrompt assembles the full prompt for one provider call: persona,
// format rules, ambient guides, recent history and the stage directive.
func buildPrompt(in promptInput) string {
	var b strings.Builder
	persona := in.persona
	if persona == "" {
		persona = DefaultPersona
	}
	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString(protocolInstructions)
	if in.toneGuide != "" {
		b.WriteString("\n\n")
		b.WriteString(in.toneGuide)
	}
	if in.personalization != "" {
		b.WriteString("\n\n")
		b.WriteString(in.personalization)
	}
	if len(in.history) > 0 {
		b.WriteString("\n\nCONVERSATION SO FAR:\n")
		for _, m := range in.history {
			fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(m.Role)), m.Content)
		}
	}
	if in.stageDirective != "" {
		b.WriteString("\n\nCURRENT COACHING TASK:\n")
		b.WriteString(in.stageDirective)
	}
	if in.jsonRetry {
		b.WriteString("\n\n")
		b.WriteString(jsonRetryInstruction)
	}
	return b.String()
}

// looksLikeJSON reports whether a raw response is JSON-shaped. Fenced
// code blocks are exempt; the guard only fires on a bare leading bracket.
func looksLikeJSON(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		return false
	}
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// estimateTokens approximates token usage as ceil(len/4).
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// splitChunks cuts text into chunks of at most size characters, breaking
// on word boundaries where possible.
func splitChunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{text}
	}
	var chunks []string
	var current strings.Builder
	for _, word := range words {
		if current.Len() > 0 && current.Len()+1+len(word) > size {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
