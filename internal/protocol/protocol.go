// Package protocol parses raw assistant text into structured turns.
//
// Two wire dialects are supported: the current Markdown dialect built on
// "### QUESTION" blocks, and a legacy XML dialect using <MSG>, <QT>,
// <BLOCK>, <CODE> and <STRUCT> tags. Parsing is lenient: malformed pieces
// are dropped rather than surfaced as errors, and structural enforcement
// is left to the inspector.
package protocol

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/coachpipe/coachpipe/internal/models"
)

var (
	markdownQuestionPattern = regexp.MustCompile(`(?s)### QUESTION\s*\nType:\s*(single-choice|multi-choice)\s*\nPrompt:\s*(.*?)\s*\n\nOptions:\s*\n((?:[(\[]\s*[)\]][^\n]*\n?)*)`)
	singleOptionPattern     = regexp.MustCompile(`\(\s*\)\s*(.+)`)
	multiOptionPattern      = regexp.MustCompile(`\[\s*\]\s*(.+)`)

	xmlMsgPattern    = regexp.MustCompile(`(?s)<MSG>(.*?)</MSG>`)
	xmlQTPattern     = regexp.MustCompile(`(?s)<QT[^>]*type=["']?(\w+)["']?[^>]*progress=["']?([^"'>\s]*)["']?[^>]*>(.*?)</QT>`)
	xmlQPattern      = regexp.MustCompile(`(?s)<Q(?:\s+id=["']?([^"'>\s]*)["']?)?[^>]*>(.*?)</Q>`)
	xmlOPattern      = regexp.MustCompile(`(?s)<O>(.*?)</O>`)
	xmlCodePattern   = regexp.MustCompile(`(?s)<CODE>(.*?)</CODE>`)
	xmlStructPattern = regexp.MustCompile(`(?s)<STRUCT>(.*?)</STRUCT>`)
	xmlBlockPattern  = regexp.MustCompile(`(?s)<BLOCK[^>]*id=["']?([^"'>\s]*)["']?[^>]*>(.*?)</BLOCK>`)
	xmlTypePattern   = regexp.MustCompile(`(?s)<TYPE>(.*?)</TYPE>`)
	xmlOptionPattern = regexp.MustCompile(`(?s)<OPTION>(.*?)</OPTION>`)

	flowStatePattern = regexp.MustCompile(`\b(DONE|DELAY|LIMIT(?:_\w+)?)\b`)
	intentPattern    = regexp.MustCompile(`\b(REPORT|SCHEDULE)\b`)
)

// Parse converts raw assistant output into an AssistantTurn. It never
// returns an error: unparseable fragments are dropped and a turn with no
// extractable message is returned with an empty message for the inspector
// to flag and repair.
func Parse(raw string) models.AssistantTurn {
	if isXMLDialect(raw) {
		return parseXML(raw)
	}
	return parseMarkdown(raw)
}

func isXMLDialect(raw string) bool {
	return strings.Contains(raw, "<MSG>") || strings.Contains(raw, "<QT") || strings.Contains(raw, "<BLOCK")
}

func parseXML(raw string) models.AssistantTurn {
	return models.AssistantTurn{
		Message:  extractXMLMessage(raw),
		Blocks:   extractXMLBlocks(raw),
		Flow:     extractXMLFlowState(raw),
		Intent:   extractXMLIntent(raw),
		Language: DetectLanguage(raw),
	}
}

func parseMarkdown(raw string) models.AssistantTurn {
	return models.AssistantTurn{
		Message:  extractMarkdownMessage(raw),
		Blocks:   extractMarkdownBlocks(raw),
		Flow:     extractMarkdownFlowState(raw),
		Intent:   extractMarkdownIntent(raw),
		Language: DetectLanguage(raw),
	}
}

func extractXMLMessage(raw string) string {
	var parts []string
	for _, m := range xmlMsgPattern.FindAllStringSubmatch(raw, -1) {
		if text := strings.TrimSpace(m[1]); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// extractXMLBlocks reads both <QT> question trees and the older <BLOCK>
// form. Questions with fewer than two options are dropped.
func extractXMLBlocks(raw string) []models.QuestionBlock {
	var blocks []models.QuestionBlock

	for _, m := range xmlQTPattern.FindAllStringSubmatch(raw, -1) {
		qType := models.QuestionTypeMulti
		if m[1] == "single" {
			qType = models.QuestionTypeSingle
		}
		progress := m[2]
		if progress == "" {
			progress = "1/1"
		}
		inner := m[3]

		qMatch := xmlQPattern.FindStringSubmatch(inner)
		if qMatch == nil {
			continue
		}
		questionID := qMatch[1]
		if questionID == "" {
			questionID = fmt.Sprintf("q_%d", len(blocks)+1)
		}

		options := extractOptions(inner, xmlOPattern)
		if len(options) < models.MinQuestionOptions {
			continue
		}

		blocks = append(blocks, models.QuestionBlock{
			ID:       fmt.Sprintf("block_%d", len(blocks)+1),
			Type:     qType,
			Progress: progress,
			Questions: []models.Question{{
				ID:      questionID,
				Prompt:  strings.TrimSpace(qMatch[2]),
				Type:    qType,
				Options: options,
			}},
		})
	}

	for _, m := range xmlBlockPattern.FindAllStringSubmatch(raw, -1) {
		blockID := m[1]
		if blockID == "" {
			blockID = fmt.Sprintf("block_%d", len(blocks)+1)
		}
		inner := m[2]

		qMatch := xmlQPattern.FindStringSubmatch(inner)
		if qMatch == nil {
			continue
		}

		qType := models.QuestionTypeSingle
		if t := xmlTypePattern.FindStringSubmatch(inner); t != nil && strings.EqualFold(strings.TrimSpace(t[1]), "checkbox") {
			qType = models.QuestionTypeMulti
		}

		options := extractOptions(inner, xmlOptionPattern)
		if len(options) < models.MinQuestionOptions {
			continue
		}

		blocks = append(blocks, models.QuestionBlock{
			ID:       blockID,
			Type:     qType,
			Progress: "1/1",
			Questions: []models.Question{{
				ID:      blockID + "_q1",
				Prompt:  strings.TrimSpace(qMatch[2]),
				Type:    qType,
				Options: options,
			}},
		})
	}

	return blocks
}

func extractOptions(inner string, pattern *regexp.Regexp) []models.Option {
	var options []models.Option
	for _, o := range pattern.FindAllStringSubmatch(inner, -1) {
		text := strings.TrimSpace(o[1])
		if text == "" {
			continue
		}
		options = append(options, models.Option{Value: OptionValue(text), Label: text})
	}
	return options
}

// OptionValue derives a stable, locale-independent value from a display
// label: lowercased, spaces collapsed to hyphens, punctuation stripped.
func OptionValue(label string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r > 127:
			// keep non-ASCII letters so localized labels stay distinguishable
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func extractXMLFlowState(raw string) models.FlowState {
	m := xmlCodePattern.FindStringSubmatch(raw)
	if m == nil {
		return models.FlowOK
	}
	code := models.FlowState(strings.ToUpper(strings.TrimSpace(m[1])))
	if models.IsValidFlowState(code) {
		return code
	}
	return models.FlowOK
}

func extractXMLIntent(raw string) models.StructIntent {
	m := xmlStructPattern.FindStringSubmatch(raw)
	if m == nil {
		return models.IntentNone
	}
	intent := models.StructIntent(strings.ToUpper(strings.TrimSpace(m[1])))
	if intent == models.IntentReport || intent == models.IntentSchedule {
		return intent
	}
	return models.IntentNone
}

// extractMarkdownMessage collects every line outside question blocks. A
// question block starts at "### QUESTION" and ends at the first line that
// is not part of its Type/Prompt/Options body.
func extractMarkdownMessage(raw string) string {
	var parts []string
	var current strings.Builder
	inBlock := false

	flush := func() {
		if text := strings.TrimSpace(current.String()); text != "" {
			parts = append(parts, text)
		}
		current.Reset()
	}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "### QUESTION") {
			flush()
			inBlock = true
			continue
		}
		if inBlock {
			if isQuestionBodyLine(trimmed) {
				continue
			}
			inBlock = false
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	return strings.Join(parts, "\n\n")
}

func isQuestionBodyLine(trimmed string) bool {
	if trimmed == "" {
		return true
	}
	if strings.HasPrefix(trimmed, "Type:") || strings.HasPrefix(trimmed, "Prompt:") || strings.HasPrefix(trimmed, "Options:") {
		return true
	}
	return strings.HasPrefix(trimmed, "( )") || strings.HasPrefix(trimmed, "[ ]") ||
		strings.HasPrefix(trimmed, "(") && strings.Contains(trimmed, ")") && strings.Index(trimmed, ")") <= 2 ||
		strings.HasPrefix(trimmed, "[") && strings.Contains(trimmed, "]") && strings.Index(trimmed, "]") <= 2
}

func extractMarkdownBlocks(raw string) []models.QuestionBlock {
	var blocks []models.QuestionBlock

	for _, m := range markdownQuestionPattern.FindAllStringSubmatch(raw, -1) {
		qType := models.QuestionTypeMulti
		optPattern := multiOptionPattern
		if m[1] == "single-choice" {
			qType = models.QuestionTypeSingle
			optPattern = singleOptionPattern
		}
		prompt := strings.TrimSpace(m[2])

		options := extractOptions(m[3], optPattern)
		if len(options) < models.MinQuestionOptions {
			continue
		}

		blocks = append(blocks, models.QuestionBlock{
			ID:       fmt.Sprintf("block_%d", len(blocks)+1),
			Type:     qType,
			Progress: "1/1",
			Questions: []models.Question{{
				ID:      fmt.Sprintf("q_%d", len(blocks)+1),
				Prompt:  prompt,
				Type:    qType,
				Options: options,
			}},
		})
	}

	return blocks
}

// extractMarkdownFlowState scans for uppercase control keywords; prose
// mentions in lowercase never trigger a state change.
func extractMarkdownFlowState(raw string) models.FlowState {
	m := flowStatePattern.FindStringSubmatch(raw)
	if m == nil {
		return models.FlowOK
	}
	code := models.FlowState(m[1])
	if models.IsValidFlowState(code) {
		return code
	}
	return models.FlowOK
}

func extractMarkdownIntent(raw string) models.StructIntent {
	m := intentPattern.FindStringSubmatch(raw)
	if m == nil {
		return models.IntentNone
	}
	return models.StructIntent(m[1])
}

// DetectLanguage guesses the dominant language from Unicode script ranges.
// It is a cheap cross-check of the model's declared output language, never
// an authoritative gate: transliterated text defeats it.
func DetectLanguage(content string) string {
	for _, r := range content {
		switch {
		case r >= 0x0900 && r <= 0x097F:
			return "hi"
		case r >= 0x0980 && r <= 0x09FF:
			return "bn"
		case r >= 0x0600 && r <= 0x06FF:
			return "ar"
		case r >= 0x4E00 && r <= 0x9FFF:
			return "zh"
		case r >= 0x3040 && r <= 0x30FF:
			return "ja"
		}
	}
	return "en"
}
