// Package policy enforces cross-cutting content rules on both inbound
// user messages and outbound assistant text: language support, age
// appropriateness, profanity and PII filtering, and per-user-type
// feature flags.
package policy

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/coachpipe/coachpipe/internal/models"
)

// SupportedLanguages lists the language codes the assistant may converse in.
var SupportedLanguages = []string{"en", "hi", "bn", "es", "pt", "ar", "de", "fr", "ja", "ru", "ta", "zh"}

// Config toggles the individual enforcement rules.
type Config struct {
	ProfanityFilter bool
	PIIFilter       bool
	EvidenceMode    bool
}

// DefaultConfig enables all filters.
func DefaultConfig() Config {
	return Config{ProfanityFilter: true, PIIFilter: true, EvidenceMode: true}
}

var (
	profanityPattern = regexp.MustCompile(`(?i)\b(shit|damn|hell|fuck|bitch|asshole)\b`)

	piiPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		regexp.MustCompile(`\b\d{4}\s?\d{4}\s?\d{4}\s?\d{4}\b`),
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`),
	}

	adultKeywords = []string{"alcohol", "drugs", "violence", "explicit", "mature", "adult-only"}

	// scriptMarks tags output that lacks the target language's script so a
	// downstream translation step (or the model on the next turn) can fix it.
	scriptMarks = []struct {
		lang   string
		tag    string
		ranges [2]rune
	}{
		{"hi", "[Hindi] ", [2]rune{0x0900, 0x097F}},
		{"bn", "[Bengali] ", [2]rune{0x0980, 0x09FF}},
		{"ar", "[Arabic] ", [2]rune{0x0600, 0x06FF}},
	}

	childToneWords = []struct{ from, to string }{
		{"challenge", "fun problem"},
		{"strategy", "plan"},
		{"complex", "tricky"},
		{"analyze", "look at"},
	}

	teenToneWords = []struct{ from, to string }{
		{"challenge", "situation"},
		{"strategy", "approach"},
		{"complex", "complicated"},
	}
)

// defaultFlags are the built-in per-user-type feature flags.
var defaultFlags = map[models.UserType]models.FeatureFlags{
	models.UserTypeStudent:      {OfferReport: true, ShowAds: false, MotivationalNudges: true, EmojiDecoration: true},
	models.UserTypeProfessional: {OfferReport: true, ShowAds: true, MotivationalNudges: false, EmojiDecoration: false},
	models.UserTypeParent:       {OfferReport: true, ShowAds: false, MotivationalNudges: true, EmojiDecoration: true},
	models.UserTypeSenior:       {OfferReport: true, ShowAds: false, MotivationalNudges: false, EmojiDecoration: false},
	models.UserTypeOther:        {OfferReport: true, ShowAds: true, MotivationalNudges: false, EmojiDecoration: false},
}

// Engine applies the configured policy rules.
type Engine struct {
	cfg Config
}

// NewEngine creates a policy engine with the given rule configuration.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// IsLanguageSupported reports whether the language code is supported.
func IsLanguageSupported(language string) bool {
	for _, l := range SupportedLanguages {
		if l == language {
			return true
		}
	}
	return false
}

// ProcessUserInput validates one inbound user message. A non-nil error is
// a hard stop for the turn: validation failures are surfaced, not retried.
func (e *Engine) ProcessUserInput(content, language string, ageBand models.AgeBand) error {
	if !IsLanguageSupported(language) {
		return fmt.Errorf("ProcessUserInput: %w: %s", models.ErrUnsupportedLanguage, language)
	}

	if ageBand == models.AgeBandChild || ageBand == models.AgeBandTeen {
		lower := strings.ToLower(content)
		for _, keyword := range adultKeywords {
			if strings.Contains(lower, keyword) {
				return fmt.Errorf("ProcessUserInput: %w: age-inappropriate material", models.ErrInappropriateContent)
			}
		}
	}

	if e.cfg.ProfanityFilter && profanityPattern.MatchString(content) {
		return fmt.Errorf("ProcessUserInput: %w: profanity", models.ErrInappropriateContent)
	}

	if e.cfg.PIIFilter {
		for _, pattern := range piiPatterns {
			if pattern.MatchString(content) {
				return fmt.Errorf("ProcessUserInput: %w: personally identifiable information", models.ErrInappropriateContent)
			}
		}
	}

	return nil
}

// ProcessAssistantOutput rewrites outbound assistant text: language
// marking, age tone adjustment, then profanity and PII redaction.
func (e *Engine) ProcessAssistantOutput(content, language string, ageBand models.AgeBand) string {
	processed := enforceLanguage(content, language)
	processed = adjustToneForAge(processed, ageBand)

	if e.cfg.ProfanityFilter {
		processed = profanityPattern.ReplaceAllString(processed, "[FILTERED]")
	}
	if e.cfg.PIIFilter {
		for _, pattern := range piiPatterns {
			processed = pattern.ReplaceAllString(processed, "[REDACTED]")
		}
	}

	if processed != content {
		slog.Debug("Engine.ProcessAssistantOutput: content rewritten", "language", language, "ageBand", ageBand)
	}
	return processed
}

// EvidenceModeEnabled reports whether evidence-mode disclaimers are on.
func (e *Engine) EvidenceModeEnabled() bool {
	return e.cfg.EvidenceMode
}

// FeatureFlags returns the flags for a user type, falling back to the
// "other" defaults for unknown types.
func FeatureFlags(userType models.UserType) models.FeatureFlags {
	if flags, ok := defaultFlags[userType]; ok {
		return flags
	}
	return defaultFlags[models.UserTypeOther]
}

func enforceLanguage(content, target string) string {
	for _, mark := range scriptMarks {
		if mark.lang != target {
			continue
		}
		for _, r := range content {
			if r >= mark.ranges[0] && r <= mark.ranges[1] {
				return content
			}
		}
		return mark.tag + content
	}
	return content
}

func adjustToneForAge(content string, ageBand models.AgeBand) string {
	var words []struct{ from, to string }
	switch ageBand {
	case models.AgeBandChild:
		words = childToneWords
	case models.AgeBandTeen:
		words = teenToneWords
	default:
		return content
	}
	for _, w := range words {
		content = strings.ReplaceAll(content, w.from, w.to)
	}
	return content
}
