package inspect

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/coachpipe/coachpipe/internal/models"
)

// EvidenceConfidenceThreshold gates the evidence-mode disclaimer.
const EvidenceConfidenceThreshold = 0.7

// EvidenceDisclaimer is appended to low-confidence turns in evidence domains.
const EvidenceDisclaimer = "\n\n*Note: This information is based on general patterns and may not apply to your specific situation. Consider consulting with a professional for personalized advice.*"

// defaultEvidenceDomains are the fact-sensitive domains where claim
// moderation and disclaimers apply.
var defaultEvidenceDomains = map[models.DomainOfLife]bool{
	models.DomainHealth:    true,
	models.DomainFinance:   true,
	models.DomainCareer:    true,
	models.DomainEducation: true,
}

// claimModeration rewrites overconfident lexical markers. Order matters:
// multi-word phrases are replaced before their constituent words could be.
var claimModeration = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)\bscientific fact\b`), "research suggests"},
	{regexp.MustCompile(`(?i)\bdefinitely\b`), "likely"},
	{regexp.MustCompile(`(?i)\bcertainly\b`), "probably"},
	{regexp.MustCompile(`(?i)\bguaranteed\b`), "typically"},
	{regexp.MustCompile(`(?i)\bproven\b`), "suggested"},
}

// HallucinationControls applies blanket tone policy to turns in evidence
// domains. The transforms are stateless and run on every turn regardless
// of inspector findings.
type HallucinationControls struct {
	evidenceDomains map[models.DomainOfLife]bool
}

// NewHallucinationControls creates controls over the default evidence
// domains. Pass domains to override the set.
func NewHallucinationControls(domains ...models.DomainOfLife) *HallucinationControls {
	if len(domains) == 0 {
		return &HallucinationControls{evidenceDomains: defaultEvidenceDomains}
	}
	set := make(map[models.DomainOfLife]bool, len(domains))
	for _, d := range domains {
		set[d] = true
	}
	return &HallucinationControls{evidenceDomains: set}
}

// IsEvidenceDomain reports whether the domain gets evidence-mode treatment.
func (h *HallucinationControls) IsEvidenceDomain(domain models.DomainOfLife) bool {
	return h.evidenceDomains[domain]
}

// ModerateClaims softens overconfident factual language in the turn's
// message. Replacements preserve leading capitalization.
func (h *HallucinationControls) ModerateClaims(turn models.AssistantTurn, domain models.DomainOfLife) models.AssistantTurn {
	if !h.evidenceDomains[domain] {
		return turn
	}
	message := turn.Message
	for _, rule := range claimModeration {
		message = rule.pattern.ReplaceAllStringFunc(message, func(match string) string {
			return matchCase(match, rule.replacement)
		})
	}
	turn.Message = message
	return turn
}

// AddEvidenceMode appends the disclaimer when confidence is below the
// threshold in an evidence domain.
func (h *HallucinationControls) AddEvidenceMode(turn models.AssistantTurn, domain models.DomainOfLife, confidence float64) models.AssistantTurn {
	if !h.evidenceDomains[domain] || confidence >= EvidenceConfidenceThreshold {
		return turn
	}
	turn.Message += EvidenceDisclaimer
	return turn
}

// matchCase capitalizes the replacement when the original started uppercase.
func matchCase(original, replacement string) string {
	if original == "" || replacement == "" {
		return replacement
	}
	first := []rune(original)[0]
	if unicode.IsUpper(first) {
		runes := []rune(replacement)
		runes[0] = unicode.ToUpper(runes[0])
		return string(runes)
	}
	return strings.ToLower(replacement[:1]) + replacement[1:]
}
