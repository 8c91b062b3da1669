package policy

import (
	"strings"

	"github.com/coachpipe/coachpipe/internal/models"
)

// BuildToneGuide renders a prompt snippet instructing the model how to
// address this user, derived from their type's feature flags and age band.
// An empty result means no guide is needed.
func BuildToneGuide(userType models.UserType, ageBand models.AgeBand) string {
	flags := FeatureFlags(userType)

	var b strings.Builder
	b.WriteString("\n<TONE POLICY>\nAdapt your responses to this user:\n")

	if flags.EmojiDecoration {
		b.WriteString("- Emojis are welcome where appropriate.\n")
	} else {
		b.WriteString("- Do NOT use emojis.\n")
	}
	if flags.MotivationalNudges {
		b.WriteString("- Add short motivational nudges when the user makes progress.\n")
	} else {
		b.WriteString("- Keep a neutral, professional stance.\n")
	}
	if flags.OfferReport {
		b.WriteString("- Offer a written summary report when the plan is complete.\n")
	}

	switch ageBand {
	case models.AgeBandChild:
		b.WriteString("- Use simple words and short sentences suitable for a child.\n")
	case models.AgeBandTeen:
		b.WriteString("- Use relatable, encouraging language suitable for a teenager.\n")
	case models.AgeBandSenior:
		b.WriteString("- Avoid jargon; be patient and explicit about each step.\n")
	}

	b.WriteString("- NEVER mirror hostility, sarcasm, insults, or unsafe language.\n")
	b.WriteString("</TONE POLICY>\n")

	return b.String()
}
