package models

import "time"

// UserProfile is the cross-session personalization record for one user.
type UserProfile struct {
	UserID            string         `json:"user_id"`
	InteractionCount  int            `json:"interaction_count"`
	DomainCounts      map[string]int `json:"domain_counts"` // domain -> threads seen
	PreferredLanguage string         `json:"preferred_language,omitempty"`
	KeyInsights       []string       `json:"key_insights,omitempty"`
	LastSeen          time.Time      `json:"last_seen"`
}

// TopDomain returns the most frequently seen domain, or empty when none.
func (p *UserProfile) TopDomain() string {
	var best string
	var bestCount int
	for d, c := range p.DomainCounts {
		if c > bestCount || (c == bestCount && (best == "" || d < best)) {
			best, bestCount = d, c
		}
	}
	return best
}

// FeatureFlags gates optional assistant behaviors per user type.
type FeatureFlags struct {
	OfferReport        bool `json:"offer_report"`
	ShowAds            bool `json:"show_ads"`
	MotivationalNudges bool `json:"motivational_nudges"`
	EmojiDecoration    bool `json:"emoji_decoration"`
}
