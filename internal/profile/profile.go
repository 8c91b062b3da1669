// Package profile stores cross-session user personalization records and
// turns them into short prompt snippets.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coachpipe/coachpipe/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	profileKeyPrefix = "coachpipe:profile:"
	// DefaultProfileTTL expires personalization records after long inactivity.
	DefaultProfileTTL = 90 * 24 * time.Hour
	// MaxKeyInsights bounds how many insights a profile keeps, newest last.
	MaxKeyInsights = 10
)

// Store is the persistence surface for user profiles.
type Store interface {
	Get(ctx context.Context, userID string) (*models.UserProfile, error)
	// Record registers one interaction for the user and returns the
	// updated profile. Missing profiles are created.
	Record(ctx context.Context, userID, domain, language string, insights ...string) (*models.UserProfile, error)
	Close() error
}

// BuildPersonalization renders a profile into a short prompt snippet.
// Returns empty for fresh users with no usable history.
func BuildPersonalization(p *models.UserProfile) string {
	if p == nil || p.InteractionCount == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<USER CONTEXT>\n")
	fmt.Fprintf(&b, "Returning user with %d prior interactions.\n", p.InteractionCount)
	if top := p.TopDomain(); top != "" {
		fmt.Fprintf(&b, "Most discussed area: %s.\n", top)
	}
	if p.PreferredLanguage != "" && p.PreferredLanguage != "en" {
		fmt.Fprintf(&b, "Preferred language: %s.\n", p.PreferredLanguage)
	}
	if len(p.KeyInsights) > 0 {
		b.WriteString("Known context from earlier sessions:\n")
		for _, ins := range p.KeyInsights {
			fmt.Fprintf(&b, "- %s\n", ins)
		}
	}
	b.WriteString("</USER CONTEXT>")
	return b.String()
}

// applyInteraction folds one interaction into a profile in place.
func applyInteraction(p *models.UserProfile, domain, language string, insights []string) {
	p.InteractionCount++
	if domain != "" {
		if p.DomainCounts == nil {
			p.DomainCounts = make(map[string]int)
		}
		p.DomainCounts[domain]++
	}
	if language != "" {
		p.PreferredLanguage = language
	}
	for _, ins := range insights {
		ins = strings.TrimSpace(ins)
		if ins == "" || containsInsight(p.KeyInsights, ins) {
			continue
		}
		p.KeyInsights = append(p.KeyInsights, ins)
	}
	if len(p.KeyInsights) > MaxKeyInsights {
		p.KeyInsights = p.KeyInsights[len(p.KeyInsights)-MaxKeyInsights:]
	}
	p.LastSeen = time.Now().UTC()
}

func containsInsight(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// RedisStore keeps profiles in Redis with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: DefaultProfileTTL}
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	raw, err := s.client.Get(ctx, profileKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore.Get: profile fetch failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to fetch profile for %s: %w", userID, err)
	}
	var p models.UserProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Error("RedisStore.Get: profile decode failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode profile for %s: %w", userID, err)
	}
	return &p, nil
}

func (s *RedisStore) Record(ctx context.Context, userID, domain, language string, insights ...string) (*models.UserProfile, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &models.UserProfile{UserID: userID}
	}
	applyInteraction(p, domain, language, insights)

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile for %s: %w", userID, err)
	}
	if err := s.client.Set(ctx, profileKey(userID), data, s.ttl).Err(); err != nil {
		slog.Error("RedisStore.Record: profile save failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to save profile for %s: %w", userID, err)
	}
	slog.Debug("RedisStore.Record: profile updated", "userID", userID, "interactions", p.InteractionCount)
	return p, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func profileKey(userID string) string {
	return profileKeyPrefix + userID
}

// InMemoryStore keeps profiles in process memory. Used in tests and as
// the default backend when no Redis address is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]models.UserProfile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]models.UserProfile)}
}

func (s *InMemoryStore) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := p
	cp.DomainCounts = copyCounts(p.DomainCounts)
	cp.KeyInsights = append([]string(nil), p.KeyInsights...)
	return &cp, nil
}

func (s *InMemoryStore) Record(ctx context.Context, userID, domain, language string, insights ...string) (*models.UserProfile, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		p = models.UserProfile{UserID: userID}
	}
	applyInteraction(&p, domain, language, insights)
	s.profiles[userID] = p

	cp := p
	cp.DomainCounts = copyCounts(p.DomainCounts)
	cp.KeyInsights = append([]string(nil), p.KeyInsights...)
	return &cp, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

// UserIDs lists known users in sorted order (for tests).
func (s *InMemoryStore) UserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func copyCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
