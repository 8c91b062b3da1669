package profile

import (
	"context"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/coachpipe/coachpipe/internal/models"
	"github.com/redis/go-redis/v9"
)

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*InMemoryStore)(nil)
)

func TestInMemoryStoreRecordAndGet(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	p, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil profile for unknown user, got %+v", p)
	}

	p, err = s.Record(ctx, "u1", "career", "en", "works in fintech")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if p.InteractionCount != 1 {
		t.Errorf("expected 1 interaction, got %d", p.InteractionCount)
	}

	p, err = s.Record(ctx, "u1", "career", "hi")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if p.InteractionCount != 2 {
		t.Errorf("expected 2 interactions, got %d", p.InteractionCount)
	}
	if p.DomainCounts["career"] != 2 {
		t.Errorf("expected career count 2, got %d", p.DomainCounts["career"])
	}
	if p.PreferredLanguage != "hi" {
		t.Errorf("expected latest language to win, got %s", p.PreferredLanguage)
	}
	if len(p.KeyInsights) != 1 || p.KeyInsights[0] != "works in fintech" {
		t.Errorf("unexpected insights %v", p.KeyInsights)
	}
}

func TestRecordDeduplicatesInsights(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.Record(ctx, "u1", "health", "en", "trains for a marathon"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	p, err := s.Record(ctx, "u1", "health", "en", "Trains for a marathon", "  ")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(p.KeyInsights) != 1 {
		t.Errorf("case-insensitive duplicate should be dropped, got %v", p.KeyInsights)
	}
}

func TestRecordCapsInsights(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	insights := []string{
		"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9", "a10", "a11", "a12",
	}
	p, err := s.Record(ctx, "u1", "career", "en", insights...)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(p.KeyInsights) != MaxKeyInsights {
		t.Fatalf("expected %d insights, got %d", MaxKeyInsights, len(p.KeyInsights))
	}
	if p.KeyInsights[0] != "a3" || p.KeyInsights[len(p.KeyInsights)-1] != "a12" {
		t.Errorf("expected newest insights kept, got %v", p.KeyInsights)
	}
}

func TestRecordEmptyUserID(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Record(context.Background(), "", "career", "en"); err != models.ErrEmptyUserID {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client)
	ctx := context.Background()

	p, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil profile for unknown user, got %+v", p)
	}

	if _, err := s.Record(ctx, "u1", "finance", "en", "paying off a loan"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := s.Record(ctx, "u1", "finance", "en"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	p, err = s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get after record: %v", err)
	}
	if p == nil {
		t.Fatal("expected stored profile")
	}
	if p.InteractionCount != 2 || p.DomainCounts["finance"] != 2 {
		t.Errorf("unexpected profile %+v", p)
	}
	if p.TopDomain() != "finance" {
		t.Errorf("expected finance top domain, got %s", p.TopDomain())
	}

	if mr.TTL(profileKey("u1")) <= 0 {
		t.Error("expected profile key to carry a TTL")
	}
}

func TestBuildPersonalization(t *testing.T) {
	if got := BuildPersonalization(nil); got != "" {
		t.Errorf("nil profile should render empty, got %q", got)
	}
	if got := BuildPersonalization(&models.UserProfile{UserID: "u1"}); got != "" {
		t.Errorf("fresh profile should render empty, got %q", got)
	}

	p := &models.UserProfile{
		UserID:            "u1",
		InteractionCount:  4,
		DomainCounts:      map[string]int{"career": 3, "health": 1},
		PreferredLanguage: "hi",
		KeyInsights:       []string{"works in fintech"},
	}
	got := BuildPersonalization(p)
	for _, want := range []string{
		"<USER CONTEXT>",
		"4 prior interactions",
		"Most discussed area: career.",
		"Preferred language: hi.",
		"- works in fintech",
		"</USER CONTEXT>",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("personalization missing %q:\n%s", want, got)
		}
	}
}
