// Package store provides storage backends for CoachPipe.
//
// It includes an in-memory store for tests plus SQLite and PostgreSQL
// backed stores for threads, messages and ledger state.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coachpipe/coachpipe/internal/ledger"
	"github.com/coachpipe/coachpipe/internal/models"
)

// Store is the persistence surface the chat worker depends on.
type Store interface {
	CreateThread(t models.Thread) error
	GetThread(id string) (*models.Thread, error)
	UpdateThreadStage(id string, stage models.Stage) error
	UpdateThreadStatus(id string, status models.ThreadStatus) error
	TouchThread(id string, at time.Time) error
	AddMessage(m models.Message) error
	// GetMessages returns the most recent limit messages for a thread in
	// insertion order. limit <= 0 returns all messages.
	GetMessages(threadID string, limit int) ([]models.Message, error)
	// TrimMessages deletes all but the newest keep messages for a thread.
	TrimMessages(threadID string, keep int) error
	SaveLedgerState(threadID string, state ledger.State) error
	GetLedgerState(threadID string) (*ledger.State, error)
	// PauseStaleThreads marks active threads idle for longer than idleFor
	// as paused and returns how many were affected.
	PauseStaleThreads(idleFor time.Duration) (int, error)
	Close() error
}

// Opts holds configuration for store constructors.
type Opts struct {
	DSN string
}

// Option configures store construction.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore keeps all state in process memory. Used in tests and as
// the default backend when no DSN is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]models.Thread
	messages map[string][]models.Message
	ledgers  map[string]ledger.State
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		threads:  make(map[string]models.Thread),
		messages: make(map[string][]models.Message),
		ledgers:  make(map[string]ledger.State),
	}
}

func (s *InMemoryStore) CreateThread(t models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[t.ID] = t
	return nil
}

func (s *InMemoryStore) GetThread(id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, models.ErrThreadNotFound
	}
	return &t, nil
}

func (s *InMemoryStore) UpdateThreadStage(id string, stage models.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return models.ErrThreadNotFound
	}
	t.Stage = stage
	t.UpdatedAt = time.Now()
	s.threads[id] = t
	return nil
}

func (s *InMemoryStore) UpdateThreadStatus(id string, status models.ThreadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return models.ErrThreadNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	s.threads[id] = t
	return nil
}

func (s *InMemoryStore) TouchThread(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return models.ErrThreadNotFound
	}
	t.UpdatedAt = at
	s.threads[id] = t
	return nil
}

func (s *InMemoryStore) AddMessage(m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ThreadID] = append(s.messages[m.ThreadID], m)
	return nil
}

func (s *InMemoryStore) GetMessages(threadID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[threadID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) TrimMessages(threadID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[threadID]
	if keep >= 0 && len(msgs) > keep {
		trimmed := make([]models.Message, keep)
		copy(trimmed, msgs[len(msgs)-keep:])
		s.messages[threadID] = trimmed
	}
	return nil
}

func (s *InMemoryStore) SaveLedgerState(threadID string, state ledger.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers[threadID] = state
	return nil
}

func (s *InMemoryStore) GetLedgerState(threadID string) (*ledger.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.ledgers[threadID]
	if !ok {
		return nil, models.ErrLedgerNotFound
	}
	return &state, nil
}

func (s *InMemoryStore) PauseStaleThreads(idleFor time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-idleFor)
	var ids []string
	for id, t := range s.threads {
		if t.Status == models.ThreadStatusActive && t.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := s.threads[id]
		t.Status = models.ThreadStatusPaused
		t.UpdatedAt = time.Now()
		s.threads[id] = t
	}
	return len(ids), nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
