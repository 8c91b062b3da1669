// Package store provides storage backends for CoachPipe.
//
// This file implements a PostgreSQL-backed store for threads, messages
// and ledger state.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/coachpipe/coachpipe/internal/ledger"
	"github.com/coachpipe/coachpipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateThread(t models.Thread) error {
	_, err := s.db.Exec(`INSERT INTO threads (id, user_id, domain, language, stage, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.UserID, string(t.Domain), t.Language, string(t.Stage), string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateThread failed", "error", err, "threadID", t.ID)
		return fmt.Errorf("failed to insert thread %s: %w", t.ID, err)
	}
	slog.Debug("PostgresStore CreateThread succeeded", "threadID", t.ID, "userID", t.UserID)
	return nil
}

func (s *PostgresStore) GetThread(id string) (*models.Thread, error) {
	var t models.Thread
	err := s.db.QueryRow(`SELECT id, user_id, domain, language, stage, status, created_at, updated_at
		FROM threads WHERE id = $1`, id).Scan(
		&t.ID, &t.UserID, &t.Domain, &t.Language, &t.Stage, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrThreadNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetThread failed", "error", err, "threadID", id)
		return nil, fmt.Errorf("failed to query thread %s: %w", id, err)
	}
	return &t, nil
}

func (s *PostgresStore) UpdateThreadStage(id string, stage models.Stage) error {
	res, err := s.db.Exec(`UPDATE threads SET stage = $1, updated_at = $2 WHERE id = $3`, string(stage), time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore UpdateThreadStage failed", "error", err, "threadID", id)
		return fmt.Errorf("failed to update thread stage for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) UpdateThreadStatus(id string, status models.ThreadStatus) error {
	res, err := s.db.Exec(`UPDATE threads SET status = $1, updated_at = $2 WHERE id = $3`, string(status), time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore UpdateThreadStatus failed", "error", err, "threadID", id)
		return fmt.Errorf("failed to update thread status for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) TouchThread(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE threads SET updated_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		slog.Error("PostgresStore TouchThread failed", "error", err, "threadID", id)
		return fmt.Errorf("failed to touch thread %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) AddMessage(m models.Message) error {
	_, err := s.db.Exec(`INSERT INTO messages (id, thread_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ThreadID, string(m.Role), m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "threadID", m.ThreadID)
		return fmt.Errorf("failed to insert message for thread %s: %w", m.ThreadID, err)
	}
	slog.Debug("PostgresStore AddMessage succeeded", "threadID", m.ThreadID, "role", m.Role)
	return nil
}

func (s *PostgresStore) GetMessages(threadID string, limit int) ([]models.Message, error) {
	query := `SELECT id, thread_id, role, content, created_at FROM (
		SELECT seq, id, thread_id, role, content, created_at FROM messages
		WHERE thread_id = $1 ORDER BY seq DESC LIMIT $2
	) recent ORDER BY seq ASC`
	var limitArg interface{} = limit
	if limit <= 0 {
		limitArg = nil
	}
	rows, err := s.db.Query(query, threadID, limitArg)
	if err != nil {
		slog.Error("PostgresStore GetMessages query failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to query messages for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			slog.Error("PostgresStore GetMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("PostgresStore GetMessages succeeded", "threadID", threadID, "count", len(msgs))
	return msgs, nil
}

func (s *PostgresStore) TrimMessages(threadID string, keep int) error {
	if keep < 0 {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM messages WHERE thread_id = $1 AND seq NOT IN (
		SELECT seq FROM messages WHERE thread_id = $2 ORDER BY seq DESC LIMIT $3)`,
		threadID, threadID, keep)
	if err != nil {
		slog.Error("PostgresStore TrimMessages failed", "error", err, "threadID", threadID)
		return fmt.Errorf("failed to trim messages for thread %s: %w", threadID, err)
	}
	return nil
}

func (s *PostgresStore) SaveLedgerState(threadID string, state ledger.State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		slog.Error("PostgresStore SaveLedgerState JSON marshal failed", "error", err, "threadID", threadID)
		return err
	}
	_, err = s.db.Exec(`INSERT INTO ledger_states (thread_id, state, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (thread_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		threadID, string(stateJSON), time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveLedgerState failed", "error", err, "threadID", threadID)
		return fmt.Errorf("failed to save ledger state for thread %s: %w", threadID, err)
	}
	slog.Debug("PostgresStore SaveLedgerState succeeded", "threadID", threadID)
	return nil
}

func (s *PostgresStore) GetLedgerState(threadID string) (*ledger.State, error) {
	var stateJSON string
	err := s.db.QueryRow(`SELECT state FROM ledger_states WHERE thread_id = $1`, threadID).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, models.ErrLedgerNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetLedgerState failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to query ledger state for thread %s: %w", threadID, err)
	}
	var state ledger.State
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		slog.Error("PostgresStore GetLedgerState JSON unmarshal failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to decode ledger state for thread %s: %w", threadID, err)
	}
	return &state, nil
}

func (s *PostgresStore) PauseStaleThreads(idleFor time.Duration) (int, error) {
	cutoff := time.Now().Add(-idleFor)
	res, err := s.db.Exec(`UPDATE threads SET status = $1, updated_at = $2 WHERE status = $3 AND updated_at < $4`,
		string(models.ThreadStatusPaused), time.Now(), string(models.ThreadStatusActive), cutoff)
	if err != nil {
		slog.Error("PostgresStore PauseStaleThreads failed", "error", err)
		return 0, fmt.Errorf("failed to pause stale threads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Debug("PostgresStore PauseStaleThreads succeeded", "count", n)
	return int(n), nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
