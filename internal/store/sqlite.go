// Package store provides storage backends for CoachPipe.
//
// This file implements an SQLite-backed store for threads, messages and
// ledger state.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/coachpipe/coachpipe/internal/ledger"
	"github.com/coachpipe/coachpipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateThread(t models.Thread) error {
	_, err := s.db.Exec(`INSERT INTO threads (id, user_id, domain, language, stage, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, string(t.Domain), t.Language, string(t.Stage), string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateThread failed", "error", err, "threadID", t.ID)
		return fmt.Errorf("failed to insert thread %s: %w", t.ID, err)
	}
	slog.Debug("SQLiteStore CreateThread succeeded", "threadID", t.ID, "userID", t.UserID)
	return nil
}

func (s *SQLiteStore) GetThread(id string) (*models.Thread, error) {
	var t models.Thread
	err := s.db.QueryRow(`SELECT id, user_id, domain, language, stage, status, created_at, updated_at
		FROM threads WHERE id = ?`, id).Scan(
		&t.ID, &t.UserID, &t.Domain, &t.Language, &t.Stage, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrThreadNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetThread failed", "error", err, "threadID", id)
		return nil, fmt.Errorf("failed to query thread %s: %w", id, err)
	}
	return &t, nil
}

func (s *SQLiteStore) UpdateThreadStage(id string, stage models.Stage) error {
	res, err := s.db.Exec(`UPDATE threads SET stage = ?, updated_at = ? WHERE id = ?`, string(stage), time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore UpdateThreadStage failed", "error", err, "threadID", id)
		return fmt.Errorf("failed to update thread stage for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) UpdateThreadStatus(id string, status models.ThreadStatus) error {
	res, err := s.db.Exec(`UPDATE threads SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore UpdateThreadStatus failed", "error", err, "threadID", id)
		return fmt.Errorf("failed to update thread status for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) TouchThread(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE threads SET updated_at = ? WHERE id = ?`, at, id)
	if err != nil {
		slog.Error("SQLiteStore TouchThread failed", "error", err, "threadID", id)
		return fmt.Errorf("failed to touch thread %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) AddMessage(m models.Message) error {
	_, err := s.db.Exec(`INSERT INTO messages (id, thread_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, string(m.Role), m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "threadID", m.ThreadID)
		return fmt.Errorf("failed to insert message for thread %s: %w", m.ThreadID, err)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "threadID", m.ThreadID, "role", m.Role)
	return nil
}

func (s *SQLiteStore) GetMessages(threadID string, limit int) ([]models.Message, error) {
	query := `SELECT id, thread_id, role, content, created_at FROM (
		SELECT seq, id, thread_id, role, content, created_at FROM messages
		WHERE thread_id = ? ORDER BY seq DESC LIMIT ?
	) ORDER BY seq ASC`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(query, threadID, limit)
	if err != nil {
		slog.Error("SQLiteStore GetMessages query failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to query messages for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			slog.Error("SQLiteStore GetMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("SQLiteStore GetMessages succeeded", "threadID", threadID, "count", len(msgs))
	return msgs, nil
}

func (s *SQLiteStore) TrimMessages(threadID string, keep int) error {
	if keep < 0 {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM messages WHERE thread_id = ? AND seq NOT IN (
		SELECT seq FROM messages WHERE thread_id = ? ORDER BY seq DESC LIMIT ?)`,
		threadID, threadID, keep)
	if err != nil {
		slog.Error("SQLiteStore TrimMessages failed", "error", err, "threadID", threadID)
		return fmt.Errorf("failed to trim messages for thread %s: %w", threadID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveLedgerState(threadID string, state ledger.State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		slog.Error("SQLiteStore SaveLedgerState JSON marshal failed", "error", err, "threadID", threadID)
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO ledger_states (thread_id, state, updated_at) VALUES (?, ?, ?)`,
		threadID, string(stateJSON), time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveLedgerState failed", "error", err, "threadID", threadID)
		return fmt.Errorf("failed to save ledger state for thread %s: %w", threadID, err)
	}
	slog.Debug("SQLiteStore SaveLedgerState succeeded", "threadID", threadID)
	return nil
}

func (s *SQLiteStore) GetLedgerState(threadID string) (*ledger.State, error) {
	var stateJSON string
	err := s.db.QueryRow(`SELECT state FROM ledger_states WHERE thread_id = ?`, threadID).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, models.ErrLedgerNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetLedgerState failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to query ledger state for thread %s: %w", threadID, err)
	}
	var state ledger.State
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		slog.Error("SQLiteStore GetLedgerState JSON unmarshal failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to decode ledger state for thread %s: %w", threadID, err)
	}
	return &state, nil
}

func (s *SQLiteStore) PauseStaleThreads(idleFor time.Duration) (int, error) {
	cutoff := time.Now().Add(-idleFor)
	res, err := s.db.Exec(`UPDATE threads SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		string(models.ThreadStatusPaused), time.Now(), string(models.ThreadStatusActive), cutoff)
	if err != nil {
		slog.Error("SQLiteStore PauseStaleThreads failed", "error", err)
		return 0, fmt.Errorf("failed to pause stale threads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Debug("SQLiteStore PauseStaleThreads succeeded", "count", n)
	return int(n), nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

// requireRow converts a zero-row update into ErrThreadNotFound.
func requireRow(res sql.Result, threadID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrThreadNotFound, threadID)
	}
	return nil
}
