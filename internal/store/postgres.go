// Package store provides storage backends for InterviewPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "embed"

	"github.com/StakeSim/InterviewPipe/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run PostgreSQL migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveSessionRecord inserts or updates a session record.
func (s *PostgresStore) SaveSessionRecord(rec SessionRecord) error {
	stakeholders, pending, err := marshalRecordBlobs(rec)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO interview_sessions
		(id, project_context, stakeholders, session_state, meeting_stage, pending_turn, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			project_context = EXCLUDED.project_context,
			stakeholders    = EXCLUDED.stakeholders,
			session_state   = EXCLUDED.session_state,
			meeting_stage   = EXCLUDED.meeting_stage,
			pending_turn    = EXCLUDED.pending_turn,
			updated_at      = EXCLUDED.updated_at`,
		rec.ID, rec.ProjectContext, stakeholders, rec.SessionState, rec.MeetingStage, pending, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSessionRecord failed", "error", err, "sessionID", rec.ID)
		return fmt.Errorf("failed to save session %s: %w", rec.ID, err)
	}
	return nil
}

// GetSessionRecord retrieves a session record by ID; nil when absent.
func (s *PostgresStore) GetSessionRecord(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(`SELECT id, project_context, stakeholders, session_state, meeting_stage, pending_turn, created_at, updated_at
		FROM interview_sessions WHERE id = $1`, id)
	return scanSessionRecord(row)
}

// DeleteSessionRecord removes a session record and its transcript.
func (s *PostgresStore) DeleteSessionRecord(id string) error {
	if _, err := s.db.Exec(`DELETE FROM transcript_messages WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete transcript for %s: %w", id, err)
	}
	if _, err := s.db.Exec(`DELETE FROM interview_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// AddTranscriptMessage appends a message to a session's transcript.
func (s *PostgresStore) AddTranscriptMessage(sessionID string, msg models.ChatMessage) error {
	_, err := s.db.Exec(`INSERT INTO transcript_messages (session_id, role, speaker, content, ts) VALUES ($1, $2, $3, $4, $5)`,
		sessionID, string(msg.Role), msg.Speaker, msg.Content, msg.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AddTranscriptMessage failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to insert transcript message for %s: %w", sessionID, err)
	}
	return nil
}

// GetTranscript returns a session's transcript in insertion order.
func (s *PostgresStore) GetTranscript(sessionID string) ([]models.ChatMessage, error) {
	rows, err := s.db.Query(`SELECT role, speaker, content, ts FROM transcript_messages WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		slog.Error("PostgresStore GetTranscript query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query transcript for %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanTranscript(rows)
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
