// Package store provides storage backends for InterviewPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/StakeSim/InterviewPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is
// a file path; its directory is created when missing.
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

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveSessionRecord inserts or updates a session record.
func (s *SQLiteStore) SaveSessionRecord(rec SessionRecord) error {
	stakeholders, pending, err := marshalRecordBlobs(rec)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO interview_sessions
		(id, project_context, stakeholders, session_state, meeting_stage, pending_turn, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_context = excluded.project_context,
			stakeholders    = excluded.stakeholders,
			session_state   = excluded.session_state,
			meeting_stage   = excluded.meeting_stage,
			pending_turn    = excluded.pending_turn,
			updated_at      = excluded.updated_at`,
		rec.ID, rec.ProjectContext, stakeholders, rec.SessionState, rec.MeetingStage, pending, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSessionRecord failed", "error", err, "sessionID", rec.ID)
		return fmt.Errorf("failed to save session %s: %w", rec.ID, err)
	}
	slog.Debug("SQLiteStore SaveSessionRecord succeeded", "sessionID", rec.ID)
	return nil
}

// GetSessionRecord retrieves a session record by ID; nil when absent.
func (s *SQLiteStore) GetSessionRecord(id string) (*SessionRecord, error) {
	row := s.db.QueryRow(`SELECT id, project_context, stakeholders, session_state, meeting_stage, pending_turn, created_at, updated_at
		FROM interview_sessions WHERE id = ?`, id)
	return scanSessionRecord(row)
}

// DeleteSessionRecord removes a session record and its transcript.
func (s *SQLiteStore) DeleteSessionRecord(id string) error {
	if _, err := s.db.Exec(`DELETE FROM transcript_messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete transcript for %s: %w", id, err)
	}
	if _, err := s.db.Exec(`DELETE FROM interview_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// AddTranscriptMessage appends a message to a session's transcript.
func (s *SQLiteStore) AddTranscriptMessage(sessionID string, msg models.ChatMessage) error {
	_, err := s.db.Exec(`INSERT INTO transcript_messages (session_id, role, speaker, content, ts) VALUES (?, ?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.Speaker, msg.Content, msg.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore AddTranscriptMessage failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to insert transcript message for %s: %w", sessionID, err)
	}
	return nil
}

// GetTranscript returns a session's transcript in insertion order.
func (s *SQLiteStore) GetTranscript(sessionID string) ([]models.ChatMessage, error) {
	rows, err := s.db.Query(`SELECT role, speaker, content, ts FROM transcript_messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		slog.Error("SQLiteStore GetTranscript query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query transcript for %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanTranscript(rows)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func marshalRecordBlobs(rec SessionRecord) (stakeholders string, pending sql.NullString, err error) {
	data, err := json.Marshal(rec.Stakeholders)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("failed to marshal stakeholders: %w", err)
	}
	stakeholders = string(data)

	if rec.PendingTurn != nil {
		pdata, perr := json.Marshal(rec.PendingTurn)
		if perr != nil {
			return "", sql.NullString{}, fmt.Errorf("failed to marshal pending turn: %w", perr)
		}
		pending = sql.NullString{String: string(pdata), Valid: true}
	}
	return stakeholders, pending, nil
}

func scanSessionRecord(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var stakeholders string
	var pending sql.NullString

	err := row.Scan(&rec.ID, &rec.ProjectContext, &stakeholders, &rec.SessionState, &rec.MeetingStage, &pending, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session record: %w", err)
	}

	if err := json.Unmarshal([]byte(stakeholders), &rec.Stakeholders); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stakeholders: %w", err)
	}
	if pending.Valid {
		var pt models.PendingTurn
		if err := json.Unmarshal([]byte(pending.String), &pt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending turn: %w", err)
		}
		rec.PendingTurn = &pt
	}
	return &rec, nil
}

func scanTranscript(rows *sql.Rows) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		var role string
		if err := rows.Scan(&role, &msg.Speaker, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transcript message: %w", err)
		}
		msg.Role = models.ChatRole(role)
		out = append(out, msg)
	}
	return out, rows.Err()
}
