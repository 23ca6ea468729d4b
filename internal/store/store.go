// Package store provides storage backends for InterviewPipe.
//
// It persists interview session records and transcripts for the lifetime of
// a session, with in-memory, SQLite, and PostgreSQL implementations.
package store

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/StakeSim/InterviewPipe/internal/models"
)

// SessionRecord is the persisted form of a coaching session. The session
// machine state is stored as an opaque JSON document so the store stays
// decoupled from the state machine's internals.
type SessionRecord struct {
	ID             string                      `json:"id"`
	ProjectContext string                      `json:"project_context,omitempty"`
	Stakeholders   []models.StakeholderProfile `json:"stakeholders"`
	SessionState   string                      `json:"session_state"` // serialized session.Session
	MeetingStage   string                      `json:"meeting_stage"`
	PendingTurn    *models.PendingTurn         `json:"pending_turn,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// Store defines the persistence interface for the coaching pipeline.
type Store interface {
	// SaveSessionRecord inserts or updates a session record.
	SaveSessionRecord(rec SessionRecord) error

	// GetSessionRecord retrieves a session record by ID; nil when absent.
	GetSessionRecord(id string) (*SessionRecord, error)

	// DeleteSessionRecord removes a session record and its transcript.
	DeleteSessionRecord(id string) error

	// AddTranscriptMessage appends a message to a session's transcript.
	AddTranscriptMessage(sessionID string, msg models.ChatMessage) error

	// GetTranscript returns a session's transcript in insertion order.
	GetTranscript(sessionID string) ([]models.ChatMessage, error)

	// Close releases any held resources.
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the data source name (file path for SQLite, connection
// string for PostgreSQL).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports which backend a DSN selects: "postgres" for
// connection strings, "sqlite" for file paths.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore builds the backend the options select: PostgreSQL or SQLite when
// a DSN is configured, in-memory otherwise.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("NewStore: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		slog.Debug("NewStore: detected PostgreSQL DSN")
		return NewPostgresStore(opts...)
	}
	slog.Debug("NewStore: detected SQLite DSN", "db_path", cfg.DSN)
	return NewSQLiteStore(opts...)
}

// InMemoryStore is a Store kept entirely in process memory. It is the
// default backend and the test double.
type InMemoryStore struct {
	mu          sync.RWMutex
	records     map[string]SessionRecord
	transcripts map[string][]models.ChatMessage
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:     make(map[string]SessionRecord),
		transcripts: make(map[string][]models.ChatMessage),
	}
}

// SaveSessionRecord inserts or updates a session record.
func (s *InMemoryStore) SaveSessionRecord(rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

// GetSessionRecord retrieves a session record by ID.
func (s *InMemoryStore) GetSessionRecord(id string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// DeleteSessionRecord removes a session record and its transcript.
func (s *InMemoryStore) DeleteSessionRecord(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	delete(s.transcripts, id)
	return nil
}

// AddTranscriptMessage appends a message to a session's transcript.
func (s *InMemoryStore) AddTranscriptMessage(sessionID string, msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[sessionID] = append(s.transcripts[sessionID], msg)
	return nil
}

// GetTranscript returns a session's transcript in insertion order.
func (s *InMemoryStore) GetTranscript(sessionID string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	transcript := s.transcripts[sessionID]
	out := make([]models.ChatMessage, len(transcript))
	copy(out, transcript)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
