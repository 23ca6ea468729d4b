// Package api exposes the coaching pipeline over HTTP.
//
// It provides RESTful endpoints for creating sessions, submitting learner
// questions, acting on held turns, and reading meeting context and stage
// summaries. All responses use the standardized models.APIResponse envelope.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/StakeSim/InterviewPipe/internal/blueprint"
	"github.com/StakeSim/InterviewPipe/internal/genai"
	"github.com/StakeSim/InterviewPipe/internal/meeting"
	"github.com/StakeSim/InterviewPipe/internal/pipeline"
	"github.com/StakeSim/InterviewPipe/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Coordinator is the pipeline surface the HTTP layer depends on.
type Coordinator interface {
	StartSession(ctx context.Context, req pipeline.StartRequest) (string, error)
	SubmitMessage(ctx context.Context, sessionID, text string) (*pipeline.TurnResult, error)
	Acknowledge(ctx context.Context, sessionID string) (*pipeline.TurnResult, error)
	Discard(ctx context.Context, sessionID string) error
	IsLocked(sessionID string) (bool, error)
	GetContext(sessionID string) (meeting.Context, error)
	GetSummary(sessionID string) (string, error)
	AdvanceMeetingStage(sessionID string) (meeting.MacroStage, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	BlueprintPath string
	MaxAttempts   int
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithBlueprintPath points the server at a custom stage blueprint document.
func WithBlueprintPath(path string) Option {
	return func(o *Opts) { o.BlueprintPath = path }
}

// WithMaxAttempts overrides the pipeline's stakeholder reply retry budget.
func WithMaxAttempts(n int) Option {
	return func(o *Opts) { o.MaxAttempts = n }
}

// Server handles HTTP requests for the coaching pipeline.
type Server struct {
	coordinator Coordinator
	addr        string
}

// NewServer creates a server over the given coordinator.
func NewServer(coordinator Coordinator, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{coordinator: coordinator, addr: cfg.Addr}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.createSessionHandler)
	mux.HandleFunc("POST /sessions/{id}/messages", s.messageHandler)
	mux.HandleFunc("POST /sessions/{id}/acknowledge", s.acknowledgeHandler)
	mux.HandleFunc("POST /sessions/{id}/discard", s.discardHandler)
	mux.HandleFunc("POST /sessions/{id}/stage/advance", s.advanceStageHandler)
	mux.HandleFunc("GET /sessions/{id}/context", s.contextHandler)
	mux.HandleFunc("GET /sessions/{id}/summary", s.summaryHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Start begins serving and blocks until the listener fails.
func (s *Server) Start() error {
	slog.Info("InterviewPipe API listening", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// Run wires the full service from module options and serves until failure:
// store, GenAI client, blueprint, coordinator, HTTP server.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	st, err := store.NewStore(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("Run: failed to close store", "error", closeErr)
		}
	}()

	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize GenAI client: %w", err)
	}

	var bp *blueprint.Blueprint
	if cfg.BlueprintPath != "" {
		bp, err = blueprint.LoadFile(cfg.BlueprintPath)
		slog.Debug("Run: loading blueprint from file", "path", cfg.BlueprintPath)
	} else {
		bp, err = blueprint.Default()
	}
	if err != nil {
		return fmt.Errorf("failed to load stage blueprint: %w", err)
	}

	pipelineOpts := []pipeline.Option{pipeline.WithStore(st)}
	if cfg.MaxAttempts > 0 {
		pipelineOpts = append(pipelineOpts, pipeline.WithMaxAttempts(cfg.MaxAttempts))
	}
	coordinator := pipeline.NewCoordinator(bp, client, pipelineOpts...)
	return NewServer(coordinator, apiOpts...).Start()
}
