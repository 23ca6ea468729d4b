// Package pipeline wires the coaching subsystems into the per-turn control
// flow: evaluate the learner's question, gate it behind coaching when it
// falls short, and otherwise route it to a stakeholder persona, collect the
// reply, suggest follow-ups, and fold the exchange into the meeting context.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/StakeSim/InterviewPipe/internal/aggregator"
	"github.com/StakeSim/InterviewPipe/internal/blueprint"
	"github.com/StakeSim/InterviewPipe/internal/evaluation"
	"github.com/StakeSim/InterviewPipe/internal/genai"
	"github.com/StakeSim/InterviewPipe/internal/meeting"
	"github.com/StakeSim/InterviewPipe/internal/models"
	"github.com/StakeSim/InterviewPipe/internal/persona"
	"github.com/StakeSim/InterviewPipe/internal/router"
	"github.com/StakeSim/InterviewPipe/internal/session"
	"github.com/StakeSim/InterviewPipe/internal/store"
)

const (
	// DefaultMaxAttempts bounds the retry loop around the user-visible
	// stakeholder reply. Scoring steps never retry; they fall back.
	DefaultMaxAttempts = 3

	// retryDelay separates attempts within the retry budget.
	retryDelay = 500 * time.Millisecond

	// apologyMessage is the single user-visible message emitted when the
	// retry budget is exhausted.
	apologyMessage = "I'm sorry, I wasn't able to reach the team just now. Please send your question again in a moment."
)

// Opts holds configuration options for the Coordinator.
type Opts struct {
	Store       store.Store
	MaxAttempts int
}

// Option configures the Coordinator.
type Option func(*Opts)

// WithStore sets the persistence backend. Defaults to in-memory.
func WithStore(s store.Store) Option {
	return func(o *Opts) { o.Store = s }
}

// WithMaxAttempts overrides the reply retry budget.
func WithMaxAttempts(n int) Option {
	return func(o *Opts) {
		if n > 0 {
			o.MaxAttempts = n
		}
	}
}

// Coordinator is the turn controller. All collaborators are injected at
// construction; it holds no global state.
type Coordinator struct {
	bp          *blueprint.Blueprint
	evaluator   *evaluation.Evaluator
	responder   *persona.Responder
	aggregator  *aggregator.Aggregator
	store       store.Store
	maxAttempts int

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// liveSession is the in-memory runtime for one coaching session. Its mutex
// serializes turn processing so at most one turn mutates the session at a
// time.
type liveSession struct {
	mu             sync.Mutex
	id             string
	projectContext string
	stakeholders   []models.StakeholderProfile
	machine        *session.Session
	tracker        *meeting.Tracker
	history        []models.ChatMessage
	pending        *models.PendingTurn
	createdAt      time.Time
}

// NewCoordinator creates a coordinator over the given blueprint and GenAI
// client.
func NewCoordinator(bp *blueprint.Blueprint, client genai.ClientInterface, opts ...Option) *Coordinator {
	cfg := Opts{
		Store:       store.NewInMemoryStore(),
		MaxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Coordinator{
		bp:          bp,
		evaluator:   evaluation.NewEvaluator(client),
		responder:   persona.NewResponder(client),
		aggregator:  aggregator.New(client),
		store:       cfg.Store,
		maxAttempts: cfg.MaxAttempts,
		sessions:    make(map[string]*liveSession),
	}
}

// StartRequest carries the inputs for a new coaching session.
type StartRequest struct {
	ProjectContext string                      `json:"project_context,omitempty"`
	Stakeholders   []models.StakeholderProfile `json:"stakeholders"`
}

// TurnResult is the outcome of one submitted question (or an acknowledged
// resume). Reply and FollowUps are nil while the session is locked.
type TurnResult struct {
	SessionID  string                   `json:"session_id"`
	Verdict    models.Verdict           `json:"verdict"`
	Evaluation models.EvaluationResult  `json:"evaluation"`
	Coaching   models.CoachingFeedback  `json:"coaching"`
	Locked     bool                     `json:"locked"`
	Reply      *models.StakeholderReply `json:"reply,omitempty"`
	FollowUps  []models.FollowUp        `json:"follow_ups,omitempty"`
	Context    meeting.Context          `json:"context"`
	Stage      blueprint.StageID        `json:"stage"`
	Progress   int                      `json:"progress"`
	Advanced   bool                     `json:"advanced"`
}

// StartSession creates a new session positioned at the blueprint's initial
// stage and returns its ID.
func (c *Coordinator) StartSession(ctx context.Context, req StartRequest) (string, error) {
	if len(req.Stakeholders) == 0 {
		return "", models.ErrNoStakeholders
	}
	for i := range req.Stakeholders {
		if err := req.Stakeholders[i].Validate(); err != nil {
			return "", fmt.Errorf("%w at index %d: %s", models.ErrInvalidStakeholder, i, err)
		}
	}

	rt := &liveSession{
		id:             uuid.NewString(),
		projectContext: req.ProjectContext,
		stakeholders:   req.Stakeholders,
		machine:        session.New(c.bp),
		tracker:        meeting.NewTracker(meeting.StageKickoff),
		createdAt:      time.Now(),
	}

	c.mu.Lock()
	c.sessions[rt.id] = rt
	c.mu.Unlock()

	if err := c.persist(rt); err != nil {
		return "", fmt.Errorf("failed to persist new session: %w", err)
	}

	slog.Info("pipeline.StartSession: session created", "sessionID", rt.id, "stakeholders", len(req.Stakeholders))
	return rt.id, nil
}

// SubmitMessage processes one learner question end to end. A question that
// arrives while a pending turn is outstanding supersedes it: the previous
// turn is dropped and the new one evaluated (last write wins).
func (c *Coordinator) SubmitMessage(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	if err := models.ValidateQuestion(text); err != nil {
		return nil, err
	}

	rt, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.machine.Terminal() {
		return nil, models.ErrSessionTerminal
	}
	if rt.pending != nil {
		slog.Debug("pipeline.SubmitMessage: superseding pending turn", "sessionID", sessionID)
		rt.pending = nil
	}

	stageID := rt.machine.State
	stageDef := rt.machine.CurrentStage()

	eval := c.evaluator.Evaluate(ctx, evaluation.EvaluateInput{
		Question:       text,
		StageID:        stageID,
		Stage:          stageDef,
		ProjectContext: rt.projectContext,
		History:        rt.history,
	})
	coaching := c.evaluator.Coach(ctx, evaluation.CoachInput{
		Question:       text,
		Evaluation:     eval,
		StageID:        stageID,
		Stage:          stageDef,
		ProjectContext: rt.projectContext,
	})

	c.appendMessage(rt, models.ChatMessage{Role: models.RoleLearner, Content: text, Timestamp: time.Now()})

	res := &TurnResult{
		SessionID:  sessionID,
		Verdict:    eval.Verdict,
		Evaluation: eval,
		Coaching:   coaching,
	}

	if coaching.AcknowledgementRequired {
		rt.pending = &models.PendingTurn{
			Question:   text,
			Evaluation: eval,
			CreatedAt:  time.Now(),
		}
		res.Locked = true
		c.appendMessage(rt, models.ChatMessage{Role: models.RoleCoach, Content: coaching.Summary, Timestamp: time.Now()})
		slog.Info("pipeline.SubmitMessage: turn held for acknowledgement",
			"sessionID", sessionID, "verdict", eval.Verdict, "action", coaching.Action)
	} else {
		c.deliver(ctx, rt, text, eval.Verdict, res)
	}

	c.finishResult(rt, res)
	if err := c.persist(rt); err != nil {
		slog.Error("pipeline.SubmitMessage: failed to persist session", "error", err, "sessionID", sessionID)
	}
	return res, nil
}

// Acknowledge resumes a held turn: the original question proceeds from
// routing with exactly one stakeholder reply, and the lock clears.
func (c *Coordinator) Acknowledge(ctx context.Context, sessionID string) (*TurnResult, error) {
	rt, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending == nil {
		return nil, models.ErrNoPendingTurn
	}

	question := rt.pending.Question
	eval := rt.pending.Evaluation
	rt.pending = nil

	res := &TurnResult{
		SessionID:  sessionID,
		Verdict:    eval.Verdict,
		Evaluation: eval,
	}
	c.deliver(ctx, rt, question, eval.Verdict, res)

	c.finishResult(rt, res)
	if err := c.persist(rt); err != nil {
		slog.Error("pipeline.Acknowledge: failed to persist session", "error", err, "sessionID", sessionID)
	}
	slog.Info("pipeline.Acknowledge: held turn resumed", "sessionID", sessionID, "verdict", eval.Verdict)
	return res, nil
}

// Discard drops a held turn without a stakeholder reply and clears the lock.
func (c *Coordinator) Discard(ctx context.Context, sessionID string) error {
	rt, err := c.session(sessionID)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.pending == nil {
		return models.ErrNoPendingTurn
	}
	rt.pending = nil

	if err := c.persist(rt); err != nil {
		slog.Error("pipeline.Discard: failed to persist session", "error", err, "sessionID", sessionID)
	}
	slog.Info("pipeline.Discard: held turn dropped", "sessionID", sessionID)
	return nil
}

// IsLocked reports whether the session is awaiting acknowledgement.
func (c *Coordinator) IsLocked(sessionID string) (bool, error) {
	rt, err := c.session(sessionID)
	if err != nil {
		return false, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pending != nil, nil
}

// GetContext returns the current meeting context snapshot.
func (c *Coordinator) GetContext(sessionID string) (meeting.Context, error) {
	rt, err := c.session(sessionID)
	if err != nil {
		return meeting.Context{}, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.tracker.Snapshot(), nil
}

// GetSummary renders the active stage's summary template from captured
// session data.
func (c *Coordinator) GetSummary(sessionID string) (string, error) {
	rt, err := c.session(sessionID)
	if err != nil {
		return "", err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.machine.GenerateSummary(), nil
}

// AdvanceMeetingStage applies an explicit macro-stage transition, normally
// invoked when the UI acts on a ShouldTransition signal.
func (c *Coordinator) AdvanceMeetingStage(sessionID string) (meeting.MacroStage, error) {
	rt, err := c.session(sessionID)
	if err != nil {
		return "", err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.tracker.TransitionToNextStage()
	if err := c.persist(rt); err != nil {
		slog.Error("pipeline.AdvanceMeetingStage: failed to persist session", "error", err, "sessionID", sessionID)
	}
	return rt.tracker.CurrentStage(), nil
}

// deliver runs the answering half of a turn: route the question, generate
// the stakeholder reply inside the retry budget, suggest follow-ups, and
// fold the exchange into the meeting context and session machine.
func (c *Coordinator) deliver(ctx context.Context, rt *liveSession, question string, verdict models.Verdict, res *TurnResult) {
	profile := router.Route(question, rt.stakeholders)
	stageID := rt.machine.State
	stageDef := rt.machine.CurrentStage()

	var reply models.StakeholderReply
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		reply, err = c.responder.Respond(ctx, persona.RespondInput{
			Question:    question,
			Verdict:     verdict,
			StageID:     stageID,
			Stage:       stageDef,
			Profile:     profile,
			AllProfiles: rt.stakeholders,
			History:     rt.history,
		})
		if err == nil {
			break
		}
		slog.Warn("pipeline.deliver: stakeholder reply attempt failed",
			"error", err, "sessionID", rt.id, "attempt", attempt, "maxAttempts", c.maxAttempts)
		if attempt < c.maxAttempts {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		slog.Error("pipeline.deliver: retry budget exhausted", "error", err, "sessionID", rt.id)
		reply = models.StakeholderReply{
			SpeakerID:   profile.ID,
			SpeakerName: profile.Name,
			Content:     apologyMessage,
			Metadata:    map[string]string{"error": "model_unavailable"},
		}
		res.Reply = &reply
		return
	}

	c.appendMessage(rt, models.ChatMessage{
		Role:      models.RoleStakeholder,
		Speaker:   reply.SpeakerName,
		Content:   reply.Content,
		Timestamp: time.Now(),
	})
	res.Reply = &reply
	res.FollowUps = c.responder.FollowUps(ctx, reply.Content, stageID, stageDef, rt.history)

	partial, aerr := c.aggregator.Analyze(ctx, rt.history, rt.tracker.CurrentStage())
	if aerr != nil {
		slog.Warn("pipeline.deliver: context analysis failed, keeping previous context", "error", aerr, "sessionID", rt.id)
	} else {
		rt.tracker.Update(partial)
		for _, pp := range partial.PainPoints {
			rt.machine.AddPainPoint(session.PainPoint{Text: pp.Area, Who: pp.Emotion, Example: pp.Impact})
		}
	}

	res.Advanced = rt.machine.Advance(question)
	if !res.Advanced {
		res.Advanced = rt.machine.Advance(reply.Content)
	}
}

// finishResult stamps the shared trailing fields onto a turn result.
func (c *Coordinator) finishResult(rt *liveSession, res *TurnResult) {
	res.Context = rt.tracker.Snapshot()
	res.Stage = rt.machine.State
	res.Progress = rt.machine.Progress
}

// appendMessage records a transcript entry in memory and in the store.
func (c *Coordinator) appendMessage(rt *liveSession, msg models.ChatMessage) {
	rt.history = append(rt.history, msg)
	if err := c.store.AddTranscriptMessage(rt.id, msg); err != nil {
		slog.Error("pipeline: failed to persist transcript message", "error", err, "sessionID", rt.id)
	}
}

// session returns the live runtime for the given ID, restoring it from the
// store if this process has not seen it yet.
func (c *Coordinator) session(sessionID string) (*liveSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rt, ok := c.sessions[sessionID]; ok {
		return rt, nil
	}

	rt, err := c.restore(sessionID)
	if err != nil {
		return nil, err
	}
	c.sessions[sessionID] = rt
	return rt, nil
}

// restore rebuilds a live session from its persisted record. The meeting
// tracker restarts at the recorded macro-stage; its tallies refill on the
// next turn's full-history analysis.
func (c *Coordinator) restore(sessionID string) (*liveSession, error) {
	rec, err := c.store.GetSessionRecord(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session record: %w", err)
	}
	if rec == nil {
		return nil, models.ErrSessionNotFound
	}

	var machine session.Session
	if err := json.Unmarshal([]byte(rec.SessionState), &machine); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}

	history, err := c.store.GetTranscript(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	slog.Debug("pipeline.restore: session restored from store", "sessionID", sessionID, "stage", machine.State)
	return &liveSession{
		id:             rec.ID,
		projectContext: rec.ProjectContext,
		stakeholders:   rec.Stakeholders,
		machine:        session.Restore(&machine, c.bp),
		tracker:        meeting.NewTracker(meeting.MacroStage(rec.MeetingStage)),
		history:        history,
		pending:        rec.PendingTurn,
		createdAt:      rec.CreatedAt,
	}, nil
}

// persist writes the session record. Callers hold rt.mu.
func (c *Coordinator) persist(rt *liveSession) error {
	state, err := json.Marshal(rt.machine)
	if err != nil {
		return fmt.Errorf("failed to serialize session state: %w", err)
	}
	return c.store.SaveSessionRecord(store.SessionRecord{
		ID:             rt.id,
		ProjectContext: rt.projectContext,
		Stakeholders:   rt.stakeholders,
		SessionState:   string(state),
		MeetingStage:   string(rt.tracker.CurrentStage()),
		PendingTurn:    rt.pending,
		CreatedAt:      rt.createdAt,
		UpdatedAt:      time.Now(),
	})
}
