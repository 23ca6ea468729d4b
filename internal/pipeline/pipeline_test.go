package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go"

	"github.com/StakeSim/InterviewPipe/internal/blueprint"
	"github.com/StakeSim/InterviewPipe/internal/models"
	"github.com/StakeSim/InterviewPipe/internal/store"
)

// scriptedClient dispatches on the system prompt so one mock can serve
// every model-backed step of a turn.
type scriptedClient struct {
	mu sync.Mutex

	evalResp     string
	coachResp    string
	replyResp    string
	followResp   string
	analysisResp string

	respondErr       error
	respondCalls     int
	respondQuestions []string
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		evalResp: `{"verdict": "GREEN", "overall_score": 85, "reasons": ["open question tied to the stage goal"]}`,
		coachResp: `{"verdict_label": "Great question", "summary": "Open and stage-appropriate.",
			"what_to_do": "Keep probing for specifics.", "action": "CONTINUE"}`,
		replyResp: "Honestly, the invoice approvals keep piling up every Friday.",
		followResp: `[
			{"type": "drill_down", "question": "Can you walk me through one of those Fridays?", "rationale": "Get a concrete example."},
			{"type": "quantify", "question": "How many approvals pile up in a typical week?", "rationale": "Size the problem."},
			{"type": "broaden", "question": "Who else gets pulled into the backlog?", "rationale": "Find other affected parties."}
		]`,
		analysisResp: `{"topics_covered": ["invoice approvals"],
			"pain_points": [{"area": "approval backlog", "impact": "payments slip past due dates", "emotion": "frustrated", "layer": 2}],
			"process_steps": ["collect invoices", "route for sign-off"],
			"improvements": []}`,
	}
}

func (m *scriptedClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sys := ""
	if len(messages) > 0 && messages[0].OfSystem != nil {
		sys = messages[0].OfSystem.Content.OfString.Value
	}

	switch {
	case strings.Contains(sys, "interview-skills assessor"):
		return m.evalResp, nil
	case strings.Contains(sys, "supportive interview coach"):
		return m.coachResp, nil
	case strings.Contains(sys, "suggest follow-up questions"):
		return m.followResp, nil
	case strings.Contains(sys, "requirements-interview transcript"):
		return m.analysisResp, nil
	default:
		// Stakeholder persona reply.
		m.respondCalls++
		if last := messages[len(messages)-1]; last.OfUser != nil {
			m.respondQuestions = append(m.respondQuestions, last.OfUser.Content.OfString.Value)
		}
		if m.respondErr != nil {
			return "", m.respondErr
		}
		return m.replyResp, nil
	}
}

func (m *scriptedClient) setAmber() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evalResp = `{"verdict": "AMBER", "overall_score": 45, "reasons": ["closed question"], "suggested_rewrite": "What challenges come up most often?"}`
	m.coachResp = `{"verdict_label": "Needs work", "summary": "Closed questions shut stakeholders down.",
		"what_to_do": "Open the question up.", "suggested_rewrite": "What challenges come up most often?",
		"action": "ACKNOWLEDGE_AND_RETRY"}`
}

func (m *scriptedClient) setGreen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evalResp = `{"verdict": "GREEN", "overall_score": 85, "reasons": ["open question"]}`
	m.coachResp = `{"verdict_label": "Great question", "summary": "Open and stage-appropriate.",
		"what_to_do": "Keep going.", "action": "CONTINUE"}`
}

func testStakeholders() []models.StakeholderProfile {
	return []models.StakeholderProfile{
		{ID: "sh-operations", Name: "Maria Santos", Role: "Operations Manager", Department: "Operations"},
		{ID: "sh-it", Name: "Derek Chen", Role: "IT Systems Administrator", Department: "IT"},
	}
}

func testCoordinator(t *testing.T, client *scriptedClient, opts ...Option) *Coordinator {
	t.Helper()
	bp, err := blueprint.Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	return NewCoordinator(bp, client, opts...)
}

func startSession(t *testing.T, c *Coordinator) string {
	t.Helper()
	id, err := c.StartSession(context.Background(), StartRequest{
		ProjectContext: "Invoice processing takes too long at Meridian Logistics.",
		Stakeholders:   testStakeholders(),
	})
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}
	return id
}

func TestStartSession_RequiresStakeholders(t *testing.T) {
	c := testCoordinator(t, newScriptedClient())

	_, err := c.StartSession(context.Background(), StartRequest{})
	if !errors.Is(err, models.ErrNoStakeholders) {
		t.Fatalf("expected ErrNoStakeholders, got %v", err)
	}

	_, err = c.StartSession(context.Background(), StartRequest{
		Stakeholders: []models.StakeholderProfile{{ID: "sh-1"}},
	})
	if err == nil {
		t.Fatal("expected error for profile without a name")
	}
}

func TestSubmitMessage_GreenTurnDeliversReply(t *testing.T) {
	client := newScriptedClient()
	c := testCoordinator(t, client)
	id := startSession(t, c)

	res, err := c.SubmitMessage(context.Background(), id, "What are the main challenges you're facing?")
	if err != nil {
		t.Fatalf("SubmitMessage() error: %v", err)
	}

	if res.Verdict != models.VerdictGreen {
		t.Errorf("Verdict = %q, want GREEN", res.Verdict)
	}
	if res.Locked {
		t.Error("GREEN turn must not lock the session")
	}
	if res.Reply == nil || res.Reply.Content == "" {
		t.Fatal("expected a stakeholder reply")
	}
	if res.Reply.SpeakerID != "sh-operations" {
		t.Errorf("SpeakerID = %q, want first candidate sh-operations", res.Reply.SpeakerID)
	}
	if len(res.FollowUps) != models.FollowUpCount {
		t.Errorf("got %d follow-ups, want %d", len(res.FollowUps), models.FollowUpCount)
	}
	if !res.Advanced || res.Stage != "problem_exploration" {
		t.Errorf("problem question should advance warm_up: advanced=%v stage=%q", res.Advanced, res.Stage)
	}
	if res.Progress <= 0 {
		t.Errorf("Progress = %d, want > 0 after advancing", res.Progress)
	}
	if len(res.Context.PainPointsIdentified) != 1 {
		t.Errorf("got %d pain points in context, want 1", len(res.Context.PainPointsIdentified))
	}
}

func TestSubmitMessage_PersistsTranscript(t *testing.T) {
	client := newScriptedClient()
	st := store.NewInMemoryStore()
	c := testCoordinator(t, client, WithStore(st))
	id := startSession(t, c)

	if _, err := c.SubmitMessage(context.Background(), id, "What are the main challenges you're facing?"); err != nil {
		t.Fatalf("SubmitMessage() error: %v", err)
	}

	transcript, err := st.GetTranscript(id)
	if err != nil {
		t.Fatalf("GetTranscript() error: %v", err)
	}
	if len(transcript) != 2 {
		t.Fatalf("transcript has %d messages, want learner + stakeholder", len(transcript))
	}
	if transcript[0].Role != models.RoleLearner || transcript[1].Role != models.RoleStakeholder {
		t.Errorf("transcript roles = %q, %q", transcript[0].Role, transcript[1].Role)
	}
}

func TestSubmitMessage_AmberLocksSession(t *testing.T) {
	client := newScriptedClient()
	client.setAmber()
	c := testCoordinator(t, client)
	id := startSession(t, c)

	res, err := c.SubmitMessage(context.Background(), id, "Do you use the approval system?")
	if err != nil {
		t.Fatalf("SubmitMessage() error: %v", err)
	}

	if !res.Locked {
		t.Fatal("AMBER turn must lock the session")
	}
	if res.Reply != nil {
		t.Error("locked turn must not carry a stakeholder reply")
	}
	if !res.Coaching.AcknowledgementRequired {
		t.Error("coaching must require acknowledgement when locked")
	}
	if locked, _ := c.IsLocked(id); !locked {
		t.Error("IsLocked() = false after AMBER turn")
	}
	if client.respondCalls != 0 {
		t.Errorf("stakeholder was called %d times on a held turn", client.respondCalls)
	}
}

func TestSubmitMessage_LastWriteWinsOverPendingTurn(t *testing.T) {
	client := newScriptedClient()
	client.setAmber()
	c := testCoordinator(t, client)
	id := startSession(t, c)

	if _, err := c.SubmitMessage(context.Background(), id, "Do you use the approval system?"); err != nil {
		t.Fatalf("SubmitMessage() error: %v", err)
	}

	client.setGreen()
	res, err := c.SubmitMessage(context.Background(), id, "What are the biggest challenges in your approval process?")
	if err != nil {
		t.Fatalf("second SubmitMessage() error: %v", err)
	}
	if res.Locked || res.Reply == nil {
		t.Fatal("new GREEN question must supersede the held turn and get a reply")
	}
	if locked, _ := c.IsLocked(id); locked {
		t.Error("session still locked after superseding turn completed")
	}
	if _, err := c.Acknowledge(context.Background(), id); !errors.Is(err, models.ErrNoPendingTurn) {
		t.Errorf("expected ErrNoPendingTurn after supersede, got %v", err)
	}
}

func TestAcknowledge_ResumesHeldQuestion(t *testing.T) {
	client := newScriptedClient()
	client.setAmber()
	c := testCoordinator(t, client)
	id := startSession(t, c)

	held := "Do you use the approval system?"
	if _, err := c.SubmitMessage(context.Background(), id, held); err != nil {
		t.Fatalf("SubmitMessage() error: %v", err)
	}

	res, err := c.Acknowledge(context.Background(), id)
	if err != nil {
		t.Fatalf("Acknowledge() error: %v", err)
	}
	if res.Reply == nil {
		t.Fatal("acknowledged turn must produce a stakeholder reply")
	}
	if res.Verdict != models.VerdictAmber {
		t.Errorf("Verdict = %q, want the held evaluation's AMBER", res.Verdict)
	}
	if client.respondCalls != 1 {
		t.Fatalf("stakeholder called %d times, want exactly 1", client.respondCalls)
	}
	if got := client.respondQuestions[0]; got != held {
		t.Errorf("stakeholder answered %q, want the held question %q", got, held)
	}
	if locked, _ := c.IsLocked(id); locked {
		t.Error("session still locked after Acknowledge")
	}
}

func TestAcknowledge_WithoutPendingTurn(t *testing.T) {
	c := testCoordinator(t, newScriptedClient())
	id := startSession(t, c)

	if _, err := c.Acknowledge(context.Background(), id); !errors.Is(err, models.ErrNoPendingTurn) {
		t.Errorf("expected ErrNoPendingTurn, got %v", err)
	}
}

func TestDiscard_ClearsLockWithoutReply(t *testing.T) {
	client := newScriptedClient()
	client.setAmber()
	c := testCoordinator(t, client)
	id := startSession(t, c)

	if _, err := c.SubmitMessage(context.Background(), id, "Do you use the approval system?"); err != nil {
		t.Fatalf("SubmitMessage() error: %v", err)
	}
	if err := c.Discard(context.Background(), id); err != nil {
		t.Fatalf("Discard() error: %v", err)
	}
	if locked, _ := c.IsLocked(id); locked {
		t.Error("session still locked after Discard")
	}
	if client.respondCalls != 0 {
		t.Errorf("stakeholder called %d times on discard, want 0", client.respondCalls)
	}
	if err := c.Discard(context.Background(), id); !errors.Is(err, models.ErrNoPendingTurn) {
		t.Errorf("second Discard: expected ErrNoPendingTurn, got %v", err)
	}
}

func TestSubmitMessage_RetryBudgetThenApology(t *testing.T) {
	client := newScriptedClient()
	client.respondErr = errors.New("connection reset")
	c := testCoordinator(t, client, WithMaxAttempts(2))
	id := startSession(t, c)

	res, err := c.SubmitMessage(context.Background(), id, "What are the main challenges you're facing?")
	if err != nil {
		t.Fatalf("SubmitMessage() error: %v", err)
	}
	if client.respondCalls != 2 {
		t.Errorf("stakeholder attempted %d times, want the full budget of 2", client.respondCalls)
	}
	if res.Reply == nil || res.Reply.Content != apologyMessage {
		t.Fatalf("expected the single apology reply, got %+v", res.Reply)
	}
	if res.Reply.Metadata["error"] != "model_unavailable" {
		t.Errorf("apology metadata = %v", res.Reply.Metadata)
	}
	if len(res.FollowUps) != 0 {
		t.Error("no follow-ups should be suggested after an apology")
	}
}

func TestSubmitMessage_MalformedEvaluationLocksWithFallback(t *testing.T) {
	client := newScriptedClient()
	client.mu.Lock()
	client.evalResp = "the model rambled instead of returning JSON"
	client.coachResp = "also not JSON"
	client.mu.Unlock()
	c := testCoordinator(t, client)
	id := startSession(t, c)

	res, err := c.SubmitMessage(context.Background(), id, "What are the main challenges you're facing?")
	if err != nil {
		t.Fatalf("SubmitMessage() error: %v", err)
	}
	if res.Verdict != models.VerdictAmber {
		t.Errorf("fallback verdict = %q, want AMBER", res.Verdict)
	}
	if res.Evaluation.OverallScore != 50 {
		t.Errorf("fallback score = %d, want 50", res.Evaluation.OverallScore)
	}
	if !res.Locked {
		t.Error("fallback AMBER must lock the session")
	}
}

func TestSubmitMessage_ValidatesInput(t *testing.T) {
	c := testCoordinator(t, newScriptedClient())
	id := startSession(t, c)

	if _, err := c.SubmitMessage(context.Background(), id, "   "); !errors.Is(err, models.ErrEmptyQuestion) {
		t.Errorf("expected ErrEmptyQuestion, got %v", err)
	}
	long := strings.Repeat("x", models.MaxQuestionLength+1)
	if _, err := c.SubmitMessage(context.Background(), id, long); !errors.Is(err, models.ErrQuestionTooLong) {
		t.Errorf("expected ErrQuestionTooLong, got %v", err)
	}
}

func TestSubmitMessage_UnknownSession(t *testing.T) {
	c := testCoordinator(t, newScriptedClient())

	_, err := c.SubmitMessage(context.Background(), "no-such-session", "What challenges do you face?")
	if !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCoordinator_RestoresSessionFromStore(t *testing.T) {
	client := newScriptedClient()
	st := store.NewInMemoryStore()

	first := testCoordinator(t, client, WithStore(st))
	id := startSession(t, first)
	if _, err := first.SubmitMessage(context.Background(), id, "What are the main challenges you're facing?"); err != nil {
		t.Fatalf("SubmitMessage() error: %v", err)
	}

	// A fresh coordinator over the same store picks the session back up.
	second := testCoordinator(t, client, WithStore(st))
	locked, err := second.IsLocked(id)
	if err != nil {
		t.Fatalf("IsLocked() on restored session: %v", err)
	}
	if locked {
		t.Error("restored session should not be locked")
	}

	res, err := second.SubmitMessage(context.Background(), id, "How many approvals pile up per week?")
	if err != nil {
		t.Fatalf("SubmitMessage() on restored session: %v", err)
	}
	if res.Stage != "problem_exploration" {
		t.Errorf("restored session stage = %q, want problem_exploration", res.Stage)
	}
}

func TestGetSummary_UsesStageTemplate(t *testing.T) {
	client := newScriptedClient()
	c := testCoordinator(t, client)
	id := startSession(t, c)

	if _, err := c.SubmitMessage(context.Background(), id, "What are the main challenges you're facing?"); err != nil {
		t.Fatalf("SubmitMessage() error: %v", err)
	}

	summary, err := c.GetSummary(id)
	if err != nil {
		t.Fatalf("GetSummary() error: %v", err)
	}
	if summary == "" {
		t.Fatal("expected a non-empty summary")
	}
	if strings.Contains(summary, "{{") {
		t.Errorf("summary still contains unsubstituted tokens: %q", summary)
	}
}
