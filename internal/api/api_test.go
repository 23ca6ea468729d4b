package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/StakeSim/InterviewPipe/internal/meeting"
	"github.com/StakeSim/InterviewPipe/internal/models"
	"github.com/StakeSim/InterviewPipe/internal/pipeline"
)

// mockCoordinator implements Coordinator with canned results.
type mockCoordinator struct {
	startID    string
	startErr   error
	turnResult *pipeline.TurnResult
	turnErr    error
	discardErr error
	locked     bool
	meetingCtx meeting.Context
	summary    string
	lookupErr  error
}

func (m *mockCoordinator) StartSession(ctx context.Context, req pipeline.StartRequest) (string, error) {
	return m.startID, m.startErr
}

func (m *mockCoordinator) SubmitMessage(ctx context.Context, sessionID, text string) (*pipeline.TurnResult, error) {
	return m.turnResult, m.turnErr
}

func (m *mockCoordinator) Acknowledge(ctx context.Context, sessionID string) (*pipeline.TurnResult, error) {
	return m.turnResult, m.turnErr
}

func (m *mockCoordinator) Discard(ctx context.Context, sessionID string) error {
	return m.discardErr
}

func (m *mockCoordinator) IsLocked(sessionID string) (bool, error) {
	return m.locked, m.lookupErr
}

func (m *mockCoordinator) GetContext(sessionID string) (meeting.Context, error) {
	return m.meetingCtx, m.lookupErr
}

func (m *mockCoordinator) GetSummary(sessionID string) (string, error) {
	return m.summary, m.lookupErr
}

func (m *mockCoordinator) AdvanceMeetingStage(sessionID string) (meeting.MacroStage, error) {
	return meeting.StageProblemExploration, m.lookupErr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response envelope: %v", err)
	}
	return resp
}

func TestCreateSessionHandler(t *testing.T) {
	srv := NewServer(&mockCoordinator{startID: "sess-1"})
	handler := srv.Handler()

	body := []byte(`{"stakeholders": [{"id": "sh-1", "name": "Maria Santos", "role": "Operations Manager", "department": "Operations"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	resp := decodeEnvelope(t, rr)
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
}

func TestCreateSessionHandler_InvalidJSON(t *testing.T) {
	srv := NewServer(&mockCoordinator{})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestCreateSessionHandler_NoStakeholders(t *testing.T) {
	srv := NewServer(&mockCoordinator{startErr: models.ErrNoStakeholders})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString(`{"stakeholders": []}`))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestMessageHandler_GreenTurn(t *testing.T) {
	srv := NewServer(&mockCoordinator{turnResult: &pipeline.TurnResult{
		SessionID: "sess-1",
		Verdict:   models.VerdictGreen,
		Reply:     &models.StakeholderReply{SpeakerID: "sh-1", Content: "It all starts on Friday."},
	}})

	body := []byte(`{"question": "What challenges come up most often?"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/messages", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeEnvelope(t, rr)
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
}

func TestMessageHandler_LockedTurnUsesLockedStatus(t *testing.T) {
	srv := NewServer(&mockCoordinator{turnResult: &pipeline.TurnResult{
		SessionID: "sess-1",
		Verdict:   models.VerdictAmber,
		Locked:    true,
	}})

	body := []byte(`{"question": "Do you use the system?"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/messages", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeEnvelope(t, rr)
	if resp.Status != string(models.APIStatusLocked) {
		t.Errorf("Status = %q, want locked", resp.Status)
	}
}

func TestMessageHandler_SessionNotFound(t *testing.T) {
	srv := NewServer(&mockCoordinator{turnErr: models.ErrSessionNotFound})

	body := []byte(`{"question": "What challenges come up?"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/missing/messages", bytes.NewBuffer(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestAcknowledgeHandler_NoPendingTurn(t *testing.T) {
	srv := NewServer(&mockCoordinator{turnErr: models.ErrNoPendingTurn})

	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/acknowledge", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rr.Code)
	}
}

func TestDiscardHandler(t *testing.T) {
	srv := NewServer(&mockCoordinator{})

	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/discard", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestContextHandler(t *testing.T) {
	srv := NewServer(&mockCoordinator{meetingCtx: meeting.Context{
		CurrentStage:  meeting.StageKickoff,
		TopicsCovered: []string{"invoicing"},
	}})

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-1/context", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeEnvelope(t, rr)
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
}

func TestSummaryHandler(t *testing.T) {
	srv := NewServer(&mockCoordinator{summary: "Pain points: approval backlog."})

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-1/summary", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestAdvanceStageHandler(t *testing.T) {
	srv := NewServer(&mockCoordinator{})

	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/stage/advance", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	srv := NewServer(&mockCoordinator{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}
