// Package api provides HTTP handlers for InterviewPipe endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/StakeSim/InterviewPipe/internal/models"
	"github.com/StakeSim/InterviewPipe/internal/pipeline"
)

// messageRequest is the request body for submitting a learner question.
type messageRequest struct {
	Question string `json:"question"`
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.createSessionHandler: processing create request", "method", r.Method, "path", r.URL.Path)

	var req pipeline.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.createSessionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	id, err := s.coordinator.StartSession(r.Context(), req)
	if err != nil {
		slog.Warn("Server.createSessionHandler: session creation failed", "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Server.createSessionHandler: session created", "sessionID", id)
	writeJSONResponse(w, http.StatusCreated, models.Success(map[string]string{"session_id": id}))
}

func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	sessionID := r.PathValue("id")
	slog.Debug("Server.messageHandler: processing message", "sessionID", sessionID)

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.messageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	res, err := s.coordinator.SubmitMessage(r.Context(), sessionID, req.Question)
	if err != nil {
		slog.Warn("Server.messageHandler: turn failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Server.messageHandler: turn processed", "sessionID", sessionID, "verdict", res.Verdict, "locked", res.Locked)
	if res.Locked {
		writeJSONResponse(w, http.StatusOK, models.Locked(res))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) acknowledgeHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	slog.Debug("Server.acknowledgeHandler: processing acknowledgement", "sessionID", sessionID)

	res, err := s.coordinator.Acknowledge(r.Context(), sessionID)
	if err != nil {
		slog.Warn("Server.acknowledgeHandler: acknowledge failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Server.acknowledgeHandler: held turn resumed", "sessionID", sessionID)
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) discardHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	slog.Debug("Server.discardHandler: processing discard", "sessionID", sessionID)

	if err := s.coordinator.Discard(r.Context(), sessionID); err != nil {
		slog.Warn("Server.discardHandler: discard failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Server.discardHandler: held turn dropped", "sessionID", sessionID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Pending turn discarded", nil))
}

func (s *Server) advanceStageHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	slog.Debug("Server.advanceStageHandler: processing stage advance", "sessionID", sessionID)

	stage, err := s.coordinator.AdvanceMeetingStage(sessionID)
	if err != nil {
		slog.Warn("Server.advanceStageHandler: advance failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}

	slog.Info("Server.advanceStageHandler: meeting stage advanced", "sessionID", sessionID, "stage", stage)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"current_stage": string(stage)}))
}

func (s *Server) contextHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	ctx, err := s.coordinator.GetContext(sessionID)
	if err != nil {
		slog.Warn("Server.contextHandler: lookup failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ctx))
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	summary, err := s.coordinator.GetSummary(sessionID)
	if err != nil {
		slog.Warn("Server.summaryHandler: lookup failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"summary": summary}))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// statusForError maps pipeline sentinel errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrEmptyQuestion),
		errors.Is(err, models.ErrQuestionTooLong),
		errors.Is(err, models.ErrNoStakeholders),
		errors.Is(err, models.ErrInvalidStakeholder):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrSessionTerminal),
		errors.Is(err, models.ErrNoPendingTurn):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
