// Package models defines the core data structures for InterviewPipe.
//
// It includes types for turn evaluation, coaching feedback, stakeholder
// profiles, and meeting context, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Verdict classifies the quality of a learner's question for the active stage.
type Verdict string

const (
	// VerdictGreen means the question is stage-appropriate; the stakeholder answers immediately.
	VerdictGreen Verdict = "GREEN"
	// VerdictAmber means the question needs coaching before the stakeholder answers.
	VerdictAmber Verdict = "AMBER"
	// VerdictRed means the question is off-track and must be acknowledged before proceeding.
	VerdictRed Verdict = "RED"
)

// IsValidVerdict checks if the given verdict is supported.
func IsValidVerdict(v Verdict) bool {
	switch v {
	case VerdictGreen, VerdictAmber, VerdictRed:
		return true
	default:
		return false
	}
}

// CoachAction determines how the pipeline proceeds after coaching.
type CoachAction string

const (
	// ActionContinue lets the pipeline proceed to the stakeholder without acknowledgement.
	ActionContinue CoachAction = "CONTINUE"
	// ActionAcknowledgeAndRetry holds the turn until the learner acknowledges the feedback.
	ActionAcknowledgeAndRetry CoachAction = "ACKNOWLEDGE_AND_RETRY"
	// ActionPauseForCoaching holds the turn for a longer coaching moment.
	ActionPauseForCoaching CoachAction = "PAUSE_FOR_COACHING"
)

// Validation constants for input validation
const (
	// MaxQuestionLength defines the maximum allowed length for a learner question
	MaxQuestionLength = 4096
	// MaxHistoryExchanges defines how many recent exchanges are forwarded to scoring prompts
	MaxHistoryExchanges = 3
	// FollowUpCount is the exact number of follow-up suggestions returned per turn
	FollowUpCount = 3
)

// Error variables for better error handling and testability
var (
	ErrEmptyQuestion      = errors.New("question cannot be empty")
	ErrQuestionTooLong    = errors.New("question exceeds maximum length")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionTerminal    = errors.New("session has reached its final stage")
	ErrNoPendingTurn      = errors.New("no pending turn to act on")
	ErrNoStakeholders     = errors.New("at least one stakeholder profile is required")
	ErrInvalidStakeholder = errors.New("invalid stakeholder profile")
	ErrInvalidVerdict     = errors.New("invalid verdict")
	ErrModelUnavailable   = errors.New("model unavailable")
)

// EvaluationResult is the scored outcome of a single learner question.
// Produced fresh per turn; never mutated, only superseded.
type EvaluationResult struct {
	Verdict          Verdict        `json:"verdict"`
	OverallScore     int            `json:"overall_score"` // 0..100
	Breakdown        map[string]int `json:"breakdown,omitempty"`
	Triggers         []string       `json:"triggers,omitempty"`
	Reasons          []string       `json:"reasons,omitempty"`
	SuggestedRewrite string         `json:"suggested_rewrite,omitempty"`
}

// CoachingFeedback is the learner-facing coaching payload derived from an evaluation.
type CoachingFeedback struct {
	VerdictLabel            string      `json:"verdict_label"`
	Summary                 string      `json:"summary"`
	WhatHappened            string      `json:"what_happened"`
	WhyItMatters            string      `json:"why_it_matters"`
	WhatToDo                string      `json:"what_to_do"`
	SuggestedRewrite        string      `json:"suggested_rewrite,omitempty"`
	Principle               string      `json:"principle"`
	Action                  CoachAction `json:"action"`
	AcknowledgementRequired bool        `json:"acknowledgement_required"`
}

// StakeholderProfile is read-only reference data supplied by the caller.
type StakeholderProfile struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Department  string   `json:"department"`
	Personality string   `json:"personality,omitempty"`
	Priorities  []string `json:"priorities,omitempty"`
}

// Validate checks that a stakeholder profile carries the fields routing depends on.
func (p *StakeholderProfile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("stakeholder profile requires an id")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("stakeholder profile requires a name")
	}
	return nil
}

// StakeholderReply is the simulated stakeholder's answer for a turn.
type StakeholderReply struct {
	SpeakerID   string            `json:"speaker_id"`
	SpeakerName string            `json:"speaker_name"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FollowUpType categorizes a suggested follow-up question.
type FollowUpType string

const (
	FollowUpDrillDown FollowUpType = "drill_down"
	FollowUpClarify   FollowUpType = "clarify"
	FollowUpQuantify  FollowUpType = "quantify"
	FollowUpBroaden   FollowUpType = "broaden"
)

// FollowUp is a suggested next question for the learner.
type FollowUp struct {
	Type      FollowUpType `json:"type"`
	Question  string       `json:"question"`
	Rationale string       `json:"rationale"`
}

// ChatRole identifies who produced a transcript message.
type ChatRole string

const (
	RoleLearner     ChatRole = "learner"
	RoleStakeholder ChatRole = "stakeholder"
	RoleCoach       ChatRole = "coach"
)

// ChatMessage is a single transcript entry. The core consumes history as
// input; it does not own persistence of the chat surface.
type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Speaker   string    `json:"speaker,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingTurn holds a question whose evaluation requires acknowledgement
// before the stakeholder may answer. At most one exists per session.
type PendingTurn struct {
	Question   string           `json:"question"`
	Evaluation EvaluationResult `json:"evaluation"`
	CreatedAt  time.Time        `json:"created_at"`
}

// ValidateQuestion performs validation on learner question text.
func ValidateQuestion(question string) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}
	if len(question) > MaxQuestionLength {
		return ErrQuestionTooLong
	}
	return nil
}
