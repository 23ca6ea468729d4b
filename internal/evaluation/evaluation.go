// Package evaluation scores a learner's question against the active stage
// rubric and produces the coaching payload that gates the conversation.
//
// The scoring itself is delegated to the model; this package owns the
// contract around that call: deterministic prompt construction, strict
// parsing of the structured reply, and conservative fallbacks on any
// failure. A scoring subsystem must never crash the conversation.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/StakeSim/InterviewPipe/internal/blueprint"
	"github.com/StakeSim/InterviewPipe/internal/genai"
	"github.com/StakeSim/InterviewPipe/internal/models"
)

// FallbackScore is the neutral score substituted when the model reply
// cannot be parsed.
const FallbackScore = 50

// Evaluator runs turn evaluation and coaching against a GenAI client.
type Evaluator struct {
	genaiClient genai.ClientInterface
}

// NewEvaluator creates an evaluator bound to the given GenAI client.
func NewEvaluator(genaiClient genai.ClientInterface) *Evaluator {
	return &Evaluator{genaiClient: genaiClient}
}

// EvaluateInput carries the request contract for a single turn evaluation.
type EvaluateInput struct {
	Question       string
	StageID        blueprint.StageID
	Stage          blueprint.StageDefinition
	ProjectContext string
	History        []models.ChatMessage
}

// Evaluate scores the learner's question against the stage rubric. It never
// returns an error to the conversation: any transport or parse failure
// yields the fixed AMBER fallback instead.
func (e *Evaluator) Evaluate(ctx context.Context, in EvaluateInput) models.EvaluationResult {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(evaluationSystemPrompt),
		openai.UserMessage(buildEvaluationPrompt(in)),
	}

	raw, err := e.genaiClient.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Warn("evaluation.Evaluate: model call failed, using fallback", "error", err, "stage", in.StageID)
		return FallbackEvaluation()
	}

	result, err := parseEvaluation(raw)
	if err != nil {
		slog.Warn("evaluation.Evaluate: unparseable model reply, using fallback", "error", err, "stage", in.StageID)
		return FallbackEvaluation()
	}

	slog.Debug("evaluation.Evaluate: scored", "stage", in.StageID, "verdict", result.Verdict, "score", result.OverallScore)
	return result
}

// CoachInput carries the request contract for the coaching call.
type CoachInput struct {
	Question       string
	Evaluation     models.EvaluationResult
	StageID        blueprint.StageID
	Stage          blueprint.StageDefinition
	ProjectContext string
}

// Coach turns an evaluation into learner-facing feedback. On any failure a
// deterministic template is assembled from the evaluation's own fields.
func (e *Evaluator) Coach(ctx context.Context, in CoachInput) models.CoachingFeedback {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(coachingSystemPrompt),
		openai.UserMessage(buildCoachingPrompt(in)),
	}

	raw, err := e.genaiClient.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Warn("evaluation.Coach: model call failed, using fallback", "error", err, "stage", in.StageID)
		return FallbackCoaching(in.Evaluation)
	}

	feedback, err := parseCoaching(raw)
	if err != nil {
		slog.Warn("evaluation.Coach: unparseable model reply, using fallback", "error", err, "stage", in.StageID)
		return FallbackCoaching(in.Evaluation)
	}

	return normalizeCoaching(feedback, in.Evaluation)
}

// FallbackEvaluation is the fixed conservative result substituted when the
// model's structured reply is unusable.
func FallbackEvaluation() models.EvaluationResult {
	return models.EvaluationResult{
		Verdict:      models.VerdictAmber,
		OverallScore: FallbackScore,
		Reasons:      []string{"parse error"},
	}
}

// FallbackCoaching assembles deterministic feedback from the evaluation's
// own fields when the coaching call fails.
func FallbackCoaching(eval models.EvaluationResult) models.CoachingFeedback {
	reason := "The question could not be fully assessed this turn."
	if len(eval.Reasons) > 0 && eval.Reasons[0] != "" {
		reason = eval.Reasons[0]
	}

	fb := models.CoachingFeedback{
		VerdictLabel: string(eval.Verdict),
		Summary:      fmt.Sprintf("Your question was rated %s.", eval.Verdict),
		WhatHappened: reason,
		WhyItMatters: "Stage-appropriate questions keep the stakeholder engaged and surface the information this phase needs.",
		WhatToDo:     "Tie your next question to the current stage goal and ask about one thing at a time.",
		Principle:    "Ask open, stage-focused questions.",
		Action:       actionForVerdict(eval.Verdict),
	}
	if eval.SuggestedRewrite != "" {
		fb.SuggestedRewrite = eval.SuggestedRewrite
	}
	return enforceGate(fb, eval)
}

// actionForVerdict derives the pipeline action from a verdict.
func actionForVerdict(v models.Verdict) models.CoachAction {
	switch v {
	case models.VerdictGreen:
		return models.ActionContinue
	case models.VerdictRed:
		return models.ActionPauseForCoaching
	default:
		return models.ActionAcknowledgeAndRetry
	}
}

// normalizeCoaching reconciles model output with the gate invariants.
func normalizeCoaching(fb models.CoachingFeedback, eval models.EvaluationResult) models.CoachingFeedback {
	if fb.VerdictLabel == "" {
		fb.VerdictLabel = string(eval.Verdict)
	}
	switch fb.Action {
	case models.ActionContinue, models.ActionAcknowledgeAndRetry, models.ActionPauseForCoaching:
	default:
		fb.Action = actionForVerdict(eval.Verdict)
	}
	return enforceGate(fb, eval)
}

// enforceGate applies the gate rule: acknowledgement is required exactly
// when the action is not CONTINUE, and a GREEN evaluation never locks the
// conversation regardless of what the model said.
func enforceGate(fb models.CoachingFeedback, eval models.EvaluationResult) models.CoachingFeedback {
	if eval.Verdict == models.VerdictGreen {
		fb.Action = models.ActionContinue
	}
	fb.AcknowledgementRequired = fb.Action != models.ActionContinue
	return fb
}

// evaluationSystemPrompt instructs the model to act as a rubric scorer.
const evaluationSystemPrompt = `You are an interview-skills assessor for trainee business analysts.
Score the learner's latest question against the current interview stage rubric.

Respond with ONLY a JSON object of this shape:
{
  "verdict": "GREEN" | "AMBER" | "RED",
  "overall_score": 0-100,
  "breakdown": {"relevance": 0-100, "openness": 0-100, "specificity": 0-100},
  "triggers": ["short labels for what fired"],
  "reasons": ["one sentence per reason"],
  "suggested_rewrite": "optional improved phrasing"
}

GREEN: stage-appropriate, open, well-aimed. AMBER: usable but needs
refinement. RED: closed, leading, off-stage, or multiple questions at once.`

// buildEvaluationPrompt constructs the user prompt deterministically from
// the stage, the recent history window, and the question.
func buildEvaluationPrompt(in EvaluateInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current stage: %s (%s)\n", in.StageID, in.Stage.Title)
	fmt.Fprintf(&b, "Stage goal: %s\n", in.Stage.Goal)
	if in.Stage.Cards.GuidePrompt != "" {
		fmt.Fprintf(&b, "Stage guidance: %s\n", in.Stage.Cards.GuidePrompt)
	}
	if in.ProjectContext != "" {
		fmt.Fprintf(&b, "Project context: %s\n", in.ProjectContext)
	}

	history := recentHistory(in.History, models.MaxHistoryExchanges)
	if len(history) > 0 {
		b.WriteString("\nRecent exchanges:\n")
		for _, msg := range history {
			fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
		}
	}

	fmt.Fprintf(&b, "\nLearner question to score:\n%s\n", in.Question)
	return b.String()
}

// coachingSystemPrompt instructs the model to produce learner feedback.
const coachingSystemPrompt = `You are a supportive interview coach for trainee business analysts.
You receive the learner's question and its rubric evaluation. Produce short,
concrete coaching.

Respond with ONLY a JSON object of this shape:
{
  "verdict_label": "GREEN" | "AMBER" | "RED",
  "summary": "one sentence",
  "what_happened": "what the question did",
  "why_it_matters": "consequence in the interview",
  "what_to_do": "one concrete adjustment",
  "suggested_rewrite": "optional improved phrasing",
  "principle": "the underlying interviewing principle",
  "action": "CONTINUE" | "ACKNOWLEDGE_AND_RETRY" | "PAUSE_FOR_COACHING"
}`

// buildCoachingPrompt constructs the coaching user prompt from the
// evaluation the first call produced.
func buildCoachingPrompt(in CoachInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current stage: %s (%s)\n", in.StageID, in.Stage.Title)
	fmt.Fprintf(&b, "Stage goal: %s\n", in.Stage.Goal)
	if in.ProjectContext != "" {
		fmt.Fprintf(&b, "Project context: %s\n", in.ProjectContext)
	}
	fmt.Fprintf(&b, "\nLearner question:\n%s\n", in.Question)

	evalJSON, err := json.Marshal(in.Evaluation)
	if err != nil {
		// Marshal of our own struct only fails on exotic fields; degrade to verdict only.
		evalJSON = []byte(fmt.Sprintf(`{"verdict":%q}`, in.Evaluation.Verdict))
	}
	fmt.Fprintf(&b, "\nRubric evaluation:\n%s\n", evalJSON)
	return b.String()
}

// recentHistory returns the last n exchanges of the transcript. The
// transcript also carries coaching interjections; those are not part of
// the interview conversation and never count against the window.
func recentHistory(history []models.ChatMessage, n int) []models.ChatMessage {
	conversation := make([]models.ChatMessage, 0, len(history))
	for _, msg := range history {
		if msg.Role == models.RoleLearner || msg.Role == models.RoleStakeholder {
			conversation = append(conversation, msg)
		}
	}
	// one exchange = learner question + stakeholder answer
	limit := n * 2
	if len(conversation) <= limit {
		return conversation
	}
	return conversation[len(conversation)-limit:]
}

// parseEvaluation parses and validates the model's evaluation JSON.
func parseEvaluation(raw string) (models.EvaluationResult, error) {
	var result models.EvaluationResult
	if err := json.Unmarshal([]byte(extractJSON(raw)), &result); err != nil {
		return models.EvaluationResult{}, fmt.Errorf("failed to parse evaluation JSON: %w", err)
	}

	result.Verdict = models.Verdict(strings.ToUpper(string(result.Verdict)))
	if !models.IsValidVerdict(result.Verdict) {
		return models.EvaluationResult{}, fmt.Errorf("%w: %q", models.ErrInvalidVerdict, result.Verdict)
	}
	if result.OverallScore < 0 {
		result.OverallScore = 0
	}
	if result.OverallScore > 100 {
		result.OverallScore = 100
	}
	return result, nil
}

// parseCoaching parses the model's coaching JSON.
func parseCoaching(raw string) (models.CoachingFeedback, error) {
	var fb models.CoachingFeedback
	if err := json.Unmarshal([]byte(extractJSON(raw)), &fb); err != nil {
		return models.CoachingFeedback{}, fmt.Errorf("failed to parse coaching JSON: %w", err)
	}
	if fb.Summary == "" && fb.WhatToDo == "" {
		return models.CoachingFeedback{}, fmt.Errorf("coaching reply missing required fields")
	}
	return fb, nil
}

// extractJSON strips markdown code fences the model sometimes wraps around
// structured replies.
func extractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}
