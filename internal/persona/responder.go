// Package persona provides the model-backed stakeholder responder.
package persona

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

// Responder voices stakeholder replies and follow-up suggestions.
type Responder struct {
	genaiClient genai.ClientInterface
}

// NewResponder creates a responder bound to the given GenAI client.
func NewResponder(genaiClient genai.ClientInterface) *Responder {
	return &Responder{genaiClient: genaiClient}
}

// RespondInput is the request contract for a stakeholder reply.
type RespondInput struct {
	Question    string
	Verdict     models.Verdict
	StageID     blueprint.StageID
	Stage       blueprint.StageDefinition
	Profile     models.StakeholderProfile
	AllProfiles []models.StakeholderProfile
	History     []models.ChatMessage
}

// Respond generates the stakeholder's answer in persona voice. Unlike the
// scoring steps this is the user-visible reply itself, so a transport
// failure is returned to the caller for the outer retry budget to handle.
func (r *Responder) Respond(ctx context.Context, in RespondInput) (models.StakeholderReply, error) {
	tmpl := TemplateFor(in.Profile)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(SystemPrompt(in.Profile, tmpl)),
		openai.SystemMessage(stageContext(in)),
	}
	// Callers may pass history that already ends with the current question
	// (it is appended to the transcript before delivery). Track the last
	// replayed speaker so the model never sees the question twice.
	lastWasQuestion := false
	for _, msg := range in.History {
		switch msg.Role {
		case models.RoleLearner:
			messages = append(messages, openai.UserMessage(msg.Content))
			lastWasQuestion = msg.Content == in.Question
		case models.RoleStakeholder:
			messages = append(messages, openai.AssistantMessage(msg.Content))
			lastWasQuestion = false
		}
	}
	if !lastWasQuestion {
		messages = append(messages, openai.UserMessage(in.Question))
	}

	content, err := r.genaiClient.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Error("persona.Respond: model call failed", "error", err, "stakeholder", in.Profile.ID)
		return models.StakeholderReply{}, fmt.Errorf("%w: %v", models.ErrModelUnavailable, err)
	}

	return models.StakeholderReply{
		SpeakerID:   in.Profile.ID,
		SpeakerName: in.Profile.Name,
		Content:     strings.TrimSpace(content),
		Metadata: map[string]string{
			"stage":   string(in.StageID),
			"verdict": string(in.Verdict),
		},
	}, nil
}

// stageContext summarizes interview state for the stakeholder persona.
func stageContext(in RespondInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Interview stage: %s - %s\n", in.Stage.Title, in.Stage.Goal)
	if len(in.AllProfiles) > 1 {
		names := make([]string, 0, len(in.AllProfiles))
		for _, p := range in.AllProfiles {
			names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.Role))
		}
		fmt.Fprintf(&b, "Also in the meeting: %s. Refer colleagues' topics to them briefly when asked outside your area.\n",
			strings.Join(names, ", "))
	}
	return b.String()
}

// followUpSystemPrompt instructs the model to suggest next questions.
const followUpSystemPrompt = `You suggest follow-up questions for a trainee business analyst
based on what the stakeholder just said.

Respond with ONLY a JSON array of exactly 3 entries:
[{"type": "drill_down" | "clarify" | "quantify" | "broaden",
  "question": "the follow-up question",
  "rationale": "one sentence on why it helps"}]`

// genericFollowUps pad the suggestion list when the model returns fewer
// than three usable entries.
var genericFollowUps = []models.FollowUp{
	{Type: models.FollowUpDrillDown, Question: "Can you give me a recent example of that?", Rationale: "Concrete examples turn general claims into analyzable facts."},
	{Type: models.FollowUpQuantify, Question: "How often does that happen, roughly?", Rationale: "Frequency separates an annoyance from a systemic problem."},
	{Type: models.FollowUpBroaden, Question: "Who else is affected when that occurs?", Rationale: "Impact rarely stops at one desk; tracing it reveals hidden stakeholders."},
}

// FollowUps suggests exactly three follow-up questions for the learner.
// A failed or short model reply is padded from the generic fallbacks;
// oversupply is truncated.
func (r *Responder) FollowUps(ctx context.Context, stakeholderResponse string, stageID blueprint.StageID, stage blueprint.StageDefinition, history []models.ChatMessage) []models.FollowUp {
	var b strings.Builder
	fmt.Fprintf(&b, "Interview stage: %s - %s\n", stage.Title, stage.Goal)
	fmt.Fprintf(&b, "\nStakeholder just said:\n%s\n", stakeholderResponse)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(followUpSystemPrompt),
		openai.UserMessage(b.String()),
	}

	suggestions := []models.FollowUp{}
	raw, err := r.genaiClient.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Warn("persona.FollowUps: model call failed, using generic fallbacks", "error", err, "stage", stageID)
	} else if parsed, perr := parseFollowUps(raw); perr != nil {
		slog.Warn("persona.FollowUps: unparseable model reply, using generic fallbacks", "error", perr, "stage", stageID)
	} else {
		suggestions = parsed
	}

	return padFollowUps(suggestions)
}

// parseFollowUps parses the model's follow-up JSON array, dropping entries
// without question text.
func parseFollowUps(raw string) ([]models.FollowUp, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	var parsed []models.FollowUp
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse follow-up JSON: %w", err)
	}

	usable := parsed[:0]
	for _, fu := range parsed {
		if strings.TrimSpace(fu.Question) == "" {
			continue
		}
		if fu.Type == "" {
			fu.Type = models.FollowUpClarify
		}
		usable = append(usable, fu)
	}
	return usable, nil
}

// padFollowUps enforces the exactly-three contract.
func padFollowUps(suggestions []models.FollowUp) []models.FollowUp {
	if len(suggestions) > models.FollowUpCount {
		return suggestions[:models.FollowUpCount]
	}
	for _, generic := range genericFollowUps {
		if len(suggestions) >= models.FollowUpCount {
			break
		}
		suggestions = append(suggestions, generic)
	}
	return suggestions
}
