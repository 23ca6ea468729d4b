// Package aggregator folds the full turn history into an updated meeting
// context snapshot at the end of each turn. The analysis is delegated to
// the model; any failure degrades to a conservative "no progress detected"
// context rather than an error.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/StakeSim/InterviewPipe/internal/genai"
	"github.com/StakeSim/InterviewPipe/internal/meeting"
	"github.com/StakeSim/InterviewPipe/internal/models"
)

// Aggregator runs full-conversation analysis against a GenAI client.
type Aggregator struct {
	genaiClient genai.ClientInterface
}

// New creates an aggregator bound to the given GenAI client.
func New(genaiClient genai.ClientInterface) *Aggregator {
	return &Aggregator{genaiClient: genaiClient}
}

// analysis is the structured shape the model is asked to return.
type analysis struct {
	TopicsCovered []string `json:"topics_covered"`
	PainPoints    []struct {
		Area    string `json:"area"`
		Impact  string `json:"impact"`
		Emotion string `json:"emotion"`
		Layer   int    `json:"layer"`
	} `json:"pain_points"`
	ProcessSteps []string `json:"process_steps"`
	Improvements []string `json:"improvements"`
}

const systemPrompt = `You analyze a requirements-interview transcript between a trainee
business analyst and simulated stakeholders.

Respond with ONLY a JSON object:
{
  "topics_covered": ["short topic labels"],
  "pain_points": [{"area": "label", "impact": "consequence", "emotion": "stakeholder feeling", "layer": 1-5}],
  "process_steps": ["steps of the current process that were mapped"],
  "improvements": ["improvements or desired outcomes that were discussed"]
}

Layer reflects depth: 1 = surface complaint, 5 = sensitive root cause.
Report only what the transcript supports; empty arrays are fine.`

// Analyze runs the model over the history and returns the extracted
// merge for a meeting tracker. Transport and parse failures are returned
// to the caller, who decides whether to skip the merge or degrade.
func (a *Aggregator) Analyze(ctx context.Context, history []models.ChatMessage, stage meeting.MacroStage) (meeting.Partial, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(buildTranscript(history, stage)),
	}

	raw, err := a.genaiClient.GenerateWithMessages(ctx, messages)
	if err != nil {
		return meeting.Partial{}, fmt.Errorf("context analysis call failed: %w", err)
	}

	parsed, err := parseAnalysis(raw)
	if err != nil {
		return meeting.Partial{}, err
	}
	return toPartial(parsed), nil
}

// Summarize analyzes the history and returns an updated meeting context for
// the given macro-stage. It never returns an error: transport or parse
// failure yields the fallback context.
func (a *Aggregator) Summarize(ctx context.Context, history []models.ChatMessage, stage meeting.MacroStage) meeting.Context {
	if len(history) == 0 {
		return meeting.FallbackContext(stage)
	}

	partial, err := a.Analyze(ctx, history, stage)
	if err != nil {
		slog.Warn("aggregator.Summarize: analysis failed, using fallback context", "error", err, "stage", stage)
		return meeting.FallbackContext(stage)
	}

	tracker := meeting.NewTracker(stage)
	tracker.Update(partial)
	snap := tracker.Snapshot()
	slog.Debug("aggregator.Summarize: context updated",
		"stage", stage, "topics", len(snap.TopicsCovered), "painPoints", len(snap.PainPointsIdentified), "shouldTransition", snap.ShouldTransition)
	return snap
}

// buildTranscript renders the history for the analysis prompt.
func buildTranscript(history []models.ChatMessage, stage meeting.MacroStage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current meeting stage: %s\n\nTranscript:\n", stage)
	for _, msg := range history {
		speaker := string(msg.Role)
		if msg.Speaker != "" {
			speaker = msg.Speaker
		}
		fmt.Fprintf(&b, "[%s] %s\n", speaker, msg.Content)
	}
	return b.String()
}

// parseAnalysis parses the model's analysis JSON.
func parseAnalysis(raw string) (analysis, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	var parsed analysis
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return analysis{}, fmt.Errorf("failed to parse analysis JSON: %w", err)
	}
	return parsed, nil
}

// toPartial converts a parsed analysis into a tracker merge.
func toPartial(a analysis) meeting.Partial {
	points := make([]meeting.PainPoint, 0, len(a.PainPoints))
	for _, pp := range a.PainPoints {
		points = append(points, meeting.PainPoint{
			Area:    pp.Area,
			Impact:  pp.Impact,
			Emotion: pp.Emotion,
			Layer:   pp.Layer,
		})
	}
	return meeting.Partial{
		Topics:       a.TopicsCovered,
		PainPoints:   points,
		ProcessSteps: a.ProcessSteps,
		Improvements: a.Improvements,
	}
}
