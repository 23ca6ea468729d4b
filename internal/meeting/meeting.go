// Package meeting implements the coarse-grained meeting context tracker
// used by the live-chat surface. It runs in parallel with the blueprint
// session machine but at five macro-stages, holding running tallies and a
// derived should_transition flag.
package meeting

import (
	"log/slog"
	"sort"
	"strings"
	"time"
)

// MacroStage identifies one of the five fixed meeting stages.
type MacroStage string

// Macro-stages in their fixed order.
const (
	StageKickoff            MacroStage = "kickoff"
	StageProblemExploration MacroStage = "problem_exploration"
	StageAsIs               MacroStage = "as_is"
	StageToBe               MacroStage = "to_be"
	StageWrapUp             MacroStage = "wrap_up"
)

// stageOrder is the fixed progression through macro-stages.
var stageOrder = []MacroStage{
	StageKickoff,
	StageProblemExploration,
	StageAsIs,
	StageToBe,
	StageWrapUp,
}

// stageGoal describes what a macro-stage counts toward completion.
type stageGoal struct {
	target    int
	milestone string
}

// stageGoals maps each macro-stage to its completion target and the
// milestone text shown to the learner.
var stageGoals = map[MacroStage]stageGoal{
	StageKickoff:            {target: 3, milestone: "Cover introductions, the stakeholder's role, and the meeting goal."},
	StageProblemExploration: {target: 3, milestone: "Surface at least three distinct pain points with their impact."},
	StageAsIs:               {target: 5, milestone: "Map the current process end to end, five steps or more."},
	StageToBe:               {target: 3, milestone: "Discuss three improvements and what success would look like."},
	StageWrapUp:             {target: 1, milestone: "Confirm the summary and agree on next steps."},
}

// MinInformationLayer and MaxInformationLayer bound pain point depth.
const (
	MinInformationLayer = 1
	MaxInformationLayer = 5
)

// PainPoint is a pain point as tracked at meeting granularity, with the
// depth layer (1 shallow to 5 deep) at which it surfaced.
type PainPoint struct {
	Area    string `json:"area"`
	Impact  string `json:"impact,omitempty"`
	Emotion string `json:"emotion,omitempty"`
	Layer   int    `json:"layer"`
}

// StageProgress reports counters for the active macro-stage.
type StageProgress struct {
	Found   int `json:"found"`
	Target  int `json:"target"`
	Percent int `json:"percent"`
}

// Context is a snapshot of the meeting state consumed by the UI.
// ShouldTransition is derived, never authoritative: it only prompts a
// manual stage advance.
type Context struct {
	TopicsCovered             []string      `json:"topics_covered"`
	PainPointsIdentified      []PainPoint   `json:"pain_points_identified"`
	InformationLayersUnlocked int           `json:"information_layers_unlocked"`
	StageProgress             StageProgress `json:"stage_progress"`
	CurrentStage              MacroStage    `json:"current_stage"`
	ShouldTransition          bool          `json:"should_transition"`
	NextMilestone             string        `json:"next_milestone"`
}

// Partial carries incremental updates for a structural merge into a tracker.
type Partial struct {
	Topics       []string
	PainPoints   []PainPoint
	ProcessSteps []string
	Improvements []string
}

// Tracker accumulates meeting context over a session. Not safe for
// concurrent use; the pipeline serializes access per session.
type Tracker struct {
	topics       map[string]bool
	painPoints   []PainPoint
	processSteps map[string]bool
	improvements map[string]bool
	layers       int
	stage        MacroStage
	should       bool
	updatedAt    time.Time
}

// NewTracker creates a tracker positioned at the given macro-stage.
func NewTracker(stage MacroStage) *Tracker {
	t := &Tracker{}
	t.Reset(stage)
	return t
}

// Reset reinitializes the tracker for a new session. This is the only
// destructive operation and must be called explicitly.
func (t *Tracker) Reset(stage MacroStage) {
	if _, ok := stageGoals[stage]; !ok {
		stage = StageKickoff
	}
	t.topics = make(map[string]bool)
	t.painPoints = nil
	t.processSteps = make(map[string]bool)
	t.improvements = make(map[string]bool)
	t.layers = MinInformationLayer
	t.stage = stage
	t.should = false
	t.updatedAt = time.Now()
	slog.Debug("meeting.Tracker reset", "stage", stage)
}

// Update performs a structural merge of the partial into the tracker and
// recomputes stage completion.
func (t *Tracker) Update(p Partial) {
	for _, topic := range p.Topics {
		t.addTopic(topic)
	}
	for _, pp := range p.PainPoints {
		t.addPainPoint(pp)
	}
	for _, step := range p.ProcessSteps {
		if key := normalize(step); key != "" {
			t.processSteps[key] = true
		}
	}
	for _, imp := range p.Improvements {
		if key := normalize(imp); key != "" {
			t.improvements[key] = true
		}
	}
	t.updatedAt = time.Now()
	t.CheckStageCompletion()
}

// AddTopic adds a topic to the covered set.
func (t *Tracker) AddTopic(topic string) {
	t.addTopic(topic)
	t.CheckStageCompletion()
}

func (t *Tracker) addTopic(topic string) {
	if key := normalize(topic); key != "" {
		t.topics[key] = true
	}
}

// AddPainPoint records a pain point, deduplicating by lower-cased area and
// raising the unlocked information layer to the deepest seen.
func (t *Tracker) AddPainPoint(pp PainPoint) {
	t.addPainPoint(pp)
	t.CheckStageCompletion()
}

func (t *Tracker) addPainPoint(pp PainPoint) {
	key := normalize(pp.Area)
	if key == "" {
		return
	}
	for _, existing := range t.painPoints {
		if normalize(existing.Area) == key {
			return
		}
	}
	if pp.Layer < MinInformationLayer {
		pp.Layer = MinInformationLayer
	}
	if pp.Layer > MaxInformationLayer {
		pp.Layer = MaxInformationLayer
	}
	t.painPoints = append(t.painPoints, pp)
	if pp.Layer > t.layers {
		// Layers only ever deepen.
		t.layers = pp.Layer
	}
}

// CheckStageCompletion recomputes the derived should_transition flag by
// comparing the active stage's counter to its target.
func (t *Tracker) CheckStageCompletion() {
	goal := stageGoals[t.stage]
	t.should = goal.target > 0 && t.stageFound() >= goal.target
}

// stageFound returns the counter relevant to the active macro-stage.
func (t *Tracker) stageFound() int {
	switch t.stage {
	case StageKickoff:
		return len(t.topics)
	case StageProblemExploration:
		return len(t.painPoints)
	case StageAsIs:
		return len(t.processSteps)
	case StageToBe:
		return len(t.improvements)
	case StageWrapUp:
		if len(t.topics) > 0 {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// TransitionToNextStage advances through the fixed macro-stage order,
// resets should_transition, and recomputes the milestone. At wrap_up it is
// a no-op returning false.
func (t *Tracker) TransitionToNextStage() bool {
	for i, stage := range stageOrder {
		if stage != t.stage {
			continue
		}
		if i == len(stageOrder)-1 {
			return false
		}
		from := t.stage
		t.stage = stageOrder[i+1]
		t.should = false
		t.updatedAt = time.Now()
		slog.Info("meeting.Tracker stage transition", "from", from, "to", t.stage)
		t.CheckStageCompletion()
		return true
	}
	return false
}

// CurrentStage returns the active macro-stage.
func (t *Tracker) CurrentStage() MacroStage {
	return t.stage
}

// Snapshot produces the Context consumed by the UI.
func (t *Tracker) Snapshot() Context {
	goal := stageGoals[t.stage]
	found := t.stageFound()
	percent := 0
	if goal.target > 0 {
		percent = 100 * found / goal.target
		if percent > 100 {
			percent = 100
		}
	}

	topics := make([]string, 0, len(t.topics))
	for topic := range t.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	points := make([]PainPoint, len(t.painPoints))
	copy(points, t.painPoints)

	return Context{
		TopicsCovered:             topics,
		PainPointsIdentified:      points,
		InformationLayersUnlocked: t.layers,
		StageProgress:             StageProgress{Found: found, Target: goal.target, Percent: percent},
		CurrentStage:              t.stage,
		ShouldTransition:          t.should,
		NextMilestone:             goal.milestone,
	}
}

// FallbackContext returns the conservative "no progress detected" snapshot
// used when full-conversation analysis fails.
func FallbackContext(stage MacroStage) Context {
	goal, ok := stageGoals[stage]
	if !ok {
		stage = StageKickoff
		goal = stageGoals[stage]
	}
	return Context{
		TopicsCovered:             []string{},
		PainPointsIdentified:      []PainPoint{},
		InformationLayersUnlocked: MinInformationLayer,
		StageProgress:             StageProgress{Found: 0, Target: goal.target, Percent: 0},
		CurrentStage:              stage,
		ShouldTransition:          false,
		NextMilestone:             "Keep the conversation going to uncover more context.",
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
