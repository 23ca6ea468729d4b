// Package session implements the interview session state machine: the
// mutable per-learner object that tracks the current blueprint stage,
// cumulative weighted progress, and structured artifacts captured during
// the conversation.
package session

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/StakeSim/InterviewPipe/internal/blueprint"
	"github.com/StakeSim/InterviewPipe/internal/signal"
)

// placeholderPattern matches {{token}} markers in stage summary templates.
var placeholderPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// placeholderFiller substitutes for tokens that have no captured data yet.
const placeholderFiller = "(not yet captured)"

// PainPoint is a captured business problem with the affected party and an
// optional concrete example.
type PainPoint struct {
	Text    string `json:"text"`
	Who     string `json:"who,omitempty"`
	Example string `json:"example,omitempty"`
}

// Data holds the structured artifacts captured over a session.
type Data struct {
	PainPoints        []PainPoint `json:"pain_points,omitempty"`
	Constraints       []string    `json:"constraints,omitempty"`
	SuccessMeasures   []string    `json:"success_measures,omitempty"`
	SuccessStrategies []string    `json:"success_strategies,omitempty"`
	RootCauses        []string    `json:"root_causes,omitempty"`
	NextSteps         []string    `json:"next_steps,omitempty"`
	PriorityChoice    string      `json:"priority_choice,omitempty"`
	SessionNotes      []string    `json:"session_notes,omitempty"`
}

// Session is the mutable interview state for one learner. It is not safe
// for concurrent use; the pipeline serializes access per session.
type Session struct {
	State           blueprint.StageID   `json:"state"`
	Progress        int                 `json:"progress"` // 0..100, non-decreasing
	CompletedStates []blueprint.StageID `json:"completed_states"`
	Data            Data                `json:"data"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`

	bp *blueprint.Blueprint
}

// New creates a session positioned at the blueprint's initial stage.
func New(bp *blueprint.Blueprint) *Session {
	now := time.Now()
	return &Session{
		State:     bp.Initial,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
		bp:        bp,
	}
}

// Restore rebinds a deserialized session to its blueprint.
func Restore(s *Session, bp *blueprint.Blueprint) *Session {
	s.bp = bp
	return s
}

// Blueprint returns the blueprint this session runs against.
func (s *Session) Blueprint() *blueprint.Blueprint {
	return s.bp
}

// Terminal reports whether the session has reached the final stage.
func (s *Session) Terminal() bool {
	return s.State == s.bp.Final
}

// CurrentStage returns the definition of the active stage.
func (s *Session) CurrentStage() blueprint.StageDefinition {
	def, _ := s.bp.Stage(s.State)
	return def
}

// Advance runs the signal detector against the given text and applies the
// first qualifying transition of the current stage. A transition qualifies
// when its guard tags are a subset of the detected tags; a guardless
// transition always qualifies. When nothing qualifies the session is left
// unchanged and false is returned; the caller may simply retry on a later
// turn.
func (s *Session) Advance(text string) bool {
	if s.Terminal() {
		return false
	}

	def, ok := s.bp.Stage(s.State)
	if !ok {
		slog.Error("session.Advance: current state missing from blueprint", "state", s.State)
		return false
	}

	tags := signal.Detect(text)
	for _, tr := range def.Transitions {
		if tr.On != blueprint.EventMessage {
			continue
		}
		if !tags.HasAll(tr.If) {
			continue
		}
		s.CompletedStates = append(s.CompletedStates, s.State)
		from := s.State
		s.State = tr.To
		s.recalculateProgress()
		s.UpdatedAt = time.Now()
		slog.Info("session.Advance: stage transition", "from", from, "to", tr.To, "progress", s.Progress, "tags", tags.List())
		return true
	}

	slog.Debug("session.Advance: no qualifying transition", "state", s.State, "tags", tags.List())
	return false
}

// recalculateProgress applies the weighted progress formula. Progress only
// ever grows because completed stages are never removed.
func (s *Session) recalculateProgress() {
	s.Progress = calculateProgress(s.bp, s.State, s.CompletedStates)
}

// calculateProgress returns round(100 * Σweight(completed ∪ {state}) / Σweight(all)).
func calculateProgress(bp *blueprint.Blueprint, state blueprint.StageID, completed []blueprint.StageID) int {
	total := bp.TotalWeight()
	if total <= 0 {
		return 0
	}

	counted := make(map[blueprint.StageID]bool, len(completed)+1)
	var sum float64
	for _, id := range completed {
		if counted[id] {
			continue
		}
		counted[id] = true
		if def, ok := bp.Stage(id); ok {
			sum += def.ProgressWeight
		}
	}
	if !counted[state] {
		if def, ok := bp.Stage(state); ok {
			sum += def.ProgressWeight
		}
	}

	p := int(math.Round(100 * sum / total))
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return p
}

// AddPainPoint appends a pain point, deduplicating case-insensitively by
// text. Returns true when the entry was stored.
func (s *Session) AddPainPoint(pp PainPoint) bool {
	key := strings.ToLower(strings.TrimSpace(pp.Text))
	if key == "" {
		return false
	}
	for _, existing := range s.Data.PainPoints {
		if strings.ToLower(strings.TrimSpace(existing.Text)) == key {
			return false
		}
	}
	s.Data.PainPoints = append(s.Data.PainPoints, pp)
	s.UpdatedAt = time.Now()
	return true
}

// AddConstraint records a constraint mentioned by the stakeholder.
func (s *Session) AddConstraint(text string) {
	s.Data.Constraints = appendNonEmpty(s.Data.Constraints, text)
	s.UpdatedAt = time.Now()
}

// AddSuccessMeasure records a success measure.
func (s *Session) AddSuccessMeasure(text string) {
	s.Data.SuccessMeasures = appendNonEmpty(s.Data.SuccessMeasures, text)
	s.UpdatedAt = time.Now()
}

// AddSuccessStrategy records a strategy the stakeholder described.
func (s *Session) AddSuccessStrategy(text string) {
	s.Data.SuccessStrategies = appendNonEmpty(s.Data.SuccessStrategies, text)
	s.UpdatedAt = time.Now()
}

// AddRootCause records a root cause.
func (s *Session) AddRootCause(text string) {
	s.Data.RootCauses = appendNonEmpty(s.Data.RootCauses, text)
	s.UpdatedAt = time.Now()
}

// AddNextStep records an agreed next step.
func (s *Session) AddNextStep(text string) {
	s.Data.NextSteps = appendNonEmpty(s.Data.NextSteps, text)
	s.UpdatedAt = time.Now()
}

// SetPriorityChoice records the stakeholder's stated top priority.
func (s *Session) SetPriorityChoice(text string) {
	s.Data.PriorityChoice = strings.TrimSpace(text)
	s.UpdatedAt = time.Now()
}

// AddNote records a free-form session note.
func (s *Session) AddNote(text string) {
	s.Data.SessionNotes = appendNonEmpty(s.Data.SessionNotes, text)
	s.UpdatedAt = time.Now()
}

// GenerateSummary renders the current stage's summary template, replacing
// {{token}} placeholders with captured data. Unresolved tokens degrade to a
// generic filler string rather than producing an error.
func (s *Session) GenerateSummary() string {
	tmpl := s.CurrentStage().Cards.SummaryTemplate
	if tmpl == "" {
		return fmt.Sprintf("Stage %s in progress (%d%% complete).", s.State, s.Progress)
	}

	values := s.templateValues()
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		token := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := values[token]; ok && v != "" {
			return v
		}
		return placeholderFiller
	})
}

// templateValues flattens captured session data into template substitutions.
func (s *Session) templateValues() map[string]string {
	points := make([]string, 0, len(s.Data.PainPoints))
	for _, pp := range s.Data.PainPoints {
		if pp.Who != "" {
			points = append(points, fmt.Sprintf("%s (affects %s)", pp.Text, pp.Who))
		} else {
			points = append(points, pp.Text)
		}
	}

	return map[string]string{
		"pain_points":        strings.Join(points, "; "),
		"constraints":        strings.Join(s.Data.Constraints, "; "),
		"success_measures":   strings.Join(s.Data.SuccessMeasures, "; "),
		"success_strategies": strings.Join(s.Data.SuccessStrategies, "; "),
		"root_causes":        strings.Join(s.Data.RootCauses, "; "),
		"next_steps":         strings.Join(s.Data.NextSteps, "; "),
		"priority_choice":    s.Data.PriorityChoice,
		"session_notes":      strings.Join(s.Data.SessionNotes, "; "),
	}
}

func appendNonEmpty(list []string, text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return list
	}
	return append(list, text)
}
