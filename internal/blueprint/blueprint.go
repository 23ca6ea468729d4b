// Package blueprint provides the static, versioned interview stage
// configuration: an ordered, weighted state graph with per-stage guidance
// cards and tag-guarded transition rules.
//
// A blueprint is immutable after load. The shipped default is a simple
// forward chain, though validation permits cycles in general.
package blueprint

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/StakeSim/InterviewPipe/internal/signal"
)

//go:embed default_blueprint.yaml
var defaultBlueprintYAML []byte

// StageID identifies a stage within a blueprint.
type StageID string

// EventKind names the event class a transition listens for.
type EventKind string

const (
	// EventMessage fires on every processed learner/stakeholder exchange.
	EventMessage EventKind = "message"
)

// TransitionRule guards a move from one stage to another. A rule with no
// `if` tags always qualifies.
type TransitionRule struct {
	On EventKind    `yaml:"on"`
	If []signal.Tag `yaml:"if,omitempty"`
	To StageID      `yaml:"to"`
}

// DrillDown is a conditional prompt surfaced when its trigger tags appear.
type DrillDown struct {
	When   []signal.Tag `yaml:"when,omitempty"`
	Prompt string       `yaml:"prompt"`
}

// Cards groups the per-stage guidance content shown to the learner.
type Cards struct {
	GuidePrompt         string      `yaml:"guide_prompt"`
	DrillDowns          []DrillDown `yaml:"drill_downs,omitempty"`
	InterpretationHints []string    `yaml:"interpretation_hints,omitempty"`
	SummaryTemplate     string      `yaml:"summary_template,omitempty"`
}

// StageDefinition describes one stage of the structured interview.
type StageDefinition struct {
	Title          string           `yaml:"title"`
	Goal           string           `yaml:"goal"`
	ProgressWeight float64          `yaml:"progress_weight"`
	Cards          Cards            `yaml:"cards"`
	Transitions    []TransitionRule `yaml:"transitions,omitempty"`
}

// Blueprint is the full versioned stage configuration.
type Blueprint struct {
	Version string                      `yaml:"version"`
	Initial StageID                     `yaml:"initial"`
	Final   StageID                     `yaml:"final"`
	States  map[StageID]StageDefinition `yaml:"states"`
}

// Load parses and validates a blueprint document from a reader.
func Load(r io.Reader) (*Blueprint, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read blueprint document: %w", err)
	}

	var bp Blueprint
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("failed to parse blueprint document: %w", err)
	}

	if err := bp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid blueprint: %w", err)
	}

	slog.Debug("Blueprint loaded", "version", bp.Version, "stages", len(bp.States))
	return &bp, nil
}

// LoadFile loads a blueprint from a YAML file on disk.
func LoadFile(path string) (*Blueprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blueprint file %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the embedded default blueprint. The embedded document is
// validated at load like any other; a parse failure here is a build defect.
func Default() (*Blueprint, error) {
	var bp Blueprint
	if err := yaml.Unmarshal(defaultBlueprintYAML, &bp); err != nil {
		return nil, fmt.Errorf("failed to parse embedded blueprint: %w", err)
	}
	if err := bp.Validate(); err != nil {
		return nil, fmt.Errorf("embedded blueprint invalid: %w", err)
	}
	return &bp, nil
}

// Validate checks the structural invariants of a blueprint: initial and
// final stages exist, every transition target exists, the final stage has
// no outgoing transitions, and all weights are positive.
func (bp *Blueprint) Validate() error {
	if len(bp.States) == 0 {
		return fmt.Errorf("blueprint has no states")
	}
	if _, ok := bp.States[bp.Initial]; !ok {
		return fmt.Errorf("initial stage %q not present in state map", bp.Initial)
	}
	if _, ok := bp.States[bp.Final]; !ok {
		return fmt.Errorf("final stage %q not present in state map", bp.Final)
	}

	for id, def := range bp.States {
		if def.ProgressWeight <= 0 {
			return fmt.Errorf("stage %q has non-positive progress weight %v", id, def.ProgressWeight)
		}
		for i, tr := range def.Transitions {
			if _, ok := bp.States[tr.To]; !ok {
				return fmt.Errorf("stage %q transition %d targets unknown stage %q", id, i, tr.To)
			}
		}
	}

	if len(bp.States[bp.Final].Transitions) > 0 {
		return fmt.Errorf("final stage %q must not have outgoing transitions", bp.Final)
	}

	return nil
}

// Stage returns the definition for the given stage ID.
func (bp *Blueprint) Stage(id StageID) (StageDefinition, bool) {
	def, ok := bp.States[id]
	return def, ok
}

// TotalWeight sums the progress weights of all stages.
func (bp *Blueprint) TotalWeight() float64 {
	var total float64
	for _, def := range bp.States {
		total += def.ProgressWeight
	}
	return total
}
