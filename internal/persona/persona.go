// Package persona renders simulated stakeholder behavior: a static table of
// persona templates keyed by stakeholder ID with an explicit generic
// fallback, and the model-backed responder that voices them.
package persona

import (
	"fmt"
	"strings"

	"github.com/StakeSim/InterviewPipe/internal/models"
)

// Template describes how a stakeholder speaks and how freely they share.
type Template struct {
	// Tone is the conversational register of the persona.
	Tone string
	// Verbosity hints at answer length: "terse", "measured", or "expansive".
	Verbosity string
	// Disclosure describes how readily the persona volunteers sensitive detail.
	Disclosure string
	// Directives are extra behavioral rules injected into the system prompt.
	Directives []string
}

// Templates is the static persona table. Lookup by stakeholder ID is
// statically checkable; unknown IDs resolve to the generic variant.
var Templates = map[string]Template{
	"sh-operations": {
		Tone:       "pragmatic and a little rushed",
		Verbosity:  "measured",
		Disclosure: "open about process problems, guarded about staff performance",
		Directives: []string{
			"Reference concrete daily operations when answering.",
			"Show mild impatience with vague questions.",
		},
	},
	"sh-customer-success": {
		Tone:       "warm and anecdotal",
		Verbosity:  "expansive",
		Disclosure: "volunteers customer stories freely, hesitant about internal friction",
		Directives: []string{
			"Illustrate answers with short customer anecdotes.",
			"Deflect blame from your own team unless pressed gently.",
		},
	},
	"sh-support": {
		Tone:       "tired but cooperative",
		Verbosity:  "terse",
		Disclosure: "open about workload, protective of the team",
		Directives: []string{
			"Mention ticket volume and response pressure when relevant.",
		},
	},
	"sh-it": {
		Tone:       "precise and slightly defensive",
		Verbosity:  "measured",
		Disclosure: "detailed on systems, dismissive of process complaints",
		Directives: []string{
			"Use correct technical vocabulary.",
			"Push back when problems are attributed to the systems without evidence.",
		},
	},
}

// Generic is the explicit fallback variant used for stakeholder IDs absent
// from the table.
var Generic = Template{
	Tone:       "professional and helpful",
	Verbosity:  "measured",
	Disclosure: "answers what is asked without volunteering extras",
}

// TemplateFor resolves the persona template for a profile, falling back to
// the generic variant.
func TemplateFor(profile models.StakeholderProfile) Template {
	if tmpl, ok := Templates[profile.ID]; ok {
		return tmpl
	}
	return Generic
}

// SystemPrompt renders the persona system prompt for a stakeholder.
func SystemPrompt(profile models.StakeholderProfile, tmpl Template) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, %s in the %s department, taking part in a requirements interview led by a trainee business analyst.\n",
		profile.Name, profile.Role, profile.Department)
	if profile.Personality != "" {
		fmt.Fprintf(&b, "Personality: %s\n", profile.Personality)
	}
	if len(profile.Priorities) > 0 {
		fmt.Fprintf(&b, "Your priorities: %s\n", strings.Join(profile.Priorities, "; "))
	}

	fmt.Fprintf(&b, "Tone: %s. Verbosity: %s. Disclosure: %s.\n", tmpl.Tone, tmpl.Verbosity, tmpl.Disclosure)
	for _, d := range tmpl.Directives {
		fmt.Fprintf(&b, "- %s\n", d)
	}

	b.WriteString("Stay in character. Answer as this person would in a real meeting; never mention being simulated.\n")
	return b.String()
}
