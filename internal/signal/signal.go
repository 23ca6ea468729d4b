// Package signal provides a fixed-vocabulary semantic tagger for learner
// and stakeholder messages. Detection is pure keyword membership: it is a
// deliberate approximation, not a classifier, and always succeeds.
package signal

import (
	"sort"
	"strings"
)

// Tag is a semantic marker derived from message text.
type Tag string

// Tags recognized by the detector.
const (
	TagMentionsTime      Tag = "mentions_time"
	TagMentionsPeople    Tag = "mentions_people"
	TagMentionsTurnover  Tag = "mentions_turnover"
	TagMentionsHandoff   Tag = "mentions_handoff"
	TagMentionsProcess   Tag = "mentions_process"
	TagMentionsQuality   Tag = "mentions_quality"
	TagMentionsPriority  Tag = "mentions_priority"
	TagMentionsMetrics   Tag = "mentions_metrics"
	TagMentionsApproval  Tag = "mentions_approval"
	TagMentionsDeadline  Tag = "mentions_deadline"
	TagMentionsBlockers  Tag = "mentions_blockers"
	TagIsProblemQuestion Tag = "is_problem_question"
	// TagAnswerGeneral marks short messages that carry little structure on their own.
	TagAnswerGeneral Tag = "answer_general"
)

// answerGeneralWordLimit is the word count below which a message is tagged answer_general.
const answerGeneralWordLimit = 10

// vocabularies maps each tag to the keywords whose presence activates it.
// Matching is case-insensitive substring containment.
var vocabularies = map[Tag][]string{
	TagMentionsTime:     {"time", "hours", "minutes", "how long", "duration", "daily", "weekly", "every day"},
	TagMentionsPeople:   {"people", "team", "staff", "colleague", "employee", "member", "who ", "everyone"},
	TagMentionsTurnover: {"turnover", "quit", "resign", "leaving", "retention", "churn"},
	TagMentionsHandoff:  {"handoff", "hand off", "hand over", "pass to", "transfer", "escalate"},
	TagMentionsProcess:  {"process", "workflow", "procedure", "step", "pipeline", "how do you", "how does"},
	TagMentionsQuality:  {"quality", "error", "mistake", "defect", "rework", "accuracy", "wrong"},
	TagMentionsPriority: {"priority", "prioritize", "most important", "urgent", "first", "critical"},
	TagMentionsMetrics:  {"metric", "measure", "kpi", "number", "percent", "how many", "how much", "rate"},
	TagMentionsApproval: {"approval", "approve", "sign off", "sign-off", "authorize", "permission"},
	TagMentionsDeadline: {"deadline", "due date", "by when", "cutoff", "end of month", "end of quarter"},
	TagMentionsBlockers: {"blocker", "blocked", "stuck", "obstacle", "bottleneck", "waiting on", "can't proceed"},
}

// problemKeywords activate is_problem_question, which also gates phase
// advance eligibility out of the warm-up stage.
var problemKeywords = []string{
	"challenge", "problem", "issue", "pain", "difficult", "frustrat",
	"struggle", "concern", "what's not working", "whats not working", "biggest obstacle",
}

// TagSet is an immutable set of detected tags.
type TagSet map[Tag]bool

// Has reports whether the set contains the given tag.
func (s TagSet) Has(tag Tag) bool {
	return s[tag]
}

// HasAll reports whether every given tag is present. An empty slice is
// vacuously satisfied, which is what guardless transitions rely on.
func (s TagSet) HasAll(tags []Tag) bool {
	for _, t := range tags {
		if !s[t] {
			return false
		}
	}
	return true
}

// List returns the tags in sorted order for stable logging.
func (s TagSet) List() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// Detect maps free text to the set of tags whose vocabulary it matches.
// Pure and deterministic; always returns a set, possibly empty.
func Detect(text string) TagSet {
	lowered := strings.ToLower(text)
	tags := make(TagSet)

	for tag, keywords := range vocabularies {
		for _, kw := range keywords {
			if strings.Contains(lowered, kw) {
				tags[tag] = true
				break
			}
		}
	}

	if IsProblemQuestion(text) {
		tags[TagIsProblemQuestion] = true
	}

	if len(strings.Fields(text)) < answerGeneralWordLimit {
		tags[TagAnswerGeneral] = true
	}

	return tags
}

// IsProblemQuestion flags messages that probe for business problems, the
// signal that makes a session eligible to leave the warm-up stage.
func IsProblemQuestion(text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range problemKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
