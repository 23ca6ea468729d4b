// Package router selects which simulated stakeholder answers a learner
// question. Classification is fixed keyword matching into topic buckets;
// routing failure is not an error but a defined default.
package router

import (
	"log/slog"
	"strings"

	"github.com/StakeSim/InterviewPipe/internal/models"
)

// bucket groups the keyword vocabulary that classifies a question with the
// department/role vocabulary that identifies a matching stakeholder.
type bucket struct {
	name        string
	keywords    []string
	departments []string
	roles       []string
}

// buckets are evaluated in order; the first whose keywords match the
// question classifies it.
var buckets = []bucket{
	{
		name:        "customer_experience",
		keywords:    []string{"customer", "client", "user experience", "satisfaction", "complaint", "onboarding", "retention", "churn"},
		departments: []string{"customer success", "customer experience", "sales", "marketing", "account"},
		roles:       []string{"customer", "success", "account manager", "sales"},
	},
	{
		name:        "support",
		keywords:    []string{"support", "ticket", "help desk", "helpdesk", "service desk", "escalation", "response time", "sla"},
		departments: []string{"support", "service desk", "help desk", "customer service", "operations"},
		roles:       []string{"support", "service", "operations"},
	},
	{
		name:        "technical",
		keywords:    []string{"system", "integration", "api", "database", "software", "technical", "infrastructure", "security", "billing api", "platform", "bug"},
		departments: []string{"it", "engineering", "technology", "development", "infrastructure"},
		roles:       []string{"engineer", "developer", "architect", "technical", "it "},
	},
}

// Route selects the stakeholder who should answer the question. With a
// single candidate no matching is attempted. When no bucket matches the
// question, or no candidate matches the bucket, the first candidate
// supplied by the caller is returned: a deterministic, documented
// tie-break, deliberately order-sensitive.
func Route(question string, candidates []models.StakeholderProfile) models.StakeholderProfile {
	if len(candidates) == 0 {
		// Callers validate stakeholder lists up front; an empty list here
		// yields the zero profile rather than a panic.
		return models.StakeholderProfile{}
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	lowered := strings.ToLower(question)
	for _, b := range buckets {
		if !matchesAny(lowered, b.keywords) {
			continue
		}
		for _, candidate := range candidates {
			if profileMatchesBucket(candidate, b) {
				slog.Debug("router.Route: bucket match", "bucket", b.name, "stakeholder", candidate.ID)
				return candidate
			}
		}
		// Bucket classified the question but no candidate fits it.
		break
	}

	slog.Debug("router.Route: no match, falling back to first candidate", "stakeholder", candidates[0].ID)
	return candidates[0]
}

// profileMatchesBucket checks the candidate's department and role against
// the bucket vocabulary, case-insensitive substring both ways.
func profileMatchesBucket(p models.StakeholderProfile, b bucket) bool {
	dept := strings.ToLower(p.Department)
	role := strings.ToLower(p.Role)
	for _, d := range b.departments {
		if dept != "" && (strings.Contains(dept, d) || strings.Contains(d, dept)) {
			return true
		}
	}
	for _, r := range b.roles {
		if role != "" && strings.Contains(role, strings.TrimSpace(r)) {
			return true
		}
	}
	return false
}

func matchesAny(lowered string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
