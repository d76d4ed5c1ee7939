// internal/matcher/leadscore.go
package matcher

import (
	"time"

	"corretor-hub/internal/models"
)

// Qualification weights. The sum of all full contributions caps at 100.
const (
	weightHasName               = 5
	weightHasEmail              = 10
	weightHasBudget             = 15
	weightHasPreferences        = 10
	weightRecentContact         = 20
	weightMultipleConversations = 15
	weightAppointmentScheduled  = 25
	weightHighEngagement        = 20
	weightQualifiedStatus       = 30
	weightSourceQuality         = 10
)

var highQualitySources = map[string]bool{
	"website":  true,
	"referral": true,
	"agent":    true,
}

// LeadEngagement carries the activity counters the scorer reads.
type LeadEngagement struct {
	ConversationCount int
	AppointmentCount  int
	MessageCount      int
}

// ScoreLead computes the 0-100 qualification score for a lead together
// with the factor breakdown. Pure: the caller persists the result.
func ScoreLead(lead *models.Lead, eng LeadEngagement, now time.Time) (int, map[string]int) {
	score := 0
	factors := make(map[string]int)

	add := func(name string, points int) {
		score += points
		factors[name] = points
	}

	if lead.Name != "" {
		add("has_name", weightHasName)
	}
	if lead.Email != "" {
		add("has_email", weightHasEmail)
	}
	if lead.Preferences.HasBudget() {
		add("has_budget", weightHasBudget)
	}
	if hasPreferences(lead.Preferences) {
		add("has_preferences", weightHasPreferences)
	}

	if !lead.LastContactAt.IsZero() {
		days := int(now.Sub(lead.LastContactAt).Hours() / 24)
		if days <= 7 {
			add("recent_contact", weightRecentContact)
		} else if days <= 14 {
			add("recent_contact_partial", weightRecentContact/2)
		}
	}

	if eng.ConversationCount >= 2 {
		add("multiple_conversations", weightMultipleConversations)
	} else if eng.ConversationCount == 1 {
		add("single_conversation", weightMultipleConversations/2)
	}

	if eng.AppointmentCount > 0 {
		add("appointment_scheduled", weightAppointmentScheduled)
	}

	if eng.MessageCount >= 10 {
		add("high_engagement", weightHighEngagement)
	} else if eng.MessageCount > 0 {
		add("some_engagement", weightHighEngagement/2)
	}

	switch lead.Status {
	case models.LeadQualified:
		add("qualified_status", weightQualifiedStatus)
	case models.LeadContacted:
		add("contacted_status", weightQualifiedStatus/2)
	}

	if highQualitySources[lead.Source] {
		add("high_quality_source", weightSourceQuality)
	}

	if score > 100 {
		score = 100
	}
	return score, factors
}

func hasPreferences(p models.Preferences) bool {
	return len(p.Locations) > 0 || p.Bedrooms > 0 || p.AreaM2 > 0 ||
		p.PropertyType != "" || len(p.Amenities) > 0
}
