// internal/orchestrator/keywords.go
package orchestrator

import (
	"strings"

	"corretor-hub/internal/models"
)

var confirmKeywords = []string{"sim", "si", "yes", "confirmo"}

var cancelKeywords = []string{"não", "nao", "no", "cancelar", "remarcar"}

// slotReply parses a reply to a two-slot offer: "1"/"2" or a confirm
// keyword (taken as the first slot). ok is false when the message is
// not a slot reply.
func slotReply(text string, offered []models.TimeSlot) (models.TimeSlot, bool) {
	t := normalize(text)
	if len(offered) == 0 {
		return models.TimeSlot{}, false
	}
	switch t {
	case "1":
		return offered[0], true
	case "2":
		if len(offered) > 1 {
			return offered[1], true
		}
	}
	if matchesKeyword(t, confirmKeywords) {
		return offered[0], true
	}
	return models.TimeSlot{}, false
}

// isCancelReply reports a decline/reschedule reply to an offer or
// reminder.
func isCancelReply(text string) bool {
	return matchesKeyword(normalize(text), cancelKeywords)
}

// isConfirmReply reports a positive reply to a reminder.
func isConfirmReply(text string) bool {
	return matchesKeyword(normalize(text), confirmKeywords)
}

// containsHandoffPhrase checks the tenant's configured phrase set.
func containsHandoffPhrase(text string, phrases []string) bool {
	t := normalize(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(t, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func matchesKeyword(normalized string, keywords []string) bool {
	for _, k := range keywords {
		if normalized == k {
			return true
		}
		// Keyword as a standalone word inside a short reply.
		for _, w := range strings.Fields(normalized) {
			if strings.Trim(w, ".,!?*") == k {
				return true
			}
		}
	}
	return false
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
