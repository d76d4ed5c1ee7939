// internal/models/conversation.go
package models

import "time"

// ConversationState is the per-lead state machine position.
type ConversationState string

const (
	ConvNew                 ConversationState = "new"
	ConvProcessing          ConversationState = "processing"
	ConvRespondingAI        ConversationState = "responding_ai"
	ConvSearchingProperties ConversationState = "searching_properties"
	ConvSchedulingVisit     ConversationState = "scheduling_visit"
	ConvHumanHandoff        ConversationState = "human_handoff"
	ConvWaiting             ConversationState = "waiting"
	ConvInactive            ConversationState = "inactive"
	ConvResolved            ConversationState = "resolved"
	ConvIgnored             ConversationState = "ignored"
	ConvFollowupDone        ConversationState = "followup_done"
)

// Terminal reports whether the state accepts no further transitions. A
// terminal conversation is never mutated again; the next inbound message
// from the lead starts a fresh conversation.
func (s ConversationState) Terminal() bool {
	switch s {
	case ConvInactive, ConvResolved, ConvIgnored, ConvFollowupDone:
		return true
	}
	return false
}

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderLead     SenderType = "lead"
	SenderBot      SenderType = "bot"
	SenderOperator SenderType = "operator"
)

// Message is one entry in a conversation's append-only history.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	Sender         SenderType `json:"sender"`
	Text           string     `json:"text"`
	MediaURL       string     `json:"mediaUrl,omitempty"`
	Intent         Intent     `json:"intent,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Conversation is the single active dialogue with a lead. At most one
// non-terminal conversation exists per lead at any time.
type Conversation struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	LeadID   string `json:"leadId"`

	State ConversationState `json:"state"`

	// HandoffReason is set when the conversation passed through the one-way
	// human-handoff gate.
	HandoffReason string `json:"handoffReason,omitempty"`
	// IgnoredReason records why the activation predicate rejected the
	// conversation (audit record for Ignored conversations).
	IgnoredReason string `json:"ignoredReason,omitempty"`
	// NeedsFollowup flags the conversation for human review after a
	// degraded automated turn.
	NeedsFollowup bool `json:"needsFollowup"`

	StartedAt      time.Time `json:"startedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	EndedAt        time.Time `json:"endedAt,omitempty"`
}

// Intent is the classified purpose of an inbound message.
type Intent string

const (
	IntentSearch       Intent = "search"
	IntentSchedule     Intent = "schedule"
	IntentInfo         Intent = "info"
	IntentHumanRequest Intent = "human_request"
	IntentOther        Intent = "other"
)
