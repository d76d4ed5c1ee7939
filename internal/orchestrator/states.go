// internal/orchestrator/states.go
package orchestrator

import (
	"fmt"

	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/models"
)

// EventType drives the conversation state machine.
type EventType string

const (
	// EventActivated fires when the activation predicate admits a new
	// conversation.
	EventActivated EventType = "activated"
	// EventRejected fires when the activation predicate declines it.
	EventRejected EventType = "rejected"
	// EventClassified carries the classifier verdict for the current turn.
	EventClassified EventType = "classified"
	// EventResponseSent fires after the outbound reply went out.
	EventResponseSent EventType = "response_sent"
	// EventMessage is a new inbound message on an existing conversation.
	EventMessage EventType = "message"
	// EventHandoffRequest is an explicit human request from the lead.
	EventHandoffRequest EventType = "handoff_request"
	// EventOperatorTakeover is an agent-initiated takeover.
	EventOperatorTakeover EventType = "operator_takeover"
	// EventOperatorResolve closes a handed-off conversation.
	EventOperatorResolve EventType = "operator_resolve"
	// EventTimeout is the inactivity timeout on a Waiting conversation.
	EventTimeout EventType = "timeout"
	// EventFollowupDone closes a conversation after a human followed up
	// on a degraded automated turn.
	EventFollowupDone EventType = "followup_done"
)

// Event is one input to the state machine.
type Event struct {
	Type   EventType
	Intent models.Intent
	Reason string
}

// Effect is a side effect the caller must execute after a transition.
// The transition function itself never performs I/O.
type Effect string

const (
	EffectClassify      Effect = "classify"
	EffectRespond       Effect = "respond"
	EffectSearch        Effect = "search"
	EffectOfferSlots    Effect = "offer_slots"
	EffectNotifyHandoff Effect = "notify_handoff"
	EffectAudit         Effect = "audit"
)

// Transition applies an event to a state and returns the next state
// plus the effects to run. Pure: same inputs, same outputs. Events on a
// terminal state are a conflict; the caller starts a new conversation
// instead.
func Transition(state models.ConversationState, ev Event) (models.ConversationState, []Effect, error) {
	if state.Terminal() {
		return state, nil, commonerrors.NewStateConflictError(
			fmt.Sprintf("conversation is terminal (%s)", state))
	}

	// The handoff gate and operator takeover cut across most states.
	switch ev.Type {
	case EventOperatorTakeover:
		if state == models.ConvHumanHandoff {
			return state, nil, nil
		}
		return models.ConvHumanHandoff, nil, nil
	case EventHandoffRequest:
		if state == models.ConvHumanHandoff {
			return state, nil, nil
		}
		return models.ConvHumanHandoff, []Effect{EffectNotifyHandoff}, nil
	}

	switch state {
	case models.ConvNew:
		switch ev.Type {
		case EventActivated:
			return models.ConvProcessing, []Effect{EffectClassify}, nil
		case EventRejected:
			return models.ConvIgnored, []Effect{EffectAudit}, nil
		}

	case models.ConvProcessing:
		switch ev.Type {
		case EventClassified:
			switch ev.Intent {
			case models.IntentSearch:
				return models.ConvSearchingProperties, []Effect{EffectSearch}, nil
			case models.IntentSchedule:
				return models.ConvSchedulingVisit, []Effect{EffectOfferSlots}, nil
			case models.IntentHumanRequest:
				return models.ConvHumanHandoff, []Effect{EffectNotifyHandoff}, nil
			default:
				// Info, Other and anything unrecognized answer conversationally.
				return models.ConvRespondingAI, []Effect{EffectRespond}, nil
			}
		case EventResponseSent:
			// Degraded turns and slot-offer replies answer straight from
			// Processing, without a classified branch.
			return models.ConvWaiting, nil, nil
		}

	case models.ConvRespondingAI, models.ConvSearchingProperties, models.ConvSchedulingVisit:
		if ev.Type == EventResponseSent {
			return models.ConvWaiting, nil, nil
		}

	case models.ConvHumanHandoff:
		switch ev.Type {
		case EventMessage:
			// Automated responses stay suppressed; the message is only recorded.
			return state, nil, nil
		case EventResponseSent:
			// The handoff acknowledgement does not leave the gate.
			return state, nil, nil
		case EventOperatorResolve:
			return models.ConvResolved, nil, nil
		}

	case models.ConvWaiting:
		switch ev.Type {
		case EventMessage:
			return models.ConvProcessing, []Effect{EffectClassify}, nil
		case EventTimeout:
			return models.ConvInactive, nil, nil
		case EventFollowupDone:
			return models.ConvFollowupDone, nil, nil
		}
	}

	return state, nil, commonerrors.NewStateConflictError(
		fmt.Sprintf("event %s not valid in state %s", ev.Type, state))
}
