// internal/models/appointment.go
package models

import "time"

// AppointmentStatus follows the visit lifecycle.
type AppointmentStatus string

const (
	AppointmentOffered   AppointmentStatus = "offered"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
)

// TimeSlot is a half-open [Start, End) calendar interval.
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Equal compares slots by instant, ignoring wall-clock representation.
func (s TimeSlot) Equal(other TimeSlot) bool {
	return s.Start.Equal(other.Start) && s.End.Equal(other.End)
}

// Appointment is a property-visit booking for a lead.
type Appointment struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	LeadID   string `json:"leadId"`
	// PropertyID is empty for a generic office visit.
	PropertyID string `json:"propertyId,omitempty"`

	// OfferedSlots are the two candidates presented to the lead.
	OfferedSlots []TimeSlot `json:"offeredSlots,omitempty"`
	// Slot is the confirmed time; zero until confirmation.
	Slot TimeSlot `json:"slot,omitempty"`

	Status           AppointmentStatus `json:"status"`
	CalendarEventRef string            `json:"calendarEventRef,omitempty"`
	CancelReason     string            `json:"cancelReason,omitempty"`

	CreatedAt   time.Time `json:"createdAt"`
	ConfirmedAt time.Time `json:"confirmedAt,omitempty"`
	CancelledAt time.Time `json:"cancelledAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// ReminderKind distinguishes the two reminder offsets.
type ReminderKind string

const (
	ReminderH24 ReminderKind = "h24"
	ReminderH3  ReminderKind = "h3"
)

// Offset returns how long before the appointment the reminder fires.
func (k ReminderKind) Offset() time.Duration {
	if k == ReminderH3 {
		return 3 * time.Hour
	}
	return 24 * time.Hour
}

// ReminderJob is a scheduled notification for a confirmed appointment.
// A given (appointment, kind) pair fires at most once.
type ReminderJob struct {
	TenantID      string       `json:"tenantId"`
	AppointmentID string       `json:"appointmentId"`
	Kind          ReminderKind `json:"kind"`
	FireAt        time.Time    `json:"fireAt"`
	Delivered     bool         `json:"delivered"`
	DeliveredAt   time.Time    `json:"deliveredAt,omitempty"`
}
