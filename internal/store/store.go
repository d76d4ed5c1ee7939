// internal/store/store.go
package store

import (
	"context"
	"time"

	"corretor-hub/internal/models"
)

// TenantStore resolves and manages tenant records. Resolution is
// fail-closed: an unknown channel address surfaces an error, never a
// default tenant.
type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	GetTenantByChannelAddress(ctx context.Context, address string) (*models.Tenant, error)
	ListActiveTenants(ctx context.Context) ([]*models.Tenant, error)
	UpsertTenant(ctx context.Context, tenant *models.Tenant) error
}

// LeadStore manages leads. Every accessor is tenant-keyed.
type LeadStore interface {
	GetLead(ctx context.Context, tenantID, leadID string) (*models.Lead, error)
	GetLeadByContact(ctx context.Context, tenantID, contact string) (*models.Lead, error)
	CreateLead(ctx context.Context, lead *models.Lead) error
	UpdateLead(ctx context.Context, lead *models.Lead) error
}

// ConversationStore manages conversations and their message history.
type ConversationStore interface {
	GetConversation(ctx context.Context, tenantID, conversationID string) (*models.Conversation, error)
	// GetActiveConversation returns the single non-terminal conversation
	// for a lead, or a NOT_FOUND error when none is active.
	GetActiveConversation(ctx context.Context, tenantID, leadID string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	UpdateConversation(ctx context.Context, conv *models.Conversation) error
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*models.Message, error)
	// ListIdleActiveConversations returns active conversations across all
	// tenants whose last activity is older than the cutoff. Used by the
	// inactivity sweep.
	ListIdleActiveConversations(ctx context.Context, cutoff time.Time) ([]*models.Conversation, error)
}

// InventoryStore manages the tenant-scoped property inventory.
type InventoryStore interface {
	GetProperty(ctx context.Context, tenantID, propertyID string) (*models.Property, error)
	GetPropertyBySourceID(ctx context.Context, tenantID, sourceID string) (*models.Property, error)
	// UpsertProperty inserts or replaces by (tenant_id, source_id) and
	// reports whether an existing row was updated.
	UpsertProperty(ctx context.Context, prop *models.Property) (updated bool, err error)
	ListActiveProperties(ctx context.Context, tenantID string) ([]*models.Property, error)
}

// MatchStore holds the derived lead/property match rows. Matches are
// recomputable; writers replace the whole set for a lead.
type MatchStore interface {
	ReplaceMatches(ctx context.Context, tenantID, leadID string, matches []*models.Match) error
	ListMatches(ctx context.Context, tenantID, leadID string) ([]*models.Match, error)
	// InvalidateMatchesForProperty drops matches referencing a property
	// whose listing changed or went inactive.
	InvalidateMatchesForProperty(ctx context.Context, tenantID, propertyID string) error
}

// AppointmentStore manages appointments and their reminder jobs.
type AppointmentStore interface {
	GetAppointment(ctx context.Context, tenantID, appointmentID string) (*models.Appointment, error)
	GetPendingOfferForLead(ctx context.Context, tenantID, leadID string) (*models.Appointment, error)
	CreateAppointment(ctx context.Context, appt *models.Appointment) error
	// Confirm transitions Offered -> Confirmed and creates the reminder
	// jobs in the same transaction. Confirming an already-confirmed
	// appointment with the same slot is a no-op; with a different slot it
	// returns a STATE_CONFLICT error.
	Confirm(ctx context.Context, tenantID, appointmentID string, slot models.TimeSlot, eventRef string, reminders []*models.ReminderJob) error
	Cancel(ctx context.Context, tenantID, appointmentID, reason string) error
	Complete(ctx context.Context, tenantID, appointmentID string) error
}

// ReminderStore manages the reminder job queue.
type ReminderStore interface {
	// DueJobs returns undelivered jobs whose fire-at time has passed.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]*models.ReminderJob, error)
	// Deliver runs send inside the delivery transaction. The delivered
	// flag check is the first statement of the transaction: an already
	// delivered job is skipped and send is never called. The flag is set
	// before commit, so a crash after send but before commit leaves the
	// job re-deliverable on restart.
	Deliver(ctx context.Context, tenantID, appointmentID string, kind models.ReminderKind, send func(ctx context.Context) error) error
	// Skip marks a job delivered without sending. Used for lazy
	// cancellation and for jobs whose window has already passed.
	Skip(ctx context.Context, tenantID, appointmentID string, kind models.ReminderKind) error
}

// Stores bundles every store behind one handle.
type Stores struct {
	Tenants       TenantStore
	Leads         LeadStore
	Conversations ConversationStore
	Inventory     InventoryStore
	Matches       MatchStore
	Appointments  AppointmentStore
	Reminders     ReminderStore
}
