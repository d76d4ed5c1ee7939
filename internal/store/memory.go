// internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/models"
)

// MemoryStore is a map-backed implementation of every store interface.
// It backs tests and single-node deployments without Postgres. All
// methods copy on read so callers never alias internal state.
type MemoryStore struct {
	mu sync.RWMutex

	tenants       map[string]*models.Tenant
	leads         map[string]*models.Lead         // key: tenantID/leadID
	conversations map[string]*models.Conversation // key: tenantID/convID
	messages      map[string][]*models.Message    // key: conversationID
	properties    map[string]*models.Property     // key: tenantID/propID
	matches       map[string][]*models.Match      // key: tenantID/leadID
	appointments  map[string]*models.Appointment  // key: tenantID/apptID
	reminders     map[string]*models.ReminderJob  // key: tenantID/apptID/kind
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:       make(map[string]*models.Tenant),
		leads:         make(map[string]*models.Lead),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		properties:    make(map[string]*models.Property),
		matches:       make(map[string][]*models.Match),
		appointments:  make(map[string]*models.Appointment),
		reminders:     make(map[string]*models.ReminderJob),
	}
}

// NewMemoryStores wires one MemoryStore behind the Stores bundle.
func NewMemoryStores() *Stores {
	s := NewMemoryStore()
	return &Stores{
		Tenants:       s,
		Leads:         s,
		Conversations: s,
		Inventory:     s,
		Matches:       s,
		Appointments:  s,
		Reminders:     s,
	}
}

func scopedKey(tenantID, id string) string {
	return tenantID + "/" + id
}

// ---- TenantStore ----

func (s *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, commonerrors.NewNotFoundError("tenant", tenantID)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetTenantByChannelAddress(ctx context.Context, address string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.ChannelAddress == address {
			cp := *t
			return &cp, nil
		}
	}
	return nil, commonerrors.NewNotFoundError("tenant", address)
}

func (s *MemoryStore) ListActiveTenants(ctx context.Context) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Tenant
	for _, t := range s.tenants {
		if t.Status == models.TenantActive {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertTenant(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now
	cp := *tenant
	s.tenants[tenant.ID] = &cp
	return nil
}

// ---- LeadStore ----

func (s *MemoryStore) GetLead(ctx context.Context, tenantID, leadID string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[scopedKey(tenantID, leadID)]
	if !ok {
		return nil, commonerrors.NewNotFoundError("lead", leadID)
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) GetLeadByContact(ctx context.Context, tenantID, contact string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.leads {
		if l.TenantID == tenantID && l.Phone == contact {
			cp := *l
			return &cp, nil
		}
	}
	return nil, commonerrors.NewNotFoundError("lead", contact)
}

func (s *MemoryStore) CreateLead(ctx context.Context, lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(lead.TenantID, lead.ID)
	if _, exists := s.leads[key]; exists {
		return commonerrors.NewStateConflictError(fmt.Sprintf("lead %s already exists", lead.ID))
	}
	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	cp := *lead
	s.leads[key] = &cp
	return nil
}

func (s *MemoryStore) UpdateLead(ctx context.Context, lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(lead.TenantID, lead.ID)
	if _, exists := s.leads[key]; !exists {
		return commonerrors.NewNotFoundError("lead", lead.ID)
	}
	lead.UpdatedAt = time.Now().UTC()
	cp := *lead
	s.leads[key] = &cp
	return nil
}

// ---- ConversationStore ----

func (s *MemoryStore) GetConversation(ctx context.Context, tenantID, conversationID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[scopedKey(tenantID, conversationID)]
	if !ok {
		return nil, commonerrors.NewNotFoundError("conversation", conversationID)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetActiveConversation(ctx context.Context, tenantID, leadID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Conversation
	for _, c := range s.conversations {
		if c.TenantID != tenantID || c.LeadID != leadID || c.State.Terminal() {
			continue
		}
		if latest == nil || c.StartedAt.After(latest.StartedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, commonerrors.NewNotFoundError("conversation", leadID)
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if conv.StartedAt.IsZero() {
		conv.StartedAt = now
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = now
	}
	cp := *conv
	s.conversations[scopedKey(conv.TenantID, conv.ID)] = &cp
	return nil
}

func (s *MemoryStore) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(conv.TenantID, conv.ID)
	if _, exists := s.conversations[key]; !exists {
		return commonerrors.NewNotFoundError("conversation", conv.ID)
	}
	cp := *conv
	s.conversations[key] = &cp
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &cp)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.conversations[scopedKey(tenantID, conversationID)]; !ok || c.TenantID != tenantID {
		return nil, commonerrors.NewNotFoundError("conversation", conversationID)
	}
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) ListIdleActiveConversations(ctx context.Context, cutoff time.Time) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Conversation
	for _, c := range s.conversations {
		if !c.State.Terminal() && c.LastActivityAt.Before(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- InventoryStore ----

func (s *MemoryStore) GetProperty(ctx context.Context, tenantID, propertyID string) (*models.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.properties[scopedKey(tenantID, propertyID)]
	if !ok {
		return nil, commonerrors.NewNotFoundError("property", propertyID)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPropertyBySourceID(ctx context.Context, tenantID, sourceID string) (*models.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.properties {
		if p.TenantID == tenantID && p.SourceID == sourceID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, commonerrors.NewNotFoundError("property", sourceID)
}

func (s *MemoryStore) UpsertProperty(ctx context.Context, prop *models.Property) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var updated bool
	if prop.SourceID != "" {
		for key, p := range s.properties {
			if p.TenantID == prop.TenantID && p.SourceID == prop.SourceID {
				prop.ID = p.ID
				prop.CreatedAt = p.CreatedAt
				delete(s.properties, key)
				updated = true
				break
			}
		}
	}
	if prop.CreatedAt.IsZero() {
		prop.CreatedAt = now
	}
	prop.UpdatedAt = now
	cp := *prop
	s.properties[scopedKey(prop.TenantID, prop.ID)] = &cp
	return updated, nil
}

func (s *MemoryStore) ListActiveProperties(ctx context.Context, tenantID string) ([]*models.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Property
	for _, p := range s.properties {
		if p.TenantID == tenantID && p.Status == models.PropertyAvailable {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScrapedAt.After(out[j].ScrapedAt) })
	return out, nil
}

// ---- MatchStore ----

func (s *MemoryStore) ReplaceMatches(ctx context.Context, tenantID, leadID string, matches []*models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cps := make([]*models.Match, len(matches))
	for i, m := range matches {
		cp := *m
		cps[i] = &cp
	}
	s.matches[scopedKey(tenantID, leadID)] = cps
	return nil
}

func (s *MemoryStore) ListMatches(ctx context.Context, tenantID, leadID string) ([]*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.matches[scopedKey(tenantID, leadID)]
	out := make([]*models.Match, len(src))
	for i, m := range src {
		cp := *m
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (s *MemoryStore) InvalidateMatchesForProperty(ctx context.Context, tenantID, propertyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, list := range s.matches {
		if len(list) == 0 || list[0].TenantID != tenantID {
			continue
		}
		kept := list[:0]
		for _, m := range list {
			if m.PropertyID != propertyID {
				kept = append(kept, m)
			}
		}
		s.matches[key] = kept
	}
	return nil
}

// ---- AppointmentStore ----

func (s *MemoryStore) GetAppointment(ctx context.Context, tenantID, appointmentID string) (*models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[scopedKey(tenantID, appointmentID)]
	if !ok {
		return nil, commonerrors.NewNotFoundError("appointment", appointmentID)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetPendingOfferForLead(ctx context.Context, tenantID, leadID string) (*models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Appointment
	for _, a := range s.appointments {
		if a.TenantID != tenantID || a.LeadID != leadID || a.Status != models.AppointmentOffered {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, commonerrors.NewNotFoundError("appointment", leadID)
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) CreateAppointment(ctx context.Context, appt *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = time.Now().UTC()
	}
	cp := *appt
	s.appointments[scopedKey(appt.TenantID, appt.ID)] = &cp
	return nil
}

func (s *MemoryStore) Confirm(ctx context.Context, tenantID, appointmentID string, slot models.TimeSlot, eventRef string, reminders []*models.ReminderJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[scopedKey(tenantID, appointmentID)]
	if !ok {
		return commonerrors.NewNotFoundError("appointment", appointmentID)
	}
	switch a.Status {
	case models.AppointmentConfirmed:
		if a.Slot.Equal(slot) {
			return nil // idempotent re-confirm
		}
		return commonerrors.NewStateConflictError(
			fmt.Sprintf("appointment %s already confirmed for a different slot", appointmentID))
	case models.AppointmentOffered:
		// proceed
	default:
		return commonerrors.NewStateConflictError(
			fmt.Sprintf("appointment %s is %s, not offered", appointmentID, a.Status))
	}

	a.Status = models.AppointmentConfirmed
	a.Slot = slot
	a.CalendarEventRef = eventRef
	a.ConfirmedAt = time.Now().UTC()

	for _, r := range reminders {
		key := reminderKey(tenantID, appointmentID, r.Kind)
		if _, exists := s.reminders[key]; exists {
			continue
		}
		cp := *r
		s.reminders[key] = &cp
	}
	return nil
}

func (s *MemoryStore) Cancel(ctx context.Context, tenantID, appointmentID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[scopedKey(tenantID, appointmentID)]
	if !ok {
		return commonerrors.NewNotFoundError("appointment", appointmentID)
	}
	if a.Status != models.AppointmentOffered && a.Status != models.AppointmentConfirmed {
		return commonerrors.NewStateConflictError(
			fmt.Sprintf("appointment %s cannot be cancelled", appointmentID))
	}
	a.Status = models.AppointmentCancelled
	a.CancelReason = reason
	a.CancelledAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Complete(ctx context.Context, tenantID, appointmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[scopedKey(tenantID, appointmentID)]
	if !ok {
		return commonerrors.NewNotFoundError("appointment", appointmentID)
	}
	if a.Status != models.AppointmentConfirmed {
		return commonerrors.NewStateConflictError(
			fmt.Sprintf("appointment %s is not confirmed", appointmentID))
	}
	a.Status = models.AppointmentCompleted
	a.CompletedAt = time.Now().UTC()
	return nil
}

// ---- ReminderStore ----

func reminderKey(tenantID, appointmentID string, kind models.ReminderKind) string {
	return tenantID + "/" + appointmentID + "/" + string(kind)
}

func (s *MemoryStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]*models.ReminderJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ReminderJob
	for _, j := range s.reminders {
		if !j.Delivered && !j.FireAt.After(now) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Deliver(ctx context.Context, tenantID, appointmentID string, kind models.ReminderKind, send func(ctx context.Context) error) error {
	s.mu.Lock()
	j, ok := s.reminders[reminderKey(tenantID, appointmentID, kind)]
	if !ok {
		s.mu.Unlock()
		return commonerrors.NewNotFoundError("reminder job", appointmentID)
	}
	if j.Delivered {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := send(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	j.Delivered = true
	j.DeliveredAt = time.Now().UTC()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Skip(ctx context.Context, tenantID, appointmentID string, kind models.ReminderKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.reminders[reminderKey(tenantID, appointmentID, kind)]; ok {
		j.Delivered = true
		j.DeliveredAt = time.Now().UTC()
	}
	return nil
}
