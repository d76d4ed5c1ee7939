// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corretor-hub/internal/common/config"
	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/common/logger"
	"corretor-hub/internal/common/observability"
	"corretor-hub/internal/external"
	"corretor-hub/internal/matcher"
	"corretor-hub/internal/models"
	"corretor-hub/internal/registry"
	"corretor-hub/internal/scheduler"
	"corretor-hub/internal/store"
)

// ==========================
// Fakes
// ==========================

type fakeClassifier struct {
	result   *external.ClassifyResult
	err      error
	failures int // fail this many calls before succeeding
	calls    int

	respondText string
	respondErr  error
}

func (f *fakeClassifier) Classify(ctx context.Context, req *external.ClassifyRequest) (*external.ClassifyResult, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("classifier down")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &external.ClassifyResult{Intent: models.IntentInfo}, nil
}

func (f *fakeClassifier) Respond(ctx context.Context, req *external.RespondRequest) (string, error) {
	if f.respondErr != nil {
		return "", f.respondErr
	}
	if f.respondText != "" {
		return f.respondText, nil
	}
	return "Claro! Posso ajudar com isso.", nil
}

type fakeCalendar struct {
	busy      []models.TimeSlot
	created   []models.TimeSlot
	cancelled []string
	createErr error
	nextEvent int
}

func (f *fakeCalendar) FreeBusy(ctx context.Context, tenant *models.Tenant, from, to time.Time) ([]models.TimeSlot, error) {
	return f.busy, nil
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, tenant *models.Tenant, slot models.TimeSlot, summary string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, slot)
	f.nextEvent++
	return fmt.Sprintf("evt-%d", f.nextEvent), nil
}

func (f *fakeCalendar) CancelEvent(ctx context.Context, tenant *models.Tenant, eventRef string) error {
	f.cancelled = append(f.cancelled, eventRef)
	return nil
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(ctx context.Context, tenant *models.Tenant, contact, message string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeSender) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

// ==========================
// Fixture
// ==========================

const (
	testChannel = "+5411400100"
	testContact = "+5511999990000"
)

type fixture struct {
	orch       *Orchestrator
	stores     *store.Stores
	classifier *fakeClassifier
	calendar   *fakeCalendar
	sender     *fakeSender
	tenant     *models.Tenant
}

func newFixture(t *testing.T, mutate func(*models.TenantConfig)) *fixture {
	log := logger.NewTestLogger(t)
	stores := store.NewMemoryStores()

	cfg := models.DefaultTenantConfig()
	cfg.RequireNewContact = false
	if mutate != nil {
		mutate(&cfg)
	}
	tenant := &models.Tenant{
		ID:             "tenant-a",
		Name:           "Imobiliária Sol",
		ChannelAddress: testChannel,
		Status:         models.TenantActive,
		Config:         cfg,
	}
	require.NoError(t, stores.Tenants.UpsertTenant(context.Background(), tenant))

	classifier := &fakeClassifier{}
	calendar := &fakeCalendar{}
	sender := &fakeSender{}

	classifierCfg := config.ClassifierConfig{Timeout: time.Second, MaxRetries: 1}
	sched := scheduler.New(config.CalendarConfig{OfferWindowDays: 7}, calendar, stores.Appointments, log)
	reg := registry.New(stores.Tenants, nil, log)

	orch := New(classifierCfg, reg, stores, matcher.New(), sched, classifier, sender,
		NewMemoryDeduper(time.Hour), &observability.Observability{}, log)

	return &fixture{
		orch:       orch,
		stores:     stores,
		classifier: classifier,
		calendar:   calendar,
		sender:     sender,
		tenant:     tenant,
	}
}

func inbound(id, text string) *InboundMessage {
	return &InboundMessage{
		MessageID:      id,
		ChannelAddress: testChannel,
		Contact:        testContact,
		Text:           text,
		Timestamp:      time.Now().UTC(),
	}
}

func (f *fixture) activeConversation(t *testing.T) *models.Conversation {
	lead := f.lead(t)
	conv, err := f.stores.Conversations.GetActiveConversation(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	return conv
}

func (f *fixture) lead(t *testing.T) *models.Lead {
	lead, err := f.stores.Leads.GetLeadByContact(context.Background(), f.tenant.ID, testContact)
	require.NoError(t, err)
	return lead
}

// ==========================
// Inbound Handling Tests
// ==========================

func TestHandleInbound_FirstMessageRunsFullTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.classifier.respondText = "Temos ótimas opções em Palermo!"

	err := f.orch.HandleInbound(context.Background(), inbound("m1", "hola, busco depto"))
	require.NoError(t, err)

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "Temos ótimas opções em Palermo!", f.sender.sent[0])

	conv := f.activeConversation(t)
	assert.Equal(t, models.ConvWaiting, conv.State)

	lead := f.lead(t)
	assert.Equal(t, models.LeadContacted, lead.Status)
	assert.Greater(t, lead.Score, 0)
}

func TestHandleInbound_DuplicateMessageDropped(t *testing.T) {
	f := newFixture(t, nil)

	msg := inbound("dup-1", "hola")
	require.NoError(t, f.orch.HandleInbound(context.Background(), msg))
	require.NoError(t, f.orch.HandleInbound(context.Background(), msg))

	assert.Len(t, f.sender.sent, 1, "redelivery must not produce a second reply")
	assert.Equal(t, 1, f.classifier.calls)
}

func TestHandleInbound_UnresolvableAddressDroppedFailClosed(t *testing.T) {
	f := newFixture(t, nil)

	msg := inbound("m1", "hola")
	msg.ChannelAddress = "+000unknown"

	err := f.orch.HandleInbound(context.Background(), msg)
	require.NoError(t, err, "the message is dropped, not retried")
	assert.Empty(t, f.sender.sent)

	_, err = f.stores.Leads.GetLeadByContact(context.Background(), f.tenant.ID, testContact)
	assert.True(t, commonerrors.IsNotFound(err), "no lead may be created for unresolved traffic")
}

func TestHandleInbound_ActivationRejectedKnownContact(t *testing.T) {
	f := newFixture(t, func(c *models.TenantConfig) {
		c.RequireNewContact = true
		c.NewContactHours = 24
	})

	// The lead talked two hours ago, so it is not a new contact.
	lead := &models.Lead{
		ID:            "lead-1",
		TenantID:      f.tenant.ID,
		Phone:         testContact,
		Status:        models.LeadContacted,
		LastContactAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	require.NoError(t, f.stores.Leads.CreateLead(context.Background(), lead))

	err := f.orch.HandleInbound(context.Background(), inbound("m1", "hola de nuevo"))
	require.NoError(t, err)

	assert.Empty(t, f.sender.sent, "ignored conversations stay silent")
	assert.Equal(t, 0, f.classifier.calls)

	_, err = f.stores.Conversations.GetActiveConversation(context.Background(), f.tenant.ID, lead.ID)
	assert.True(t, commonerrors.IsNotFound(err), "the audit record is terminal, not active")
}

func TestHandleInbound_ClassifierFailureDegradesTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.classifier.err = errors.New("upstream 503")

	err := f.orch.HandleInbound(context.Background(), inbound("m1", "hola"))
	require.NoError(t, err)

	// One retry, then the canned acknowledgement.
	assert.Equal(t, 2, f.classifier.calls)
	assert.Equal(t, fallbackReply, f.sender.last())

	lead := f.lead(t)
	assert.True(t, lead.NeedsFollowup)
	conv := f.activeConversation(t)
	assert.True(t, conv.NeedsFollowup)
	assert.Equal(t, models.ConvWaiting, conv.State)
}

func TestHandleInbound_ClassifierRecoversOnRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.classifier.failures = 1

	err := f.orch.HandleInbound(context.Background(), inbound("m1", "hola"))
	require.NoError(t, err)

	assert.Equal(t, 2, f.classifier.calls)
	assert.NotEqual(t, fallbackReply, f.sender.last())
	assert.False(t, f.lead(t).NeedsFollowup)
}

// ==========================
// Handoff Tests
// ==========================

func TestHandleInbound_HandoffPhraseIsOneWayGate(t *testing.T) {
	f := newFixture(t, nil)

	err := f.orch.HandleInbound(context.Background(), inbound("m1", "quiero hablar con un humano"))
	require.NoError(t, err)

	assert.Equal(t, handoffReply, f.sender.last())
	conv := f.activeConversation(t)
	assert.Equal(t, models.ConvHumanHandoff, conv.State)
	assert.NotEmpty(t, conv.HandoffReason)

	// Further messages are recorded but never answered.
	err = f.orch.HandleInbound(context.Background(), inbound("m2", "sigo esperando"))
	require.NoError(t, err)
	assert.Len(t, f.sender.sent, 1)
	assert.Equal(t, 0, f.classifier.calls)

	msgs, err := f.stores.Conversations.ListMessages(context.Background(), f.tenant.ID, conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 3, "both lead messages plus the handoff reply are kept")
}

func TestResolveHandoff(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.HandleInbound(context.Background(), inbound("m1", "falar com atendente")))
	conv := f.activeConversation(t)

	require.NoError(t, f.orch.ResolveHandoff(context.Background(), f.tenant.ID, conv.ID))

	got, err := f.stores.Conversations.GetConversation(context.Background(), f.tenant.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConvResolved, got.State)
	assert.False(t, got.EndedAt.IsZero())

	// A new message after resolution starts a fresh conversation.
	require.NoError(t, f.orch.HandleInbound(context.Background(), inbound("m2", "hola otra vez")))
	fresh := f.activeConversation(t)
	assert.NotEqual(t, conv.ID, fresh.ID)
}

func TestTakeover(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.HandleInbound(context.Background(), inbound("m1", "hola")))
	conv := f.activeConversation(t)
	require.Equal(t, models.ConvWaiting, conv.State)

	require.NoError(t, f.orch.Takeover(context.Background(), f.tenant.ID, conv.ID, "agente-maria"))

	got, err := f.stores.Conversations.GetConversation(context.Background(), f.tenant.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConvHumanHandoff, got.State)
	assert.Contains(t, got.HandoffReason, "agente-maria")
}

func TestTakeover_WrongTenantCannotReach(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.HandleInbound(context.Background(), inbound("m1", "hola")))
	conv := f.activeConversation(t)

	err := f.orch.Takeover(context.Background(), "tenant-b", conv.ID, "intruso")
	require.Error(t, err)
	assert.True(t, commonerrors.IsNotFound(err))
}

// ==========================
// Search and Scheduling Tests
// ==========================

func seedProperty(t *testing.T, f *fixture, id, sourceID string) {
	_, err := f.stores.Inventory.UpsertProperty(context.Background(), &models.Property{
		ID:           id,
		TenantID:     f.tenant.ID,
		Title:        "Depto 2 amb " + id,
		Neighborhood: "Palermo",
		City:         "Buenos Aires",
		Bedrooms:     2,
		Price:        200000,
		SourceID:     sourceID,
		Status:       models.PropertyAvailable,
		ScrapedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestHandleInbound_SearchIntentListsMatches(t *testing.T) {
	f := newFixture(t, nil)
	seedProperty(t, f, "p1", "")
	f.classifier.result = &external.ClassifyResult{
		Intent: models.IntentSearch,
		Preferences: models.Preferences{
			Locations: []string{"Palermo"},
			BudgetMax: 250000,
		},
	}

	err := f.orch.HandleInbound(context.Background(), inbound("m1", "busco depto en palermo hasta 250k"))
	require.NoError(t, err)

	reply := f.sender.last()
	assert.Contains(t, reply, "Depto 2 amb p1")

	lead := f.lead(t)
	matches, err := f.stores.Matches.ListMatches(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "p1", matches[0].PropertyID)
}

func TestHandleInbound_SearchWithoutInventory(t *testing.T) {
	f := newFixture(t, nil)
	f.classifier.result = &external.ClassifyResult{
		Intent:      models.IntentSearch,
		Preferences: models.Preferences{Locations: []string{"Palermo"}},
	}

	err := f.orch.HandleInbound(context.Background(), inbound("m1", "busco depto"))
	require.NoError(t, err)
	assert.Equal(t, noMatchesReply, f.sender.last())
}

func TestHandleInbound_PortalLeadSeesOriginListingFirst(t *testing.T) {
	f := newFixture(t, nil)
	seedProperty(t, f, "p-generic", "")
	seedProperty(t, f, "p-origin", "zonaprop_7654321")
	f.classifier.result = &external.ClassifyResult{
		Intent:      models.IntentSearch,
		Preferences: models.Preferences{Locations: []string{"Palermo"}},
	}

	msg := inbound("m1", "vi esto https://www.zonaprop.com.ar/propiedades/depto-7654321-x.html")
	require.NoError(t, f.orch.HandleInbound(context.Background(), msg))

	lead := f.lead(t)
	assert.Equal(t, "zonaprop", lead.Source)
	assert.Equal(t, "zonaprop_7654321", lead.SourceListingRef)

	matches, err := f.stores.Matches.ListMatches(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
}

func TestHandleInbound_ScheduleIntentOffersTwoSlots(t *testing.T) {
	f := newFixture(t, nil)
	f.classifier.result = &external.ClassifyResult{Intent: models.IntentSchedule}

	err := f.orch.HandleInbound(context.Background(), inbound("m1", "quero visitar"))
	require.NoError(t, err)

	reply := f.sender.last()
	assert.Contains(t, reply, "1️⃣")
	assert.Contains(t, reply, "2️⃣")

	lead := f.lead(t)
	appt, err := f.stores.Appointments.GetPendingOfferForLead(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	assert.Len(t, appt.OfferedSlots, 2)
}

func TestHandleInbound_OfferReplyConfirmsFirstSlot(t *testing.T) {
	f := newFixture(t, nil)
	f.classifier.result = &external.ClassifyResult{Intent: models.IntentSchedule}
	require.NoError(t, f.orch.HandleInbound(context.Background(), inbound("m1", "quero visitar")))

	lead := f.lead(t)
	offer, err := f.stores.Appointments.GetPendingOfferForLead(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)

	require.NoError(t, f.orch.HandleInbound(context.Background(), inbound("m2", "1")))

	assert.Equal(t, confirmedReply, f.sender.last())

	lead = f.lead(t)
	assert.Equal(t, models.LeadQualified, lead.Status)
	assert.Equal(t, 1, f.classifier.calls, "the offer reply bypasses classification")

	appt, err := f.stores.Appointments.GetAppointment(context.Background(), f.tenant.ID, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentConfirmed, appt.Status)
	assert.True(t, appt.Slot.Equal(offer.OfferedSlots[0]))
	assert.NotEmpty(t, appt.CalendarEventRef)
}

func TestHandleInbound_OfferReplySettlesIntoWaiting(t *testing.T) {
	f := newFixture(t, nil)
	f.classifier.result = &external.ClassifyResult{Intent: models.IntentSchedule}
	require.NoError(t, f.orch.HandleInbound(context.Background(), inbound("m1", "quero visitar")))
	require.NoError(t, f.orch.HandleInbound(context.Background(), inbound("m2", "1")))

	conv := f.activeConversation(t)
	assert.Equal(t, models.ConvWaiting, conv.State)

	// An idle conversation with a confirmed visit still times out.
	conv.LastActivityAt = time.Now().UTC().Add(-30 * time.Hour)
	require.NoError(t, f.stores.Conversations.UpdateConversation(context.Background(), conv))
	f.orch.SweepInactive(context.Background())

	got, err := f.stores.Conversations.GetConversation(context.Background(), f.tenant.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConvInactive, got.State)
}

func TestHandleInbound_OfferReplyDeclineCancels(t *testing.T) {
	f := newFixture(t, nil)
	f.classifier.result = &external.ClassifyResult{Intent: models.IntentSchedule}
	require.NoError(t, f.orch.HandleInbound(context.Background(), inbound("m1", "quero visitar")))

	require.NoError(t, f.orch.HandleInbound(context.Background(), inbound("m2", "nao")))

	assert.Equal(t, cancelledReply, f.sender.last())
	lead := f.lead(t)
	_, err := f.stores.Appointments.GetPendingOfferForLead(context.Background(), f.tenant.ID, lead.ID)
	assert.True(t, commonerrors.IsNotFound(err))
}

// ==========================
// Reminder Response Tests
// ==========================

func TestHandleReminderResponse(t *testing.T) {
	f := newFixture(t, nil)
	lead := &models.Lead{ID: "lead-1", TenantID: f.tenant.ID, Phone: testContact}
	slot := models.TimeSlot{
		Start: time.Now().UTC().Add(24 * time.Hour),
		End:   time.Now().UTC().Add(25 * time.Hour),
	}
	appt := &models.Appointment{
		ID:           "appt-1",
		TenantID:     f.tenant.ID,
		LeadID:       lead.ID,
		Status:       models.AppointmentOffered,
		OfferedSlots: []models.TimeSlot{slot},
	}
	require.NoError(t, f.stores.Appointments.CreateAppointment(context.Background(), appt))
	require.NoError(t, f.stores.Appointments.Confirm(context.Background(), f.tenant.ID, appt.ID, slot, "evt-1", nil))

	reply, err := f.orch.HandleReminderResponse(context.Background(), f.tenant, lead, appt, "sim")
	require.NoError(t, err)
	assert.Equal(t, confirmedReply, reply)

	reply, err = f.orch.HandleReminderResponse(context.Background(), f.tenant, lead, appt, "nao")
	require.NoError(t, err)
	assert.Equal(t, cancelledReply, reply)

	got, err := f.stores.Appointments.GetAppointment(context.Background(), f.tenant.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCancelled, got.Status)

	reply, err = f.orch.HandleReminderResponse(context.Background(), f.tenant, lead, appt, "talvez")
	require.NoError(t, err)
	assert.Contains(t, reply, "SIM")
}

// ==========================
// Inactivity Sweep Tests
// ==========================

func TestSweepInactive(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now().UTC()

	stale := &models.Conversation{
		ID:             "conv-stale",
		TenantID:       f.tenant.ID,
		LeadID:         "lead-1",
		State:          models.ConvWaiting,
		StartedAt:      now.Add(-48 * time.Hour),
		LastActivityAt: now.Add(-25 * time.Hour),
	}
	fresh := &models.Conversation{
		ID:             "conv-fresh",
		TenantID:       f.tenant.ID,
		LeadID:         "lead-2",
		State:          models.ConvWaiting,
		StartedAt:      now.Add(-3 * time.Hour),
		LastActivityAt: now.Add(-2 * time.Hour),
	}
	handedOff := &models.Conversation{
		ID:             "conv-handoff",
		TenantID:       f.tenant.ID,
		LeadID:         "lead-3",
		State:          models.ConvHumanHandoff,
		StartedAt:      now.Add(-72 * time.Hour),
		LastActivityAt: now.Add(-72 * time.Hour),
	}
	for _, c := range []*models.Conversation{stale, fresh, handedOff} {
		require.NoError(t, f.stores.Conversations.CreateConversation(context.Background(), c))
	}

	f.orch.SweepInactive(context.Background())

	got, err := f.stores.Conversations.GetConversation(context.Background(), f.tenant.ID, "conv-stale")
	require.NoError(t, err)
	assert.Equal(t, models.ConvInactive, got.State)
	assert.False(t, got.EndedAt.IsZero())

	got, err = f.stores.Conversations.GetConversation(context.Background(), f.tenant.ID, "conv-fresh")
	require.NoError(t, err)
	assert.Equal(t, models.ConvWaiting, got.State)

	got, err = f.stores.Conversations.GetConversation(context.Background(), f.tenant.ID, "conv-handoff")
	require.NoError(t, err)
	assert.Equal(t, models.ConvHumanHandoff, got.State, "handed-off conversations never time out")
}

func TestSweepInactive_TenantTimeoutOverride(t *testing.T) {
	f := newFixture(t, func(c *models.TenantConfig) {
		c.InactivityTimeout = 2 * time.Hour
	})
	now := time.Now().UTC()

	conv := &models.Conversation{
		ID:             "conv-1",
		TenantID:       f.tenant.ID,
		LeadID:         "lead-1",
		State:          models.ConvWaiting,
		StartedAt:      now.Add(-4 * time.Hour),
		LastActivityAt: now.Add(-3 * time.Hour),
	}
	require.NoError(t, f.stores.Conversations.CreateConversation(context.Background(), conv))

	f.orch.SweepInactive(context.Background())

	got, err := f.stores.Conversations.GetConversation(context.Background(), f.tenant.ID, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConvInactive, got.State)
}

// ==========================
// Dedupe Tests
// ==========================

func TestMemoryDeduper(t *testing.T) {
	d := NewMemoryDeduper(time.Hour)

	first, err := d.FirstSeen(context.Background(), "tenant-a", "m1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.FirstSeen(context.Background(), "tenant-a", "m1")
	require.NoError(t, err)
	assert.False(t, first)

	// Same message ID under another tenant is independent.
	first, err = d.FirstSeen(context.Background(), "tenant-b", "m1")
	require.NoError(t, err)
	assert.True(t, first)
}
