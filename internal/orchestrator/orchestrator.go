// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

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

const (
	historyLimit         = 20
	classifierRetryDelay = 500 * time.Millisecond

	fallbackReply   = "Obrigado pela sua mensagem! Um de nossos corretores vai te responder em breve. 😊"
	handoffReply    = "Perfeito! Um de nossos corretores vai continuar o atendimento com você. 🙋"
	confirmedReply  = "Perfeito! Sua visita está confirmada. Te esperamos! 🏠"
	cancelledReply  = "Sem problemas! Sua visita foi cancelada. Quando quiser remarcar, é só me avisar."
	noMatchesReply  = "Ainda não encontrei imóveis com essas características, mas vou te avisar assim que surgir uma novidade!"
	slotOfferFormat = "Tenho estes horários disponíveis para a visita:\n1️⃣ %s\n2️⃣ %s\nResponda *1* ou *2* para confirmar."
)

// InboundMessage is one event from the inbound channel.
type InboundMessage struct {
	MessageID      string
	ChannelAddress string
	Contact        string
	Text           string
	MediaURL       string
	Timestamp      time.Time
}

// Orchestrator runs the per-lead conversation state machine. One
// logical worker per inbound event; turns of the same conversation are
// serialized by a per-(tenant, contact) lock.
type Orchestrator struct {
	classifierCfg config.ClassifierConfig
	registry      *registry.Registry
	stores        *store.Stores
	matcher       *matcher.Engine
	scheduler     *scheduler.Scheduler
	classifier    external.Classifier
	sender        external.NotificationSender
	deduper       Deduper
	locks         *conversationLocks
	obs           *observability.Observability
	logger        logger.Logger
	now           func() time.Time
}

func New(
	classifierCfg config.ClassifierConfig,
	reg *registry.Registry,
	stores *store.Stores,
	eng *matcher.Engine,
	sched *scheduler.Scheduler,
	classifier external.Classifier,
	sender external.NotificationSender,
	deduper Deduper,
	obs *observability.Observability,
	log logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		classifierCfg: classifierCfg,
		registry:      reg,
		stores:        stores,
		matcher:       eng,
		scheduler:     sched,
		classifier:    classifier,
		sender:        sender,
		deduper:       deduper,
		locks:         newConversationLocks(),
		obs:           obs,
		logger:        log.WithFields(map[string]interface{}{"component": "orchestrator"}),
		now:           time.Now,
	}
}

// HandleInbound applies one channel event. Redelivered messages are
// dropped by the deduper; unresolvable channel addresses are dropped
// fail-closed.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg *InboundMessage) error {
	started := o.now()

	tenant, err := o.registry.Resolve(ctx, msg.ChannelAddress)
	if err != nil {
		o.logger.Warn("dropping unresolvable inbound message", map[string]interface{}{
			"channelAddress": msg.ChannelAddress,
			"error":          err,
		})
		o.obs.RecordMessageProcessed(ctx, "", "unresolved")
		return nil
	}

	log := o.logger.WithFields(map[string]interface{}{
		"tenantId": tenant.ID,
		"contact":  msg.Contact,
	})

	if msg.MessageID != "" {
		first, err := o.deduper.FirstSeen(ctx, tenant.ID, msg.MessageID)
		if err != nil {
			log.Warn("dedupe check failed, processing anyway", map[string]interface{}{"error": err})
		} else if !first {
			o.obs.RecordMessageProcessed(ctx, tenant.ID, "duplicate")
			return nil
		}
	}

	unlock := o.locks.Lock(tenant.ID, msg.Contact)
	defer unlock()

	err = o.handleLocked(ctx, tenant, msg, log)

	status := "ok"
	if err != nil {
		status = "error"
	}
	o.obs.RecordMessageProcessed(ctx, tenant.ID, status)
	o.obs.RecordMessageDuration(ctx, o.now().Sub(started), status)
	return err
}

func (o *Orchestrator) handleLocked(ctx context.Context, tenant *models.Tenant, msg *InboundMessage, log logger.Logger) error {
	lead, created, err := o.getOrCreateLead(ctx, tenant, msg)
	if err != nil {
		return err
	}
	if err := registry.Guard(tenant.ID, lead.TenantID); err != nil {
		return err
	}

	conv, err := o.stores.Conversations.GetActiveConversation(ctx, tenant.ID, lead.ID)
	if err != nil {
		if !commonerrors.IsNotFound(err) {
			return err
		}
		conv, err = o.openConversation(ctx, tenant, lead, msg, created, log)
		if err != nil || conv == nil {
			return err
		}
	} else {
		next, _, terr := Transition(conv.State, Event{Type: EventMessage})
		if terr == nil {
			o.obs.RecordTransition(ctx, string(conv.State), string(next))
			conv.State = next
		}
	}

	conv.LastActivityAt = o.now().UTC()
	if err := o.appendLeadMessage(ctx, conv, msg); err != nil {
		return err
	}

	// A handed-off conversation records the message and stays silent.
	if conv.State == models.ConvHumanHandoff {
		return o.stores.Conversations.UpdateConversation(ctx, conv)
	}

	// Replies to a pending slot offer short-circuit classification.
	if handled, err := o.handleOfferReply(ctx, tenant, lead, conv, msg.Text); handled || err != nil {
		return err
	}

	// Explicit human request is a one-way gate.
	if containsHandoffPhrase(msg.Text, tenant.Config.HandoffPhrases) {
		return o.enterHandoff(ctx, tenant, lead, conv, "lead requested human agent")
	}

	reply, err := o.runAutomatedTurn(ctx, tenant, lead, conv, msg, log)
	if err != nil {
		return err
	}
	return o.sendAndWait(ctx, tenant, lead, conv, reply)
}

// runAutomatedTurn classifies the message and executes the branch
// effects, returning the outbound reply text.
func (o *Orchestrator) runAutomatedTurn(ctx context.Context, tenant *models.Tenant, lead *models.Lead, conv *models.Conversation, msg *InboundMessage, log logger.Logger) (string, error) {
	history, err := o.stores.Conversations.ListMessages(ctx, tenant.ID, conv.ID, historyLimit)
	if err != nil {
		return "", err
	}

	result, err := o.classifyWithRetry(ctx, &external.ClassifyRequest{
		TenantID: tenant.ID,
		LeadID:   lead.ID,
		Text:     msg.Text,
		History:  history,
	})
	if err != nil {
		// Degraded turn: canned acknowledgement, flagged for human
		// follow-up. The turn is never silently dropped.
		log.Warn("classifier unavailable, degrading turn", map[string]interface{}{"error": err})
		conv.NeedsFollowup = true
		lead.NeedsFollowup = true
		if uerr := o.stores.Leads.UpdateLead(ctx, lead); uerr != nil {
			return "", uerr
		}
		return fallbackReply, nil
	}

	o.absorbClassification(ctx, lead, result, len(history))

	next, effects, err := Transition(conv.State, Event{Type: EventClassified, Intent: result.Intent})
	if err != nil {
		return "", err
	}
	o.obs.RecordTransition(ctx, string(conv.State), string(next))
	conv.State = next

	for _, effect := range effects {
		switch effect {
		case EffectSearch:
			return o.runSearch(ctx, tenant, lead)
		case EffectOfferSlots:
			return o.runOffer(ctx, tenant, lead)
		case EffectNotifyHandoff:
			conv.HandoffReason = "classified as human request"
			return handoffReply, nil
		case EffectRespond:
			return o.runRespond(ctx, tenant, lead, history)
		}
	}
	return o.runRespond(ctx, tenant, lead, history)
}

func (o *Orchestrator) classifyWithRetry(ctx context.Context, req *external.ClassifyRequest) (*external.ClassifyResult, error) {
	attempts := o.classifierCfg.MaxRetries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(classifierRetryDelay * time.Duration(i)):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, o.classifierCfg.Timeout)
		result, err := o.classifier.Classify(callCtx, req)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// absorbClassification folds extracted preferences and identity into
// the lead and refreshes its qualification score.
func (o *Orchestrator) absorbClassification(ctx context.Context, lead *models.Lead, result *external.ClassifyResult, messageCount int) {
	lead.Preferences = lead.Preferences.Merge(result.Preferences)
	if lead.Name == "" && result.LeadName != "" {
		lead.Name = result.LeadName
	}
	lead.LastContactAt = o.now().UTC()
	if lead.Status == models.LeadNew {
		lead.Status = models.LeadContacted
	}

	score, factors := matcher.ScoreLead(lead, matcher.LeadEngagement{
		ConversationCount: 1,
		MessageCount:      messageCount + 1,
	}, o.now().UTC())
	lead.Score = score
	lead.ScoreFactors = factors

	if err := o.stores.Leads.UpdateLead(ctx, lead); err != nil {
		o.logger.Error("lead update failed", map[string]interface{}{
			"leadId": lead.ID,
			"error":  err,
		})
	}
}

func (o *Orchestrator) runSearch(ctx context.Context, tenant *models.Tenant, lead *models.Lead) (string, error) {
	candidates, err := o.stores.Inventory.ListActiveProperties(ctx, tenant.ID)
	if err != nil {
		return "", err
	}

	scored := o.matcher.Match(lead, candidates, tenant.Config)

	// A lead that arrived through a portal link sees that listing first.
	if lead.SourceListingRef != "" {
		if p, err := o.stores.Inventory.GetPropertyBySourceID(ctx, tenant.ID, lead.SourceListingRef); err == nil {
			scored = promoteProperty(scored, p)
		}
	}

	now := o.now().UTC()
	if err := o.stores.Matches.ReplaceMatches(ctx, tenant.ID, lead.ID, matcher.ToMatches(lead, scored, now)); err != nil {
		return "", err
	}

	if len(scored) == 0 {
		return noMatchesReply, nil
	}

	for _, s := range scored {
		o.obs.RecordMatchScore(ctx, s.Score)
	}

	var b strings.Builder
	b.WriteString("Encontrei estas opções para você:\n")
	top := scored
	if len(top) > 3 {
		top = top[:3]
	}
	for i, s := range top {
		p := s.Property
		fmt.Fprintf(&b, "%d. *%s* - %s", i+1, p.Title, p.Neighborhood)
		if p.Price > 0 {
			fmt.Fprintf(&b, " - $%.0f", p.Price)
		}
		if p.SourceURL != "" {
			fmt.Fprintf(&b, "\n%s", p.SourceURL)
		}
		b.WriteString("\n")
	}
	b.WriteString("Quer agendar uma visita a algum deles?")
	return b.String(), nil
}

func (o *Orchestrator) runOffer(ctx context.Context, tenant *models.Tenant, lead *models.Lead) (string, error) {
	propertyID := o.bestMatchProperty(ctx, tenant.ID, lead.ID)

	appt, err := o.scheduler.OfferSlots(ctx, tenant, lead, propertyID)
	if err != nil {
		if commonerrors.CodeOf(err) == commonerrors.ErrCodeNoSlotsAvailable {
			return "No momento estou sem horários livres para visita. Um corretor vai entrar em contato para combinar! 😊", nil
		}
		return "", err
	}

	return fmt.Sprintf(slotOfferFormat,
		formatSlot(appt.OfferedSlots[0]),
		formatSlot(appt.OfferedSlots[1])), nil
}

func (o *Orchestrator) runRespond(ctx context.Context, tenant *models.Tenant, lead *models.Lead, history []*models.Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.classifierCfg.Timeout)
	defer cancel()

	text, err := o.classifier.Respond(callCtx, &external.RespondRequest{
		TenantID:   tenant.ID,
		LeadID:     lead.ID,
		TenantName: tenant.Name,
		History:    history,
	})
	if err != nil {
		o.logger.Warn("responder unavailable, degrading turn", map[string]interface{}{"error": err})
		return fallbackReply, nil
	}
	return text, nil
}

// handleOfferReply resolves "1"/"2"/sim/não replies against a pending
// slot offer. Returns handled=true when the message was consumed.
func (o *Orchestrator) handleOfferReply(ctx context.Context, tenant *models.Tenant, lead *models.Lead, conv *models.Conversation, text string) (bool, error) {
	appt, err := o.stores.Appointments.GetPendingOfferForLead(ctx, tenant.ID, lead.ID)
	if err != nil {
		if commonerrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if slot, ok := slotReply(text, appt.OfferedSlots); ok {
		if _, err := o.scheduler.Confirm(ctx, tenant, appt.ID, slot); err != nil {
			if commonerrors.IsStateConflict(err) {
				return true, o.sendAndWait(ctx, tenant, lead, conv,
					"Sua visita já está confirmada em outro horário. Para alterar, preciso cancelar a atual primeiro, é só me avisar!")
			}
			return true, err
		}
		lead.Status = models.LeadQualified
		if err := o.stores.Leads.UpdateLead(ctx, lead); err != nil {
			return true, err
		}
		return true, o.sendAndWait(ctx, tenant, lead, conv, confirmedReply)
	}

	if isCancelReply(text) {
		if err := o.scheduler.Cancel(ctx, tenant, appt.ID, "lead declined offer: "+text); err != nil {
			return true, err
		}
		return true, o.sendAndWait(ctx, tenant, lead, conv, cancelledReply)
	}

	return false, nil
}

// HandleReminderResponse applies a lead reply to a reminder for an
// already-confirmed appointment: sim keeps it, não cancels it.
func (o *Orchestrator) HandleReminderResponse(ctx context.Context, tenant *models.Tenant, lead *models.Lead, appt *models.Appointment, text string) (string, error) {
	if isConfirmReply(text) {
		return confirmedReply, nil
	}
	if isCancelReply(text) {
		if err := o.scheduler.Cancel(ctx, tenant, appt.ID, "lead response: "+text); err != nil {
			return "", err
		}
		return cancelledReply, nil
	}
	return "Por favor, responda com SIM para confirmar ou NÃO para cancelar a visita.", nil
}

func (o *Orchestrator) enterHandoff(ctx context.Context, tenant *models.Tenant, lead *models.Lead, conv *models.Conversation, reason string) error {
	next, _, err := Transition(conv.State, Event{Type: EventHandoffRequest})
	if err != nil {
		return err
	}
	o.obs.RecordTransition(ctx, string(conv.State), string(next))
	conv.State = next
	conv.HandoffReason = reason

	if err := o.sendReply(ctx, tenant, lead, conv, handoffReply); err != nil {
		return err
	}
	return o.stores.Conversations.UpdateConversation(ctx, conv)
}

// ResolveHandoff is the operator action that closes a handed-off
// conversation.
func (o *Orchestrator) ResolveHandoff(ctx context.Context, tenantID, conversationID string) error {
	conv, err := o.stores.Conversations.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return err
	}
	if err := registry.Guard(tenantID, conv.TenantID); err != nil {
		return err
	}

	next, _, err := Transition(conv.State, Event{Type: EventOperatorResolve})
	if err != nil {
		return err
	}
	conv.State = next
	conv.EndedAt = o.now().UTC()
	return o.stores.Conversations.UpdateConversation(ctx, conv)
}

// Takeover is the operator action that pulls a live conversation away
// from automation.
func (o *Orchestrator) Takeover(ctx context.Context, tenantID, conversationID, operator string) error {
	conv, err := o.stores.Conversations.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return err
	}
	if err := registry.Guard(tenantID, conv.TenantID); err != nil {
		return err
	}

	next, _, err := Transition(conv.State, Event{Type: EventOperatorTakeover})
	if err != nil {
		return err
	}
	o.obs.RecordTransition(ctx, string(conv.State), string(next))
	conv.State = next
	conv.HandoffReason = "operator takeover: " + operator
	return o.stores.Conversations.UpdateConversation(ctx, conv)
}

// SweepInactive moves idle Waiting conversations to Inactive using each
// tenant's configured timeout.
func (o *Orchestrator) SweepInactive(ctx context.Context) {
	now := o.now().UTC()
	// Lower bound: nothing younger than an hour can be inactive.
	candidates, err := o.stores.Conversations.ListIdleActiveConversations(ctx, now.Add(-time.Hour))
	if err != nil {
		o.logger.Error("inactivity sweep scan failed", map[string]interface{}{"error": err})
		return
	}

	for _, conv := range candidates {
		if conv.State != models.ConvWaiting {
			continue
		}
		tenant, err := o.stores.Tenants.GetTenant(ctx, conv.TenantID)
		if err != nil {
			continue
		}
		timeout := tenant.Config.InactivityTimeout
		if timeout <= 0 {
			timeout = 24 * time.Hour
		}
		if now.Sub(conv.LastActivityAt) < timeout {
			continue
		}

		next, _, err := Transition(conv.State, Event{Type: EventTimeout})
		if err != nil {
			continue
		}
		o.obs.RecordTransition(ctx, string(conv.State), string(next))
		conv.State = next
		conv.EndedAt = now
		if err := o.stores.Conversations.UpdateConversation(ctx, conv); err != nil {
			o.logger.Error("inactivity transition failed", map[string]interface{}{
				"conversationId": conv.ID,
				"error":          err,
			})
		}
	}
}

// ---- helpers ----

func (o *Orchestrator) getOrCreateLead(ctx context.Context, tenant *models.Tenant, msg *InboundMessage) (*models.Lead, bool, error) {
	lead, err := o.stores.Leads.GetLeadByContact(ctx, tenant.ID, msg.Contact)
	if err == nil {
		return lead, false, nil
	}
	if !commonerrors.IsNotFound(err) {
		return nil, false, err
	}

	lead = &models.Lead{
		ID:            uuid.New().String(),
		TenantID:      tenant.ID,
		Phone:         msg.Contact,
		Status:        models.LeadNew,
		LastContactAt: o.now().UTC(),
	}
	if links := ExtractPortalLinks(msg.Text); len(links) > 0 {
		lead.Source = links[0].Portal
		lead.SourceListingRef = ExtractListingRef(links[0].URL)
	}
	if err := o.stores.Leads.CreateLead(ctx, lead); err != nil {
		return nil, false, err
	}
	return lead, true, nil
}

// openConversation runs the activation predicate for a lead without an
// active conversation. Returns nil when the message was ignored.
func (o *Orchestrator) openConversation(ctx context.Context, tenant *models.Tenant, lead *models.Lead, msg *InboundMessage, newLead bool, log logger.Logger) (*models.Conversation, error) {
	lastActivity := time.Time{}
	if !newLead {
		lastActivity = lead.LastContactAt
	}
	decision := decideActivation(tenant.Config, msg.Text, lastActivity, o.now().UTC())

	conv := &models.Conversation{
		ID:             uuid.New().String(),
		TenantID:       tenant.ID,
		LeadID:         lead.ID,
		State:          models.ConvNew,
		StartedAt:      o.now().UTC(),
		LastActivityAt: o.now().UTC(),
	}

	evType := EventActivated
	if !decision.Activate {
		evType = EventRejected
	}
	next, _, err := Transition(conv.State, Event{Type: evType, Reason: decision.Reason})
	if err != nil {
		return nil, err
	}
	o.obs.RecordTransition(ctx, string(models.ConvNew), string(next))
	conv.State = next

	if !decision.Activate {
		// Terminal audit record, nothing further retained.
		conv.IgnoredReason = decision.Reason
		conv.EndedAt = o.now().UTC()
		log.Info("conversation ignored", map[string]interface{}{
			"leadId": lead.ID,
			"reason": decision.Reason,
		})
		if err := o.stores.Conversations.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := o.stores.Conversations.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (o *Orchestrator) appendLeadMessage(ctx context.Context, conv *models.Conversation, msg *InboundMessage) error {
	return o.stores.Conversations.AppendMessage(ctx, &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         models.SenderLead,
		Text:           msg.Text,
		MediaURL:       msg.MediaURL,
		CreatedAt:      msg.Timestamp,
	})
}

// sendAndWait sends a reply and settles the conversation into Waiting.
func (o *Orchestrator) sendAndWait(ctx context.Context, tenant *models.Tenant, lead *models.Lead, conv *models.Conversation, reply string) error {
	if err := o.sendReply(ctx, tenant, lead, conv, reply); err != nil {
		return err
	}

	next, _, err := Transition(conv.State, Event{Type: EventResponseSent})
	if err != nil {
		return err
	}
	if next != conv.State {
		o.obs.RecordTransition(ctx, string(conv.State), string(next))
		conv.State = next
	}
	conv.LastActivityAt = o.now().UTC()
	return o.stores.Conversations.UpdateConversation(ctx, conv)
}

func (o *Orchestrator) sendReply(ctx context.Context, tenant *models.Tenant, lead *models.Lead, conv *models.Conversation, reply string) error {
	if err := o.sender.Send(ctx, tenant, lead.Phone, reply); err != nil {
		return err
	}
	return o.stores.Conversations.AppendMessage(ctx, &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         models.SenderBot,
		Text:           reply,
		CreatedAt:      o.now().UTC(),
	})
}

func (o *Orchestrator) bestMatchProperty(ctx context.Context, tenantID, leadID string) string {
	matches, err := o.stores.Matches.ListMatches(ctx, tenantID, leadID)
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0].PropertyID
}

// promoteProperty moves the lead's origin listing to the front, adding
// it when the matcher excluded it.
func promoteProperty(scored []matcher.Scored, p *models.Property) []matcher.Scored {
	for i, s := range scored {
		if s.Property.ID == p.ID {
			promoted := append([]matcher.Scored{s}, scored[:i]...)
			return append(promoted, scored[i+1:]...)
		}
	}
	return append([]matcher.Scored{{Property: p, Score: 1}}, scored...)
}

func formatSlot(s models.TimeSlot) string {
	return s.Start.Format("02/01 às 15:04")
}
