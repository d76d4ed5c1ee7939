// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"corretor-hub/internal/common/config"
	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/common/logger"
	"corretor-hub/internal/external"
	"corretor-hub/internal/models"
	"corretor-hub/internal/store"
)

const slotDuration = time.Hour

// Scheduler negotiates visit slots with the calendar provider and owns
// the appointment lifecycle.
type Scheduler struct {
	cfg          config.CalendarConfig
	calendar     external.CalendarProvider
	appointments store.AppointmentStore
	logger       logger.Logger
	now          func() time.Time
}

func New(cfg config.CalendarConfig, calendar external.CalendarProvider, appointments store.AppointmentStore, log logger.Logger) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		calendar:     calendar,
		appointments: appointments,
		logger:       log.WithFields(map[string]interface{}{"component": "scheduler"}),
		now:          time.Now,
	}
}

// OfferSlots creates an Offered appointment carrying exactly two
// candidate slots: free on the tenant's calendar, inside business hours
// and starting at least the configured lead time in the future.
func (s *Scheduler) OfferSlots(ctx context.Context, tenant *models.Tenant, lead *models.Lead, propertyID string) (*models.Appointment, error) {
	now := s.now().UTC()
	windowEnd := now.AddDate(0, 0, s.cfg.OfferWindowDays)

	busy, err := s.calendar.FreeBusy(ctx, tenant, now, windowEnd)
	if err != nil {
		return nil, err
	}

	slots := candidateSlots(now, windowEnd, tenant.Config, busy, 2)
	if len(slots) < 2 {
		return nil, commonerrors.NewNoSlotsAvailableError(tenant.ID)
	}

	appt := &models.Appointment{
		ID:           uuid.New().String(),
		TenantID:     tenant.ID,
		LeadID:       lead.ID,
		PropertyID:   propertyID,
		OfferedSlots: slots,
		Status:       models.AppointmentOffered,
		CreatedAt:    now,
	}
	if err := s.appointments.CreateAppointment(ctx, appt); err != nil {
		return nil, err
	}

	s.logger.Info("slots offered", map[string]interface{}{
		"tenantId":      tenant.ID,
		"leadId":        lead.ID,
		"appointmentId": appt.ID,
	})
	return appt, nil
}

// Confirm books the chosen slot. The calendar event is created first;
// the store transition then persists the confirmation and the reminder
// jobs atomically. Re-confirming the same slot is a no-op; a different
// slot after confirmation is a state conflict.
func (s *Scheduler) Confirm(ctx context.Context, tenant *models.Tenant, appointmentID string, chosen models.TimeSlot) (*models.Appointment, error) {
	appt, err := s.appointments.GetAppointment(ctx, tenant.ID, appointmentID)
	if err != nil {
		return nil, err
	}

	if appt.Status == models.AppointmentConfirmed && appt.Slot.Equal(chosen) {
		return appt, nil
	}

	if appt.Status == models.AppointmentOffered && !offered(appt, chosen) {
		return nil, commonerrors.NewValidationError(
			fmt.Sprintf("slot %s was not offered for appointment %s",
				chosen.Start.Format(time.RFC3339), appointmentID))
	}

	eventRef, err := s.calendar.CreateEvent(ctx, tenant, chosen, "Visita - "+tenant.Name)
	if err != nil {
		return nil, err
	}

	reminders := s.reminderJobs(tenant.ID, appointmentID, chosen)
	if err := s.appointments.Confirm(ctx, tenant.ID, appointmentID, chosen, eventRef, reminders); err != nil {
		// The booking stays Offered; release the calendar hold.
		if cancelErr := s.calendar.CancelEvent(ctx, tenant, eventRef); cancelErr != nil {
			s.logger.Warn("orphaned calendar event", map[string]interface{}{
				"eventRef": eventRef,
				"error":    cancelErr,
			})
		}
		return nil, err
	}

	s.logger.Info("appointment confirmed", map[string]interface{}{
		"tenantId":      tenant.ID,
		"appointmentId": appointmentID,
		"slotStart":     chosen.Start,
		"reminders":     len(reminders),
	})
	return s.appointments.GetAppointment(ctx, tenant.ID, appointmentID)
}

// Cancel cancels an offered or confirmed appointment and its calendar
// event. Pending reminders are left for the dispatcher to drop lazily.
func (s *Scheduler) Cancel(ctx context.Context, tenant *models.Tenant, appointmentID, reason string) error {
	appt, err := s.appointments.GetAppointment(ctx, tenant.ID, appointmentID)
	if err != nil {
		return err
	}

	if err := s.appointments.Cancel(ctx, tenant.ID, appointmentID, reason); err != nil {
		return err
	}

	if appt.CalendarEventRef != "" {
		if err := s.calendar.CancelEvent(ctx, tenant, appt.CalendarEventRef); err != nil {
			s.logger.Warn("calendar cancel failed", map[string]interface{}{
				"appointmentId": appointmentID,
				"eventRef":      appt.CalendarEventRef,
				"error":         err,
			})
		}
	}
	return nil
}

// reminderJobs computes the H24/H3 jobs for a slot. A job whose fire
// time is already in the past is skipped, not fired late.
func (s *Scheduler) reminderJobs(tenantID, appointmentID string, slot models.TimeSlot) []*models.ReminderJob {
	now := s.now().UTC()
	var jobs []*models.ReminderJob
	for _, kind := range []models.ReminderKind{models.ReminderH24, models.ReminderH3} {
		fireAt := slot.Start.Add(-kind.Offset())
		if fireAt.Before(now) {
			continue
		}
		jobs = append(jobs, &models.ReminderJob{
			TenantID:      tenantID,
			AppointmentID: appointmentID,
			Kind:          kind,
			FireAt:        fireAt,
		})
	}
	return jobs
}

func offered(appt *models.Appointment, slot models.TimeSlot) bool {
	for _, s := range appt.OfferedSlots {
		if s.Equal(slot) {
			return true
		}
	}
	return false
}

// candidateSlots walks hour-aligned slots forward from the earliest
// allowed start, keeping those inside business hours and off the busy
// list, until want slots are found or the window ends.
func candidateSlots(now, windowEnd time.Time, cfg models.TenantConfig, busy []models.TimeSlot, want int) []models.TimeSlot {
	earliest := now.Add(cfg.MinSlotLeadTime).Truncate(time.Hour).Add(time.Hour)

	var out []models.TimeSlot
	for start := earliest; start.Before(windowEnd) && len(out) < want; start = start.Add(time.Hour) {
		slot := models.TimeSlot{Start: start, End: start.Add(slotDuration)}
		if !cfg.BusinessHours.Contains(start) || !withinEnd(cfg.BusinessHours, slot.End) {
			continue
		}
		if overlapsAny(slot, busy) {
			continue
		}
		out = append(out, slot)
	}
	return out
}

// withinEnd accepts a slot ending exactly at closing time.
func withinEnd(b models.BusinessHours, end time.Time) bool {
	h := end.Hour()
	if h == b.EndHour && end.Minute() == 0 {
		return true
	}
	return h > b.StartHour && h <= b.EndHour
}

func overlapsAny(slot models.TimeSlot, busy []models.TimeSlot) bool {
	for _, b := range busy {
		if slot.Start.Before(b.End) && b.Start.Before(slot.End) {
			return true
		}
	}
	return false
}
