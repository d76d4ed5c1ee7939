// internal/reminder/dispatcher.go
package reminder

import (
	"context"
	"time"

	"corretor-hub/internal/common/config"
	"corretor-hub/internal/common/logger"
	"corretor-hub/internal/common/observability"
	"corretor-hub/internal/external"
	"corretor-hub/internal/models"
	"corretor-hub/internal/store"
)

const dueBatchSize = 100

// Dispatcher is the time-triggered reminder pipeline. It polls due
// ReminderJobs and delivers each at most once, independently of
// conversation traffic.
type Dispatcher struct {
	cfg    config.ReminderConfig
	stores *store.Stores
	sender external.NotificationSender
	obs    *observability.Observability
	logger logger.Logger
	now    func() time.Time
}

func NewDispatcher(cfg config.ReminderConfig, stores *store.Stores, sender external.NotificationSender, obs *observability.Observability, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		stores: stores,
		sender: sender,
		obs:    obs,
		logger: log.WithFields(map[string]interface{}{"component": "reminder"}),
		now:    time.Now,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("reminder dispatcher started", map[string]interface{}{
		"pollInterval": d.cfg.PollInterval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("reminder dispatcher stopped", nil)
			return
		case <-ticker.C:
			d.DispatchDue(ctx)
		}
	}
}

// DispatchDue processes one batch of due jobs. Exported so tests and
// the sweep loop can drive it without the ticker.
func (d *Dispatcher) DispatchDue(ctx context.Context) {
	jobs, err := d.stores.Reminders.DueJobs(ctx, d.now().UTC(), dueBatchSize)
	if err != nil {
		d.logger.Error("due job scan failed", map[string]interface{}{"error": err})
		return
	}

	for _, job := range jobs {
		if err := d.dispatch(ctx, job); err != nil {
			d.logger.Error("reminder dispatch failed", map[string]interface{}{
				"tenantId":      job.TenantID,
				"appointmentId": job.AppointmentID,
				"kind":          job.Kind,
				"error":         err,
			})
			d.obs.RecordReminderDispatched(ctx, string(job.Kind), "error")
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, job *models.ReminderJob) error {
	appt, err := d.stores.Appointments.GetAppointment(ctx, job.TenantID, job.AppointmentID)
	if err != nil {
		return err
	}

	// Lazy cancellation: a job for an appointment that is no longer
	// confirmed is dropped at dispatch time.
	if appt.Status != models.AppointmentConfirmed {
		d.obs.RecordReminderDispatched(ctx, string(job.Kind), "dropped")
		return d.stores.Reminders.Skip(ctx, job.TenantID, job.AppointmentID, job.Kind)
	}

	// A visit that already started gets no late reminder.
	if appt.Slot.Start.Before(d.now().UTC()) {
		d.obs.RecordReminderDispatched(ctx, string(job.Kind), "expired")
		return d.stores.Reminders.Skip(ctx, job.TenantID, job.AppointmentID, job.Kind)
	}

	tenant, err := d.stores.Tenants.GetTenant(ctx, job.TenantID)
	if err != nil {
		return err
	}
	lead, err := d.stores.Leads.GetLead(ctx, job.TenantID, appt.LeadID)
	if err != nil {
		return err
	}

	var prop *models.Property
	if appt.PropertyID != "" {
		prop, err = d.stores.Inventory.GetProperty(ctx, job.TenantID, appt.PropertyID)
		if err != nil {
			d.logger.Warn("reminder property lookup failed", map[string]interface{}{
				"propertyId": appt.PropertyID,
				"error":      err,
			})
		}
	}

	message, err := RenderReminder(job.Kind, lead, prop, appt.Slot)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	err = d.stores.Reminders.Deliver(sendCtx, job.TenantID, job.AppointmentID, job.Kind, func(ctx context.Context) error {
		return d.sender.Send(ctx, tenant, lead.Phone, message)
	})
	if err != nil {
		return err
	}

	d.obs.RecordReminderDispatched(ctx, string(job.Kind), "sent")
	d.logger.Info("reminder delivered", map[string]interface{}{
		"tenantId":      job.TenantID,
		"appointmentId": job.AppointmentID,
		"kind":          job.Kind,
	})
	return nil
}
