// internal/store/postgres_appointment.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/models"
)

const appointmentColumns = `id, tenant_id, lead_id, property_id, offered_slots, slot_start, slot_end, status, calendar_event_ref, cancel_reason, created_at, confirmed_at, cancelled_at, completed_at`

func (s *PostgresStore) GetAppointment(ctx context.Context, tenantID, appointmentID string) (*models.Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE tenant_id = $1 AND id = $2`,
		tenantID, appointmentID)
	return scanAppointment(row, appointmentID)
}

func (s *PostgresStore) GetPendingOfferForLead(ctx context.Context, tenantID, leadID string) (*models.Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments
		 WHERE tenant_id = $1 AND lead_id = $2 AND status = $3
		 ORDER BY created_at DESC LIMIT 1`,
		tenantID, leadID, string(models.AppointmentOffered))
	return scanAppointment(row, leadID)
}

func (s *PostgresStore) CreateAppointment(ctx context.Context, appt *models.Appointment) error {
	slots, err := marshalJSON(appt.OfferedSlots)
	if err != nil {
		return commonerrors.NewValidationError("encode offered slots: " + err.Error())
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO appointments (id, tenant_id, lead_id, property_id, offered_slots, slot_start, slot_end, status, calendar_event_ref, cancel_reason, created_at, confirmed_at, cancelled_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		appt.ID, appt.TenantID, appt.LeadID, appt.PropertyID, slots,
		nullTime(appt.Slot.Start), nullTime(appt.Slot.End), string(appt.Status),
		appt.CalendarEventRef, appt.CancelReason, appt.CreatedAt,
		nullTime(appt.ConfirmedAt), nullTime(appt.CancelledAt), nullTime(appt.CompletedAt))
	if err != nil {
		return commonerrors.NewDatabaseError("create appointment", err)
	}
	return nil
}

// Confirm moves an offered appointment to confirmed and enqueues its
// reminder jobs in the same transaction, so a confirmed visit can never
// exist without its reminders.
func (s *PostgresStore) Confirm(ctx context.Context, tenantID, appointmentID string, slot models.TimeSlot, eventRef string, reminders []*models.ReminderJob) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT status, slot_start, slot_end FROM appointments
			WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
			tenantID, appointmentID)

		var status string
		var slotStart, slotEnd sql.NullTime
		if err := row.Scan(&status, &slotStart, &slotEnd); err != nil {
			if err == sql.ErrNoRows {
				return commonerrors.NewNotFoundError("appointment", appointmentID)
			}
			return commonerrors.NewDatabaseError("lock appointment", err)
		}

		switch models.AppointmentStatus(status) {
		case models.AppointmentConfirmed:
			existing := models.TimeSlot{Start: slotStart.Time, End: slotEnd.Time}
			if existing.Equal(slot) {
				return nil // idempotent re-confirm
			}
			return commonerrors.NewStateConflictError(
				fmt.Sprintf("appointment %s already confirmed for a different slot", appointmentID))
		case models.AppointmentOffered:
			// proceed
		default:
			return commonerrors.NewStateConflictError(
				fmt.Sprintf("appointment %s is %s, not offered", appointmentID, status))
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE appointments SET status = $3, slot_start = $4, slot_end = $5,
				calendar_event_ref = $6, confirmed_at = $7
			WHERE tenant_id = $1 AND id = $2`,
			tenantID, appointmentID, string(models.AppointmentConfirmed),
			slot.Start, slot.End, eventRef, now); err != nil {
			return commonerrors.NewDatabaseError("confirm appointment", err)
		}

		for _, r := range reminders {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO reminder_jobs (tenant_id, appointment_id, kind, fire_at, delivered)
				VALUES ($1, $2, $3, $4, FALSE)
				ON CONFLICT (appointment_id, kind) DO NOTHING`,
				tenantID, appointmentID, string(r.Kind), r.FireAt); err != nil {
				return commonerrors.NewDatabaseError("enqueue reminder", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Cancel(ctx context.Context, tenantID, appointmentID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE appointments SET status = $3, cancel_reason = $4, cancelled_at = $5
		WHERE tenant_id = $1 AND id = $2 AND status IN ($6, $7)`,
		tenantID, appointmentID, string(models.AppointmentCancelled), reason,
		time.Now().UTC(), string(models.AppointmentOffered), string(models.AppointmentConfirmed))
	if err != nil {
		return commonerrors.NewDatabaseError("cancel appointment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commonerrors.NewStateConflictError(
			fmt.Sprintf("appointment %s cannot be cancelled", appointmentID))
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, tenantID, appointmentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE appointments SET status = $3, completed_at = $4
		WHERE tenant_id = $1 AND id = $2 AND status = $5`,
		tenantID, appointmentID, string(models.AppointmentCompleted),
		time.Now().UTC(), string(models.AppointmentConfirmed))
	if err != nil {
		return commonerrors.NewDatabaseError("complete appointment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commonerrors.NewStateConflictError(
			fmt.Sprintf("appointment %s is not confirmed", appointmentID))
	}
	return nil
}

func (s *PostgresStore) DueJobs(ctx context.Context, now time.Time, limit int) ([]*models.ReminderJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, appointment_id, kind, fire_at, delivered, delivered_at
		FROM reminder_jobs
		WHERE delivered = FALSE AND fire_at <= $1
		ORDER BY fire_at LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, commonerrors.NewDatabaseError("scan due reminders", err)
	}
	defer rows.Close()

	var out []*models.ReminderJob
	for rows.Next() {
		var j models.ReminderJob
		var kind string
		var deliveredAt sql.NullTime
		if err := rows.Scan(&j.TenantID, &j.AppointmentID, &kind, &j.FireAt,
			&j.Delivered, &deliveredAt); err != nil {
			return nil, commonerrors.NewDatabaseError("scan reminder", err)
		}
		j.Kind = models.ReminderKind(kind)
		if deliveredAt.Valid {
			j.DeliveredAt = deliveredAt.Time
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

// Deliver runs send under the delivery transaction. The delivered-flag
// check is the first statement: a concurrent or prior delivery makes this
// call a no-op. The flag update commits together with whatever state the
// send observed, so a crash before commit leaves the job re-deliverable.
func (s *PostgresStore) Deliver(ctx context.Context, tenantID, appointmentID string, kind models.ReminderKind, send func(ctx context.Context) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var delivered bool
		err := tx.QueryRowContext(ctx, `
			SELECT delivered FROM reminder_jobs
			WHERE tenant_id = $1 AND appointment_id = $2 AND kind = $3
			FOR UPDATE`,
			tenantID, appointmentID, string(kind)).Scan(&delivered)
		if err != nil {
			if err == sql.ErrNoRows {
				return commonerrors.NewNotFoundError("reminder job", appointmentID)
			}
			return commonerrors.NewDatabaseError("lock reminder", err)
		}
		if delivered {
			return nil
		}

		if err := send(ctx); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE reminder_jobs SET delivered = TRUE, delivered_at = $4
			WHERE tenant_id = $1 AND appointment_id = $2 AND kind = $3`,
			tenantID, appointmentID, string(kind), time.Now().UTC()); err != nil {
			return commonerrors.NewDatabaseError("mark delivered", err)
		}
		return nil
	})
}

func (s *PostgresStore) Skip(ctx context.Context, tenantID, appointmentID string, kind models.ReminderKind) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reminder_jobs SET delivered = TRUE, delivered_at = $4
		WHERE tenant_id = $1 AND appointment_id = $2 AND kind = $3`,
		tenantID, appointmentID, string(kind), time.Now().UTC())
	if err != nil {
		return commonerrors.NewDatabaseError("skip reminder", err)
	}
	return nil
}

func scanAppointment(row rowScanner, id string) (*models.Appointment, error) {
	var a models.Appointment
	var status string
	var slots []byte
	var slotStart, slotEnd, confirmedAt, cancelledAt, completedAt sql.NullTime
	err := row.Scan(&a.ID, &a.TenantID, &a.LeadID, &a.PropertyID, &slots,
		&slotStart, &slotEnd, &status, &a.CalendarEventRef, &a.CancelReason,
		&a.CreatedAt, &confirmedAt, &cancelledAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, commonerrors.NewNotFoundError("appointment", id)
	}
	if err != nil {
		return nil, commonerrors.NewDatabaseError("scan appointment", err)
	}
	a.Status = models.AppointmentStatus(status)
	if err := unmarshalJSON(slots, &a.OfferedSlots); err != nil {
		return nil, commonerrors.NewDatabaseError("decode offered slots", err)
	}
	if slotStart.Valid {
		a.Slot = models.TimeSlot{Start: slotStart.Time, End: slotEnd.Time}
	}
	if confirmedAt.Valid {
		a.ConfirmedAt = confirmedAt.Time
	}
	if cancelledAt.Valid {
		a.CancelledAt = cancelledAt.Time
	}
	if completedAt.Valid {
		a.CompletedAt = completedAt.Time
	}
	return &a, nil
}
