// internal/store/postgres_test.go
package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/common/logger"
	"corretor-hub/internal/models"
)

// ==========================
// Helpers
// ==========================

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, logger.NewTestLogger(t)), mock
}

var (
	testSlot = models.TimeSlot{
		Start: time.Date(2026, 8, 27, 14, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 27, 15, 0, 0, 0, time.UTC),
	}
	testReminders = []*models.ReminderJob{
		{TenantID: "tenant-a", AppointmentID: "appt-1", Kind: models.ReminderH24, FireAt: testSlot.Start.Add(-24 * time.Hour)},
		{TenantID: "tenant-a", AppointmentID: "appt-1", Kind: models.ReminderH3, FireAt: testSlot.Start.Add(-3 * time.Hour)},
	}
)

// ==========================
// Confirm transaction
// ==========================

func TestConfirm_OfferedBecomesConfirmedWithReminders(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, slot_start, slot_end FROM appointments`).
		WithArgs("tenant-a", "appt-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "slot_start", "slot_end"}).
			AddRow("offered", nil, nil))
	mock.ExpectExec(`UPDATE appointments SET status`).
		WithArgs("tenant-a", "appt-1", "confirmed", testSlot.Start, testSlot.End, "evt-42", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO reminder_jobs`).
		WithArgs("tenant-a", "appt-1", "h24", testReminders[0].FireAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO reminder_jobs`).
		WithArgs("tenant-a", "appt-1", "h3", testReminders[1].FireAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Confirm(context.Background(), "tenant-a", "appt-1", testSlot, "evt-42", testReminders)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_SameSlotReconfirmIsNoop(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, slot_start, slot_end FROM appointments`).
		WithArgs("tenant-a", "appt-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "slot_start", "slot_end"}).
			AddRow("confirmed", testSlot.Start, testSlot.End))
	mock.ExpectCommit()

	err := s.Confirm(context.Background(), "tenant-a", "appt-1", testSlot, "evt-42", testReminders)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_DifferentSlotIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, slot_start, slot_end FROM appointments`).
		WithArgs("tenant-a", "appt-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "slot_start", "slot_end"}).
			AddRow("confirmed", testSlot.Start.Add(time.Hour), testSlot.End.Add(time.Hour)))
	mock.ExpectRollback()

	err := s.Confirm(context.Background(), "tenant-a", "appt-1", testSlot, "evt-42", testReminders)

	assert.Equal(t, commonerrors.ErrCodeStateConflict, commonerrors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_CancelledAppointmentIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, slot_start, slot_end FROM appointments`).
		WithArgs("tenant-a", "appt-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "slot_start", "slot_end"}).
			AddRow("cancelled", nil, nil))
	mock.ExpectRollback()

	err := s.Confirm(context.Background(), "tenant-a", "appt-1", testSlot, "evt-42", testReminders)

	assert.Equal(t, commonerrors.ErrCodeStateConflict, commonerrors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_MissingAppointmentIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, slot_start, slot_end FROM appointments`).
		WithArgs("tenant-a", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"status", "slot_start", "slot_end"}))
	mock.ExpectRollback()

	err := s.Confirm(context.Background(), "tenant-a", "nope", testSlot, "evt-42", testReminders)

	assert.Equal(t, commonerrors.ErrCodeNotFound, commonerrors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Deliver transaction
// ==========================

func TestDeliver_SendsThenMarksDelivered(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT delivered FROM reminder_jobs`).
		WithArgs("tenant-a", "appt-1", "h3").
		WillReturnRows(sqlmock.NewRows([]string{"delivered"}).AddRow(false))
	mock.ExpectExec(`UPDATE reminder_jobs SET delivered = TRUE`).
		WithArgs("tenant-a", "appt-1", "h3", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sent := 0
	err := s.Deliver(context.Background(), "tenant-a", "appt-1", models.ReminderH3,
		func(ctx context.Context) error { sent++; return nil })

	assert.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliver_AlreadyDeliveredSkipsSend(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT delivered FROM reminder_jobs`).
		WithArgs("tenant-a", "appt-1", "h3").
		WillReturnRows(sqlmock.NewRows([]string{"delivered"}).AddRow(true))
	mock.ExpectCommit()

	sent := 0
	err := s.Deliver(context.Background(), "tenant-a", "appt-1", models.ReminderH3,
		func(ctx context.Context) error { sent++; return nil })

	assert.NoError(t, err)
	assert.Zero(t, sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliver_SendFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT delivered FROM reminder_jobs`).
		WithArgs("tenant-a", "appt-1", "h24").
		WillReturnRows(sqlmock.NewRows([]string{"delivered"}).AddRow(false))
	mock.ExpectRollback()

	sendErr := errors.New("sms gateway down")
	err := s.Deliver(context.Background(), "tenant-a", "appt-1", models.ReminderH24,
		func(ctx context.Context) error { return sendErr })

	assert.ErrorIs(t, err, sendErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliver_MissingJobIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT delivered FROM reminder_jobs`).
		WithArgs("tenant-a", "appt-9", "h3").
		WillReturnRows(sqlmock.NewRows([]string{"delivered"}))
	mock.ExpectRollback()

	err := s.Deliver(context.Background(), "tenant-a", "appt-9", models.ReminderH3,
		func(ctx context.Context) error { return nil })

	assert.Equal(t, commonerrors.ErrCodeNotFound, commonerrors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Status updates
// ==========================

func TestCancel_OnlyLiveStatusesCancellable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE appointments SET status`).
		WithArgs("tenant-a", "appt-1", "cancelled", "lead declined", sqlmock.AnyArg(), "offered", "confirmed").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Cancel(context.Background(), "tenant-a", "appt-1", "lead declined")

	assert.Equal(t, commonerrors.ErrCodeStateConflict, commonerrors.CodeOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplete_RequiresConfirmed(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE appointments SET status`).
		WithArgs("tenant-a", "appt-1", "completed", sqlmock.AnyArg(), "confirmed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Complete(context.Background(), "tenant-a", "appt-1")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Due-job scan
// ==========================

func TestDueJobs_ReturnsTenantTaggedRows(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT tenant_id, appointment_id, kind, fire_at, delivered, delivered_at`).
		WithArgs(now, 50).
		WillReturnRows(sqlmock.NewRows(
			[]string{"tenant_id", "appointment_id", "kind", "fire_at", "delivered", "delivered_at"}).
			AddRow("tenant-a", "appt-1", "h24", now.Add(-time.Minute), false, nil).
			AddRow("tenant-b", "appt-7", "h3", now, false, nil))

	jobs, err := s.DueJobs(context.Background(), now, 50)

	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "tenant-a", jobs[0].TenantID)
	assert.Equal(t, models.ReminderH24, jobs[0].Kind)
	assert.Equal(t, "tenant-b", jobs[1].TenantID)
	assert.False(t, jobs[1].Delivered)
	assert.NoError(t, mock.ExpectationsWereMet())
}
