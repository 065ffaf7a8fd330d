package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

func newAppointment() *models.Appointment {
	start := time.Date(2030, 6, 10, 9, 20, 0, 0, time.UTC)
	return &models.Appointment{
		TeacherID:  "t1",
		StudentID:  "s1",
		StartTime:  start,
		EndTime:    start.Add(20 * time.Minute),
		ParentName: "Pak Budi",
	}
}

func TestAppointmentCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	mock.ExpectExec("INSERT INTO appointments").WillReturnResult(sqlmock.NewResult(1, 1))

	appt := newAppointment()
	require.NoError(t, repo.Create(context.Background(), appt))
	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, models.AppointmentBooked, appt.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentCreateConflicts(t *testing.T) {
	for name, code := range map[string]pq.ErrorCode{
		"unique index":         "23505",
		"exclusion constraint": "23P01",
	} {
		t.Run(name, func(t *testing.T) {
			db, mock, cleanup := newMock(t)
			defer cleanup()
			repo := NewAppointmentRepository(db)

			mock.ExpectExec("INSERT INTO appointments").WillReturnError(&pq.Error{Code: code})

			err := repo.Create(context.Background(), newAppointment())
			require.Error(t, err)
			assert.ErrorIs(t, err, appErrors.ErrSlotAlreadyBooked)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAppointmentCreateOtherErrorIsNotConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	mock.ExpectExec("INSERT INTO appointments").WillReturnError(&pq.Error{Code: "23503"})

	err := repo.Create(context.Background(), newAppointment())
	require.Error(t, err)
	assert.NotErrorIs(t, err, appErrors.ErrSlotAlreadyBooked)
	assert.True(t, IsForeignKeyViolation(err))
}

func TestAppointmentCancelIsConditional(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	query := regexp.QuoteMeta("UPDATE appointments SET status = $2, cancellation_reason = $3, cancelled_by = $4, cancelled_at = $5, updated_at = $5 WHERE id = $1 AND status = $6")
	mock.ExpectExec(query).
		WithArgs("a1", models.AppointmentCancelled, sqlmock.AnyArg(), models.CallerParent, sqlmock.AnyArg(), models.AppointmentBooked).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).
		WithArgs("a1", models.AppointmentCancelled, sqlmock.AnyArg(), models.CallerParent, sqlmock.AnyArg(), models.AppointmentBooked).
		WillReturnResult(sqlmock.NewResult(0, 0))

	reason := "sick"
	changed, err := repo.Cancel(context.Background(), "a1", &reason, models.CallerParent, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.Cancel(context.Background(), "a1", &reason, models.CallerParent, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentListBooked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAppointmentRepository(db)

	now := time.Now()
	start := time.Date(2030, 6, 10, 9, 20, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "teacher_id", "student_id", "window_id", "start_time", "end_time", "parent_name", "parent_email", "parent_phone", "notes", "status", "cancellation_reason", "cancelled_by", "cancelled_at", "created_at", "updated_at"}).
		AddRow("a1", "t1", "s1", "w1", start, start.Add(20*time.Minute), "Pak Budi", "", "", "", "booked", nil, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE a.teacher_id = $1 AND a.status = $2 AND a.start_time < $4 AND a.end_time > $3")).
		WithArgs("t1", models.AppointmentBooked, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	appts, err := repo.ListBooked(context.Background(), "t1", start.Add(-time.Hour), start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, models.AppointmentBooked, appts[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
