package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

const appointmentColumns = `a.id, a.teacher_id, a.student_id, a.window_id, a.start_time, a.end_time, a.parent_name, a.parent_email, a.parent_phone, a.notes, a.status, a.cancellation_reason, a.cancelled_by, a.cancelled_at, a.created_at, a.updated_at`

const appointmentDetailFrom = `FROM appointments a JOIN users u ON u.id = a.teacher_id JOIN students s ON s.id = a.student_id`

// AppointmentRepository is the booking ledger. Double booking is prevented by
// the partial unique index and the overlap exclusion constraint on appointments.
type AppointmentRepository struct {
	db *sqlx.DB
}

// NewAppointmentRepository constructs an AppointmentRepository.
func NewAppointmentRepository(db *sqlx.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

// Create inserts a booked appointment. A concurrent claim of the same or an
// overlapping slot surfaces as ErrSlotAlreadyBooked.
func (r *AppointmentRepository) Create(ctx context.Context, appt *models.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	if appt.Status == "" {
		appt.Status = models.AppointmentBooked
	}

	const query = `INSERT INTO appointments (id, teacher_id, student_id, window_id, start_time, end_time, parent_name, parent_email, parent_phone, notes, status, created_at, updated_at) VALUES (:id, :teacher_id, :student_id, :window_id, :start_time, :end_time, :parent_name, :parent_email, :parent_phone, :notes, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, appt); err != nil {
		if isBookingConflict(err) {
			return appErrors.Wrap(err, appErrors.ErrSlotAlreadyBooked.Code, appErrors.ErrSlotAlreadyBooked.Status, appErrors.ErrSlotAlreadyBooked.Message)
		}
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

// FindByID returns an appointment with teacher and student names.
func (r *AppointmentRepository) FindByID(ctx context.Context, id string) (*models.AppointmentDetail, error) {
	query := fmt.Sprintf("SELECT %s, u.full_name AS teacher_name, u.email AS teacher_email, s.full_name AS student_name %s WHERE a.id = $1", appointmentColumns, appointmentDetailFrom)
	var appt models.AppointmentDetail
	if err := r.db.GetContext(ctx, &appt, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find appointment: %w", err)
	}
	return &appt, nil
}

// Cancel flips a booked appointment to cancelled. It reports false when the
// row was not in the booked state, so concurrent cancels change state once.
func (r *AppointmentRepository) Cancel(ctx context.Context, id string, reason *string, by models.CallerKind, at time.Time) (bool, error) {
	const query = `UPDATE appointments SET status = $2, cancellation_reason = $3, cancelled_by = $4, cancelled_at = $5, updated_at = $5 WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, models.AppointmentCancelled, reason, by, at, models.AppointmentBooked)
	if err != nil {
		return false, fmt.Errorf("cancel appointment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel appointment rows: %w", err)
	}
	return affected == 1, nil
}

// ListBooked returns live appointments of a teacher that overlap [from, to).
func (r *AppointmentRepository) ListBooked(ctx context.Context, teacherID string, from, to time.Time) ([]models.Appointment, error) {
	query := fmt.Sprintf("SELECT %s FROM appointments a WHERE a.teacher_id = $1 AND a.status = $2 AND a.start_time < $4 AND a.end_time > $3 ORDER BY a.start_time ASC", appointmentColumns)
	var appts []models.Appointment
	if err := r.db.SelectContext(ctx, &appts, query, teacherID, models.AppointmentBooked, from, to); err != nil {
		return nil, fmt.Errorf("list booked appointments: %w", err)
	}
	return appts, nil
}

// List returns appointments matching the filter with the total count.
func (r *AppointmentRepository) List(ctx context.Context, filter models.AppointmentFilter) ([]models.AppointmentDetail, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("a.teacher_id = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("a.start_time >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("a.start_time < $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	_, size, offset := pageBounds(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s, u.full_name AS teacher_name, u.email AS teacher_email, s.full_name AS student_name %s%s ORDER BY a.start_time ASC LIMIT %d OFFSET %d", appointmentColumns, appointmentDetailFrom, where, size, offset)
	var appts []models.AppointmentDetail
	if err := r.db.SelectContext(ctx, &appts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM appointments a"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	return appts, total, nil
}
