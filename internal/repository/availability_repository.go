package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-booking-api/internal/models"
)

const windowColumns = `id, teacher_id, date, start_time, end_time, slot_duration, break_duration, recurring_weeks, location, created_at, updated_at`

// AvailabilityRepository persists teacher availability windows.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository constructs an AvailabilityRepository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// FindByID returns a single window.
func (r *AvailabilityRepository) FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error) {
	var window models.AvailabilityWindow
	if err := r.db.GetContext(ctx, &window, `SELECT `+windowColumns+` FROM availability_windows WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find availability window: %w", err)
	}
	return &window, nil
}

// List returns windows of a teacher, optionally limited to those with an
// occurrence between From and To (inclusive dates).
func (r *AvailabilityRepository) List(ctx context.Context, filter models.AvailabilityFilter) ([]models.AvailabilityWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM availability_windows WHERE 1=1`
	var args []interface{}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		query += fmt.Sprintf(" AND teacher_id = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND date + recurring_weeks * 7 >= $%d::date", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND date <= $%d::date", len(args))
	}
	query += " ORDER BY date ASC, start_time ASC"

	var windows []models.AvailabilityWindow
	if err := r.db.SelectContext(ctx, &windows, query, args...); err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}
	return windows, nil
}

// ListForRange returns the windows of a teacher that may produce slots in [from, to).
func (r *AvailabilityRepository) ListForRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.AvailabilityWindow, error) {
	// Widen by a day on each side; the expander trims to the exact instant range.
	lo := from.AddDate(0, 0, -1)
	hi := to.AddDate(0, 0, 1)
	return r.List(ctx, models.AvailabilityFilter{TeacherID: teacherID, From: &lo, To: &hi})
}

// Create inserts a window.
func (r *AvailabilityRepository) Create(ctx context.Context, window *models.AvailabilityWindow) error {
	if window.ID == "" {
		window.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if window.CreatedAt.IsZero() {
		window.CreatedAt = now
	}
	window.UpdatedAt = now

	const query = `INSERT INTO availability_windows (id, teacher_id, date, start_time, end_time, slot_duration, break_duration, recurring_weeks, location, created_at, updated_at) VALUES (:id, :teacher_id, :date, :start_time, :end_time, :slot_duration, :break_duration, :recurring_weeks, :location, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
		return fmt.Errorf("create availability window: %w", err)
	}
	return nil
}

// Update replaces the schedule fields of a window.
func (r *AvailabilityRepository) Update(ctx context.Context, window *models.AvailabilityWindow) error {
	window.UpdatedAt = time.Now().UTC()
	const query = `UPDATE availability_windows SET date = :date, start_time = :start_time, end_time = :end_time, slot_duration = :slot_duration, break_duration = :break_duration, recurring_weeks = :recurring_weeks, location = :location, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
		return fmt.Errorf("update availability window: %w", err)
	}
	return nil
}

// Delete removes a window. Booked appointments keep their rows with window_id cleared.
func (r *AvailabilityRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM availability_windows WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete availability window: %w", err)
	}
	return nil
}
