package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

type availabilityRepository interface {
	FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error)
	List(ctx context.Context, filter models.AvailabilityFilter) ([]models.AvailabilityWindow, error)
	ListForRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.AvailabilityWindow, error)
	Create(ctx context.Context, window *models.AvailabilityWindow) error
	Update(ctx context.Context, window *models.AvailabilityWindow) error
	Delete(ctx context.Context, id string) error
}

type bookedAppointmentReader interface {
	ListBooked(ctx context.Context, teacherID string, from, to time.Time) ([]models.Appointment, error)
}

type teacherReader interface {
	FindActiveTeacher(ctx context.Context, id string) (*models.User, error)
}

type slotCache interface {
	GetSlots(ctx context.Context, q models.SlotQuery) ([]models.Slot, bool)
	PutSlots(ctx context.Context, q models.SlotQuery, slots []models.Slot)
	InvalidateTeacher(ctx context.Context, teacherID string)
}

// AvailabilityConfig tunes slot queries.
type AvailabilityConfig struct {
	Location    *time.Location
	MaxRange    time.Duration
	MinLeadTime time.Duration
}

// AvailabilityService manages teacher availability windows and expands them into slots.
type AvailabilityService struct {
	windows      availabilityRepository
	appointments bookedAppointmentReader
	teachers     teacherReader
	cache        slotCache
	gate         *RoleGate
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	cfg          AvailabilityConfig
	now          func() time.Time
}

// NewAvailabilityService constructs an AvailabilityService. cache may be nil.
func NewAvailabilityService(windows availabilityRepository, appointments bookedAppointmentReader, teachers teacherReader, cache slotCache, gate *RoleGate, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg AvailabilityConfig) *AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if gate == nil {
		gate = NewRoleGate()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxRange <= 0 {
		cfg.MaxRange = 92 * 24 * time.Hour
	}
	return &AvailabilityService{
		windows:      windows,
		appointments: appointments,
		teachers:     teachers,
		cache:        cache,
		gate:         gate,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// List returns windows. Teachers only see their own; admins may filter by teacher.
func (s *AvailabilityService) List(ctx context.Context, caller models.Caller, filter models.AvailabilityFilter) ([]models.AvailabilityWindow, error) {
	if caller.Kind == models.CallerTeacher {
		filter.TeacherID = caller.UserID
	}
	if err := s.gate.Require(caller, ActionManageAvailability, Resource{TeacherID: filter.TeacherID}); err != nil {
		return nil, err
	}
	windows, err := s.windows.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list availability")
	}
	return windows, nil
}

// Get returns one window the caller may manage.
func (s *AvailabilityService) Get(ctx context.Context, caller models.Caller, id string) (*models.AvailabilityWindow, error) {
	window, err := s.windows.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
		}
		return nil, appErrors.Internal(err, "failed to load availability window")
	}
	if err := s.gate.Require(caller, ActionManageAvailability, Resource{TeacherID: window.TeacherID}); err != nil {
		return nil, err
	}
	return window, nil
}

// Create validates and stores a new window for the caller (or, for admins, for req.TeacherID).
func (s *AvailabilityService) Create(ctx context.Context, caller models.Caller, req models.AvailabilityWindowRequest) (*models.AvailabilityWindow, error) {
	teacherID := req.TeacherID
	if teacherID == "" && caller.Kind == models.CallerTeacher {
		teacherID = caller.UserID
	}
	if err := s.gate.Require(caller, ActionManageAvailability, Resource{TeacherID: teacherID}); err != nil {
		return nil, err
	}
	if teacherID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher_id is required")
	}

	window, err := s.buildWindow(req)
	if err != nil {
		return nil, err
	}
	window.TeacherID = teacherID

	if _, err := s.teachers.FindActiveTeacher(ctx, teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Internal(err, "failed to load teacher")
	}
	if err := s.ensureNoOverlap(ctx, window); err != nil {
		return nil, err
	}

	if err := s.windows.Create(ctx, window); err != nil {
		return nil, appErrors.Internal(err, "failed to create availability window")
	}
	s.InvalidateTeacher(ctx, teacherID)
	s.logger.Info("availability window created", zap.String("window_id", window.ID), zap.String("teacher_id", teacherID), zap.Int("slots", SlotCount(*window)*(window.RecurringWeeks+1)))
	return window, nil
}

// Update replaces the schedule of an existing window. Existing appointments are kept.
func (s *AvailabilityService) Update(ctx context.Context, caller models.Caller, id string, req models.AvailabilityWindowRequest) (*models.AvailabilityWindow, error) {
	existing, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if req.TeacherID != "" && req.TeacherID != existing.TeacherID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher_id cannot be changed")
	}

	window, err := s.buildWindow(req)
	if err != nil {
		return nil, err
	}
	window.ID = existing.ID
	window.TeacherID = existing.TeacherID
	window.CreatedAt = existing.CreatedAt

	if err := s.ensureNoOverlap(ctx, window); err != nil {
		return nil, err
	}
	if err := s.windows.Update(ctx, window); err != nil {
		return nil, appErrors.Internal(err, "failed to update availability window")
	}
	s.InvalidateTeacher(ctx, window.TeacherID)
	return window, nil
}

// Delete removes a window. Booked appointments remain in the ledger.
func (s *AvailabilityService) Delete(ctx context.Context, caller models.Caller, id string) error {
	window, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}
	if err := s.windows.Delete(ctx, id); err != nil {
		return appErrors.Internal(err, "failed to delete availability window")
	}
	s.InvalidateTeacher(ctx, window.TeacherID)
	return nil
}

// Slots expands the teacher's windows into slots starting in [q.From, q.To).
// Slots overlapping a booked appointment or starting before the lead time are
// marked unavailable; the available view drops them.
func (s *AvailabilityService) Slots(ctx context.Context, caller models.Caller, q models.SlotQuery) ([]models.Slot, error) {
	if err := s.gate.Require(caller, ActionViewAvailability, Resource{TeacherID: q.TeacherID}); err != nil {
		return nil, err
	}
	if q.View == "" {
		q.View = models.SlotViewAvailable
	}
	if q.View != models.SlotViewAvailable && q.View != models.SlotViewAll {
		return nil, appErrors.Clone(appErrors.ErrValidation, "view must be available or all")
	}
	if !q.To.After(q.From) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must be after from")
	}
	if q.To.Sub(q.From) > s.cfg.MaxRange {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("range must not exceed %d days", int(s.cfg.MaxRange.Hours()/24)))
	}

	if _, err := s.teachers.FindActiveTeacher(ctx, q.TeacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Internal(err, "failed to load teacher")
	}

	if s.cache != nil {
		if cached, ok := s.cache.GetSlots(ctx, q); ok {
			return cached, nil
		}
	}

	windows, err := s.windows.ListForRange(ctx, q.TeacherID, q.From, q.To)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load availability")
	}
	booked, err := s.appointments.ListBooked(ctx, q.TeacherID, q.From, q.To.Add(time.Duration(models.MaxSlotDuration)*time.Minute))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load appointments")
	}

	cutoff := s.now().Add(s.cfg.MinLeadTime)
	slots := make([]models.Slot, 0)
	for _, w := range windows {
		for slot := range ExpandRange(w, s.cfg.Location, q.From, q.To) {
			slot.Available = slot.Start.After(cutoff) && !overlapsBooking(slot, booked)
			if q.View == models.SlotViewAvailable && !slot.Available {
				continue
			}
			slots = append(slots, slot)
		}
	}
	slices.SortFunc(slots, func(a, b models.Slot) int { return a.Start.Compare(b.Start) })
	s.metrics.ObserveSlotsExpanded(len(slots))

	if s.cache != nil {
		s.cache.PutSlots(ctx, q, slots)
	}
	return slots, nil
}

// FindOffering returns the window that offers a slot of the given length
// starting exactly at start, or a validation error when none does.
func (s *AvailabilityService) FindOffering(ctx context.Context, teacherID string, start time.Time, duration int) (*models.AvailabilityWindow, error) {
	windows, err := s.windows.ListForRange(ctx, teacherID, start, start.Add(time.Minute))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load availability")
	}
	for i := range windows {
		for slot := range ExpandRange(windows[i], s.cfg.Location, start, start.Add(time.Minute)) {
			if slot.Start.Equal(start) && slot.Duration == duration {
				return &windows[i], nil
			}
		}
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, "slot is not offered by the teacher")
}

// InvalidateTeacher drops cached slot views for a teacher.
func (s *AvailabilityService) InvalidateTeacher(ctx context.Context, teacherID string) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidateTeacher(ctx, teacherID)
}

func (s *AvailabilityService) buildWindow(req models.AvailabilityWindowRequest) (*models.AvailabilityWindow, error) {
	req.StartTime = normalizeClock(req.StartTime)
	req.EndTime = normalizeClock(req.EndTime)
	req.Location = strings.TrimSpace(req.Location)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidWindow, "date must be YYYY-MM-DD")
	}
	window := &models.AvailabilityWindow{
		Date:           date,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		SlotDuration:   req.SlotDuration,
		BreakDuration:  req.BreakDuration,
		RecurringWeeks: req.RecurringWeeks,
		Location:       req.Location,
	}
	if err := ValidateWindow(*window); err != nil {
		return nil, err
	}
	return window, nil
}

// normalizeClock pads clock values to HH:MM so stored times compare and sort as text.
func normalizeClock(value string) string {
	t, err := time.Parse(clockLayout, strings.TrimSpace(value))
	if err != nil {
		return value
	}
	return t.Format(clockLayout)
}

func (s *AvailabilityService) ensureNoOverlap(ctx context.Context, window *models.AvailabilityWindow) error {
	existing, err := s.windows.ListForRange(ctx, window.TeacherID, window.Date, window.LastDate().AddDate(0, 0, 1))
	if err != nil {
		return appErrors.Internal(err, "failed to check overlapping availability")
	}
	for _, other := range existing {
		if other.ID == window.ID {
			continue
		}
		if windowsOverlap(*window, other) {
			return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("overlaps availability window %s", other.ID))
		}
	}
	return nil
}

func overlapsBooking(slot models.Slot, booked []models.Appointment) bool {
	for _, appt := range booked {
		if slot.Start.Before(appt.EndTime) && appt.StartTime.Before(slot.End) {
			return true
		}
	}
	return false
}
