package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
	"github.com/noah-isme/sma-booking-api/pkg/export"
)

type appointmentRepository interface {
	Create(ctx context.Context, appt *models.Appointment) error
	FindByID(ctx context.Context, id string) (*models.AppointmentDetail, error)
	Cancel(ctx context.Context, id string, reason *string, by models.CallerKind, at time.Time) (bool, error)
	List(ctx context.Context, filter models.AppointmentFilter) ([]models.AppointmentDetail, int, error)
}

type appointmentStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

type slotOffering interface {
	FindOffering(ctx context.Context, teacherID string, start time.Time, duration int) (*models.AvailabilityWindow, error)
	InvalidateTeacher(ctx context.Context, teacherID string)
}

type bookingNotifier interface {
	AppointmentBooked(ctx context.Context, appt models.AppointmentDetail)
	AppointmentCancelled(ctx context.Context, appt models.AppointmentDetail)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AppointmentConfig tunes booking rules.
type AppointmentConfig struct {
	Location    *time.Location
	MinLeadTime time.Duration
}

// ExportFile is a rendered appointment export.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// AppointmentService is the booking ledger: parents claim slots, and parents,
// owning teachers or admins cancel them. Uniqueness of a booked slot is
// enforced by the store, so concurrent claims resolve to one winner.
type AppointmentService struct {
	repo      appointmentRepository
	teachers  teacherReader
	students  appointmentStudentReader
	offers    slotOffering
	notifier  bookingNotifier
	audit     auditRecorder
	gate      *RoleGate
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       AppointmentConfig
	now       func() time.Time
}

// NewAppointmentService constructs an AppointmentService. notifier and audit may be nil.
func NewAppointmentService(repo appointmentRepository, teachers teacherReader, students appointmentStudentReader, offers slotOffering, notifier bookingNotifier, audit auditRecorder, gate *RoleGate, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg AppointmentConfig) *AppointmentService {
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
	return &AppointmentService{
		repo:      repo,
		teachers:  teachers,
		students:  students,
		offers:    offers,
		notifier:  notifier,
		audit:     audit,
		gate:      gate,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Claim books a slot for the parent's student.
func (s *AppointmentService) Claim(ctx context.Context, caller models.Caller, req models.ClaimRequest) (*models.AppointmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordClaim(ClaimOutcomeRejected)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}
	if err := s.gate.Require(caller, ActionBook, Resource{TeacherID: req.TeacherID, StudentID: caller.StudentID}); err != nil {
		s.metrics.RecordClaim(ClaimOutcomeRejected)
		return nil, err
	}

	teacher, err := s.teachers.FindActiveTeacher(ctx, req.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordClaim(ClaimOutcomeRejected)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		s.metrics.RecordClaim(ClaimOutcomeError)
		return nil, appErrors.Internal(err, "failed to load teacher")
	}
	student, err := s.students.FindByID(ctx, caller.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordClaim(ClaimOutcomeRejected)
			return nil, appErrors.Clone(appErrors.ErrForbidden, "access code is no longer valid")
		}
		s.metrics.RecordClaim(ClaimOutcomeError)
		return nil, appErrors.Internal(err, "failed to load student")
	}

	start := req.StartTime.UTC()
	if !start.After(s.now().Add(s.cfg.MinLeadTime)) {
		s.metrics.RecordClaim(ClaimOutcomeRejected)
		return nil, appErrors.Clone(appErrors.ErrValidation, "slot is in the past")
	}
	window, err := s.offers.FindOffering(ctx, teacher.ID, start, req.SlotDuration)
	if err != nil {
		s.metrics.RecordClaim(ClaimOutcomeRejected)
		return nil, err
	}

	appt := &models.Appointment{
		TeacherID:   teacher.ID,
		StudentID:   student.ID,
		WindowID:    &window.ID,
		StartTime:   start,
		EndTime:     start.Add(time.Duration(req.SlotDuration) * time.Minute),
		ParentName:  firstNonEmpty(req.ParentName, student.ParentName),
		ParentEmail: firstNonEmpty(req.ParentEmail, student.ParentEmail),
		ParentPhone: firstNonEmpty(req.ParentPhone, student.ParentPhone),
		Notes:       strings.TrimSpace(req.Notes),
		Status:      models.AppointmentBooked,
	}
	if appt.ParentName == "" {
		s.metrics.RecordClaim(ClaimOutcomeRejected)
		return nil, appErrors.Clone(appErrors.ErrValidation, "parent_name is required")
	}

	if err := s.repo.Create(ctx, appt); err != nil {
		if errors.Is(err, appErrors.ErrSlotAlreadyBooked) {
			s.metrics.RecordClaim(ClaimOutcomeConflict)
			return nil, appErrors.Clone(appErrors.ErrSlotAlreadyBooked, fmt.Sprintf("slot %s is already booked", start.In(s.cfg.Location).Format("2006-01-02 15:04")))
		}
		s.metrics.RecordClaim(ClaimOutcomeError)
		return nil, appErrors.Internal(err, "failed to book appointment")
	}
	s.metrics.RecordClaim(ClaimOutcomeBooked)
	s.offers.InvalidateTeacher(ctx, teacher.ID)

	detail := models.AppointmentDetail{
		Appointment:  *appt,
		TeacherName:  teacher.FullName,
		TeacherEmail: teacher.Email,
		StudentName:  student.FullName,
	}
	s.logger.Info("appointment booked", zap.String("appointment_id", appt.ID), zap.String("teacher_id", teacher.ID), zap.Time("start", start))
	if s.notifier != nil {
		s.notifier.AppointmentBooked(ctx, detail)
	}
	return &detail, nil
}

// Cancel cancels an appointment. The second return value is true when the
// appointment was already cancelled and nothing changed.
func (s *AppointmentService) Cancel(ctx context.Context, caller models.Caller, id string, req models.CancelRequest) (*models.AppointmentDetail, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancel payload")
	}
	appt, err := s.load(ctx, caller, id, ActionCancelAppointment)
	if err != nil {
		return nil, false, err
	}
	if appt.Status == models.AppointmentCancelled {
		s.metrics.RecordCancellation(string(caller.Kind), true)
		return appt, true, nil
	}

	var reason *string
	if r := strings.TrimSpace(req.Reason); r != "" {
		reason = &r
	}
	changed, err := s.repo.Cancel(ctx, id, reason, caller.Kind, s.now().UTC())
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to cancel appointment")
	}

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to reload appointment")
	}
	if !changed {
		// Lost a race with another cancel.
		s.metrics.RecordCancellation(string(caller.Kind), true)
		return updated, true, nil
	}
	s.metrics.RecordCancellation(string(caller.Kind), false)
	s.offers.InvalidateTeacher(ctx, updated.TeacherID)
	s.recordCancelAudit(ctx, caller, updated)
	s.logger.Info("appointment cancelled", zap.String("appointment_id", id), zap.String("by", string(caller.Kind)))
	if s.notifier != nil {
		s.notifier.AppointmentCancelled(ctx, *updated)
	}
	return updated, false, nil
}

// Get returns one appointment the caller may view.
func (s *AppointmentService) Get(ctx context.Context, caller models.Caller, id string) (*models.AppointmentDetail, error) {
	return s.load(ctx, caller, id, ActionViewAppointment)
}

// ListForTeacher lists appointments for staff. Teachers are pinned to their own.
func (s *AppointmentService) ListForTeacher(ctx context.Context, caller models.Caller, filter models.AppointmentFilter) ([]models.AppointmentDetail, *models.Pagination, error) {
	if caller.Kind == models.CallerTeacher {
		filter.TeacherID = caller.UserID
	}
	if caller.Kind == models.CallerParent {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to list these appointments")
	}
	return s.list(ctx, caller, filter, Resource{TeacherID: filter.TeacherID})
}

// ListForStudent lists the appointments of the parent's student.
func (s *AppointmentService) ListForStudent(ctx context.Context, caller models.Caller, filter models.AppointmentFilter) ([]models.AppointmentDetail, *models.Pagination, error) {
	if caller.Kind == models.CallerParent {
		filter.StudentID = caller.StudentID
	}
	return s.list(ctx, caller, filter, Resource{StudentID: filter.StudentID})
}

// Export renders the caller's appointment list in the requested format.
func (s *AppointmentService) Export(ctx context.Context, caller models.Caller, filter models.AppointmentFilter, format export.Format) (*ExportFile, error) {
	renderer, err := export.NewRenderer(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported export format")
	}

	var all []models.AppointmentDetail
	filter.PageSize = 100
	for page := 1; ; page++ {
		filter.Page = page
		items, pagination, err := s.ListForTeacher(ctx, caller, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < filter.PageSize || len(all) >= pagination.TotalCount {
			break
		}
	}

	dataset := export.Dataset{
		Title:   "Appointments",
		Headers: []string{"Date", "Start", "End", "Teacher", "Student", "Parent", "Email", "Phone", "Status", "Reason"},
	}
	for _, a := range all {
		start := a.StartTime.In(s.cfg.Location)
		reason := ""
		if a.CancellationReason != nil {
			reason = *a.CancellationReason
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Date":    start.Format("2006-01-02"),
			"Start":   start.Format("15:04"),
			"End":     a.EndTime.In(s.cfg.Location).Format("15:04"),
			"Teacher": a.TeacherName,
			"Student": a.StudentName,
			"Parent":  a.ParentName,
			"Email":   a.ParentEmail,
			"Phone":   a.ParentPhone,
			"Status":  string(a.Status),
			"Reason":  reason,
		})
	}

	body, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render export")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("appointments-%s.%s", s.now().In(s.cfg.Location).Format("20060102-150405"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func (s *AppointmentService) list(ctx context.Context, caller models.Caller, filter models.AppointmentFilter, res Resource) ([]models.AppointmentDetail, *models.Pagination, error) {
	if err := s.gate.Require(caller, ActionListAppointments, res); err != nil {
		return nil, nil, err
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list appointments")
	}
	return items, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// load fetches an appointment and authorizes the caller. Parents get FORBIDDEN
// for unknown ids as well, so ids cannot be probed with an access code.
func (s *AppointmentService) load(ctx context.Context, caller models.Caller, id string, action Action) (*models.AppointmentDetail, error) {
	appt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if caller.Kind == models.CallerParent {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "appointment does not belong to this access code")
			}
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
		}
		return nil, appErrors.Internal(err, "failed to load appointment")
	}
	if err := s.gate.Require(caller, action, Resource{TeacherID: appt.TeacherID, StudentID: appt.StudentID}); err != nil {
		if caller.Kind == models.CallerParent {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "appointment does not belong to this access code")
		}
		return nil, err
	}
	return appt, nil
}

func (s *AppointmentService) recordCancelAudit(ctx context.Context, caller models.Caller, appt *models.AppointmentDetail) {
	if s.audit == nil {
		return
	}
	var userID *string
	if caller.UserID != "" {
		userID = &caller.UserID
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"status":       appt.Status,
		"cancelled_by": caller.Kind,
		"student_id":   appt.StudentID,
	})
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     models.AuditActionAppointmentCancel,
		Resource:   "appointment",
		ResourceID: &appt.ID,
		OldValues:  []byte(`{"status":"booked"}`),
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record cancel audit log", zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
