package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	FindByAccessCode(ctx context.Context, code string) (*models.StudentDetail, error)
	ExistsByNIS(ctx context.Context, nis string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string) error
}

type classLookup interface {
	FindByID(ctx context.Context, id string) (*models.ClassDetail, error)
}

type accessCodeIssuer interface {
	Generate(ctx context.Context) (string, error)
}

// StudentRequest holds the payload for creating or updating students.
type StudentRequest struct {
	NIS         string  `json:"nis" validate:"required,max=32"`
	FullName    string  `json:"full_name" validate:"required,max=255"`
	ClassID     *string `json:"class_id" validate:"omitempty,uuid"`
	ParentName  string  `json:"parent_name" validate:"required,max=255"`
	ParentEmail string  `json:"parent_email" validate:"omitempty,email"`
	ParentPhone string  `json:"parent_phone" validate:"omitempty,max=32"`
	Active      *bool   `json:"active"`
}

func (r *StudentRequest) normalize() {
	r.NIS = strings.TrimSpace(r.NIS)
	r.FullName = strings.TrimSpace(r.FullName)
	r.ParentName = strings.TrimSpace(r.ParentName)
	r.ParentEmail = normalizeEmail(r.ParentEmail)
	r.ParentPhone = strings.TrimSpace(r.ParentPhone)
}

// StudentService handles student records and parent access-code lookups.
type StudentService struct {
	repo      studentRepository
	classes   classLookup
	codes     accessCodeIssuer
	audit     auditRecorder
	gate      *RoleGate
	validator *validator.Validate
	logger    *zap.Logger
	codeTTL   time.Duration
	now       func() time.Time
}

// NewStudentService constructs the student service. A zero codeTTL issues codes that never expire.
func NewStudentService(repo studentRepository, classes classLookup, codes accessCodeIssuer, audit auditRecorder, gate *RoleGate, validate *validator.Validate, logger *zap.Logger, codeTTL time.Duration) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gate == nil {
		gate = NewRoleGate()
	}
	return &StudentService{repo: repo, classes: classes, codes: codes, audit: audit, gate: gate, validator: validate, logger: logger, codeTTL: codeTTL, now: time.Now}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, caller models.Caller, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	if err := s.gate.Require(caller, ActionManageStudents, Resource{}); err != nil {
		return nil, nil, err
	}
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list students")
	}
	return students, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns detailed student information.
func (s *StudentService) Get(ctx context.Context, caller models.Caller, id string) (*models.StudentDetail, error) {
	if err := s.gate.Require(caller, ActionManageStudents, Resource{}); err != nil {
		return nil, err
	}
	return s.find(ctx, id)
}

// Create registers a student. The access code is generated here, before the
// row is written, and never changes afterwards.
func (s *StudentService) Create(ctx context.Context, caller models.Caller, req StudentRequest) (*models.Student, error) {
	if err := s.gate.Require(caller, ActionManageStudents, Resource{}); err != nil {
		return nil, err
	}
	student := &models.Student{Active: true}
	if err := s.apply(ctx, student, req, ""); err != nil {
		return nil, err
	}

	code, err := s.codes.Generate(ctx)
	if err != nil {
		return nil, err
	}
	student.AccessCode = code
	if s.codeTTL > 0 {
		expires := s.now().UTC().Add(s.codeTTL)
		student.AccessCodeExpiresAt = &expires
	}

	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Internal(err, "failed to create student")
	}

	if s.audit != nil {
		actorID := caller.UserID
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actorID,
			Action:     models.AuditActionStudentCreate,
			Resource:   "students",
			ResourceID: &student.ID,
			NewValues:  []byte(`{"nis":"` + student.NIS + `"}`),
		}); err != nil {
			s.logger.Warn("failed to record student audit log", zap.Error(err))
		}
	}
	return student, nil
}

// Update modifies student data. The access code is left untouched.
func (s *StudentService) Update(ctx context.Context, caller models.Caller, id string, req StudentRequest) (*models.Student, error) {
	if err := s.gate.Require(caller, ActionManageStudents, Resource{}); err != nil {
		return nil, err
	}
	existing, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	student := existing.Student
	if err := s.apply(ctx, &student, req, id); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, &student); err != nil {
		return nil, appErrors.Internal(err, "failed to update student")
	}
	return &student, nil
}

// Deactivate marks a student inactive, which also revokes the parent's access.
func (s *StudentService) Deactivate(ctx context.Context, caller models.Caller, id string) error {
	if err := s.gate.Require(caller, ActionManageStudents, Resource{}); err != nil {
		return err
	}
	if _, err := s.find(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Internal(err, "failed to deactivate student")
	}
	return nil
}

// AuthenticateParent resolves an access code to its student. Malformed,
// unknown, expired and inactive codes are all reported as UNAUTHORIZED.
func (s *StudentService) AuthenticateParent(ctx context.Context, code string) (*models.StudentDetail, error) {
	code = NormalizeAccessCode(code)
	if !ValidAccessCodeFormat(code) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid access code")
	}
	student, err := s.repo.FindByAccessCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid access code")
		}
		return nil, appErrors.Internal(err, "failed to verify access code")
	}
	if !student.AccessCodeValid(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "access code expired or inactive")
	}
	return student, nil
}

// ParentProfile returns what the parent sees about their student.
func (s *StudentService) ParentProfile(ctx context.Context, caller models.Caller) (*models.ParentProfile, error) {
	if caller.Kind != models.CallerParent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "parent access code required")
	}
	student, err := s.repo.FindByID(ctx, caller.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "access code is no longer valid")
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	return &models.ParentProfile{
		StudentID:   student.ID,
		StudentName: student.FullName,
		ClassName:   student.ClassName,
		ParentName:  student.ParentName,
		ParentEmail: student.ParentEmail,
		ParentPhone: student.ParentPhone,
	}, nil
}

func (s *StudentService) apply(ctx context.Context, student *models.Student, req StudentRequest, excludeID string) error {
	req.normalize()
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	exists, err := s.repo.ExistsByNIS(ctx, req.NIS, excludeID)
	if err != nil {
		return appErrors.Internal(err, "failed to validate nis")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "nis already used")
	}
	if req.ClassID != nil {
		if _, err := s.classes.FindByID(ctx, *req.ClassID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrValidation, "class not found")
			}
			return appErrors.Internal(err, "failed to load class")
		}
	}
	student.NIS = req.NIS
	student.FullName = req.FullName
	student.ClassID = req.ClassID
	student.ParentName = req.ParentName
	student.ParentEmail = req.ParentEmail
	student.ParentPhone = req.ParentPhone
	if req.Active != nil {
		student.Active = *req.Active
	}
	return nil
}

func (s *StudentService) find(ctx context.Context, id string) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}
	return student, nil
}
