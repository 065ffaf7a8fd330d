package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

type classRepository interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.ClassDetail, error)
	ExistsByName(ctx context.Context, name string, excludeID string) (bool, error)
	Create(ctx context.Context, class *models.Class) error
	Update(ctx context.Context, class *models.Class) error
	Delete(ctx context.Context, id string) error
}

// ClassRequest is the payload for creating or updating a class.
type ClassRequest struct {
	Name              string  `json:"name" validate:"required,max=100"`
	Grade             string  `json:"grade" validate:"required,max=20"`
	HomeroomTeacherID *string `json:"homeroom_teacher_id" validate:"omitempty,uuid"`
}

// ClassService manages classes.
type ClassService struct {
	repo      classRepository
	teachers  teacherReader
	gate      *RoleGate
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs a ClassService.
func NewClassService(repo classRepository, teachers teacherReader, gate *RoleGate, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gate == nil {
		gate = NewRoleGate()
	}
	return &ClassService{repo: repo, teachers: teachers, gate: gate, validator: validate, logger: logger}
}

// List returns classes with pagination.
func (s *ClassService) List(ctx context.Context, caller models.Caller, filter models.ClassFilter) ([]models.ClassDetail, *models.Pagination, error) {
	if err := s.gate.Require(caller, ActionManageClasses, Resource{}); err != nil {
		return nil, nil, err
	}
	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list classes")
	}
	return classes, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns class details.
func (s *ClassService) Get(ctx context.Context, caller models.Caller, id string) (*models.ClassDetail, error) {
	if err := s.gate.Require(caller, ActionManageClasses, Resource{}); err != nil {
		return nil, err
	}
	return s.find(ctx, id)
}

// Create registers a class.
func (s *ClassService) Create(ctx context.Context, caller models.Caller, req ClassRequest) (*models.Class, error) {
	if err := s.gate.Require(caller, ActionManageClasses, Resource{}); err != nil {
		return nil, err
	}
	class := &models.Class{}
	if err := s.apply(ctx, class, req, ""); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, appErrors.Internal(err, "failed to create class")
	}
	return class, nil
}

// Update modifies a class.
func (s *ClassService) Update(ctx context.Context, caller models.Caller, id string, req ClassRequest) (*models.Class, error) {
	if err := s.gate.Require(caller, ActionManageClasses, Resource{}); err != nil {
		return nil, err
	}
	existing, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	class := existing.Class
	if err := s.apply(ctx, &class, req, id); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, &class); err != nil {
		return nil, appErrors.Internal(err, "failed to update class")
	}
	return &class, nil
}

// Delete removes a class; its students stay with no class.
func (s *ClassService) Delete(ctx context.Context, caller models.Caller, id string) error {
	if err := s.gate.Require(caller, ActionManageClasses, Resource{}); err != nil {
		return err
	}
	if _, err := s.find(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Internal(err, "failed to delete class")
	}
	return nil
}

func (s *ClassService) apply(ctx context.Context, class *models.Class, req ClassRequest, excludeID string) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Grade = strings.TrimSpace(req.Grade)
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	exists, err := s.repo.ExistsByName(ctx, req.Name, excludeID)
	if err != nil {
		return appErrors.Internal(err, "failed to check class name")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "class name already used")
	}
	if req.HomeroomTeacherID != nil {
		if _, err := s.teachers.FindActiveTeacher(ctx, *req.HomeroomTeacherID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrValidation, "homeroom teacher not found")
			}
			return appErrors.Internal(err, "failed to load homeroom teacher")
		}
	}
	class.Name = req.Name
	class.Grade = req.Grade
	class.HomeroomTeacherID = req.HomeroomTeacherID
	return nil
}

func (s *ClassService) find(ctx context.Context, id string) (*models.ClassDetail, error) {
	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Internal(err, "failed to load class")
	}
	return class, nil
}
