package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	ListTeachers(ctx context.Context, search string) ([]models.TeacherSummary, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateUserRequest represents payload for creating staff accounts.
type CreateUserRequest struct {
	Email    string          `json:"email" validate:"required,email"`
	FullName string          `json:"full_name" validate:"required,max=255"`
	Role     models.UserRole `json:"role" validate:"required,oneof=ADMIN TEACHER"`
	Active   *bool           `json:"active"`
	Password string          `json:"password" validate:"required,min=8"`
}

// UpdateUserRequest payload for updating staff accounts.
type UpdateUserRequest struct {
	Email    string          `json:"email" validate:"omitempty,email"`
	FullName string          `json:"full_name" validate:"required,max=255"`
	Role     models.UserRole `json:"role" validate:"required,oneof=ADMIN TEACHER"`
	Active   *bool           `json:"active"`
}

func (r *CreateUserRequest) normalize() {
	r.Email = normalizeEmail(r.Email)
	r.FullName = strings.TrimSpace(r.FullName)
}

func (r *UpdateUserRequest) normalize() {
	r.Email = normalizeEmail(r.Email)
	r.FullName = strings.TrimSpace(r.FullName)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserService handles staff account management.
type UserService struct {
	repo      userRepository
	gate      *RoleGate
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, gate *RoleGate, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if gate == nil {
		gate = NewRoleGate()
	}
	return &UserService{repo: repo, gate: gate, validator: validate, logger: logger}
}

// List returns users and pagination metadata.
func (s *UserService) List(ctx context.Context, caller models.Caller, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if err := s.gate.Require(caller, ActionManageUsers, Resource{}); err != nil {
		return nil, nil, err
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list users")
	}
	return users, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// ListTeachers returns the public directory of active teachers.
func (s *UserService) ListTeachers(ctx context.Context, search string) ([]models.TeacherSummary, error) {
	teachers, err := s.repo.ListTeachers(ctx, strings.TrimSpace(search))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list teachers")
	}
	if teachers == nil {
		teachers = []models.TeacherSummary{}
	}
	return teachers, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, caller models.Caller, id string) (*models.User, error) {
	if err := s.gate.Require(caller, ActionManageUsers, Resource{}); err != nil {
		return nil, err
	}
	return s.find(ctx, id)
}

// Create adds a new staff account. The password is hashed before it reaches the repository.
func (s *UserService) Create(ctx context.Context, caller models.Caller, req CreateUserRequest, meta models.RequestMeta) (*models.User, error) {
	if err := s.gate.Require(caller, ActionManageUsers, Resource{}); err != nil {
		return nil, err
	}
	req.normalize()
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}

	exists, err := s.repo.ExistsByEmail(ctx, req.Email, "")
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check email uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	}

	passwordHash, err := HashPassword(req.Password)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		FullName:     req.FullName,
		Role:         req.Role,
		Active:       req.Active == nil || *req.Active,
		PasswordHash: passwordHash,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Internal(err, "failed to create user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role})
	s.audit(ctx, caller, models.AuditActionUserCreate, user.ID, nil, newPayload, meta)
	return user, nil
}

// Update modifies the user attributes.
func (s *UserService) Update(ctx context.Context, caller models.Caller, id string, req UpdateUserRequest, meta models.RequestMeta) (*models.User, error) {
	if err := s.gate.Require(caller, ActionManageUsers, Resource{}); err != nil {
		return nil, err
	}
	req.normalize()
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.UserID == id && (req.Role != user.Role || (req.Active != nil && !*req.Active)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "admins cannot demote or deactivate themselves")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"email": user.Email, "role": user.Role, "active": user.Active})

	if req.Email != "" {
		exists, err := s.repo.ExistsByEmail(ctx, req.Email, id)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to check email uniqueness")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		user.Email = req.Email
	}
	user.FullName = req.FullName
	user.Role = req.Role
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Internal(err, "failed to update user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"email": user.Email, "role": user.Role, "active": user.Active})
	s.audit(ctx, caller, models.AuditActionUserUpdate, user.ID, oldPayload, newPayload, meta)
	return user, nil
}

// Delete deactivates a user. Appointments keep referencing the row.
func (s *UserService) Delete(ctx context.Context, caller models.Caller, id string, meta models.RequestMeta) error {
	if err := s.gate.Require(caller, ActionManageUsers, Resource{}); err != nil {
		return err
	}
	if caller.UserID == id {
		return appErrors.Clone(appErrors.ErrValidation, "admins cannot delete themselves")
	}
	user, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Internal(err, "failed to delete user")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"active": user.Active})
	s.audit(ctx, caller, models.AuditActionUserDelete, user.ID, oldPayload, []byte(`{"active":false}`), meta)
	return nil
}

func (s *UserService) find(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

func (s *UserService) audit(ctx context.Context, caller models.Caller, action, resourceID string, oldValues, newValues []byte, meta models.RequestMeta) {
	actorID := caller.UserID
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}
