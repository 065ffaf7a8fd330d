package service

import (
	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

// Action is an operation guarded by the role gate.
type Action string

const (
	ActionManageAvailability Action = "availability:manage"
	ActionViewAvailability   Action = "availability:view"
	ActionBook               Action = "appointment:book"
	ActionCancelAppointment  Action = "appointment:cancel"
	ActionViewAppointment    Action = "appointment:view"
	ActionListAppointments   Action = "appointment:list"
	ActionManageStudents     Action = "students:manage"
	ActionManageClasses      Action = "classes:manage"
	ActionManageUsers        Action = "users:manage"
)

// Resource identifies the owner of the data an action touches.
type Resource struct {
	TeacherID string
	StudentID string
}

// Decision is the outcome of an authorization check.
type Decision bool

const (
	Deny  Decision = false
	Allow Decision = true
)

// RoleGate decides whether a caller may perform an action on a resource.
// Teachers act on their own data, admins on everything except booking, and
// parents only on the student their access code resolved to.
type RoleGate struct{}

// NewRoleGate constructs a RoleGate.
func NewRoleGate() *RoleGate {
	return &RoleGate{}
}

// Authorize evaluates the rules for caller, action and resource.
func (g *RoleGate) Authorize(caller models.Caller, action Action, res Resource) Decision {
	if action == ActionViewAvailability {
		return Allow
	}

	switch caller.Kind {
	case models.CallerAdmin:
		return Decision(caller.UserID != "" && action != ActionBook)
	case models.CallerTeacher:
		if caller.UserID == "" || res.TeacherID != caller.UserID {
			return Deny
		}
		switch action {
		case ActionManageAvailability, ActionCancelAppointment, ActionViewAppointment, ActionListAppointments:
			return Allow
		}
		return Deny
	case models.CallerParent:
		if caller.StudentID == "" || res.StudentID != caller.StudentID {
			return Deny
		}
		switch action {
		case ActionBook, ActionCancelAppointment, ActionViewAppointment, ActionListAppointments:
			return Allow
		}
		return Deny
	}
	return Deny
}

// Require returns a FORBIDDEN error when Authorize denies.
func (g *RoleGate) Require(caller models.Caller, action Action, res Resource) error {
	if g.Authorize(caller, action, res) == Allow {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not allowed to "+actionLabel(action))
}

func actionLabel(action Action) string {
	switch action {
	case ActionManageAvailability:
		return "manage this availability"
	case ActionBook:
		return "book appointments"
	case ActionCancelAppointment:
		return "cancel this appointment"
	case ActionViewAppointment:
		return "view this appointment"
	case ActionListAppointments:
		return "list these appointments"
	case ActionManageStudents:
		return "manage students"
	case ActionManageClasses:
		return "manage classes"
	case ActionManageUsers:
		return "manage users"
	}
	return string(action)
}

// CallerFromClaims maps staff JWT claims to a caller.
func CallerFromClaims(claims *models.JWTClaims) models.Caller {
	if claims == nil {
		return models.Caller{}
	}
	switch claims.Role {
	case models.RoleAdmin:
		return models.Caller{Kind: models.CallerAdmin, UserID: claims.UserID}
	case models.RoleTeacher:
		return models.Caller{Kind: models.CallerTeacher, UserID: claims.UserID}
	}
	return models.Caller{}
}

// ParentCaller builds the caller for a parent authenticated by access code.
func ParentCaller(studentID string) models.Caller {
	return models.Caller{Kind: models.CallerParent, StudentID: studentID}
}
