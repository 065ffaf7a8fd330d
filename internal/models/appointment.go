package models

import "time"

// AppointmentStatus enumerates the lifecycle of an appointment.
type AppointmentStatus string

const (
	AppointmentBooked    AppointmentStatus = "booked"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// CallerKind identifies who is acting on the booking API.
type CallerKind string

const (
	CallerTeacher CallerKind = "teacher"
	CallerAdmin   CallerKind = "admin"
	CallerParent  CallerKind = "parent"
)

// Caller is the authenticated identity handed to the authorization layer.
// Staff callers carry UserID; parents carry the StudentID their access code resolved to.
type Caller struct {
	Kind      CallerKind
	UserID    string
	StudentID string
}

// Appointment is a claimed slot. Rows are never deleted; cancellation only
// changes status and records who cancelled and why.
type Appointment struct {
	ID                 string            `db:"id" json:"id"`
	TeacherID          string            `db:"teacher_id" json:"teacher_id"`
	StudentID          string            `db:"student_id" json:"student_id"`
	WindowID           *string           `db:"window_id" json:"window_id,omitempty"`
	StartTime          time.Time         `db:"start_time" json:"start_time"`
	EndTime            time.Time         `db:"end_time" json:"end_time"`
	ParentName         string            `db:"parent_name" json:"parent_name"`
	ParentEmail        string            `db:"parent_email" json:"parent_email"`
	ParentPhone        string            `db:"parent_phone" json:"parent_phone"`
	Notes              string            `db:"notes" json:"notes"`
	Status             AppointmentStatus `db:"status" json:"status"`
	CancellationReason *string           `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledBy        *CallerKind       `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time        `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

// AppointmentDetail joins teacher and student names for listings and exports.
type AppointmentDetail struct {
	Appointment
	TeacherName  string `db:"teacher_name" json:"teacher_name"`
	TeacherEmail string `db:"teacher_email" json:"-"`
	StudentName  string `db:"student_name" json:"student_name"`
}

// ClaimRequest is the payload a parent sends to book a slot.
type ClaimRequest struct {
	TeacherID    string    `json:"teacher_id" validate:"required,uuid"`
	StartTime    time.Time `json:"start_time" validate:"required"`
	SlotDuration int       `json:"slot_duration" validate:"required,min=10,max=30"`
	ParentName   string    `json:"parent_name" validate:"omitempty,max=255"`
	ParentEmail  string    `json:"parent_email" validate:"omitempty,email"`
	ParentPhone  string    `json:"parent_phone" validate:"omitempty,max=32"`
	Notes        string    `json:"notes" validate:"max=1000"`
}

// CancelRequest carries the optional reason for a cancellation.
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// AppointmentFilter narrows appointment listings.
type AppointmentFilter struct {
	TeacherID string
	StudentID string
	Status    *AppointmentStatus
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}
