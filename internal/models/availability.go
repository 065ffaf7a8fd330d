package models

import "time"

// Window and slot bounds in minutes.
const (
	MinSlotDuration   = 10
	MaxSlotDuration   = 30
	MaxBreakDuration  = 60
	MaxRecurringWeeks = 12
)

// AvailabilityWindow is a teacher-declared span of bookable time, optionally
// repeated weekly for RecurringWeeks additional weeks.
type AvailabilityWindow struct {
	ID             string    `db:"id" json:"id"`
	TeacherID      string    `db:"teacher_id" json:"teacher_id"`
	Date           time.Time `db:"date" json:"date"`
	StartTime      string    `db:"start_time" json:"start_time"`
	EndTime        string    `db:"end_time" json:"end_time"`
	SlotDuration   int       `db:"slot_duration" json:"slot_duration"`
	BreakDuration  int       `db:"break_duration" json:"break_duration"`
	RecurringWeeks int       `db:"recurring_weeks" json:"recurring_weeks"`
	Location       string    `db:"location" json:"location"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// LastDate returns the date of the final weekly occurrence.
func (w AvailabilityWindow) LastDate() time.Time {
	return w.Date.AddDate(0, 0, 7*w.RecurringWeeks)
}

// AvailabilityWindowRequest is the payload for creating or replacing a window.
type AvailabilityWindowRequest struct {
	TeacherID      string `json:"teacher_id" validate:"omitempty,uuid"`
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime      string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime        string `json:"end_time" validate:"required,datetime=15:04"`
	SlotDuration   int    `json:"slot_duration" validate:"required"`
	BreakDuration  int    `json:"break_duration"`
	RecurringWeeks int    `json:"recurring_weeks"`
	Location       string `json:"location" validate:"max=255"`
}

// AvailabilityFilter narrows window listings.
type AvailabilityFilter struct {
	TeacherID string
	From      *time.Time
	To        *time.Time
}

// SlotView selects which expanded slots are returned.
type SlotView string

const (
	SlotViewAvailable SlotView = "available"
	SlotViewAll       SlotView = "all"
)

// Slot is one bookable unit derived from a window. It is never stored alone.
type Slot struct {
	TeacherID string    `json:"teacher_id"`
	WindowID  string    `json:"window_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Duration  int       `json:"duration"`
	Location  string    `json:"location,omitempty"`
	Available bool      `json:"available"`
}

// SlotQuery requests the slots of one teacher in [From, To).
type SlotQuery struct {
	TeacherID string
	From      time.Time
	To        time.Time
	View      SlotView
}
