package service

import (
	"iter"
	"time"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

const clockLayout = "15:04"

// parseClock returns minutes after midnight for an "HH:MM" value.
func parseClock(value string) (int, bool) {
	t, err := time.Parse(clockLayout, value)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func windowBounds(w models.AvailabilityWindow) (int, int, error) {
	start, okStart := parseClock(w.StartTime)
	end, okEnd := parseClock(w.EndTime)
	if !okStart || !okEnd {
		return 0, 0, appErrors.Clone(appErrors.ErrInvalidWindow, "start_time and end_time must be HH:MM")
	}
	if end <= start {
		return 0, 0, appErrors.Clone(appErrors.ErrInvalidWindow, "end_time must be after start_time")
	}
	return start, end, nil
}

// ValidateWindow checks the shape of an availability window.
func ValidateWindow(w models.AvailabilityWindow) error {
	if w.Date.IsZero() {
		return appErrors.Clone(appErrors.ErrInvalidWindow, "date is required")
	}
	start, end, err := windowBounds(w)
	if err != nil {
		return err
	}
	if w.RecurringWeeks < 0 || w.RecurringWeeks > models.MaxRecurringWeeks {
		return appErrors.Clone(appErrors.ErrInvalidWindow, "recurring_weeks must be between 0 and 12")
	}
	if w.SlotDuration < models.MinSlotDuration || w.SlotDuration > models.MaxSlotDuration {
		return appErrors.Clone(appErrors.ErrInvalidDuration, "slot_duration must be between 10 and 30 minutes")
	}
	if w.BreakDuration < 0 || w.BreakDuration > models.MaxBreakDuration {
		return appErrors.Clone(appErrors.ErrInvalidDuration, "break_duration must be between 0 and 60 minutes")
	}
	if end-start < w.SlotDuration {
		return appErrors.Clone(appErrors.ErrInvalidWindow, "window is shorter than one slot")
	}
	return nil
}

// SlotCount returns the number of slots in one occurrence of the window. The
// remainder after the last full slot is left unbookable.
func SlotCount(w models.AvailabilityWindow) int {
	if ValidateWindow(w) != nil {
		return 0
	}
	start, end, _ := windowBounds(w)
	length := end - start
	return (length-w.SlotDuration)/(w.SlotDuration+w.BreakDuration) + 1
}

// ExpandWindow lazily yields every slot of the window and its weekly
// recurrences in chronological order, with wall-clock times in loc. Invalid
// windows yield nothing. The sequence can be ranged over any number of times.
func ExpandWindow(w models.AvailabilityWindow, loc *time.Location) iter.Seq[models.Slot] {
	if loc == nil {
		loc = time.UTC
	}
	valid := ValidateWindow(w) == nil
	return func(yield func(models.Slot) bool) {
		if !valid {
			return
		}
		first, last, _ := windowBounds(w)
		step := w.SlotDuration + w.BreakDuration
		year, month, day := w.Date.Date()
		for week := 0; week <= w.RecurringWeeks; week++ {
			for offset := first; offset+w.SlotDuration <= last; offset += step {
				start := time.Date(year, month, day+7*week, 0, offset, 0, 0, loc)
				slot := models.Slot{
					TeacherID: w.TeacherID,
					WindowID:  w.ID,
					Start:     start,
					End:       start.Add(time.Duration(w.SlotDuration) * time.Minute),
					Duration:  w.SlotDuration,
					Location:  w.Location,
					Available: true,
				}
				if !yield(slot) {
					return
				}
			}
		}
	}
}

// ExpandRange yields the slots of the window whose start lies in [from, to).
func ExpandRange(w models.AvailabilityWindow, loc *time.Location, from, to time.Time) iter.Seq[models.Slot] {
	return func(yield func(models.Slot) bool) {
		for slot := range ExpandWindow(w, loc) {
			if !slot.Start.Before(to) {
				return
			}
			if slot.Start.Before(from) {
				continue
			}
			if !yield(slot) {
				return
			}
		}
	}
}

// occurrenceDates lists the calendar days (UTC midnight) on which w recurs.
func occurrenceDates(w models.AvailabilityWindow) []time.Time {
	year, month, day := w.Date.Date()
	dates := make([]time.Time, 0, w.RecurringWeeks+1)
	for week := 0; week <= w.RecurringWeeks; week++ {
		dates = append(dates, time.Date(year, month, day+7*week, 0, 0, 0, 0, time.UTC))
	}
	return dates
}

// windowsOverlap reports whether two windows share a day with intersecting hours.
func windowsOverlap(a, b models.AvailabilityWindow) bool {
	aStart, aEnd, errA := windowBounds(a)
	bStart, bEnd, errB := windowBounds(b)
	if errA != nil || errB != nil {
		return false
	}
	if aStart >= bEnd || bStart >= aEnd {
		return false
	}
	days := make(map[time.Time]struct{}, a.RecurringWeeks+1)
	for _, d := range occurrenceDates(a) {
		days[d] = struct{}{}
	}
	for _, d := range occurrenceDates(b) {
		if _, ok := days[d]; ok {
			return true
		}
	}
	return false
}
