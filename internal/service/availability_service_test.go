package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

func windowRequest(date, start, end string, slot int) models.AvailabilityWindowRequest {
	return models.AvailabilityWindowRequest{Date: date, StartTime: start, EndTime: end, SlotDuration: slot}
}

func mondayRange() models.SlotQuery {
	return models.SlotQuery{TeacherID: teacherAID, From: mondayAt(0, 0), To: mondayAt(23, 59)}
}

func TestAvailabilityCreateForTeacher(t *testing.T) {
	f := newBookingFixture()
	req := windowRequest("2030-01-08", "13:00", "14:00", 15)
	req.BreakDuration = 5
	req.RecurringWeeks = 2

	window, err := f.availability.Create(context.Background(), teacherCaller(teacherAID), req)
	require.NoError(t, err)
	assert.Equal(t, teacherAID, window.TeacherID)
	assert.NotEmpty(t, window.ID)
	assert.Equal(t, 3, SlotCount(*window))
	assert.Contains(t, f.cache.invalidated, teacherAID)
}

func TestAvailabilityCreateStoresPaddedClock(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	window, err := f.availability.Create(ctx, teacherCaller(teacherAID), windowRequest("2030-01-09", "9:00", " 10:00", 20))
	require.NoError(t, err)
	assert.Equal(t, "09:00", window.StartTime)
	assert.Equal(t, "10:00", window.EndTime)
	assert.Equal(t, 3, SlotCount(*window))

	stored, err := f.windows.FindByID(ctx, window.ID)
	require.NoError(t, err)
	assert.Equal(t, "09:00", stored.StartTime)
	assert.Equal(t, "10:00", stored.EndTime)

	updated, err := f.availability.Update(ctx, teacherCaller(teacherAID), window.ID, windowRequest("2030-01-09", "8:05", "9:45", 20))
	require.NoError(t, err)
	assert.Equal(t, "08:05", updated.StartTime)
	assert.Equal(t, "09:45", updated.EndTime)
}

func TestAvailabilityCreateValidation(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	cases := []struct {
		name string
		req  models.AvailabilityWindowRequest
		want *appErrors.Error
	}{
		{"end before start", windowRequest("2030-01-08", "10:00", "09:00", 20), appErrors.ErrInvalidWindow},
		{"slot too long", windowRequest("2030-01-08", "09:00", "11:00", 45), appErrors.ErrInvalidDuration},
		{"slot too short", windowRequest("2030-01-08", "09:00", "11:00", 5), appErrors.ErrInvalidDuration},
		{"bad clock", windowRequest("2030-01-08", "9am", "11:00", 20), appErrors.ErrValidation},
		{"too many weeks", func() models.AvailabilityWindowRequest {
			r := windowRequest("2030-01-08", "09:00", "11:00", 20)
			r.RecurringWeeks = 13
			return r
		}(), appErrors.ErrInvalidWindow},
		{"long break", func() models.AvailabilityWindowRequest {
			r := windowRequest("2030-01-08", "09:00", "11:00", 20)
			r.BreakDuration = 61
			return r
		}(), appErrors.ErrInvalidDuration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.availability.Create(ctx, teacherCaller(teacherAID), tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), err.Error())
		})
	}
}

func TestAvailabilityCreateRejectsOverlap(t *testing.T) {
	f := newBookingFixture()

	_, err := f.availability.Create(context.Background(), teacherCaller(teacherAID), windowRequest("2030-01-07", "09:30", "10:30", 20))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	_, err = f.availability.Create(context.Background(), teacherCaller(teacherAID), windowRequest("2030-01-07", "10:00", "11:00", 20))
	assert.NoError(t, err)
}

func TestAvailabilityCreateRecurringOverlap(t *testing.T) {
	f := newBookingFixture()
	req := windowRequest("2029-12-31", "09:40", "10:20", 20)
	req.RecurringWeeks = 1

	_, err := f.availability.Create(context.Background(), teacherCaller(teacherAID), req)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestAvailabilityOwnership(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	req := windowRequest("2030-01-08", "09:00", "10:00", 20)
	req.TeacherID = teacherBID
	_, err := f.availability.Create(ctx, teacherCaller(teacherAID), req)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.availability.Create(ctx, adminCaller(), windowRequest("2030-01-08", "09:00", "10:00", 20))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	window, err := f.availability.Create(ctx, adminCaller(), req)
	require.NoError(t, err)
	assert.Equal(t, teacherBID, window.TeacherID)

	err = f.availability.Delete(ctx, teacherCaller(teacherAID), window.ID)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.availability.Create(ctx, parentOf(studentAID), req)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	windows, err := f.availability.List(ctx, teacherCaller(teacherAID), models.AvailabilityFilter{TeacherID: teacherBID})
	require.NoError(t, err)
	for _, w := range windows {
		assert.Equal(t, teacherAID, w.TeacherID)
	}
}

func TestAvailabilityUpdateAndDelete(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()
	existing := f.windows.windows[0]

	updated, err := f.availability.Update(ctx, teacherCaller(teacherAID), existing.ID, windowRequest("2030-01-07", "09:00", "11:00", 30))
	require.NoError(t, err)
	assert.Equal(t, existing.ID, updated.ID)
	assert.Equal(t, "11:00", updated.EndTime)

	move := windowRequest("2030-01-07", "09:00", "11:00", 30)
	move.TeacherID = teacherBID
	_, err = f.availability.Update(ctx, adminCaller(), existing.ID, move)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	require.NoError(t, f.availability.Delete(ctx, teacherCaller(teacherAID), existing.ID))
	_, err = f.availability.Get(ctx, teacherCaller(teacherAID), existing.ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestSlotsMarksBookedAndPast(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	_, err := f.appointments.Claim(ctx, parentOf(studentAID), claimAt(mondayAt(9, 20)))
	require.NoError(t, err)

	q := mondayRange()
	q.View = models.SlotViewAll
	all, err := f.availability.Slots(ctx, parentOf(studentBID), q)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Available)
	assert.False(t, all[1].Available)
	assert.True(t, all[2].Available)
	assert.Equal(t, "Room 101", all[0].Location)

	available, err := f.availability.Slots(ctx, models.Caller{}, mondayRange())
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, mondayAt(9, 0), available[0].Start)
	assert.Equal(t, mondayAt(9, 40), available[1].Start)

	f.availability.now = func() time.Time { return mondayAt(9, 10) }
	f.cache.entries = map[string][]models.Slot{}
	later, err := f.availability.Slots(ctx, models.Caller{}, mondayRange())
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, mondayAt(9, 40), later[0].Start)
}

func TestSlotsServedFromCacheUntilInvalidated(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	first, err := f.availability.Slots(ctx, models.Caller{}, mondayRange())
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.Len(t, f.cache.entries, 1)

	f.windows.listErr = errors.New("db down")
	cached, err := f.availability.Slots(ctx, models.Caller{}, mondayRange())
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	f.availability.InvalidateTeacher(ctx, teacherAID)
	_, err = f.availability.Slots(ctx, models.Caller{}, mondayRange())
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestSlotsQueryValidation(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	q := mondayRange()
	q.View = "booked"
	_, err := f.availability.Slots(ctx, models.Caller{}, q)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	q = mondayRange()
	q.To = q.From
	_, err = f.availability.Slots(ctx, models.Caller{}, q)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	q = mondayRange()
	q.To = q.From.AddDate(1, 0, 0)
	_, err = f.availability.Slots(ctx, models.Caller{}, q)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	q = mondayRange()
	q.TeacherID = "99999999-9999-4999-8999-999999999999"
	_, err = f.availability.Slots(ctx, models.Caller{}, q)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestSlotsRecurringWindow(t *testing.T) {
	f := newBookingFixture()
	f.windows.windows[0].RecurringWeeks = 2

	q := models.SlotQuery{TeacherID: teacherAID, From: mondayAt(0, 0), To: mondayAt(0, 0).AddDate(0, 0, 21)}
	slots, err := f.availability.Slots(context.Background(), models.Caller{}, q)
	require.NoError(t, err)
	require.Len(t, slots, 9)
	assert.Equal(t, mondayAt(9, 0).AddDate(0, 0, 14), slots[6].Start)
}
