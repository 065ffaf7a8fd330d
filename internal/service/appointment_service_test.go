package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
	"github.com/noah-isme/sma-booking-api/pkg/export"
)

func TestClaimBooksOfferedSlot(t *testing.T) {
	f := newBookingFixture()

	appt, err := f.appointments.Claim(context.Background(), parentOf(studentAID), claimAt(mondayAt(9, 20)))
	require.NoError(t, err)

	assert.Equal(t, models.AppointmentBooked, appt.Status)
	assert.Equal(t, mondayAt(9, 40), appt.EndTime)
	assert.Equal(t, "Ibu Andi", appt.ParentName)
	assert.Equal(t, "parent.a@mail.test", appt.ParentEmail)
	assert.Equal(t, "Bu Sari", appt.TeacherName)
	require.NotNil(t, appt.WindowID)
	assert.Len(t, f.notifier.booked, 1)
	assert.Contains(t, f.cache.invalidated, teacherAID)
}

func TestClaimSameSlotTwiceConflicts(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	_, err := f.appointments.Claim(ctx, parentOf(studentAID), claimAt(mondayAt(9, 20)))
	require.NoError(t, err)

	_, err = f.appointments.Claim(ctx, parentOf(studentBID), claimAt(mondayAt(9, 20)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrSlotAlreadyBooked))
	assert.Equal(t, 409, appErrors.FromError(err).Status)
	assert.Equal(t, 1, f.ledger.bookedCount(teacherAID))
}

func TestConcurrentClaimsHaveSingleWinner(t *testing.T) {
	f := newBookingFixture()
	const parents = 32

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < parents; i++ {
		studentID := studentAID
		if i%2 == 1 {
			studentID = studentBID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.appointments.Claim(context.Background(), parentOf(studentID), claimAt(mondayAt(9, 20)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, appErrors.ErrSlotAlreadyBooked):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, parents-1, conflicts)
	assert.Equal(t, 1, f.ledger.bookedCount(teacherAID))
}

func TestClaimRejectsSlotNotOffered(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	cases := map[string]models.ClaimRequest{
		"misaligned start":   claimAt(mondayAt(9, 10)),
		"outside window":     claimAt(mondayAt(10, 0)),
		"different duration": {TeacherID: teacherAID, StartTime: mondayAt(9, 0), SlotDuration: 10},
		"other teacher":      {TeacherID: teacherBID, StartTime: mondayAt(9, 0), SlotDuration: 20},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.appointments.Claim(ctx, parentOf(studentAID), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrValidation), err.Error())
		})
	}
	assert.Zero(t, f.ledger.bookedCount(teacherAID))
}

func TestClaimRejectsPastSlot(t *testing.T) {
	f := newBookingFixture()
	f.appointments.now = func() time.Time { return mondayAt(9, 30) }

	_, err := f.appointments.Claim(context.Background(), parentOf(studentAID), claimAt(mondayAt(9, 20)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Contains(t, err.Error(), "past")
}

func TestClaimRequiresParent(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	_, err := f.appointments.Claim(ctx, teacherCaller(teacherAID), claimAt(mondayAt(9, 0)))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.appointments.Claim(ctx, adminCaller(), claimAt(mondayAt(9, 0)))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestClaimUnknownOrInactiveTeacher(t *testing.T) {
	f := newBookingFixture()
	f.teachers.users[teacherAID].Active = false

	_, err := f.appointments.Claim(context.Background(), parentOf(studentAID), claimAt(mondayAt(9, 0)))
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestClaimValidatesPayload(t *testing.T) {
	f := newBookingFixture()
	req := claimAt(mondayAt(9, 0))
	req.SlotDuration = 45

	_, err := f.appointments.Claim(context.Background(), parentOf(studentAID), req)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestCancelledSlotCanBeClaimedAgain(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	appt, err := f.appointments.Claim(ctx, parentOf(studentAID), claimAt(mondayAt(9, 20)))
	require.NoError(t, err)
	_, _, err = f.appointments.Cancel(ctx, parentOf(studentAID), appt.ID, models.CancelRequest{Reason: "sick"})
	require.NoError(t, err)

	again, err := f.appointments.Claim(ctx, parentOf(studentBID), claimAt(mondayAt(9, 20)))
	require.NoError(t, err)
	assert.NotEqual(t, appt.ID, again.ID)
}

func TestCancelByParentIsIdempotent(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	appt, err := f.appointments.Claim(ctx, parentOf(studentAID), claimAt(mondayAt(9, 0)))
	require.NoError(t, err)

	cancelled, already, err := f.appointments.Cancel(ctx, parentOf(studentAID), appt.ID, models.CancelRequest{Reason: "  clash  "})
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, models.AppointmentCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "clash", *cancelled.CancellationReason)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, models.CallerParent, *cancelled.CancelledBy)
	assert.Len(t, f.notifier.cancelled, 1)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionAppointmentCancel, f.audit.logs[0].Action)
	assert.Nil(t, f.audit.logs[0].UserID)

	second, already, err := f.appointments.Cancel(ctx, parentOf(studentAID), appt.ID, models.CancelRequest{})
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, *cancelled.CancelledAt, *second.CancelledAt)
	assert.Len(t, f.notifier.cancelled, 1)
	assert.Len(t, f.audit.logs, 1)
}

func TestCancelAuthorization(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	appt, err := f.appointments.Claim(ctx, parentOf(studentAID), claimAt(mondayAt(9, 0)))
	require.NoError(t, err)

	_, _, err = f.appointments.Cancel(ctx, parentOf(studentBID), appt.ID, models.CancelRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden), "foreign parent")

	_, _, err = f.appointments.Cancel(ctx, parentOf(studentAID), "appt-missing", models.CancelRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden), "parent with unknown id")

	_, _, err = f.appointments.Cancel(ctx, teacherCaller(teacherBID), appt.ID, models.CancelRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden), "other teacher")

	_, _, err = f.appointments.Cancel(ctx, teacherCaller(teacherAID), "appt-missing", models.CancelRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound), "teacher with unknown id")

	cancelled, _, err := f.appointments.Cancel(ctx, teacherCaller(teacherAID), appt.ID, models.CancelRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.CallerTeacher, *cancelled.CancelledBy)
	require.Len(t, f.audit.logs, 1)
	require.NotNil(t, f.audit.logs[0].UserID)
	assert.Equal(t, teacherAID, *f.audit.logs[0].UserID)
}

func TestAdminCanCancelAnyAppointment(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	appt, err := f.appointments.Claim(ctx, parentOf(studentAID), claimAt(mondayAt(9, 40)))
	require.NoError(t, err)

	cancelled, already, err := f.appointments.Cancel(ctx, adminCaller(), appt.ID, models.CancelRequest{Reason: "school closed"})
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, models.CallerAdmin, *cancelled.CancelledBy)
}

func TestConcurrentCancelsChangeStateOnce(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	appt, err := f.appointments.Claim(ctx, parentOf(studentAID), claimAt(mondayAt(9, 0)))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, already, err := f.appointments.Cancel(ctx, teacherCaller(teacherAID), appt.ID, models.CancelRequest{})
			assert.NoError(t, err)
			if !already {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, changes)
	assert.Len(t, f.notifier.cancelled, 1)
}

func TestGetAppointmentVisibility(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	appt, err := f.appointments.Claim(ctx, parentOf(studentAID), claimAt(mondayAt(9, 0)))
	require.NoError(t, err)

	got, err := f.appointments.Get(ctx, parentOf(studentAID), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Andi", got.StudentName)

	_, err = f.appointments.Get(ctx, parentOf(studentBID), appt.ID)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.appointments.Get(ctx, teacherCaller(teacherAID), appt.ID)
	assert.NoError(t, err)
}

func TestListsArePinnedToCaller(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	_, err := f.appointments.Claim(ctx, parentOf(studentAID), claimAt(mondayAt(9, 0)))
	require.NoError(t, err)
	_, err = f.appointments.Claim(ctx, parentOf(studentBID), claimAt(mondayAt(9, 20)))
	require.NoError(t, err)

	items, pagination, err := f.appointments.ListForStudent(ctx, parentOf(studentAID), models.AppointmentFilter{StudentID: studentBID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, studentAID, items[0].StudentID)
	assert.Equal(t, 1, pagination.TotalCount)

	items, _, err = f.appointments.ListForTeacher(ctx, teacherCaller(teacherBID), models.AppointmentFilter{TeacherID: teacherAID})
	require.NoError(t, err)
	assert.Empty(t, items)

	items, _, err = f.appointments.ListForTeacher(ctx, adminCaller(), models.AppointmentFilter{TeacherID: teacherAID})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, _, err = f.appointments.ListForTeacher(ctx, parentOf(studentAID), models.AppointmentFilter{})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestExportRendersTeacherAppointments(t *testing.T) {
	f := newBookingFixture()
	ctx := context.Background()

	_, err := f.appointments.Claim(ctx, parentOf(studentAID), claimAt(mondayAt(9, 0)))
	require.NoError(t, err)

	file, err := f.appointments.Export(ctx, teacherCaller(teacherAID), models.AppointmentFilter{}, export.FormatCSV)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(file.Filename, ".csv"))
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)
	body := string(file.Body)
	assert.Contains(t, body, "Date,Start,End,Teacher,Student")
	assert.Contains(t, body, "2030-01-07,09:00,09:20,Bu Sari,Andi")

	_, err = f.appointments.Export(ctx, teacherCaller(teacherAID), models.AppointmentFilter{}, export.Format("doc"))
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
