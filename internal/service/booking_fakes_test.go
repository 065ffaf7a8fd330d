package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

const (
	teacherAID = "11111111-1111-4111-8111-111111111111"
	teacherBID = "22222222-2222-4222-8222-222222222222"
	adminID    = "33333333-3333-4333-8333-333333333333"
	studentAID = "44444444-4444-4444-8444-444444444444"
	studentBID = "55555555-5555-4555-8555-555555555555"
)

var testNow = time.Date(2030, time.January, 1, 8, 0, 0, 0, time.UTC)

// 2030-01-07 is a Monday.
func mondayAt(hour, minute int) time.Time {
	return time.Date(2030, time.January, 7, hour, minute, 0, 0, time.UTC)
}

type fakeTeachers struct {
	users map[string]*models.User
}

func newFakeTeachers() *fakeTeachers {
	return &fakeTeachers{users: map[string]*models.User{
		teacherAID: {ID: teacherAID, FullName: "Bu Sari", Email: "sari@school.test", Role: models.RoleTeacher, Active: true},
		teacherBID: {ID: teacherBID, FullName: "Pak Budi", Email: "budi@school.test", Role: models.RoleTeacher, Active: true},
	}}
}

func (f *fakeTeachers) FindActiveTeacher(ctx context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok || !u.Active || u.Role != models.RoleTeacher {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

type fakeStudents struct {
	students map[string]*models.StudentDetail
}

func newFakeStudents() *fakeStudents {
	return &fakeStudents{students: map[string]*models.StudentDetail{
		studentAID: {Student: models.Student{ID: studentAID, FullName: "Andi", ParentName: "Ibu Andi", ParentEmail: "parent.a@mail.test", Active: true}},
		studentBID: {Student: models.Student{ID: studentBID, FullName: "Bela", ParentName: "Ayah Bela", ParentEmail: "parent.b@mail.test", Active: true}},
	}}
}

func (f *fakeStudents) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	s, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

type fakeWindows struct {
	mu      sync.Mutex
	windows []models.AvailabilityWindow
	seq     int
	listErr error
}

func (f *fakeWindows) FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.windows {
		if f.windows[i].ID == id {
			w := f.windows[i]
			return &w, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeWindows) List(ctx context.Context, filter models.AvailabilityFilter) ([]models.AvailabilityWindow, error) {
	return f.forTeacher(filter.TeacherID), nil
}

func (f *fakeWindows) ListForRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.AvailabilityWindow, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.forTeacher(teacherID), nil
}

func (f *fakeWindows) forTeacher(teacherID string) []models.AvailabilityWindow {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AvailabilityWindow
	for _, w := range f.windows {
		if teacherID == "" || w.TeacherID == teacherID {
			out = append(out, w)
		}
	}
	return out
}

func (f *fakeWindows) Create(ctx context.Context, w *models.AvailabilityWindow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	w.ID = fmt.Sprintf("window-%d", f.seq)
	f.windows = append(f.windows, *w)
	return nil
}

func (f *fakeWindows) Update(ctx context.Context, w *models.AvailabilityWindow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.windows {
		if f.windows[i].ID == w.ID {
			f.windows[i] = *w
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeWindows) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.windows {
		if f.windows[i].ID == id {
			f.windows = append(f.windows[:i], f.windows[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeWindows) add(w models.AvailabilityWindow) models.AvailabilityWindow {
	_ = f.Create(context.Background(), &w)
	return w
}

// fakeLedger stores appointments in memory and rejects overlapping booked
// rows for the same teacher the way the database exclusion constraint does.
type fakeLedger struct {
	mu       sync.Mutex
	rows     map[string]*models.Appointment
	seq      int
	students *fakeStudents
	teachers *fakeTeachers
}

func newFakeLedger(teachers *fakeTeachers, students *fakeStudents) *fakeLedger {
	return &fakeLedger{rows: map[string]*models.Appointment{}, teachers: teachers, students: students}
}

func (f *fakeLedger) Create(ctx context.Context, appt *models.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.rows {
		if other.TeacherID == appt.TeacherID && other.Status == models.AppointmentBooked &&
			appt.StartTime.Before(other.EndTime) && other.StartTime.Before(appt.EndTime) {
			return appErrors.Wrap(errors.New("exclusion violation"), appErrors.ErrSlotAlreadyBooked.Code, appErrors.ErrSlotAlreadyBooked.Status, "slot already booked")
		}
	}
	f.seq++
	appt.ID = fmt.Sprintf("appt-%d", f.seq)
	appt.CreatedAt = testNow
	appt.UpdatedAt = testNow
	row := *appt
	f.rows[appt.ID] = &row
	return nil
}

func (f *fakeLedger) FindByID(ctx context.Context, id string) (*models.AppointmentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return f.detail(*row), nil
}

func (f *fakeLedger) detail(row models.Appointment) *models.AppointmentDetail {
	d := &models.AppointmentDetail{Appointment: row}
	if t, ok := f.teachers.users[row.TeacherID]; ok {
		d.TeacherName = t.FullName
		d.TeacherEmail = t.Email
	}
	if s, ok := f.students.students[row.StudentID]; ok {
		d.StudentName = s.FullName
	}
	return d
}

func (f *fakeLedger) Cancel(ctx context.Context, id string, reason *string, by models.CallerKind, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != models.AppointmentBooked {
		return false, nil
	}
	row.Status = models.AppointmentCancelled
	row.CancellationReason = reason
	row.CancelledBy = &by
	row.CancelledAt = &at
	return true, nil
}

func (f *fakeLedger) List(ctx context.Context, filter models.AppointmentFilter) ([]models.AppointmentDetail, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AppointmentDetail
	for _, row := range f.rows {
		if filter.TeacherID != "" && row.TeacherID != filter.TeacherID {
			continue
		}
		if filter.StudentID != "" && row.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != nil && row.Status != *filter.Status {
			continue
		}
		out = append(out, *f.detail(*row))
	}
	return out, len(out), nil
}

func (f *fakeLedger) ListBooked(ctx context.Context, teacherID string, from, to time.Time) ([]models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Appointment
	for _, row := range f.rows {
		if row.TeacherID == teacherID && row.Status == models.AppointmentBooked &&
			row.StartTime.Before(to) && from.Before(row.EndTime) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeLedger) bookedCount(teacherID string) int {
	booked, _ := f.ListBooked(context.Background(), teacherID, time.Time{}, time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC))
	return len(booked)
}

type fakeNotifier struct {
	mu        sync.Mutex
	booked    []models.AppointmentDetail
	cancelled []models.AppointmentDetail
}

func (f *fakeNotifier) AppointmentBooked(ctx context.Context, appt models.AppointmentDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.booked = append(f.booked, appt)
}

func (f *fakeNotifier) AppointmentCancelled(ctx context.Context, appt models.AppointmentDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, appt)
}

type fakeAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	err  error
}

func (f *fakeAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return f.err
}

type fakeSlotCache struct {
	mu          sync.Mutex
	entries     map[string][]models.Slot
	invalidated []string
}

func newFakeSlotCache() *fakeSlotCache {
	return &fakeSlotCache{entries: map[string][]models.Slot{}}
}

func (f *fakeSlotCache) GetSlots(ctx context.Context, q models.SlotQuery) ([]models.Slot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slots, ok := f.entries[SlotKey(q)]
	return slots, ok
}

func (f *fakeSlotCache) PutSlots(ctx context.Context, q models.SlotQuery, slots []models.Slot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[SlotKey(q)] = slots
}

func (f *fakeSlotCache) InvalidateTeacher(ctx context.Context, teacherID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, teacherID)
	f.entries = map[string][]models.Slot{}
}

type bookingFixture struct {
	teachers     *fakeTeachers
	students     *fakeStudents
	windows      *fakeWindows
	ledger       *fakeLedger
	notifier     *fakeNotifier
	audit        *fakeAudit
	cache        *fakeSlotCache
	availability *AvailabilityService
	appointments *AppointmentService
}

// newBookingFixture wires both booking services over in-memory fakes with
// teacher A offering 09:00-10:00 in 20 minute slots on Monday 2030-01-07.
func newBookingFixture() *bookingFixture {
	f := &bookingFixture{
		teachers: newFakeTeachers(),
		students: newFakeStudents(),
		windows:  &fakeWindows{},
		notifier: &fakeNotifier{},
		audit:    &fakeAudit{},
		cache:    newFakeSlotCache(),
	}
	f.ledger = newFakeLedger(f.teachers, f.students)
	f.windows.add(models.AvailabilityWindow{
		TeacherID:    teacherAID,
		Date:         mondayAt(0, 0),
		StartTime:    "09:00",
		EndTime:      "10:00",
		SlotDuration: 20,
		Location:     "Room 101",
	})

	gate := NewRoleGate()
	f.availability = NewAvailabilityService(f.windows, f.ledger, f.teachers, f.cache, gate, nil, nil, nil, AvailabilityConfig{})
	f.availability.now = func() time.Time { return testNow }
	f.appointments = NewAppointmentService(f.ledger, f.teachers, f.students, f.availability, f.notifier, f.audit, gate, nil, nil, nil, AppointmentConfig{})
	f.appointments.now = func() time.Time { return testNow }
	return f
}

func parentOf(studentID string) models.Caller {
	return ParentCaller(studentID)
}

func teacherCaller(id string) models.Caller {
	return models.Caller{Kind: models.CallerTeacher, UserID: id}
}

func adminCaller() models.Caller {
	return models.Caller{Kind: models.CallerAdmin, UserID: adminID}
}

func claimAt(start time.Time) models.ClaimRequest {
	return models.ClaimRequest{TeacherID: teacherAID, StartTime: start, SlotDuration: 20}
}
