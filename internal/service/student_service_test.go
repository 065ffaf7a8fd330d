package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

type mockStudentRepo struct {
	students map[string]*models.StudentDetail
	created  []*models.Student
	seq      int
}

func newMockStudentRepo() *mockStudentRepo {
	return &mockStudentRepo{students: map[string]*models.StudentDetail{}}
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	var out []models.StudentDetail
	for _, s := range m.students {
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		copy := *s
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) FindByAccessCode(ctx context.Context, code string) (*models.StudentDetail, error) {
	for _, s := range m.students {
		if s.AccessCode == code {
			copy := *s
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) ExistsByNIS(ctx context.Context, nis string, excludeID string) (bool, error) {
	for _, s := range m.students {
		if s.NIS == nis && s.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	m.seq++
	student.ID = fmt.Sprintf("student-%d", m.seq)
	m.created = append(m.created, student)
	m.students[student.ID] = &models.StudentDetail{Student: *student}
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	m.students[student.ID].Student = *student
	return nil
}

func (m *mockStudentRepo) Deactivate(ctx context.Context, id string) error {
	m.students[id].Active = false
	return nil
}

type stubClassLookup struct {
	classes map[string]*models.ClassDetail
}

func (s stubClassLookup) FindByID(ctx context.Context, id string) (*models.ClassDetail, error) {
	if c, ok := s.classes[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

type stubCodeIssuer struct {
	codes []string
	err   error
	calls int
}

func (s *stubCodeIssuer) Generate(ctx context.Context) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	code := s.codes[0]
	s.codes = s.codes[1:]
	return code, nil
}

const classID = "66666666-6666-4666-8666-666666666666"

func newStudentServiceForTest(ttl time.Duration) (*StudentService, *mockStudentRepo, *stubCodeIssuer, *fakeAudit) {
	repo := newMockStudentRepo()
	classes := stubClassLookup{classes: map[string]*models.ClassDetail{classID: {Class: models.Class{ID: classID, Name: "7A"}}}}
	codes := &stubCodeIssuer{codes: []string{"ABCDE12345", "ZZZZZ99999"}}
	audit := &fakeAudit{}
	svc := NewStudentService(repo, classes, codes, audit, nil, validator.New(), zap.NewNop(), ttl)
	svc.now = func() time.Time { return testNow }
	return svc, repo, codes, audit
}

func validStudentRequest() StudentRequest {
	class := classID
	return StudentRequest{NIS: "2024001", FullName: "Andi", ClassID: &class, ParentName: "Ibu Andi", ParentEmail: "Parent@Mail.test"}
}

func TestStudentServiceCreateIssuesAccessCode(t *testing.T) {
	svc, repo, codes, audit := newStudentServiceForTest(30 * 24 * time.Hour)

	student, err := svc.Create(context.Background(), adminCaller(), validStudentRequest())
	require.NoError(t, err)
	assert.Equal(t, "ABCDE12345", student.AccessCode)
	assert.Equal(t, "parent@mail.test", student.ParentEmail)
	assert.True(t, student.Active)
	require.NotNil(t, student.AccessCodeExpiresAt)
	assert.Equal(t, testNow.Add(30*24*time.Hour), *student.AccessCodeExpiresAt)
	assert.Equal(t, 1, codes.calls)
	require.Len(t, repo.created, 1)
	assert.Equal(t, "ABCDE12345", repo.created[0].AccessCode)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionStudentCreate, audit.logs[0].Action)
}

func TestStudentServiceCreateTrimsBeforeValidation(t *testing.T) {
	svc, repo, _, _ := newStudentServiceForTest(0)
	ctx := context.Background()

	req := validStudentRequest()
	req.NIS = " 2024009 "
	req.ParentEmail = "  Ibu.Andi@Mail.test "
	req.ParentPhone = " 0812 "
	student, err := svc.Create(ctx, adminCaller(), req)
	require.NoError(t, err)
	assert.Equal(t, "2024009", student.NIS)
	assert.Equal(t, "ibu.andi@mail.test", student.ParentEmail)
	assert.Equal(t, "0812", student.ParentPhone)

	req.NIS = "2024009"
	_, err = svc.Create(ctx, adminCaller(), req)
	assert.True(t, errors.Is(err, appErrors.ErrConflict), "duplicate trimmed nis")

	blank := validStudentRequest()
	blank.NIS = "2024010"
	blank.ParentName = "  "
	_, err = svc.Create(ctx, adminCaller(), blank)
	assert.True(t, errors.Is(err, appErrors.ErrValidation), "blank parent name")
	assert.Len(t, repo.created, 1)
}

func TestStudentServiceCreateWithoutTTL(t *testing.T) {
	svc, _, _, _ := newStudentServiceForTest(0)

	student, err := svc.Create(context.Background(), adminCaller(), validStudentRequest())
	require.NoError(t, err)
	assert.Nil(t, student.AccessCodeExpiresAt)
}

func TestStudentServiceCreateFailures(t *testing.T) {
	svc, repo, codes, _ := newStudentServiceForTest(0)
	ctx := context.Background()

	_, err := svc.Create(ctx, teacherCaller(teacherAID), validStudentRequest())
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Create(ctx, adminCaller(), validStudentRequest())
	require.NoError(t, err)
	_, err = svc.Create(ctx, adminCaller(), validStudentRequest())
	assert.True(t, errors.Is(err, appErrors.ErrConflict), "duplicate nis")

	req := validStudentRequest()
	req.NIS = "2024002"
	missing := "77777777-7777-4777-8777-777777777777"
	req.ClassID = &missing
	_, err = svc.Create(ctx, adminCaller(), req)
	assert.True(t, errors.Is(err, appErrors.ErrValidation), "unknown class")

	codes.err = appErrors.Clone(appErrors.ErrAccessCodeExhausted, "")
	req.ClassID = nil
	_, err = svc.Create(ctx, adminCaller(), req)
	assert.True(t, errors.Is(err, appErrors.ErrAccessCodeExhausted))
	assert.Len(t, repo.created, 1)
}

func TestStudentServiceUpdateKeepsAccessCode(t *testing.T) {
	svc, _, _, _ := newStudentServiceForTest(0)
	ctx := context.Background()

	created, err := svc.Create(ctx, adminCaller(), validStudentRequest())
	require.NoError(t, err)

	req := validStudentRequest()
	req.FullName = "Andi Pratama"
	updated, err := svc.Update(ctx, adminCaller(), created.ID, req)
	require.NoError(t, err)
	assert.Equal(t, "Andi Pratama", updated.FullName)
	assert.Equal(t, created.AccessCode, updated.AccessCode)

	_, err = svc.Update(ctx, adminCaller(), "missing", req)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestAuthenticateParent(t *testing.T) {
	svc, repo, _, _ := newStudentServiceForTest(time.Hour)
	ctx := context.Background()

	created, err := svc.Create(ctx, adminCaller(), validStudentRequest())
	require.NoError(t, err)

	student, err := svc.AuthenticateParent(ctx, " abcde12345 ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, student.ID)

	for name, code := range map[string]string{"malformed": "abc", "unknown": "QQQQQ00000", "symbols": "ABCDE-1234"} {
		_, err := svc.AuthenticateParent(ctx, code)
		assert.True(t, errors.Is(err, appErrors.ErrUnauthorized), name)
	}

	svc.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	_, err = svc.AuthenticateParent(ctx, "ABCDE12345")
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized), "expired")

	svc.now = func() time.Time { return testNow }
	repo.students[created.ID].Active = false
	_, err = svc.AuthenticateParent(ctx, "ABCDE12345")
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized), "inactive")
}

func TestParentProfile(t *testing.T) {
	svc, _, _, _ := newStudentServiceForTest(0)
	ctx := context.Background()

	created, err := svc.Create(ctx, adminCaller(), validStudentRequest())
	require.NoError(t, err)

	profile, err := svc.ParentProfile(ctx, ParentCaller(created.ID))
	require.NoError(t, err)
	assert.Equal(t, "Andi", profile.StudentName)
	assert.Equal(t, "Ibu Andi", profile.ParentName)

	_, err = svc.ParentProfile(ctx, teacherCaller(teacherAID))
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestStudentServiceDeactivate(t *testing.T) {
	svc, repo, _, _ := newStudentServiceForTest(0)
	ctx := context.Background()

	created, err := svc.Create(ctx, adminCaller(), validStudentRequest())
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, adminCaller(), created.ID))
	assert.False(t, repo.students[created.ID].Active)

	err = svc.Deactivate(ctx, adminCaller(), "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
