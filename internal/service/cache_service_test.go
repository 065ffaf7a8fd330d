package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

type stubCacheRepo struct {
	values    map[string][]models.Slot
	getErr    error
	setErr    error
	deleteErr error
	setTTL    time.Duration
	deleted   []string
}

func (s *stubCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	if s.getErr != nil {
		return s.getErr
	}
	v, ok := s.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*(dest.(*[]models.Slot)) = v
	return nil
}

func (s *stubCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.setTTL = ttl
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = value.([]models.Slot)
	return nil
}

func (s *stubCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	s.deleted = append(s.deleted, pattern)
	return s.deleteErr
}

func slotQuery(view models.SlotView) models.SlotQuery {
	return models.SlotQuery{TeacherID: teacherAID, From: mondayAt(0, 0), To: mondayAt(23, 59), View: view}
}

func TestSlotKeyDefaultsView(t *testing.T) {
	assert.Equal(t, SlotKey(slotQuery(models.SlotViewAvailable)), SlotKey(slotQuery("")))
	assert.NotEqual(t, SlotKey(slotQuery(models.SlotViewAvailable)), SlotKey(slotQuery(models.SlotViewAll)))
	assert.Equal(t, "slots:"+teacherAID+":*", TeacherPattern(teacherAID))
}

func TestCacheServiceRoundTripAndMetrics(t *testing.T) {
	repo := &stubCacheRepo{values: map[string][]models.Slot{}}
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, 30*time.Second, zap.NewNop())
	ctx := context.Background()
	q := slotQuery(models.SlotViewAll)

	_, ok := svc.GetSlots(ctx, q)
	assert.False(t, ok)

	slots := []models.Slot{{TeacherID: teacherAID, Start: mondayAt(9, 0), End: mondayAt(9, 20), Duration: 20}}
	svc.PutSlots(ctx, q, slots)
	assert.Equal(t, 30*time.Second, repo.setTTL)

	got, ok := svc.GetSlots(ctx, q)
	require.True(t, ok)
	assert.Equal(t, slots, got)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheMisses))
	assert.Equal(t, 0.5, testutil.ToFloat64(metrics.cacheHitRatio))

	svc.InvalidateTeacher(ctx, teacherAID)
	assert.Equal(t, []string{TeacherPattern(teacherAID)}, repo.deleted)
}

func TestCacheServiceSwallowsBackendErrors(t *testing.T) {
	boom := errors.New("redis down")
	repo := &stubCacheRepo{values: map[string][]models.Slot{}, getErr: boom, setErr: boom, deleteErr: boom}
	svc := NewCacheService(repo, nil, 0, nil)
	ctx := context.Background()
	q := slotQuery("")

	_, ok := svc.GetSlots(ctx, q)
	assert.False(t, ok)

	svc.PutSlots(ctx, q, nil)
	assert.Equal(t, time.Minute, repo.setTTL)
	svc.InvalidateTeacher(ctx, teacherAID)
	assert.Len(t, repo.deleted, 1)
}

func TestCacheServiceDisabled(t *testing.T) {
	svc := NewCacheService(nil, nil, time.Minute, zap.NewNop())
	assert.False(t, svc.Enabled())

	_, ok := svc.GetSlots(context.Background(), slotQuery(""))
	assert.False(t, ok)
	svc.PutSlots(context.Background(), slotQuery(""), nil)
	svc.InvalidateTeacher(context.Background(), teacherAID)

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
}
