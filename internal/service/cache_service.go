package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-booking-api/internal/models"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
)

const slotKeyPrefix = "slots"

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService caches expanded slot views per teacher and query range.
// Backend failures are logged and read as misses.
type CacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
}

// NewCacheService constructs a slot cache. A nil repo disables caching.
func NewCacheService(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger) *CacheService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, ttl: ttl, logger: logger}
}

// Enabled reports whether a backend is configured.
func (s *CacheService) Enabled() bool {
	return s != nil && s.repo != nil
}

// SlotKey is the cache key of a slot query. All keys of a teacher share the
// prefix matched by TeacherPattern.
func SlotKey(q models.SlotQuery) string {
	view := q.View
	if view == "" {
		view = models.SlotViewAvailable
	}
	return fmt.Sprintf("%s:%s:%d:%d:%s", slotKeyPrefix, q.TeacherID, q.From.Unix(), q.To.Unix(), view)
}

// TeacherPattern matches every cached slot view of a teacher.
func TeacherPattern(teacherID string) string {
	return fmt.Sprintf("%s:%s:*", slotKeyPrefix, teacherID)
}

// GetSlots returns the cached view for q.
func (s *CacheService) GetSlots(ctx context.Context, q models.SlotQuery) ([]models.Slot, bool) {
	if !s.Enabled() {
		return nil, false
	}
	key := SlotKey(q)
	start := time.Now()
	var slots []models.Slot
	err := s.repo.Get(ctx, key, &slots)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("slot cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return slots, true
}

// PutSlots stores the view for q.
func (s *CacheService) PutSlots(ctx context.Context, q models.SlotQuery, slots []models.Slot) {
	if !s.Enabled() {
		return
	}
	key := SlotKey(q)
	start := time.Now()
	err := s.repo.Set(ctx, key, slots, s.ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("slot cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateTeacher drops every cached view of the teacher.
func (s *CacheService) InvalidateTeacher(ctx context.Context, teacherID string) {
	if !s.Enabled() {
		return
	}
	pattern := TeacherPattern(teacherID)
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("slot cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
	}
}
