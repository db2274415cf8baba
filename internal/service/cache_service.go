package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-records/internal/models"
	appErrors "github.com/noah-isme/enrollment-records/pkg/errors"
)

const (
	enrollmentCachePrefix = "enrollment:"
	defaultCacheTTL       = 10 * time.Minute
)

// CacheRepository abstracts the cache backend.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService is the read-through cache for stored enrollments. Backend
// failures are logged and treated as misses; they never fail a caller.
type CacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewCacheService constructs a cache service. A nil repo disables it.
func NewCacheService(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled && repo != nil}
}

// EnrollmentKey returns the cache key for a stored enrollment.
func EnrollmentKey(id string) string {
	return enrollmentCachePrefix + id
}

// Enabled reports whether lookups reach the backend.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled
}

// Get decodes the entry under key into dest and reports whether it was a hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, appErrors.ErrCacheMiss):
		return false, nil
	default:
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
}

// Set stores value under key. A non-positive ttl uses the configured TTL.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate removes every entry matching pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	err := s.repo.DeleteByPattern(ctx, pattern)
	if err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
	}
	return err
}

// GetEnrollment returns the cached record for id, or nil on a miss.
func (s *CacheService) GetEnrollment(ctx context.Context, id string) *models.StoredEnrollment {
	var cached models.StoredEnrollment
	hit, _ := s.Get(ctx, EnrollmentKey(id), &cached)
	if !hit || cached.Enrollment == nil {
		return nil
	}
	return &cached
}

// SetEnrollment caches record under its ID.
func (s *CacheService) SetEnrollment(ctx context.Context, record *models.StoredEnrollment) {
	if record == nil {
		return
	}
	_ = s.Set(ctx, EnrollmentKey(record.ID), record, 0)
}

// InvalidateEnrollment drops the cached record for id.
func (s *CacheService) InvalidateEnrollment(ctx context.Context, id string) {
	_ = s.Invalidate(ctx, EnrollmentKey(id))
}
