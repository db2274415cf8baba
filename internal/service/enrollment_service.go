package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/enrollment-records/internal/models"
	"github.com/noah-isme/enrollment-records/internal/repository"
	appErrors "github.com/noah-isme/enrollment-records/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.StoredEnrollment, int, error)
	FindByID(ctx context.Context, id string) (*models.StoredEnrollment, error)
	Create(ctx context.Context, record *models.StoredEnrollment) error
	Update(ctx context.Context, record *models.StoredEnrollment) error
	Delete(ctx context.Context, id string) error
}

// EnrollmentService stores, loads and describes enrollment records.
type EnrollmentService struct {
	repo    enrollmentRepository
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	loads   singleflight.Group

	// cacheMu orders loader cache writes against invalidations. generations
	// counts the writes per ID so a load that raced a write is not cached.
	cacheMu     sync.Mutex
	generations map[string]uint64
}

// NewEnrollmentService constructs EnrollmentService. cache and metrics may be nil.
func NewEnrollmentService(repo enrollmentRepository, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:        repo,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		generations: make(map[string]uint64),
	}
}

// Create stores a copy of the record. A nil record is stored with every field unset.
func (s *EnrollmentService) Create(ctx context.Context, enrollment *models.Enrollment) (record *models.StoredEnrollment, err error) {
	defer func() { s.metrics.RecordOperation("create", err) }()

	if enrollment == nil {
		enrollment = models.NewEnrollment()
	}
	record = &models.StoredEnrollment{Enrollment: enrollment.Clone()}
	start := time.Now()
	err = s.repo.Create(ctx, record)
	s.metrics.ObserveDBQuery("create_enrollment", time.Since(start))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create enrollment")
	}
	s.logger.Info("enrollment created", zap.String("id", record.ID), zap.Object("enrollment", record.Enrollment))
	return record.Clone(), nil
}

// Get loads a record by ID, reading through the cache. Concurrent misses for
// the same ID share a single repository call that is not cancelled when one
// of the callers gives up.
func (s *EnrollmentService) Get(ctx context.Context, id string) (record *models.StoredEnrollment, err error) {
	defer func() { s.metrics.RecordOperation("get", err) }()

	if cached := s.cache.GetEnrollment(ctx, id); cached != nil {
		return cached, nil
	}

	gen := s.generation(id)
	loadCtx := context.WithoutCancel(ctx)
	ch := s.loads.DoChan(id+"@"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		start := time.Now()
		found, err := s.repo.FindByID(loadCtx, id)
		s.metrics.ObserveDBQuery("find_enrollment", time.Since(start))
		if err != nil {
			return nil, err
		}
		s.cacheLoaded(loadCtx, id, gen, found)
		return found, nil
	})

	select {
	case <-ctx.Done():
		return nil, appErrors.Internal(ctx.Err(), "failed to load enrollment")
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, sql.ErrNoRows) {
				return nil, appErrors.NotFound("enrollment not found")
			}
			return nil, appErrors.Internal(res.Err, "failed to load enrollment")
		}
		return res.Val.(*models.StoredEnrollment).Clone(), nil
	}
}

func (s *EnrollmentService) generation(id string) uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.generations[id]
}

// cacheLoaded caches a freshly read record unless a write to the same ID
// happened after the read started.
func (s *EnrollmentService) cacheLoaded(ctx context.Context, id string, gen uint64, record *models.StoredEnrollment) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.generations[id] != gen {
		return
	}
	s.cache.SetEnrollment(ctx, record)
}

// invalidate drops the cached record and fences off loads that started before
// the write. Entries are kept after Delete so an in-flight load still sees the
// bumped generation.
func (s *EnrollmentService) invalidate(ctx context.Context, id string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache.InvalidateEnrollment(ctx, id)
	s.generations[id]++
}

// List returns records with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) (records []models.StoredEnrollment, pagination *models.Pagination, err error) {
	defer func() { s.metrics.RecordOperation("list", err) }()

	start := time.Now()
	records, total, err := s.repo.List(ctx, filter)
	s.metrics.ObserveDBQuery("list_enrollments", time.Since(start))
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list enrollments")
	}
	page, size := repository.NormalizePage(filter.Page, filter.PageSize)
	return records, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Update replaces all four fields of an existing record.
func (s *EnrollmentService) Update(ctx context.Context, id string, enrollment *models.Enrollment) (record *models.StoredEnrollment, err error) {
	defer func() { s.metrics.RecordOperation("update", err) }()

	start := time.Now()
	record, err = s.repo.FindByID(ctx, id)
	s.metrics.ObserveDBQuery("find_enrollment", time.Since(start))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("enrollment not found")
		}
		return nil, appErrors.Internal(err, "failed to load enrollment")
	}
	if enrollment == nil {
		enrollment = models.NewEnrollment()
	}
	record.Enrollment = enrollment.Clone()

	start = time.Now()
	err = s.repo.Update(ctx, record)
	s.metrics.ObserveDBQuery("update_enrollment", time.Since(start))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("enrollment not found")
		}
		return nil, appErrors.Internal(err, "failed to update enrollment")
	}
	s.invalidate(ctx, id)
	s.logger.Info("enrollment updated", zap.String("id", id), zap.Object("enrollment", record.Enrollment))
	return record.Clone(), nil
}

// Delete removes a record.
func (s *EnrollmentService) Delete(ctx context.Context, id string) (err error) {
	defer func() { s.metrics.RecordOperation("delete", err) }()

	start := time.Now()
	err = s.repo.Delete(ctx, id)
	s.metrics.ObserveDBQuery("delete_enrollment", time.Since(start))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.NotFound("enrollment not found")
		}
		return appErrors.Internal(err, "failed to delete enrollment")
	}
	s.invalidate(ctx, id)
	s.logger.Info("enrollment deleted", zap.String("id", id))
	return nil
}

// Describe returns the descriptive string of a stored record.
func (s *EnrollmentService) Describe(ctx context.Context, id string) (string, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return record.Enrollment.String(), nil
}
