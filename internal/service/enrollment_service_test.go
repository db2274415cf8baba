package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-records/internal/models"
	appErrors "github.com/noah-isme/enrollment-records/pkg/errors"
)

type mockEnrollmentRepo struct {
	mu          sync.Mutex
	records     map[string]models.StoredEnrollment
	nextID      int
	findCalls   int32
	findStarted chan struct{}
	findRelease chan struct{}
	listFilter  models.EnrollmentFilter
	err         error
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.StoredEnrollment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listFilter = filter
	if m.err != nil {
		return nil, 0, m.err
	}
	var list []models.StoredEnrollment
	for _, r := range m.records {
		list = append(list, *r.Clone())
	}
	return list, len(list), nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.StoredEnrollment, error) {
	m.mu.Lock()
	r, ok := m.records[id]
	found, err := r.Clone(), m.err
	m.mu.Unlock()

	if atomic.AddInt32(&m.findCalls, 1) == 1 && m.findStarted != nil {
		close(m.findStarted)
		<-m.findRelease
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sql.ErrNoRows
	}
	return found, nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, record *models.StoredEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.records == nil {
		m.records = make(map[string]models.StoredEnrollment)
	}
	m.nextID++
	record.ID = fmt.Sprintf("enr-%d", m.nextID)
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt
	m.records[record.ID] = *record.Clone()
	return nil
}

func (m *mockEnrollmentRepo) Update(ctx context.Context, record *models.StoredEnrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ID]; !ok {
		return sql.ErrNoRows
	}
	record.UpdatedAt = time.Now().UTC()
	m.records[record.ID] = *record.Clone()
	return nil
}

func (m *mockEnrollmentRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.records, id)
	return nil
}

func newAda() *models.Enrollment {
	e := models.NewEnrollment()
	e.SetFirstName(models.StringPtr("Ada"))
	e.SetLastName(models.StringPtr("Lovelace"))
	e.SetDateOfBirth(models.TimePtr(time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC)))
	e.SetLanguage(models.StringPtr("English"))
	return e
}

func TestEnrollmentServiceCreateAndDescribe(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	metrics := NewMetricsService()
	svc := NewEnrollmentService(repo, nil, metrics, zap.NewNop())

	input := newAda()
	record, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "enr-1", record.ID)

	input.SetFirstName(models.StringPtr("Changed"))

	desc, err := svc.Describe(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, "Enrollment [firstName=Ada, lastName=Lovelace, dateOfBirth=1815-12-10, language=English]", desc)
	assert.Equal(t, uint64(2), metrics.Snapshot().Operations)
}

func TestEnrollmentServiceCreateNil(t *testing.T) {
	svc := NewEnrollmentService(&mockEnrollmentRepo{}, nil, nil, nil)

	record, err := svc.Create(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, record.Enrollment.FirstName())
	assert.Equal(t, "Enrollment [firstName=<nil>, lastName=<nil>, dateOfBirth=<nil>, language=<nil>]", record.Enrollment.String())
}

func TestEnrollmentServiceCreateRepoError(t *testing.T) {
	svc := NewEnrollmentService(&mockEnrollmentRepo{err: errors.New("db down")}, nil, nil, nil)

	_, err := svc.Create(context.Background(), newAda())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestEnrollmentServiceGetNotFound(t *testing.T) {
	svc := NewEnrollmentService(&mockEnrollmentRepo{}, nil, nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestEnrollmentServiceGetReturnsIndependentCopies(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc := NewEnrollmentService(repo, nil, nil, nil)
	created, err := svc.Create(context.Background(), newAda())
	require.NoError(t, err)

	first, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	first.Enrollment.SetLanguage(models.StringPtr("French"))

	second, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "English", *second.Enrollment.Language())
}

func TestEnrollmentServiceGetUsesCache(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	metrics := NewMetricsService()
	cache := NewCacheService(newMemoryCache(), metrics, time.Minute, zap.NewNop(), true)
	svc := NewEnrollmentService(repo, cache, metrics, zap.NewNop())
	created, err := svc.Create(context.Background(), newAda())
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	cached, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&repo.findCalls))
	assert.Equal(t, "Lovelace", *cached.Enrollment.LastName())
	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
}

func TestEnrollmentServiceGetCollapsesConcurrentMisses(t *testing.T) {
	repo := &mockEnrollmentRepo{
		records:     map[string]models.StoredEnrollment{"e1": {ID: "e1", Enrollment: newAda()}},
		findStarted: make(chan struct{}),
		findRelease: make(chan struct{}),
	}
	svc := NewEnrollmentService(repo, nil, nil, nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*models.StoredEnrollment, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Get(context.Background(), "e1")
		}(i)
	}

	<-repo.findStarted
	time.Sleep(50 * time.Millisecond)
	close(repo.findRelease)
	wg.Wait()

	assert.Less(t, atomic.LoadInt32(&repo.findCalls), int32(callers))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "Ada", *results[i].Enrollment.FirstName())
	}
	results[0].Enrollment.SetFirstName(models.StringPtr("Mutated"))
	assert.Equal(t, "Ada", *results[1].Enrollment.FirstName())
}

func TestEnrollmentServiceUpdateLastWriteWins(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	cacheRepo := newMemoryCache()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewEnrollmentService(repo, cache, nil, nil)
	created, err := svc.Create(context.Background(), newAda())
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Contains(t, cacheRepo.keys(), EnrollmentKey(created.ID))

	replacement := newAda()
	replacement.SetLanguage(models.StringPtr("Italian"))
	replacement.SetDateOfBirth(nil)
	updated, err := svc.Update(context.Background(), created.ID, replacement)
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.NotContains(t, cacheRepo.keys(), EnrollmentKey(created.ID))

	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Italian", *got.Enrollment.Language())
	assert.Nil(t, got.Enrollment.DateOfBirth())
}

func TestEnrollmentServiceUpdateMissing(t *testing.T) {
	svc := NewEnrollmentService(&mockEnrollmentRepo{}, nil, nil, nil)

	_, err := svc.Update(context.Background(), "missing", newAda())
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestEnrollmentServiceDelete(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc := NewEnrollmentService(repo, nil, nil, nil)
	created, err := svc.Create(context.Background(), newAda())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.ID))
	err = svc.Delete(context.Background(), created.ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestEnrollmentServiceList(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc := NewEnrollmentService(repo, nil, nil, nil)
	_, err := svc.Create(context.Background(), newAda())
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), nil)
	require.NoError(t, err)

	records, pagination, err := svc.List(context.Background(), models.EnrollmentFilter{Language: "english", PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, 2, pagination.TotalCount)
	assert.Equal(t, "english", repo.listFilter.Language)
}

func TestEnrollmentServiceGetDoesNotCacheRowReadBeforeUpdate(t *testing.T) {
	english := models.NewEnrollment()
	english.SetLanguage(models.StringPtr("en"))
	repo := &mockEnrollmentRepo{
		records:     map[string]models.StoredEnrollment{"x": {ID: "x", Enrollment: english}},
		findStarted: make(chan struct{}),
		findRelease: make(chan struct{}),
	}
	cacheRepo := newMemoryCache()
	svc := NewEnrollmentService(repo, NewCacheService(cacheRepo, nil, time.Minute, nil, true), nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Get(context.Background(), "x")
		done <- err
	}()
	<-repo.findStarted

	french := models.NewEnrollment()
	french.SetLanguage(models.StringPtr("fr"))
	_, err := svc.Update(context.Background(), "x", french)
	require.NoError(t, err)

	close(repo.findRelease)
	require.NoError(t, <-done)
	assert.NotContains(t, cacheRepo.keys(), EnrollmentKey("x"))

	desc, err := svc.Describe(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "Enrollment [firstName=<nil>, lastName=<nil>, dateOfBirth=<nil>, language=fr]", desc)
}

func TestEnrollmentServiceGetSurvivesCancelledPeer(t *testing.T) {
	repo := &mockEnrollmentRepo{
		records:     map[string]models.StoredEnrollment{"e1": {ID: "e1", Enrollment: newAda()}},
		findStarted: make(chan struct{}),
		findRelease: make(chan struct{}),
	}
	svc := NewEnrollmentService(repo, nil, nil, nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.Get(firstCtx, "e1")
		first <- err
	}()
	<-repo.findStarted

	type outcome struct {
		record *models.StoredEnrollment
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		record, err := svc.Get(context.Background(), "e1")
		second <- outcome{record, err}
	}()

	cancel()
	err := <-first
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	time.Sleep(20 * time.Millisecond)
	close(repo.findRelease)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "Ada", *got.record.Enrollment.FirstName())
}
