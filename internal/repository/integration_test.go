//go:build integration

package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-records/internal/models"
	appErrors "github.com/noah-isme/enrollment-records/pkg/errors"
	"github.com/noah-isme/enrollment-records/pkg/testutil/containers"
)

func TestEnrollmentRepositoryPostgres(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	repo := NewEnrollmentRepository(pg.DB)
	ctx := context.Background()
	require.NoError(t, repo.Migrate(ctx))

	e := models.NewEnrollment()
	e.SetFirstName(models.StringPtr("Ada"))
	e.SetLastName(models.StringPtr("Lovelace"))
	e.SetDateOfBirth(models.TimePtr(time.Date(1815, time.December, 10, 0, 0, 0, 0, time.UTC)))
	e.SetLanguage(models.StringPtr("en"))
	record := &models.StoredEnrollment{Enrollment: e}
	require.NoError(t, repo.Create(ctx, record))

	empty := &models.StoredEnrollment{Enrollment: models.NewEnrollment()}
	require.NoError(t, repo.Create(ctx, empty))

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, e.String(), found.Enrollment.String())

	foundEmpty, err := repo.FindByID(ctx, empty.ID)
	require.NoError(t, err)
	assert.Nil(t, foundEmpty.Enrollment.FirstName())
	assert.Nil(t, foundEmpty.Enrollment.DateOfBirth())

	list, total, err := repo.List(ctx, models.EnrollmentFilter{Language: "EN", LastName: "love"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, record.ID, list[0].ID)

	found.Enrollment.SetLanguage(models.StringPtr("fr"))
	require.NoError(t, repo.Update(ctx, found))
	updated, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "fr", *updated.Enrollment.Language())

	require.NoError(t, repo.Delete(ctx, record.ID))
	_, err = repo.FindByID(ctx, record.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCacheRepositoryRedis(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	repo := NewCacheRepository(rc.Client, nil)
	ctx := context.Background()

	e := models.NewEnrollment()
	e.SetFirstName(models.StringPtr("Grace"))
	require.NoError(t, repo.Set(ctx, "enrollment:1", &models.StoredEnrollment{ID: "1", Enrollment: e}, time.Minute))

	var cached models.StoredEnrollment
	require.NoError(t, repo.Get(ctx, "enrollment:1", &cached))
	assert.Equal(t, "Grace", *cached.Enrollment.FirstName())

	require.NoError(t, repo.DeleteByPattern(ctx, "enrollment:*"))
	assert.ErrorIs(t, repo.Get(ctx, "enrollment:1", &cached), appErrors.ErrCacheMiss)
}
