package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-records/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5433, User: "app", Password: "p@ss word", Name: "enrollments"})
	assert.Equal(t, "postgres://app:p%40ss%20word@db:5433/enrollments?sslmode=disable", dsn)

	dsn = DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "app", Name: "enrollments", SSLMode: "require"})
	assert.Contains(t, dsn, "sslmode=require")
}

func TestNewPostgresUnreachable(t *testing.T) {
	_, err := NewPostgres(context.Background(), config.DatabaseConfig{Host: "127.0.0.1", Port: 1, User: "u", Name: "n"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping postgres 127.0.0.1:1")
}
