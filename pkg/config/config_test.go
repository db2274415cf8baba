package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "enrollments", cfg.Database.Name)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "./exports", cfg.Exports.StorageDir)
	assert.Equal(t, []string{"csv", "pdf"}, cfg.Exports.Formats)
}

func TestLoadFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ENV", EnvProduction)
	t.Setenv("ENABLE_CACHE", "true")
	t.Setenv("ENROLLMENT_CACHE_TTL", "90s")
	t.Setenv("EXPORTS_RESULT_TTL", "not-a-duration")
	t.Setenv("DB_PORT", "6543")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, cfg.Env)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Exports.ResultTTL)
	assert.Equal(t, 6543, cfg.Database.Port)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"csv", "pdf"}, splitAndTrim(" csv, ,pdf "))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	for _, key := range []string{"DB_NAME", "EXPORTS_FORMATS", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	path := filepath.Join(dir, "enrollments.env")
	require.NoError(t, os.WriteFile(path, []byte("DB_NAME=records\nEXPORTS_FORMATS=CSV\nLOG_LEVEL=debug\n"), 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "records", cfg.Database.Name)
	assert.Equal(t, []string{"csv"}, cfg.Exports.Formats)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("EXPORTS_FORMATS", "csv,xlsx")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx")
}

func TestValidatePorts(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Port: 0}, Redis: RedisConfig{Port: 6379}}
	assert.Error(t, cfg.Validate())
	cfg.Database.Port = 5432
	assert.NoError(t, cfg.Validate())
}

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
