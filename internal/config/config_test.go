package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"API_PORT", "FFMPEG_PATH", "OUTPUT_DIR", "MAX_CONCURRENT_JOBS", "JOB_TIMEOUT",
		"JOB_RETENTION", "CLEANUP_SCHEDULE", "REDIS_URL", "DATABASE_URL", "MAX_RECIPE_BYTES",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "./renders", cfg.OutputDir)
	assert.Equal(t, 1, cfg.MaxConcurrentJobs)
	assert.Zero(t, cfg.JobTimeout, "renders are unbounded unless JOB_TIMEOUT is set")
	assert.Equal(t, time.Hour, cfg.JobRetention)
	assert.Equal(t, "@every 10m", cfg.CleanupSchedule)
	assert.Equal(t, int64(256<<20), cfg.MaxRecipeBytes)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "3")
	t.Setenv("JOB_TIMEOUT", "90")
	t.Setenv("JOB_RETENTION", "15m")
	t.Setenv("REDIS_URL", "redis://cache:6379/2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxConcurrentJobs)
	assert.Equal(t, 90*time.Second, cfg.JobTimeout)
	assert.Equal(t, 15*time.Minute, cfg.JobRetention)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
}

func TestLoadCoercesConcurrency(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MaxConcurrentJobs)
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_JOBS", "many")
	t.Setenv("JOB_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MaxConcurrentJobs)
	assert.Zero(t, cfg.JobTimeout)
}

func TestLoadRejectsNonPositiveBodyLimit(t *testing.T) {
	t.Setenv("MAX_RECIPE_BYTES", "-1")

	_, err := Load()
	assert.Error(t, err)
}
