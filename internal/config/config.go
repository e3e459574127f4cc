package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort              string
	BackendAPIKey        string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins   string // Comma-separated allowed origins (empty = *, dev mode)
	MaxRecipeBytes       int64  // Upper bound on a POST /v1/jobs body
	EnqueueRatePerMinute int    // Per-client enqueue limit (0 = unlimited)

	// Rendering
	FFmpegPath string
	OutputDir  string
	TempDir    string

	// Queue
	MaxConcurrentJobs int
	JobTimeout        time.Duration // 0 = no limit
	JobRetention      time.Duration // How long finished jobs stay in memory
	CleanupSchedule   string        // cron schedule for evicting finished jobs

	// Redis (optional status fan-out)
	RedisURL     string
	JobStatusTTL time.Duration

	// Database (optional job history)
	DatabaseURL string

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:              getEnv("API_PORT", "8080"),
		BackendAPIKey:        getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", ""),
		MaxRecipeBytes:       int64(getEnvInt("MAX_RECIPE_BYTES", 256<<20)),
		EnqueueRatePerMinute: getEnvInt("ENQUEUE_RATE_PER_MINUTE", 10),
		FFmpegPath:           getEnv("FFMPEG_PATH", "ffmpeg"),
		OutputDir:            getEnv("OUTPUT_DIR", "./renders"),
		TempDir:              getEnv("TEMP_DIR", os.TempDir()),
		MaxConcurrentJobs:    getEnvInt("MAX_CONCURRENT_JOBS", 1),
		JobTimeout:           getEnvDuration("JOB_TIMEOUT", 0),
		JobRetention:         getEnvDuration("JOB_RETENTION", time.Hour),
		CleanupSchedule:      getEnv("CLEANUP_SCHEDULE", "@every 10m"),
		RedisURL:             getEnv("REDIS_URL", ""),
		JobStatusTTL:         getEnvDuration("JOB_STATUS_TTL", 24*time.Hour),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	// Rendering is CPU heavy; never run unbounded
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}

	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("OUTPUT_DIR must not be empty")
	}

	if cfg.MaxRecipeBytes <= 0 {
		return nil, fmt.Errorf("MAX_RECIPE_BYTES must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s", "30m") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
