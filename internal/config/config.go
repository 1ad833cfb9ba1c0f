package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxUploadBytes is the largest image accepted by the upload endpoint.
const DefaultMaxUploadBytes = 10 * 1024 * 1024

// Config holds application configuration loaded from environment variables
type Config struct {
	Env       string
	Port      string
	LogLevel  string
	LogFormat string

	UploadDir      string
	MaxUploadBytes int64
	AllowedOrigins []string

	// DatabaseURL selects the Postgres store; empty keeps records in memory.
	DatabaseURL string
	SeedDevData bool
	// SQLitePath selects a file-backed store when DATABASE_URL is empty.
	SQLitePath string

	// RedisURL selects the asynq queue; empty runs stories on the local pool.
	RedisURL string

	GeneratorURL    string
	GeneratorSecret string
	GeneratorStub   bool
	// StoryCatalog overrides the built-in stub story catalogue.
	StoryCatalog string

	StageTimeout      time.Duration
	WorkerConcurrency int
	QueueSize         int

	SweepInterval time.Duration
	SweepSchedule string
	StaleAfter    time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Env:             getEnvWithDefault("ENV", "development"),
		Port:            getEnvWithDefault("PORT", "8080"),
		LogLevel:        getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat:       getEnvWithDefault("LOG_FORMAT", "text"),
		UploadDir:       getEnvWithDefault("UPLOAD_DIR", "uploads"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      os.Getenv("SQLITE_PATH"),
		RedisURL:        os.Getenv("REDIS_URL"),
		GeneratorURL:    strings.TrimRight(os.Getenv("GENERATOR_URL"), "/"),
		GeneratorSecret: os.Getenv("GENERATOR_SECRET"),
		StoryCatalog:    os.Getenv("STORY_CATALOG"),
		SweepSchedule:   getEnvWithDefault("SWEEP_SCHEDULE", "@every 1m"),
		AllowedOrigins:  splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.MaxUploadBytes, err = parseInt64Env("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes); err != nil {
		return nil, err
	}
	if cfg.GeneratorStub, err = parseBoolEnv("GENERATOR_STUB", true); err != nil {
		return nil, err
	}
	if cfg.SeedDevData, err = parseBoolEnv("SEED_DEV_DATA", false); err != nil {
		return nil, err
	}
	if cfg.StageTimeout, err = parseDurationEnv("STAGE_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = parseDurationEnv("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = parseDurationEnv("STALE_AFTER", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = parseIntEnv("WORKER_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = parseIntEnv("QUEUE_SIZE", 16); err != nil {
		return nil, err
	}

	absUploadDir, err := filepath.Abs(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	cfg.UploadDir = absUploadDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// A stub generator never reaches the network, so a missing URL is fine.
	if !cfg.GeneratorStub && cfg.GeneratorURL == "" {
		slog.Warn("GENERATOR_STUB=false but GENERATOR_URL is empty; generation requests will fail")
	}
	// The Redis queue is unbounded, so only a single run can be checked.
	if cfg.RedisURL != "" && cfg.StaleAfter > 0 && cfg.StaleAfter < 2*cfg.StageTimeout {
		slog.Warn("STALE_AFTER is shorter than two stage timeouts; slow runs may be failed by the sweep",
			"stale_after", cfg.StaleAfter, "stage_timeout", cfg.StageTimeout)
	}

	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.StageTimeout <= 0 {
		return fmt.Errorf("STAGE_TIMEOUT must be positive, got %s", c.StageTimeout)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QUEUE_SIZE must be at least 1, got %d", c.QueueSize)
	}
	if c.SweepInterval < 0 || c.StaleAfter < 0 {
		return fmt.Errorf("SWEEP_INTERVAL and STALE_AFTER must not be negative")
	}
	if c.RedisURL == "" && c.StaleAfter > 0 && c.StaleAfter < c.MinStaleAfter() {
		return fmt.Errorf("STALE_AFTER %s is shorter than the %s a full local queue can take to drain (QUEUE_SIZE=%d, WORKER_CONCURRENCY=%d, STAGE_TIMEOUT=%s)",
			c.StaleAfter, c.MinStaleAfter(), c.QueueSize, c.WorkerConcurrency, c.StageTimeout)
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" && len(c.AllowedOrigins) == 1 {
			continue
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("ALLOWED_ORIGINS entry %q must start with http:// or https://", origin)
		}
	}
	return nil
}

// MinStaleAfter is how long a story can wait on the local pool before its
// run ends: every story queued ahead of it, then its own two stages. The
// sweep measures age from creation, so a shorter STALE_AFTER would fail
// stories that are still queued.
func (c *Config) MinStaleAfter() time.Duration {
	if c.WorkerConcurrency < 1 {
		return 0
	}
	batches := (c.QueueSize+c.WorkerConcurrency-1)/c.WorkerConcurrency + 1
	return time.Duration(batches) * 2 * c.StageTimeout
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func parseInt64Env(key string, fallback int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func parseBoolEnv(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
