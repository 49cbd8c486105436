// Package config loads application configuration from environment variables.
// All variables use the LEARN_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Lessons  LessonConfig
	Metrics  MetricsConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL keeps
// progress in memory.
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// CacheConfig holds Dragonfly/Redis connection settings. An empty URL keeps
// progress locking inside the process.
type CacheConfig struct {
	URL       string
	LockTTLMs int
}

// LockTTL returns the progress lock expiry.
func (c CacheConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMs) * time.Millisecond
}

// LessonConfig holds lesson descriptor settings.
type LessonConfig struct {
	Path             string
	DefaultThreshold float64
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables with LEARN_ prefix.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("LEARN_SERVER_PORT", 8080),
			Host: envStr("LEARN_SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			URL:      envStr("LEARN_DATABASE_URL", ""),
			MaxConns: envInt("LEARN_DATABASE_MAX_CONNS", 25),
			MinConns: envInt("LEARN_DATABASE_MIN_CONNS", 5),
		},
		Cache: CacheConfig{
			URL:       envStr("LEARN_CACHE_URL", ""),
			LockTTLMs: envInt("LEARN_CACHE_LOCK_TTL_MS", 5000),
		},
		Lessons: LessonConfig{
			Path:             envStr("LEARN_LESSONS_PATH", "./lessons"),
			DefaultThreshold: envFloat("LEARN_LESSON_DEFAULT_THRESHOLD", 0.9),
		},
		Metrics: MetricsConfig{
			Enabled: envBool("LEARN_METRICS_ENABLED", true),
		},
		Log: LogConfig{
			Level:  envStr("LEARN_LOG_LEVEL", "info"),
			Format: envStr("LEARN_LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("LEARN_SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if t := c.Lessons.DefaultThreshold; !(t > 0 && t <= 1) {
		return fmt.Errorf("LEARN_LESSON_DEFAULT_THRESHOLD must be in (0, 1], got %v", t)
	}

	if c.Lessons.Path == "" {
		return fmt.Errorf("LEARN_LESSONS_PATH is required")
	}

	if c.Cache.URL != "" && c.Cache.LockTTLMs <= 0 {
		return fmt.Errorf("LEARN_CACHE_LOCK_TTL_MS must be positive, got %d", c.Cache.LockTTLMs)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("LEARN_LOG_FORMAT must be 'json' or 'text', got %q", c.Log.Format)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LEARN_LOG_LEVEL must be debug, info, warn or error, got %q", c.Log.Level)
	}

	return nil
}

// HasDatabase returns true if progress should be persisted in PostgreSQL.
func (c *Config) HasDatabase() bool {
	return c.Database.URL != ""
}

// HasCache returns true if progress locks should be shared through Redis.
func (c *Config) HasCache() bool {
	return c.Cache.URL != ""
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}
