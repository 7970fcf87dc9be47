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

// Local progress tiers.
const (
	TierMemory = "memory"
	TierRedis  = "redis"
	TierSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Local    LocalConfig
	Content  ContentConfig
	Quiz     QuizConfig
	Gating   GatingConfig
	Sync     SyncConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int
	Host            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL runs the
// remote stores in memory.
type DatabaseConfig struct {
	URL       string
	MaxConns  int
	MinConns  int
	Bootstrap bool // create missing tables on startup
}

// CacheConfig holds the Redis settings of the redis progress tier.
type CacheConfig struct {
	URL         string
	KeyPrefix   string
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

// LocalConfig selects the device-local progress tier.
type LocalConfig struct {
	Tier       string // memory, redis or sqlite
	SQLitePath string
}

// ContentConfig locates course documents.
type ContentConfig struct {
	Path string
}

// QuizConfig holds quiz defaults applied when content leaves them unset.
type QuizConfig struct {
	DefaultPassingScore int
	DefaultMaxAttempts  int // 0 means unlimited
}

// GatingConfig holds module unlocking policy.
type GatingConfig struct {
	FreeSequential bool
}

// SyncConfig holds remote synchronization settings.
type SyncConfig struct {
	InitialInterval    time.Duration
	MaxInterval        time.Duration
	BacklogWarn        int
	MaxConcurrentLoads int
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
			Port:            envInt("LEARN_SERVER_PORT", 8080),
			Host:            envStr("LEARN_SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: envDuration("LEARN_SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:       envStr("LEARN_DATABASE_URL", ""),
			MaxConns:  envInt("LEARN_DATABASE_MAX_CONNS", 25),
			MinConns:  envInt("LEARN_DATABASE_MIN_CONNS", 5),
			Bootstrap: envBool("LEARN_DATABASE_BOOTSTRAP", false),
		},
		Cache: CacheConfig{
			URL:         envStr("LEARN_CACHE_URL", ""),
			KeyPrefix:   envStr("LEARN_CACHE_KEY_PREFIX", "learn"),
			DialTimeout: envDuration("LEARN_CACHE_DIAL_TIMEOUT", 5*time.Second),
			IOTimeout:   envDuration("LEARN_CACHE_IO_TIMEOUT", 3*time.Second),
		},
		Local: LocalConfig{
			Tier:       strings.ToLower(envStr("LEARN_LOCAL_TIER", TierMemory)),
			SQLitePath: envStr("LEARN_LOCAL_SQLITE_PATH", "./data/progress.db"),
		},
		Content: ContentConfig{
			Path: envStr("LEARN_CONTENT_PATH", "./content"),
		},
		Quiz: QuizConfig{
			DefaultPassingScore: envInt("LEARN_QUIZ_DEFAULT_PASSING_SCORE", 70),
			DefaultMaxAttempts:  envInt("LEARN_QUIZ_DEFAULT_MAX_ATTEMPTS", 0),
		},
		Gating: GatingConfig{
			FreeSequential: envBool("LEARN_GATING_FREE_SEQUENTIAL", false),
		},
		Sync: SyncConfig{
			InitialInterval:    envDuration("LEARN_SYNC_INITIAL_INTERVAL", 500*time.Millisecond),
			MaxInterval:        envDuration("LEARN_SYNC_MAX_INTERVAL", time.Minute),
			BacklogWarn:        envInt("LEARN_SYNC_BACKLOG_WARN", 1000),
			MaxConcurrentLoads: envInt("LEARN_SYNC_MAX_CONCURRENT_LOADS", 4),
		},
		Log: LogConfig{
			Level:  envStr("LEARN_LOG_LEVEL", "info"),
			Format: envStr("LEARN_LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("LEARN_SERVER_PORT must be 1..65535, got %d", c.Server.Port)
	}

	switch c.Local.Tier {
	case TierMemory:
	case TierRedis:
		if c.Cache.URL == "" {
			return fmt.Errorf("LEARN_CACHE_URL is required when LEARN_LOCAL_TIER is redis")
		}
	case TierSQLite:
		if c.Local.SQLitePath == "" {
			return fmt.Errorf("LEARN_LOCAL_SQLITE_PATH is required when LEARN_LOCAL_TIER is sqlite")
		}
	default:
		return fmt.Errorf("LEARN_LOCAL_TIER must be 'memory', 'redis' or 'sqlite', got %q", c.Local.Tier)
	}

	if c.Quiz.DefaultPassingScore < 0 || c.Quiz.DefaultPassingScore > 100 {
		return fmt.Errorf("LEARN_QUIZ_DEFAULT_PASSING_SCORE must be 0..100, got %d", c.Quiz.DefaultPassingScore)
	}
	if c.Quiz.DefaultMaxAttempts < 0 {
		return fmt.Errorf("LEARN_QUIZ_DEFAULT_MAX_ATTEMPTS must be non-negative, got %d", c.Quiz.DefaultMaxAttempts)
	}

	if c.Sync.InitialInterval <= 0 || c.Sync.MaxInterval < c.Sync.InitialInterval {
		return fmt.Errorf("LEARN_SYNC_MAX_INTERVAL (%s) must be at least LEARN_SYNC_INITIAL_INTERVAL (%s) and both positive",
			c.Sync.MaxInterval, c.Sync.InitialInterval)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("LEARN_LOG_FORMAT must be 'json' or 'text', got %q", c.Log.Format)
	}

	return nil
}

// HasDatabase reports whether a PostgreSQL remote is configured.
func (c *Config) HasDatabase() bool {
	return c.Database.URL != ""
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

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
