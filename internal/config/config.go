package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultGenerationAPIURL = "http://localhost:8000"

// Config holds all configuration for the studio server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Generation GenerationConfig
	Backend    BackendConfig
	Poll       PollConfig
	Progress   ProgressConfig
	Limits     LimitsConfig
	Auth       AuthConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel slog.Level
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// GenerationConfig points at the AI generation API (text/image to 3D).
type GenerationConfig struct {
	BaseURL string
	Timeout time.Duration
}

// BackendConfig points at the bookkeeping backend (history, registration, users).
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PollConfig struct {
	Interval         time.Duration
	FailureThreshold int
}

// ProgressConfig holds the presentation heuristics of the progress bar.
// The values only need to look plausible; nothing downstream depends on them.
type ProgressConfig struct {
	WaitingCeiling    float64
	ProcessingCeiling float64
	FallbackTotal     time.Duration
}

type LimitsConfig struct {
	SubmitPerMinute      int
	EarlyAccessPerMinute int
	TerminalStatusTTL    time.Duration
	// WorkspaceIdleTTL evicts per-user workspaces with no open stream and no
	// request for this long.
	WorkspaceIdleTTL     time.Duration
}

type AuthConfig struct {
	// JWTSecret verifies identity tokens when set. When empty, each new token
	// is checked against the bookkeeping backend before it is bound.
	JWTSecret string
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("STUDIO_PORT", 8080),
			Env:      envString("STUDIO_ENV", "development"),
			LogLevel: envLevel("LOG_LEVEL", slog.LevelInfo),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Generation: GenerationConfig{
			BaseURL: strings.TrimRight(envString("GENERATION_API_URL", defaultGenerationAPIURL), "/"),
			Timeout: envDuration("GENERATION_API_TIMEOUT", 60*time.Second),
		},
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(os.Getenv("BACKEND_API_URL"), "/"),
			Timeout: envDuration("BACKEND_API_TIMEOUT", 15*time.Second),
		},
		Poll: PollConfig{
			Interval:         envDuration("POLL_INTERVAL", 5*time.Second),
			FailureThreshold: envInt("POLL_FAILURE_THRESHOLD", 3),
		},
		Progress: ProgressConfig{
			WaitingCeiling:    envFloat("PROGRESS_WAITING_CEILING", 45),
			ProcessingCeiling: envFloat("PROGRESS_PROCESSING_CEILING", 95),
			FallbackTotal:     envDurationSecs("PROGRESS_FALLBACK_TOTAL_SECS", 180*time.Second),
		},
		Limits: LimitsConfig{
			SubmitPerMinute:      envInt("SUBMIT_RATE_LIMIT_PER_MIN", 10),
			EarlyAccessPerMinute: envInt("EARLY_ACCESS_RATE_LIMIT_PER_MIN", 5),
			TerminalStatusTTL:    envDuration("TERMINAL_STATUS_TTL", 24*time.Hour),
			WorkspaceIdleTTL:     envDuration("WORKSPACE_IDLE_TTL", 30*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_API_URL is required: set it to the bookkeeping backend base URL (for example http://localhost:4000); history, registration and sign-in all go through it")
	}
	if !isHTTPURL(c.Backend.BaseURL) {
		return fmt.Errorf("BACKEND_API_URL must start with http:// or https://, got %q", c.Backend.BaseURL)
	}

	if !isHTTPURL(c.Generation.BaseURL) {
		return fmt.Errorf("GENERATION_API_URL must start with http:// or https://, got %q (unset it to use %s)",
			c.Generation.BaseURL, defaultGenerationAPIURL)
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.FailureThreshold < 1 {
		return fmt.Errorf("POLL_FAILURE_THRESHOLD must be at least 1, got %d", c.Poll.FailureThreshold)
	}

	if c.Limits.WorkspaceIdleTTL <= 0 {
		return fmt.Errorf("WORKSPACE_IDLE_TTL must be positive, got %s", c.Limits.WorkspaceIdleTTL)
	}

	p := c.Progress
	if p.WaitingCeiling <= 0 || p.WaitingCeiling >= p.ProcessingCeiling {
		return fmt.Errorf("PROGRESS_WAITING_CEILING must be > 0 and below PROGRESS_PROCESSING_CEILING, got %v and %v",
			p.WaitingCeiling, p.ProcessingCeiling)
	}
	if p.ProcessingCeiling > 99 {
		return fmt.Errorf("PROGRESS_PROCESSING_CEILING must be at most 99, got %v", p.ProcessingCeiling)
	}
	if p.FallbackTotal <= 0 {
		return fmt.Errorf("PROGRESS_FALLBACK_TOTAL_SECS must be positive")
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return lvl
}
