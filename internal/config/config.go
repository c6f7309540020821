// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/album-export/pkg/logging"
	"github.com/Sternrassler/album-export/pkg/pagination"
	"github.com/Sternrassler/album-export/pkg/ratelimit"
	"github.com/Sternrassler/album-export/pkg/upstream"
	"github.com/redis/go-redis/v9"
)

// Config is the complete service configuration.
type Config struct {
	Port string

	Log        logging.Config
	Upstream   upstream.Config
	Pagination pagination.Config

	InfoLimit     ratelimit.Policy
	DownloadLimit ratelimit.Policy
	SweepInterval time.Duration

	// RedisURL selects the Redis rate limit store when set. Accepts a
	// redis:// URL or a bare host:port.
	RedisURL string

	// AllowedOrigins lists CORS domains; ["*"] allows every origin.
	AllowedOrigins []string

	ShutdownTimeout time.Duration
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration through getenv.
func LoadFrom(getenv func(string) string) (Config, error) {
	env := envReader{getenv: getenv}

	cfg := Config{
		Port: env.getString("PORT", "8080"),
		Log: logging.Config{
			Level:  logging.LogLevel(env.getString("LOG_LEVEL", string(logging.LevelInfo))),
			Pretty: env.getBool("LOG_PRETTY", false),
			Output: os.Stderr,
		},
		Upstream: upstream.Config{
			BaseURL:   env.getString("UPSTREAM_BASE_URL", upstream.DefaultConfig().BaseURL),
			UserAgent: env.getString("USER_AGENT", upstream.DefaultUserAgent),
			Timeout:   env.getDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		},
		Pagination: pagination.Config{
			PageDelay: env.getDuration("PAGE_DELAY", pagination.DefaultConfig().PageDelay),
			MaxPages:  env.getInt("MAX_PAGES", pagination.DefaultConfig().MaxPages),
		},
		SweepInterval:   env.getDuration("RATE_LIMIT_SWEEP_INTERVAL", ratelimit.DefaultSweepInterval),
		RedisURL:        env.getString("REDIS_URL", ""),
		AllowedOrigins:  splitList(env.getString("ALLOWED_ORIGINS", "*")),
		ShutdownTimeout: env.getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	window := env.getDuration("RATE_LIMIT_WINDOW", time.Minute)
	cfg.InfoLimit = ratelimit.Policy{Limit: env.getInt("RATE_LIMIT_INFO_RPM", 20), Window: window}
	cfg.DownloadLimit = ratelimit.Policy{Limit: env.getInt("RATE_LIMIT_DOWNLOAD_RPM", 3), Window: window}

	if len(env.errs) > 0 {
		return Config{}, fmt.Errorf("invalid environment: %s", strings.Join(env.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.InfoLimit.Limit < 1 || c.DownloadLimit.Limit < 1 {
		return fmt.Errorf("rate limits must be >= 1 (info=%d, download=%d)", c.InfoLimit.Limit, c.DownloadLimit.Limit)
	}
	if c.InfoLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive (got %s)", c.InfoLimit.Window)
	}
	if c.Pagination.PageDelay < 0 {
		return fmt.Errorf("PAGE_DELAY must not be negative (got %s)", c.Pagination.PageDelay)
	}
	if c.Pagination.MaxPages < 1 {
		return fmt.Errorf("MAX_PAGES must be >= 1 (got %d)", c.Pagination.MaxPages)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive (got %s)", c.Upstream.Timeout)
	}
	return nil
}

// Policies returns the per-operation rate limit policies.
func (c Config) Policies() map[ratelimit.Operation]ratelimit.Policy {
	return map[ratelimit.Operation]ratelimit.Policy{
		ratelimit.OperationInfo:     c.InfoLimit,
		ratelimit.OperationDownload: c.DownloadLimit,
	}
}

// RedisOptions returns client options for RedisURL, or nil when Redis is
// not configured.
func (c Config) RedisOptions() (*redis.Options, error) {
	if c.RedisURL == "" {
		return nil, nil
	}
	if strings.Contains(c.RedisURL, "://") {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: c.RedisURL}, nil
}

type envReader struct {
	getenv func(string) string
	errs   []string
}

func (e *envReader) getString(key, defaultValue string) string {
	if value := strings.TrimSpace(e.getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func (e *envReader) getInt(key string, defaultValue int) int {
	raw := e.getString(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not an integer", key, raw))
		return defaultValue
	}
	return v
}

func (e *envReader) getBool(key string, defaultValue bool) bool {
	raw := e.getString(key, "")
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a boolean", key, raw))
		return defaultValue
	}
	return v
}

// getDuration accepts Go duration strings ("200ms", "1m") or bare milliseconds.
func (e *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := e.getString(key, "")
	if raw == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a duration", key, raw))
		return defaultValue
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
