package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the dispatch server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Push     PushConfig
	Claim    ClaimConfig
	Feed     FeedConfig
}

type ServerConfig struct {
	Port int
	Env  string
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

type PushConfig struct {
	GatewayURL  string
	AuthToken   string
	Timeout     time.Duration
	Concurrency int
	// DeepLinkBase is prepended to /jobs/{id} in push payloads.
	DeepLinkBase string
}

type ClaimConfig struct {
	// MaxActiveJobs caps how many assigned/in-progress jobs one technician
	// may hold at once.
	MaxActiveJobs int
	RetryAttempts int
	RetryBackoff  time.Duration
}

type FeedConfig struct {
	RequestsPerMinute int
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value is
// missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("DISPATCH_PORT", 8080),
			Env:  envString("DISPATCH_ENV", "development"),
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
		Push: PushConfig{
			GatewayURL:   os.Getenv("PUSH_GATEWAY_URL"),
			AuthToken:    os.Getenv("PUSH_GATEWAY_TOKEN"),
			Timeout:      envDuration("PUSH_GATEWAY_TIMEOUT", 10*time.Second),
			Concurrency:  envInt("PUSH_CONCURRENCY", 8),
			DeepLinkBase: envString("PUSH_DEEP_LINK_BASE", "repairgrid://"),
		},
		Claim: ClaimConfig{
			MaxActiveJobs: envInt("CLAIM_MAX_ACTIVE_JOBS", 3),
			RetryAttempts: envInt("CLAIM_RETRY_ATTEMPTS", 3),
			RetryBackoff:  envDuration("CLAIM_RETRY_BACKOFF", 100*time.Millisecond),
		},
		Feed: FeedConfig{
			RequestsPerMinute: envInt("FEED_REQUESTS_PER_MINUTE", 120),
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

	if c.Push.GatewayURL == "" {
		return fmt.Errorf("PUSH_GATEWAY_URL is required")
	}
	if !strings.HasPrefix(c.Push.GatewayURL, "http://") && !strings.HasPrefix(c.Push.GatewayURL, "https://") {
		return fmt.Errorf("PUSH_GATEWAY_URL must start with http:// or https://, got %q", c.Push.GatewayURL)
	}

	if c.Claim.MaxActiveJobs < 1 {
		return fmt.Errorf("CLAIM_MAX_ACTIVE_JOBS must be at least 1, got %d", c.Claim.MaxActiveJobs)
	}

	return nil
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
