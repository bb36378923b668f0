// Package config loads the worker configuration from the environment,
// with an optional YAML tunables overlay for the numeric knobs.
//
// Priority: tunables file > environment variables > .env file > defaults.
// The tunables file exists so operators can adjust fan-out and deadlines
// per deployment without rebuilding the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Hot store drivers.
const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Purge strategies applied at session boundaries.
const (
	PurgeScoped = "scoped"
	PurgeFlush  = "flush"
)

// Config holds all worker configuration.
type Config struct {
	// Relational store
	PGHost     string `env:"PG_HOST" envDefault:"localhost"`
	PGPort     int    `env:"PG_PORT" envDefault:"5432"`
	PGUser     string `env:"PG_USER" envDefault:"postgres"`
	PGPassword string `env:"PG_PASSWORD"`
	PGDatabase string `env:"PG_DATABASE" envDefault:"gauntlet"`
	PGSSLMode  string `env:"PG_SSLMODE" envDefault:"disable"`

	// Hot store. The REST credentials are recognized so deployments can
	// share one secrets bundle with the serverless API, but this worker
	// speaks RESP only; see Validate.
	RedisURL        string        `env:"REDIS_URL"`
	RedisRESTURL    string        `env:"REDIS_KV_REST_API_URL"`
	RedisRESTToken  string        `env:"REDIS_KV_REST_API_TOKEN"`
	HotStoreDriver  string        `env:"HOTSTORE_DRIVER" envDefault:"redis"`
	HotStoreTimeout time.Duration `env:"HOTSTORE_TIMEOUT" envDefault:"5s"`

	// Decision oracle
	AIBaseURL string        `env:"AI_API_BASE_URL"`
	AIAgentID string        `env:"AI_AGENT_ID" envDefault:"gamemaster"`
	AITimeout time.Duration `env:"AI_TIMEOUT" envDefault:"30s"`

	// Worker tuning. InstanceID is empty by default; pin it when the
	// lease must survive restarts of the same replica.
	InstanceID       string        `env:"WORKER_INSTANCE_ID"`
	PhaseParallelism int           `env:"WORKER_PHASE_PARALLELISM" envDefault:"8"`
	LobbyCapacity    int           `env:"WORKER_LOBBY_CAPACITY" envDefault:"10"`
	PurgeStrategy    string        `env:"WORKER_PURGE_STRATEGY" envDefault:"scoped"`
	DBTimeout        time.Duration `env:"DB_TIMEOUT" envDefault:"5s"`
	TunablesFile     string        `env:"WORKER_TUNABLES_FILE"`

	// Leader lease, off by default for single-instance deployments
	LeaseEnabled bool          `env:"WORKER_LEASE_ENABLED" envDefault:"false"`
	LeaseTTL     time.Duration `env:"WORKER_LEASE_TTL" envDefault:"15s"`
	LeaseRefresh time.Duration `env:"WORKER_LEASE_REFRESH" envDefault:"5s"`

	// HTTP surface (ops endpoints + websocket gateway)
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Environment
	Environment string `env:"GAUNTLET_ENV" envDefault:"development"`
	TZ          string `env:"TZ"`
}

// Load reads the .env file when present, parses the environment, applies
// the tunables overlay, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("[Config] No .env file found, using environment variables only")
	} else {
		slog.Info("[Config] Loaded .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	if cfg.TunablesFile != "" {
		tunables, err := loadTunables(cfg.TunablesFile)
		if err != nil {
			return nil, err
		}
		tunables.apply(cfg)
		slog.Info("[Config] Applied tunables overlay", "file", cfg.TunablesFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration. Every failure here is fatal at
// startup; the scheduler must not come up half-configured.
func (c *Config) Validate() error {
	// All session timestamps are stored and compared in UTC. A process
	// running in another zone would fire every phase at the wrong wall
	// time, so refuse to start rather than drift silently.
	switch c.TZ {
	case "", "UTC", "Etc/UTC":
	default:
		return fmt.Errorf("TZ must be UTC, got %q", c.TZ)
	}

	if c.AIBaseURL == "" {
		return fmt.Errorf("AI_API_BASE_URL is required")
	}

	switch c.HotStoreDriver {
	case DriverRedis:
		if c.RedisURL == "" {
			if c.RedisRESTURL != "" {
				return fmt.Errorf("REDIS_KV_REST_API_URL is set but this worker speaks RESP; set REDIS_URL")
			}
			return fmt.Errorf("REDIS_URL is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("HOTSTORE_DRIVER must be redis or memory, got %q", c.HotStoreDriver)
	}

	if c.PurgeStrategy != PurgeScoped && c.PurgeStrategy != PurgeFlush {
		return fmt.Errorf("WORKER_PURGE_STRATEGY must be scoped or flush, got %q", c.PurgeStrategy)
	}
	// FlushAll empties the whole store, session lease included, so a
	// flushing worker would evict its own lease at SESSION_START.
	if c.PurgeStrategy == PurgeFlush && c.LeaseEnabled {
		return fmt.Errorf("WORKER_PURGE_STRATEGY=flush cannot be combined with WORKER_LEASE_ENABLED")
	}

	if c.PhaseParallelism < 1 {
		return fmt.Errorf("WORKER_PHASE_PARALLELISM must be > 0, got %d", c.PhaseParallelism)
	}
	if c.LobbyCapacity < 1 {
		return fmt.Errorf("WORKER_LOBBY_CAPACITY must be > 0, got %d", c.LobbyCapacity)
	}

	if c.LeaseEnabled && c.LeaseRefresh >= c.LeaseTTL {
		return fmt.Errorf("WORKER_LEASE_REFRESH (%s) must be below WORKER_LEASE_TTL (%s)",
			c.LeaseRefresh, c.LeaseTTL)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be text or json (got: %s)", c.LogFormat)
	}

	return nil
}

// Tunables is the YAML overlay. Every field is optional; timeouts are
// plain milliseconds so the file needs no duration syntax.
type Tunables struct {
	PhaseParallelism  *int `yaml:"phase_parallelism"`
	LobbyCapacity     *int `yaml:"lobby_capacity"`
	DBTimeoutMs       *int `yaml:"db_timeout_ms"`
	HotStoreTimeoutMs *int `yaml:"hotstore_timeout_ms"`
	AITimeoutMs       *int `yaml:"ai_timeout_ms"`
}

func loadTunables(path string) (*Tunables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read tunables: %w", err)
	}
	var t Tunables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("config: parse tunables: %w", err)
	}
	return &t, nil
}

// apply overrides only the fields the file actually set.
func (t *Tunables) apply(cfg *Config) {
	if t.PhaseParallelism != nil {
		cfg.PhaseParallelism = *t.PhaseParallelism
	}
	if t.LobbyCapacity != nil {
		cfg.LobbyCapacity = *t.LobbyCapacity
	}
	if t.DBTimeoutMs != nil {
		cfg.DBTimeout = time.Duration(*t.DBTimeoutMs) * time.Millisecond
	}
	if t.HotStoreTimeoutMs != nil {
		cfg.HotStoreTimeout = time.Duration(*t.HotStoreTimeoutMs) * time.Millisecond
	}
	if t.AITimeoutMs != nil {
		cfg.AITimeout = time.Duration(*t.AITimeoutMs) * time.Millisecond
	}
}
