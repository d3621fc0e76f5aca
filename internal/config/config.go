// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

// Package config loads layered configuration: built-in defaults, then an
// optional YAML file, then PORTOLAN_-prefixed environment variables, each
// layer overriding the previous. The loaded struct is validated before the
// process is allowed to start.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "PORTOLAN_CONFIG"

// DefaultConfigPaths are searched in order when no explicit path is set.
var DefaultConfigPaths = []string{
	"portolan.yaml",
	"config/portolan.yaml",
	"/etc/portolan/portolan.yaml",
}

// Config is the complete application configuration.
type Config struct {
	Feed       FeedConfig       `koanf:"feed"`
	Ingest     IngestConfig     `koanf:"ingest"`
	NATS       NATSConfig       `koanf:"nats"`
	Broadcast  BroadcastConfig  `koanf:"broadcast"`
	Server     ServerConfig     `koanf:"server"`
	Security   SecurityConfig   `koanf:"security"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
	History    HistoryConfig    `koanf:"history"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// FeedConfig configures the upstream telemetry stream.
type FeedConfig struct {
	URL            string        `koanf:"url" validate:"required,url"`
	SourceTag      string        `koanf:"source_tag"`
	DefaultKind    string        `koanf:"default_kind" validate:"oneof=aircraft vessel"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"min=1000000000"`
	RotationDelay  time.Duration `koanf:"rotation_delay" validate:"min=0"`
	BackoffBase    time.Duration `koanf:"backoff_base" validate:"min=0"`
	BackoffMax     time.Duration `koanf:"backoff_max" validate:"min=0"`
	MaxAttempts    int           `koanf:"max_attempts" validate:"min=1,max=100"`
}

// IngestConfig bounds the ingestion pipeline.
type IngestConfig struct {
	MaxConcurrency int `koanf:"max_concurrency" validate:"min=1,max=64"`
}

// NATSConfig selects between the embedded broker and an external cluster.
type NATSConfig struct {
	Embedded bool   `koanf:"embedded"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"min=0,max=65535"`
	// URL is used when Embedded is false.
	URL string `koanf:"url"`
}

// BroadcastConfig tunes the fan-out path.
type BroadcastConfig struct {
	TickInterval   time.Duration `koanf:"tick_interval" validate:"min=100000000"`
	StatsInterval  time.Duration `koanf:"stats_interval" validate:"min=1000000000"`
	DeltaThreshold float64       `koanf:"delta_threshold" validate:"min=0"`
	CellPrecision  int           `koanf:"cell_precision" validate:"min=1,max=12"`
	ViewportStale  time.Duration `koanf:"viewport_stale" validate:"min=10000000000"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1000000000"`
	RateLimit       int           `koanf:"rate_limit" validate:"min=0"`
}

// SecurityConfig configures connection auth and CORS.
type SecurityConfig struct {
	JWTSecret   string   `koanf:"jwt_secret"`
	StrictAuth  bool     `koanf:"strict_auth"`
	CORSOrigins []string `koanf:"cors_origins"`
}

// EnrichmentConfig configures the optional vessel metadata worker.
type EnrichmentConfig struct {
	Enabled       bool          `koanf:"enabled"`
	RegistryURL   string        `koanf:"registry_url" validate:"omitempty,url"`
	LookupTimeout time.Duration `koanf:"lookup_timeout" validate:"min=0"`
	RatePerMinute float64       `koanf:"rate_per_minute" validate:"min=0"`
	MaxAttempts   int           `koanf:"max_attempts" validate:"min=1,max=10"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"min=0"`
	MetadataAge   time.Duration `koanf:"metadata_age" validate:"min=0"`
}

// HistoryConfig configures the optional position history store.
type HistoryConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() Config {
	return Config{
		Feed: FeedConfig{
			URL:            "http://localhost:9000/stream",
			SourceTag:      "default",
			DefaultKind:    "aircraft",
			ConnectTimeout: 30 * time.Second,
			RotationDelay:  5 * time.Second,
			BackoffBase:    5 * time.Second,
			BackoffMax:     5 * time.Minute,
			MaxAttempts:    10,
		},
		Ingest: IngestConfig{
			MaxConcurrency: 5,
		},
		NATS: NATSConfig{
			Embedded: true,
			Host:     "127.0.0.1",
			Port:     0, // pick a free port
		},
		Broadcast: BroadcastConfig{
			TickInterval:   3 * time.Second,
			StatsInterval:  10 * time.Second,
			DeltaThreshold: 0.0001,
			CellPrecision:  4,
			ViewportStale:  5 * time.Minute,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       100,
		},
		Security: SecurityConfig{
			StrictAuth: false,
		},
		Enrichment: EnrichmentConfig{
			Enabled:       false,
			LookupTimeout: 10 * time.Second,
			RatePerMinute: 1,
			MaxAttempts:   3,
			SweepInterval: 10 * time.Minute,
			MetadataAge:   30 * 24 * time.Hour,
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    "portolan-history.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("PORTOLAN_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the tag-level constraints plus the cross-field rules the
// tag language cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if !c.NATS.Embedded && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.embedded is false")
	}
	if c.Security.StrictAuth && c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required when security.strict_auth is true")
	}
	if c.Feed.BackoffMax < c.Feed.BackoffBase {
		return fmt.Errorf("feed.backoff_max must be >= feed.backoff_base")
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps PORTOLAN_FEED_URL to feed.url. Only the first underscore
// becomes a section separator; the remainder keeps its underscores so keys
// like broadcast.tick_interval round-trip.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "PORTOLAN_"))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return section
	}
	return section + "." + rest
}

// sliceConfigPaths are parsed from comma-separated env strings.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw := k.String(path)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("set slice field %s: %w", path, err)
		}
	}
	return nil
}
