// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

// Package config loads layered configuration with Koanf v2. Precedence,
// highest first: environment variables, an optional YAML file, built-in
// defaults. Environment variables use the SENTINEL_ prefix with
// underscores for nesting, e.g. SENTINEL_SERVER_ADDR maps to
// server.addr.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/campusverify/sentinel/internal/detection"
	"github.com/campusverify/sentinel/internal/logging"
)

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "SENTINEL_CONFIG"

// DefaultConfigPaths are searched in order when no explicit path is set.
var DefaultConfigPaths = []string{
	"./sentinel.yaml",
	"./config/sentinel.yaml",
	"/etc/sentinel/sentinel.yaml",
}

const envPrefix = "sentinel_"

// Config is the full service configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Detection DetectionConfig `koanf:"detection"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Audit     AuditConfig     `koanf:"audit"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is trace, debug, info, warn, error, or fatal.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// Caller includes file and line in each entry.
	Caller bool `koanf:"caller"`
}

// Logging maps the section onto the logging package's config.
func (c LogConfig) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Level
	cfg.Format = c.Format
	cfg.Caller = c.Caller
	return cfg
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimit is requests per minute per client IP. Zero disables.
	RateLimit int `koanf:"rate_limit"`

	// AllowedOrigins feeds CORS and the WebSocket origin check. Empty
	// allows any origin carrying an Origin header.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// IngestConfig selects and configures the event transport.
type IngestConfig struct {
	// Transport is "channel" (in-process, the HTTP API publishes into
	// it) or "nats" (JetStream consumer).
	Transport string `koanf:"transport"`

	// Buffer is the in-process channel capacity.
	Buffer int `koanf:"buffer"`

	NATS NATSConfig `koanf:"nats"`
}

// NATSConfig configures the JetStream subscriber.
type NATSConfig struct {
	URL              string        `koanf:"url"`
	Subject          string        `koanf:"subject"`
	QueueGroup       string        `koanf:"queue_group"`
	ConnectWait      time.Duration `koanf:"connect_wait"`
	AckWait          time.Duration `koanf:"ack_wait"`
	MaxDeliver       int           `koanf:"max_deliver"`
	SubscribersCount int           `koanf:"subscribers_count"`
}

// DetectionConfig carries tunables for the detectors and profiler.
// Zero-valued fields fall back to the detection package defaults.
type DetectionConfig struct {
	Enabled        bool                               `koanf:"enabled"`
	Clustering     detection.TemporalClusteringConfig `koanf:"clustering"`
	Regularity     detection.IntervalRegularityConfig `koanf:"regularity"`
	Velocity       detection.VelocitySpikeConfig      `koanf:"velocity"`
	Bias           detection.DirectionalBiasConfig    `koanf:"bias"`
	HalfLife       time.Duration                      `koanf:"half_life"`
	RumorRetention time.Duration                      `koanf:"rumor_retention"`
	UserRetention  time.Duration                      `koanf:"user_retention"`
	SkewTolerance  time.Duration                      `koanf:"skew_tolerance"`
}

// DispatchConfig carries the response dispatcher tunables.
type DispatchConfig struct {
	MaxRetries      uint64        `koanf:"max_retries"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
	PenaltyAmount   int           `koanf:"penalty_amount"`
	RatePerSecond   float64       `koanf:"rate_per_second"`

	// RecoveryAmount is the daily trust score recovery for penalized,
	// unfrozen accounts. Zero disables recovery.
	RecoveryAmount int `koanf:"recovery_amount"`
}

// AuditConfig configures assessment persistence.
type AuditConfig struct {
	// Dir is the BadgerDB directory. Empty keeps assessments in memory.
	Dir string `koanf:"dir"`

	SyncWrites    bool `koanf:"sync_writes"`
	RetentionDays int  `koanf:"retention_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{
			Addr:            ":8085",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       600,
		},
		Ingest: IngestConfig{
			Transport: "channel",
			Buffer:    1024,
			NATS: NATSConfig{
				URL:              "nats://localhost:4222",
				Subject:          "campusverify.votes",
				QueueGroup:       "sentinel",
				ConnectWait:      5 * time.Second,
				AckWait:          30 * time.Second,
				MaxDeliver:       5,
				SubscribersCount: 4,
			},
		},
		Detection: DetectionConfig{
			Enabled:        true,
			Clustering:     detection.DefaultTemporalClusteringConfig(),
			Regularity:     detection.DefaultIntervalRegularityConfig(),
			Velocity:       detection.DefaultVelocitySpikeConfig(),
			Bias:           detection.DefaultDirectionalBiasConfig(),
			HalfLife:       24 * time.Hour,
			RumorRetention: 15 * time.Minute,
			UserRetention:  25 * time.Hour,
			SkewTolerance:  2 * time.Second,
		},
		Dispatch: DispatchConfig{
			MaxRetries:      4,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			PenaltyAmount:   10,
			RatePerSecond:   50,
			RecoveryAmount:  1,
		},
		Audit: AuditConfig{
			Dir:           "",
			SyncWrites:    false,
			RetentionDays: 90,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and SENTINEL_ environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(strings.ToUpper(envPrefix), ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
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

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr required")
	}
	switch c.Ingest.Transport {
	case "channel":
	case "nats":
		if c.Ingest.NATS.URL == "" {
			return fmt.Errorf("ingest.nats.url required for the nats transport")
		}
		if c.Ingest.NATS.Subject == "" {
			return fmt.Errorf("ingest.nats.subject required for the nats transport")
		}
	default:
		return fmt.Errorf("ingest.transport must be channel or nats, got %q", c.Ingest.Transport)
	}
	if c.Ingest.Buffer <= 0 {
		return fmt.Errorf("ingest.buffer must be positive")
	}
	if c.Detection.SkewTolerance < 0 {
		return fmt.Errorf("detection.skew_tolerance must not be negative")
	}
	if c.Dispatch.RatePerSecond <= 0 {
		return fmt.Errorf("dispatch.rate_per_second must be positive")
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days must not be negative")
	}
	return nil
}

// findConfigFile returns the first existing config file path.
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

// envTransform maps SENTINEL_SERVER_ADDR style variables onto koanf
// paths. The first underscore separates the section; the rest of the
// name keeps its underscores, so SENTINEL_INGEST_NATS_URL needs the
// nats section spelled as SENTINEL_INGEST_NATS_URL -> ingest.nats.url.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(strings.ToLower(key), envPrefix))

	// Known nested sections; everything after them is a single field
	// that may itself contain underscores.
	prefixes := []string{
		"ingest_nats_",
		"log_", "server_", "ingest_", "detection_clustering_",
		"detection_regularity_", "detection_velocity_", "detection_bias_",
		"detection_", "dispatch_", "audit_",
	}
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			section := strings.ReplaceAll(strings.TrimSuffix(p, "_"), "_", ".")
			return section + "." + strings.TrimPrefix(key, p)
		}
	}
	return key
}
