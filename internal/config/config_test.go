// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8085" {
		t.Errorf("addr = %q, want :8085", cfg.Server.Addr)
	}
	if cfg.Ingest.Transport != "channel" {
		t.Errorf("transport = %q, want channel", cfg.Ingest.Transport)
	}
	if cfg.Detection.Clustering.WindowSeconds != 120 {
		t.Errorf("clustering window = %d, want 120", cfg.Detection.Clustering.WindowSeconds)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	yaml := `
server:
  addr: ":9090"
detection:
  clustering:
    window_seconds: 60
    min_votes: 3
    weight: 0.3
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want file override", cfg.Server.Addr)
	}
	if cfg.Detection.Clustering.WindowSeconds != 60 {
		t.Errorf("clustering window = %d, want 60", cfg.Detection.Clustering.WindowSeconds)
	}
	// Untouched sections keep defaults.
	if cfg.Detection.Bias.SkewThreshold != 0.90 {
		t.Errorf("skew = %v, want default 0.90", cfg.Detection.Bias.SkewThreshold)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SENTINEL_SERVER_ADDR", ":7070")
	t.Setenv("SENTINEL_INGEST_NATS_URL", "nats://broker:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q, want env override", cfg.Server.Addr)
	}
	if cfg.Ingest.NATS.URL != "nats://broker:4222" {
		t.Errorf("nats url = %q, want env override", cfg.Ingest.NATS.URL)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"bad transport", func(c *Config) { c.Ingest.Transport = "kafka" }},
		{"nats without url", func(c *Config) { c.Ingest.Transport = "nats"; c.Ingest.NATS.URL = "" }},
		{"zero buffer", func(c *Config) { c.Ingest.Buffer = 0 }},
		{"negative skew", func(c *Config) { c.Detection.SkewTolerance = -1 }},
		{"zero dispatch rate", func(c *Config) { c.Dispatch.RatePerSecond = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SENTINEL_SERVER_ADDR", "server.addr"},
		{"SENTINEL_SERVER_RATE_LIMIT", "server.rate_limit"},
		{"SENTINEL_LOG_LEVEL", "log.level"},
		{"SENTINEL_INGEST_NATS_URL", "ingest.nats.url"},
		{"SENTINEL_INGEST_TRANSPORT", "ingest.transport"},
		{"SENTINEL_DETECTION_CLUSTERING_MIN_VOTES", "detection.clustering.min_votes"},
		{"SENTINEL_DISPATCH_PENALTY_AMOUNT", "dispatch.penalty_amount"},
		{"SENTINEL_AUDIT_DIR", "audit.dir"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
