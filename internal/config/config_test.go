// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package config

import (
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("PORTOLAN_FEED_URL", "http://feeds.example.com/stream")
	t.Setenv("PORTOLAN_SERVER_PORT", "9090")
	t.Setenv("PORTOLAN_INGEST_MAX_CONCURRENCY", "8")
	t.Setenv("PORTOLAN_SECURITY_CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Feed.URL != "http://feeds.example.com/stream" {
		t.Errorf("feed.url = %q", cfg.Feed.URL)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d", cfg.Server.Port)
	}
	if cfg.Ingest.MaxConcurrency != 8 {
		t.Errorf("ingest.max_concurrency = %d", cfg.Ingest.MaxConcurrency)
	}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("security.cors_origins = %v", cfg.Security.CORSOrigins)
	}

	// Untouched keys keep defaults.
	if cfg.Broadcast.TickInterval != 3*time.Second {
		t.Errorf("broadcast.tick_interval = %v", cfg.Broadcast.TickInterval)
	}
}

func TestValidateRejectsExternalNATSWithoutURL(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.NATS.Embedded = false
	cfg.NATS.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("external NATS without URL accepted")
	}
}

func TestValidateRejectsStrictAuthWithoutSecret(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Security.StrictAuth = true
	cfg.Security.JWTSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("strict auth without secret accepted")
	}
}

func TestValidateRejectsInvertedBackoffBounds(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.Feed.BackoffBase = time.Minute
	cfg.Feed.BackoffMax = time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("backoff max below base accepted")
	}
}

func TestEnvTransform(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"PORTOLAN_FEED_URL":                "feed.url",
		"PORTOLAN_BROADCAST_TICK_INTERVAL": "broadcast.tick_interval",
		"PORTOLAN_NATS_EMBEDDED":           "nats.embedded",
	}
	for in, want := range cases {
		if got := envTransform(in); got != want {
			t.Errorf("envTransform(%q) = %q, want %q", in, got, want)
		}
	}
}
