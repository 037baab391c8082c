// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestEnvTransformFunc verifies the AMAS_* to koanf path mapping
func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Decision core
		{"AMAS_FEATURE_DIMENSION", "feature.dimension"},
		{"AMAS_LINUCB_ALPHA", "linucb.alpha"},
		{"AMAS_LINUCB_LAMBDA", "linucb.lambda"},
		{"AMAS_REWARD_PROFILE", "reward.profile"},
		{"AMAS_COLDSTART_EARLY_STOP", "coldstart.early_stop_threshold"},
		{"AMAS_COLDSTART_MIN_PROBES", "coldstart.min_probes"},
		{"AMAS_ENSEMBLE_MIN_WEIGHT", "ensemble.min_weight"},
		{"AMAS_FEATURES_LINUCB", "features.linucb"},
		{"AMAS_FEATURES_ACTR", "features.actr"},

		// Infrastructure
		{"AMAS_WORKER_POOL_SIZE", "worker_pool.size"},
		{"AMAS_SNAPSHOT_EVERY_N", "persistence.snapshot_every_n"},
		{"AMAS_RECORD_QUEUE_HIGH_WATER", "persistence.record_queue_high_water"},
		{"AMAS_TRACE_SAMPLE_N", "persistence.trace_sample_n"},
		{"AMAS_ENQUEUE_DEADLINE", "persistence.enqueue_deadline"},
		{"AMAS_CACHE_MAX_BUNDLES", "cache.max_bundles"},
		{"AMAS_CACHE_BUNDLE_TTL", "cache.bundle_ttl"},
		{"AMAS_DUCKDB_PATH", "database.path"},
		{"AMAS_DUCKDB_MAX_MEMORY", "database.max_memory"},
		{"AMAS_BADGER_PATH", "badger.path"},

		// NATS
		{"AMAS_NATS_ENABLED", "nats.enabled"},
		{"AMAS_NATS_URL", "nats.url"},
		{"AMAS_NATS_EMBEDDED", "nats.embedded_server"},
		{"AMAS_NATS_RETENTION_DAYS", "nats.stream_retention_days"},

		// Server
		{"AMAS_HTTP_PORT", "server.port"},
		{"AMAS_HTTP_HOST", "server.host"},
		{"AMAS_HTTP_TIMEOUT", "server.timeout"},
		{"AMAS_ENVIRONMENT", "server.environment"},

		// Security
		{"AMAS_AUTH_MODE", "security.auth_mode"},
		{"AMAS_JWT_SECRET", "security.jwt_secret"},
		{"AMAS_ADMIN_USERNAME", "security.admin_username"},
		{"AMAS_API_TOKENS", "security.api_tokens"},
		{"AMAS_RATE_LIMIT_REQUESTS", "security.rate_limit_reqs"},
		{"AMAS_DISABLE_RATE_LIMIT", "security.rate_limit_disabled"},
		{"AMAS_CORS_ORIGINS", "security.cors_origins"},

		// Background analytics
		{"AMAS_STATS_FLUSH_INTERVAL", "stats.flush_interval"},
		{"AMAS_OPTIMIZER_BETA", "optimizer.ucb_beta"},

		// Logging
		{"AMAS_LOG_LEVEL", "logging.level"},
		{"AMAS_LOG_FORMAT", "logging.format"},

		// Unknown (should return empty)
		{"AMAS_RANDOM_VAR", ""},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := envTransformFunc(tt.input); result != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestLoadWithEnvironmentOverrides verifies ENV > defaults precedence
func TestLoadWithEnvironmentOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/non/existent/config.yaml")
	t.Setenv("AMAS_AUTH_MODE", "none")
	t.Setenv("AMAS_HTTP_PORT", "9000")
	t.Setenv("AMAS_LOG_LEVEL", "debug")
	t.Setenv("AMAS_LINUCB_ALPHA", "0.7")
	t.Setenv("AMAS_SNAPSHOT_EVERY_N", "50")
	t.Setenv("AMAS_CACHE_BUNDLE_TTL", "30m")
	t.Setenv("AMAS_API_TOKENS", "token-abcdefghijklmnop, token-qrstuvwxyz012345")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.LinUCB.Alpha != 0.7 {
		t.Errorf("LinUCB.Alpha = %v, want 0.7", cfg.LinUCB.Alpha)
	}
	if cfg.Persist.SnapshotEveryN != 50 {
		t.Errorf("Persist.SnapshotEveryN = %d, want 50", cfg.Persist.SnapshotEveryN)
	}
	if cfg.Cache.BundleTTL != 30*time.Minute {
		t.Errorf("Cache.BundleTTL = %v, want 30m", cfg.Cache.BundleTTL)
	}
	if len(cfg.Security.APITokens) != 2 {
		t.Errorf("APITokens = %v, want 2 comma-split entries", cfg.Security.APITokens)
	}

	// Untouched settings keep their defaults
	if cfg.Feature.Dimension != 22 {
		t.Errorf("Feature.Dimension = %d, want default 22", cfg.Feature.Dimension)
	}
	if cfg.Ensemble.MinWeight != 0.05 {
		t.Errorf("Ensemble.MinWeight = %v, want default 0.05", cfg.Ensemble.MinWeight)
	}
}

// TestLoadLayering verifies ENV > file > defaults
func TestLoadLayering(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 7777
  timeout: 45s
logging:
  level: warn
linucb:
  alpha: 2.5
security:
  auth_mode: none
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, configPath)
	t.Setenv("AMAS_HTTP_PORT", "9999")  // env beats file
	t.Setenv("AMAS_LOG_LEVEL", "error") // env beats file
	t.Setenv("AMAS_DUCKDB_PATH", "/custom/db.duckdb")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %q, want env override error", cfg.Logging.Level)
	}
	if cfg.Server.Timeout != 45*time.Second {
		t.Errorf("Server.Timeout = %v, want file value 45s", cfg.Server.Timeout)
	}
	if cfg.LinUCB.Alpha != 2.5 {
		t.Errorf("LinUCB.Alpha = %v, want file value 2.5", cfg.LinUCB.Alpha)
	}
	if cfg.Database.Path != "/custom/db.duckdb" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.Database.MaxMemory != "2GB" {
		t.Errorf("Database.MaxMemory = %q, want default 2GB", cfg.Database.MaxMemory)
	}
}

// TestLoadRejectsBadDimension verifies the boot assert travels through Load
func TestLoadRejectsBadDimension(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/non/existent/config.yaml")
	t.Setenv("AMAS_AUTH_MODE", "none")
	t.Setenv("AMAS_FEATURE_DIMENSION", "16")

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject feature dimension 16")
	}
}

// TestProcessSliceFields verifies comma-separated env values become slices
func TestProcessSliceFields(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/non/existent/config.yaml")
	t.Setenv("AMAS_AUTH_MODE", "none")
	t.Setenv("AMAS_CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("AMAS_TRUSTED_PROXIES", "10.0.0.0/8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if len(cfg.Security.CORSOrigins) != 2 {
		t.Fatalf("CORSOrigins = %v, want 2 trimmed entries", cfg.Security.CORSOrigins)
	}
	if cfg.Security.CORSOrigins[0] != "https://a.example" || cfg.Security.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v, want trimmed values", cfg.Security.CORSOrigins)
	}
	if len(cfg.Security.TrustedProxies) != 1 || cfg.Security.TrustedProxies[0] != "10.0.0.0/8" {
		t.Errorf("TrustedProxies = %v, want single CIDR", cfg.Security.TrustedProxies)
	}
}
