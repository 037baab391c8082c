// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/amas/internal/amaserr"
)

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	// Decision core defaults
	if cfg.Feature.Dimension != 22 {
		t.Errorf("Feature.Dimension = %d, want 22", cfg.Feature.Dimension)
	}
	if cfg.LinUCB.Alpha != 1.0 || cfg.LinUCB.Lambda != 1.0 {
		t.Errorf("LinUCB = %v/%v, want 1.0/1.0", cfg.LinUCB.Alpha, cfg.LinUCB.Lambda)
	}
	if cfg.Reward.Profile != "standard" {
		t.Errorf("Reward.Profile = %q, want standard", cfg.Reward.Profile)
	}
	if cfg.ColdStart.EarlyStopThreshold != 0.85 {
		t.Errorf("ColdStart.EarlyStopThreshold = %v, want 0.85", cfg.ColdStart.EarlyStopThreshold)
	}
	if cfg.ColdStart.MinProbes != 2 {
		t.Errorf("ColdStart.MinProbes = %d, want 2", cfg.ColdStart.MinProbes)
	}
	if cfg.Ensemble.MinWeight != 0.05 {
		t.Errorf("Ensemble.MinWeight = %v, want 0.05", cfg.Ensemble.MinWeight)
	}
	if !cfg.Features.LinUCB || !cfg.Features.Thompson || !cfg.Features.ACTR || !cfg.Features.Heuristic {
		t.Error("all learners should be enabled by default")
	}

	// Persistence defaults
	if cfg.Persist.SnapshotEveryN != 25 {
		t.Errorf("Persist.SnapshotEveryN = %d, want 25", cfg.Persist.SnapshotEveryN)
	}
	if cfg.Persist.RecordQueueSize != 1024 || cfg.Persist.SnapshotQueueSize != 256 {
		t.Errorf("queue sizes = %d/%d, want 1024/256",
			cfg.Persist.RecordQueueSize, cfg.Persist.SnapshotQueueSize)
	}
	if cfg.Persist.RecordQueueHighWater != 768 {
		t.Errorf("Persist.RecordQueueHighWater = %d, want 768", cfg.Persist.RecordQueueHighWater)
	}
	if cfg.Persist.TraceSampleN != 10 {
		t.Errorf("Persist.TraceSampleN = %d, want 10", cfg.Persist.TraceSampleN)
	}
	if cfg.Persist.EnqueueDeadline != 250*time.Millisecond {
		t.Errorf("Persist.EnqueueDeadline = %v, want 250ms", cfg.Persist.EnqueueDeadline)
	}

	// Cache defaults
	if cfg.Cache.MaxBundles != 10000 {
		t.Errorf("Cache.MaxBundles = %d, want 10000", cfg.Cache.MaxBundles)
	}
	if cfg.Cache.BundleTTL != 2*time.Hour {
		t.Errorf("Cache.BundleTTL = %v, want 2h", cfg.Cache.BundleTTL)
	}

	// Store defaults
	if cfg.Database.Path != "./data/amas.duckdb" {
		t.Errorf("Database.Path = %q, want ./data/amas.duckdb", cfg.Database.Path)
	}
	if cfg.Database.MaxMemory != "2GB" {
		t.Errorf("Database.MaxMemory = %q, want 2GB", cfg.Database.MaxMemory)
	}
	if cfg.Badger.Path != "./data/snapshots" {
		t.Errorf("Badger.Path = %q, want ./data/snapshots", cfg.Badger.Path)
	}

	// NATS defaults (disabled)
	if cfg.NATS.Enabled {
		t.Error("NATS.Enabled should be false by default")
	}
	if cfg.NATS.MaxMemory != 1<<30 {
		t.Errorf("NATS.MaxMemory = %d, want 1GB", cfg.NATS.MaxMemory)
	}

	// Server defaults
	if cfg.Server.Port != 8484 {
		t.Errorf("Server.Port = %d, want 8484", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.IsProduction() {
		t.Error("default environment should not be production")
	}

	// Security defaults
	if cfg.Security.AuthMode != "jwt" {
		t.Errorf("Security.AuthMode = %q, want jwt", cfg.Security.AuthMode)
	}
	if cfg.Security.RateLimitReqs != 100 || cfg.Security.RateLimitWindow != time.Minute {
		t.Errorf("rate limit = %d/%v, want 100/1m",
			cfg.Security.RateLimitReqs, cfg.Security.RateLimitWindow)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %q/%q, want info/json", cfg.Logging.Level, cfg.Logging.Format)
	}
}

// TestDefaultsRequireCredentials verifies the fail-safe: the default jwt
// mode refuses to boot until the operator provides a secret and admin
// credentials.
func TestDefaultsRequireCredentials(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("default config should fail validation without credentials")
	}

	cfg.Security.JWTSecret = strings.Repeat("s", 32)
	cfg.Security.AdminUsername = "admin"
	cfg.Security.AdminPassword = "correct-horse-battery"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config with credentials should validate: %v", err)
	}
}

func TestValidateFeatureDimension(t *testing.T) {
	cfg := validTestConfig()

	cfg.Feature.Dimension = 16
	err := cfg.Validate()
	if err == nil {
		t.Fatal("dimension 16 should fail validation")
	}
	if amaserr.KindOf(err) != amaserr.KindConfigViolation {
		t.Errorf("kind = %v, want ConfigViolation", amaserr.KindOf(err))
	}

	cfg.Feature.Dimension = 22
	if err := cfg.Validate(); err != nil {
		t.Errorf("dimension 22 should validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero alpha", func(c *Config) { c.LinUCB.Alpha = 0 }},
		{"negative lambda", func(c *Config) { c.LinUCB.Lambda = -1 }},
		{"unknown reward profile", func(c *Config) { c.Reward.Profile = "turbo" }},
		{"early stop too low", func(c *Config) { c.ColdStart.EarlyStopThreshold = 0.5 }},
		{"early stop above one", func(c *Config) { c.ColdStart.EarlyStopThreshold = 1.1 }},
		{"min probes zero", func(c *Config) { c.ColdStart.MinProbes = 0 }},
		{"min probes four", func(c *Config) { c.ColdStart.MinProbes = 4 }},
		{"weight floor too high", func(c *Config) { c.Ensemble.MinWeight = 0.3 }},
		{"all learners disabled", func(c *Config) { c.Features = LearnerFlags{} }},
		{"worker pool zero", func(c *Config) { c.WorkerPool.Size = 0 }},
		{"high water above queue", func(c *Config) { c.Persist.RecordQueueHighWater = 5000 }},
		{"enqueue deadline too long", func(c *Config) { c.Persist.EnqueueDeadline = time.Minute }},
		{"tiny bundle ttl", func(c *Config) { c.Cache.BundleTTL = time.Second }},
		{"empty duckdb path", func(c *Config) { c.Database.Path = "" }},
		{"empty badger path", func(c *Config) { c.Badger.Path = "" }},
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"bad environment", func(c *Config) { c.Server.Environment = "staging" }},
		{"default page above max", func(c *Config) { c.API.DefaultPageSize = 500 }},
		{"unknown auth mode", func(c *Config) { c.Security.AuthMode = "basic" }},
		{"short jwt secret", func(c *Config) { c.Security.JWTSecret = "short" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"optimizer beta zero", func(c *Config) { c.Optimizer.UCBBeta = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateTokenMode(t *testing.T) {
	cfg := validTestConfig()
	cfg.Security.AuthMode = "token"
	cfg.Security.APITokens = nil
	if err := cfg.Validate(); err == nil {
		t.Error("token mode without tokens should fail")
	}

	cfg.Security.APITokens = []string{"short"}
	if err := cfg.Validate(); err == nil {
		t.Error("token shorter than 16 chars should fail")
	}

	cfg.Security.APITokens = []string{"a-long-enough-static-token"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid token mode should pass: %v", err)
	}
}

func TestValidateNoneModeBlockedInProduction(t *testing.T) {
	cfg := validTestConfig()
	cfg.Security.AuthMode = "none"

	if err := cfg.Validate(); err != nil {
		t.Errorf("auth none in development should validate: %v", err)
	}

	cfg.Server.Environment = "production"
	if err := cfg.Validate(); err == nil {
		t.Error("auth none in production should fail")
	}
}

func TestValidateNATSOnlyWhenEnabled(t *testing.T) {
	cfg := validTestConfig()
	cfg.NATS.MaxMemory = 1 // illegal, but NATS disabled
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled NATS should skip its checks: %v", err)
	}

	cfg.NATS.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("enabled NATS with 1-byte memory should fail")
	}
}

func TestEffectiveWorkerPoolSize(t *testing.T) {
	w := WorkerPoolConfig{Size: 10000}
	if got := w.EffectiveSize(); got > 10000 || got < 1 {
		t.Errorf("EffectiveSize() = %d, want within [1, size]", got)
	}

	w = WorkerPoolConfig{Size: 1}
	if got := w.EffectiveSize(); got != 1 {
		t.Errorf("EffectiveSize() = %d, want 1", got)
	}
}

func TestSecurityWarnings(t *testing.T) {
	cfg := validTestConfig()
	cfg.Security.AuthMode = "none"
	cfg.Security.RateLimitDisabled = true
	cfg.Security.AdminPassword = ""

	warnings := cfg.SecurityWarnings()
	if len(warnings) < 2 {
		t.Errorf("warnings = %v, want auth and rate-limit warnings", warnings)
	}

	cfg = validTestConfig()
	cfg.Server.Environment = "production"
	cfg.Security.CORSOrigins = []string{"*"}
	found := false
	for _, w := range cfg.SecurityWarnings() {
		if strings.Contains(w, "CORS") {
			found = true
		}
	}
	if !found {
		t.Error("wildcard CORS in production should warn")
	}
}

// validTestConfig returns defaults plus the minimum credentials to pass
// validation.
func validTestConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWTSecret = strings.Repeat("k", 40)
	cfg.Security.AdminUsername = "admin"
	cfg.Security.AdminPassword = "a-strong-test-password"
	return cfg
}

// TestFindConfigFile verifies config file discovery
func TestFindConfigFile(t *testing.T) {
	tmpDir := t.TempDir()

	origDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	defer func() {
		if err := os.Chdir(origDir); err != nil {
			t.Errorf("Failed to restore working directory: %v", err)
		}
	}()

	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change to temp directory: %v", err)
	}

	t.Run("no config file exists", func(t *testing.T) {
		os.Unsetenv(ConfigPathEnvVar)
		if result := findConfigFile(); result != "" {
			t.Errorf("findConfigFile() = %q, want empty string", result)
		}
	})

	t.Run("config.yaml exists", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "config.yaml")
		if err := os.WriteFile(configPath, []byte("logging:\n  level: debug\n"), 0644); err != nil {
			t.Fatalf("Failed to create config file: %v", err)
		}
		defer os.Remove(configPath)

		os.Unsetenv(ConfigPathEnvVar)
		if result := findConfigFile(); result != "config.yaml" {
			t.Errorf("findConfigFile() = %q, want config.yaml", result)
		}
	})

	t.Run("AMAS_CONFIG_PATH takes precedence", func(t *testing.T) {
		customPath := filepath.Join(tmpDir, "custom.yaml")
		if err := os.WriteFile(customPath, []byte("logging:\n  level: debug\n"), 0644); err != nil {
			t.Fatalf("Failed to create custom config file: %v", err)
		}
		defer os.Remove(customPath)

		t.Setenv(ConfigPathEnvVar, customPath)
		if result := findConfigFile(); result != customPath {
			t.Errorf("findConfigFile() = %q, want %q", result, customPath)
		}
	})

	t.Run("missing AMAS_CONFIG_PATH falls through", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, "/non/existent/config.yaml")
		if result := findConfigFile(); result != "" {
			t.Errorf("findConfigFile() = %q, want empty string", result)
		}
	})
}
