// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/amas/config.yaml",
	"/etc/amas/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "AMAS_CONFIG_PATH"

// envPrefix is stripped from environment variables before mapping.
const envPrefix = "AMAS_"

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config File: optional YAML file (if one exists)
//  3. Environment Variables: AMAS_* overrides any setting
//
// The returned Config has passed Validate; a boot-critical violation (for
// example a feature dimension the persisted state cannot support) is
// returned as a ConfigViolation error and the process must not start.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// AMAS_LINUCB_ALPHA -> linucb.alpha, AMAS_HTTP_PORT -> server.port
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Comma-separated env values for known slice fields
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths. Returns
// the first file found, or empty string if none exists.
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

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when they arrive as env strings.
var sliceConfigPaths = []string{
	"security.api_tokens",
	"security.cors_origins",
	"security.trusted_proxies",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings, but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML): skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envMappings maps AMAS_* environment variable names (prefix stripped,
// lowercased) to koanf config paths. Unmapped variables are dropped so
// unrelated environment noise never pollutes the config.
var envMappings = map[string]string{
	// Feature builder
	"feature_dimension": "feature.dimension",

	// LinUCB
	"linucb_alpha":  "linucb.alpha",
	"linucb_lambda": "linucb.lambda",

	// Reward
	"reward_profile": "reward.profile",

	// Cold start
	"coldstart_early_stop": "coldstart.early_stop_threshold",
	"coldstart_min_probes": "coldstart.min_probes",

	// Ensemble
	"ensemble_min_weight":      "ensemble.min_weight",
	"ensemble_adaptation_rate": "ensemble.adaptation_rate",

	// Learner flags
	"features_linucb":    "features.linucb",
	"features_thompson":  "features.thompson",
	"features_actr":      "features.actr",
	"features_heuristic": "features.heuristic",

	// Worker pool
	"worker_pool_size":  "worker_pool.size",
	"worker_queue_size": "worker_pool.queue_size",

	// Persistence
	"snapshot_every_n":        "persistence.snapshot_every_n",
	"snapshot_max_age":        "persistence.snapshot_max_age",
	"record_queue_size":       "persistence.record_queue_size",
	"snapshot_queue_size":     "persistence.snapshot_queue_size",
	"record_queue_high_water": "persistence.record_queue_high_water",
	"trace_sample_n":          "persistence.trace_sample_n",
	"enqueue_deadline":        "persistence.enqueue_deadline",

	// Bundle cache
	"cache_max_bundles": "cache.max_bundles",
	"cache_bundle_ttl":  "cache.bundle_ttl",

	// Database mappings
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",
	"badger_path":       "badger.path",

	// NATS mappings
	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_embedded":       "nats.embedded_server",
	"nats_store_dir":      "nats.store_dir",
	"nats_max_memory":     "nats.max_memory",
	"nats_max_store":      "nats.max_store",
	"nats_retention_days": "nats.stream_retention_days",
	"nats_subscribers":    "nats.subscribers_count",
	"nats_durable_name":   "nats.durable_name",
	"nats_queue_group":    "nats.queue_group",

	// Server mappings
	"http_host":    "server.host",
	"http_port":    "server.port",
	"http_timeout": "server.timeout",
	"environment":  "server.environment",

	// API mappings
	"api_default_page_size": "api.default_page_size",
	"api_max_page_size":     "api.max_page_size",

	// Security mappings
	"auth_mode":           "security.auth_mode",
	"jwt_secret":          "security.jwt_secret",
	"token_ttl":           "security.token_ttl",
	"admin_username":      "security.admin_username",
	"admin_password":      "security.admin_password",
	"api_tokens":          "security.api_tokens",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",
	"trusted_proxies":     "security.trusted_proxies",

	// Stats mappings
	"stats_flush_interval": "stats.flush_interval",
	"stats_mix_ttl":        "stats.mix_ttl",

	// Optimizer mappings
	"optimizer_enabled":  "optimizer.enabled",
	"optimizer_interval": "optimizer.interval",
	"optimizer_beta":     "optimizer.ucb_beta",

	// Logging mappings
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an AMAS_* environment variable name to its koanf
// config path.
//
// Examples:
//   - AMAS_LINUCB_ALPHA -> linucb.alpha
//   - AMAS_HTTP_PORT -> server.port
//   - AMAS_DUCKDB_PATH -> database.path
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so random environment variables never
	// pollute the config.
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability. The
// caller is responsible for mutex protection when swapping configuration
// during reloads.
//
// Example usage:
//
//	var cfgMu sync.RWMutex
//	var cfg *config.Config
//
//	err := config.WatchConfigFile(configPath, func() {
//	    cfgMu.Lock()
//	    defer cfgMu.Unlock()
//	    newCfg, err := config.Load()
//	    if err != nil {
//	        log.Printf("config reload failed: %v", err)
//	        return
//	    }
//	    cfg = newCfg
//	})
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
