// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

/*
Package config provides centralized configuration management for AMAS.

This package handles loading, validation, and parsing of configuration for
all engine components. It ensures consistent settings across the decision
pipeline and provides working defaults for everything except credentials.

# Configuration Sources

Configuration is layered with Koanf v2, later sources overriding earlier:

  - Built-in defaults (defaultConfig)
  - Optional YAML file (config.yaml, or AMAS_CONFIG_PATH)
  - AMAS_* environment variables

# Configuration Structure

The package organizes configuration into logical groups:

  - FeatureConfig / LinUCBConfig / ColdStartConfig / EnsembleConfig /
    RewardConfig: decision-core tuning
  - LearnerFlags: per-learner enable switches
  - PersistenceConfig / DatabaseConfig / BadgerConfig: stores and writer
  - CacheConfig / WorkerPoolConfig: resident bundles and numeric offload
  - ServerConfig / APIConfig / SecurityConfig: HTTP surface
  - NATSConfig: event ingest (build tag nats)
  - StatsConfig / OptimizerConfig: background analytics
  - LoggingConfig: zerolog

# Boot Asserts

Validate distinguishes two failure classes. Ordinary misconfiguration
(bad ranges, missing credentials) returns plain errors. Violations that
would corrupt persisted state — today only a feature dimension other
than 22 — return amaserr.KindConfigViolation and the process must not
start.

# Usage

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal().Err(err).Msg("config load failed")
	}
	for _, w := range cfg.SecurityWarnings() {
	    log.Warn().Msg(w)
	}

Config is immutable after Load and safe for concurrent reads.
*/
package config
