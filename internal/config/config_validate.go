// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/amas/internal/amaserr"
)

// Validation bounds.
const (
	minJWTSecretLength = 32
	maxWorkerPoolSize  = 256
	maxPageSizeLimit   = 1000
	minEnqueueDeadline = 10 * time.Millisecond
	maxEnqueueDeadline = 5 * time.Second

	natsMinMemory    = 64 * 1024 * 1024  // 64MB
	natsMinStore     = 100 * 1024 * 1024 // 100MB
	natsMinRetention = 1
	natsMaxRetention = 365
	natsMaxSubs      = 32
)

// Validate checks the whole configuration. The first violation found is
// returned; boot-critical violations carry amaserr.KindConfigViolation so
// main can distinguish them from recoverable misconfiguration.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateFeatureDimension,
		c.validateLinUCB,
		c.validateRewardProfile,
		c.validateColdStart,
		c.validateEnsemble,
		c.validateLearnerFlags,
		c.validateWorkerPool,
		c.validatePersistence,
		c.validateCache,
		c.validateDatabase,
		c.validateNATS,
		c.validateServer,
		c.validateAPI,
		c.validateSecurity,
		c.validateStats,
		c.validateOptimizer,
		c.validateLogging,
	}

	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateFeatureDimension rejects any dimension other than the pinned
// value. Persisted bandit state, the feature table, and worker payloads
// all assume it; running with a different dimension would corrupt every
// user's model.
func (c *Config) validateFeatureDimension() error {
	if c.Feature.Dimension != FeatureDimension {
		return amaserr.Ef(amaserr.KindConfigViolation, "config.Validate",
			"AMAS_FEATURE_DIMENSION must be %d, got %d", FeatureDimension, c.Feature.Dimension)
	}
	return nil
}

func (c *Config) validateLinUCB() error {
	if c.LinUCB.Alpha <= 0 || c.LinUCB.Alpha > 100 {
		return fmt.Errorf("AMAS_LINUCB_ALPHA must be in (0, 100], got %v", c.LinUCB.Alpha)
	}
	if c.LinUCB.Lambda <= 0 || c.LinUCB.Lambda > 1000 {
		return fmt.Errorf("AMAS_LINUCB_LAMBDA must be in (0, 1000], got %v", c.LinUCB.Lambda)
	}
	return nil
}

func (c *Config) validateRewardProfile() error {
	switch c.Reward.Profile {
	case "standard", "cram", "relaxed":
		return nil
	}
	return fmt.Errorf("AMAS_REWARD_PROFILE must be standard, cram, or relaxed, got %q", c.Reward.Profile)
}

func (c *Config) validateColdStart() error {
	if c.ColdStart.EarlyStopThreshold <= 0.5 || c.ColdStart.EarlyStopThreshold > 1 {
		return fmt.Errorf("AMAS_COLDSTART_EARLY_STOP must be in (0.5, 1], got %v", c.ColdStart.EarlyStopThreshold)
	}
	if c.ColdStart.MinProbes < 1 || c.ColdStart.MinProbes > 3 {
		return fmt.Errorf("AMAS_COLDSTART_MIN_PROBES must be between 1 and 3, got %d", c.ColdStart.MinProbes)
	}
	return nil
}

// validateEnsemble bounds the weight floor so four floored learners can
// never sum past 1.
func (c *Config) validateEnsemble() error {
	if c.Ensemble.MinWeight <= 0 || c.Ensemble.MinWeight > 0.25 {
		return fmt.Errorf("AMAS_ENSEMBLE_MIN_WEIGHT must be in (0, 0.25], got %v", c.Ensemble.MinWeight)
	}
	if c.Ensemble.AdaptationRate <= 0 || c.Ensemble.AdaptationRate > 1 {
		return fmt.Errorf("AMAS_ENSEMBLE_ADAPTATION_RATE must be in (0, 1], got %v", c.Ensemble.AdaptationRate)
	}
	return nil
}

func (c *Config) validateLearnerFlags() error {
	if !c.Features.LinUCB && !c.Features.Thompson && !c.Features.ACTR && !c.Features.Heuristic {
		return fmt.Errorf("at least one learner must stay enabled (AMAS_FEATURES_*)")
	}
	return nil
}

func (c *Config) validateWorkerPool() error {
	if c.WorkerPool.Size < 1 || c.WorkerPool.Size > maxWorkerPoolSize {
		return fmt.Errorf("AMAS_WORKER_POOL_SIZE must be between 1 and %d, got %d", maxWorkerPoolSize, c.WorkerPool.Size)
	}
	if c.WorkerPool.QueueSize < 1 {
		return fmt.Errorf("AMAS_WORKER_QUEUE_SIZE must be positive, got %d", c.WorkerPool.QueueSize)
	}
	return nil
}

func (c *Config) validatePersistence() error {
	p := c.Persist
	if p.SnapshotEveryN < 1 {
		return fmt.Errorf("AMAS_SNAPSHOT_EVERY_N must be positive, got %d", p.SnapshotEveryN)
	}
	if p.SnapshotMaxAge < time.Second {
		return fmt.Errorf("AMAS_SNAPSHOT_MAX_AGE must be at least 1s, got %v", p.SnapshotMaxAge)
	}
	if p.RecordQueueSize < 16 {
		return fmt.Errorf("AMAS_RECORD_QUEUE_SIZE must be at least 16, got %d", p.RecordQueueSize)
	}
	if p.SnapshotQueueSize < 16 {
		return fmt.Errorf("AMAS_SNAPSHOT_QUEUE_SIZE must be at least 16, got %d", p.SnapshotQueueSize)
	}
	if p.RecordQueueHighWater < 1 || p.RecordQueueHighWater >= p.RecordQueueSize {
		return fmt.Errorf("AMAS_RECORD_QUEUE_HIGH_WATER must be in [1, queue size), got %d", p.RecordQueueHighWater)
	}
	if p.TraceSampleN < 1 {
		return fmt.Errorf("AMAS_TRACE_SAMPLE_N must be positive, got %d", p.TraceSampleN)
	}
	if p.EnqueueDeadline < minEnqueueDeadline || p.EnqueueDeadline > maxEnqueueDeadline {
		return fmt.Errorf("AMAS_ENQUEUE_DEADLINE must be between %v and %v, got %v",
			minEnqueueDeadline, maxEnqueueDeadline, p.EnqueueDeadline)
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.MaxBundles < 1 {
		return fmt.Errorf("AMAS_CACHE_MAX_BUNDLES must be positive, got %d", c.Cache.MaxBundles)
	}
	if c.Cache.BundleTTL < time.Minute {
		return fmt.Errorf("AMAS_CACHE_BUNDLE_TTL must be at least 1m, got %v", c.Cache.BundleTTL)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("AMAS_DUCKDB_PATH must not be empty")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("AMAS_DUCKDB_THREADS must be non-negative, got %d", c.Database.Threads)
	}
	if c.Badger.Path == "" {
		return fmt.Errorf("AMAS_BADGER_PATH must not be empty")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.MaxMemory < natsMinMemory {
		return fmt.Errorf("AMAS_NATS_MAX_MEMORY must be at least 64MB (67108864 bytes)")
	}
	if c.NATS.MaxStore < natsMinStore {
		return fmt.Errorf("AMAS_NATS_MAX_STORE must be at least 100MB (104857600 bytes)")
	}
	if c.NATS.StreamRetentionDays < natsMinRetention || c.NATS.StreamRetentionDays > natsMaxRetention {
		return fmt.Errorf("AMAS_NATS_RETENTION_DAYS must be between 1 and 365")
	}
	if c.NATS.SubscribersCount < 1 || c.NATS.SubscribersCount > natsMaxSubs {
		return fmt.Errorf("AMAS_NATS_SUBSCRIBERS must be between 1 and %d", natsMaxSubs)
	}
	if !c.NATS.EmbeddedServer && c.NATS.URL == "" {
		return fmt.Errorf("AMAS_NATS_URL is required when AMAS_NATS_EMBEDDED=false")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("AMAS_HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout < time.Second {
		return fmt.Errorf("AMAS_HTTP_TIMEOUT must be at least 1s, got %v", c.Server.Timeout)
	}
	switch c.Server.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("AMAS_ENVIRONMENT must be development or production, got %q", c.Server.Environment)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.DefaultPageSize < 1 || c.API.DefaultPageSize > c.API.MaxPageSize {
		return fmt.Errorf("AMAS_API_DEFAULT_PAGE_SIZE must be in [1, max page size], got %d", c.API.DefaultPageSize)
	}
	if c.API.MaxPageSize < 1 || c.API.MaxPageSize > maxPageSizeLimit {
		return fmt.Errorf("AMAS_API_MAX_PAGE_SIZE must be between 1 and %d, got %d", maxPageSizeLimit, c.API.MaxPageSize)
	}
	return nil
}

// validateSecurity dispatches on the auth mode; each mode has its own
// required settings.
func (c *Config) validateSecurity() error {
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs < 1 {
			return fmt.Errorf("AMAS_RATE_LIMIT_REQUESTS must be positive, got %d", c.Security.RateLimitReqs)
		}
		if c.Security.RateLimitWindow < time.Second {
			return fmt.Errorf("AMAS_RATE_LIMIT_WINDOW must be at least 1s, got %v", c.Security.RateLimitWindow)
		}
	}

	validators := map[string]func() error{
		"jwt":   c.validateJWTMode,
		"token": c.validateTokenMode,
		"none":  c.validateNoneMode,
	}

	validate, exists := validators[c.Security.AuthMode]
	if !exists {
		return fmt.Errorf("AMAS_AUTH_MODE must be jwt, token, or none, got %q", c.Security.AuthMode)
	}
	return validate()
}

func (c *Config) validateJWTMode() error {
	if len(c.Security.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("AMAS_JWT_SECRET must be at least %d characters when AMAS_AUTH_MODE=jwt", minJWTSecretLength)
	}
	if c.Security.AdminUsername == "" || c.Security.AdminPassword == "" {
		return fmt.Errorf("AMAS_ADMIN_USERNAME and AMAS_ADMIN_PASSWORD are required when AMAS_AUTH_MODE=jwt")
	}
	if c.Security.TokenTTL < time.Minute || c.Security.TokenTTL > 30*24*time.Hour {
		return fmt.Errorf("AMAS_TOKEN_TTL must be between 1m and 720h, got %v", c.Security.TokenTTL)
	}
	return nil
}

func (c *Config) validateTokenMode() error {
	if len(c.Security.APITokens) == 0 {
		return fmt.Errorf("AMAS_API_TOKENS must list at least one token when AMAS_AUTH_MODE=token")
	}
	for i, tok := range c.Security.APITokens {
		if len(tok) < 16 {
			return fmt.Errorf("AMAS_API_TOKENS[%d] is too short (16+ characters required)", i)
		}
	}
	return nil
}

// validateNoneMode permits unauthenticated operation in development only.
func (c *Config) validateNoneMode() error {
	if c.Server.IsProduction() {
		return fmt.Errorf("AMAS_AUTH_MODE=none is not allowed when AMAS_ENVIRONMENT=production")
	}
	return nil
}

func (c *Config) validateStats() error {
	if c.Stats.FlushInterval < time.Minute {
		return fmt.Errorf("AMAS_STATS_FLUSH_INTERVAL must be at least 1m, got %v", c.Stats.FlushInterval)
	}
	if c.Stats.MixTTL < time.Minute {
		return fmt.Errorf("AMAS_STATS_MIX_TTL must be at least 1m, got %v", c.Stats.MixTTL)
	}
	return nil
}

func (c *Config) validateOptimizer() error {
	if !c.Optimizer.Enabled {
		return nil
	}
	if c.Optimizer.Interval < time.Hour {
		return fmt.Errorf("AMAS_OPTIMIZER_INTERVAL must be at least 1h, got %v", c.Optimizer.Interval)
	}
	if c.Optimizer.UCBBeta <= 0 || c.Optimizer.UCBBeta > 10 {
		return fmt.Errorf("AMAS_OPTIMIZER_BETA must be in (0, 10], got %v", c.Optimizer.UCBBeta)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("AMAS_LOG_LEVEL must be trace, debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("AMAS_LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// SecurityWarnings returns human-readable warnings for risky but legal
// settings. main logs these at startup; none of them block boot.
func (c *Config) SecurityWarnings() []string {
	var warnings []string

	if c.Security.AuthMode == "none" {
		warnings = append(warnings, "authentication is disabled (AMAS_AUTH_MODE=none); every API client has admin access")
	}
	if c.Security.RateLimitDisabled {
		warnings = append(warnings, "rate limiting is disabled (AMAS_DISABLE_RATE_LIMIT=true)")
	}
	if len(c.Security.CORSOrigins) == 1 && c.Security.CORSOrigins[0] == "*" && c.Server.IsProduction() {
		warnings = append(warnings, "CORS allows all origins in production (AMAS_CORS_ORIGINS=*)")
	}
	if c.Security.AuthMode == "jwt" && len(c.Security.AdminPassword) < 12 {
		warnings = append(warnings, "admin password is shorter than 12 characters")
	}

	return warnings
}
