// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package config

import (
	"runtime"
	"time"
)

// Config holds all engine configuration loaded from defaults, an optional
// YAML file, and AMAS_* environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in values for every setting
//  2. Config File: Optional YAML file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting via AMAS_* variables
//
// Configuration Categories:
//
//  1. Decision core:
//     - Feature: LinUCB feature builder (dimension is pinned at boot)
//     - LinUCB / ColdStart / Ensemble / Reward: learner and voter tuning
//     - Features: per-learner enable flags
//
//  2. Infrastructure:
//     - Database: DuckDB decision log (path, memory, threads)
//     - Badger: model snapshot store
//     - Persistence: write queues, snapshot cadence, trace sampling
//     - Cache: resident bundle LRU
//     - WorkerPool: offloaded numeric tasks
//     - NATS: event ingest with Watermill/NATS JetStream (build tag nats)
//
//  3. API & Security:
//     - Server: HTTP listener
//     - API: pagination limits
//     - Security: authentication, rate limiting, CORS
//
//  4. Background analytics:
//     - Stats: weekly strategy-effect aggregation
//     - Optimizer: Gaussian-process hyperparameter suggestion
//
//  5. Observability:
//     - Logging: zerolog level and output format
//
// Thread Safety:
// Config is immutable after Load and safe for concurrent reads.
type Config struct {
	Feature    FeatureConfig     `koanf:"feature"`
	LinUCB     LinUCBConfig      `koanf:"linucb"`
	Reward     RewardConfig      `koanf:"reward"`
	ColdStart  ColdStartConfig   `koanf:"coldstart"`
	Ensemble   EnsembleConfig    `koanf:"ensemble"`
	Features   LearnerFlags      `koanf:"features"`
	WorkerPool WorkerPoolConfig  `koanf:"worker_pool"`
	Persist    PersistenceConfig `koanf:"persistence"`
	Cache      CacheConfig       `koanf:"cache"`
	Database   DatabaseConfig    `koanf:"database"`
	Badger     BadgerConfig      `koanf:"badger"`
	NATS       NATSConfig        `koanf:"nats"`
	Server     ServerConfig      `koanf:"server"`
	API        APIConfig         `koanf:"api"`
	Security   SecurityConfig    `koanf:"security"`
	Stats      StatsConfig       `koanf:"stats"`
	Optimizer  OptimizerConfig   `koanf:"optimizer"`
	Logging    LoggingConfig     `koanf:"logging"`
}

// FeatureConfig pins the feature builder. Dimension is asserted at boot:
// the persisted LinUCB state, the feature table, and the worker protocol
// all assume it, so a mismatch is a hard startup failure.
//
// Environment Variables:
//   - AMAS_FEATURE_DIMENSION: feature vector length (must be 22)
type FeatureConfig struct {
	Dimension int `koanf:"dimension"`
}

// LinUCBConfig tunes the contextual bandit.
//
// Environment Variables:
//   - AMAS_LINUCB_ALPHA: base exploration multiplier (default 1.0)
//   - AMAS_LINUCB_LAMBDA: ridge prior on the design matrix (default 1.0)
type LinUCBConfig struct {
	Alpha  float64 `koanf:"alpha"`
	Lambda float64 `koanf:"lambda"`
}

// RewardConfig selects the reward weighting profile.
//
// Profiles:
//   - standard: balanced correctness/speed/frustration/engagement/difficulty
//   - cram: heavier on correctness and speed
//   - relaxed: heavier on frustration and engagement
//
// Environment Variables:
//   - AMAS_REWARD_PROFILE: standard | cram | relaxed (default standard)
type RewardConfig struct {
	Profile string `koanf:"profile"`
}

// ColdStartConfig tunes the new-user classification probes.
//
// Environment Variables:
//   - AMAS_COLDSTART_EARLY_STOP: posterior threshold for early stop (default 0.85)
//   - AMAS_COLDSTART_MIN_PROBES: probes required before early stop (default 2)
type ColdStartConfig struct {
	EarlyStopThreshold float64 `koanf:"early_stop_threshold"`
	MinProbes          int     `koanf:"min_probes"`
}

// EnsembleConfig tunes the weighted voter.
//
// Environment Variables:
//   - AMAS_ENSEMBLE_MIN_WEIGHT: per-learner weight floor (default 0.05)
//   - AMAS_ENSEMBLE_ADAPTATION_RATE: reward-EMA rate for weight adaptation (default 0.1)
type EnsembleConfig struct {
	MinWeight      float64 `koanf:"min_weight"`
	AdaptationRate float64 `koanf:"adaptation_rate"`
}

// LearnerFlags enables or disables individual ensemble members. At least
// one must stay enabled.
//
// Environment Variables:
//   - AMAS_FEATURES_LINUCB, AMAS_FEATURES_THOMPSON,
//     AMAS_FEATURES_ACTR, AMAS_FEATURES_HEURISTIC (all default true)
type LearnerFlags struct {
	LinUCB    bool `koanf:"linucb"`
	Thompson  bool `koanf:"thompson"`
	ACTR      bool `koanf:"actr"`
	Heuristic bool `koanf:"heuristic"`
}

// WorkerPoolConfig sizes the numeric offload pool. The effective worker
// count is min(GOMAXPROCS, Size).
//
// Environment Variables:
//   - AMAS_WORKER_POOL_SIZE: worker cap (default 8)
//   - AMAS_WORKER_QUEUE_SIZE: pending task buffer (default 64)
type WorkerPoolConfig struct {
	Size      int `koanf:"size"`
	QueueSize int `koanf:"queue_size"`
}

// EffectiveSize is the worker count actually started.
func (w WorkerPoolConfig) EffectiveSize() int {
	n := runtime.GOMAXPROCS(0)
	if w.Size < n {
		n = w.Size
	}
	if n < 1 {
		n = 1
	}
	return n
}

// PersistenceConfig tunes the asynchronous store writer and the snapshot
// cadence.
//
// Record writes block up to EnqueueDeadline when the queue is full, then
// drop. Snapshot writes drop immediately on a full queue; a later snapshot
// supersedes anything lost. Above RecordQueueHighWater only one in
// TraceSampleN records keeps its pipeline trace.
//
// Environment Variables:
//   - AMAS_SNAPSHOT_EVERY_N: events between snapshots (default 25)
//   - AMAS_SNAPSHOT_MAX_AGE: force a snapshot after this idle span (default 5m)
//   - AMAS_RECORD_QUEUE_SIZE / AMAS_SNAPSHOT_QUEUE_SIZE: queue capacities
//   - AMAS_RECORD_QUEUE_HIGH_WATER: sampled-tracing trigger (default 768)
//   - AMAS_TRACE_SAMPLE_N: keep 1/N traces above high water (default 10)
//   - AMAS_ENQUEUE_DEADLINE: record enqueue block budget (default 250ms)
type PersistenceConfig struct {
	SnapshotEveryN       int           `koanf:"snapshot_every_n"`
	SnapshotMaxAge       time.Duration `koanf:"snapshot_max_age"`
	RecordQueueSize      int           `koanf:"record_queue_size"`
	SnapshotQueueSize    int           `koanf:"snapshot_queue_size"`
	RecordQueueHighWater int           `koanf:"record_queue_high_water"`
	TraceSampleN         int           `koanf:"trace_sample_n"`
	EnqueueDeadline      time.Duration `koanf:"enqueue_deadline"`
}

// CacheConfig sizes the resident model-bundle LRU.
//
// Environment Variables:
//   - AMAS_CACHE_MAX_BUNDLES: resident bundle cap (default 10000)
//   - AMAS_CACHE_BUNDLE_TTL: idle eviction TTL (default 2h)
type CacheConfig struct {
	MaxBundles int           `koanf:"max_bundles"`
	BundleTTL  time.Duration `koanf:"bundle_ttl"`
}

// DatabaseConfig holds DuckDB settings for the decision log.
//
// Environment Variables:
//   - AMAS_DUCKDB_PATH: database file path (default ./data/amas.duckdb)
//   - AMAS_DUCKDB_MAX_MEMORY: DuckDB memory limit (default 2GB)
//   - AMAS_DUCKDB_THREADS: DuckDB threads, 0 = NumCPU (default 0)
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"`
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// BadgerConfig holds the snapshot store location.
//
// Environment Variables:
//   - AMAS_BADGER_PATH: Badger directory (default ./data/snapshots)
type BadgerConfig struct {
	Path string `koanf:"path"`
}

// NATSConfig configures event ingest over embedded NATS JetStream. Only
// honoured when the binary is built with the nats tag; otherwise the API
// feeds the engine directly and these settings are ignored.
//
// Environment Variables:
//   - AMAS_NATS_ENABLED: enable the messaging path (default false)
//   - AMAS_NATS_URL: server URL when not embedded
//   - AMAS_NATS_EMBEDDED: run an in-process server (default true)
//   - AMAS_NATS_STORE_DIR: JetStream storage directory
//   - AMAS_NATS_MAX_MEMORY / AMAS_NATS_MAX_STORE: JetStream limits
//   - AMAS_NATS_RETENTION_DAYS: stream retention (default 7)
//   - AMAS_NATS_SUBSCRIBERS: consumer goroutines (default 4)
//   - AMAS_NATS_DURABLE_NAME / AMAS_NATS_QUEUE_GROUP: consumer identity
type NATSConfig struct {
	Enabled             bool   `koanf:"enabled"`
	URL                 string `koanf:"url"`
	EmbeddedServer      bool   `koanf:"embedded_server"`
	StoreDir            string `koanf:"store_dir"`
	MaxMemory           int64  `koanf:"max_memory"`
	MaxStore            int64  `koanf:"max_store"`
	StreamRetentionDays int    `koanf:"stream_retention_days"`
	SubscribersCount    int    `koanf:"subscribers_count"`
	DurableName         string `koanf:"durable_name"`
	QueueGroup          string `koanf:"queue_group"`
}

// ServerConfig holds HTTP listener settings.
//
// Environment Variables:
//   - AMAS_HTTP_HOST: bind address (default 0.0.0.0)
//   - AMAS_HTTP_PORT: port (default 8484)
//   - AMAS_HTTP_TIMEOUT: read/write timeout (default 30s)
//   - AMAS_ENVIRONMENT: development | production (default development)
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// IsProduction reports whether strict production checks apply.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// APIConfig holds pagination limits for list endpoints.
//
// Environment Variables:
//   - AMAS_API_DEFAULT_PAGE_SIZE (default 20)
//   - AMAS_API_MAX_PAGE_SIZE (default 100)
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// SecurityConfig holds API authentication and abuse-protection settings.
//
// Auth Modes:
//   - jwt: HS256 bearer tokens minted by /api/v1/auth/login from the
//     configured admin credentials
//   - token: static API tokens compared in constant time
//   - none: no authentication (development only)
//
// Environment Variables:
//   - AMAS_AUTH_MODE: jwt | token | none (default jwt)
//   - AMAS_JWT_SECRET: HS256 signing secret (32+ chars)
//   - AMAS_TOKEN_TTL: JWT lifetime (default 24h)
//   - AMAS_ADMIN_USERNAME / AMAS_ADMIN_PASSWORD: login credentials
//   - AMAS_API_TOKENS: comma-separated static tokens (token mode)
//   - AMAS_RATE_LIMIT_REQUESTS / AMAS_RATE_LIMIT_WINDOW: per-IP rate limit
//   - AMAS_DISABLE_RATE_LIMIT: disable rate limiting (default false)
//   - AMAS_CORS_ORIGINS: comma-separated allowed origins (default *)
//   - AMAS_TRUSTED_PROXIES: comma-separated proxy CIDRs for client IPs
type SecurityConfig struct {
	AuthMode          string        `koanf:"auth_mode"`
	JWTSecret         string        `koanf:"jwt_secret"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
	AdminUsername     string        `koanf:"admin_username"`
	AdminPassword     string        `koanf:"admin_password"`
	APITokens         []string      `koanf:"api_tokens"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	TrustedProxies    []string      `koanf:"trusted_proxies"`
}

// StatsConfig tunes the strategy-effect aggregator.
//
// Environment Variables:
//   - AMAS_STATS_FLUSH_INTERVAL: completed-week flush cadence (default 1h)
//   - AMAS_STATS_MIX_TTL: user-type mix cache TTL (default 1h)
type StatsConfig struct {
	FlushInterval time.Duration `koanf:"flush_interval"`
	MixTTL        time.Duration `koanf:"mix_ttl"`
}

// OptimizerConfig tunes the Gaussian-process hyperparameter advisor.
//
// Environment Variables:
//   - AMAS_OPTIMIZER_ENABLED (default true)
//   - AMAS_OPTIMIZER_INTERVAL: suggestion cadence (default 168h)
//   - AMAS_OPTIMIZER_BETA: UCB exploration coefficient (default 2.0)
type OptimizerConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
	UCBBeta  float64       `koanf:"ucb_beta"`
}

// LoggingConfig holds zerolog settings.
//
// Environment Variables:
//   - AMAS_LOG_LEVEL: trace|debug|info|warn|error (default info)
//   - AMAS_LOG_FORMAT: json|console (default json)
//   - AMAS_LOG_CALLER: include caller file:line (default false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// FeatureDimension is the only legal feature.dimension value. The feature
// table, persisted bandit state, and worker payloads are all built around
// it.
const FeatureDimension = 22

// defaultConfig returns a Config with every default applied. Defaults load
// first, then the config file, then environment variables.
func defaultConfig() *Config {
	return &Config{
		Feature: FeatureConfig{
			Dimension: FeatureDimension,
		},
		LinUCB: LinUCBConfig{
			Alpha:  1.0,
			Lambda: 1.0,
		},
		Reward: RewardConfig{
			Profile: "standard",
		},
		ColdStart: ColdStartConfig{
			EarlyStopThreshold: 0.85,
			MinProbes:          2,
		},
		Ensemble: EnsembleConfig{
			MinWeight:      0.05,
			AdaptationRate: 0.1,
		},
		Features: LearnerFlags{
			LinUCB:    true,
			Thompson:  true,
			ACTR:      true,
			Heuristic: true,
		},
		WorkerPool: WorkerPoolConfig{
			Size:      8,
			QueueSize: 64,
		},
		Persist: PersistenceConfig{
			SnapshotEveryN:       25,
			SnapshotMaxAge:       5 * time.Minute,
			RecordQueueSize:      1024,
			SnapshotQueueSize:    256,
			RecordQueueHighWater: 768,
			TraceSampleN:         10,
			EnqueueDeadline:      250 * time.Millisecond,
		},
		Cache: CacheConfig{
			MaxBundles: 10000,
			BundleTTL:  2 * time.Hour,
		},
		Database: DatabaseConfig{
			Path:                   "./data/amas.duckdb",
			MaxMemory:              "2GB",
			Threads:                0, // 0 = use runtime.NumCPU()
			PreserveInsertionOrder: true,
		},
		Badger: BadgerConfig{
			Path: "./data/snapshots",
		},
		NATS: NATSConfig{
			Enabled:             false,
			URL:                 "nats://127.0.0.1:4222",
			EmbeddedServer:      true,
			StoreDir:            "./data/nats/jetstream",
			MaxMemory:           1 << 30,  // 1GB
			MaxStore:            10 << 30, // 10GB
			StreamRetentionDays: 7,
			SubscribersCount:    4,
			DurableName:         "amas-engine",
			QueueGroup:          "deciders",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8484,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Security: SecurityConfig{
			AuthMode:          "jwt",
			JWTSecret:         "",
			TokenTTL:          24 * time.Hour,
			AdminUsername:     "",
			AdminPassword:     "",
			APITokens:         nil,
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
			TrustedProxies:    []string{},
		},
		Stats: StatsConfig{
			FlushInterval: time.Hour,
			MixTTL:        time.Hour,
		},
		Optimizer: OptimizerConfig{
			Enabled:  true,
			Interval: 168 * time.Hour,
			UCBBeta:  2.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
