// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package main is the entry point for the AMAS server.
//
// AMAS is an adaptive learning decision engine: it ingests interaction
// events, scores them through an ensemble of contextual bandits (LinUCB,
// Thompson sampling, an ACT-R memory model and a heuristic baseline),
// and answers with the next presentation strategy for that user.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered settings via Koanf v2 (env over file over defaults)
//  2. Storage: DuckDB decision log, Badger snapshot store, async writer
//  3. Numeric services: worker pool, GP hyperparameter optimizer, stats tracker
//  4. Decision engine: per-user bandit ensembles with cold-start classification
//  5. WebSocket hub: real-time decision stream to connected clients
//  6. Authentication: JWT, API tokens, or no-auth mode, plus Casbin RBAC
//  7. NATS (optional): at-least-once event ingestion over embedded JetStream
//  8. HTTP server: REST API under /api/v1
//
// Everything long-running registers with a suture supervision tree; a
// crash in one layer restarts that layer without tearing the process down.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables (AMAS_* prefix), config file
// (config.yaml), built-in defaults.
//
// For JWT authentication (default):
//   - AMAS_SECURITY_JWT_SECRET: 32+ character secret for token signing
//   - AMAS_SECURITY_ADMIN_USERNAME / AMAS_SECURITY_ADMIN_PASSWORD
//
// # Build Tags
//
//	go build -tags nats ./cmd/server   # Enable NATS JetStream event bus
//
// Without the tag the API ingests events inline and the bus stays off.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the API
// layer stops first, then messaging, then the engine flushes its final
// snapshots into the data layer before the writer drains.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/amas/internal/api"
	"github.com/tomtom215/amas/internal/auth"
	"github.com/tomtom215/amas/internal/authz"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/database"
	"github.com/tomtom215/amas/internal/engine"
	"github.com/tomtom215/amas/internal/gp"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/stats"
	"github.com/tomtom215/amas/internal/store"
	"github.com/tomtom215/amas/internal/supervisor"
	"github.com/tomtom215/amas/internal/supervisor/services"
	"github.com/tomtom215/amas/internal/worker"
	ws "github.com/tomtom215/amas/internal/websocket"
)

// poolSuggester routes GP searches through the worker pool so the O(n^3)
// fit never runs on the optimizer's tick goroutine.
type poolSuggester struct {
	pool *worker.Pool
}

func (s poolSuggester) Suggest(ctx context.Context, spec gp.SearchSpec) (gp.Suggestion, error) {
	resp, err := s.pool.Submit(ctx, worker.Request{Kind: worker.KindGPSuggest, GP: spec})
	if err != nil {
		return gp.Suggestion{}, err
	}
	return resp.Suggestion, nil
}

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting AMAS with supervisor tree")
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("snapshot_path", cfg.Badger.Path).
		Str("auth_mode", cfg.Security.AuthMode).
		Str("reward_profile", cfg.Reward.Profile).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Configuration loaded")

	if cfg.Security.AuthMode == "none" {
		logging.Warn().Msg("============================================================")
		logging.Warn().Msg("  SECURITY WARNING: Authentication is DISABLED (AUTH_MODE=none)")
		logging.Warn().Msg("  All endpoints are publicly accessible without authentication!")
		logging.Warn().Msg("  NEVER use this mode in production or on public networks.")
		logging.Warn().Msg("============================================================")
	}
	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED - only appropriate for test environments")
	}

	// === STORAGE ===

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Decision log database initialized")

	snaps, err := store.OpenSnapshotStore(cfg.Badger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open snapshot store")
	}
	defer func() {
		if err := snaps.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing snapshot store")
		}
	}()

	decisionLog := store.NewDecisionLog(db)
	writer := store.NewWriter(cfg.Persist, decisionLog, snaps)

	// === NUMERIC SERVICES ===

	pool := worker.NewPool(cfg.WorkerPool)

	lower, upper := gp.RewardWeightBounds()
	optimizer, err := gp.NewOptimizer(cfg.Optimizer, lower, upper, poolSuggester{pool: pool})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create GP optimizer")
	}

	tracker, err := stats.New(cfg.Stats, db, optimizer, engine.ProfileVector(cfg.Reward.Profile))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create stats tracker")
	}

	// === DECISION ENGINE ===

	// The tracker doubles as the engine's sampler and its cold-start
	// prior source: both feed off the same weekly aggregates.
	eng, err := engine.New(cfg, snaps, writer, pool, tracker, tracker)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create decision engine")
	}

	// === MESSAGING AND SECURITY ===

	hub := ws.NewHub()

	authn, err := auth.New(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authentication")
	}
	enforcer, err := authz.NewEnforcer()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize RBAC enforcer")
	}

	handler := api.NewHandler(cfg, eng, db, tracker, optimizer, hub)

	// === SUPERVISION TREE ===

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// sutureslog wants slog; the adapter writes through zerolog.
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// NATS event bus (optional - requires build with -tags nats). When
	// enabled, event ingestion answers 202 and the durable consumer
	// drives the engine; decisions flow back over the bus to the hub.
	natsComponents, err := InitNATS(cfg, eng, hub)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize NATS")
	}
	AddNATSToSupervisor(tree, natsComponents)
	if natsComponents != nil {
		if pub := natsComponents.EventPublisher(); pub != nil {
			handler.SetEventPublisher(pub)
			logging.Info().Msg("Event ingestion switched to the NATS bus")
		}
	}

	router := api.NewRouter(handler, authn, enforcer, &cfg.Security)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Data layer first: it is stopped last, so the engine's shutdown
	// snapshots still find a live writer.
	tree.AddDataService(writer)

	tree.AddEngineService(pool)
	tree.AddEngineService(eng)
	tree.AddEngineService(tracker)
	tree.AddEngineService(optimizer)

	tree.AddMessagingService(hub)

	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === RUN ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
