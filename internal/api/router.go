// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package api exposes the decision engine over HTTP using the Chi router.
//
// Routes:
//
//	POST /api/v1/users/{userID}/events     feed an interaction event, get a decision
//	GET  /api/v1/users/{userID}/strategy   current strategy without feeding an event
//	GET  /api/v1/users/{userID}/snapshot   serialized learning state
//	PUT  /api/v1/users/{userID}/snapshot   restore learning state
//	GET  /api/v1/users/{userID}/decisions  recent decision log entries
//	GET  /api/v1/stats/weekly              weekly aggregate report
//	GET  /api/v1/stats/effects             per-strategy effect estimates
//	GET  /api/v1/optimizer/best            best hyperparameter evaluation so far
//	POST /api/v1/optimizer/evaluations     record a hyperparameter evaluation
//	GET  /api/v1/admin/ensemble/{userID}   ensemble weights and phase
//	GET  /api/v1/ws/decisions              WebSocket decision stream
//	POST /api/v1/auth/login                credential login (JWT mode)
//	GET  /health, /ready, /metrics         probes and Prometheus scrape
//
// All /api/v1 routes pass authentication (internal/auth) and RBAC
// (internal/authz). Probes and metrics are unauthenticated but rate limited.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/amas/internal/auth"
	"github.com/tomtom215/amas/internal/authz"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/middleware"
)

// gzipLevel balances CPU against payload size for JSON responses. Decision
// envelopes are small; the weekly report and snapshot payloads are the ones
// that benefit.
const gzipLevel = 5

// Router assembles the HTTP surface: handlers, authentication, authorization,
// and the per-group middleware stacks.
type Router struct {
	handler  *Handler
	auth     *auth.Authenticator
	enforcer *authz.Enforcer
	chiMW    *ChiMiddleware
}

// NewRouter wires the handler set to the security components. The rate
// limiter and CORS policy are derived from the security config.
func NewRouter(handler *Handler, authn *auth.Authenticator, enforcer *authz.Enforcer, cfg *config.SecurityConfig) *Router {
	return &Router{
		handler:  handler,
		auth:     authn,
		enforcer: enforcer,
		chiMW:    NewChiMiddleware(cfg),
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	// Applied to ALL routes in order
	r.Use(RequestIDWithLogging())  // Add X-Request-ID header with logging context
	r.Use(chimiddleware.RealIP)    // Extract real IP from X-Forwarded-For
	r.Use(chimiddleware.Recoverer) // Recover from panics
	r.Use(router.chiMW.CORS())     // CORS must be global to handle OPTIONS preflight

	// ========================
	// Operational Endpoints
	// ========================
	// Probes and metrics sit at the root, outside /api/v1 and outside
	// authentication: orchestrators and Prometheus scrapers do not carry
	// API credentials. Permissive rate limiting still applies.
	r.Group(func(r chi.Router) {
		r.Use(router.chiMW.RateLimitHealth())
		r.Use(APISecurityHeaders())

		r.Get("/health", router.handler.Health)
		r.Get("/ready", router.handler.Ready)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	})

	// ========================
	// Authentication Endpoints
	// ========================
	// Login carries the strictest rate limit (brute force prevention).
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(APISecurityHeaders())

		r.With(router.chiMW.RateLimitLogin()).Post("/login", router.auth.LoginHandler)
	})

	// ========================
	// Core API Endpoints
	// ========================
	// Everything under /api/v1 requires authentication and passes the RBAC
	// enforcer. The enforcer matches the request path against the embedded
	// policy, so the route groups here mirror the policy's route groups.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMW.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(chimiddleware.Compress(gzipLevel))
		r.Use(middleware.PrometheusMetrics)
		r.Use(router.auth.Middleware)
		r.Use(router.enforcer.Middleware)

		// Per-user decision pipeline
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/events", router.handler.IngestEvent)
			r.Get("/strategy", router.handler.GetStrategy)
			r.Get("/snapshot", router.handler.GetSnapshot)
			r.Put("/snapshot", router.handler.RestoreSnapshot)
			r.Get("/decisions", router.handler.RecentDecisions)
		})

		// Aggregate statistics
		r.Route("/stats", func(r chi.Router) {
			r.Get("/weekly", router.handler.WeeklyStats)
			r.Get("/effects", router.handler.StrategyEffects)
		})

		// Hyperparameter optimizer
		r.Route("/optimizer", func(r chi.Router) {
			r.Get("/best", router.handler.OptimizerBest)
			r.Post("/evaluations", router.handler.RecordEvaluation)
		})

		// Admin introspection
		r.Get("/admin/ensemble/{userID}", router.handler.EnsembleStatus)
	})

	// ========================
	// Decision Stream
	// ========================
	// The WebSocket route gets its own group: upgrade-frequency rate
	// limiting, and neither compression nor the metrics wrapper. Both
	// would interfere with the hijacked connection, and a connection
	// held for hours has no place in a request-duration histogram.
	r.Route("/api/v1/ws", func(r chi.Router) {
		r.Use(router.chiMW.RateLimitWebSocket())
		r.Use(router.auth.Middleware)
		r.Use(router.enforcer.Middleware)

		r.Get("/decisions", router.handler.DecisionStream)
	})

	return r
}
