// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/database"
	"github.com/tomtom215/amas/internal/engine"
	"github.com/tomtom215/amas/internal/gp"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/stats"
	ws "github.com/tomtom215/amas/internal/websocket"
)

// Handler carries the dependencies of every endpoint. Handler methods are
// split across files by concern:
//
//   - handlers.go: struct, constructor, error mapping (this file)
//   - handlers_engine.go: per-user decision pipeline endpoints
//   - handlers_stats.go: weekly aggregates and the optimizer
//   - handlers_health.go: liveness and readiness
//   - handlers_websocket.go: the decision stream upgrade
//
// Optional dependencies (db, tracker, optimizer, hub, eventPublisher) may
// be nil; their endpoints answer 503 instead of panicking.
type Handler struct {
	cfg            *config.Config
	engine         *engine.Engine
	db             *database.DB
	tracker        *stats.Tracker
	optimizer      *gp.Optimizer
	hub            *ws.Hub
	eventPublisher EventPublisher
	startTime      time.Time
	log            zerolog.Logger
}

// NewHandler wires the endpoint dependencies. engine must be non-nil; the
// rest degrade gracefully.
func NewHandler(cfg *config.Config, eng *engine.Engine, db *database.DB,
	tracker *stats.Tracker, optimizer *gp.Optimizer, hub *ws.Hub) *Handler {
	return &Handler{
		cfg:       cfg,
		engine:    eng,
		db:        db,
		tracker:   tracker,
		optimizer: optimizer,
		hub:       hub,
		startTime: time.Now(),
		log:       logging.WithComponent("api"),
	}
}

// userIDParam pulls the {userID} route parameter.
func userIDParam(r *http.Request) string {
	return chi.URLParam(r, "userID")
}

// engineError maps a kinded engine error onto a status code and envelope.
// Input problems are the client's fault; timeouts surface as 504 so
// callers can tell saturation from breakage; everything else is a 500
// that names the kind without leaking internals.
func (h *Handler) engineError(rw *ResponseWriter, err error) {
	kind := amaserr.KindOf(err)
	h.log.Error().Err(err).Str("kind", kind.String()).Msg("Engine call failed")

	switch kind {
	case amaserr.KindInputSanitisation:
		rw.Error(http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case amaserr.KindTimeout:
		rw.Error(http.StatusGatewayTimeout, ErrCodeEngineError, "Decision pipeline timed out")
	case amaserr.KindPersistenceFailure:
		rw.Error(http.StatusInternalServerError, ErrCodeDatabaseError, "Persistence failed")
	default:
		rw.Error(http.StatusInternalServerError, ErrCodeEngineError,
			"Decision pipeline failed: "+kind.String())
	}
}
