// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package api

import (
	"net/http"
	"time"
)

// HealthStatus is the /health payload.
type HealthStatus struct {
	Status            string  `json:"status"`
	Version           string  `json:"version"`
	DatabaseConnected bool    `json:"database_connected"`
	ResidentBundles   int     `json:"resident_bundles"`
	WSClients         int     `json:"ws_clients"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Version is stamped by the build (-ldflags "-X ...api.Version=v1.2.3").
var Version = "dev"

// Health reports overall process health. Always 200: a degraded status is
// information, not an error, and flapping load balancers on a slow decision
// log would only make things worse.
//
// Method: GET
// Path: /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	dbConnected := h.db != nil && h.db.Ping(r.Context()) == nil

	status := "healthy"
	if !dbConnected {
		status = "degraded"
	}

	health := HealthStatus{
		Status:            status,
		Version:           Version,
		DatabaseConnected: dbConnected,
		UptimeSeconds:     time.Since(h.startTime).Seconds(),
	}
	if h.engine != nil {
		health.ResidentBundles = h.engine.Registry().Len()
	}
	if h.hub != nil {
		health.WSClients = h.hub.ClientCount()
	}

	rw.Success(health)
}

// Ready is the readiness probe: 200 only when the service can take
// traffic, meaning the engine is wired and the decision log answers.
//
// Method: GET
// Path: /ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.engine == nil {
		rw.ServiceUnavailable("Engine not initialised")
		return
	}
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("Readiness probe failed on decision log")
			rw.ServiceUnavailable("Decision log unreachable")
			return
		}
	}

	rw.Success(map[string]interface{}{"ready": true})
}
