// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/amaserr"
	ws "github.com/tomtom215/amas/internal/websocket"
)

// maxBodyBytes bounds request bodies. Snapshots are the largest payload:
// a full bundle with a 22x22 design matrix serialises well under 1 MiB.
const maxBodyBytes = 1 << 20

// IngestEvent accepts one interaction for a user and advances their
// models.
//
// Method: POST
// Path: /api/v1/users/{userID}/events
//
// With an event publisher configured (build tag nats) the event is queued
// and the reply is 202; the decision reaches subscribers through the
// decision stream. Otherwise the engine runs inline and the reply is the
// decision itself.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID := userIDParam(r)

	var req IngestEventRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("Invalid request body: " + err.Error())
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}
	if req.Event.Timestamp.IsZero() {
		req.Event.Timestamp = time.Now().UTC()
	}

	if h.eventPublisher != nil {
		if err := h.eventPublisher.PublishRawEvent(r.Context(), userID, req.SessionID, req.Event); err != nil {
			h.log.Error().Err(err).Str("user_id", userID).Msg("Event publish failed")
			rw.ServiceUnavailable("Event bus unavailable")
			return
		}
		rw.Accepted(map[string]interface{}{
			"queued":     true,
			"user_id":    userID,
			"session_id": req.SessionID,
		})
		return
	}

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	decision, err := h.engine.ProcessEvent(ctx, userID, req.SessionID, req.Event)
	if err != nil {
		h.engineError(rw, err)
		return
	}

	if h.hub != nil {
		h.hub.BroadcastDecision(ws.DecisionUpdate{
			UserID:      userID,
			Timestamp:   time.Now().UTC(),
			Action:      decision.Action,
			State:       decision.State,
			Explanation: decision.Explanation,
		})
	}

	rw.Success(decision)
}

// GetStrategy returns the user's last committed decision without touching
// model state.
//
// Method: GET
// Path: /api/v1/users/{userID}/strategy
func (h *Handler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	decision, err := h.engine.GetStrategy(ctx, userIDParam(r))
	if err != nil {
		h.engineError(rw, err)
		return
	}
	rw.Success(decision)
}

// GetSnapshot serialises the user's full model bundle.
//
// Method: GET
// Path: /api/v1/users/{userID}/snapshot
//
// The payload is the same JSON document PUT accepts, so a GET/PUT pair
// moves a user between deployments.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	payload, err := h.engine.Snapshot(ctx, userIDParam(r))
	if err != nil {
		h.engineError(rw, err)
		return
	}
	rw.Success(json.RawMessage(payload))
}

// RestoreSnapshot replaces the user's model bundle from a snapshot
// produced by GetSnapshot.
//
// Method: PUT
// Path: /api/v1/users/{userID}/snapshot
func (h *Handler) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID := userIDParam(r)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rw.Error(http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Snapshot payload too large")
			return
		}
		rw.BadRequest("Failed to read request body")
		return
	}

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	if err := h.engine.Restore(ctx, userID, payload); err != nil {
		// The payload came from the client, so a corrupt envelope is
		// their error, not ours.
		if amaserr.KindOf(err) == amaserr.KindStateCorruption {
			rw.BadRequest("Snapshot rejected: " + err.Error())
			return
		}
		h.engineError(rw, err)
		return
	}

	rw.Success(map[string]interface{}{
		"restored": true,
		"user_id":  userID,
	})
}

// RecentDecisions lists the user's latest decision records, newest first.
//
// Method: GET
// Path: /api/v1/users/{userID}/decisions?limit=
func (h *Handler) RecentDecisions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.db == nil {
		rw.ServiceUnavailable("Decision log not available")
		return
	}

	q := DecisionsQuery{Limit: queryInt(r, "limit", h.cfg.API.DefaultPageSize)}
	if apiErr := validateRequest(&q); apiErr != nil {
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}
	if max := h.cfg.API.MaxPageSize; max > 0 && q.Limit > max {
		q.Limit = max
	}

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	records, err := h.db.RecentDecisions(ctx, userIDParam(r), q.Limit)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(records)
}

// EnsembleStatus exposes the live ensemble internals for one user: phase,
// classified type and member weights.
//
// Method: GET
// Path: /api/v1/admin/ensemble/{userID}
//
// Authorization: admin role.
func (h *Handler) EnsembleStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	status, err := h.engine.EnsembleStatus(ctx, userIDParam(r))
	if err != nil {
		h.engineError(rw, err)
		return
	}
	rw.Success(status)
}

// requestCtx binds the configured request deadline so slow engine work
// degrades along the documented timeout path instead of hanging the
// connection.
func (h *Handler) requestCtx(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.cfg.Server.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}
