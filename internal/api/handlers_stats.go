// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/gp"
)

// WeeklyStats reports the live in-progress week plus recent completed
// weeks.
//
// Method: GET
// Path: /api/v1/stats/weekly?weeks=
func (h *Handler) WeeklyStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.tracker == nil {
		rw.ServiceUnavailable("Stats tracker not available")
		return
	}

	q := WeeklyQuery{Weeks: queryInt(r, "weeks", 12)}
	if apiErr := validateRequest(&q); apiErr != nil {
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	report, err := h.tracker.Weekly(ctx, q.Weeks)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(report)
}

// StrategyEffects lists scored strategy changes: one user's history when
// user_id is given, the most recent across all users otherwise.
//
// Method: GET
// Path: /api/v1/stats/effects?user_id=&limit=
func (h *Handler) StrategyEffects(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.tracker == nil {
		rw.ServiceUnavailable("Stats tracker not available")
		return
	}

	q := EffectsQuery{
		UserID: r.URL.Query().Get("user_id"),
		Limit:  queryInt(r, "limit", h.cfg.API.DefaultPageSize),
	}
	if apiErr := validateRequest(&q); apiErr != nil {
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}
	if max := h.cfg.API.MaxPageSize; max > 0 && q.Limit > max {
		q.Limit = max
	}

	ctx, cancel := h.requestCtx(r)
	defer cancel()

	effects, err := h.tracker.Effects(ctx, q.UserID, q.Limit)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(effects)
}

// optimizerBestResponse is the /optimizer/best payload.
type optimizerBestResponse struct {
	Best           *gp.Observation `json:"best,omitempty"`
	Observations   int             `json:"observations"`
	NextSuggestion *gp.Suggestion  `json:"next_suggestion,omitempty"`
}

// OptimizerBest reports the best reward-weight vector observed so far and
// the standing suggestion for the next evaluation.
//
// Method: GET
// Path: /api/v1/optimizer/best
func (h *Handler) OptimizerBest(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.optimizer == nil {
		rw.ServiceUnavailable("Optimizer not available")
		return
	}

	resp := optimizerBestResponse{Observations: h.optimizer.Observations()}
	if best, ok := h.optimizer.GetBest(); ok {
		resp.Best = &best
	}
	if sug, ok := h.optimizer.Current(); ok {
		resp.NextSuggestion = &sug
	}

	if resp.Best == nil {
		rw.NotFound("No evaluations recorded yet")
		return
	}
	rw.Success(resp)
}

// RecordEvaluation feeds one observed outcome into the optimizer.
//
// Method: POST
// Path: /api/v1/optimizer/evaluations
func (h *Handler) RecordEvaluation(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.optimizer == nil {
		rw.ServiceUnavailable("Optimizer not available")
		return
	}

	var req EvaluationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("Invalid request body: " + err.Error())
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	if err := h.optimizer.RecordEvaluation(req.Params, req.Value); err != nil {
		if amaserr.KindOf(err) == amaserr.KindInputSanitisation {
			rw.BadRequest(err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Evaluation rejected")
		rw.InternalError("Failed to record evaluation")
		return
	}

	rw.Success(map[string]interface{}{
		"recorded":     true,
		"observations": h.optimizer.Observations(),
	})
}
