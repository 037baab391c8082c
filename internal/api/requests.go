// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package api

import (
	"net/http"
	"strconv"

	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/validation"
)

// IngestEventRequest is the POST /users/{userID}/events body: one raw
// interaction plus the session it belongs to.
type IngestEventRequest struct {
	SessionID string        `json:"session_id" validate:"required,min=1,max=128"`
	Event     core.RawEvent `json:"event" validate:"required"`
}

// DecisionsQuery bounds the recent-decisions listing.
type DecisionsQuery struct {
	Limit int `validate:"min=1,max=1000"`
}

// WeeklyQuery bounds the weekly stats listing. Two years of completed
// weeks is the most a single call returns.
type WeeklyQuery struct {
	Weeks int `validate:"min=1,max=104"`
}

// EffectsQuery filters scored strategy changes.
type EffectsQuery struct {
	UserID string `validate:"omitempty,max=128"`
	Limit  int    `validate:"min=1,max=1000"`
}

// EvaluationRequest is the POST /optimizer/evaluations body: one observed
// outcome for a reward-weight vector. Dimension and finiteness are checked
// by the optimizer itself.
type EvaluationRequest struct {
	Params []float64 `json:"params" validate:"required,min=1"`
	Value  float64   `json:"value"`
}

// validateRequest runs the struct's validate tags and converts failures
// into the response-body error shape.
func validateRequest(v interface{}) *APIError {
	verr := validation.ValidateStruct(v)
	if verr == nil {
		return nil
	}
	apiErr := verr.ToAPIError()
	return &APIError{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	}
}

// queryInt reads an integer query parameter, falling back to def when the
// parameter is absent or not a number. Range enforcement is left to the
// query structs above.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
