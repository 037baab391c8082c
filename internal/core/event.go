// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package core

import (
	"fmt"
	"math"
	"time"
)

// RawEvent is one user interaction as reported by the calling application:
// the outcome of answering a single item plus the behavioural signals
// collected while the item was on screen.
//
// Events are the only input to the decision pipeline. Values are sanitised
// on ingress with Clamp; a zero Timestamp is replaced by the receive time.
type RawEvent struct {
	// WordID identifies the content item the user interacted with.
	WordID string `json:"word_id"`

	// IsCorrect reports whether the answer was right.
	IsCorrect bool `json:"is_correct"`

	// ResponseTimeMs is the time from presentation to answer.
	ResponseTimeMs float64 `json:"response_time_ms"`

	// DwellTimeMs is the total time the item stayed on screen.
	DwellTimeMs float64 `json:"dwell_time_ms"`

	// Timestamp is when the interaction completed.
	Timestamp time.Time `json:"timestamp"`

	// PauseCount is the number of input pauses longer than two seconds.
	PauseCount int `json:"pause_count"`

	// SwitchCount is the number of context switches away from the task.
	SwitchCount int `json:"switch_count"`

	// RetryCount is the number of retries before the final answer.
	RetryCount int `json:"retry_count"`

	// FocusLossDurationMs is the accumulated time focus was elsewhere.
	FocusLossDurationMs float64 `json:"focus_loss_duration_ms"`

	// InteractionDensity is the normalised input-events-per-second rate,
	// expected in [0, 1].
	InteractionDensity float64 `json:"interaction_density"`
}

// Sane ingress bounds. Anything beyond these is clamped, not rejected:
// a hostile or buggy client must never stall the pipeline.
const (
	maxResponseTimeMs = 10 * 60 * 1000 // ten minutes
	maxDwellTimeMs    = 30 * 60 * 1000
	maxCount          = 1000
)

// Clamp returns a copy with every field forced into its documented range.
// Non-finite floats collapse to zero. A zero timestamp is replaced by now.
func (e RawEvent) Clamp(now time.Time) RawEvent {
	out := e
	out.ResponseTimeMs = clampFinite(out.ResponseTimeMs, 0, maxResponseTimeMs)
	out.DwellTimeMs = clampFinite(out.DwellTimeMs, 0, maxDwellTimeMs)
	out.FocusLossDurationMs = clampFinite(out.FocusLossDurationMs, 0, maxDwellTimeMs)
	out.InteractionDensity = clampFinite(out.InteractionDensity, 0, 1)
	out.PauseCount = clampCount(out.PauseCount)
	out.SwitchCount = clampCount(out.SwitchCount)
	out.RetryCount = clampCount(out.RetryCount)
	if out.Timestamp.IsZero() {
		out.Timestamp = now
	}
	return out
}

// Validate rejects events that are unusable even after clamping.
func (e RawEvent) Validate() error {
	if e.WordID == "" {
		return fmt.Errorf("word_id is empty")
	}
	if e.ResponseTimeMs < 0 || math.IsNaN(e.ResponseTimeMs) || math.IsInf(e.ResponseTimeMs, 0) {
		return fmt.Errorf("response_time_ms %v is not a non-negative finite number", e.ResponseTimeMs)
	}
	return nil
}

func clampFinite(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Min(hi, math.Max(lo, v))
}

func clampCount(v int) int {
	if v < 0 {
		return 0
	}
	if v > maxCount {
		return maxCount
	}
	return v
}
