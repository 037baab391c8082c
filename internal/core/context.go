// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package core

import (
	"math"
	"time"
)

// ReviewObservation is one prior exposure of the current word: how long ago
// it happened and whether the user got it right. The ACT-R learner consumes
// the per-word trace of these.
type ReviewObservation struct {
	// AgeHours is the time since the exposure, floored at one minute.
	AgeHours float64 `json:"age_hours"`

	// Success reports whether that exposure was answered correctly.
	Success bool `json:"success"`
}

// DecisionContext is the situational context handed to the learners for one
// selection round: the rolling error/latency picture plus the time of day.
// It is derived once per event from the perception summary and never
// mutated afterwards.
type DecisionContext struct {
	// RecentErrorRate is the windowed miss rate in [0, 1].
	RecentErrorRate float64 `json:"recent_error_rate"`

	// RecentResponseTimeMs is the windowed mean response time.
	RecentResponseTimeMs float64 `json:"recent_response_time_ms"`

	// HourOfDay is the local hour in [0, 24) at event time.
	HourOfDay float64 `json:"hour_of_day"`

	// WordTrace is the review history of the current word, oldest first.
	// Empty for first exposures.
	WordTrace []ReviewObservation `json:"word_trace,omitempty"`
}

// NewDecisionContext builds a sanitised context. Non-finite inputs collapse
// to their neutral values so a poisoned summary can never reach a learner.
func NewDecisionContext(errorRate, responseTimeMs float64, at time.Time, trace []ReviewObservation) DecisionContext {
	if math.IsNaN(errorRate) || math.IsInf(errorRate, 0) {
		errorRate = 0
	}
	if math.IsNaN(responseTimeMs) || math.IsInf(responseTimeMs, 0) {
		responseTimeMs = 0
	}
	h := float64(at.Hour()) + float64(at.Minute())/60
	return DecisionContext{
		RecentErrorRate:      math.Min(1, math.Max(0, errorRate)),
		RecentResponseTimeMs: math.Max(0, responseTimeMs),
		HourOfDay:            h,
		WordTrace:            trace,
	}
}

// TimeBucket discretises the hour of day into n equal buckets.
func (c DecisionContext) TimeBucket(n int) int {
	if n <= 1 {
		return 0
	}
	b := int(c.HourOfDay / 24 * float64(n))
	if b < 0 {
		return 0
	}
	if b >= n {
		return n - 1
	}
	return b
}

// ErrorBucket discretises the recent error rate: below 0.2, below 0.5, rest.
// With n != 3 the [0, 1] range is split evenly instead.
func (c DecisionContext) ErrorBucket(n int) int {
	if n == 3 {
		switch {
		case c.RecentErrorRate < 0.2:
			return 0
		case c.RecentErrorRate < 0.5:
			return 1
		default:
			return 2
		}
	}
	return evenBucket(c.RecentErrorRate, 1, n)
}

// ResponseTimeBucket discretises the recent response time: under 2 s, under
// 5 s, rest. With n != 3 the [0, 10 s] range is split evenly instead.
func (c DecisionContext) ResponseTimeBucket(n int) int {
	if n == 3 {
		switch {
		case c.RecentResponseTimeMs < 2000:
			return 0
		case c.RecentResponseTimeMs < 5000:
			return 1
		default:
			return 2
		}
	}
	return evenBucket(c.RecentResponseTimeMs, 10000, n)
}

func evenBucket(v, max float64, n int) int {
	if n <= 1 {
		return 0
	}
	b := int(v / max * float64(n))
	if b < 0 {
		return 0
	}
	if b >= n {
		return n - 1
	}
	return b
}
