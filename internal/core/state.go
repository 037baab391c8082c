// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package core

import (
	"math"
	"time"
)

// Trend tags the direction of a user's recent psychometric trajectory.
type Trend string

// Trend values. The zero value means not enough samples to classify.
const (
	TrendUnknown Trend = ""
	TrendUp      Trend = "up"
	TrendFlat    Trend = "flat"
	TrendDown    Trend = "down"
	TrendStuck   Trend = "stuck"
)

// CognitiveProfile holds the two long-horizon ability estimates.
type CognitiveProfile struct {
	// Mem estimates retention ability in [0, 1].
	Mem float64 `json:"mem"`

	// Speed estimates processing speed in [0, 1].
	Speed float64 `json:"speed"`
}

// UserState is the live psychometric state the modeling layer maintains for
// one user: attention, fatigue, motivation, the cognitive profile, and the
// trend tag, plus the model's confidence in the estimate. This is what the
// learners condition on.
type UserState struct {
	// Attention in [0, 1]; 1 means fully engaged.
	Attention float64 `json:"attention"`

	// Fatigue in [0, 1]; 1 means exhausted.
	Fatigue float64 `json:"fatigue"`

	// Motivation in [-1, 1]; negative means frustrated or disengaged.
	Motivation float64 `json:"motivation"`

	// Cognition is the long-horizon ability profile.
	Cognition CognitiveProfile `json:"cognition"`

	// Trend classifies the recent composite trajectory.
	Trend Trend `json:"trend"`

	// Confidence in [0, 1] grows with the number of observed events.
	Confidence float64 `json:"confidence"`

	// Timestamp is when the state was last updated.
	Timestamp time.Time `json:"timestamp"`
}

// Clamp returns a copy with every scalar forced into its documented range.
// Non-finite values collapse to the neutral point of their range.
func (s UserState) Clamp() UserState {
	out := s
	out.Attention = clampStateValue(out.Attention, 0, 1, 0.5)
	out.Fatigue = clampStateValue(out.Fatigue, 0, 1, 0.5)
	out.Motivation = clampStateValue(out.Motivation, -1, 1, 0)
	out.Cognition.Mem = clampStateValue(out.Cognition.Mem, 0, 1, 0.5)
	out.Cognition.Speed = clampStateValue(out.Cognition.Speed, 0, 1, 0.5)
	out.Confidence = clampStateValue(out.Confidence, 0, 1, 0)
	switch out.Trend {
	case TrendUp, TrendFlat, TrendDown, TrendStuck, TrendUnknown:
	default:
		out.Trend = TrendUnknown
	}
	return out
}

// NeutralUserState is the prior before any event has been observed.
func NeutralUserState(now time.Time) UserState {
	return UserState{
		Attention:  0.7,
		Fatigue:    0.2,
		Motivation: 0.3,
		Cognition:  CognitiveProfile{Mem: 0.5, Speed: 0.5},
		Trend:      TrendUnknown,
		Confidence: 0,
		Timestamp:  now,
	}
}

func clampStateValue(v, lo, hi, neutral float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return neutral
	}
	return math.Min(hi, math.Max(lo, v))
}
