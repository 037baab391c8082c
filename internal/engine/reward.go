// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package engine

import (
	"math"

	"github.com/tomtom215/amas/internal/core"
)

// Reference points for the speed and engagement terms: a 5 s answer is
// speed-neutral, a 3 s dwell is engagement-optimal, three retries saturate
// the frustration term.
const (
	refResponseTimeMs = 5000.0
	refDwellTimeMs    = 3000.0
	refRetryCount     = 3.0
)

// Reward profile names as accepted by reward.profile.
const (
	ProfileStandard = "standard"
	ProfileCram     = "cram"
	ProfileRelaxed  = "relaxed"
)

// rewardWeights weights the five reward terms. Fatigue and frustration
// enter the sum negatively.
type rewardWeights struct {
	Correctness float64
	Speed       float64
	Fatigue     float64
	Frustration float64
	Engagement  float64
}

// profileWeights maps a configured profile name onto its term weights.
// Unknown names fall back to standard.
func profileWeights(profile string) rewardWeights {
	switch profile {
	case ProfileCram:
		return rewardWeights{Correctness: 0.50, Speed: 0.30, Fatigue: 0.05, Frustration: 0.05, Engagement: 0.10}
	case ProfileRelaxed:
		return rewardWeights{Correctness: 0.30, Speed: 0.10, Fatigue: 0.30, Frustration: 0.20, Engagement: 0.10}
	default:
		return rewardWeights{Correctness: 0.40, Speed: 0.20, Fatigue: 0.20, Frustration: 0.10, Engagement: 0.10}
	}
}

// ProfileVector returns the named profile's weights in the optimiser's
// parameter order: correctness, speed, fatigue, frustration, engagement.
// The stats tracker records this vector alongside each weekly score.
func ProfileVector(profile string) []float64 {
	w := profileWeights(profile)
	return []float64{w.Correctness, w.Speed, w.Fatigue, w.Frustration, w.Engagement}
}

// computeReward folds one observed event and the post-event state into a
// bounded reward in [-1, 1]. ok is false when any intermediate term comes
// out non-finite (a zero dwell sends the engagement log to -Inf, for
// example); the caller then skips the model update and the late reward
// attribution but still emits and records the decision.
func computeReward(w rewardWeights, e core.RawEvent, state core.UserState) (float64, bool) {
	correctness := -1.0
	if e.IsCorrect {
		correctness = 1.0
	}

	speed := (refResponseTimeMs - e.ResponseTimeMs) / refResponseTimeMs
	frustration := 0.5*clamp(float64(e.RetryCount)/refRetryCount, 0, 1) +
		0.5*math.Max(0, -state.Motivation)
	logDwell := math.Log(e.DwellTimeMs / refDwellTimeMs)
	rawEngagement := e.InteractionDensity * (1 - math.Abs(logDwell))

	if !finite(speed) || !finite(frustration) || !finite(logDwell) || !finite(rawEngagement) {
		return 0, false
	}

	r := w.Correctness*correctness +
		w.Speed*clamp(speed, -1, 1) -
		w.Fatigue*state.Fatigue -
		w.Frustration*frustration +
		w.Engagement*clamp(rawEngagement, 0, 1)
	if !finite(r) {
		return 0, false
	}
	return clamp(r, -1, 1), true
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
