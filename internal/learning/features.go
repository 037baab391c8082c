// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package learning

import (
	"math"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/core"
)

// FeatureDim is the LinUCB feature dimension. The layout below, the
// persisted bandit state and the worker protocol all assume it; config
// asserts it at boot.
const FeatureDim = 22

// rtNormScaleMs saturates the response-time feature: 10 s or slower reads
// as 1.
const rtNormScaleMs = 10000

// BuildFeatures assembles the 22-d feature vector for one (state, action,
// context) triple. The layout is fixed and frozen — reordering entries
// invalidates every persisted bandit model:
//
//	 0— 4  attention, fatigue, mem, speed, motivation
//	 5     recent error rate
//	 6—10  interval_scale, new_ratio, numeric difficulty, batch/20, hint/3
//	11     fatigue × interval_scale
//	12—14  sin/cos of hour angle, afternoon indicator
//	15—20  cross terms (error×fatigue, error×interval, rtNorm×attention,
//	       mem×difficulty gate, motivation×new_ratio, inattention×hint)
//	21     bias
//
// Inputs are clamped to their documented ranges first, so the output is
// finite and bounded by construction.
func BuildFeatures(state core.UserState, action actionspace.Action, ctx core.DecisionContext) []float64 {
	s := state.Clamp()
	a := action.Clamp()

	errRate := clamp(finiteOr(ctx.RecentErrorRate, 0), 0, 1)
	rtNorm := clamp(finiteOr(ctx.RecentResponseTimeMs, 0)/rtNormScaleMs, 0, 1)
	dayFrac := clamp(finiteOr(ctx.HourOfDay, 12)/24, 0, 1)

	diff := a.Difficulty.Numeric()
	hint := float64(a.HintLevel) / 3
	batch := float64(a.BatchSize) / float64(actionspace.MaxBatchSize)

	memGate := 0.2
	if a.Difficulty == actionspace.DifficultyHard {
		memGate = 0.8
	}

	afternoon := 0.0
	if dayFrac > 0.33 && dayFrac < 0.75 {
		afternoon = 1
	}

	x := make([]float64, FeatureDim)
	x[0] = s.Attention
	x[1] = s.Fatigue
	x[2] = s.Cognition.Mem
	x[3] = s.Cognition.Speed
	x[4] = s.Motivation
	x[5] = errRate
	x[6] = a.IntervalScale
	x[7] = a.NewRatio
	x[8] = diff
	x[9] = batch
	x[10] = hint
	x[11] = s.Fatigue * a.IntervalScale
	x[12] = math.Sin(2 * math.Pi * dayFrac)
	x[13] = math.Cos(2 * math.Pi * dayFrac)
	x[14] = afternoon
	x[15] = errRate * s.Fatigue
	x[16] = errRate * a.IntervalScale
	x[17] = rtNorm * s.Attention
	x[18] = s.Cognition.Mem * memGate
	x[19] = s.Motivation * a.NewRatio
	x[20] = (1 - s.Attention) * hint
	x[21] = 1
	return x
}

// BuildFeatureMatrix assembles one feature vector per candidate action,
// index-parallel to the input slice.
func BuildFeatureMatrix(state core.UserState, actions []actionspace.Action, ctx core.DecisionContext) [][]float64 {
	xs := make([][]float64, len(actions))
	for i, a := range actions {
		xs[i] = BuildFeatures(state, a, ctx)
	}
	return xs
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
