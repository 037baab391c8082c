// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package learning implements the four ensemble members: the LinUCB
// contextual bandit, Thompson Sampling over Beta posteriors, the ACT-R
// memory model, and the heuristic baseline table.
//
// Every member sits behind the narrow Learner interface: score the full
// action catalogue for one (state, context) pair, absorb one bounded reward,
// and round-trip its state through a JSON snapshot. Members are fixed
// concrete strategies; which ones participate is a feature-flag decision
// made by the ensemble, not a registry.
//
// # Concurrency
//
// Learners hold per-user state and are not safe for concurrent use. The
// engine serialises all access through the owning bundle's critical section;
// offloaded selection (worker pool) operates on copies and never touches a
// live learner.
package learning

import (
	json "github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/core"
)

// Learner names as they appear in ensemble weights, vote metadata, metrics
// labels and snapshots.
const (
	NameLinUCB    = "linucb"
	NameThompson  = "thompson"
	NameACTR      = "actr"
	NameHeuristic = "heuristic"
)

// Scores is one learner's verdict over the candidate actions.
type Scores struct {
	// Values holds one raw score per candidate, parallel to the actions
	// slice passed to Select. The ensemble min-max normalises them before
	// aggregation, so only their ordering and relative spacing matter.
	Values []float64

	// Best is the arg-max index into Values; ties break by first
	// occurrence.
	Best int

	// Confidence is the learner's self-reported trust in this round's
	// verdict. Semantics are learner-specific: LinUCB reports the best
	// arm's confidence width, Thompson mean·(1−√var), ACT-R a trace-length
	// saturation, the heuristic a constant.
	Confidence float64

	// Exploitation and Exploration decompose the best arm's score where
	// the learner distinguishes them; both zero otherwise.
	Exploitation float64
	Exploration  float64
}

// Learner is the contract every ensemble member implements.
//
// Select leaves learned state untouched; Thompson's RNG position is the one
// sanctioned exception. Update folds one reward in; a
// non-finite reward is a no-op by contract (bounded-reward property).
// Snapshot/Restore round-trip the learner's state; Restore returns an error
// only when the payload is unusable, in which case the learner is unchanged
// and the caller decides whether to reset it.
type Learner interface {
	Name() string
	Select(state core.UserState, actions []actionspace.Action, ctx core.DecisionContext) (Scores, error)
	Update(state core.UserState, action actionspace.Action, reward float64, ctx core.DecisionContext) error
	Snapshot() (json.RawMessage, error)
	Restore(raw json.RawMessage) error
}

// argMax returns the index of the strictly greatest value, first occurrence
// winning ties. An empty slice returns 0.
func argMax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
