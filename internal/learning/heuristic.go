// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package learning

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/core"
)

const heuristicSnapshotVersion = 1

// heuristicConfidence is the fixed trust the baseline reports. It never
// learns, so it never gets more or less sure.
const heuristicConfidence = 0.5

// heuristicTable maps coarsened state onto catalogue indices:
// [attention][fatigue][motivation], each axis bucketed low/mid/high (for
// motivation: negative/neutral/positive). Entries were chosen by hand to be
// safe rather than optimal — demanding cells only where the user is fresh,
// attentive and motivated, maximum support where they are depleted.
var heuristicTable = [3][3][3]int{
	{ // low attention
		{2, 3, 8}, // fresh
		{1, 2, 7}, // worn
		{6, 0, 1}, // exhausted
	},
	{ // mid attention
		{4, 9, 12},
		{3, 8, 10},
		{0, 1, 2},
	},
	{ // high attention
		{10, 13, 19},
		{5, 11, 16},
		{1, 2, 7},
	},
}

// Heuristic is the stable table-lookup fallback: coarse (attention,
// fatigue, motivation) buckets pick a known-safe catalogue entry, and
// candidates score by closeness to it.
type Heuristic struct{}

var _ Learner = (*Heuristic)(nil)

// NewHeuristic returns the baseline learner.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Name implements Learner.
func (h *Heuristic) Name() string { return NameHeuristic }

// TableLookup returns the catalogue index the baseline picks for a state.
func TableLookup(state core.UserState) int {
	s := state.Clamp()
	return heuristicTable[bucketUnit(s.Attention)][bucketUnit(s.Fatigue)][bucketSigned(s.Motivation)]
}

// Select scores each candidate by its strategy distance to the table pick.
// The pick itself scores 1; everything else decays with distance.
func (h *Heuristic) Select(state core.UserState, actions []actionspace.Action, _ core.DecisionContext) (Scores, error) {
	if len(actions) == 0 {
		return Scores{}, amaserr.Ef(amaserr.KindInputSanitisation, "learning.Heuristic.Select", "no candidate actions")
	}

	target, err := actionspace.At(TableLookup(state))
	if err != nil {
		return Scores{}, err
	}

	values := make([]float64, len(actions))
	for i, a := range actions {
		values[i] = 1 / (1 + actionspace.Distance(a, target))
	}
	best := argMax(values)

	return Scores{
		Values:       values,
		Best:         best,
		Confidence:   heuristicConfidence,
		Exploitation: values[best],
	}, nil
}

// Update implements Learner. The table is fixed; rewards are ignored.
func (h *Heuristic) Update(core.UserState, actionspace.Action, float64, core.DecisionContext) error {
	return nil
}

type heuristicSnapshot struct {
	Version int `json:"version"`
}

// Snapshot implements Learner.
func (h *Heuristic) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(heuristicSnapshot{Version: heuristicSnapshotVersion})
	if err != nil {
		return nil, fmt.Errorf("marshal heuristic snapshot: %w", err)
	}
	return raw, nil
}

// Restore implements Learner.
func (h *Heuristic) Restore(raw json.RawMessage) error {
	var snap heuristicSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal heuristic snapshot: %w", err)
	}
	if snap.Version > heuristicSnapshotVersion {
		return amaserr.E(amaserr.KindStateCorruption, "learning.Heuristic.Restore",
			fmt.Errorf("snapshot version %d: %w", snap.Version, amaserr.ErrSnapshotDowngrade))
	}
	return nil
}

// bucketUnit coarsens [0, 1] into three equal bands.
func bucketUnit(v float64) int {
	switch {
	case v < 1.0/3:
		return 0
	case v < 2.0/3:
		return 1
	default:
		return 2
	}
}

// bucketSigned coarsens [-1, 1] into negative / neutral / positive.
func bucketSigned(v float64) int {
	switch {
	case v < -1.0/3:
		return 0
	case v <= 1.0/3:
		return 1
	default:
		return 2
	}
}
