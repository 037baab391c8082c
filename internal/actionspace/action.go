// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package actionspace defines the fixed catalogue of learning actions the
// engine may emit.
//
// An Action is the engine's output unit: the scheduling strategy the calling
// application applies to the next content batch. The catalogue (Space) is
// process-wide, ordered, and read-only after init; an action's index is
// stable for the life of a deployment, which is what makes bandit arms,
// persisted decision records, and the heuristic table comparable across
// restarts.
package actionspace

import (
	"fmt"
	"math"
)

// Difficulty is the content difficulty band of an action.
type Difficulty string

// Difficulty bands, ordered easy < mid < hard.
const (
	DifficultyEasy Difficulty = "easy"
	DifficultyMid  Difficulty = "mid"
	DifficultyHard Difficulty = "hard"
)

// Valid returns true for one of the three defined bands.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMid, DifficultyHard:
		return true
	default:
		return false
	}
}

// Numeric maps the band onto [0, 1] for feature assembly.
// Easy 0.25, mid 0.5, hard 0.9.
func (d Difficulty) Numeric() float64 {
	switch d {
	case DifficultyEasy:
		return 0.25
	case DifficultyMid:
		return 0.5
	case DifficultyHard:
		return 0.9
	default:
		return 0.5
	}
}

// Legal ranges for action fields. Ingress clamps to these; Validate rejects
// values outside them.
const (
	MinIntervalScale = 0.5
	MaxIntervalScale = 1.5
	MinNewRatio      = 0.05
	MaxNewRatio      = 0.5
	MinBatchSize     = 5
	MaxBatchSize     = 20
	MinHintLevel     = 0
	MaxHintLevel     = 2
)

// Action is one scheduling strategy: how far to space reviews, how much new
// material to mix in, at what difficulty, in what batch size, and with how
// much hinting. Immutable once constructed.
type Action struct {
	// IntervalScale stretches (>1) or compresses (<1) review intervals.
	// Range [0.5, 1.5].
	IntervalScale float64 `json:"interval_scale"`

	// NewRatio is the fraction of new items in the next batch.
	// Range [0.05, 0.5].
	NewRatio float64 `json:"new_ratio"`

	// Difficulty selects the content band.
	Difficulty Difficulty `json:"difficulty"`

	// BatchSize is the number of items to schedule. Range [5, 20].
	BatchSize int `json:"batch_size"`

	// HintLevel is the scaffolding intensity: 0 none, 1 partial, 2 full.
	HintLevel int `json:"hint_level"`
}

// Validate reports whether every field is inside its legal range.
func (a Action) Validate() error {
	if !isFinite(a.IntervalScale) || a.IntervalScale < MinIntervalScale || a.IntervalScale > MaxIntervalScale {
		return fmt.Errorf("interval_scale %v outside [%v, %v]", a.IntervalScale, MinIntervalScale, MaxIntervalScale)
	}
	if !isFinite(a.NewRatio) || a.NewRatio < MinNewRatio || a.NewRatio > MaxNewRatio {
		return fmt.Errorf("new_ratio %v outside [%v, %v]", a.NewRatio, MinNewRatio, MaxNewRatio)
	}
	if !a.Difficulty.Valid() {
		return fmt.Errorf("difficulty %q is not one of easy/mid/hard", a.Difficulty)
	}
	if a.BatchSize < MinBatchSize || a.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch_size %d outside [%d, %d]", a.BatchSize, MinBatchSize, MaxBatchSize)
	}
	if a.HintLevel < MinHintLevel || a.HintLevel > MaxHintLevel {
		return fmt.Errorf("hint_level %d outside [%d, %d]", a.HintLevel, MinHintLevel, MaxHintLevel)
	}
	return nil
}

// Clamp returns a copy with every field forced into its legal range.
// Non-finite floats collapse to the range midpoint.
func (a Action) Clamp() Action {
	out := a
	out.IntervalScale = clampFloat(out.IntervalScale, MinIntervalScale, MaxIntervalScale)
	out.NewRatio = clampFloat(out.NewRatio, MinNewRatio, MaxNewRatio)
	if !out.Difficulty.Valid() {
		out.Difficulty = DifficultyMid
	}
	out.BatchSize = clampInt(out.BatchSize, MinBatchSize, MaxBatchSize)
	out.HintLevel = clampInt(out.HintLevel, MinHintLevel, MaxHintLevel)
	return out
}

// Key returns the canonical serialised form used as a bandit arm key:
// "1.20:0.35:hard:12:0". Stable across runs.
func (a Action) Key() string {
	return fmt.Sprintf("%.2f:%.2f:%s:%d:%d", a.IntervalScale, a.NewRatio, a.Difficulty, a.BatchSize, a.HintLevel)
}

// String implements fmt.Stringer with the same canonical form as Key.
func (a Action) String() string { return a.Key() }

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clampFloat(v, lo, hi float64) float64 {
	if !isFinite(v) {
		return (lo + hi) / 2
	}
	return math.Min(hi, math.Max(lo, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
