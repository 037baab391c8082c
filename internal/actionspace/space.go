// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package actionspace

import "fmt"

// Size is the number of catalogue entries. Bandit arms, vote vectors and the
// heuristic table are all sized to it.
const Size = 24

// Well-known catalogue indices. The cold-start manager probes and settles on
// these; tests pin them.
const (
	IndexProbeBaseline = 9  // (1.0, 0.25, mid, 8, 0)
	IndexProbeCeiling  = 17 // (1.0, 0.35, hard, 10, 0)
	IndexProbeSupport  = 1  // (0.8, 0.15, easy, 6, 2)

	IndexSettledFast     = 19 // (1.2, 0.35, hard, 12, 0)
	IndexSettledStable   = 10 // (1.0, 0.25, mid, 10, 0)
	IndexSettledCautious = 2  // (0.8, 0.15, easy, 6, 1)
)

// space is the fixed 24-entry catalogue, grouped easy / mid / hard. Do not
// reorder: indices are persisted in snapshots and decision records.
var space = [Size]Action{
	{IntervalScale: 0.7, NewRatio: 0.10, Difficulty: DifficultyEasy, BatchSize: 5, HintLevel: 2},
	{IntervalScale: 0.8, NewRatio: 0.15, Difficulty: DifficultyEasy, BatchSize: 6, HintLevel: 2},
	{IntervalScale: 0.8, NewRatio: 0.15, Difficulty: DifficultyEasy, BatchSize: 6, HintLevel: 1},
	{IntervalScale: 0.9, NewRatio: 0.20, Difficulty: DifficultyEasy, BatchSize: 8, HintLevel: 1},
	{IntervalScale: 1.0, NewRatio: 0.20, Difficulty: DifficultyEasy, BatchSize: 8, HintLevel: 0},
	{IntervalScale: 1.1, NewRatio: 0.25, Difficulty: DifficultyEasy, BatchSize: 10, HintLevel: 0},
	{IntervalScale: 0.6, NewRatio: 0.05, Difficulty: DifficultyEasy, BatchSize: 5, HintLevel: 2},
	{IntervalScale: 1.0, NewRatio: 0.15, Difficulty: DifficultyEasy, BatchSize: 6, HintLevel: 1},
	{IntervalScale: 0.9, NewRatio: 0.20, Difficulty: DifficultyMid, BatchSize: 8, HintLevel: 1},
	{IntervalScale: 1.0, NewRatio: 0.25, Difficulty: DifficultyMid, BatchSize: 8, HintLevel: 0},
	{IntervalScale: 1.0, NewRatio: 0.25, Difficulty: DifficultyMid, BatchSize: 10, HintLevel: 0},
	{IntervalScale: 1.1, NewRatio: 0.30, Difficulty: DifficultyMid, BatchSize: 10, HintLevel: 0},
	{IntervalScale: 1.0, NewRatio: 0.30, Difficulty: DifficultyMid, BatchSize: 12, HintLevel: 0},
	{IntervalScale: 1.2, NewRatio: 0.25, Difficulty: DifficultyMid, BatchSize: 12, HintLevel: 0},
	{IntervalScale: 0.8, NewRatio: 0.20, Difficulty: DifficultyMid, BatchSize: 8, HintLevel: 1},
	{IntervalScale: 1.1, NewRatio: 0.35, Difficulty: DifficultyMid, BatchSize: 14, HintLevel: 0},
	{IntervalScale: 1.0, NewRatio: 0.30, Difficulty: DifficultyHard, BatchSize: 10, HintLevel: 0},
	{IntervalScale: 1.0, NewRatio: 0.35, Difficulty: DifficultyHard, BatchSize: 10, HintLevel: 0},
	{IntervalScale: 1.1, NewRatio: 0.30, Difficulty: DifficultyHard, BatchSize: 12, HintLevel: 0},
	{IntervalScale: 1.2, NewRatio: 0.35, Difficulty: DifficultyHard, BatchSize: 12, HintLevel: 0},
	{IntervalScale: 1.3, NewRatio: 0.40, Difficulty: DifficultyHard, BatchSize: 14, HintLevel: 0},
	{IntervalScale: 1.2, NewRatio: 0.40, Difficulty: DifficultyHard, BatchSize: 16, HintLevel: 0},
	{IntervalScale: 1.4, NewRatio: 0.45, Difficulty: DifficultyHard, BatchSize: 16, HintLevel: 0},
	{IntervalScale: 1.5, NewRatio: 0.50, Difficulty: DifficultyHard, BatchSize: 20, HintLevel: 0},
}

// keyIndex maps canonical action keys to catalogue indices for O(1) Lookup.
var keyIndex = buildKeyIndex()

func buildKeyIndex() map[string]int {
	m := make(map[string]int, Size)
	for i, a := range space {
		m[a.Key()] = i
	}
	return m
}

// All returns a copy of the catalogue in index order.
func All() []Action {
	out := make([]Action, Size)
	copy(out, space[:])
	return out
}

// At returns the catalogue entry at index i.
func At(i int) (Action, error) {
	if i < 0 || i >= Size {
		return Action{}, fmt.Errorf("action index %d outside [0, %d)", i, Size)
	}
	return space[i], nil
}

// Lookup returns the catalogue index of an exact member, or false.
func Lookup(a Action) (int, bool) {
	i, ok := keyIndex[a.Key()]
	return i, ok
}

// Contains reports whether a is an exact catalogue member.
func Contains(a Action) bool {
	_, ok := Lookup(a)
	return ok
}

// Distance is the weighted strategy distance used for nearest-neighbour
// projection. NewRatio dominates (x10) because it has the strongest effect
// on learner load; a difficulty mismatch costs a flat 1.
func Distance(a, b Action) float64 {
	d := absF(a.NewRatio-b.NewRatio) * 10
	d += absF(a.IntervalScale - b.IntervalScale)
	d += absF(float64(a.BatchSize-b.BatchSize)) / 5
	d += absF(float64(a.HintLevel - b.HintLevel))
	if a.Difficulty != b.Difficulty {
		d++
	}
	return d
}

// Nearest returns the catalogue index closest to target under Distance.
// When two entries tie, preferred (if non-nil and tied) wins; otherwise the
// lower index wins.
func Nearest(target Action, preferred *Action) int {
	best := 0
	bestDist := Distance(space[0], target)

	preferredIdx := -1
	if preferred != nil {
		if i, ok := Lookup(*preferred); ok {
			preferredIdx = i
		}
	}

	for i := 1; i < Size; i++ {
		d := Distance(space[i], target)
		switch {
		case d < bestDist:
			best, bestDist = i, d
		case d == bestDist && i == preferredIdx:
			best = i
		}
	}
	if preferredIdx >= 0 && Distance(space[preferredIdx], target) == bestDist {
		best = preferredIdx
	}
	return best
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
