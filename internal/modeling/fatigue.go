// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package modeling

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/perception"
)

// Fatigue model constants: F <- clamp(F + beta*load - gamma*rest -
// delta*longBreak, 0, 1).
const (
	fatigueLoadGain  = 0.15 // beta
	fatigueRestGain  = 0.10 // gamma
	fatigueBreakGain = 0.30 // delta

	restGapSeconds    = 60
	longBreakMinutes  = 30
	sessionHalfLoadAt = 45.0 // minutes of continuous work for a 0.5 session term
)

// Fatigue accumulates exertion in [0, 1]. Load builds it up each event;
// pauses longer than a minute relieve it; breaks over thirty minutes
// relieve it sharply.
type Fatigue struct {
	value float64
}

// NewFatigue starts at the neutral prior.
func NewFatigue() *Fatigue {
	return &Fatigue{value: core.NeutralUserState(zeroTime).Fatigue}
}

// Update folds one event into the estimate and returns the new value.
func (f *Fatigue) Update(e core.RawEvent, s perception.Summary) float64 {
	load := eventLoad(e, s)

	var rest, longBreak float64
	if s.GapSeconds > restGapSeconds {
		rest = 1
	}
	if s.GapSeconds > longBreakMinutes*60 {
		longBreak = 1
	}

	f.value = unit(f.value + fatigueLoadGain*load - fatigueRestGain*rest - fatigueBreakGain*longBreak)
	return f.value
}

// Value returns the current estimate.
func (f *Fatigue) Value() float64 { return f.value }

// eventLoad blends the interaction density with a saturating session-time
// term: load = 0.5*density + 0.5*(session / (session + 45m)).
func eventLoad(e core.RawEvent, s perception.Summary) float64 {
	density := s.Density.Mean
	if s.Density.N == 0 {
		density = e.InteractionDensity
	}
	sessionTerm := s.SessionMinutes / (s.SessionMinutes + sessionHalfLoadAt)
	return unit(0.5*density + 0.5*sessionTerm)
}

type fatigueSnapshot struct {
	Value float64 `json:"value"`
}

// Snapshot serialises the model.
func (f *Fatigue) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(fatigueSnapshot{Value: f.value})
	if err != nil {
		return nil, fmt.Errorf("marshal fatigue snapshot: %w", err)
	}
	return raw, nil
}

// Restore replaces the model state, dropping to the neutral prior on a
// value outside [0, 1].
func (f *Fatigue) Restore(raw json.RawMessage) error {
	var snap fatigueSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal fatigue snapshot: %w", err)
	}
	if math.IsNaN(snap.Value) || math.IsInf(snap.Value, 0) || snap.Value < 0 || snap.Value > 1 {
		*f = *NewFatigue()
		return nil
	}
	f.value = snap.Value
	return nil
}
