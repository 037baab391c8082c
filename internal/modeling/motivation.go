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

// Motivation model constants: M <- rho*M + kappa*success -
// lambda*frustration + mu*streak, bounded to [-1, 1].
const (
	motivationDecay       = 0.9  // rho
	motivationSuccessGain = 0.15 // kappa
	motivationFrustCost   = 0.20 // lambda
	motivationStreakGain  = 0.05 // mu

	retrySaturation  = 3
	streakSaturation = 5
)

// Motivation tracks drive in [-1, 1]. Successes and streaks lift it,
// frustration (misses, repeated retries) drains it, and it decays toward
// zero without reinforcement.
type Motivation struct {
	value float64
}

// NewMotivation starts at the neutral prior.
func NewMotivation() *Motivation {
	return &Motivation{value: core.NeutralUserState(zeroTime).Motivation}
}

// Update folds one event into the estimate and returns the new value.
func (m *Motivation) Update(e core.RawEvent, s perception.Summary) float64 {
	var success float64
	if e.IsCorrect {
		success = 1
	}

	retryTerm := unit(float64(e.RetryCount) / retrySaturation)
	frustration := unit(0.7*(1-success) + 0.3*retryTerm)

	streak := unit(float64(s.SuccessStreak) / streakSaturation)

	v := motivationDecay*m.value +
		motivationSuccessGain*success -
		motivationFrustCost*frustration +
		motivationStreakGain*streak
	m.value = math.Min(1, math.Max(-1, v))
	return m.value
}

// Value returns the current estimate.
func (m *Motivation) Value() float64 { return m.value }

type motivationSnapshot struct {
	Value float64 `json:"value"`
}

// Snapshot serialises the model.
func (m *Motivation) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(motivationSnapshot{Value: m.value})
	if err != nil {
		return nil, fmt.Errorf("marshal motivation snapshot: %w", err)
	}
	return raw, nil
}

// Restore replaces the model state, dropping to the neutral prior on a
// value outside [-1, 1].
func (m *Motivation) Restore(raw json.RawMessage) error {
	var snap motivationSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal motivation snapshot: %w", err)
	}
	if math.IsNaN(snap.Value) || math.IsInf(snap.Value, 0) || snap.Value < -1 || snap.Value > 1 {
		*m = *NewMotivation()
		return nil
	}
	m.value = snap.Value
	return nil
}
