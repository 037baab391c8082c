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

// Attention model constants. The weight vector pairs with the feature
// order produced by attentionFeatures.
var defaultAttentionWeights = [6]float64{0.8, 0.9, 1.2, 0.6, 0.5, 0.7}

const (
	attentionBias      = 1.5
	attentionSmoothing = 0.8 // A <- 0.8*prev + 0.2*new

	// Saturation scales for the raw behavioural rates.
	pauseSaturation  = 5 // pauses per event
	switchSaturation = 3 // context switches per event
	nominalDwellMs   = 3000
)

// Attention estimates engagement in [0, 1] from distraction signals. Higher
// pause/switch rates, focus loss, erratic response times, dwell anomalies
// and low interaction density all push it down.
type Attention struct {
	value       float64
	initialized bool
}

// NewAttention starts at the neutral prior.
func NewAttention() *Attention {
	return &Attention{value: core.NeutralUserState(zeroTime).Attention}
}

// Update folds one event into the estimate and returns the new value.
func (a *Attention) Update(e core.RawEvent, s perception.Summary) float64 {
	f := attentionFeatures(e, s)

	z := -attentionBias
	for i, w := range defaultAttentionWeights {
		z += w * f[i]
	}
	raw := sigmoid(-z)

	if !a.initialized {
		a.value = raw
		a.initialized = true
	} else {
		a.value = attentionSmoothing*a.value + (1-attentionSmoothing)*raw
	}
	return a.value
}

// Value returns the current estimate.
func (a *Attention) Value() float64 { return a.value }

// attentionFeatures assembles the six distraction signals, each in [0, 1]:
// [pauseRate, switchRate, focusLossRatio, rtCV, dwellAnomaly,
// densityDeficit].
func attentionFeatures(e core.RawEvent, s perception.Summary) [6]float64 {
	var f [6]float64

	f[0] = unit(s.PauseCount.Mean / pauseSaturation)
	f[1] = unit(s.SwitchCount.Mean / switchSaturation)

	dwell := math.Max(s.DwellTimeMs.Mean, 1)
	f[2] = unit(s.FocusLossMs.Mean / dwell)
	f[3] = unit(s.ResponseTimeMs.CV)

	// One decade away from the nominal 3 s dwell saturates the anomaly.
	f[4] = unit(math.Abs(math.Log(dwell/nominalDwellMs)) / math.Ln10)

	density := s.Density.Mean
	if s.Density.N == 0 {
		density = e.InteractionDensity
	}
	f[5] = unit(1 - density)

	return f
}

type attentionSnapshot struct {
	Value       float64 `json:"value"`
	Initialized bool    `json:"initialized"`
}

// Snapshot serialises the model.
func (a *Attention) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(attentionSnapshot{Value: a.value, Initialized: a.initialized})
	if err != nil {
		return nil, fmt.Errorf("marshal attention snapshot: %w", err)
	}
	return raw, nil
}

// Restore replaces the model state. A non-finite value drops the model back
// to its neutral prior rather than poisoning later smoothing.
func (a *Attention) Restore(raw json.RawMessage) error {
	var snap attentionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal attention snapshot: %w", err)
	}
	if math.IsNaN(snap.Value) || math.IsInf(snap.Value, 0) || snap.Value < 0 || snap.Value > 1 {
		*a = *NewAttention()
		return nil
	}
	a.value = snap.Value
	a.initialized = snap.Initialized
	return nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func unit(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
