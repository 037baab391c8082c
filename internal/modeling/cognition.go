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

// Cognition model constants. Two EMAs per dimension: a slow long-horizon
// one and a fast short-horizon one, fused with weight k0/(k0+n) on the
// short side so early estimates react quickly and mature ones stay stable.
const (
	cognitionLongBeta  = 0.98
	cognitionShortBeta = 0.80
	cognitionFusionK0  = 10.0

	// zClamp bounds the response-time z-score feeding the speed
	// observation.
	zClamp = 2.0
)

// Cognition tracks the long-horizon ability profile {mem, speed}, both in
// [0, 1]. Mem follows correctness; speed follows response-time z-scores
// against the user's own rolling window.
type Cognition struct {
	longMem    float64
	longSpeed  float64
	shortMem   float64
	shortSpeed float64
	n          uint64
}

// NewCognition starts both horizons at the neutral prior.
func NewCognition() *Cognition {
	neutral := core.NeutralUserState(zeroTime).Cognition
	return &Cognition{
		longMem:    neutral.Mem,
		longSpeed:  neutral.Speed,
		shortMem:   neutral.Mem,
		shortSpeed: neutral.Speed,
	}
}

// Update folds one event into both horizons and returns the fused profile.
func (c *Cognition) Update(e core.RawEvent, s perception.Summary) core.CognitiveProfile {
	memObs, speedObs := cognitionObservations(e, s)

	c.longMem = cognitionLongBeta*c.longMem + (1-cognitionLongBeta)*memObs
	c.longSpeed = cognitionLongBeta*c.longSpeed + (1-cognitionLongBeta)*speedObs
	c.shortMem = cognitionShortBeta*c.shortMem + (1-cognitionShortBeta)*memObs
	c.shortSpeed = cognitionShortBeta*c.shortSpeed + (1-cognitionShortBeta)*speedObs
	c.n++

	return c.Profile()
}

// Profile returns the fused estimate: w*short + (1-w)*long with
// w = k0/(k0+n).
func (c *Cognition) Profile() core.CognitiveProfile {
	w := cognitionFusionK0 / (cognitionFusionK0 + float64(c.n))
	return core.CognitiveProfile{
		Mem:   unit(w*c.shortMem + (1-w)*c.longMem),
		Speed: unit(w*c.shortSpeed + (1-w)*c.longSpeed),
	}
}

// cognitionObservations derives the per-event {mem, speed} pair.
//
// Mem blends the outcome with the windowed accuracy so one lucky hit does
// not read as mastery. Speed maps the response-time z-score against the
// user's own window onto [0, 1]; faster than usual reads high.
func cognitionObservations(e core.RawEvent, s perception.Summary) (mem, speed float64) {
	var success float64
	if e.IsCorrect {
		success = 1
	}
	mem = unit(0.7*success + 0.3*(1-s.ErrorRate))

	z := 0.0
	if s.ResponseTimeMs.N > 1 && s.ResponseTimeMs.Mean > 0 {
		std := s.ResponseTimeMs.CV * s.ResponseTimeMs.Mean
		if std > 1e-6 {
			z = (e.ResponseTimeMs - s.ResponseTimeMs.Mean) / std
			z = math.Min(zClamp, math.Max(-zClamp, z))
		}
	}
	speed = unit(0.5 - z/(2*zClamp))
	return mem, speed
}

type cognitionSnapshot struct {
	LongMem    float64 `json:"long_mem"`
	LongSpeed  float64 `json:"long_speed"`
	ShortMem   float64 `json:"short_mem"`
	ShortSpeed float64 `json:"short_speed"`
	N          uint64  `json:"n"`
}

// Snapshot serialises the model.
func (c *Cognition) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(cognitionSnapshot{
		LongMem:    c.longMem,
		LongSpeed:  c.longSpeed,
		ShortMem:   c.shortMem,
		ShortSpeed: c.shortSpeed,
		N:          c.n,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal cognition snapshot: %w", err)
	}
	return raw, nil
}

// Restore replaces the model state, dropping to the neutral prior when any
// horizon is outside [0, 1].
func (c *Cognition) Restore(raw json.RawMessage) error {
	var snap cognitionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal cognition snapshot: %w", err)
	}
	for _, v := range []float64{snap.LongMem, snap.LongSpeed, snap.ShortMem, snap.ShortSpeed} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			*c = *NewCognition()
			return nil
		}
	}
	c.longMem = snap.LongMem
	c.longSpeed = snap.LongSpeed
	c.shortMem = snap.ShortMem
	c.shortSpeed = snap.ShortSpeed
	c.n = snap.N
	return nil
}
