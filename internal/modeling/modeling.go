// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package modeling maintains the live psychometric state of one user:
// attention, fatigue and motivation as online EMA updaters, the
// long-horizon cognitive profile, and the trend classifier over their
// composite. The Models aggregate folds each sanitised event into every
// sub-model and emits the core.UserState the learners condition on.
//
// Models instances are owned by a single bundle and are not safe for
// concurrent use; the engine serialises access per user.
package modeling

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/perception"
)

var zeroTime time.Time

// stateConfidenceK controls how fast state confidence approaches 1:
// confidence = n / (n + k).
const stateConfidenceK = 10.0

// Models aggregates the four sub-models and the trend classifier.
type Models struct {
	attention  *Attention
	fatigue    *Fatigue
	motivation *Motivation
	cognition  *Cognition
	trend      *TrendClassifier

	updates uint64
}

// NewModels returns an aggregate at the neutral prior.
func NewModels() *Models {
	return &Models{
		attention:  NewAttention(),
		fatigue:    NewFatigue(),
		motivation: NewMotivation(),
		cognition:  NewCognition(),
		trend:      NewTrendClassifier(),
	}
}

// Update folds one event into every sub-model and returns the refreshed
// user state. The event must already be clamped.
func (m *Models) Update(e core.RawEvent, s perception.Summary) core.UserState {
	a := m.attention.Update(e, s)
	f := m.fatigue.Update(e, s)
	mot := m.motivation.Update(e, s)
	prof := m.cognition.Update(e, s)
	trend := m.trend.Observe(a, f, mot)
	m.updates++

	state := core.UserState{
		Attention:  a,
		Fatigue:    f,
		Motivation: mot,
		Cognition:  prof,
		Trend:      trend,
		Confidence: float64(m.updates) / (float64(m.updates) + stateConfidenceK),
		Timestamp:  e.Timestamp,
	}
	return state.Clamp()
}

// State returns the current estimate without observing anything.
func (m *Models) State(now time.Time) core.UserState {
	state := core.UserState{
		Attention:  m.attention.Value(),
		Fatigue:    m.fatigue.Value(),
		Motivation: m.motivation.Value(),
		Cognition:  m.cognition.Profile(),
		Trend:      m.trend.Classify(),
		Confidence: float64(m.updates) / (float64(m.updates) + stateConfidenceK),
		Timestamp:  now,
	}
	return state.Clamp()
}

// UpdateCount is the number of observed events.
func (m *Models) UpdateCount() uint64 { return m.updates }

type modelsSnapshot struct {
	Attention  json.RawMessage `json:"attention"`
	Fatigue    json.RawMessage `json:"fatigue"`
	Motivation json.RawMessage `json:"motivation"`
	Cognition  json.RawMessage `json:"cognition"`
	Trend      json.RawMessage `json:"trend"`
	Updates    uint64          `json:"updates"`
}

// Snapshot serialises every sub-model.
func (m *Models) Snapshot() (json.RawMessage, error) {
	snap := modelsSnapshot{Updates: m.updates}

	var err error
	if snap.Attention, err = m.attention.Snapshot(); err != nil {
		return nil, err
	}
	if snap.Fatigue, err = m.fatigue.Snapshot(); err != nil {
		return nil, err
	}
	if snap.Motivation, err = m.motivation.Snapshot(); err != nil {
		return nil, err
	}
	if snap.Cognition, err = m.cognition.Snapshot(); err != nil {
		return nil, err
	}
	if snap.Trend, err = m.trend.Snapshot(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal models snapshot: %w", err)
	}
	return raw, nil
}

// Restore replaces sub-model state from a snapshot. A corrupt sub-snapshot
// drops only that sub-model to its neutral prior; the rest restore
// normally. Only a snapshot that cannot be parsed at all fails.
func (m *Models) Restore(raw json.RawMessage) error {
	var snap modelsSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return amaserr.E(amaserr.KindStateCorruption, "modeling.Restore", err)
	}

	log := logging.WithComponent("modeling")
	restore := func(name string, data json.RawMessage, fn func(json.RawMessage) error, reset func()) {
		if len(data) == 0 {
			reset()
			return
		}
		if err := fn(data); err != nil {
			log.Warn().Str("submodel", name).Err(err).Msg("sub-model snapshot corrupt, using defaults")
			reset()
		}
	}

	restore("attention", snap.Attention, m.attention.Restore, func() { m.attention = NewAttention() })
	restore("fatigue", snap.Fatigue, m.fatigue.Restore, func() { m.fatigue = NewFatigue() })
	restore("motivation", snap.Motivation, m.motivation.Restore, func() { m.motivation = NewMotivation() })
	restore("cognition", snap.Cognition, m.cognition.Restore, func() { m.cognition = NewCognition() })
	restore("trend", snap.Trend, m.trend.Restore, func() { m.trend = NewTrendClassifier() })
	m.updates = snap.Updates

	return nil
}
