// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package modeling

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"
	"gonum.org/v1/gonum/stat"

	"github.com/tomtom215/amas/internal/core"
)

// Trend classification constants.
const (
	trendWindow        = 10
	trendMinSamples    = 3
	trendSlopeUp       = 0.01
	trendSlopeDown     = -0.01
	trendStuckVariance = 0.0025
	trendStuckMean     = 0.45
)

// TrendClassifier watches the composite (attention, inverse fatigue,
// rescaled motivation) trajectory and tags its direction. "Stuck" means
// flat at a low level: no movement and a depressed composite, the pattern
// that warrants a strategy shake-up rather than more of the same.
type TrendClassifier struct {
	composites []float64 // most recent last, bounded to trendWindow
}

// NewTrendClassifier returns an empty classifier.
func NewTrendClassifier() *TrendClassifier {
	return &TrendClassifier{composites: make([]float64, 0, trendWindow)}
}

// Observe folds the latest state composite and returns the classification.
func (t *TrendClassifier) Observe(attention, fatigue, motivation float64) core.Trend {
	c := composite(attention, fatigue, motivation)
	t.composites = append(t.composites, c)
	if len(t.composites) > trendWindow {
		t.composites = t.composites[len(t.composites)-trendWindow:]
	}
	return t.Classify()
}

// Classify tags the current window without observing anything.
func (t *TrendClassifier) Classify() core.Trend {
	if len(t.composites) < trendMinSamples {
		return core.TrendUnknown
	}

	xs := make([]float64, len(t.composites))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, t.composites, nil, false)

	switch {
	case slope >= trendSlopeUp:
		return core.TrendUp
	case slope <= trendSlopeDown:
		return core.TrendDown
	}

	mean := stat.Mean(t.composites, nil)
	variance := stat.Variance(t.composites, nil)
	if variance < trendStuckVariance && mean < trendStuckMean {
		return core.TrendStuck
	}
	return core.TrendFlat
}

// composite collapses the three live signals onto [0, 1]: high attention,
// low fatigue and positive motivation all read as good.
func composite(attention, fatigue, motivation float64) float64 {
	return unit((attention + (1 - fatigue) + (motivation+1)/2) / 3)
}

type trendSnapshot struct {
	Composites []float64 `json:"composites"`
}

// Snapshot serialises the classifier.
func (t *TrendClassifier) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(trendSnapshot{Composites: t.composites})
	if err != nil {
		return nil, fmt.Errorf("marshal trend snapshot: %w", err)
	}
	return raw, nil
}

// Restore replaces the window, dropping non-finite entries and clamping
// the rest onto [0, 1].
func (t *TrendClassifier) Restore(raw json.RawMessage) error {
	var snap trendSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal trend snapshot: %w", err)
	}
	t.composites = t.composites[:0]
	for _, v := range snap.Composites {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		t.composites = append(t.composites, unit(v))
	}
	if len(t.composites) > trendWindow {
		t.composites = t.composites[len(t.composites)-trendWindow:]
	}
	return nil
}
