// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package guardrails applies deterministic safety overrides to the ensemble's
// pick before it is emitted. The fired rules tighten an envelope over the
// strategy parameters, the picked action is pulled inside it, smoothed
// against the previous emission, and projected back onto the nearest
// catalogue entry that still satisfies the envelope.
//
// Threshold comparisons are strict: a state sitting exactly on a threshold
// does not trigger the rule.
package guardrails

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
)

const snapshotVersion = 1

// Override thresholds. All comparisons against them are strict.
const (
	HighFatigue        = 0.6
	CriticalFatigue    = 0.8
	LowMotivation      = -0.3
	CriticalMotivation = -0.5
	MinAttention       = 0.3
)

// Rule names as they appear in traces, explanations and the override
// metric.
const (
	RuleHighFatigue        = "high_fatigue"
	RuleCriticalFatigue    = "critical_fatigue"
	RuleLowMotivation      = "low_motivation"
	RuleCriticalMotivation = "critical_motivation"
	RuleMinAttention       = "min_attention"
	RuleTrendDown          = "trend_down"
	RuleTrendStuck         = "trend_stuck"
)

// Config tunes the smoother.
type Config struct {
	// Tau is the EMA weight on the previous strategy: the emitted
	// continuous parameters follow tau*prev + (1-tau)*target.
	Tau float64
}

// DefaultConfig returns the production smoothing rate.
func DefaultConfig() Config {
	return Config{Tau: 0.5}
}

func (c Config) withDefaults() Config {
	if math.IsNaN(c.Tau) || c.Tau < 0 || c.Tau >= 1 {
		c.Tau = DefaultConfig().Tau
	}
	return c
}

// Strategy is the continuous view of an action while overrides and
// smoothing operate on it: integer fields relaxed to floats, difficulty
// switching immediately.
type Strategy struct {
	IntervalScale float64                `json:"interval_scale"`
	NewRatio      float64                `json:"new_ratio"`
	Difficulty    actionspace.Difficulty `json:"difficulty"`
	BatchSize     float64                `json:"batch_size"`
	HintLevel     float64                `json:"hint_level"`
}

func strategyOf(a actionspace.Action) Strategy {
	return Strategy{
		IntervalScale: a.IntervalScale,
		NewRatio:      a.NewRatio,
		Difficulty:    a.Difficulty,
		BatchSize:     float64(a.BatchSize),
		HintLevel:     float64(a.HintLevel),
	}
}

// inRange reports whether every field sits inside its legal range. NaN
// fails every comparison, so non-finite fields are rejected too.
func (s Strategy) inRange() bool {
	if !(s.IntervalScale >= actionspace.MinIntervalScale && s.IntervalScale <= actionspace.MaxIntervalScale) {
		return false
	}
	if !(s.NewRatio >= actionspace.MinNewRatio && s.NewRatio <= actionspace.MaxNewRatio) {
		return false
	}
	if !(s.BatchSize >= actionspace.MinBatchSize && s.BatchSize <= actionspace.MaxBatchSize) {
		return false
	}
	if !(s.HintLevel >= actionspace.MinHintLevel && s.HintLevel <= actionspace.MaxHintLevel) {
		return false
	}
	return s.Difficulty.Valid()
}

// Result is one guarded emission.
type Result struct {
	// Index and Action are the emitted catalogue entry.
	Index  int
	Action actionspace.Action

	// Target is the constrained, smoothed strategy the projection aimed
	// for; recorded in the pipeline trace.
	Target Strategy

	// Applied lists the fired rule names in table order; empty when the
	// state was inside every threshold.
	Applied []string

	// Adjusted reports whether the emitted action differs from the pick.
	Adjusted bool
}

// envelope is the intersection of the fired rules' bounds over the
// strategy parameters. The rules only ever raise the interval floor or
// lower its ceiling, cap new-ratio and batch, raise the hint floor, and
// force the easy band.
type envelope struct {
	minInterval float64
	maxInterval float64
	maxNew      float64
	maxBatch    float64
	minHint     float64
	forceEasy   bool
}

func openEnvelope() envelope {
	return envelope{
		minInterval: actionspace.MinIntervalScale,
		maxInterval: actionspace.MaxIntervalScale,
		maxNew:      actionspace.MaxNewRatio,
		maxBatch:    actionspace.MaxBatchSize,
		minHint:     actionspace.MinHintLevel,
	}
}

// overridesFor evaluates the rule table against the state. Bounds tighten
// monotonically, so firing order never changes the envelope; Applied keeps
// table order for stable traces. When high fatigue's interval floor and
// trend-down's ceiling cross, spacing wins: a fatigued user must not get
// compressed intervals whatever the trend says.
func overridesFor(state core.UserState) (envelope, []string) {
	env := openEnvelope()
	var applied []string

	if state.Fatigue > HighFatigue {
		env.minInterval = math.Max(env.minInterval, 1.0)
		env.maxNew = math.Min(env.maxNew, 0.2)
		env.maxBatch = math.Min(env.maxBatch, 8)
		applied = append(applied, RuleHighFatigue)
	}
	if state.Fatigue > CriticalFatigue {
		env.forceEasy = true
		env.minHint = math.Max(env.minHint, 1)
		env.maxNew = math.Min(env.maxNew, 0.1)
		env.maxBatch = math.Min(env.maxBatch, 5)
		applied = append(applied, RuleCriticalFatigue)
	}
	if state.Motivation < LowMotivation {
		env.forceEasy = true
		env.minHint = math.Max(env.minHint, 1)
		env.maxNew = math.Min(env.maxNew, 0.2)
		applied = append(applied, RuleLowMotivation)
	}
	if state.Motivation < CriticalMotivation {
		env.minHint = 2
		env.maxNew = math.Min(env.maxNew, 0.1)
		env.maxBatch = math.Min(env.maxBatch, 5)
		applied = append(applied, RuleCriticalMotivation)
	}
	if state.Attention < MinAttention {
		env.maxNew = math.Min(env.maxNew, 0.15)
		env.maxBatch = math.Min(env.maxBatch, 6)
		env.minHint = math.Max(env.minHint, 1)
		applied = append(applied, RuleMinAttention)
	}
	if state.Trend == core.TrendDown {
		env.maxNew = math.Min(env.maxNew, 0.1)
		env.forceEasy = true
		env.maxInterval = math.Min(env.maxInterval, 0.7)
		applied = append(applied, RuleTrendDown)
	}
	if state.Trend == core.TrendStuck {
		env.maxNew = math.Min(env.maxNew, 0.15)
		applied = append(applied, RuleTrendStuck)
	}

	if env.minInterval > env.maxInterval {
		env.maxInterval = actionspace.MaxIntervalScale
	}
	return env, applied
}

// constrain pulls a strategy inside the envelope and the legal ranges.
func (e envelope) constrain(s Strategy) Strategy {
	s.IntervalScale = clampF(s.IntervalScale, e.minInterval, e.maxInterval)
	s.NewRatio = clampF(s.NewRatio, actionspace.MinNewRatio, e.maxNew)
	s.BatchSize = clampF(s.BatchSize, actionspace.MinBatchSize, e.maxBatch)
	s.HintLevel = clampF(s.HintLevel, e.minHint, actionspace.MaxHintLevel)
	if e.forceEasy {
		s.Difficulty = actionspace.DifficultyEasy
	}
	return s
}

// admits reports whether a catalogue entry satisfies the envelope.
func (e envelope) admits(a actionspace.Action) bool {
	if a.IntervalScale < e.minInterval || a.IntervalScale > e.maxInterval {
		return false
	}
	if a.NewRatio > e.maxNew {
		return false
	}
	if float64(a.BatchSize) > e.maxBatch {
		return false
	}
	if float64(a.HintLevel) < e.minHint {
		return false
	}
	if e.forceEasy && a.Difficulty != actionspace.DifficultyEasy {
		return false
	}
	return true
}

func (e envelope) withoutInterval() envelope {
	e.minInterval = actionspace.MinIntervalScale
	e.maxInterval = actionspace.MaxIntervalScale
	return e
}

func (e envelope) withoutBatch() envelope {
	e.maxBatch = actionspace.MaxBatchSize
	return e
}

func (e envelope) withoutNew() envelope {
	e.maxNew = actionspace.MaxNewRatio
	return e
}

// Guard holds the per-user smoothing state and applies the override
// pipeline. Not safe for concurrent use; the engine serialises access per
// user.
type Guard struct {
	cfg    Config
	prev   Strategy
	seeded bool
	log    zerolog.Logger
}

// NewGuard returns a guard with no smoothing history: the first emission
// adopts its target unsmoothed.
func NewGuard(cfg Config) *Guard {
	return &Guard{
		cfg: cfg.withDefaults(),
		log: logging.WithComponent("guardrails"),
	}
}

// Apply runs overrides, smoothing and projection on one picked action and
// returns the catalogue entry to emit. Ties in the projection resolve in
// favour of the pick.
func (g *Guard) Apply(state core.UserState, picked actionspace.Action) Result {
	env, applied := overridesFor(state)
	for _, rule := range applied {
		metrics.GuardrailOverrides.WithLabelValues(rule).Inc()
	}

	target := env.constrain(strategyOf(picked))

	if g.seeded {
		tau := g.cfg.Tau
		target.IntervalScale = tau*g.prev.IntervalScale + (1-tau)*target.IntervalScale
		target.NewRatio = tau*g.prev.NewRatio + (1-tau)*target.NewRatio
		target.BatchSize = tau*g.prev.BatchSize + (1-tau)*target.BatchSize
		target.HintLevel = tau*g.prev.HintLevel + (1-tau)*target.HintLevel
		target = env.constrain(target)
	}

	// The EMA runs on the unrounded series; rounding quantises only what
	// is emitted.
	g.prev = target
	g.seeded = true

	rounded := target
	rounded.BatchSize = math.Round(rounded.BatchSize)
	rounded.HintLevel = math.Round(rounded.HintLevel)

	idx := g.project(env, rounded, picked)
	emitted, _ := actionspace.At(idx)

	if len(applied) > 0 && emitted.Key() != picked.Key() {
		g.log.Debug().
			Str("picked", picked.Key()).
			Str("emitted", emitted.Key()).
			Strs("rules", applied).
			Msg("guardrails adjusted pick")
	}

	return Result{
		Index:    idx,
		Action:   emitted,
		Target:   rounded,
		Applied:  applied,
		Adjusted: emitted.Key() != picked.Key(),
	}
}

// project finds the nearest catalogue entry to the target inside the
// envelope. The full envelope can be unsatisfiable against the fixed
// catalogue (critical fatigue wants batch <= 5 at interval >= 1.0, which no
// entry offers), so bounds relax in a fixed order: interval first, then
// batch, then new-ratio. Difficulty and hint constraints never relax; the
// catalogue always satisfies them on their own.
func (g *Guard) project(env envelope, target Strategy, preferred actionspace.Action) int {
	stages := []envelope{
		env,
		env.withoutInterval(),
		env.withoutInterval().withoutBatch(),
		env.withoutInterval().withoutBatch().withoutNew(),
	}
	for _, e := range stages {
		if idx, ok := nearestWithin(e, target, preferred); ok {
			return idx
		}
	}
	return actionspace.Nearest(roundToAction(target), &preferred)
}

// nearestWithin scans the catalogue for the admitted entry with the
// smallest strategy distance to the target. Ties resolve in favour of the
// preferred action, then the lower index.
func nearestWithin(e envelope, target Strategy, preferred actionspace.Action) (int, bool) {
	t := roundToAction(target)
	prefIdx := -1
	if i, ok := actionspace.Lookup(preferred); ok {
		prefIdx = i
	}

	best := -1
	var bestDist float64
	for i, a := range actionspace.All() {
		if !e.admits(a) {
			continue
		}
		d := actionspace.Distance(a, t)
		switch {
		case best < 0 || d < bestDist:
			best, bestDist = i, d
		case d == bestDist && i == prefIdx:
			best = i
		}
	}
	return best, best >= 0
}

// roundToAction converts a strategy into the Action shape Distance expects.
// The result need not be a catalogue member.
func roundToAction(s Strategy) actionspace.Action {
	return actionspace.Action{
		IntervalScale: s.IntervalScale,
		NewRatio:      s.NewRatio,
		Difficulty:    s.Difficulty,
		BatchSize:     int(math.Round(s.BatchSize)),
		HintLevel:     int(math.Round(s.HintLevel)),
	}
}

type guardSnapshot struct {
	Version int      `json:"version"`
	Seeded  bool     `json:"seeded"`
	Prev    Strategy `json:"prev"`
}

// Snapshot serialises the smoothing state.
func (g *Guard) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(guardSnapshot{
		Version: snapshotVersion,
		Seeded:  g.seeded,
		Prev:    g.prev,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal guardrails snapshot: %w", err)
	}
	return raw, nil
}

// Restore replaces the smoothing state. A corrupt previous strategy resets
// the smoother rather than failing: the next emission simply starts the EMA
// over.
func (g *Guard) Restore(raw json.RawMessage) error {
	var snap guardSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal guardrails snapshot: %w", err)
	}
	if snap.Version > snapshotVersion {
		return amaserr.E(amaserr.KindStateCorruption, "guardrails.Guard.Restore",
			fmt.Errorf("snapshot version %d: %w", snap.Version, amaserr.ErrSnapshotDowngrade))
	}

	if snap.Seeded && !snap.Prev.inRange() {
		metrics.StateCorruptions.WithLabelValues("guardrails").Inc()
		g.log.Warn().Msg("guardrails snapshot carried out-of-range smoothing state, resetting smoother")
		g.seeded = false
		g.prev = Strategy{}
		return nil
	}

	g.seeded = snap.Seeded
	g.prev = snap.Prev
	return nil
}

func clampF(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
