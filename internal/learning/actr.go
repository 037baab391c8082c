// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package learning

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/core"
)

const actrSnapshotVersion = 1

// ACT-R activation parameters. Activation m = ln Σ Δtᵢ^(−d) over the word's
// review trace; recall probability P = σ((m − τ)/s).
const (
	actrTau = -0.7
	actrS   = 1.0

	// Decay d = clamp(0.5 − 0.2·recentSuccessRate, 0.2, 0.8): users on a
	// roll forget slower.
	actrDecayBase        = 0.5
	actrDecaySuccessGain = 0.2
	actrDecayMin         = 0.2
	actrDecayMax         = 0.8

	// minTraceAgeHours floors exposure ages so a just-seen word cannot
	// produce an unbounded activation term.
	minTraceAgeHours = 1.0 / 60

	// actrConfidenceK saturates confidence with trace length: n/(n+k).
	// A first exposure carries no memory signal and votes with zero
	// confidence.
	actrConfidenceK = 3.0

	// defaultRecall is the recall probability assumed for unseen words.
	defaultRecall = 0.5
)

// Activation computes the ACT-R base-level activation for a review trace.
// Returns false for an empty trace (no activation defined).
func Activation(trace []core.ReviewObservation, recentSuccessRate float64) (float64, bool) {
	if len(trace) == 0 {
		return 0, false
	}

	d := clamp(actrDecayBase-actrDecaySuccessGain*clamp(recentSuccessRate, 0, 1), actrDecayMin, actrDecayMax)

	var sum float64
	for _, obs := range trace {
		age := obs.AgeHours
		if math.IsNaN(age) || math.IsInf(age, 0) || age < minTraceAgeHours {
			age = minTraceAgeHours
		}
		sum += math.Pow(age, -d)
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0, false
	}
	return math.Log(sum), true
}

// RecallProbability maps a review trace onto the probability the user can
// retrieve the word right now: σ((m − τ)/s). Unseen words report the
// neutral 0.5.
func RecallProbability(trace []core.ReviewObservation, recentSuccessRate float64) float64 {
	m, ok := Activation(trace, recentSuccessRate)
	if !ok {
		return defaultRecall
	}
	return 1 / (1 + math.Exp(-(m-actrTau)/actrS))
}

// ACTR scores actions by how well their implied learner load matches the
// predicted recall of the current word: strong recall affords demanding
// strategies, weak recall wants support. It carries no learned state of its
// own — the review trace lives in perception and arrives via the decision
// context.
type ACTR struct{}

var _ Learner = (*ACTR)(nil)

// NewACTR returns the memory-model learner.
func NewACTR() *ACTR { return &ACTR{} }

// Name implements Learner.
func (r *ACTR) Name() string { return NameACTR }

// Select scores each action as 1 − |impliedLoad − recall|. Confidence
// saturates with the trace length; an unseen word votes with zero
// confidence and lets the other members decide.
func (r *ACTR) Select(_ core.UserState, actions []actionspace.Action, ctx core.DecisionContext) (Scores, error) {
	if len(actions) == 0 {
		return Scores{}, amaserr.Ef(amaserr.KindInputSanitisation, "learning.ACTR.Select", "no candidate actions")
	}

	recall := RecallProbability(ctx.WordTrace, 1-clamp(ctx.RecentErrorRate, 0, 1))

	values := make([]float64, len(actions))
	for i, a := range actions {
		values[i] = 1 - math.Abs(impliedLoad(a)-recall)
	}
	best := argMax(values)

	n := float64(len(ctx.WordTrace))
	return Scores{
		Values:       values,
		Best:         best,
		Confidence:   n / (n + actrConfidenceK),
		Exploitation: values[best],
	}, nil
}

// Update implements Learner. The model has nothing to learn from a reward;
// the review trace it conditions on is maintained by perception.
func (r *ACTR) Update(core.UserState, actionspace.Action, float64, core.DecisionContext) error {
	return nil
}

// impliedLoad collapses an action onto a [0, 1] demand scale: every field
// normalised to its legal range, hints counting as relief.
func impliedLoad(a actionspace.Action) float64 {
	a = a.Clamp()
	interval := (a.IntervalScale - actionspace.MinIntervalScale) / (actionspace.MaxIntervalScale - actionspace.MinIntervalScale)
	newRatio := (a.NewRatio - actionspace.MinNewRatio) / (actionspace.MaxNewRatio - actionspace.MinNewRatio)
	diff := (a.Difficulty.Numeric() - actionspace.DifficultyEasy.Numeric()) /
		(actionspace.DifficultyHard.Numeric() - actionspace.DifficultyEasy.Numeric())
	batch := float64(a.BatchSize-actionspace.MinBatchSize) / float64(actionspace.MaxBatchSize-actionspace.MinBatchSize)
	support := 1 - float64(a.HintLevel)/float64(actionspace.MaxHintLevel)

	return (interval + newRatio + diff + batch + support) / 5
}

type actrSnapshot struct {
	Version int `json:"version"`
}

// Snapshot implements Learner. Stateless, so the payload is just the
// version envelope.
func (r *ACTR) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(actrSnapshot{Version: actrSnapshotVersion})
	if err != nil {
		return nil, fmt.Errorf("marshal actr snapshot: %w", err)
	}
	return raw, nil
}

// Restore implements Learner.
func (r *ACTR) Restore(raw json.RawMessage) error {
	var snap actrSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal actr snapshot: %w", err)
	}
	if snap.Version > actrSnapshotVersion {
		return amaserr.E(amaserr.KindStateCorruption, "learning.ACTR.Restore",
			fmt.Errorf("snapshot version %d: %w", snap.Version, amaserr.ErrSnapshotDowngrade))
	}
	return nil
}
