// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package ensemble aggregates the learners' votes into one decision. The
// voter owns the cold-start manager: while a user is still being classified
// or explored, selection routes there and the learners only absorb rewards;
// in the normal phase every enabled learner scores the candidates and a
// confidence-weighted vote picks the winner.
//
// Learner weights adapt online: each member keeps an EMA of the rewards
// credited to it, scaled by how strongly it endorsed the executed action,
// and weights take a bounded multiplicative step on that EMA. After every
// update the weights sum to one with each member holding at least the
// floor. The voter is not safe for concurrent use; the engine serialises
// access per user.
package ensemble

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/coldstart"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/learning"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
)

const snapshotVersion = 1

const (
	// emaRate smooths each member's credited-reward trace.
	emaRate = 0.1

	// stepTemperature bounds the multiplicative weight step: with rewards
	// in [-1, 1] a single event moves a weight by at most ~10%.
	stepTemperature = 0.1

	// minWeight is the floor every member keeps, so no learner is ever
	// silenced entirely.
	minWeight = 0.05

	maxWeight = 1.0
)

// defaultWeightFor is the prior trust per member. LinUCB carries the most,
// the memory model the least.
func defaultWeightFor(name string) float64 {
	switch name {
	case learning.NameLinUCB:
		return 0.4
	case learning.NameThompson:
		return 0.3
	case learning.NameACTR:
		return 0.1
	case learning.NameHeuristic:
		return 0.2
	default:
		return 0.1
	}
}

// Selection is one resolved pick: the chosen candidate, how it was chosen,
// and the per-member votes when the ensemble did the choosing.
type Selection struct {
	// Index is the winner's position in the candidate slice.
	Index int

	// Action is the winning candidate, pre-guardrails.
	Action actionspace.Action

	// Confidence is the winning vote's aggregate in [0, 1].
	Confidence float64

	// Source and Phase tag which path picked and under which lifecycle
	// stage.
	Source core.DecisionSource
	Phase  core.Phase

	// Votes holds the per-member breakdown; empty for cold-start picks.
	Votes []core.MemberVote

	// Weights is the weight snapshot at selection time.
	Weights map[string]float64
}

// Voter is the weighted ensemble over the enabled learners plus the
// cold-start manager that fronts them for new users.
type Voter struct {
	members []learning.Learner
	weights []float64
	emas    []float64
	cold    *coldstart.Manager

	// Last voted round, used to credit members by how strongly they
	// endorsed the action the reward arrives for. Transient: rebuilt by
	// the next Select, never snapshotted.
	lastActions []actionspace.Action
	lastNorm    [][]float64

	log zerolog.Logger
}

// NewVoter assembles the ensemble. The member list is the set of enabled
// learners; weights start at the per-name defaults, renormalised.
func NewVoter(cold *coldstart.Manager, members ...learning.Learner) *Voter {
	weights := make([]float64, len(members))
	for i, m := range members {
		weights[i] = defaultWeightFor(m.Name())
	}
	normaliseWeights(weights)

	v := &Voter{
		members: members,
		weights: weights,
		emas:    make([]float64, len(members)),
		cold:    cold,
		log:     logging.WithComponent("ensemble"),
	}
	metrics.SetEnsembleWeights(v.WeightsMap())
	return v
}

// Phase reports the cold-start lifecycle stage of the user.
func (v *Voter) Phase() core.Phase { return v.cold.Phase() }

// UserType reports the cold-start classification of the user.
func (v *Voter) UserType() core.UserType { return v.cold.UserType() }

// WeightsMap returns a copy of the current weights keyed by learner name.
func (v *Voter) WeightsMap() map[string]float64 {
	out := make(map[string]float64, len(v.members))
	for i, m := range v.members {
		out[m.Name()] = v.weights[i]
	}
	return out
}

// Select resolves one pick over the candidates. Outside the normal phase
// the cold-start manager decides; otherwise every member scores the
// candidates and the confidence-weighted normalised scores are summed.
func (v *Voter) Select(state core.UserState, actions []actionspace.Action, ctx core.DecisionContext) (Selection, error) {
	if len(actions) == 0 {
		return Selection{}, amaserr.Ef(amaserr.KindInputSanitisation, "ensemble.Voter.Select", "no candidate actions")
	}

	if phase := v.cold.Phase(); phase != core.PhaseNormal {
		idx, conf, err := v.cold.Select(actions)
		if err != nil {
			return Selection{}, err
		}
		v.clearRound()
		return Selection{
			Index:      idx,
			Action:     actions[idx],
			Confidence: conf,
			Source:     core.SourceColdStart,
			Phase:      phase,
			Weights:    v.WeightsMap(),
		}, nil
	}

	aggregate := make([]float64, len(actions))
	norm := make([][]float64, len(v.members))
	confs := make([]float64, len(v.members))
	bestIdx := make([]int, len(v.members))
	bestRaw := make([]float64, len(v.members))
	voted := 0

	for i, m := range v.members {
		scores, err := m.Select(state, actions, ctx)
		if err != nil {
			v.log.Warn().Err(err).Str("learner", m.Name()).Msg("member select failed, vote skipped")
			continue
		}
		if len(scores.Values) != len(actions) || !allFinite(scores.Values) {
			v.log.Warn().Str("learner", m.Name()).Msg("member returned malformed scores, vote skipped")
			continue
		}

		n := minMaxNormalise(scores.Values)
		sigma := clamp01(scores.Confidence)
		norm[i] = n
		confs[i] = sigma
		bestIdx[i] = scores.Best
		bestRaw[i] = scores.Values[scores.Best]

		w := v.weights[i]
		for j := range aggregate {
			aggregate[j] += w * sigma * n[j]
		}
		voted++
	}

	if voted == 0 {
		return Selection{}, amaserr.Ef(amaserr.KindStateCorruption, "ensemble.Voter.Select", "no member produced scores")
	}

	best := argMax(aggregate)

	votes := make([]core.MemberVote, 0, voted)
	for i, m := range v.members {
		if norm[i] == nil {
			continue
		}
		catIdx := bestIdx[i]
		if gi, ok := actionspace.Lookup(actions[bestIdx[i]]); ok {
			catIdx = gi
		}
		votes = append(votes, core.MemberVote{
			Learner:      m.Name(),
			ActionIndex:  catIdx,
			Score:        bestRaw[i],
			Confidence:   confs[i],
			Contribution: v.weights[i] * confs[i] * norm[i][best],
		})
	}

	v.lastActions = actions
	v.lastNorm = norm

	return Selection{
		Index:      best,
		Action:     actions[best],
		Confidence: clamp01(aggregate[best]),
		Source:     core.SourceEnsemble,
		Phase:      core.PhaseNormal,
		Votes:      votes,
		Weights:    v.WeightsMap(),
	}, nil
}

// Update propagates the reward to every member and the cold-start manager,
// then adapts the weights. Non-finite rewards skip adaptation; the members
// each apply their own no-op contract.
func (v *Voter) Update(state core.UserState, action actionspace.Action, reward float64, ctx core.DecisionContext) error {
	for _, m := range v.members {
		if err := m.Update(state, action, reward, ctx); err != nil {
			v.log.Warn().Err(err).Str("learner", m.Name()).Msg("learner update failed")
		}
	}
	v.cold.Update(reward, ctx)

	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		return nil
	}
	v.adaptWeights(clampF(reward, -1, 1), action)
	return nil
}

// adaptWeights credits each member with the reward scaled by its last
// endorsement of the executed action, then takes a bounded multiplicative
// step and renormalises above the floor.
func (v *Voter) adaptWeights(reward float64, action actionspace.Action) {
	for i := range v.members {
		credit := reward * v.agreement(i, action)
		v.emas[i] = (1-emaRate)*v.emas[i] + emaRate*credit
		v.weights[i] = clampF(v.weights[i]*math.Exp(stepTemperature*v.emas[i]), minWeight, maxWeight)
	}
	normaliseWeights(v.weights)
	metrics.SetEnsembleWeights(v.WeightsMap())
}

// agreement is the member's normalised score of the action in the last
// voted round, 1 when no round data exists (cold-start phases, fresh
// restores) so that equal credit leaves the weights untouched.
func (v *Voter) agreement(i int, action actionspace.Action) float64 {
	if v.lastNorm == nil || v.lastNorm[i] == nil {
		return 1
	}
	key := action.Key()
	for j, a := range v.lastActions {
		if a.Key() == key {
			return v.lastNorm[i][j]
		}
	}
	return 1
}

func (v *Voter) clearRound() {
	v.lastActions = nil
	v.lastNorm = nil
}

type voterSnapshot struct {
	Version   int                        `json:"version"`
	Weights   map[string]float64         `json:"weights"`
	Emas      map[string]float64         `json:"emas"`
	Learners  map[string]json.RawMessage `json:"learners"`
	ColdStart json.RawMessage            `json:"coldstart"`
}

// Snapshot serialises the weights, per-member EMAs, every member's own
// state and the cold-start machine into one envelope.
func (v *Voter) Snapshot() (json.RawMessage, error) {
	learners := make(map[string]json.RawMessage, len(v.members))
	emas := make(map[string]float64, len(v.members))
	for i, m := range v.members {
		sub, err := m.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", m.Name(), err)
		}
		learners[m.Name()] = sub
		emas[m.Name()] = v.emas[i]
	}

	cs, err := v.cold.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot coldstart: %w", err)
	}

	raw, err := json.Marshal(voterSnapshot{
		Version:   snapshotVersion,
		Weights:   v.WeightsMap(),
		Emas:      emas,
		Learners:  learners,
		ColdStart: cs,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ensemble snapshot: %w", err)
	}
	return raw, nil
}

// Restore replaces the voter state from a snapshot. Missing sub-states
// leave that member at its prior; invalid weights fall back to defaults and
// renormalise; a failed member restore keeps the member fresh rather than
// failing the envelope. Envelope-level problems (unparseable JSON, version
// downgrade) are the only hard errors.
func (v *Voter) Restore(raw json.RawMessage) error {
	var snap voterSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal ensemble snapshot: %w", err)
	}
	if snap.Version > snapshotVersion {
		return amaserr.E(amaserr.KindStateCorruption, "ensemble.Voter.Restore",
			fmt.Errorf("snapshot version %d: %w", snap.Version, amaserr.ErrSnapshotDowngrade))
	}

	corrupt := false

	var sum float64
	for i, m := range v.members {
		w, ok := snap.Weights[m.Name()]
		if !ok || math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			if ok {
				corrupt = true
			}
			w = defaultWeightFor(m.Name())
		}
		v.weights[i] = w
		sum += w
	}
	if sum <= 0 {
		corrupt = true
		for i, m := range v.members {
			v.weights[i] = defaultWeightFor(m.Name())
		}
	}
	normaliseWeights(v.weights)

	for i, m := range v.members {
		e := snap.Emas[m.Name()]
		if math.IsNaN(e) || math.IsInf(e, 0) {
			e = 0
			corrupt = true
		}
		v.emas[i] = clampF(e, -1, 1)
	}

	for _, m := range v.members {
		sub, ok := snap.Learners[m.Name()]
		if !ok || len(sub) == 0 {
			continue
		}
		if err := m.Restore(sub); err != nil {
			corrupt = true
			v.log.Warn().Err(err).Str("learner", m.Name()).Msg("member restore failed, keeping prior state")
		}
	}

	if len(snap.ColdStart) > 0 {
		if err := v.cold.Restore(snap.ColdStart); err != nil {
			corrupt = true
			v.log.Warn().Err(err).Msg("coldstart restore failed, keeping prior state")
		}
	}

	if corrupt {
		metrics.StateCorruptions.WithLabelValues("ensemble").Inc()
	}

	v.clearRound()
	metrics.SetEnsembleWeights(v.WeightsMap())
	return nil
}

// normaliseWeights scales the weights to sum one while keeping every entry
// at or above the floor: entries that would fall below it are pinned there
// and the remaining budget is redistributed over the rest.
func normaliseWeights(w []float64) {
	n := len(w)
	if n == 0 {
		return
	}

	var sum float64
	valid := true
	for _, x := range w {
		if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
			valid = false
			break
		}
		sum += x
	}
	if !valid || sum <= 0 {
		for i := range w {
			w[i] = 1 / float64(n)
		}
		return
	}

	pinned := make([]bool, n)
	for {
		budget := 1.0
		var freeSum float64
		free := 0
		for i, x := range w {
			if pinned[i] {
				budget -= minWeight
			} else {
				freeSum += x
				free++
			}
		}

		if freeSum <= 0 {
			for i := range w {
				if !pinned[i] {
					w[i] = budget / float64(free)
				}
			}
		} else {
			scale := budget / freeSum
			for i := range w {
				if !pinned[i] {
					w[i] *= scale
				}
			}
		}

		changed := false
		for i := range w {
			if !pinned[i] && w[i] < minWeight {
				pinned[i] = true
				w[i] = minWeight
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// minMaxNormalise rescales scores to [0, 1]; a flat vector maps to the
// neutral 0.5 everywhere.
func minMaxNormalise(values []float64) []float64 {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	out := make([]float64, len(values))
	if hi-lo < 1e-12 {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func argMax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 { return clampF(v, 0, 1) }
