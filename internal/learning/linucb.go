// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package learning

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/linalg"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
)

// linucbSnapshotVersion is the persisted format version. Snapshots written
// by a newer engine are rejected, never reinterpreted.
const linucbSnapshotVersion = 1

// Alpha schedule thresholds. Fresh models explore gently (the ridge prior
// already spreads selections), mid-life models explore hard while the user
// is demonstrably coping, mature models settle down.
const (
	alphaWarmupUpdates = 15
	alphaMidUpdates    = 50

	alphaWarmup     = 0.5
	alphaMidCoping  = 2.0
	alphaMidDefault = 1.0
	alphaMature     = 0.7

	copingAccuracy = 0.75
	copingFatigue  = 0.5
)

// LinUCBConfig tunes one bandit instance.
type LinUCBConfig struct {
	// Alpha scales the exploration schedule. 1.0 uses the schedule values
	// as-is.
	Alpha float64

	// Lambda is the ridge prior on the design matrix. Must be positive.
	Lambda float64

	// Dim is the feature dimension. Must match the frozen layout.
	Dim int
}

// DefaultLinUCBConfig returns the production defaults.
func DefaultLinUCBConfig() LinUCBConfig {
	return LinUCBConfig{Alpha: 1.0, Lambda: 1.0, Dim: FeatureDim}
}

// LinUCB is the disjoint-model contextual bandit: a single ridge regression
// over (state, action, context) features shared by all arms, with a UCB
// exploration bonus from the Cholesky factor of the design matrix.
//
// The factor L is maintained incrementally by rank-1 updates and re-derived
// from A whenever an update is abandoned as unstable, so L·Lᵀ = A holds
// within tolerance between updates.
type LinUCB struct {
	alpha  float64
	lambda float64
	dim    int

	a       [][]float64 // design matrix, symmetric positive-definite
	b       []float64   // reward-weighted feature sum
	l       [][]float64 // lower Cholesky factor of a
	updates uint64

	log zerolog.Logger
}

var _ Learner = (*LinUCB)(nil)

// NewLinUCB returns a bandit at the ridge prior: A = λI, b = 0, L = √λ·I.
func NewLinUCB(cfg LinUCBConfig) *LinUCB {
	if cfg.Alpha <= 0 {
		cfg.Alpha = 1.0
	}
	if cfg.Lambda <= 0 {
		cfg.Lambda = 1.0
	}
	if cfg.Dim <= 0 {
		cfg.Dim = FeatureDim
	}

	return &LinUCB{
		alpha:   cfg.Alpha,
		lambda:  cfg.Lambda,
		dim:     cfg.Dim,
		a:       linalg.Identity(cfg.Dim, cfg.Lambda),
		b:       make([]float64, cfg.Dim),
		l:       linalg.Identity(cfg.Dim, math.Sqrt(cfg.Lambda)),
		updates: 0,
		log:     logging.WithComponent("linucb"),
	}
}

// Name implements Learner.
func (lm *LinUCB) Name() string { return NameLinUCB }

// UpdateCount is the number of absorbed rewards.
func (lm *LinUCB) UpdateCount() uint64 { return lm.updates }

// Lambda is the ridge prior the model was built with. Offloaded updates
// need it to re-decompose on the worker side.
func (lm *LinUCB) Lambda() float64 { return lm.lambda }

// EffectiveAlpha is the scheduled exploration multiplier for the current
// model age, scaled by the configured base alpha.
func (lm *LinUCB) EffectiveAlpha(state core.UserState, ctx core.DecisionContext) float64 {
	var scheduled float64
	switch {
	case lm.updates < alphaWarmupUpdates:
		scheduled = alphaWarmup
	case lm.updates < alphaMidUpdates:
		accuracy := 1 - clamp(ctx.RecentErrorRate, 0, 1)
		if accuracy > copingAccuracy && state.Fatigue < copingFatigue {
			scheduled = alphaMidCoping
		} else {
			scheduled = alphaMidDefault
		}
	default:
		scheduled = alphaMature
	}
	return lm.alpha * scheduled
}

// Select scores every candidate as xᵀθ + α·width and returns the arg-max.
// The learner is not mutated.
func (lm *LinUCB) Select(state core.UserState, actions []actionspace.Action, ctx core.DecisionContext) (Scores, error) {
	if len(actions) == 0 {
		return Scores{}, amaserr.Ef(amaserr.KindInputSanitisation, "learning.LinUCB.Select", "no candidate actions")
	}

	xs := BuildFeatureMatrix(state, actions, ctx)
	sel, err := SelectVectors(lm.l, lm.b, lm.EffectiveAlpha(state, ctx), xs)
	if err != nil {
		return Scores{}, err
	}

	return Scores{
		Values:       sel.Values,
		Best:         sel.Best,
		Confidence:   sel.Width,
		Exploitation: sel.Exploitation,
		Exploration:  sel.Exploration,
	}, nil
}

// Update folds one bounded reward into the model. Non-finite rewards are a
// contractual no-op: nothing changes, including the update counter.
func (lm *LinUCB) Update(state core.UserState, action actionspace.Action, reward float64, ctx core.DecisionContext) error {
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		metrics.SanitisedInputs.WithLabelValues("reward").Inc()
		lm.log.Warn().Float64("reward", reward).Msg("non-finite reward skipped")
		return nil
	}
	reward = clamp(reward, -1, 1)

	x := BuildFeatures(state, action, ctx)
	return lm.updateVector(x, reward)
}

// updateVector applies one (feature, reward) pair. On an abandoned rank-1
// update it re-decomposes from the full design matrix; if that also fails
// the model resets to the ridge prior and the failure is absorbed.
func (lm *LinUCB) updateVector(x []float64, reward float64) error {
	rank1, err := UpdateVectors(lm.a, lm.l, lm.b, x, reward, lm.lambda)
	if err != nil {
		lm.log.Error().Err(err).Msg("full re-decomposition failed, resetting bandit to ridge prior")
		lm.Reset()
		return nil
	}
	if !rank1 {
		lm.log.Warn().Uint64("updates", lm.updates).Msg("rank-1 factor update abandoned, re-decomposed from design matrix")
	}
	lm.updates++
	return nil
}

// Reset drops the model back to the ridge prior and marks it for
// re-training (the alpha schedule restarts).
func (lm *LinUCB) Reset() {
	lm.a = linalg.Identity(lm.dim, lm.lambda)
	lm.b = make([]float64, lm.dim)
	lm.l = linalg.Identity(lm.dim, math.Sqrt(lm.lambda))
	lm.updates = 0
	metrics.BanditResets.Inc()
}

// ExportState deep-copies the numeric state for offloaded selection or
// updates. Workers operate on the copies; ImportState writes results back.
func (lm *LinUCB) ExportState() (a, chol [][]float64, b []float64, updates uint64) {
	return linalg.CloneMatrix(lm.a), linalg.CloneMatrix(lm.l), linalg.CloneVector(lm.b), lm.updates
}

// ImportState replaces the numeric state, typically with matrices a worker
// produced from an ExportState copy. Shapes must match the model dimension.
func (lm *LinUCB) ImportState(a, chol [][]float64, b []float64, updates uint64) error {
	if len(a) != lm.dim || len(chol) != lm.dim || len(b) != lm.dim {
		return amaserr.E(amaserr.KindStateCorruption, "learning.LinUCB.ImportState", amaserr.ErrDimensionMismatch)
	}
	lm.a = linalg.CloneMatrix(a)
	lm.l = linalg.CloneMatrix(chol)
	lm.b = linalg.CloneVector(b)
	lm.updates = updates
	return nil
}

type linucbSnapshot struct {
	Version int         `json:"version"`
	Dim     int         `json:"dim"`
	Alpha   float64     `json:"alpha"`
	Lambda  float64     `json:"lambda"`
	A       [][]float64 `json:"a"`
	B       []float64   `json:"b"`
	L       [][]float64 `json:"l"`
	Updates uint64      `json:"updates"`
}

// Snapshot implements Learner.
func (lm *LinUCB) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(linucbSnapshot{
		Version: linucbSnapshotVersion,
		Dim:     lm.dim,
		Alpha:   lm.alpha,
		Lambda:  lm.lambda,
		A:       lm.a,
		B:       lm.b,
		L:       lm.l,
		Updates: lm.updates,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal linucb snapshot: %w", err)
	}
	return raw, nil
}

// Restore replaces the model from a snapshot. Version downgrades are
// rejected and leave the model unchanged. A snapshot with a smaller
// dimension migrates by copying the upper-left block of A and the prefix of
// b, then re-decomposing; a larger dimension, malformed shapes, or a design
// matrix that cannot be factorised all drop the model to the ridge prior
// with a warning instead of failing the restore.
func (lm *LinUCB) Restore(raw json.RawMessage) error {
	var snap linucbSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal linucb snapshot: %w", err)
	}
	if snap.Version > linucbSnapshotVersion {
		return amaserr.E(amaserr.KindStateCorruption, "learning.LinUCB.Restore",
			fmt.Errorf("snapshot version %d: %w", snap.Version, amaserr.ErrSnapshotDowngrade))
	}

	if snap.Alpha > 0 && !math.IsInf(snap.Alpha, 0) && !math.IsNaN(snap.Alpha) {
		lm.alpha = snap.Alpha
	}
	if snap.Lambda > 0 && !math.IsInf(snap.Lambda, 0) && !math.IsNaN(snap.Lambda) {
		lm.lambda = snap.Lambda
	}

	switch {
	case snap.Dim == lm.dim:
		if !lm.adoptDesign(snap.A, snap.B, snap.Dim) {
			return nil
		}
	case snap.Dim > 0 && snap.Dim < lm.dim:
		lm.log.Info().Int("from", snap.Dim).Int("to", lm.dim).Msg("migrating bandit snapshot to larger feature dimension")
		a := linalg.Identity(lm.dim, lm.lambda)
		b := make([]float64, lm.dim)
		if len(snap.A) == snap.Dim && len(snap.B) == snap.Dim {
			for i := 0; i < snap.Dim; i++ {
				if len(snap.A[i]) == snap.Dim {
					copy(a[i][:snap.Dim], snap.A[i])
				}
			}
			copy(b, snap.B)
		}
		if !lm.adoptDesign(a, b, lm.dim) {
			return nil
		}
	default:
		lm.corruptReset("snapshot dimension unusable", snap.Dim)
		return nil
	}

	lm.updates = snap.Updates
	return nil
}

// adoptDesign installs a design matrix and reward vector if the matrix
// factorises; otherwise the model resets and false is returned.
func (lm *LinUCB) adoptDesign(a [][]float64, b []float64, d int) bool {
	if len(a) != d || len(b) != d {
		lm.corruptReset("snapshot shape mismatch", d)
		return false
	}
	for i := range a {
		if len(a[i]) != d {
			lm.corruptReset("snapshot row length mismatch", d)
			return false
		}
	}

	candidate := linalg.CloneMatrix(a)
	chol, err := linalg.Cholesky(candidate, d, lm.lambda)
	if err != nil {
		lm.corruptReset("snapshot design matrix not factorisable", d)
		return false
	}

	lm.a = candidate
	lm.b = linalg.CloneVector(b)
	lm.l = chol
	return true
}

func (lm *LinUCB) corruptReset(reason string, dim int) {
	metrics.StateCorruptions.WithLabelValues("bandit").Inc()
	lm.log.Warn().Str("reason", reason).Int("snapshot_dim", dim).Msg("bandit snapshot rejected, resetting to ridge prior")
	lm.Reset()
}

// VectorSelection is the result of scoring prebuilt feature vectors, the
// shape shared by in-process selection and the worker protocol.
type VectorSelection struct {
	// Values holds one UCB score per input vector.
	Values []float64

	// Best is the arg-max index; ties break by first occurrence.
	Best int

	// Exploitation, Exploration and Width decompose the best score:
	// exploitation = xᵀθ, exploration = α·width.
	Exploitation float64
	Exploration  float64
	Width        float64
}

// SelectVectors scores feature vectors against a factor/reward pair without
// touching any learner state. Vectors are sanitised in place (NaN/Inf → 0,
// |xᵢ| clamped to the feature bound) before scoring.
func SelectVectors(chol [][]float64, b []float64, alpha float64, xs [][]float64) (VectorSelection, error) {
	d := len(b)
	if len(chol) != d {
		return VectorSelection{}, amaserr.E(amaserr.KindStateCorruption, "learning.SelectVectors", amaserr.ErrDimensionMismatch)
	}
	if len(xs) == 0 {
		return VectorSelection{}, amaserr.Ef(amaserr.KindInputSanitisation, "learning.SelectVectors", "no feature vectors")
	}

	theta := linalg.SolveCholesky(chol, b)

	sel := VectorSelection{Values: make([]float64, len(xs))}
	var bestWidth, bestExploit float64
	for i, x := range xs {
		if len(x) != d {
			return VectorSelection{}, amaserr.E(amaserr.KindStateCorruption, "learning.SelectVectors", amaserr.ErrDimensionMismatch)
		}
		if fixed := linalg.SanitizeVector(x); fixed > 0 {
			metrics.SanitisedInputs.WithLabelValues("feature_vector").Add(float64(fixed))
		}

		exploit := linalg.Dot(x, theta)
		width := linalg.ConfidenceWidth(chol, x)
		sel.Values[i] = exploit + alpha*width

		if i == 0 || sel.Values[i] > sel.Values[sel.Best] {
			sel.Best = i
			bestExploit, bestWidth = exploit, width
		}
	}

	sel.Exploitation = bestExploit
	sel.Exploration = alpha * bestWidth
	sel.Width = bestWidth
	return sel, nil
}

// UpdateVectors applies one (feature, reward) pair to a design matrix,
// reward vector and factor in place: b += reward·x, A += xxᵀ, then a rank-1
// factor update with full re-decomposition as the fallback. Returns whether
// the rank-1 path held. An error means even the fallback failed; A and b
// carry the new observation but chol is stale, and the caller must reset or
// discard the triple.
//
// The reward must already be finite and bounded; x is sanitised in place.
func UpdateVectors(a, chol [][]float64, b, x []float64, reward, lambda float64) (bool, error) {
	d := len(b)
	if len(a) != d || len(chol) != d || len(x) != d {
		return false, amaserr.E(amaserr.KindStateCorruption, "learning.UpdateVectors", amaserr.ErrDimensionMismatch)
	}

	if fixed := linalg.SanitizeVector(x); fixed > 0 {
		metrics.SanitisedInputs.WithLabelValues("feature_vector").Add(float64(fixed))
	}

	linalg.AddScaled(b, x, reward)
	linalg.AddOuterProduct(a, x)

	if err := linalg.CholeskyRank1Update(chol, x, d, linalg.MinDiagFor(lambda)); err == nil {
		return true, nil
	}
	metrics.CholeskyRank1Failures.Inc()

	fresh, err := linalg.Cholesky(a, d, lambda)
	if err != nil {
		return false, err
	}
	for i := range chol {
		copy(chol[i], fresh[i])
	}
	return false, nil
}
