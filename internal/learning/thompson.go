// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package learning

import (
	"fmt"
	"math"
	"math/rand/v2"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/metrics"

	"github.com/tomtom215/amas/internal/logging"
)

const thompsonSnapshotVersion = 1

// contextMixPrior controls how fast the contextual posterior takes over
// from the global one: w = clamp(n/(n+20), 0.3, 0.7).
const (
	contextMixPrior = 20.0
	contextMixMin   = 0.3
	contextMixMax   = 0.7
)

// Default PCG seed. Per-user instances get distinct seeds from the engine;
// the constant only anchors tests and bare constructions.
const (
	thompsonSeed1 = 0x414d4153 // arbitrary, stable
	thompsonSeed2 = 0x7473
)

// ThompsonConfig tunes one sampler instance.
type ThompsonConfig struct {
	// Soft selects fractional posterior updates: p = (reward+1)/2 added to
	// α and 1−p to β. Hard mode adds a whole count to one side at the 0.5
	// reward threshold.
	Soft bool

	// ErrorBuckets, RTBuckets and TimeBuckets size the context
	// discretisation grid.
	ErrorBuckets int
	RTBuckets    int
	TimeBuckets  int

	// Seed1 and Seed2 seed the PCG stream. Zero values fall back to the
	// package defaults.
	Seed1, Seed2 uint64
}

// DefaultThompsonConfig returns the production defaults: soft updates over
// a 3×3×3 context grid.
func DefaultThompsonConfig() ThompsonConfig {
	return ThompsonConfig{
		Soft:         true,
		ErrorBuckets: 3,
		RTBuckets:    3,
		TimeBuckets:  3,
	}
}

// betaParams is one Beta(α, β) posterior. The uniform prior is (1, 1).
type betaParams struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

var betaPrior = betaParams{Alpha: 1, Beta: 1}

func (p betaParams) mean() float64 {
	return p.Alpha / (p.Alpha + p.Beta)
}

func (p betaParams) variance() float64 {
	s := p.Alpha + p.Beta
	return p.Alpha * p.Beta / (s * s * (s + 1))
}

// observations is the evidence count beyond the uniform prior. Soft updates
// add exactly one per event, so this equals the per-cell event count.
func (p betaParams) observations() float64 {
	return p.Alpha + p.Beta - 2
}

func (p betaParams) valid() bool {
	return p.Alpha > 0 && p.Beta > 0 &&
		!math.IsInf(p.Alpha, 0) && !math.IsInf(p.Beta, 0) &&
		!math.IsNaN(p.Alpha) && !math.IsNaN(p.Beta)
}

// Thompson is the posterior-sampling bandit: per action key a global
// Beta(α, β), plus one Beta per (action, context-bucket) cell. Selection
// draws from both and mixes them with a weight that grows with contextual
// evidence, so sparse contexts lean on the global posterior.
type Thompson struct {
	cfg ThompsonConfig

	global     map[string]betaParams
	contextual map[string]map[string]betaParams
	updates    uint64

	pcg *rand.PCG
	rng *rand.Rand
	log zerolog.Logger
}

var _ Learner = (*Thompson)(nil)

// NewThompson returns a sampler at the uniform prior.
func NewThompson(cfg ThompsonConfig) *Thompson {
	if cfg.ErrorBuckets < 1 {
		cfg.ErrorBuckets = 3
	}
	if cfg.RTBuckets < 1 {
		cfg.RTBuckets = 3
	}
	if cfg.TimeBuckets < 1 {
		cfg.TimeBuckets = 3
	}
	if cfg.Seed1 == 0 && cfg.Seed2 == 0 {
		cfg.Seed1, cfg.Seed2 = thompsonSeed1, thompsonSeed2
	}

	pcg := rand.NewPCG(cfg.Seed1, cfg.Seed2)
	return &Thompson{
		cfg:        cfg,
		global:     make(map[string]betaParams),
		contextual: make(map[string]map[string]betaParams),
		pcg:        pcg,
		rng:        rand.New(pcg),
		log:        logging.WithComponent("thompson"),
	}
}

// Name implements Learner.
func (t *Thompson) Name() string { return NameThompson }

// UpdateCount is the number of absorbed rewards.
func (t *Thompson) UpdateCount() uint64 { return t.updates }

// contextKey serialises the discretised context cell.
func (t *Thompson) contextKey(ctx core.DecisionContext) string {
	return fmt.Sprintf("e%d:r%d:t%d",
		ctx.ErrorBucket(t.cfg.ErrorBuckets),
		ctx.ResponseTimeBucket(t.cfg.RTBuckets),
		ctx.TimeBucket(t.cfg.TimeBuckets))
}

func (t *Thompson) globalParams(key string) betaParams {
	if p, ok := t.global[key]; ok {
		return p
	}
	return betaPrior
}

func (t *Thompson) contextParams(key, ck string) betaParams {
	if m, ok := t.contextual[key]; ok {
		if p, ok := m[ck]; ok {
			return p
		}
	}
	return betaPrior
}

// Select draws one sample per action from the mixed posterior and returns
// the arg-max. Only the RNG position changes.
func (t *Thompson) Select(_ core.UserState, actions []actionspace.Action, ctx core.DecisionContext) (Scores, error) {
	if len(actions) == 0 {
		return Scores{}, amaserr.Ef(amaserr.KindInputSanitisation, "learning.Thompson.Select", "no candidate actions")
	}

	ck := t.contextKey(ctx)
	values := make([]float64, len(actions))
	weights := make([]float64, len(actions))

	for i, a := range actions {
		key := a.Key()
		g := t.globalParams(key)
		c := t.contextParams(key, ck)

		w := clamp(c.observations()/(c.observations()+contextMixPrior), contextMixMin, contextMixMax)
		weights[i] = w
		values[i] = w*t.sampleBeta(c) + (1-w)*t.sampleBeta(g)
	}

	best := argMax(values)
	bestKey := actions[best].Key()
	g := t.globalParams(bestKey)
	c := t.contextParams(bestKey, ck)
	w := weights[best]

	mean := w*c.mean() + (1-w)*g.mean()
	variance := w*c.variance() + (1-w)*g.variance()

	return Scores{
		Values:       values,
		Best:         best,
		Confidence:   mean * (1 - math.Sqrt(variance)),
		Exploitation: mean,
		Exploration:  values[best] - mean,
	}, nil
}

// Update folds one bounded reward into the global and contextual
// posteriors. Non-finite rewards are a contractual no-op.
func (t *Thompson) Update(_ core.UserState, action actionspace.Action, reward float64, ctx core.DecisionContext) error {
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		metrics.SanitisedInputs.WithLabelValues("reward").Inc()
		t.log.Warn().Float64("reward", reward).Msg("non-finite reward skipped")
		return nil
	}
	reward = clamp(reward, -1, 1)

	var da, db float64
	if t.cfg.Soft {
		p := (reward + 1) / 2
		da, db = p, 1-p
	} else if reward >= 0.5 {
		da = 1
	} else {
		db = 1
	}

	key := action.Key()
	ck := t.contextKey(ctx)

	g := t.globalParams(key)
	g.Alpha += da
	g.Beta += db
	t.global[key] = g

	m, ok := t.contextual[key]
	if !ok {
		m = make(map[string]betaParams)
		t.contextual[key] = m
	}
	c, ok := m[ck]
	if !ok {
		c = betaPrior
	}
	c.Alpha += da
	c.Beta += db
	m[ck] = c

	t.updates++
	return nil
}

// sampleBeta draws Beta(α, β) as X/(X+Y) from two Gamma draws.
func (t *Thompson) sampleBeta(p betaParams) float64 {
	x := t.sampleGamma(p.Alpha)
	y := t.sampleGamma(p.Beta)
	sum := x + y
	if sum <= 0 || math.IsNaN(sum) {
		return 0.5
	}
	return x / sum
}

// sampleGamma draws Gamma(shape, 1) with the Marsaglia–Tsang squeeze.
// Shapes below 1 use the U^(1/α) boost on a shape+1 draw.
func (t *Thompson) sampleGamma(shape float64) float64 {
	if shape <= 0 || math.IsNaN(shape) {
		return 0
	}
	if shape < 1 {
		u := t.rng.Float64()
		if u <= 0 {
			u = math.SmallestNonzeroFloat64
		}
		return t.sampleGamma(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := t.rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := t.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

type thompsonSnapshot struct {
	Version    int                              `json:"version"`
	Global     map[string]betaParams            `json:"global"`
	Contextual map[string]map[string]betaParams `json:"contextual"`
	Updates    uint64                           `json:"updates"`

	// RNG is the marshalled PCG position. Restoring it makes a restored
	// sampler continue the exact draw sequence of the original, which is
	// what keeps a snapshot/restore cycle equivalent to an uninterrupted
	// run.
	RNG []byte `json:"rng,omitempty"`
}

// Snapshot implements Learner.
func (t *Thompson) Snapshot() (json.RawMessage, error) {
	rng, err := t.pcg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal thompson rng: %w", err)
	}
	raw, err := json.Marshal(thompsonSnapshot{
		Version:    thompsonSnapshotVersion,
		Global:     t.global,
		Contextual: t.contextual,
		Updates:    t.updates,
		RNG:        rng,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal thompson snapshot: %w", err)
	}
	return raw, nil
}

// Restore replaces the posterior maps. Version downgrades are rejected;
// entries with non-positive or non-finite parameters are dropped back to
// the prior individually rather than poisoning the whole model.
func (t *Thompson) Restore(raw json.RawMessage) error {
	var snap thompsonSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("unmarshal thompson snapshot: %w", err)
	}
	if snap.Version > thompsonSnapshotVersion {
		return amaserr.E(amaserr.KindStateCorruption, "learning.Thompson.Restore",
			fmt.Errorf("snapshot version %d: %w", snap.Version, amaserr.ErrSnapshotDowngrade))
	}

	dropped := 0
	global := make(map[string]betaParams, len(snap.Global))
	for key, p := range snap.Global {
		if !p.valid() {
			dropped++
			continue
		}
		global[key] = p
	}

	contextual := make(map[string]map[string]betaParams, len(snap.Contextual))
	for key, cells := range snap.Contextual {
		m := make(map[string]betaParams, len(cells))
		for ck, p := range cells {
			if !p.valid() {
				dropped++
				continue
			}
			m[ck] = p
		}
		if len(m) > 0 {
			contextual[key] = m
		}
	}

	if dropped > 0 {
		metrics.StateCorruptions.WithLabelValues("thompson").Inc()
		t.log.Warn().Int("dropped", dropped).Msg("invalid beta parameters dropped from snapshot")
	}

	if len(snap.RNG) > 0 {
		if err := t.pcg.UnmarshalBinary(snap.RNG); err != nil {
			metrics.StateCorruptions.WithLabelValues("thompson").Inc()
			t.log.Warn().Err(err).Msg("invalid rng state in snapshot, reseeding")
			t.reseed()
		}
	} else {
		t.reseed()
	}

	t.global = global
	t.contextual = contextual
	t.updates = snap.Updates
	return nil
}

func (t *Thompson) reseed() {
	t.pcg = rand.NewPCG(t.cfg.Seed1, t.cfg.Seed2)
	t.rng = rand.New(t.pcg)
}
