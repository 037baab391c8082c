// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package gp

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/linalg"
	"github.com/tomtom215/amas/internal/logging"
)

const (
	// maxObservations bounds the GP fit; the kernel solve is O(n^3) and a
	// weekly feed takes years to get here, so hitting the cap only drops
	// ancient evidence.
	maxObservations = 256

	defaultSeed  = 0x414d4153
	suggestLimit = time.Minute
)

// RewardWeightBounds returns the search box for the five reward weights.
// Every weight keeps a floor so no reward component can be optimised away
// entirely.
func RewardWeightBounds() (lower, upper []float64) {
	lower = []float64{0.05, 0.05, 0.05, 0.05, 0.05}
	upper = []float64{0.60, 0.60, 0.60, 0.60, 0.60}
	return lower, upper
}

// Suggester runs one UCB search. The worker pool implements it to move the
// O(n^3) fit off the caller's goroutine; nil falls back to in-process.
type Suggester interface {
	Suggest(ctx context.Context, spec SearchSpec) (Suggestion, error)
}

type localSuggester struct{}

func (localSuggester) Suggest(_ context.Context, spec SearchSpec) (Suggestion, error) {
	return SearchUCB(spec)
}

// Observation is one evaluated hyperparameter point.
type Observation struct {
	Params []float64 `json:"params"`
	Value  float64   `json:"value"`
}

// Optimizer owns the observation history and hands out suggestions. The
// stats tracker records one observation per completed week; Serve ticks on
// the configured interval and refreshes the standing suggestion.
type Optimizer struct {
	mu      sync.Mutex
	obs     []Observation
	dirty   bool
	calls   uint64
	current Suggestion
	hasCur  bool

	lower    []float64
	upper    []float64
	beta     float64
	interval time.Duration
	suggest  Suggester
	log      zerolog.Logger
}

// NewOptimizer validates the parameter box and applies config defaults.
func NewOptimizer(cfg config.OptimizerConfig, lower, upper []float64, s Suggester) (*Optimizer, error) {
	const op = "gp.NewOptimizer"

	if len(lower) == 0 || len(lower) != len(upper) {
		return nil, amaserr.Ef(amaserr.KindInputSanitisation, op,
			"bounds dimension mismatch: lower %d upper %d", len(lower), len(upper))
	}
	for i := range lower {
		if !finite(lower[i]) || !finite(upper[i]) || lower[i] >= upper[i] {
			return nil, amaserr.Ef(amaserr.KindInputSanitisation, op,
				"degenerate bounds at dim %d: [%g, %g]", i, lower[i], upper[i])
		}
	}

	beta := cfg.UCBBeta
	if !finite(beta) || beta <= 0 {
		beta = DefaultBeta
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 168 * time.Hour
	}
	if s == nil {
		s = localSuggester{}
	}

	return &Optimizer{
		lower:    linalg.CloneVector(lower),
		upper:    linalg.CloneVector(upper),
		beta:     beta,
		interval: interval,
		suggest:  s,
		log:      logging.WithComponent("optimizer"),
	}, nil
}

// RecordEvaluation appends one (params, value) observation. Oldest entries
// fall off past the fit cap.
func (o *Optimizer) RecordEvaluation(params []float64, value float64) error {
	const op = "gp.Optimizer.RecordEvaluation"

	if len(params) != len(o.lower) {
		return amaserr.Ef(amaserr.KindInputSanitisation, op,
			"params dimension %d, want %d", len(params), len(o.lower))
	}
	for i, v := range params {
		if !finite(v) {
			return amaserr.Ef(amaserr.KindInputSanitisation, op, "non-finite param at dim %d", i)
		}
	}
	if !finite(value) {
		return amaserr.Ef(amaserr.KindInputSanitisation, op, "non-finite value")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.obs = append(o.obs, Observation{Params: linalg.CloneVector(params), Value: value})
	if len(o.obs) > maxObservations {
		o.obs = o.obs[1:]
	}
	o.dirty = true
	return nil
}

// GetBest returns the observation with the highest value.
func (o *Optimizer) GetBest() (Observation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.obs) == 0 {
		return Observation{}, false
	}
	best := 0
	for i := 1; i < len(o.obs); i++ {
		if o.obs[i].Value > o.obs[best].Value {
			best = i
		}
	}
	return Observation{
		Params: linalg.CloneVector(o.obs[best].Params),
		Value:  o.obs[best].Value,
	}, true
}

// SuggestNext returns the next point to evaluate.
func (o *Optimizer) SuggestNext(ctx context.Context) (Suggestion, error) {
	spec := o.takeSpec()
	sug, err := o.suggest.Suggest(ctx, spec)
	if err != nil {
		return Suggestion{}, err
	}
	o.setCurrent(sug)
	return sug, nil
}

// SuggestBatch returns k diverse points by hallucinating each suggestion's
// posterior mean as an observation before searching for the next one, so
// later searches are pushed away from earlier picks.
func (o *Optimizer) SuggestBatch(ctx context.Context, k int) ([]Suggestion, error) {
	const op = "gp.Optimizer.SuggestBatch"

	if k <= 0 {
		return nil, amaserr.Ef(amaserr.KindInputSanitisation, op, "batch size %d", k)
	}

	spec := o.takeSpec()
	out := make([]Suggestion, 0, k)
	for i := 0; i < k; i++ {
		sug, err := o.suggest.Suggest(ctx, spec)
		if err != nil {
			return nil, err
		}
		out = append(out, sug)

		spec.ObsX = append(spec.ObsX, sug.Point)
		spec.ObsY = append(spec.ObsY, sug.Mean)
		spec.Seed++
	}
	o.setCurrent(out[0])
	return out, nil
}

// Current returns the standing suggestion from the last search, if any.
func (o *Optimizer) Current() (Suggestion, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current, o.hasCur
}

// Observations reports the fit size.
func (o *Optimizer) Observations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.obs)
}

// Serve refreshes the standing suggestion each interval when new
// observations arrived since the last search. Suture service.
func (o *Optimizer) Serve(ctx context.Context) error {
	o.log.Info().
		Dur("interval", o.interval).
		Float64("beta", o.beta).
		Msg("optimizer starting")

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// String names the service in supervisor logs.
func (o *Optimizer) String() string { return "gp-optimizer" }

func (o *Optimizer) tick(ctx context.Context) {
	o.mu.Lock()
	dirty, n := o.dirty, len(o.obs)
	o.mu.Unlock()

	if !dirty {
		o.log.Debug().Int("observations", n).Msg("no new observations, skipping search")
		return
	}

	sctx, cancel := context.WithTimeout(ctx, suggestLimit)
	defer cancel()

	sug, err := o.SuggestNext(sctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("suggestion search failed")
		return
	}

	o.mu.Lock()
	o.dirty = false
	o.mu.Unlock()

	o.log.Info().
		Int("observations", n).
		Floats64("point", sug.Point).
		Float64("mean", sug.Mean).
		Float64("std", sug.Std).
		Msg("new hyperparameter suggestion")
}

// takeSpec snapshots the observation set into a search spec. Copies, so the
// search can run unlocked and batch callers can hallucinate freely.
func (o *Optimizer) takeSpec() SearchSpec {
	o.mu.Lock()
	defer o.mu.Unlock()

	xs := make([][]float64, len(o.obs))
	ys := make([]float64, len(o.obs))
	for i, ob := range o.obs {
		xs[i] = linalg.CloneVector(ob.Params)
		ys[i] = ob.Value
	}
	o.calls++

	return SearchSpec{
		ObsX:  xs,
		ObsY:  ys,
		Lower: linalg.CloneVector(o.lower),
		Upper: linalg.CloneVector(o.upper),
		Beta:  o.beta,
		Seed:  defaultSeed + o.calls,
	}
}

func (o *Optimizer) setCurrent(sug Suggestion) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = sug
	o.hasCur = true
}
