// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package gp maintains a Gaussian process over observed (hyperparameter,
// weekly score) pairs and suggests the next point to evaluate. It runs as a
// background advisor off the event path: the stats tracker records one
// observation per completed week and the Optimizer ticks on a long interval.
//
// The search core (SearchUCB) is a pure function over plain float64 arrays
// so the worker pool can run it without touching optimizer state.
package gp

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"

	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/linalg"
)

const (
	// DefaultBeta is the UCB exploration coefficient mu + beta*sigma.
	DefaultBeta = 2.0

	// noiseRatio scales the jitter added to the kernel diagonal relative
	// to the signal variance. Weekly scores are aggregate means, so the
	// observation noise is small but never zero.
	noiseRatio = 1e-4

	// gridBudget caps the full-factorial candidate grid. Five reward
	// weights at three levels each is 243; higher-dimensional boxes fall
	// back to random probes alone.
	gridBudget   = 243
	randomProbes = 64

	// descentSeeds is how many of the best probe points seed the
	// coordinate-descent refinement.
	descentSeeds = 3
	descentIters = 60
)

// SearchSpec is the input to one UCB search: the observation set, the
// parameter box, and the exploration coefficient. Plain arrays only, so the
// spec can cross the worker-pool boundary.
type SearchSpec struct {
	ObsX  [][]float64 `json:"obs_x"`
	ObsY  []float64   `json:"obs_y"`
	Lower []float64   `json:"lower"`
	Upper []float64   `json:"upper"`
	Beta  float64     `json:"beta"`
	Seed  uint64      `json:"seed"`
}

// Suggestion is the point maximising the UCB acquisition, with the
// posterior mean and standard deviation at that point.
type Suggestion struct {
	Point       []float64 `json:"point"`
	Acquisition float64   `json:"acquisition"`
	Mean        float64   `json:"mean"`
	Std         float64   `json:"std"`
}

// SearchUCB fits a Matérn-5/2 GP to the observations and maximises
// mu + beta*sigma over the box by grid probing, seeded random probing and
// coordinate descent. With no observations it returns the box midpoint
// under the prior. Deterministic for a given spec.
func SearchUCB(spec SearchSpec) (Suggestion, error) {
	const op = "gp.SearchUCB"

	d := len(spec.Lower)
	if d == 0 || len(spec.Upper) != d {
		return Suggestion{}, amaserr.Ef(amaserr.KindInputSanitisation, op,
			"bounds dimension mismatch: lower %d upper %d", d, len(spec.Upper))
	}
	for i := 0; i < d; i++ {
		lo, hi := spec.Lower[i], spec.Upper[i]
		if !finite(lo) || !finite(hi) || lo >= hi {
			return Suggestion{}, amaserr.Ef(amaserr.KindInputSanitisation, op,
				"degenerate bounds at dim %d: [%g, %g]", i, lo, hi)
		}
	}
	if len(spec.ObsX) != len(spec.ObsY) {
		return Suggestion{}, amaserr.Ef(amaserr.KindInputSanitisation, op,
			"observation mismatch: %d points, %d values", len(spec.ObsX), len(spec.ObsY))
	}
	for i, x := range spec.ObsX {
		if len(x) != d {
			return Suggestion{}, amaserr.Ef(amaserr.KindInputSanitisation, op,
				"observation %d has dimension %d, want %d", i, len(x), d)
		}
		for _, v := range x {
			if !finite(v) {
				return Suggestion{}, amaserr.Ef(amaserr.KindInputSanitisation, op,
					"observation %d contains a non-finite coordinate", i)
			}
		}
		if !finite(spec.ObsY[i]) {
			return Suggestion{}, amaserr.Ef(amaserr.KindInputSanitisation, op,
				"observation %d has a non-finite value", i)
		}
	}

	beta := spec.Beta
	if !finite(beta) || beta <= 0 {
		beta = DefaultBeta
	}

	if len(spec.ObsX) == 0 {
		mid := make([]float64, d)
		for i := range mid {
			mid[i] = (spec.Lower[i] + spec.Upper[i]) / 2
		}
		return Suggestion{Point: mid, Mean: 0, Std: 1, Acquisition: beta}, nil
	}

	post, err := fit(spec.ObsX, spec.ObsY, spec.Lower, spec.Upper)
	if err != nil {
		return Suggestion{}, err
	}

	seeds := probe(post, spec, beta)
	if len(seeds) == 0 {
		return Suggestion{}, amaserr.Ef(amaserr.KindNumericInstability, op,
			"acquisition non-finite everywhere over %d observations", len(spec.ObsX))
	}
	best, bestAcq := seeds[0], math.Inf(-1)
	for _, s := range seeds {
		pt, acq := post.descend(s, spec.Lower, spec.Upper, beta)
		if acq > bestAcq {
			best, bestAcq = pt, acq
		}
	}

	mean, std := post.predict(best)
	return Suggestion{Point: best, Acquisition: bestAcq, Mean: mean, Std: std}, nil
}

// posterior is a fitted GP: the training inputs, kernel hyperparameters and
// the Cholesky factor of the noisy kernel matrix.
type posterior struct {
	xs     [][]float64
	ell    []float64
	sigma2 float64
	chol   [][]float64
	alpha  []float64 // (K + noise*I)^-1 (y - mean0)
	mean0  float64
}

// fit builds the posterior. Length scales default to a quarter of each box
// width and the signal variance to the sample variance of the values. A
// singular kernel (duplicate points) is retried with growing jitter.
func fit(xs [][]float64, ys []float64, lower, upper []float64) (*posterior, error) {
	n := len(xs)
	d := len(lower)

	ell := make([]float64, d)
	for i := 0; i < d; i++ {
		ell[i] = (upper[i] - lower[i]) / 4
	}

	sigma2 := 1.0
	if n >= 2 {
		if v := stat.Variance(ys, nil); finite(v) && v > 1e-9 {
			sigma2 = v
		}
	}
	mean0 := stat.Mean(ys, nil)

	noise := sigma2 * noiseRatio
	var chol [][]float64
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		k := linalg.NewMatrix(n)
		for i := 0; i < n; i++ {
			for j := 0; j <= i; j++ {
				v := linalg.Matern52(xs[i], xs[j], ell, sigma2)
				k[i][j] = v
				k[j][i] = v
			}
			k[i][i] += noise
		}
		chol, err = linalg.Cholesky(k, n, noise)
		if err == nil {
			break
		}
		noise *= 100
	}
	if err != nil {
		return nil, err
	}

	resid := make([]float64, n)
	for i := range ys {
		resid[i] = ys[i] - mean0
	}

	return &posterior{
		xs:     xs,
		ell:    ell,
		sigma2: sigma2,
		chol:   chol,
		alpha:  linalg.SolveCholesky(chol, resid),
		mean0:  mean0,
	}, nil
}

// predict returns the posterior mean and standard deviation at x.
func (p *posterior) predict(x []float64) (float64, float64) {
	n := len(p.xs)
	k := make([]float64, n)
	for i := 0; i < n; i++ {
		k[i] = linalg.Matern52(p.xs[i], x, p.ell, p.sigma2)
	}

	mean := p.mean0 + linalg.Dot(k, p.alpha)

	v := linalg.ForwardSolve(p.chol, k)
	variance := p.sigma2 - linalg.Dot(v, v)
	if !finite(variance) || variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

func (p *posterior) acquisition(x []float64, beta float64) float64 {
	mean, std := p.predict(x)
	return mean + beta*std
}

// probe evaluates the acquisition on a coarse grid plus seeded random
// points and returns the descentSeeds best as refinement starts.
func probe(post *posterior, spec SearchSpec, beta float64) [][]float64 {
	d := len(spec.Lower)
	top := newTopK(descentSeeds)

	levels := gridLevels(d)
	if levels >= 2 {
		idx := make([]int, d)
		pt := make([]float64, d)
		for {
			for i := 0; i < d; i++ {
				frac := float64(idx[i]) / float64(levels-1)
				pt[i] = spec.Lower[i] + frac*(spec.Upper[i]-spec.Lower[i])
			}
			top.push(linalg.CloneVector(pt), post.acquisition(pt, beta))

			i := 0
			for ; i < d; i++ {
				idx[i]++
				if idx[i] < levels {
					break
				}
				idx[i] = 0
			}
			if i == d {
				break
			}
		}
	}

	rng := rand.New(rand.NewPCG(spec.Seed, spec.Seed^0x9e3779b97f4a7c15))
	pt := make([]float64, d)
	for i := 0; i < randomProbes; i++ {
		for j := 0; j < d; j++ {
			pt[j] = spec.Lower[j] + rng.Float64()*(spec.Upper[j]-spec.Lower[j])
		}
		top.push(linalg.CloneVector(pt), post.acquisition(pt, beta))
	}

	return top.points()
}

// gridLevels picks the largest per-dimension level count whose full grid
// stays within gridBudget, or 0 when even two levels overflow.
func gridLevels(d int) int {
	for levels := 5; levels >= 2; levels-- {
		total := 1
		for i := 0; i < d; i++ {
			total *= levels
			if total > gridBudget {
				total = -1
				break
			}
		}
		if total > 0 {
			return levels
		}
	}
	return 0
}

// descend refines a seed by shrinking-step coordinate descent: try a step
// up and down each coordinate, keep any improvement, halve the steps when a
// full sweep stalls.
func (p *posterior) descend(seed []float64, lower, upper []float64, beta float64) ([]float64, float64) {
	d := len(seed)
	cur := linalg.CloneVector(seed)
	best := p.acquisition(cur, beta)

	steps := make([]float64, d)
	floors := make([]float64, d)
	for i := 0; i < d; i++ {
		width := upper[i] - lower[i]
		steps[i] = width / 8
		floors[i] = width * 1e-3
	}

	for iter := 0; iter < descentIters; iter++ {
		improved := false
		for i := 0; i < d; i++ {
			for _, dir := range [2]float64{1, -1} {
				cand := clampTo(cur[i]+dir*steps[i], lower[i], upper[i])
				if cand == cur[i] {
					continue
				}
				prev := cur[i]
				cur[i] = cand
				if acq := p.acquisition(cur, beta); acq > best {
					best = acq
					improved = true
					break
				}
				cur[i] = prev
			}
		}
		if !improved {
			done := true
			for i := 0; i < d; i++ {
				steps[i] /= 2
				if steps[i] >= floors[i] {
					done = false
				}
			}
			if done {
				break
			}
		}
	}
	return cur, best
}

// topK keeps the k highest-scoring points seen so far in a score-ordered
// min-heap: the root is the weakest survivor, so a stronger candidate
// replaces it and sifts down.
type topK struct {
	k      int
	pts    [][]float64
	scores []float64
}

func newTopK(k int) *topK {
	return &topK{k: k}
}

func (t *topK) push(pt []float64, score float64) {
	if !finite(score) {
		return
	}
	if len(t.pts) < t.k {
		t.pts = append(t.pts, pt)
		t.scores = append(t.scores, score)
		t.up(len(t.pts) - 1)
		return
	}
	if score <= t.scores[0] {
		return
	}
	t.pts[0] = pt
	t.scores[0] = score
	t.down(0)
}

// points returns the survivors ordered best first.
func (t *topK) points() [][]float64 {
	out := make([][]float64, len(t.pts))
	order := make([]int, len(t.pts))
	for i := range order {
		order[i] = i
	}
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if t.scores[order[j]] > t.scores[order[i]] {
				order[i], order[j] = order[j], order[i]
			}
		}
	}
	for i, idx := range order {
		out[i] = t.pts[idx]
	}
	return out
}

func (t *topK) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if t.scores[i] >= t.scores[parent] {
			break
		}
		t.swap(i, parent)
		i = parent
	}
}

func (t *topK) down(i int) {
	n := len(t.pts)
	for {
		smallest := i
		if l := 2*i + 1; l < n && t.scores[l] < t.scores[smallest] {
			smallest = l
		}
		if r := 2*i + 2; r < n && t.scores[r] < t.scores[smallest] {
			smallest = r
		}
		if smallest == i {
			return
		}
		t.swap(i, smallest)
		i = smallest
	}
}

func (t *topK) swap(i, j int) {
	t.pts[i], t.pts[j] = t.pts[j], t.pts[i]
	t.scores[i], t.scores[j] = t.scores[j], t.scores[i]
}

func clampTo(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
