// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package linalg is the numeric kernel under the bandit ensemble and the
// Gaussian-process optimiser: Cholesky factorisation, rank-1 factor updates,
// triangular solves, the Matérn-5/2 kernel, and the sanitisation rules every
// feature vector passes through before touching a model.
//
// Everything operates on plain []float64 / [][]float64 in double precision.
// Functions are pure unless documented otherwise, deterministic given their
// inputs, and allocation-lean: the hot path (one LinUCB update) performs one
// factor clone and nothing else.
//
// # Failure discipline
//
// Numeric failure is a value, not a panic. A rank-1 update that would
// destabilise the factor abandons the attempt, leaves the input untouched,
// and reports amaserr.ErrRank1Failed so the caller can re-decompose from the
// full covariance. Cholesky self-heals small or non-finite diagonal sums by
// substituting max(lambda, eps)+eps and only errors when healing cannot
// produce a finite factor.
package linalg

import (
	"math"

	"github.com/tomtom215/amas/internal/amaserr"
)

const (
	// EpsDiv floors every triangular-solve divisor.
	EpsDiv = 1e-10

	// MaxMagnitude bounds any value a rank-1 update may produce; beyond it
	// the update is abandoned as numerically unstable.
	MaxMagnitude = 1e12

	// MaxFeatureAbs clamps feature vector entries on ingress.
	MaxFeatureAbs = 50.0

	// DiagMin and DiagMax bound acceptable Cholesky diagonals; outside this
	// range the factor is rejected rather than trusted.
	DiagMin = 1e-6
	DiagMax = 1e9
)

// MinDiagFor returns the smallest acceptable factor diagonal for a model
// with ridge lambda: max(lambda*1e-2, 1e-6).
func MinDiagFor(lambda float64) float64 {
	return math.Max(lambda*1e-2, DiagMin)
}

// NewMatrix allocates a d x d zero matrix.
func NewMatrix(d int) [][]float64 {
	m := make([][]float64, d)
	for i := range m {
		m[i] = make([]float64, d)
	}
	return m
}

// Identity returns lambda * I of size d.
func Identity(d int, lambda float64) [][]float64 {
	m := NewMatrix(d)
	for i := 0; i < d; i++ {
		m[i][i] = lambda
	}
	return m
}

// CloneMatrix deep-copies a square matrix.
func CloneMatrix(a [][]float64) [][]float64 {
	out := make([][]float64, len(a))
	for i, row := range a {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}
	return out
}

// CloneVector copies a vector.
func CloneVector(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// Symmetrise forces A onto its symmetric part in place:
// A[i][j] = A[j][i] = (A[i][j]+A[j][i])/2, with NaN/Inf entries zeroed first.
func Symmetrise(a [][]float64) {
	d := len(a)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			if !isFinite(a[i][j]) {
				a[i][j] = 0
			}
		}
	}
	for i := 0; i < d; i++ {
		for j := i + 1; j < d; j++ {
			avg := (a[i][j] + a[j][i]) / 2
			a[i][j] = avg
			a[j][i] = avg
		}
	}
}

// Cholesky factorises the symmetric positive-definite matrix A into the
// lower-triangular L with L*L^T = A (Cholesky-Banachiewicz). A is
// symmetrised in place first; NaN/Inf entries are zeroed. A diagonal sum
// that is non-finite or <= EpsDiv is healed to max(lambda, EpsDiv)+EpsDiv.
// Returns an error of kind NumericInstability wrapping
// amaserr.ErrNonPositiveDefinite when healing still cannot produce a finite
// factor in [DiagMin, DiagMax].
func Cholesky(a [][]float64, d int, lambda float64) ([][]float64, error) {
	if len(a) != d {
		return nil, amaserr.E(amaserr.KindNumericInstability, "linalg.Cholesky", amaserr.ErrDimensionMismatch)
	}
	Symmetrise(a)

	l := NewMatrix(d)
	heal := math.Max(lambda, EpsDiv) + EpsDiv

	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}

			if i == j {
				if !isFinite(sum) || sum <= EpsDiv {
					sum = heal
				}
				diag := math.Sqrt(sum)
				if !isFinite(diag) || diag < DiagMin || diag > DiagMax {
					return nil, amaserr.E(amaserr.KindNumericInstability, "linalg.Cholesky", amaserr.ErrNonPositiveDefinite)
				}
				l[i][i] = diag
			} else {
				div := l[j][j]
				if div < EpsDiv {
					div = EpsDiv
				}
				v := sum / div
				if !isFinite(v) {
					return nil, amaserr.E(amaserr.KindNumericInstability, "linalg.Cholesky", amaserr.ErrNonPositiveDefinite)
				}
				l[i][j] = v
			}
		}
	}
	return l, nil
}

// CholeskyRank1Update rewrites L in place to the factor of A + x*x^T using
// Givens-style rotations. On any instability (non-finite value, magnitude
// above MaxMagnitude, diagonal below minDiag) the update is abandoned, L is
// left exactly as passed, and an error wrapping amaserr.ErrRank1Failed is
// returned; the caller must re-decompose from the full covariance. x is not
// modified.
func CholeskyRank1Update(l [][]float64, x []float64, d int, minDiag float64) error {
	if len(l) != d || len(x) != d {
		return amaserr.E(amaserr.KindNumericInstability, "linalg.CholeskyRank1Update", amaserr.ErrDimensionMismatch)
	}

	work := CloneMatrix(l)
	xs := CloneVector(x)

	for k := 0; k < d; k++ {
		lkk := work[k][k]
		if lkk < EpsDiv {
			return rank1Failure()
		}
		r := math.Hypot(lkk, xs[k])
		c := r / lkk
		s := xs[k] / lkk

		if !isFinite(r) || !isFinite(c) || !isFinite(s) || r > MaxMagnitude {
			return rank1Failure()
		}
		if r < minDiag {
			return rank1Failure()
		}
		work[k][k] = r

		for i := k + 1; i < d; i++ {
			lik := (work[i][k] + s*xs[i]) / c
			xi := c*xs[i] - s*lik
			if !isFinite(lik) || !isFinite(xi) || math.Abs(lik) > MaxMagnitude || math.Abs(xi) > MaxMagnitude {
				return rank1Failure()
			}
			work[i][k] = lik
			xs[i] = xi
		}
	}

	for i := 0; i < d; i++ {
		copy(l[i], work[i])
	}
	return nil
}

func rank1Failure() error {
	return amaserr.E(amaserr.KindNumericInstability, "linalg.CholeskyRank1Update", amaserr.ErrRank1Failed)
}

// ForwardSolve solves L*z = y for lower-triangular L. Divisors are floored
// at EpsDiv.
func ForwardSolve(l [][]float64, y []float64) []float64 {
	d := len(y)
	z := make([]float64, d)
	for i := 0; i < d; i++ {
		sum := y[i]
		for k := 0; k < i; k++ {
			sum -= l[i][k] * z[k]
		}
		div := l[i][i]
		if div < EpsDiv {
			div = EpsDiv
		}
		z[i] = sum / div
	}
	return z
}

// BackSolve solves L^T*w = z for lower-triangular L. Divisors are floored
// at EpsDiv.
func BackSolve(l [][]float64, z []float64) []float64 {
	d := len(z)
	w := make([]float64, d)
	for i := d - 1; i >= 0; i-- {
		sum := z[i]
		for k := i + 1; k < d; k++ {
			sum -= l[k][i] * w[k]
		}
		div := l[i][i]
		if div < EpsDiv {
			div = EpsDiv
		}
		w[i] = sum / div
	}
	return w
}

// SolveCholesky solves A*w = y given the factor L of A, via one forward and
// one back substitution.
func SolveCholesky(l [][]float64, y []float64) []float64 {
	return BackSolve(l, ForwardSolve(l, y))
}

// ConfidenceWidth computes sqrt(x^T * A^-1 * x) given the factor L of A:
// one forward solve and a squared norm. Negative numerics clip to 0.
func ConfidenceWidth(l [][]float64, x []float64) float64 {
	z := ForwardSolve(l, x)
	var sq float64
	for _, v := range z {
		sq += v * v
	}
	if !isFinite(sq) || sq < 0 {
		return 0
	}
	return math.Sqrt(sq)
}

// Matern52 evaluates the Matérn-5/2 kernel between x1 and x2 with per-
// dimension length scales and variance sigma2:
// sigma2 * (1 + sqrt5*r + 5r^2/3) * exp(-sqrt5*r).
func Matern52(x1, x2, lengthScales []float64, sigma2 float64) float64 {
	var r2 float64
	for i := range x1 {
		ls := lengthScales[i]
		if ls < EpsDiv {
			ls = EpsDiv
		}
		d := (x1[i] - x2[i]) / ls
		r2 += d * d
	}
	r := math.Sqrt(r2)
	sqrt5r := math.Sqrt(5) * r
	return sigma2 * (1 + sqrt5r + 5*r2/3) * math.Exp(-sqrt5r)
}

// AddOuterProduct performs A += x*x^T in place.
func AddOuterProduct(a [][]float64, x []float64) {
	d := len(x)
	for i := 0; i < d; i++ {
		xi := x[i]
		for j := 0; j < d; j++ {
			a[i][j] += xi * x[j]
		}
	}
}

// AddScaled performs b += scale*x in place.
func AddScaled(b []float64, x []float64, scale float64) {
	for i := range b {
		b[i] += scale * x[i]
	}
}

// Dot returns the inner product of two equal-length vectors.
func Dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SanitizeVector clamps entries to [-MaxFeatureAbs, MaxFeatureAbs] in place
// and zeroes NaN/Inf entries. Returns the number of entries changed, so the
// caller can log and count sanitisation events.
func SanitizeVector(x []float64) int {
	fixed := 0
	for i, v := range x {
		switch {
		case !isFinite(v):
			x[i] = 0
			fixed++
		case v > MaxFeatureAbs:
			x[i] = MaxFeatureAbs
			fixed++
		case v < -MaxFeatureAbs:
			x[i] = -MaxFeatureAbs
			fixed++
		}
	}
	return fixed
}

// ReconstructionError returns ||L*L^T - A||_inf, the invariant checked
// between bandit updates.
func ReconstructionError(l, a [][]float64) float64 {
	d := len(a)
	var maxErr float64
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			var recon float64
			lim := j
			if i < j {
				lim = i
			}
			for k := 0; k <= lim; k++ {
				recon += l[i][k] * l[j][k]
			}
			if diff := math.Abs(recon - a[i][j]); diff > maxErr {
				maxErr = diff
			}
		}
	}
	return maxErr
}

// InfNorm returns max_{i,j} |A[i][j]|.
func InfNorm(a [][]float64) float64 {
	var m float64
	for _, row := range a {
		for _, v := range row {
			if av := math.Abs(v); av > m {
				m = av
			}
		}
	}
	return m
}

// MinDiagonal returns the smallest diagonal entry of L.
func MinDiagonal(l [][]float64) float64 {
	m := math.Inf(1)
	for i := range l {
		if l[i][i] < m {
			m = l[i][i]
		}
	}
	return m
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
