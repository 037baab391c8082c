// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package gp

import (
	"math"
	"testing"

	"github.com/tomtom215/amas/internal/amaserr"
)

// quad1d builds a 1-d spec sampling f(x) = -(x-peak)^2 at evenly spaced
// points over [0, 1].
func quad1d(peak float64, n int, beta float64) SearchSpec {
	xs := make([][]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1)
		xs[i] = []float64{x}
		ys[i] = -(x - peak) * (x - peak)
	}
	return SearchSpec{
		ObsX:  xs,
		ObsY:  ys,
		Lower: []float64{0},
		Upper: []float64{1},
		Beta:  beta,
		Seed:  7,
	}
}

func TestSearchUCBEmptyObservationsReturnsMidpoint(t *testing.T) {
	sug, err := SearchUCB(SearchSpec{
		Lower: []float64{0, 2},
		Upper: []float64{1, 4},
		Beta:  2,
	})
	if err != nil {
		t.Fatalf("SearchUCB() error = %v", err)
	}
	want := []float64{0.5, 3}
	for i, v := range sug.Point {
		if math.Abs(v-want[i]) > 1e-12 {
			t.Errorf("Point[%d] = %v, want %v", i, v, want[i])
		}
	}
	if sug.Std != 1 {
		t.Errorf("Std = %v, want prior 1", sug.Std)
	}
	if math.Abs(sug.Acquisition-2) > 1e-12 {
		t.Errorf("Acquisition = %v, want beta*prior = 2", sug.Acquisition)
	}
}

func TestSearchUCBRejectsMalformedSpec(t *testing.T) {
	good := quad1d(0.5, 4, 1)

	tests := []struct {
		name   string
		mutate func(*SearchSpec)
	}{
		{"empty bounds", func(s *SearchSpec) { s.Lower, s.Upper = nil, nil }},
		{"bounds length mismatch", func(s *SearchSpec) { s.Upper = []float64{1, 2} }},
		{"lower above upper", func(s *SearchSpec) { s.Lower = []float64{2} }},
		{"non-finite bound", func(s *SearchSpec) { s.Upper = []float64{math.NaN()} }},
		{"observation count mismatch", func(s *SearchSpec) { s.ObsY = s.ObsY[:2] }},
		{"observation dimension mismatch", func(s *SearchSpec) { s.ObsX[1] = []float64{0.1, 0.2} }},
		{"non-finite coordinate", func(s *SearchSpec) { s.ObsX[0][0] = math.Inf(1) }},
		{"non-finite value", func(s *SearchSpec) { s.ObsY[0] = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := quad1d(0.5, 4, 1)
			tt.mutate(&spec)
			_, err := SearchUCB(spec)
			if err == nil {
				t.Fatal("SearchUCB() error = nil, want input sanitisation failure")
			}
			if amaserr.KindOf(err) != amaserr.KindInputSanitisation {
				t.Errorf("error kind = %v, want KindInputSanitisation", amaserr.KindOf(err))
			}
		})
	}

	if _, err := SearchUCB(good); err != nil {
		t.Fatalf("unmutated spec failed: %v", err)
	}
}

func TestSearchUCBFindsKnownMaximum(t *testing.T) {
	// Six samples of -(x-0.7)^2 with a small beta: the posterior mean
	// dominates and both the mean peak and the between-sample variance
	// bump sit at 0.7.
	sug, err := SearchUCB(quad1d(0.7, 6, 0.1))
	if err != nil {
		t.Fatalf("SearchUCB() error = %v", err)
	}
	if math.Abs(sug.Point[0]-0.7) > 0.1 {
		t.Errorf("Point = %v, want within 0.1 of 0.7", sug.Point[0])
	}
	if sug.Acquisition < sug.Mean {
		t.Errorf("Acquisition %v below Mean %v", sug.Acquisition, sug.Mean)
	}
}

func TestSearchUCBLargeBetaExploresAwayFromData(t *testing.T) {
	// Two flat observations clustered at the low end: with a large beta
	// the acquisition is dominated by posterior variance, which grows
	// with distance from the data.
	spec := SearchSpec{
		ObsX:  [][]float64{{0.1}, {0.2}},
		ObsY:  []float64{0, 0},
		Lower: []float64{0},
		Upper: []float64{1},
		Beta:  5,
		Seed:  11,
	}
	sug, err := SearchUCB(spec)
	if err != nil {
		t.Fatalf("SearchUCB() error = %v", err)
	}
	if sug.Point[0] <= 0.5 {
		t.Errorf("Point = %v, want far side of the box (> 0.5)", sug.Point[0])
	}
	if sug.Std <= 0.5 {
		t.Errorf("Std = %v, want close to the prior away from data", sug.Std)
	}
}

func TestSearchUCBDeterministicForSeed(t *testing.T) {
	a, err := SearchUCB(quad1d(0.3, 5, 2))
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	b, err := SearchUCB(quad1d(0.3, 5, 2))
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	for i := range a.Point {
		if a.Point[i] != b.Point[i] {
			t.Errorf("Point[%d]: %v != %v", i, a.Point[i], b.Point[i])
		}
	}
	if a.Acquisition != b.Acquisition {
		t.Errorf("Acquisition: %v != %v", a.Acquisition, b.Acquisition)
	}
}

func TestSearchUCBHandlesDuplicateObservations(t *testing.T) {
	spec := SearchSpec{
		ObsX:  [][]float64{{0.5}, {0.5}, {0.5}},
		ObsY:  []float64{1, 1, 1},
		Lower: []float64{0},
		Upper: []float64{1},
		Beta:  2,
		Seed:  3,
	}
	if _, err := SearchUCB(spec); err != nil {
		t.Fatalf("SearchUCB() with duplicate points error = %v", err)
	}
}

func TestPosteriorInterpolatesTrainingPoints(t *testing.T) {
	xs := [][]float64{{0.1}, {0.5}, {0.9}}
	ys := []float64{1, 2, 3}
	post, err := fit(xs, ys, []float64{0}, []float64{1})
	if err != nil {
		t.Fatalf("fit() error = %v", err)
	}
	for i := range xs {
		mean, std := post.predict(xs[i])
		if math.Abs(mean-ys[i]) > 0.1 {
			t.Errorf("predict(x[%d]) mean = %v, want ~%v", i, mean, ys[i])
		}
		if std > 0.2 {
			t.Errorf("predict(x[%d]) std = %v, want near zero at a training point", i, std)
		}
	}
}

func TestGridLevels(t *testing.T) {
	tests := []struct {
		d    int
		want int
	}{
		{1, 5},
		{2, 5},
		{3, 5},
		{4, 3},
		{5, 3},
		{7, 2},
		{8, 0},
	}
	for _, tt := range tests {
		if got := gridLevels(tt.d); got != tt.want {
			t.Errorf("gridLevels(%d) = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestTopKKeepsHighestScores(t *testing.T) {
	top := newTopK(3)
	for i := 1; i <= 10; i++ {
		top.push([]float64{float64(i)}, float64(i))
	}
	top.push([]float64{-1}, math.NaN()) // ignored

	pts := top.points()
	if len(pts) != 3 {
		t.Fatalf("len(points) = %d, want 3", len(pts))
	}
	want := []float64{10, 9, 8}
	for i, pt := range pts {
		if pt[0] != want[i] {
			t.Errorf("points[%d] = %v, want %v", i, pt[0], want[i])
		}
	}
}

func TestTopKUnderCapacity(t *testing.T) {
	top := newTopK(5)
	top.push([]float64{1}, 1)
	top.push([]float64{2}, 2)

	pts := top.points()
	if len(pts) != 2 {
		t.Fatalf("len(points) = %d, want 2", len(pts))
	}
	if pts[0][0] != 2 || pts[1][0] != 1 {
		t.Errorf("points = %v, want best first", pts)
	}
}
