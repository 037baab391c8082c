// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package perception

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/tomtom215/amas/internal/core"
)

var t0 = time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)

func event(at time.Time, correct bool, rtMs float64) core.RawEvent {
	return core.RawEvent{
		WordID:         "w-1",
		IsCorrect:      correct,
		ResponseTimeMs: rtMs,
		DwellTimeMs:    rtMs * 1.5,
		Timestamp:      at,
	}
}

func TestObserveWindowedMean(t *testing.T) {
	tr := New(3)

	tr.Observe(event(t0, true, 1000))
	tr.Observe(event(t0.Add(10*time.Second), true, 2000))
	s := tr.Observe(event(t0.Add(20*time.Second), true, 3000))

	if s.ResponseTimeMs.N != 3 {
		t.Fatalf("window N = %d, want 3", s.ResponseTimeMs.N)
	}
	if math.Abs(s.ResponseTimeMs.Mean-2000) > 1e-9 {
		t.Errorf("mean = %v, want 2000", s.ResponseTimeMs.Mean)
	}

	// Rollover: the 1000 sample drops, mean over {2000, 3000, 4000}.
	s = tr.Observe(event(t0.Add(30*time.Second), true, 4000))
	if s.ResponseTimeMs.N != 3 {
		t.Errorf("window N after rollover = %d, want 3", s.ResponseTimeMs.N)
	}
	if math.Abs(s.ResponseTimeMs.Mean-3000) > 1e-9 {
		t.Errorf("mean after rollover = %v, want 3000", s.ResponseTimeMs.Mean)
	}
}

func TestCoefficientOfVariation(t *testing.T) {
	tr := New(4)
	for i, rt := range []float64{1000, 1000, 1000, 1000} {
		tr.Observe(event(t0.Add(time.Duration(i)*time.Second), true, rt))
	}
	if cv := tr.Summary().ResponseTimeMs.CV; cv != 0 {
		t.Errorf("CV of constant window = %v, want 0", cv)
	}

	tr = New(4)
	tr.Observe(event(t0, true, 1000))
	tr.Observe(event(t0.Add(time.Second), true, 3000))
	// Sample std of {1000, 3000} is ~1414.2, mean 2000.
	cv := tr.Summary().ResponseTimeMs.CV
	if math.Abs(cv-math.Sqrt2/2) > 1e-9 {
		t.Errorf("CV = %v, want %v", cv, math.Sqrt2/2)
	}
}

func TestCVMeanFloorKeepsFinite(t *testing.T) {
	tr := New(4)
	// Pause counts of 0 and 0 give mean 0; the floor must keep CV finite.
	tr.Observe(event(t0, true, 1000))
	tr.Observe(event(t0.Add(time.Second), true, 1000))

	cv := tr.Summary().PauseCount.CV
	if math.IsNaN(cv) || math.IsInf(cv, 0) {
		t.Errorf("pause CV = %v, want finite", cv)
	}
}

func TestErrorRateAndStreaks(t *testing.T) {
	tr := New(10)
	outcomes := []bool{true, true, false, false, false}
	for i, ok := range outcomes {
		tr.Observe(event(t0.Add(time.Duration(i)*time.Second), ok, 1500))
	}

	s := tr.Summary()
	if math.Abs(s.ErrorRate-0.6) > 1e-9 {
		t.Errorf("ErrorRate = %v, want 0.6", s.ErrorRate)
	}
	if s.FailureStreak != 3 || s.SuccessStreak != 0 {
		t.Errorf("streaks = %d/%d, want failure 3, success 0", s.SuccessStreak, s.FailureStreak)
	}

	s = tr.Observe(event(t0.Add(5*time.Second), true, 1500))
	if s.SuccessStreak != 1 || s.FailureStreak != 0 {
		t.Errorf("streaks after success = %d/%d, want 1/0", s.SuccessStreak, s.FailureStreak)
	}
}

func TestSessionBreaksOnLongGap(t *testing.T) {
	tr := New(10)
	tr.Observe(event(t0, true, 1000))
	s := tr.Observe(event(t0.Add(10*time.Minute), true, 1000))

	if math.Abs(s.GapSeconds-600) > 1e-9 {
		t.Errorf("GapSeconds = %v, want 600", s.GapSeconds)
	}
	if math.Abs(s.SessionMinutes-10) > 1e-9 {
		t.Errorf("SessionMinutes = %v, want 10 (same session)", s.SessionMinutes)
	}

	// A 40-minute silence starts a new session.
	s = tr.Observe(event(t0.Add(50*time.Minute), true, 1000))
	if s.SessionMinutes != 0 {
		t.Errorf("SessionMinutes after long gap = %v, want 0", s.SessionMinutes)
	}
	if math.Abs(s.GapSeconds-2400) > 1e-9 {
		t.Errorf("GapSeconds = %v, want 2400", s.GapSeconds)
	}
}

func TestWordTraceExcludesCurrentExposure(t *testing.T) {
	tr := New(10)

	if trace := tr.WordTrace("w-1", t0); trace != nil {
		t.Errorf("first exposure trace = %v, want nil", trace)
	}

	tr.Observe(event(t0, true, 1000))
	tr.Observe(event(t0.Add(2*time.Hour), false, 4000))

	now := t0.Add(26 * time.Hour)
	trace := tr.WordTrace("w-1", now)
	if len(trace) != 2 {
		t.Fatalf("trace length = %d, want 2", len(trace))
	}
	if math.Abs(trace[0].AgeHours-26) > 1e-9 || !trace[0].Success {
		t.Errorf("trace[0] = %+v, want 26h-old success", trace[0])
	}
	if math.Abs(trace[1].AgeHours-24) > 1e-9 || trace[1].Success {
		t.Errorf("trace[1] = %+v, want 24h-old failure", trace[1])
	}
}

func TestWordTraceAgeFloor(t *testing.T) {
	tr := New(10)
	tr.Observe(event(t0, true, 1000))

	trace := tr.WordTrace("w-1", t0.Add(5*time.Second))
	if len(trace) != 1 {
		t.Fatalf("trace length = %d, want 1", len(trace))
	}
	if trace[0].AgeHours != 1.0/60 {
		t.Errorf("AgeHours = %v, want floored to one minute", trace[0].AgeHours)
	}
}

func TestWordTraceBounds(t *testing.T) {
	tr := New(10)

	// Twelve exposures of one word keep only the most recent 8.
	for i := 0; i < 12; i++ {
		e := event(t0.Add(time.Duration(i)*time.Minute), true, 1000)
		tr.Observe(e)
	}
	if got := len(tr.WordTrace("w-1", t0.Add(time.Hour))); got != maxTracePerWord {
		t.Errorf("per-word trace length = %d, want %d", got, maxTracePerWord)
	}

	// Touching more words than the cap evicts the least recently seen.
	for i := 0; i < maxTracedWords+10; i++ {
		e := event(t0.Add(time.Duration(i)*time.Second), true, 1000)
		e.WordID = fmt.Sprintf("word-%03d", i)
		tr.Observe(e)
	}
	if len(tr.words.traces) != maxTracedWords {
		t.Errorf("traced words = %d, want %d", len(tr.words.traces), maxTracedWords)
	}
	if tr.WordTrace("word-000", t0.Add(time.Hour)) != nil {
		t.Error("oldest word should have been evicted")
	}
	if tr.WordTrace(fmt.Sprintf("word-%03d", maxTracedWords+9), t0.Add(time.Hour)) == nil {
		t.Error("newest word should still be traced")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	tr := New(5)
	for i, ok := range []bool{true, false, true, true} {
		e := event(t0.Add(time.Duration(i)*time.Minute), ok, float64(1000+i*500))
		e.PauseCount = i
		tr.Observe(e)
	}

	raw, err := tr.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := New(5)
	if err := restored.Restore(raw); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	want, got := tr.Summary(), restored.Summary()
	if math.Abs(want.ResponseTimeMs.Mean-got.ResponseTimeMs.Mean) > 1e-9 {
		t.Errorf("restored rt mean = %v, want %v", got.ResponseTimeMs.Mean, want.ResponseTimeMs.Mean)
	}
	if math.Abs(want.ErrorRate-got.ErrorRate) > 1e-9 {
		t.Errorf("restored error rate = %v, want %v", got.ErrorRate, want.ErrorRate)
	}
	if got.SuccessStreak != want.SuccessStreak || got.EventCount != want.EventCount {
		t.Errorf("restored streak/count = %d/%d, want %d/%d",
			got.SuccessStreak, got.EventCount, want.SuccessStreak, want.EventCount)
	}
	if len(restored.WordTrace("w-1", t0.Add(time.Hour))) != len(tr.WordTrace("w-1", t0.Add(time.Hour))) {
		t.Error("restored word trace should match original")
	}
}

func TestRestoreRejectsNewerVersion(t *testing.T) {
	tr := New(5)
	raw := []byte(`{"version": 99, "window": 5}`)
	if err := tr.Restore(raw); err == nil {
		t.Fatal("restore of a newer snapshot version should fail")
	}
}

func TestRestoreRewindows(t *testing.T) {
	tr := New(3)
	// Seven samples into a window of three keep the most recent three.
	raw := []byte(`{
		"version": 1, "window": 7,
		"response_time": [100, 200, 300, 400, 500, 600, 700],
		"correct": [1, 1, 1, 1, 1, 1, 0],
		"event_count": 7
	}`)
	if err := tr.Restore(raw); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	s := tr.Summary()
	if s.ResponseTimeMs.N != 3 {
		t.Fatalf("window N = %d, want 3", s.ResponseTimeMs.N)
	}
	if math.Abs(s.ResponseTimeMs.Mean-600) > 1e-9 {
		t.Errorf("rewindowed mean = %v, want 600 over {500,600,700}", s.ResponseTimeMs.Mean)
	}
}

func TestObserveIgnoresNonFiniteSignal(t *testing.T) {
	tr := New(4)
	e := event(t0, true, 1000)
	e.InteractionDensity = math.NaN()
	s := tr.Observe(e)

	if math.IsNaN(s.Density.Mean) {
		t.Error("NaN density should have been zeroed before windowing")
	}
}
