// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package perception maintains the rolling behavioural summary of one user:
// last-N windowed means and coefficients of variation of the raw event
// signals, the windowed error rate, success/failure streaks, session
// timing, and the per-word review trace feeding the memory learner.
//
// A Tracker is owned by a single model bundle and is not safe for
// concurrent use; the engine serialises access per user.
package perception

import (
	"fmt"
	"math"
	"time"

	json "github.com/goccy/go-json"
	"gonum.org/v1/gonum/stat"

	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/core"
)

// Defaults. Window is fixed per user once the tracker exists.
const (
	DefaultWindow = 10

	maxTracedWords    = 64
	maxTracePerWord   = 8
	minTraceAgeHours  = 1.0 / 60 // exposures younger than a minute count as a minute old
	sessionBreakAfter = 30 * time.Minute

	// cvMeanFloor keeps CV finite when a window mean collapses to zero.
	cvMeanFloor = 1e-6

	snapshotVersion = 1
)

// WindowStats summarises one signal's rolling window.
type WindowStats struct {
	// Mean of the current window contents.
	Mean float64 `json:"mean"`

	// CV is the coefficient of variation, std/mean with a floored mean.
	CV float64 `json:"cv"`

	// N is the number of samples currently in the window.
	N int `json:"n"`
}

// Summary is the point-in-time behavioural picture handed to the modeling
// layer after each event.
type Summary struct {
	ResponseTimeMs WindowStats `json:"response_time_ms"`
	PauseCount     WindowStats `json:"pause_count"`
	SwitchCount    WindowStats `json:"switch_count"`
	FocusLossMs    WindowStats `json:"focus_loss_ms"`
	DwellTimeMs    WindowStats `json:"dwell_time_ms"`
	Density        WindowStats `json:"density"`

	// ErrorRate is the windowed miss rate in [0, 1].
	ErrorRate float64 `json:"error_rate"`

	// SuccessStreak and FailureStreak count consecutive outcomes ending at
	// the latest event; at most one is non-zero.
	SuccessStreak int `json:"success_streak"`
	FailureStreak int `json:"failure_streak"`

	// EventCount is the lifetime number of observed events.
	EventCount uint64 `json:"event_count"`

	// GapSeconds is the time since the previous event (0 for the first).
	GapSeconds float64 `json:"gap_seconds"`

	// SessionMinutes is the time since the current session began. Sessions
	// break on gaps longer than thirty minutes.
	SessionMinutes float64 `json:"session_minutes"`

	// LastEventAt is the timestamp of the latest observed event.
	LastEventAt time.Time `json:"last_event_at"`
}

// Tracker accumulates windows over raw events for one user.
type Tracker struct {
	window int

	rt      *ring
	pause   *ring
	switchC *ring
	focus   *ring
	dwell   *ring
	density *ring
	correct *ring

	successStreak int
	failureStreak int
	eventCount    uint64

	lastEventAt  time.Time
	sessionStart time.Time
	lastGap      time.Duration

	words *wordTraces
}

// New returns a Tracker with the given window size. Sizes below 2 fall
// back to the default.
func New(window int) *Tracker {
	if window < 2 {
		window = DefaultWindow
	}
	return &Tracker{
		window:  window,
		rt:      newRing(window),
		pause:   newRing(window),
		switchC: newRing(window),
		focus:   newRing(window),
		dwell:   newRing(window),
		density: newRing(window),
		correct: newRing(window),
		words:   newWordTraces(maxTracedWords, maxTracePerWord),
	}
}

// WordTrace returns the review history of wordID as observed before now,
// oldest first. Call it before Observe so the current exposure is not part
// of its own trace. Returns nil for first exposures.
func (t *Tracker) WordTrace(wordID string, now time.Time) []core.ReviewObservation {
	entries := t.words.get(wordID)
	if len(entries) == 0 {
		return nil
	}
	out := make([]core.ReviewObservation, 0, len(entries))
	for _, e := range entries {
		age := now.Sub(e.At).Hours()
		if age < minTraceAgeHours {
			age = minTraceAgeHours
		}
		out = append(out, core.ReviewObservation{AgeHours: age, Success: e.Success})
	}
	return out
}

// Observe folds one sanitised event into the windows and returns the
// refreshed summary. The event must already be clamped; Observe does not
// re-validate.
func (t *Tracker) Observe(e core.RawEvent) Summary {
	t.lastGap = 0
	if t.eventCount > 0 && e.Timestamp.After(t.lastEventAt) {
		t.lastGap = e.Timestamp.Sub(t.lastEventAt)
	}
	if t.eventCount == 0 || t.lastGap > sessionBreakAfter {
		t.sessionStart = e.Timestamp
	}

	t.rt.push(e.ResponseTimeMs)
	t.pause.push(float64(e.PauseCount))
	t.switchC.push(float64(e.SwitchCount))
	t.focus.push(e.FocusLossDurationMs)
	t.dwell.push(e.DwellTimeMs)
	t.density.push(e.InteractionDensity)

	if e.IsCorrect {
		t.correct.push(1)
		t.successStreak++
		t.failureStreak = 0
	} else {
		t.correct.push(0)
		t.failureStreak++
		t.successStreak = 0
	}

	t.eventCount++
	t.lastEventAt = e.Timestamp
	t.words.record(e.WordID, e.Timestamp, e.IsCorrect)

	return t.Summary()
}

// Summary returns the current rolling summary without observing anything.
func (t *Tracker) Summary() Summary {
	s := Summary{
		ResponseTimeMs: t.rt.stats(),
		PauseCount:     t.pause.stats(),
		SwitchCount:    t.switchC.stats(),
		FocusLossMs:    t.focus.stats(),
		DwellTimeMs:    t.dwell.stats(),
		Density:        t.density.stats(),
		SuccessStreak:  t.successStreak,
		FailureStreak:  t.failureStreak,
		EventCount:     t.eventCount,
		GapSeconds:     t.lastGap.Seconds(),
		LastEventAt:    t.lastEventAt,
	}
	if c := t.correct.stats(); c.N > 0 {
		s.ErrorRate = 1 - c.Mean
	}
	if t.eventCount > 0 {
		s.SessionMinutes = t.lastEventAt.Sub(t.sessionStart).Minutes()
	}
	return s
}

// trackerSnapshot is the serialised tracker state. Window contents are
// stored oldest first.
type trackerSnapshot struct {
	Version int `json:"version"`
	Window  int `json:"window"`

	ResponseTime []float64 `json:"response_time"`
	Pause        []float64 `json:"pause"`
	Switch       []float64 `json:"switch"`
	FocusLoss    []float64 `json:"focus_loss"`
	Dwell        []float64 `json:"dwell"`
	Density      []float64 `json:"density"`
	Correct      []float64 `json:"correct"`

	SuccessStreak int    `json:"success_streak"`
	FailureStreak int    `json:"failure_streak"`
	EventCount    uint64 `json:"event_count"`

	LastEventAt  time.Time `json:"last_event_at"`
	SessionStart time.Time `json:"session_start"`

	WordOrder []string                `json:"word_order"`
	Words     map[string][]traceEntry `json:"words"`
}

// Snapshot serialises the tracker for persistence.
func (t *Tracker) Snapshot() (json.RawMessage, error) {
	snap := trackerSnapshot{
		Version:       snapshotVersion,
		Window:        t.window,
		ResponseTime:  t.rt.values(),
		Pause:         t.pause.values(),
		Switch:        t.switchC.values(),
		FocusLoss:     t.focus.values(),
		Dwell:         t.dwell.values(),
		Density:       t.density.values(),
		Correct:       t.correct.values(),
		SuccessStreak: t.successStreak,
		FailureStreak: t.failureStreak,
		EventCount:    t.eventCount,
		LastEventAt:   t.lastEventAt,
		SessionStart:  t.sessionStart,
		WordOrder:     t.words.orderCopy(),
		Words:         t.words.tracesCopy(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal tracker snapshot: %w", err)
	}
	return raw, nil
}

// Restore replaces the tracker state from a snapshot. Non-finite window
// values are dropped; a snapshot produced with a different window size is
// re-windowed keeping the most recent samples. Snapshots from a newer
// code version are rejected.
func (t *Tracker) Restore(raw json.RawMessage) error {
	var snap trackerSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return amaserr.E(amaserr.KindStateCorruption, "perception.Restore", err)
	}
	if snap.Version > snapshotVersion {
		return amaserr.E(amaserr.KindStateCorruption, "perception.Restore",
			fmt.Errorf("snapshot version %d is newer than supported %d: %w",
				snap.Version, snapshotVersion, amaserr.ErrSnapshotDowngrade))
	}

	fresh := New(t.window)
	fresh.rt.fill(snap.ResponseTime)
	fresh.pause.fill(snap.Pause)
	fresh.switchC.fill(snap.Switch)
	fresh.focus.fill(snap.FocusLoss)
	fresh.dwell.fill(snap.Dwell)
	fresh.density.fill(clampUnit(snap.Density))
	fresh.correct.fill(clampUnit(snap.Correct))
	fresh.successStreak = max(snap.SuccessStreak, 0)
	fresh.failureStreak = max(snap.FailureStreak, 0)
	fresh.eventCount = snap.EventCount
	fresh.lastEventAt = snap.LastEventAt
	fresh.sessionStart = snap.SessionStart
	fresh.words.restore(snap.WordOrder, snap.Words)

	*t = *fresh
	return nil
}

// clampUnit clamps snapshot values into [0, 1]; the density and
// correctness windows are unit-interval by construction.
func clampUnit(vals []float64) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, math.Min(1, math.Max(0, v)))
	}
	return out
}

// ring is a fixed-size sliding window.
type ring struct {
	vals []float64
	head int
	n    int
}

func newRing(size int) *ring {
	return &ring{vals: make([]float64, size)}
}

func (r *ring) push(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	r.vals[r.head] = v
	r.head = (r.head + 1) % len(r.vals)
	if r.n < len(r.vals) {
		r.n++
	}
}

// values returns the window contents oldest first.
func (r *ring) values() []float64 {
	out := make([]float64, 0, r.n)
	start := (r.head - r.n + len(r.vals)) % len(r.vals)
	for i := 0; i < r.n; i++ {
		out = append(out, r.vals[(start+i)%len(r.vals)])
	}
	return out
}

// fill replaces the contents with vals, keeping the most recent samples
// when vals exceeds the window, and dropping non-finite entries.
func (r *ring) fill(vals []float64) {
	r.head, r.n = 0, 0
	clean := make([]float64, 0, len(vals))
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		clean = append(clean, v)
	}
	if len(clean) > len(r.vals) {
		clean = clean[len(clean)-len(r.vals):]
	}
	for _, v := range clean {
		r.push(v)
	}
}

func (r *ring) stats() WindowStats {
	if r.n == 0 {
		return WindowStats{}
	}
	vals := r.values()
	mean := stat.Mean(vals, nil)
	var cv float64
	if r.n > 1 {
		std := stat.StdDev(vals, nil)
		cv = std / math.Max(math.Abs(mean), cvMeanFloor)
	}
	return WindowStats{Mean: mean, CV: cv, N: r.n}
}

// traceEntry is one recorded exposure of a word.
type traceEntry struct {
	At      time.Time `json:"at"`
	Success bool      `json:"success"`
}

// wordTraces keeps bounded per-word review histories with LRU eviction
// over words.
type wordTraces struct {
	maxWords   int
	maxPerWord int
	order      []string // least recently used first
	traces     map[string][]traceEntry
}

func newWordTraces(maxWords, maxPerWord int) *wordTraces {
	return &wordTraces{
		maxWords:   maxWords,
		maxPerWord: maxPerWord,
		traces:     make(map[string][]traceEntry, maxWords),
	}
}

func (w *wordTraces) get(wordID string) []traceEntry {
	return w.traces[wordID]
}

func (w *wordTraces) record(wordID string, at time.Time, success bool) {
	if wordID == "" {
		return
	}
	entries := append(w.traces[wordID], traceEntry{At: at, Success: success})
	if len(entries) > w.maxPerWord {
		entries = entries[len(entries)-w.maxPerWord:]
	}
	w.traces[wordID] = entries
	w.touch(wordID)

	for len(w.traces) > w.maxWords && len(w.order) > 0 {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.traces, oldest)
	}
}

func (w *wordTraces) touch(wordID string) {
	for i, id := range w.order {
		if id == wordID {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	w.order = append(w.order, wordID)
}

func (w *wordTraces) orderCopy() []string {
	return append([]string(nil), w.order...)
}

func (w *wordTraces) tracesCopy() map[string][]traceEntry {
	out := make(map[string][]traceEntry, len(w.traces))
	for id, entries := range w.traces {
		out[id] = append([]traceEntry(nil), entries...)
	}
	return out
}

func (w *wordTraces) restore(order []string, traces map[string][]traceEntry) {
	w.order = w.order[:0]
	w.traces = make(map[string][]traceEntry, len(traces))
	for _, id := range order {
		entries, ok := traces[id]
		if !ok || len(entries) == 0 {
			continue
		}
		if len(entries) > w.maxPerWord {
			entries = entries[len(entries)-w.maxPerWord:]
		}
		w.traces[id] = append([]traceEntry(nil), entries...)
		w.order = append(w.order, id)
		if len(w.traces) >= w.maxWords {
			break
		}
	}
}
