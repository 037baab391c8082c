// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package stats aggregates per-event samples into user-week effect rows,
// maintains the user-type mix behind the cold-start priors, and feeds the
// optimiser one global score per completed week.
//
// The tracker buffers samples in memory and touches DuckDB only from its
// flush loop, so the engine's per-event call is a mutex and a few appends.
// The buffers are best effort: the decision log is the authoritative
// record, a restart mid-week undercounts that week's aggregate row.
package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/database"
	"github.com/tomtom215/amas/internal/gp"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
)

const (
	// windowCap bounds the per-user reward/fatigue buffers within a week;
	// past it the window slides and the weekly means cover the most
	// recent samples. Event and correctness counts stay exact.
	windowCap = 2048

	// effectWindow matches the pre/post reward windows around a strategy
	// change.
	effectWindow = 7 * 24 * time.Hour

	// pendingCap bounds rows re-queued across failed flushes.
	pendingCap = 10000

	// backfillWeeks bounds the optimiser replay after a restart.
	backfillWeeks = 26

	mixQueryTimeout = 3 * time.Second
	flushTimeout    = 30 * time.Second
)

// Tracker owns the weekly aggregation state. It implements the engine's
// Sampler, the cold-start PriorSource, and the suture service contract.
type Tracker struct {
	db     *database.DB
	opt    *gp.Optimizer // nil when the optimiser is disabled
	params []float64     // reward weights recorded with each weekly score

	flushEvery time.Duration
	mixTTL     time.Duration

	mu      sync.Mutex
	users   map[string]*userWeek
	pending []pendingRow
	types   map[string]core.UserType
	lastFed time.Time // newest week already recorded into the optimiser

	mixMu sync.Mutex
	mix   map[core.UserType]float64
	mixAt time.Time

	now func() time.Time
	log zerolog.Logger
}

// userWeek is one user's live buffer for the week starting at week.
type userWeek struct {
	week    time.Time
	events  int64
	correct int64
	rewards *window
	fatigue *window

	strategies map[string]int
	prevModal  string // modal strategy of the last completed week
	lastType   core.UserType
}

// pendingRow is a completed user-week waiting for the flush loop. The
// effect score is computed there: it needs the decision log's attributed
// rewards, not the buffered ones.
type pendingRow struct {
	row          database.StrategyEffect
	modalChanged bool
}

// New wires a tracker over the decision log. opt may be nil; params is the
// live reward-weight vector recorded alongside each weekly score.
func New(cfg config.StatsConfig, db *database.DB, opt *gp.Optimizer, params []float64) (*Tracker, error) {
	const op = "stats.New"

	if db == nil {
		return nil, amaserr.Ef(amaserr.KindConfigViolation, op, "nil database")
	}
	flushEvery := cfg.FlushInterval
	if flushEvery <= 0 {
		flushEvery = time.Hour
	}
	mixTTL := cfg.MixTTL
	if mixTTL <= 0 {
		mixTTL = time.Hour
	}

	return &Tracker{
		db:         db,
		opt:        opt,
		params:     append([]float64(nil), params...),
		flushEvery: flushEvery,
		mixTTL:     mixTTL,
		users:      make(map[string]*userWeek),
		types:      make(map[string]core.UserType),
		now:        time.Now,
		log:        logging.WithComponent("stats"),
	}, nil
}

// RecordSample folds one decision sample into the user's live week. Called
// from inside the engine's critical section, so it only appends to memory.
func (t *Tracker) RecordSample(s core.StatsSample) {
	if s.UserID == "" {
		return
	}
	week := weekStart(s.Timestamp)

	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.users[s.UserID]
	if w == nil {
		w = newUserWeek(week)
		t.users[s.UserID] = w
	}
	if week.After(w.week) {
		t.rollLocked(s.UserID, w, week)
	}

	w.events++
	if s.Correct {
		w.correct++
	}
	if s.RewardOK {
		w.rewards.push(s.Reward)
	}
	w.fatigue.push(s.Fatigue)
	if s.Strategy != "" {
		w.strategies[s.Strategy]++
	}
	if s.UserType != "" && s.UserType != w.lastType {
		w.lastType = s.UserType
		t.types[s.UserID] = s.UserType
	}
}

// Serve replays past weekly scores into the optimiser, then flushes on the
// configured cadence. The final flush also writes the in-progress week so a
// clean shutdown keeps its partial aggregates.
func (t *Tracker) Serve(ctx context.Context) error {
	t.log.Info().
		Dur("flush_interval", t.flushEvery).
		Dur("mix_ttl", t.mixTTL).
		Bool("optimizer", t.opt != nil).
		Msg("Stats tracker starting")

	t.backfill(ctx)

	ticker := time.NewTicker(t.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			t.flush(fctx, true)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			t.flush(ctx, false)
		}
	}
}

// String names the service in supervisor logs.
func (t *Tracker) String() string { return "stats-tracker" }

// UserTypeMix returns the normalised share of classified users per type,
// read through a TTL cache. An empty mix is valid: the cold-start manager
// falls back to its fixed prior.
func (t *Tracker) UserTypeMix() (map[core.UserType]float64, error) {
	const op = "stats.Tracker.UserTypeMix"

	t.mixMu.Lock()
	defer t.mixMu.Unlock()

	if t.mix != nil && t.now().Sub(t.mixAt) < t.mixTTL {
		return cloneMix(t.mix), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), mixQueryTimeout)
	defer cancel()
	counts, err := t.db.UserTypeMix(ctx)
	if err != nil {
		return nil, amaserr.E(amaserr.KindPersistenceFailure, op, err)
	}

	var total float64
	for _, n := range counts {
		total += float64(n)
	}
	mix := make(map[core.UserType]float64, len(counts))
	if total > 0 {
		for typ, n := range counts {
			mix[core.UserType(typ)] = float64(n) / total
		}
	}
	t.mix = mix
	t.mixAt = t.now()
	return cloneMix(mix), nil
}

// WeeklyReport is the stats/weekly response: the live in-progress week on
// top of recent completed weeks from the decision log.
type WeeklyReport struct {
	Current LiveWeek             `json:"current"`
	Weeks   []database.WeekScore `json:"weeks"`
}

// LiveWeek aggregates the in-memory buffers of the current week.
type LiveWeek struct {
	WeekStart    time.Time `json:"week_start"`
	Users        int       `json:"users"`
	Events       int64     `json:"events"`
	Accuracy     float64   `json:"accuracy"`
	AvgReward    float64   `json:"avg_reward"`
	RewardStdDev float64   `json:"reward_stddev"`
	AvgFatigue   float64   `json:"avg_fatigue"`
}

// Weekly reports the live week plus up to weeks completed ones.
func (t *Tracker) Weekly(ctx context.Context, weeks int) (WeeklyReport, error) {
	if weeks <= 0 {
		weeks = 12
	}
	current := weekStart(t.now())

	report := WeeklyReport{Current: t.liveWeek(current)}
	since := current.AddDate(0, 0, -7*weeks)
	rows, err := t.db.WeeklyScores(ctx, since)
	if err != nil {
		return report, err
	}
	report.Weeks = rows
	return report, nil
}

// Effects returns scored strategy changes: one user's history when userID
// is set, the latest across all users otherwise.
func (t *Tracker) Effects(ctx context.Context, userID string, limit int) ([]database.StrategyEffect, error) {
	if userID == "" {
		return t.db.RecentEffects(ctx, limit)
	}
	return t.db.StrategyEffects(ctx, userID, limit)
}

// liveWeek pools every user's current-week buffer into one summary.
func (t *Tracker) liveWeek(current time.Time) LiveWeek {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := LiveWeek{WeekStart: current}
	var rewards, fatigue []float64
	var correct int64
	for _, w := range t.users {
		if !w.week.Equal(current) || w.events == 0 {
			continue
		}
		live.Users++
		live.Events += w.events
		correct += w.correct
		rewards = append(rewards, w.rewards.values()...)
		fatigue = append(fatigue, w.fatigue.values()...)
	}
	if live.Events > 0 {
		live.Accuracy = float64(correct) / float64(live.Events)
	}
	if len(rewards) > 0 {
		live.AvgReward = stat.Mean(rewards, nil)
	}
	if len(rewards) > 1 {
		live.RewardStdDev = stat.StdDev(rewards, nil)
	}
	if len(fatigue) > 0 {
		live.AvgFatigue = stat.Mean(fatigue, nil)
	}
	return live
}

// rollLocked closes w's week into a pending row and resets the buffer for
// newWeek. Caller holds t.mu.
func (t *Tracker) rollLocked(userID string, w *userWeek, newWeek time.Time) {
	if w.events > 0 {
		modal := modalStrategy(w.strategies)
		row := database.StrategyEffect{
			UserID:     userID,
			WeekStart:  w.week,
			Events:     w.events,
			AvgReward:  meanOrZero(w.rewards.values()),
			AvgFatigue: meanOrZero(w.fatigue.values()),
		}
		row.Accuracy = float64(w.correct) / float64(w.events)

		changed := w.prevModal != "" && modal != "" && modal != w.prevModal
		if len(t.pending) < pendingCap {
			t.pending = append(t.pending, pendingRow{row: row, modalChanged: changed})
		} else {
			t.log.Warn().Str("user_id", userID).Msg("Pending aggregate dropped, flush backlog full")
		}
		if modal != "" {
			w.prevModal = modal
		}
	}

	w.week = newWeek
	w.events = 0
	w.correct = 0
	w.rewards.reset()
	w.fatigue.reset()
	w.strategies = make(map[string]int)
}

// flush writes completed weeks, registered user types and the weekly
// optimiser observation. all forces the in-progress week out too.
func (t *Tracker) flush(ctx context.Context, all bool) {
	now := t.now()
	current := weekStart(now)

	t.mu.Lock()
	for userID, w := range t.users {
		if w.week.Before(current) || (all && w.events > 0) {
			t.rollLocked(userID, w, current)
		}
	}
	rows := t.pending
	t.pending = nil
	types := t.types
	t.types = make(map[string]core.UserType)
	t.mu.Unlock()

	for i := range rows {
		t.scoreEffect(ctx, &rows[i])
		if err := t.db.UpsertStrategyEffect(ctx, &rows[i].row); err != nil {
			t.log.Error().Err(err).Str("user_id", rows[i].row.UserID).Msg("Aggregate row write failed, re-queued")
			t.requeue(rows[i:])
			break
		}
		metrics.EffectRowsWritten.Inc()
	}

	for userID, typ := range types {
		if err := t.db.UpsertUserType(ctx, userID, string(typ), now); err != nil {
			t.log.Warn().Err(err).Str("user_id", userID).Msg("User type write failed, re-queued")
			t.mu.Lock()
			if _, ok := t.types[userID]; !ok {
				t.types[userID] = typ
			}
			t.mu.Unlock()
		}
	}

	t.feedOptimizer(ctx, current)
}

// scoreEffect fills in the post−pre reward difference when the user's modal
// strategy changed at this week's start. Both windows read the decision
// log's attributed rewards; an immature or empty window leaves the score
// null for a later recomputation.
func (t *Tracker) scoreEffect(ctx context.Context, p *pendingRow) {
	if !p.modalChanged {
		return
	}
	at := p.row.WeekStart

	pre, npre, err := t.db.MeanReward(ctx, p.row.UserID, at.Add(-effectWindow), at)
	if err != nil {
		t.log.Warn().Err(err).Str("user_id", p.row.UserID).Msg("Effect pre-window query failed")
		return
	}
	post, npost, err := t.db.MeanReward(ctx, p.row.UserID, at, at.Add(effectWindow))
	if err != nil {
		t.log.Warn().Err(err).Str("user_id", p.row.UserID).Msg("Effect post-window query failed")
		return
	}
	if npre == 0 || npost == 0 {
		return
	}
	effect := post - pre
	p.row.EffectScore = &effect
}

// feedOptimizer records one observation per completed week not yet fed,
// oldest first so the optimiser sees them in order.
func (t *Tracker) feedOptimizer(ctx context.Context, current time.Time) {
	if t.opt == nil {
		return
	}

	t.mu.Lock()
	lastFed := t.lastFed
	t.mu.Unlock()

	latest := current.AddDate(0, 0, -7)
	week := lastFed.AddDate(0, 0, 7)
	if lastFed.IsZero() {
		week = latest
	}

	for ; !week.After(latest); week = week.AddDate(0, 0, 7) {
		score, users, err := t.db.WeeklyScore(ctx, week)
		if err != nil {
			t.log.Warn().Err(err).Time("week", week).Msg("Weekly score query failed")
			return
		}
		if users > 0 {
			if err := t.opt.RecordEvaluation(t.params, score); err != nil {
				t.log.Warn().Err(err).Msg("Optimizer rejected weekly observation")
			} else {
				metrics.OptimizerObservationsFed.Inc()
				t.log.Info().Time("week", week).Float64("score", score).Int64("users", users).
					Msg("Weekly score recorded into the optimizer")
			}
		}
		t.mu.Lock()
		t.lastFed = week
		t.mu.Unlock()
	}
}

// backfill replays persisted weekly scores into a fresh optimiser, so a
// restart does not forget the evidence the search already paid for.
func (t *Tracker) backfill(ctx context.Context) {
	if t.opt == nil {
		return
	}
	current := weekStart(t.now())
	rows, err := t.db.WeeklyScores(ctx, current.AddDate(0, 0, -7*backfillWeeks))
	if err != nil {
		t.log.Warn().Err(err).Msg("Weekly score backfill failed")
		return
	}

	fed := 0
	for _, row := range rows {
		if !row.WeekStart.Before(current) || row.Users == 0 {
			continue
		}
		if err := t.opt.RecordEvaluation(t.params, row.Score); err != nil {
			t.log.Warn().Err(err).Time("week", row.WeekStart).Msg("Optimizer rejected backfill observation")
			continue
		}
		fed++
		t.mu.Lock()
		if row.WeekStart.After(t.lastFed) {
			t.lastFed = row.WeekStart
		}
		t.mu.Unlock()
	}
	if fed > 0 {
		t.log.Info().Int("weeks", fed).Msg("Optimizer backfilled from persisted weekly scores")
	}
}

// requeue puts unwritten rows back for the next flush, newest kept.
func (t *Tracker) requeue(rows []pendingRow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := pendingCap - len(t.pending)
	if room <= 0 {
		return
	}
	if len(rows) > room {
		rows = rows[len(rows)-room:]
	}
	t.pending = append(rows, t.pending...)
}

func newUserWeek(week time.Time) *userWeek {
	return &userWeek{
		week:       week,
		rewards:    newWindow(windowCap),
		fatigue:    newWindow(windowCap),
		strategies: make(map[string]int),
	}
}

// modalStrategy picks the most-played strategy key; ties break
// lexicographically so the roll is deterministic.
func modalStrategy(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestN := "", 0
	for _, k := range keys {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}

// weekStart truncates to the UTC Monday the instant belongs to.
func weekStart(at time.Time) time.Time {
	at = at.UTC()
	d := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func meanOrZero(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}

func cloneMix(mix map[core.UserType]float64) map[core.UserType]float64 {
	out := make(map[core.UserType]float64, len(mix))
	for k, v := range mix {
		out[k] = v
	}
	return out
}

// window is a fixed-capacity sliding buffer.
type window struct {
	vals []float64
	next int
	full bool
}

func newWindow(capacity int) *window {
	return &window{vals: make([]float64, 0, capacity)}
}

func (w *window) push(v float64) {
	if !w.full && len(w.vals) < cap(w.vals) {
		w.vals = append(w.vals, v)
		return
	}
	w.full = true
	w.vals[w.next] = v
	w.next = (w.next + 1) % len(w.vals)
}

// values returns the window contents; order is irrelevant to the moments
// computed over it.
func (w *window) values() []float64 { return w.vals }

func (w *window) reset() {
	w.vals = w.vals[:0]
	w.next = 0
	w.full = false
}
