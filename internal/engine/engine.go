// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package engine runs the per-event decision pipeline: perception update,
// cognitive modeling, ensemble selection, guardrails, reward computation
// and model update, all inside one per-user critical section, with
// persistence decoupled behind the store writer.
//
// Bundles live in an LRU registry; a miss restores the user's latest
// snapshot from the snapshot store and a cold miss starts at the priors.
// Eviction snapshots the bundle under the same lock the pipeline takes, so
// nothing learned is lost between residencies.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/cache"
	"github.com/tomtom215/amas/internal/coldstart"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/ensemble"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
	"github.com/tomtom215/amas/internal/store"
	"github.com/tomtom215/amas/internal/worker"
)

// acquireAttempts bounds how often one call retries a bundle lost to a
// concurrent eviction before giving up.
const acquireAttempts = 3

// Fallback snapshot cadence when the config carries zeroes (tests build
// partial configs; Load fills these for production).
const (
	defaultSnapshotEveryN = 25
	defaultSnapshotMaxAge = 5 * time.Minute
)

// Sampler receives one sample per committed decision, feeding the weekly
// aggregates. Called inside the user's critical section: implementations
// must return quickly and never call back into the engine.
type Sampler interface {
	RecordSample(s core.StatsSample)
}

// Engine owns the per-user bundles and runs the decision pipeline.
// Everything it depends on may be nil except the config: without a
// snapshot store bundles materialise at the priors, without a writer
// nothing persists, without a pool the numeric paths run in-process, and
// without a prior source cold-start classifies against the uniform prior.
type Engine struct {
	cfg    *config.Config
	reward rewardWeights

	snapEveryN int
	snapMaxAge time.Duration

	registry *cache.Registry[*Bundle]
	snaps    *store.SnapshotStore
	writer   *store.Writer
	pool     *worker.Pool
	priors   coldstart.PriorSource
	sampler  Sampler

	nodeID string
	log    zerolog.Logger
}

// New wires an engine from its stores and the worker pool.
func New(cfg *config.Config, snaps *store.SnapshotStore, writer *store.Writer, pool *worker.Pool, priors coldstart.PriorSource, sampler Sampler) (*Engine, error) {
	const op = "engine.New"

	if cfg == nil {
		return nil, amaserr.Ef(amaserr.KindConfigViolation, op, "nil config")
	}
	f := cfg.Features
	if !f.LinUCB && !f.Thompson && !f.ACTR && !f.Heuristic {
		return nil, amaserr.Ef(amaserr.KindConfigViolation, op, "every learner is disabled")
	}

	e := &Engine{
		cfg:        cfg,
		reward:     profileWeights(cfg.Reward.Profile),
		snapEveryN: cfg.Persist.SnapshotEveryN,
		snapMaxAge: cfg.Persist.SnapshotMaxAge,
		snaps:      snaps,
		writer:     writer,
		pool:       pool,
		priors:     priors,
		sampler:    sampler,
		nodeID:     nodeID(),
		log:        logging.WithComponent("engine"),
	}
	if e.snapEveryN <= 0 {
		e.snapEveryN = defaultSnapshotEveryN
	}
	if e.snapMaxAge <= 0 {
		e.snapMaxAge = defaultSnapshotMaxAge
	}
	e.registry = cache.NewRegistry[*Bundle](cfg.Cache.MaxBundles, cfg.Cache.BundleTTL, e.onEvict)

	e.log.Info().
		Str("reward_profile", cfg.Reward.Profile).
		Int("snapshot_every_n", e.snapEveryN).
		Dur("snapshot_max_age", e.snapMaxAge).
		Bool("offload", pool != nil).
		Msg("Engine initialised")
	return e, nil
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "amas-node"
	}
	return host
}

// Registry exposes the bundle cache for introspection.
func (e *Engine) Registry() *cache.Registry[*Bundle] { return e.registry }

// Serve runs the registry's idle sweeper until ctx ends, then drains every
// resident bundle so each gets a final snapshot through the eviction
// callback. The store writer must still be accepting snapshots when this
// returns, so in the supervision tree the writer outlives the engine.
func (e *Engine) Serve(ctx context.Context) error {
	err := e.registry.Serve(ctx)
	drained := e.registry.Drain()
	e.log.Info().Int("bundles", drained).Msg("Engine drained bundles at shutdown")
	return err
}

// String names the service in supervisor logs.
func (e *Engine) String() string { return "engine" }

// ProcessEvent runs the full pipeline for one event and returns the
// decision. The context deadline bounds the numeric work: once it passes,
// the pipeline stops issuing worker calls and skips the model update, but
// a decision is still emitted and partial state still persists. A panic
// anywhere in the pipeline is contained to this user and converted into a
// fallback decision.
func (e *Engine) ProcessEvent(ctx context.Context, userID, sessionID string, raw core.RawEvent) (decision core.Decision, err error) {
	const op = "engine.ProcessEvent"
	started := time.Now()

	if userID == "" {
		return core.Decision{}, amaserr.Ef(amaserr.KindInputSanitisation, op, "empty user id")
	}
	event := raw.Clamp(started.UTC())
	if verr := event.Validate(); verr != nil {
		metrics.SanitisedInputs.WithLabelValues("event").Inc()
		return core.Decision{}, amaserr.E(amaserr.KindInputSanitisation, op, verr)
	}

	b, unlock, err := e.acquire(ctx, userID)
	if err != nil {
		return core.Decision{}, err
	}
	defer unlock()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("user_id", userID).Msg("Pipeline panic recovered")
			metrics.StateCorruptions.WithLabelValues("pipeline").Inc()
			decision = e.fallbackDecision(b)
			metrics.DecisionsTotal.WithLabelValues(string(core.SourceFallback), string(b.voter.Phase())).Inc()
			metrics.DecisionDuration.WithLabelValues(string(core.SourceFallback)).Observe(time.Since(started).Seconds())
			err = nil
		}
	}()

	return e.processLocked(ctx, b, userID, sessionID, event, started), nil
}

// processLocked is the pipeline proper; the caller holds b.mu.
func (e *Engine) processLocked(ctx context.Context, b *Bundle, userID, sessionID string, event core.RawEvent, started time.Time) core.Decision {
	tb := newTraceBuilder(e.nodeID, started)

	deadlineHit := false
	expired := func() bool {
		if ctx.Err() == nil {
			return false
		}
		if !deadlineHit {
			deadlineHit = true
			metrics.EventDeadlineExceeded.Inc()
			e.log.Warn().Str("user_id", userID).Msg("Event deadline exceeded mid-pipeline")
		}
		return true
	}

	// Perception. The word's review history is read before the event is
	// folded in, so the trace describes the past, not the present.
	wordTrace := b.perception.WordTrace(event.WordID, event.Timestamp)
	summary := b.perception.Observe(event)
	tb.stage("perception",
		fmt.Sprintf("word=%s correct=%t rt=%.0fms", event.WordID, event.IsCorrect, event.ResponseTimeMs),
		fmt.Sprintf("events=%d error_rate=%.2f streak=%d/%d", summary.EventCount, summary.ErrorRate, summary.SuccessStreak, summary.FailureStreak),
		nil)

	state := b.models.Update(event, summary)
	tb.stage("modeling",
		fmt.Sprintf("gap=%.0fs session=%.1fm", summary.GapSeconds, summary.SessionMinutes),
		fmt.Sprintf("attention=%.2f fatigue=%.2f motivation=%.2f trend=%s", state.Attention, state.Fatigue, state.Motivation, state.Trend),
		nil)

	dctx := core.NewDecisionContext(summary.ErrorRate, summary.ResponseTimeMs.Mean, event.Timestamp, wordTrace)

	// Selection. The offloaded member runs under this event's deadline; a
	// pool refusal falls back in-process inside the decorator.
	if b.offload != nil {
		b.offload.bind(ctx)
		defer b.offload.release()
	}
	candidates := actionspace.All()
	sel, serr := b.voter.Select(state, candidates, dctx)
	if serr != nil {
		e.log.Error().Err(serr).Str("user_id", userID).Msg("Selection failed, serving the fallback action")
		sel = fallbackSelection(b.voter.Phase())
	}
	tb.stage("selection",
		fmt.Sprintf("candidates=%d", len(candidates)),
		fmt.Sprintf("source=%s phase=%s action=%s confidence=%.2f", sel.Source, sel.Phase, sel.Action.Key(), sel.Confidence),
		nil)

	res := b.guard.Apply(state, sel.Action)
	var guardMD map[string]string
	if len(res.Applied) > 0 {
		guardMD = map[string]string{"rules": strings.Join(res.Applied, ",")}
	}
	tb.stage("guardrails", sel.Action.Key(), res.Action.Key(), guardMD)

	reward, rewardOK := computeReward(e.reward, event, state)
	if rewardOK {
		metrics.RewardComputed.Observe(reward)
	} else {
		metrics.SanitisedInputs.WithLabelValues("reward").Inc()
		e.log.Warn().Str("user_id", userID).Msg("Non-finite reward intermediate, skipping the model update")
	}
	tb.stage("reward",
		fmt.Sprintf("correct=%t retries=%d dwell=%.0fms", event.IsCorrect, event.RetryCount, event.DwellTimeMs),
		fmt.Sprintf("reward=%.3f ok=%t", reward, rewardOK),
		nil)

	// This event's reward grades the previous decision: its record was
	// queued before this one, so the attribution lands after the insert.
	// Persistence enqueues run on a background context deliberately; a
	// blown event deadline must not lose writes.
	if rewardOK && b.lastRecordID != "" && e.writer != nil {
		if werr := e.writer.EnqueueReward(context.Background(), b.lastRecordID, reward); werr != nil {
			e.log.Warn().Err(werr).Str("record_id", b.lastRecordID).Msg("Reward attribution enqueue failed")
		}
		b.lastRecordID = ""
	}

	switch {
	case !rewardOK:
		// Update skipped; the learners never see a non-finite reward.
	case expired():
		// Deadline passed: no further worker calls, the model misses one
		// reward, the decision still emits and persists.
	default:
		if uerr := b.voter.Update(state, res.Action, reward, dctx); uerr != nil {
			e.log.Error().Err(uerr).Str("user_id", userID).Msg("Ensemble update failed")
		}
	}
	tb.stage("update", fmt.Sprintf("reward=%.3f", reward), fmt.Sprintf("phase=%s", b.voter.Phase()), nil)

	b.seq++
	tb.stage("persistence",
		fmt.Sprintf("seq=%d", b.seq),
		fmt.Sprintf("cadence=%d/%d", b.updatesSinceSnap+1, e.snapEveryN),
		nil)

	rec := &core.DecisionRecord{
		ID:              uuid.NewString(),
		UserID:          userID,
		SessionID:       sessionID,
		Timestamp:       event.Timestamp,
		Seq:             b.seq,
		Source:          sel.Source,
		Phase:           sel.Phase,
		Weights:         sel.Weights,
		Votes:           sel.Votes,
		Action:          res.Action,
		Confidence:      sel.Confidence,
		Trace:           tb.trace(),
		TotalDurationMs: float64(time.Since(started).Microseconds()) / 1000,
	}
	if e.writer != nil {
		if werr := e.writer.EnqueueRecord(context.Background(), rec); werr != nil {
			e.log.Warn().Err(werr).Str("record_id", rec.ID).Msg("Decision record dropped")
		} else {
			b.lastRecordID = rec.ID
		}
	}

	explanation := explanationSummary(sel, res)
	b.lastAction = res.Action
	b.lastState = state
	b.lastExplanation = explanation
	b.haveDecision = true

	if e.sampler != nil {
		e.sampler.RecordSample(core.StatsSample{
			UserID:    userID,
			Timestamp: event.Timestamp,
			Correct:   event.IsCorrect,
			Reward:    reward,
			RewardOK:  rewardOK,
			Fatigue:   state.Fatigue,
			Strategy:  res.Action.Key(),
			UserType:  b.voter.UserType(),
			Phase:     sel.Phase,
		})
	}

	// Snapshot last, after every commit of this event, so a restore from
	// it resumes exactly here, reward attribution included.
	e.maybeSnapshot(b, userID)

	metrics.DecisionsTotal.WithLabelValues(string(sel.Source), string(sel.Phase)).Inc()
	metrics.DecisionDuration.WithLabelValues(string(sel.Source)).Observe(time.Since(started).Seconds())

	return core.Decision{Action: res.Action, State: state, Explanation: explanation}
}

// maybeSnapshot enqueues a full bundle snapshot every N updates or after
// the max age, whichever comes first. The cadence only resets on a
// successful enqueue, so a full snapshot queue retries on the next event.
func (e *Engine) maybeSnapshot(b *Bundle, userID string) {
	b.updatesSinceSnap++
	if e.writer == nil {
		return
	}
	if b.updatesSinceSnap < e.snapEveryN && time.Since(b.lastSnapAt) < e.snapMaxAge {
		return
	}

	payload, err := b.snapshot(userID)
	if err != nil {
		e.log.Error().Err(err).Str("user_id", userID).Msg("Bundle snapshot failed")
		return
	}
	if err := e.writer.EnqueueSnapshot(userID, bundleVersion, payload); err != nil {
		e.log.Debug().Err(err).Str("user_id", userID).Msg("Snapshot enqueue dropped, retrying on the next event")
		return
	}
	b.updatesSinceSnap = 0
	b.lastSnapAt = time.Now()
}

// GetStrategy returns the last committed decision for the user without
// advancing any model state. Users with no decisions yet get the neutral
// starter strategy, so callers always have something to schedule with.
func (e *Engine) GetStrategy(ctx context.Context, userID string) (core.Decision, error) {
	const op = "engine.GetStrategy"

	if userID == "" {
		return core.Decision{}, amaserr.Ef(amaserr.KindInputSanitisation, op, "empty user id")
	}
	b, unlock, err := e.acquire(ctx, userID)
	if err != nil {
		return core.Decision{}, err
	}
	defer unlock()

	if b.haveDecision {
		return core.Decision{Action: b.lastAction, State: b.lastState, Explanation: b.lastExplanation}, nil
	}
	_, action := neutralAction()
	return core.Decision{
		Action:      action,
		State:       b.models.State(time.Now().UTC()),
		Explanation: "no committed decision yet; neutral starter strategy",
	}, nil
}

// EnsembleStatus is the live view of one user's ensemble: the cold-start
// phase, the classified type and the current member weights.
type EnsembleStatus struct {
	UserID   string             `json:"user_id"`
	Phase    core.Phase         `json:"phase"`
	UserType core.UserType      `json:"user_type"`
	Weights  map[string]float64 `json:"weights"`
	Seq      uint64             `json:"seq"`
}

// EnsembleStatus reports the user's ensemble internals without advancing
// any model state. Inspection surface for operators; decisions never read
// through it.
func (e *Engine) EnsembleStatus(ctx context.Context, userID string) (EnsembleStatus, error) {
	const op = "engine.EnsembleStatus"

	if userID == "" {
		return EnsembleStatus{}, amaserr.Ef(amaserr.KindInputSanitisation, op, "empty user id")
	}
	b, unlock, err := e.acquire(ctx, userID)
	if err != nil {
		return EnsembleStatus{}, err
	}
	defer unlock()

	return EnsembleStatus{
		UserID:   userID,
		Phase:    b.voter.Phase(),
		UserType: b.voter.UserType(),
		Weights:  b.voter.WeightsMap(),
		Seq:      b.seq,
	}, nil
}

// Snapshot serialises the user's current bundle, materialising it first if
// needed.
func (e *Engine) Snapshot(ctx context.Context, userID string) ([]byte, error) {
	const op = "engine.Snapshot"

	if userID == "" {
		return nil, amaserr.Ef(amaserr.KindInputSanitisation, op, "empty user id")
	}
	b, unlock, err := e.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return b.snapshot(userID)
}

// Restore replaces the user's bundle state from a snapshot payload and
// persists the payload, so the restore survives an immediate eviction or
// restart.
func (e *Engine) Restore(ctx context.Context, userID string, payload []byte) error {
	const op = "engine.Restore"

	if userID == "" {
		return amaserr.Ef(amaserr.KindInputSanitisation, op, "empty user id")
	}
	if len(payload) == 0 {
		return amaserr.Ef(amaserr.KindInputSanitisation, op, "empty payload")
	}
	b, unlock, err := e.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.restoreBundle(b, payload); err != nil {
		return err
	}
	if e.writer != nil {
		if werr := e.writer.EnqueueSnapshot(userID, bundleVersion, payload); werr != nil {
			e.log.Warn().Err(werr).Str("user_id", userID).Msg("Restored snapshot enqueue dropped")
		}
	}
	return nil
}

// acquire returns the user's bundle with its critical section held. The
// returned unlock must be called exactly once. A bundle lost to a
// concurrent eviction is retried against a fresh materialisation, which
// picks up the eviction snapshot.
func (e *Engine) acquire(ctx context.Context, userID string) (*Bundle, func(), error) {
	const op = "engine.acquire"

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, amaserr.E(amaserr.KindTimeout, op, err)
		}

		b, ok := e.registry.Get(userID)
		if !ok {
			b, _ = e.registry.GetOrPut(userID, e.materialise(ctx, userID))
		}

		b.mu.Lock()
		if b.evicted {
			b.mu.Unlock()
			continue
		}
		return b, b.mu.Unlock, nil
	}
	return nil, nil, amaserr.Ef(amaserr.KindTimeout, op, "bundle for %s evicted %d times in a row", userID, acquireAttempts)
}

// materialise builds the bundle for a non-resident user: restore the
// latest snapshot when one exists, otherwise start at the priors. Store
// trouble degrades to a fresh bundle; decisions keep flowing.
func (e *Engine) materialise(ctx context.Context, userID string) *Bundle {
	b := e.newBundle()
	if e.snaps == nil {
		return b
	}

	payload, meta, err := e.snaps.Get(ctx, userID)
	switch {
	case err == nil:
		if rerr := e.restoreBundle(b, payload); rerr != nil {
			e.log.Warn().Err(rerr).Str("user_id", userID).Int("version", meta.Version).
				Msg("Stored snapshot rejected, starting fresh")
			metrics.StateCorruptions.WithLabelValues("bundle").Inc()
			b = e.newBundle()
		}
	case errors.Is(err, store.ErrNoSnapshot):
		// First sighting of this user.
	default:
		e.log.Warn().Err(err).Str("user_id", userID).Msg("Snapshot load failed, starting fresh")
	}
	return b
}

// onEvict snapshots an evicted bundle so nothing learned is lost. It runs
// outside the registry lock and takes the bundle's critical section: a
// pipeline racing the eviction either finishes first and has its updates
// land in this snapshot, or observes evicted and re-materialises from it.
func (e *Engine) onEvict(userID string, b *Bundle, reason string) {
	b.mu.Lock()
	b.evicted = true
	payload, err := b.snapshot(userID)
	b.mu.Unlock()

	if err != nil {
		e.log.Error().Err(err).Str("user_id", userID).Str("reason", reason).Msg("Eviction snapshot failed")
		return
	}
	if e.writer == nil {
		return
	}
	if err := e.writer.EnqueueSnapshot(userID, bundleVersion, payload); err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Str("reason", reason).Msg("Eviction snapshot dropped")
	}
}

// fallbackDecision serves the last committed action, or the neutral
// starter when there is none. Used when the pipeline itself failed.
func (e *Engine) fallbackDecision(b *Bundle) core.Decision {
	if b.haveDecision {
		return core.Decision{Action: b.lastAction, State: b.lastState, Explanation: "fallback: last committed decision"}
	}
	_, action := neutralAction()
	return core.Decision{Action: action, Explanation: "fallback: neutral starter strategy"}
}

// fallbackSelection is the selection-stage fallback: the neutral starter
// action at zero confidence, tagged so the record shows the path taken.
func fallbackSelection(phase core.Phase) ensemble.Selection {
	idx, action := neutralAction()
	return ensemble.Selection{
		Index:  idx,
		Action: action,
		Source: core.SourceFallback,
		Phase:  phase,
	}
}

// neutralAction is the starter strategy: the catalogue entry nearest to
// unchanged intervals, a low new-material ratio, mid difficulty, a
// ten-item batch and partial hints.
func neutralAction() (int, actionspace.Action) {
	target := actionspace.Action{
		IntervalScale: 1.0,
		NewRatio:      0.2,
		Difficulty:    actionspace.DifficultyMid,
		BatchSize:     10,
		HintLevel:     1,
	}
	if idx, ok := actionspace.Lookup(target); ok {
		return idx, target
	}

	all := actionspace.All()
	best := 0
	for i := 1; i < len(all); i++ {
		if actionspace.Distance(all[i], target) < actionspace.Distance(all[best], target) {
			best = i
		}
	}
	return best, all[best]
}
