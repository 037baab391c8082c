// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/coldstart"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/ensemble"
	"github.com/tomtom215/amas/internal/guardrails"
	"github.com/tomtom215/amas/internal/learning"
	"github.com/tomtom215/amas/internal/metrics"
	"github.com/tomtom215/amas/internal/modeling"
	"github.com/tomtom215/amas/internal/perception"
)

// bundleVersion is the snapshot envelope version this build writes and the
// newest it will restore.
const bundleVersion = 1

// Bundle is the complete per-user model state: behavioural windows, the
// cognitive sub-models, the ensemble with its cold-start front, and the
// guardrail smoothing state. One mutex serialises the whole pipeline for
// one user; eviction takes the same lock, so a bundle is only ever mutated
// inside its critical section.
type Bundle struct {
	mu sync.Mutex

	// evicted marks a bundle that has left the registry. A pipeline that
	// raced the eviction re-materialises from the eviction snapshot
	// instead of mutating the orphan.
	evicted bool

	perception *perception.Tracker
	models     *modeling.Models
	voter      *ensemble.Voter
	guard      *guardrails.Guard

	// offload is the pool-backed LinUCB member, nil without a pool. Held
	// here so each event can bind its deadline to the worker calls.
	offload *linucbOffload

	// Last committed decision, served by read-only strategy queries and
	// graded by the next event's reward.
	seq             uint64
	lastRecordID    string
	lastAction      actionspace.Action
	lastState       core.UserState
	lastExplanation string
	haveDecision    bool

	updatesSinceSnap int
	lastSnapAt       time.Time
}

// buildVoter assembles the enabled learners and the cold-start manager
// into a fresh voter at the priors.
func (e *Engine) buildVoter() (*ensemble.Voter, *linucbOffload) {
	var (
		members []learning.Learner
		offload *linucbOffload
	)

	if e.cfg.Features.LinUCB {
		linucb := learning.NewLinUCB(learning.LinUCBConfig{
			Alpha:  e.cfg.LinUCB.Alpha,
			Lambda: e.cfg.LinUCB.Lambda,
			Dim:    e.cfg.Feature.Dimension,
		})
		if e.pool != nil {
			offload = newLinUCBOffload(linucb, e.pool)
			members = append(members, offload)
		} else {
			members = append(members, linucb)
		}
	}
	if e.cfg.Features.Thompson {
		members = append(members, learning.NewThompson(learning.ThompsonConfig{}))
	}
	if e.cfg.Features.ACTR {
		members = append(members, learning.NewACTR())
	}
	if e.cfg.Features.Heuristic {
		members = append(members, learning.NewHeuristic())
	}

	coldCfg := coldstart.DefaultConfig()
	if e.cfg.ColdStart.EarlyStopThreshold > 0 {
		coldCfg.EarlyStopThreshold = e.cfg.ColdStart.EarlyStopThreshold
	}
	if e.cfg.ColdStart.MinProbes > 0 {
		coldCfg.MinProbes = e.cfg.ColdStart.MinProbes
	}

	return ensemble.NewVoter(coldstart.NewManager(coldCfg, e.priors), members...), offload
}

// newBundle assembles a fresh bundle at the priors.
func (e *Engine) newBundle() *Bundle {
	voter, offload := e.buildVoter()
	return &Bundle{
		perception: perception.New(0),
		models:     modeling.NewModels(),
		voter:      voter,
		guard:      guardrails.NewGuard(guardrails.DefaultConfig()),
		offload:    offload,
		lastSnapAt: time.Now(),
	}
}

// bundleSnapshot is the serialised form of a bundle. Sub-component
// payloads stay opaque: each component versions, validates and sanitises
// its own.
type bundleSnapshot struct {
	Version   int       `json:"version"`
	UserID    string    `json:"user_id"`
	UpdatedAt time.Time `json:"updated_at"`

	Seq             uint64             `json:"seq"`
	LastRecordID    string             `json:"last_record_id,omitempty"`
	HaveDecision    bool               `json:"have_decision"`
	LastAction      actionspace.Action `json:"last_action"`
	LastState       core.UserState     `json:"last_state"`
	LastExplanation string             `json:"last_explanation,omitempty"`

	Perception json.RawMessage `json:"perception"`
	Models     json.RawMessage `json:"models"`
	Ensemble   json.RawMessage `json:"ensemble"`
	Guard      json.RawMessage `json:"guard"`
}

// snapshot serialises the bundle. The caller must have exclusive access:
// either it holds b.mu or the bundle has not been published yet.
func (b *Bundle) snapshot(userID string) ([]byte, error) {
	perc, err := b.perception.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot perception: %w", err)
	}
	mod, err := b.models.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot models: %w", err)
	}
	ens, err := b.voter.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot ensemble: %w", err)
	}
	grd, err := b.guard.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot guardrails: %w", err)
	}

	raw, err := json.Marshal(bundleSnapshot{
		Version:         bundleVersion,
		UserID:          userID,
		UpdatedAt:       time.Now().UTC(),
		Seq:             b.seq,
		LastRecordID:    b.lastRecordID,
		HaveDecision:    b.haveDecision,
		LastAction:      b.lastAction,
		LastState:       b.lastState,
		LastExplanation: b.lastExplanation,
		Perception:      perc,
		Models:          mod,
		Ensemble:        ens,
		Guard:           grd,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal bundle snapshot: %w", err)
	}
	return raw, nil
}

// restoreBundle replaces b's state from a snapshot payload. A component
// that rejects its sub-snapshot is reset to defaults while the others keep
// their restored state; only an unusable envelope or a version written by
// a newer build is a hard error, in which case b is left untouched.
//
// The caller must have exclusive access to b.
func (e *Engine) restoreBundle(b *Bundle, payload []byte) error {
	const op = "engine.restoreBundle"

	var snap bundleSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return amaserr.E(amaserr.KindStateCorruption, op, err)
	}
	if snap.Version > bundleVersion {
		return amaserr.E(amaserr.KindStateCorruption, op,
			fmt.Errorf("bundle version %d: %w", snap.Version, amaserr.ErrSnapshotDowngrade))
	}

	if err := b.perception.Restore(snap.Perception); err != nil {
		b.perception = perception.New(0)
		metrics.StateCorruptions.WithLabelValues("perception").Inc()
		e.log.Warn().Err(err).Msg("perception snapshot rejected, starting at defaults")
	}
	if err := b.models.Restore(snap.Models); err != nil {
		b.models = modeling.NewModels()
		metrics.StateCorruptions.WithLabelValues("modeling").Inc()
		e.log.Warn().Err(err).Msg("models snapshot rejected, starting at defaults")
	}
	if err := b.voter.Restore(snap.Ensemble); err != nil {
		b.voter, b.offload = e.buildVoter()
		metrics.StateCorruptions.WithLabelValues("ensemble").Inc()
		e.log.Warn().Err(err).Msg("ensemble snapshot rejected, starting at defaults")
	}
	if err := b.guard.Restore(snap.Guard); err != nil {
		b.guard = guardrails.NewGuard(guardrails.DefaultConfig())
		metrics.StateCorruptions.WithLabelValues("guardrails").Inc()
		e.log.Warn().Err(err).Msg("guardrail snapshot rejected, starting at defaults")
	}

	b.seq = snap.Seq
	b.lastRecordID = snap.LastRecordID
	b.haveDecision = snap.HaveDecision
	b.lastAction = snap.LastAction
	b.lastState = snap.LastState
	b.lastExplanation = snap.LastExplanation
	return nil
}
