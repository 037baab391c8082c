// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package engine

import (
	"context"
	"math"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/learning"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/worker"
)

// linucbOffload routes the LinUCB hot paths through the worker pool while
// the model itself stays inside the owner bundle. Selection ships deep
// copies of the factor state; updates ship copies and import the returned
// matrices back inside the bundle's critical section, so a half-finished
// worker task can never leave a torn factor behind. Any pool refusal
// (queue full, deadline, numeric failure) falls back to the in-process
// implementation: offloading is an optimisation, never a correctness
// dependency.
//
// Not safe for concurrent use. The bundle lock serialises every call,
// including bind/release around each event.
type linucbOffload struct {
	inner *learning.LinUCB
	pool  *worker.Pool
	ctx   context.Context
	log   zerolog.Logger
}

var _ learning.Learner = (*linucbOffload)(nil)

func newLinUCBOffload(inner *learning.LinUCB, pool *worker.Pool) *linucbOffload {
	return &linucbOffload{
		inner: inner,
		pool:  pool,
		log:   logging.WithComponent("linucb-offload"),
	}
}

// bind sets the deadline the next Select/Update run under; release clears
// it so a finished event's deadline can never leak into the next one.
func (o *linucbOffload) bind(ctx context.Context) { o.ctx = ctx }

func (o *linucbOffload) release() { o.ctx = nil }

func (o *linucbOffload) context() context.Context {
	if o.ctx != nil {
		return o.ctx
	}
	return context.Background()
}

// Name implements Learner; the offload is invisible in votes and snapshots.
func (o *linucbOffload) Name() string { return o.inner.Name() }

// Select offloads the UCB arg-max over the candidate feature vectors.
func (o *linucbOffload) Select(state core.UserState, actions []actionspace.Action, ctx core.DecisionContext) (learning.Scores, error) {
	if o.pool == nil {
		return o.inner.Select(state, actions, ctx)
	}

	_, chol, b, _ := o.inner.ExportState()
	resp, err := o.pool.Submit(o.context(), worker.Request{
		Kind:    worker.KindLinUCBSelect,
		Chol:    chol,
		B:       b,
		Alpha:   o.inner.EffectiveAlpha(state, ctx),
		Vectors: learning.BuildFeatureMatrix(state, actions, ctx),
	})
	if err != nil {
		o.log.Debug().Err(err).Msg("offloaded select fell back in-process")
		return o.inner.Select(state, actions, ctx)
	}

	sel := resp.Selection
	return learning.Scores{
		Values:       sel.Values,
		Best:         sel.Best,
		Confidence:   sel.Width,
		Exploitation: sel.Exploitation,
		Exploration:  sel.Exploration,
	}, nil
}

// Update offloads the design-matrix update and imports the returned
// matrices. Non-finite rewards go straight to the in-process path, which
// keeps them a contractual no-op.
func (o *linucbOffload) Update(state core.UserState, action actionspace.Action, reward float64, ctx core.DecisionContext) error {
	if o.pool == nil || math.IsNaN(reward) || math.IsInf(reward, 0) {
		return o.inner.Update(state, action, reward, ctx)
	}

	a, chol, b, updates := o.inner.ExportState()
	resp, err := o.pool.Submit(o.context(), worker.Request{
		Kind:   worker.KindLinUCBUpdate,
		A:      a,
		Chol:   chol,
		B:      b,
		X:      learning.BuildFeatures(state, action, ctx),
		Reward: clamp(reward, -1, 1),
		Lambda: o.inner.Lambda(),
	})
	if err != nil {
		o.log.Debug().Err(err).Msg("offloaded update fell back in-process")
		return o.inner.Update(state, action, reward, ctx)
	}
	if !resp.Success {
		o.log.Warn().Uint64("updates", updates).Msg("rank-1 factor update abandoned on worker, re-decomposed")
	}
	return o.inner.ImportState(resp.A, resp.Chol, resp.B, updates+1)
}

// Snapshot and Restore pass straight through; the wire format is the
// model's own.
func (o *linucbOffload) Snapshot() (json.RawMessage, error) { return o.inner.Snapshot() }

func (o *linucbOffload) Restore(raw json.RawMessage) error { return o.inner.Restore(raw) }
