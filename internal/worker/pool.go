// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package worker runs the CPU-heavy numeric paths off the event loop: LinUCB
// selection and update, Cholesky maintenance and GP suggestion.
//
// Workers hold no user state. A request carries copies of the numeric
// arrays it needs, the worker computes on those copies, and the response
// hands them back; the orchestrator decides inside the user's critical
// section whether to write results into the owning bundle. Because every
// task is pure, a caller whose deadline expires simply abandons the result.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/gp"
	"github.com/tomtom215/amas/internal/learning"
	"github.com/tomtom215/amas/internal/linalg"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
)

// Kind tags a pool request.
type Kind string

// The five task kinds of the worker protocol.
const (
	KindLinUCBSelect  Kind = "linucb_select"
	KindLinUCBUpdate  Kind = "linucb_update"
	KindCholesky      Kind = "cholesky_decompose"
	KindCholeskyRank1 Kind = "cholesky_rank1_update"
	KindGPSuggest     Kind = "gp_suggest"
)

// Request is the tagged union of task payloads; only the fields of the
// tagged kind are read. All arrays must be copies the caller is willing to
// give up: update kinds mutate them in place.
type Request struct {
	Kind Kind

	// Chol, B, A and X are the LinUCB factor, reward vector, design
	// matrix and feature vector as each kind needs them.
	Chol [][]float64
	B    []float64
	A    [][]float64
	X    []float64

	// Vectors holds the candidate feature vectors for linucb_select.
	Vectors [][]float64

	// Alpha, Reward and Lambda parameterise selection, update and
	// decomposition.
	Alpha  float64
	Reward float64
	Lambda float64

	// GP holds the gp_suggest search input.
	GP gp.SearchSpec
}

// Response carries the result for the request's kind. Update kinds return
// the mutated arrays; Success reports whether the numerically fragile path
// held.
type Response struct {
	// linucb_select
	Selection learning.VectorSelection

	// linucb_update, cholesky_decompose, cholesky_rank1_update
	A       [][]float64
	B       []float64
	Chol    [][]float64
	Success bool

	// gp_suggest
	Suggestion gp.Suggestion
}

type task struct {
	ctx context.Context
	req Request
	out chan outcome
}

type outcome struct {
	resp Response
	err  error
}

// Pool is the process-wide worker pool. Construct with NewPool, run via
// Serve under the supervisor, submit with Submit.
type Pool struct {
	size  int
	queue chan task
	log   zerolog.Logger
}

// NewPool sizes the pool to min(GOMAXPROCS, cfg.Size) workers with a
// bounded queue.
func NewPool(cfg config.WorkerPoolConfig) *Pool {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		size:  cfg.EffectiveSize(),
		queue: make(chan task, queueSize),
		log:   logging.WithComponent("worker"),
	}
}

// Size reports the number of workers Serve starts.
func (p *Pool) Size() int { return p.size }

// Serve runs the workers until the context ends.
func (p *Pool) Serve(ctx context.Context) error {
	p.log.Info().Int("workers", p.size).Int("queue", cap(p.queue)).Msg("worker pool starting")

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.run(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// String names the service in supervisor logs.
func (p *Pool) String() string { return "worker-pool" }

func (p *Pool) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
			if t.ctx.Err() != nil {
				metrics.WorkerTasksTotal.WithLabelValues(string(t.req.Kind), "abandoned").Inc()
				continue
			}

			start := time.Now()
			resp, err := execute(t.req)
			metrics.WorkerTaskDuration.WithLabelValues(string(t.req.Kind)).Observe(time.Since(start).Seconds())

			result := "ok"
			if err != nil {
				result = "error"
			}
			metrics.WorkerTasksTotal.WithLabelValues(string(t.req.Kind), result).Inc()

			t.out <- outcome{resp: resp, err: err}
		}
	}
}

// Submit queues one task and waits for its result. When ctx expires before
// a worker picks the task up or finishes it, Submit returns a timeout error
// and the eventual result is discarded; the request arrays were copies, so
// nothing shared is left half-written.
func (p *Pool) Submit(ctx context.Context, req Request) (Response, error) {
	t := task{ctx: ctx, req: req, out: make(chan outcome, 1)}

	select {
	case p.queue <- t:
		metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
	case <-ctx.Done():
		metrics.WorkerTasksTotal.WithLabelValues(string(req.Kind), "rejected").Inc()
		return Response{}, amaserr.E(amaserr.KindTimeout, "worker.Pool.Submit", ctx.Err())
	}

	select {
	case r := <-t.out:
		return r.resp, r.err
	case <-ctx.Done():
		metrics.WorkerTasksTotal.WithLabelValues(string(req.Kind), "abandoned").Inc()
		return Response{}, amaserr.E(amaserr.KindTimeout, "worker.Pool.Submit", ctx.Err())
	}
}

// execute dispatches one request. Pure: owns only the request's arrays.
func execute(req Request) (Response, error) {
	switch req.Kind {
	case KindLinUCBSelect:
		sel, err := learning.SelectVectors(req.Chol, req.B, req.Alpha, req.Vectors)
		if err != nil {
			return Response{}, err
		}
		return Response{Selection: sel}, nil

	case KindLinUCBUpdate:
		ok, err := learning.UpdateVectors(req.A, req.Chol, req.B, req.X, req.Reward, req.Lambda)
		if err != nil {
			return Response{A: req.A, B: req.B, Chol: req.Chol}, err
		}
		return Response{A: req.A, B: req.B, Chol: req.Chol, Success: ok}, nil

	case KindCholesky:
		chol, err := linalg.Cholesky(req.A, len(req.A), req.Lambda)
		if err != nil {
			return Response{}, err
		}
		return Response{Chol: chol, Success: true}, nil

	case KindCholeskyRank1:
		err := linalg.CholeskyRank1Update(req.Chol, req.X, len(req.X), linalg.MinDiagFor(req.Lambda))
		if err != nil {
			return Response{Chol: req.Chol}, err
		}
		return Response{Chol: req.Chol, Success: true}, nil

	case KindGPSuggest:
		sug, err := gp.SearchUCB(req.GP)
		if err != nil {
			return Response{}, err
		}
		return Response{Suggestion: sug}, nil

	default:
		return Response{}, amaserr.Ef(amaserr.KindInputSanitisation, "worker.execute", "unknown task kind %q", req.Kind)
	}
}
