// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package store

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/database"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
)

const breakerName = "decision-log"

// DecisionLog writes decision records and reward attributions to DuckDB
// behind a circuit breaker. When DuckDB is unhealthy the breaker opens,
// writes fail fast, and the pipeline keeps making decisions; the writer
// counts the lost records.
//
// Reward attributions that hit ErrRecordNotFound or ErrRewardAlreadySet are
// domain outcomes, not storage failures, and never trip the breaker.
type DecisionLog struct {
	db      *database.DB
	breaker *gobreaker.CircuitBreaker[any]
}

// NewDecisionLog wraps db with a circuit breaker tuned for a local DuckDB:
// five consecutive failures open it, it stays open 30s, and three probe
// requests are allowed half-open.
func NewDecisionLog(db *database.DB) *DecisionLog {
	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(stateValue(to)))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Decision log circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, database.ErrRewardAlreadySet) ||
				errors.Is(err, database.ErrRecordNotFound)
		},
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return &DecisionLog{
		db:      db,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// InsertBatch appends a batch of decision records in one transaction.
func (d *DecisionLog) InsertBatch(ctx context.Context, recs []*core.DecisionRecord) error {
	return d.execute(func() error {
		return d.db.InsertDecisionRecords(ctx, recs)
	})
}

// AttributeReward sets the write-once reward on a stored record. The
// database sentinels pass through to the caller unchanged.
func (d *DecisionLog) AttributeReward(ctx context.Context, id string, reward float64) error {
	return d.execute(func() error {
		return d.db.UpdateReward(ctx, id, reward)
	})
}

// State reports the breaker state for status endpoints and tests.
func (d *DecisionLog) State() gobreaker.State {
	return d.breaker.State()
}

func (d *DecisionLog) execute(op func() error) error {
	_, err := d.breaker.Execute(func() (any, error) {
		return nil, op()
	})

	switch {
	case err == nil,
		errors.Is(err, database.ErrRewardAlreadySet),
		errors.Is(err, database.ErrRecordNotFound):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
	}

	return err
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
