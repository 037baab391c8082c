// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package amaserr classifies engine failures into a small, stable taxonomy.
//
// Every failure that crosses a package boundary is wrapped in an *Error
// carrying a Kind. Callers branch on the kind (errors.Is / KindOf), never on
// error strings, so downstream handling stays stable while messages evolve.
//
// The taxonomy is deliberately closed: a new kind is an API change.
package amaserr

import (
	"errors"
	"fmt"
)

// Kind identifies the failure class of an engine error.
type Kind uint8

const (
	// KindUnknown is the zero value; errors without a kind report it.
	KindUnknown Kind = iota

	// KindInputSanitisation marks NaN/Inf feature or reward inputs.
	// Handling: replace the offending entry or skip the update, log, continue.
	KindInputSanitisation

	// KindNumericInstability marks Cholesky rank-1 failures and diagonal
	// range violations. Handling: full re-decomposition, then reset to
	// lambda*I if that also fails.
	KindNumericInstability

	// KindStateCorruption marks restored snapshots that fail invariant
	// checks (wrong dimension, asymmetric covariance, NaN fields).
	// Handling: reset the affected sub-component to defaults, keep the rest.
	KindStateCorruption

	// KindTimeout marks a deadline expiring mid-pipeline. Handling: finish
	// the in-flight numeric section, persist, return a best-effort action.
	KindTimeout

	// KindPersistenceFailure marks store write errors. Handling: increment
	// a metric; decision records retry behind the breaker, snapshots drop.
	KindPersistenceFailure

	// KindConfigViolation marks invalid boot configuration (for example a
	// feature dimension other than 22). Handling: fail fast at startup.
	KindConfigViolation
)

// String returns the canonical lower_snake name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindInputSanitisation:
		return "input_sanitisation"
	case KindNumericInstability:
		return "numeric_instability"
	case KindStateCorruption:
		return "state_corruption"
	case KindTimeout:
		return "timeout"
	case KindPersistenceFailure:
		return "persistence_failure"
	case KindConfigViolation:
		return "config_violation"
	default:
		return "unknown"
	}
}

// Error is a kinded engine error. Op names the failing operation in
// package.Function form ("linalg.Cholesky", "store.EnqueueRecord").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, &Error{Kind: k}) matches any
// error of that kind regardless of op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// E wraps err with a kind and operation. A nil err yields an *Error with no
// cause, useful for taxonomy-only signalling.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef wraps a formatted message with a kind and operation.
func Ef(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, unwrapping as needed. Errors outside
// the taxonomy report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Common sentinel causes shared across packages.
var (
	// ErrNonPositiveDefinite indicates a covariance matrix that cannot be
	// Cholesky-factorised even after regularisation.
	ErrNonPositiveDefinite = errors.New("matrix is not positive definite")

	// ErrRank1Failed indicates an abandoned rank-1 Cholesky update; the
	// caller must re-decompose from the full covariance.
	ErrRank1Failed = errors.New("rank-1 cholesky update abandoned")

	// ErrDimensionMismatch indicates vector/matrix shapes that do not agree.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrSnapshotDowngrade indicates a snapshot produced by a newer code
	// version; downgrades are rejected rather than guessed at.
	ErrSnapshotDowngrade = errors.New("snapshot version is newer than engine")

	// ErrQueueFull indicates a bounded persistence queue that stayed full
	// past the enqueue deadline.
	ErrQueueFull = errors.New("persistence queue full")

	// ErrUnknownUser indicates a read for a user with no materialised or
	// persisted state.
	ErrUnknownUser = errors.New("unknown user")
)
