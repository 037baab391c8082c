// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package core holds the shared data model of the decision engine: raw
// interaction events, the psychometric user state, the decision context
// handed to the learners, and the immutable decision record with its
// pipeline trace. Every other package speaks these types; none of them
// carries behaviour beyond validation, clamping and key derivation.
package core
