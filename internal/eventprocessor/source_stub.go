// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

//go:build !nats

package eventprocessor

import (
	"context"
	"fmt"
)

// Source is a stub when NATS dependencies are not available.
// Build with -tags=nats to enable the websocket bridge feed.
type Source struct{}

// NewSource wraps nothing; the nats build provides the real adapter.
func NewSource(sub interface{}) *Source { return &Source{} }

// Subscribe is a stub that returns an error.
func (s *Source) Subscribe(ctx context.Context, subject string) (<-chan []byte, error) {
	return nil, fmt.Errorf("NATS source not available: build with -tags=nats")
}
