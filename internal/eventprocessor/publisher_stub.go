// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

//go:build !nats

package eventprocessor

import (
	"context"
	"fmt"

	"github.com/tomtom215/amas/internal/core"
	ws "github.com/tomtom215/amas/internal/websocket"
)

// Publisher is a stub when NATS dependencies are not available.
// Build with -tags=nats to enable full Watermill publisher support.
type Publisher struct{}

// NewPublisher returns an error when NATS dependencies are not
// available.
func NewPublisher(cfg PublisherConfig, logger interface{}) (*Publisher, error) {
	return nil, fmt.Errorf("NATS publisher not available: build with -tags=nats")
}

// PublishRawEvent is a stub that returns an error.
func (p *Publisher) PublishRawEvent(ctx context.Context, userID, sessionID string, event core.RawEvent) error {
	return fmt.Errorf("NATS publisher not available: build with -tags=nats")
}

// PublishDecision is a stub that returns an error.
func (p *Publisher) PublishDecision(ctx context.Context, update ws.DecisionUpdate) error {
	return fmt.Errorf("NATS publisher not available: build with -tags=nats")
}

// Close is a no-op stub.
func (p *Publisher) Close() error { return nil }
