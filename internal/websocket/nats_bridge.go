// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

//go:build nats

package websocket

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
)

// MessageSource is the slice of the event bus the bridge needs: a
// subscription yielding raw payload bytes. The bus owns the subscription's
// lifecycle; the channel closing means the source is gone.
type MessageSource interface {
	Subscribe(ctx context.Context, subject string) (<-chan []byte, error)
}

// Bridge replays decision outcomes from the event bus into the hub, so
// subscribers see decisions regardless of which process produced them.
type Bridge struct {
	hub     *Hub
	source  MessageSource
	subject string
}

// NewBridge wires a hub to a bus subject carrying DecisionUpdate payloads.
func NewBridge(hub *Hub, source MessageSource, subject string) *Bridge {
	return &Bridge{hub: hub, source: source, subject: subject}
}

// Serve consumes the subject until cancellation. A closed message channel
// returns an error so the supervisor reconnects with backoff.
func (b *Bridge) Serve(ctx context.Context) error {
	messages, err := b.source.Subscribe(ctx, b.subject)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}
	logging.Info().Str("subject", b.subject).Msg("Decision stream bridge started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription to %s closed", b.subject)
			}
			b.handle(data)
		}
	}
}

// String names the bridge in supervisor logs.
func (b *Bridge) String() string { return "websocket-nats-bridge" }

func (b *Bridge) handle(data []byte) {
	var update DecisionUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		metrics.NATSMessagesParseFailed.Inc()
		logging.Warn().Err(err).Msg("Failed to unmarshal decision update")
		return
	}
	b.hub.BroadcastDecision(update)
}
