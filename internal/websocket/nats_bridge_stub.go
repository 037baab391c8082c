// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

//go:build !nats

package websocket

import (
	"context"
	"fmt"
)

// MessageSource is the slice of the event bus the bridge needs. Stub shape
// for builds without the nats tag.
type MessageSource interface {
	Subscribe(ctx context.Context, subject string) (<-chan []byte, error)
}

// Bridge is a placeholder without the nats tag; the API feeds the hub
// in-process instead.
type Bridge struct{}

// NewBridge returns nil without the nats tag.
func NewBridge(_ *Hub, _ MessageSource, _ string) *Bridge { return nil }

// Serve fails immediately; the supervisor must not add the bridge to the
// tree without the nats tag.
func (b *Bridge) Serve(_ context.Context) error {
	return fmt.Errorf("event bus support not enabled (build with -tags nats)")
}

// String names the bridge in supervisor logs.
func (b *Bridge) String() string { return "websocket-nats-bridge" }
