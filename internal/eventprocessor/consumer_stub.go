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

// Consumer is a stub when NATS dependencies are not available.
// Build with -tags=nats to enable the durable event consumer.
type Consumer struct{}

// NewConsumer returns an error when NATS dependencies are not
// available.
func NewConsumer(sub, engine, pub interface{}, cfg ConsumerConfig) (*Consumer, error) {
	return nil, fmt.Errorf("NATS consumer not available: build with -tags=nats")
}

// Serve is a stub that returns an error.
func (c *Consumer) Serve(ctx context.Context) error {
	return fmt.Errorf("NATS consumer not available: build with -tags=nats")
}

// String names the service in supervisor logs.
func (c *Consumer) String() string { return "event-consumer" }
