// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

//go:build !nats

package eventprocessor

import (
	"context"
	"fmt"

	"github.com/tomtom215/amas/internal/config"
)

// EmbeddedServer is a stub when NATS dependencies are not available.
// Build with -tags=nats to enable the embedded JetStream server.
type EmbeddedServer struct{}

// NewEmbeddedServer returns an error when NATS dependencies are not
// available.
func NewEmbeddedServer(cfg *config.NATSConfig) (*EmbeddedServer, error) {
	return nil, fmt.Errorf("embedded NATS server not available: build with -tags=nats")
}

// ClientURL is a stub that returns an empty URL.
func (s *EmbeddedServer) ClientURL() string { return "" }

// IsRunning is a stub that always reports false.
func (s *EmbeddedServer) IsRunning() bool { return false }

// Serve is a stub that returns an error.
func (s *EmbeddedServer) Serve(ctx context.Context) error {
	return fmt.Errorf("embedded NATS server not available: build with -tags=nats")
}

// String names the service in supervisor logs.
func (s *EmbeddedServer) String() string { return "nats-server" }
