// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

//go:build nats

package eventprocessor

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/logging"
)

// serverReadyTimeout bounds embedded server startup.
const serverReadyTimeout = 30 * time.Second

// EmbeddedServer runs an in-process NATS JetStream server so a
// single-binary deployment needs no external broker. It implements
// suture.Service: Serve parks until cancellation, then shuts the server
// down, keeping broker lifetime tied to the supervision tree.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// NewEmbeddedServer creates and starts an embedded NATS server with
// JetStream enabled. Blocks until the server accepts connections or the
// ready timeout lapses.
func NewEmbeddedServer(cfg *config.NATSConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName:         "amas-events",
		Host:               "127.0.0.1",
		Port:               -1, // pick a free port; ClientURL reports it
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		NoLog:              true, // zerolog owns process output
		MaxPayload:         1 << 20,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(serverReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within %s", serverReadyTimeout)
	}

	logging.Info().
		Str("url", ns.ClientURL()).
		Str("store_dir", cfg.StoreDir).
		Msg("Embedded NATS server started")

	return &EmbeddedServer{
		server:    ns,
		clientURL: ns.ClientURL(),
	}, nil
}

// ClientURL returns the connection URL clients should dial.
func (s *EmbeddedServer) ClientURL() string { return s.clientURL }

// IsRunning reports server health for readiness probes.
func (s *EmbeddedServer) IsRunning() bool { return s.server.Running() }

// Serve blocks until cancellation, then performs a graceful shutdown.
// The server is already running when Serve is called; a server that
// dies on its own surfaces as an error so the supervisor restarts the
// whole messaging layer.
func (s *EmbeddedServer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.server.Shutdown()
			s.server.WaitForShutdown()
			return ctx.Err()
		case <-ticker.C:
			if !s.server.Running() {
				return fmt.Errorf("embedded NATS server stopped unexpectedly")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *EmbeddedServer) String() string { return "nats-server" }
