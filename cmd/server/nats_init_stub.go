// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

//go:build !nats

package main

import (
	"github.com/tomtom215/amas/internal/api"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/engine"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/supervisor"
	ws "github.com/tomtom215/amas/internal/websocket"
)

// NATSComponents is a stub when NATS dependencies are not available.
type NATSComponents struct{}

// EventPublisher always returns nil in the stub build.
func (c *NATSComponents) EventPublisher() api.EventPublisher { return nil }

// InitNATS is a no-op without the nats build tag. Event ingestion stays
// inline in the API handler.
func InitNATS(cfg *config.Config, _ *engine.Engine, _ *ws.Hub) (*NATSComponents, error) {
	if cfg.NATS.Enabled {
		logging.Warn().Msg("NATS_ENABLED=true but binary was built without -tags=nats; event bus unavailable")
	}
	return nil, nil
}

// AddNATSToSupervisor is a no-op without the nats build tag.
func AddNATSToSupervisor(_ *supervisor.SupervisorTree, _ *NATSComponents) {}
