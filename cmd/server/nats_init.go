// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

//go:build nats

package main

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/amas/internal/api"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/engine"
	"github.com/tomtom215/amas/internal/eventprocessor"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/supervisor"
	ws "github.com/tomtom215/amas/internal/websocket"
)

// NATSComponents holds the event bus components for lifecycle management.
// The supervised pieces (embedded server, consumer, bridge) go to the
// messaging layer; connections close with the process.
type NATSComponents struct {
	server           *eventprocessor.EmbeddedServer
	natsConn         *natsgo.Conn
	publisher        *eventprocessor.Publisher
	subscriber       *eventprocessor.Subscriber
	bridgeSubscriber *eventprocessor.Subscriber
	consumer         *eventprocessor.Consumer
	bridge           *ws.Bridge
}

// EventPublisher exposes the publisher for the API handler. Nil when the
// bus is disabled.
func (c *NATSComponents) EventPublisher() api.EventPublisher {
	if c == nil || c.publisher == nil {
		return nil
	}
	return c.publisher
}

// InitNATS wires the event bus when NATS_ENABLED=true: embedded server
// (optional), JetStream stream, publisher, the durable engine consumer,
// and the decision bridge feeding the websocket hub.
func InitNATS(cfg *config.Config, eng *engine.Engine, hub *ws.Hub) (*NATSComponents, error) {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("NATS event bus disabled (NATS_ENABLED=false)")
		return nil, nil
	}

	logging.Info().Msg("Initializing NATS event bus...")

	components := &NATSComponents{}

	var natsURL string
	if cfg.NATS.EmbeddedServer {
		server, err := eventprocessor.NewEmbeddedServer(&cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS server: %w", err)
		}
		components.server = server
		natsURL = server.ClientURL()
	} else {
		natsURL = cfg.NATS.URL
		logging.Info().Str("url", natsURL).Msg("Using external NATS server")
	}

	nc, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	components.natsConn = nc

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	streamInit, err := eventprocessor.NewStreamInitializer(js, eventprocessor.StreamConfigFrom(&cfg.NATS))
	if err != nil {
		return nil, fmt.Errorf("create stream initializer: %w", err)
	}
	stream, err := streamInit.EnsureStream(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	info := stream.CachedInfo()
	logging.Info().
		Str("name", info.Config.Name).
		Strs("subjects", info.Config.Subjects).
		Dur("max_age", info.Config.MaxAge).
		Msg("JetStream stream ready")

	publisher, err := eventprocessor.NewPublisher(eventprocessor.PublisherConfigFrom(&cfg.NATS, natsURL), nil)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}
	components.publisher = publisher

	subscriber, err := eventprocessor.NewSubscriber(eventprocessor.SubscriberConfigFrom(&cfg.NATS, natsURL), nil)
	if err != nil {
		return nil, fmt.Errorf("create engine subscriber: %w", err)
	}
	components.subscriber = subscriber

	consumer, err := eventprocessor.NewConsumer(subscriber, eng, publisher, eventprocessor.ConsumerConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	components.consumer = consumer

	// The bridge gets its own durable without a queue group, so every
	// replica's hub sees every decision.
	bridgeSub, err := eventprocessor.NewSubscriber(eventprocessor.BridgeSubscriberConfigFrom(&cfg.NATS, natsURL), nil)
	if err != nil {
		return nil, fmt.Errorf("create bridge subscriber: %w", err)
	}
	components.bridgeSubscriber = bridgeSub
	components.bridge = ws.NewBridge(hub, eventprocessor.NewSource(bridgeSub), eventprocessor.SubjectDecisions)

	logging.Info().Msg("NATS event bus initialized")
	return components, nil
}

// AddNATSToSupervisor registers the supervised bus components with the
// messaging layer. No-op when the bus is disabled.
func AddNATSToSupervisor(tree *supervisor.SupervisorTree, c *NATSComponents) {
	if tree == nil || c == nil {
		return
	}
	if c.server != nil {
		tree.AddMessagingService(c.server)
	}
	tree.AddMessagingService(c.consumer)
	tree.AddMessagingService(c.bridge)
	logging.Info().Msg("NATS components added to supervisor tree")
}
