// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

//go:build nats

package eventprocessor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/metrics"
	ws "github.com/tomtom215/amas/internal/websocket"
)

// Publisher writes envelopes onto the JetStream stream through
// Watermill. The envelope ID rides as Nats-Msg-Id so the stream's
// duplicate window absorbs API-level retries of the same event.
//
// Publisher implements api.EventPublisher.
type Publisher struct {
	publisher message.Publisher
	mu        sync.RWMutex
	closed    bool
}

// NewPublisher connects a Watermill NATS publisher. The stream must
// already exist (StreamInitializer runs first), so AutoProvision stays
// off.
func NewPublisher(cfg PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = NewWatermillLogger()
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return &Publisher{publisher: pub}, nil
}

// PublishRawEvent wraps one interaction in an envelope and publishes it
// to the raw-event subject.
func (p *Publisher) PublishRawEvent(ctx context.Context, userID, sessionID string, event core.RawEvent) error {
	env := NewRawEventEnvelope(userID, sessionID, event)
	data, err := SerializeEnvelope(env)
	if err != nil {
		return err
	}
	return p.publish(ctx, SubjectEventsRaw, env.EnvelopeID, data)
}

// PublishDecision republishes a decision outcome for the websocket
// bridge. The message ID is fresh: decisions are one-per-event already.
func (p *Publisher) PublishDecision(ctx context.Context, update ws.DecisionUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal decision update: %w", err)
	}
	return p.publish(ctx, SubjectDecisions, watermill.NewUUID(), data)
}

func (p *Publisher) publish(_ context.Context, subject, msgID string, payload []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	msg := message.NewMessage(msgID, payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, msgID)

	if err := p.publisher.Publish(subject, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	metrics.NATSMessagesPublished.Inc()
	return nil
}

// Close shuts the underlying connection down. Idempotent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
