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

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/cache"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
	ws "github.com/tomtom215/amas/internal/websocket"
)

// EngineCaller is the slice of the decision engine the consumer drives.
type EngineCaller interface {
	ProcessEvent(ctx context.Context, userID, sessionID string, raw core.RawEvent) (core.Decision, error)
}

// DecisionPublisher republishes decision outcomes for the websocket
// bridge. Nil disables republication.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, update ws.DecisionUpdate) error
}

// Consumer drains the raw-event subject and feeds the engine. It is a
// supervised service: Serve subscribes once, fans the channel out to the
// configured worker count, and returns when the subscription dies so the
// supervisor reconnects with backoff.
type Consumer struct {
	sub    messageChannels
	engine EngineCaller
	pub    DecisionPublisher
	cfg    ConsumerConfig
	dedup  *cache.Dedup
	log    zerolog.Logger
}

// NewConsumer wires the subscription to the engine.
func NewConsumer(sub messageChannels, engine EngineCaller, pub DecisionPublisher, cfg ConsumerConfig) (*Consumer, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscriber required")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 30 * time.Second
	}
	if cfg.DedupCapacity < 1 {
		cfg.DedupCapacity = 8192
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 10 * time.Minute
	}
	return &Consumer{
		sub:    sub,
		engine: engine,
		pub:    pub,
		cfg:    cfg,
		dedup:  cache.NewDedup(cfg.DedupCapacity, cfg.DedupWindow),
		log:    logging.WithComponent("event-consumer"),
	}, nil
}

// Serve consumes until cancellation. A closed message channel returns an
// error: the subscription is gone and only a restart brings it back.
func (c *Consumer) Serve(ctx context.Context) error {
	messages, err := c.sub.Messages(ctx, SubjectEventsRaw)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", SubjectEventsRaw, err)
	}

	c.log.Info().
		Int("workers", c.cfg.Workers).
		Dur("process_timeout", c.cfg.ProcessTimeout).
		Msg("Event consumer started")

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range messages {
				c.handle(ctx, msg)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("subscription to %s closed", SubjectEventsRaw)
}

// String names the consumer in supervisor logs.
func (c *Consumer) String() string { return "event-consumer" }

// handle processes one message. Ack/nack policy:
//
//   - parse failure: ack. Redelivery cannot make a poison payload parse.
//   - duplicate envelope: ack, skip. Already processed.
//   - engine input rejection: ack. The event itself is bad.
//   - engine timeout or transient failure: nack for redelivery, bounded
//     by the consumer's MaxDeliver.
func (c *Consumer) handle(ctx context.Context, msg *message.Message) {
	env, err := DeserializeEnvelope(msg.Payload)
	if err != nil {
		metrics.NATSMessagesParseFailed.Inc()
		c.log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping unparseable event")
		msg.Ack()
		return
	}

	if c.dedup.Seen(env.EnvelopeID) {
		c.log.Debug().Str("envelope_id", env.EnvelopeID).Msg("Duplicate envelope skipped")
		msg.Ack()
		return
	}

	eventCtx, cancel := context.WithTimeout(ctx, c.cfg.ProcessTimeout)
	decision, err := c.engine.ProcessEvent(eventCtx, env.UserID, env.SessionID, env.Event)
	cancel()

	if err != nil {
		kind := amaserr.KindOf(err)
		if kind == amaserr.KindInputSanitisation {
			c.log.Warn().Err(err).
				Str("user_id", env.UserID).
				Str("envelope_id", env.EnvelopeID).
				Msg("Dropping rejected event")
			msg.Ack()
			return
		}
		c.log.Error().Err(err).
			Str("user_id", env.UserID).
			Str("kind", kind.String()).
			Msg("Event processing failed, requesting redelivery")
		msg.Nack()
		return
	}

	metrics.NATSMessagesConsumed.Inc()

	if c.pub != nil {
		update := ws.DecisionUpdate{
			UserID:      env.UserID,
			Timestamp:   time.Now().UTC(),
			Action:      decision.Action,
			State:       decision.State,
			Explanation: decision.Explanation,
		}
		if err := c.pub.PublishDecision(ctx, update); err != nil {
			// The decision committed; losing one stream update is
			// acceptable, reprocessing the event is not.
			c.log.Warn().Err(err).Str("user_id", env.UserID).Msg("Decision republish failed")
		}
	}

	msg.Ack()
}
