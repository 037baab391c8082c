// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

//go:build nats

package eventprocessor

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
)

// messageChannels is the slice of Subscriber the source needs; tests
// fake it with a channel.
type messageChannels interface {
	Messages(ctx context.Context, subject string) (<-chan *message.Message, error)
}

// Source adapts a subscription to the byte-channel shape the websocket
// bridge consumes (websocket.MessageSource). Every message is acked on
// receipt: the stream is a live feed, a dropped update is not worth a
// redelivery.
type Source struct {
	sub messageChannels
}

// NewSource wraps a subscriber for the websocket bridge.
func NewSource(sub messageChannels) *Source {
	return &Source{sub: sub}
}

// Subscribe yields raw payloads from the subject until the context ends.
func (s *Source) Subscribe(ctx context.Context, subject string) (<-chan []byte, error) {
	messages, err := s.sub.Messages(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			msg.Ack()
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
