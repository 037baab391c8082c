// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package api

import (
	"context"

	"github.com/tomtom215/amas/internal/core"
)

// EventPublisher hands raw events to the event bus instead of the engine.
// Implemented by eventprocessor.Publisher when the build carries the nats
// tag; nil otherwise.
type EventPublisher interface {
	// PublishRawEvent enqueues one interaction for asynchronous
	// processing. An error means the event was not accepted by the bus.
	PublishRawEvent(ctx context.Context, userID, sessionID string, event core.RawEvent) error
}

// SetEventPublisher switches event ingestion to the bus. With a publisher
// set, POST /users/{userID}/events answers 202 and the decision reaches
// subscribers over the decision stream; without one, the engine is called
// inline and the decision is the response body.
//
// Call once during startup, before the server accepts traffic.
func (h *Handler) SetEventPublisher(publisher EventPublisher) {
	h.eventPublisher = publisher
}
