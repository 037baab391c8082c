// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package eventprocessor is the asynchronous ingest path: raw interaction
// events enter over NATS JetStream, a consumer pool feeds them to the
// decision engine, and the resulting decisions are republished for the
// websocket stream.
//
// # Architecture
//
// The package wraps Watermill's NATS bindings behind three components:
//
//   - Publisher: accepts a raw event from the API layer and writes it to
//     the AMAS_EVENTS stream (subject amas.events.raw), with the envelope
//     ID doubling as the JetStream deduplication key.
//   - Consumer: a supervised service draining the raw-event subject
//     through a durable queue-group subscription, calling
//     Engine.ProcessEvent per message and publishing each decision to
//     amas.decisions.
//   - Source: adapts a subscription into the byte-channel shape the
//     websocket bridge consumes, so the decision stream works across
//     processes.
//
// # Build Tags
//
// The full implementation requires the nats build tag:
//
//	go build -tags nats ./...
//
// Without the tag every constructor returns an error and the API layer
// calls the engine inline instead. The envelope types and configuration
// compile either way so the HTTP surface and tests do not fork.
//
// # Delivery Semantics
//
// JetStream redelivers unacknowledged messages, so the consumer keeps a
// bounded in-process dedup window keyed by envelope ID on top of the
// stream's own duplicate window. Messages that fail to parse are acked
// and counted: redelivering a poison payload can never make it parse.
// Engine failures are nacked for redelivery up to the consumer's
// MaxDeliver.
//
// Ordering: one consumer goroutine preserves per-user receive order;
// more than one trades ordering for throughput. Per-user model state is
// still serialised by the engine either way, so reordering only affects
// which event a decision answers, never model integrity.
package eventprocessor
