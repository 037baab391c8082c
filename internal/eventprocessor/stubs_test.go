// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

//go:build !nats

package eventprocessor

import (
	"context"
	"strings"
	"testing"

	"github.com/tomtom215/amas/internal/core"
)

// The no-tag build must compile and fail loudly, not silently no-op.

func TestStubConstructorsError(t *testing.T) {
	if _, err := NewEmbeddedServer(nil); err == nil {
		t.Error("NewEmbeddedServer() error = nil, want build-tag error")
	}
	if _, err := NewPublisher(PublisherConfig{}, nil); err == nil {
		t.Error("NewPublisher() error = nil, want build-tag error")
	}
	if _, err := NewSubscriber(SubscriberConfig{}, nil); err == nil {
		t.Error("NewSubscriber() error = nil, want build-tag error")
	}
	if _, err := NewConsumer(nil, nil, nil, ConsumerConfig{}); err == nil {
		t.Error("NewConsumer() error = nil, want build-tag error")
	}
}

func TestStubMethodsError(t *testing.T) {
	ctx := context.Background()

	var pub Publisher
	if err := pub.PublishRawEvent(ctx, "u1", "s1", core.RawEvent{}); err == nil {
		t.Error("PublishRawEvent() error = nil, want build-tag error")
	} else if !strings.Contains(err.Error(), "-tags=nats") {
		t.Errorf("PublishRawEvent() error = %q, want mention of -tags=nats", err)
	}

	var srv EmbeddedServer
	if err := srv.Serve(ctx); err == nil {
		t.Error("EmbeddedServer.Serve() error = nil, want build-tag error")
	}
	if srv.IsRunning() {
		t.Error("EmbeddedServer.IsRunning() = true, want false")
	}

	var c Consumer
	if err := c.Serve(ctx); err == nil {
		t.Error("Consumer.Serve() error = nil, want build-tag error")
	}

	src := NewSource(nil)
	if _, err := src.Subscribe(ctx, SubjectDecisions); err == nil {
		t.Error("Source.Subscribe() error = nil, want build-tag error")
	}
}
