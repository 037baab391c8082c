// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

//go:build nats

package eventprocessor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/amas/internal/amaserr"
	"github.com/tomtom215/amas/internal/core"
	ws "github.com/tomtom215/amas/internal/websocket"
)

type fakeSubscription struct {
	ch  chan *message.Message
	err error
}

func (f *fakeSubscription) Messages(_ context.Context, _ string) (<-chan *message.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ch, nil
}

type fakeEngine struct {
	mu       sync.Mutex
	calls    int
	decision core.Decision
	err      error
}

func (f *fakeEngine) ProcessEvent(_ context.Context, _, _ string, _ core.RawEvent) (core.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.decision, f.err
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDecisionPublisher struct {
	mu      sync.Mutex
	updates []ws.DecisionUpdate
	err     error
}

func (f *fakeDecisionPublisher) PublishDecision(_ context.Context, update ws.DecisionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	return f.err
}

func (f *fakeDecisionPublisher) published() []ws.DecisionUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ws.DecisionUpdate(nil), f.updates...)
}

func envelopeMsg(t *testing.T, userID string) (*message.Message, RawEventEnvelope) {
	t.Helper()
	env := NewRawEventEnvelope(userID, "sess-1", core.RawEvent{
		WordID:         "w1",
		IsCorrect:      true,
		ResponseTimeMs: 850,
		Timestamp:      time.Now().UTC(),
	})
	data, err := SerializeEnvelope(env)
	if err != nil {
		t.Fatalf("SerializeEnvelope() error = %v", err)
	}
	return message.NewMessage(env.EnvelopeID, data), env
}

func waitAcked(t *testing.T, msg *message.Message) {
	t.Helper()
	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		t.Fatal("message nacked, want acked")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
	}
}

func waitNacked(t *testing.T, msg *message.Message) {
	t.Helper()
	select {
	case <-msg.Nacked():
	case <-msg.Acked():
		t.Fatal("message acked, want nacked")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for nack")
	}
}

func TestNewConsumerValidation(t *testing.T) {
	sub := &fakeSubscription{ch: make(chan *message.Message)}
	eng := &fakeEngine{}

	tests := []struct {
		name    string
		sub     messageChannels
		engine  EngineCaller
		wantErr bool
	}{
		{"valid", sub, eng, false},
		{"nil subscriber", nil, eng, true},
		{"nil engine", sub, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConsumer(tt.sub, tt.engine, nil, ConsumerConfig{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewConsumer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConsumerProcessesAndRepublishes(t *testing.T) {
	sub := &fakeSubscription{ch: make(chan *message.Message, 1)}
	eng := &fakeEngine{decision: core.Decision{Explanation: "exploit"}}
	pub := &fakeDecisionPublisher{}

	c, err := NewConsumer(sub, eng, pub, ConsumerConfig{Workers: 1})
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Serve(ctx)
	}()

	msg, env := envelopeMsg(t, "user-1")
	sub.ch <- msg
	waitAcked(t, msg)

	if got := eng.callCount(); got != 1 {
		t.Fatalf("engine calls = %d, want 1", got)
	}
	updates := pub.published()
	if len(updates) != 1 {
		t.Fatalf("published updates = %d, want 1", len(updates))
	}
	if updates[0].UserID != env.UserID {
		t.Errorf("update user = %q, want %q", updates[0].UserID, env.UserID)
	}
	if updates[0].Explanation != "exploit" {
		t.Errorf("update explanation = %q, want %q", updates[0].Explanation, "exploit")
	}

	cancel()
	close(sub.ch)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestConsumerAcksPoisonPayload(t *testing.T) {
	sub := &fakeSubscription{ch: make(chan *message.Message, 1)}
	eng := &fakeEngine{}

	c, err := NewConsumer(sub, eng, nil, ConsumerConfig{Workers: 1})
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Serve(ctx) }()

	msg := message.NewMessage("poison", []byte("{not json"))
	sub.ch <- msg
	waitAcked(t, msg)

	if got := eng.callCount(); got != 0 {
		t.Fatalf("engine calls = %d, want 0 for poison payload", got)
	}
}

func TestConsumerSkipsDuplicateEnvelope(t *testing.T) {
	sub := &fakeSubscription{ch: make(chan *message.Message, 2)}
	eng := &fakeEngine{}

	c, err := NewConsumer(sub, eng, nil, ConsumerConfig{Workers: 1})
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Serve(ctx) }()

	first, env := envelopeMsg(t, "user-2")
	sub.ch <- first
	waitAcked(t, first)

	data, err := SerializeEnvelope(env)
	if err != nil {
		t.Fatalf("SerializeEnvelope() error = %v", err)
	}
	dup := message.NewMessage(env.EnvelopeID, data)
	sub.ch <- dup
	waitAcked(t, dup)

	if got := eng.callCount(); got != 1 {
		t.Fatalf("engine calls = %d, want 1 (duplicate must be skipped)", got)
	}
}

func TestConsumerAckNackByErrorKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantNack bool
	}{
		{"transient failure nacks", errors.New("store unavailable"), true},
		{"timeout nacks", amaserr.E(amaserr.KindTimeout, "engine.ProcessEvent", context.DeadlineExceeded), true},
		{"rejected input acks", amaserr.Ef(amaserr.KindInputSanitisation, "engine.ProcessEvent", "NaN feature"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubscription{ch: make(chan *message.Message, 1)}
			eng := &fakeEngine{err: tt.err}

			c, err := NewConsumer(sub, eng, nil, ConsumerConfig{Workers: 1})
			if err != nil {
				t.Fatalf("NewConsumer() error = %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() { _ = c.Serve(ctx) }()

			msg, _ := envelopeMsg(t, "user-3")
			sub.ch <- msg
			if tt.wantNack {
				waitNacked(t, msg)
			} else {
				waitAcked(t, msg)
			}
		})
	}
}

func TestConsumerServeSubscribeError(t *testing.T) {
	sub := &fakeSubscription{err: errors.New("connection refused")}
	c, err := NewConsumer(sub, &fakeEngine{}, nil, ConsumerConfig{})
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}
	if err := c.Serve(context.Background()); err == nil {
		t.Fatal("Serve() error = nil, want subscribe failure")
	}
}

func TestSourceForwardsPayloads(t *testing.T) {
	ch := make(chan *message.Message, 1)
	src := NewSource(&fakeSubscription{ch: ch})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := src.Subscribe(ctx, SubjectDecisions)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	msg := message.NewMessage("m1", []byte(`{"user_id":"u1"}`))
	ch <- msg

	select {
	case payload := <-out:
		if string(payload) != `{"user_id":"u1"}` {
			t.Errorf("payload = %s, want original bytes", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
	}
	waitAcked(t, msg)

	close(ch)
	select {
	case _, open := <-out:
		if open {
			t.Fatal("output channel still open after source closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("output channel did not close")
	}
}
