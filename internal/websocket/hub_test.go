// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package websocket

import (
	"context"
	"errors"
	"testing"
	"time"
)

// startHub runs the hub loop and returns a stop func that waits for exit.
func startHub(t *testing.T, h *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Serve returned %v, want context.Canceled", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop")
		}
	})
	return cancel
}

// fakeClient builds a client that is never attached to a real connection;
// the hub only touches id and send.
func fakeClient(buffer int) *Client {
	return &Client{id: clientIDCounter.Add(1), send: make(chan Message, buffer)}
}

func recvMessage(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed while expecting a message")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
	}
	return Message{}
}

func TestHubBroadcastsToAllClients(t *testing.T) {
	h := NewHub()
	startHub(t, h)

	a := fakeClient(8)
	b := fakeClient(8)
	h.Register <- a
	h.Register <- b

	update := DecisionUpdate{UserID: "u1", Timestamp: time.Now().UTC(), Explanation: "steady"}
	h.BroadcastDecision(update)

	for _, c := range []*Client{a, b} {
		msg := recvMessage(t, c)
		if msg.Type != MessageTypeDecision {
			t.Fatalf("message type = %q, want %q", msg.Type, MessageTypeDecision)
		}
		got, ok := msg.Data.(DecisionUpdate)
		if !ok {
			t.Fatalf("payload type = %T, want DecisionUpdate", msg.Data)
		}
		if got.UserID != "u1" {
			t.Errorf("UserID = %q, want u1", got.UserID)
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub()
	startHub(t, h)

	slow := fakeClient(0) // nobody drains it
	fast := fakeClient(8)
	h.Register <- slow
	h.Register <- fast

	h.BroadcastDecision(DecisionUpdate{UserID: "u1"})

	if msg := recvMessage(t, fast); msg.Type != MessageTypeDecision {
		t.Fatalf("fast client got %q, want decision", msg.Type)
	}
	if _, ok := <-slow.send; ok {
		t.Fatal("slow client's send channel should be closed")
	}
	if n := h.ClientCount(); n != 1 {
		t.Fatalf("ClientCount() = %d, want 1", n)
	}
}

func TestHubUnregisterClosesClient(t *testing.T) {
	h := NewHub()
	startHub(t, h)

	c := fakeClient(8)
	h.Register <- c
	h.Unregister <- c

	if _, ok := <-c.send; ok {
		t.Fatal("unregistered client's send channel should be closed")
	}
	if n := h.ClientCount(); n != 0 {
		t.Fatalf("ClientCount() = %d, want 0", n)
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()

	c := fakeClient(8)
	h.Register <- c

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	if _, ok := <-c.send; ok {
		t.Fatal("client should be closed on shutdown")
	}
}

func TestBroadcastDecisionNeverBlocks(t *testing.T) {
	h := NewHub() // not served: queue fills and further sends must drop

	for i := 0; i < 300; i++ {
		h.BroadcastDecision(DecisionUpdate{UserID: "u1"})
	}
	if n := len(h.broadcast); n != cap(h.broadcast) {
		t.Fatalf("queue length = %d, want full (%d)", n, cap(h.broadcast))
	}
}
