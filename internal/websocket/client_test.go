// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialTestClient stands up a server that upgrades one connection, attaches
// it to the hub, and returns the caller's side of the socket.
func dialTestClient(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		client := NewClient(h, conn)
		h.Register <- client
		client.Start()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestClientReceivesBroadcasts(t *testing.T) {
	h := NewHub()
	startHub(t, h)
	conn := dialTestClient(t, h)

	h.BroadcastDecision(DecisionUpdate{UserID: "u1", Explanation: "warmup"})

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != MessageTypeDecision {
		t.Fatalf("type = %q, want %q", msg.Type, MessageTypeDecision)
	}
	payload, ok := msg.Data.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T, want object", msg.Data)
	}
	if payload["user_id"] != "u1" {
		t.Errorf("user_id = %v, want u1", payload["user_id"])
	}
}

func TestClientAnswersPing(t *testing.T) {
	h := NewHub()
	startHub(t, h)
	conn := dialTestClient(t, h)

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != MessageTypePong {
		t.Fatalf("type = %q, want %q", msg.Type, MessageTypePong)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	h := NewHub()
	startHub(t, h)
	conn := dialTestClient(t, h)

	// Wait for registration to land before closing.
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for h.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
