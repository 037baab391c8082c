// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package websocket fans decision traces out to live subscribers.
//
// The Hub holds the connected clients and broadcasts every decision the
// engine emits. Feeding is push-based and lossy by design: a full broadcast
// queue drops the message, and a subscriber that cannot drain its own send
// buffer is disconnected rather than allowed to apply backpressure to the
// decision path. Without the nats build tag the API handler feeds the hub
// in-process; with it, the bridge in nats_bridge.go replays the
// amas.decisions subject.
package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
)

// Message types carried on the stream.
const (
	MessageTypeDecision = "decision"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message is the envelope every frame uses.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// DecisionUpdate is the per-decision stream payload: who got which action,
// with the state and explanation the engine returned. Deeper introspection
// (votes, weights, stage timings) lives in the persisted decision records.
type DecisionUpdate struct {
	UserID      string             `json:"user_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Action      actionspace.Action `json:"action"`
	State       core.UserState     `json:"state"`
	Explanation string             `json:"explanation"`
}

// Hub maintains the subscriber set and broadcasts messages to it.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast chan Message

	// Register and Unregister are exported so the API's upgrade handler can
	// attach clients.
	Register   chan *Client
	Unregister chan *Client
}

// NewHub creates an empty hub. Run it under supervision via Serve.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Serve runs the hub loop until the context is cancelled, then closes every
// subscriber and returns ctx.Err() so suture treats the stop as terminal.
//
// Lifecycle events are drained before broadcasts on every turn: Go's select
// picks randomly among ready channels, and membership must be settled before
// a message fans out.
func (h *Hub) Serve(ctx context.Context) error {
	logging.Info().Msg("WebSocket hub started")
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

// String names the hub in supervisor logs.
func (h *Hub) String() string { return "websocket-hub" }

// BroadcastDecision queues one decision for fan-out. Never blocks: if the
// hub cannot keep up the update is dropped, the decision record in the
// store remains the durable account.
func (h *Hub) BroadcastDecision(update DecisionUpdate) {
	select {
	case h.broadcast <- Message{Type: MessageTypeDecision, Data: update}:
	default:
		logging.Warn().Str("user_id", update.UserID).
			Msg("Broadcast queue full, dropping decision update")
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("WebSocket client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("WebSocket client disconnected")
}

// broadcastToClients fans one message out in client-id order. Iteration is
// sorted so delivery order is reproducible in tests. A client whose send
// buffer is full is dropped on the spot.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, client := range clients {
		select {
		case client.send <- message:
			metrics.WSMessagesSent.Inc()
		default:
			close(client.send)
			delete(h.clients, client)
			metrics.WSClientsDropped.Inc()
			logging.Warn().Uint64("client_id", client.id).
				Msg("Dropped slow WebSocket client")
		}
	}
	metrics.WSConnections.Set(float64(len(h.clients)))
}

// shutdown closes all subscribers and logs the reason. Cancellation is the
// expected stop path, so it is not logged as an error.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WSConnections.Set(0)

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().Str("reason", reason).Int("clients_closed", len(clients)).
		Msg("WebSocket hub stopped")
}
