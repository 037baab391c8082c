// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package eventprocessor

import (
	"fmt"
	"time"

	"github.com/tomtom215/amas/internal/config"
)

// Subjects and stream identity. An action's index is stable for the life
// of a deployment and so are these: renaming a subject orphans the
// durable consumers bound to it.
const (
	// StreamName is the JetStream stream carrying all AMAS subjects.
	StreamName = "AMAS_EVENTS"

	// SubjectEventsRaw carries RawEventEnvelope payloads from the API.
	SubjectEventsRaw = "amas.events.raw"

	// SubjectDecisions carries DecisionUpdate payloads for the
	// websocket bridge.
	SubjectDecisions = "amas.decisions"
)

// streamSubjects is everything the AMAS_EVENTS stream retains.
var streamSubjects = []string{"amas.events.>", SubjectDecisions}

// StreamConfig describes the JetStream stream the initializer ensures.
type StreamConfig struct {
	Name     string
	Subjects []string

	// MaxAge bounds message retention.
	MaxAge time.Duration

	// MaxBytes bounds on-disk stream size; 0 means unlimited.
	MaxBytes int64

	// DuplicateWindow is how long JetStream tracks message IDs for
	// server-side deduplication.
	DuplicateWindow time.Duration

	Replicas int
}

// PublisherConfig configures the Watermill publisher connection.
type PublisherConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
}

// SubscriberConfig configures one durable JetStream subscription.
// Consumer and websocket bridge use distinct durable names so their
// delivery cursors never interfere.
type SubscriberConfig struct {
	URL              string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	MaxReconnects    int
	ReconnectWait    time.Duration
	AckWaitTimeout   time.Duration
	CloseTimeout     time.Duration
	MaxDeliver       int
	MaxAckPending    int

	// StreamName binds the subscription to a pre-created stream.
	// Required: subjects contain wildcards AutoProvision cannot name.
	StreamName string
}

// ConsumerConfig configures the decision consumer service.
type ConsumerConfig struct {
	// Workers is the number of goroutines draining the subscription.
	// One preserves per-user receive order; see the package doc.
	Workers int

	// ProcessTimeout is the per-event deadline handed to the engine.
	ProcessTimeout time.Duration

	// DedupWindow and DedupCapacity bound the in-process redelivery
	// suppression on top of JetStream's duplicate window.
	DedupWindow   time.Duration
	DedupCapacity int
}

// StreamConfigFrom derives the stream settings from the application
// config.
func StreamConfigFrom(cfg *config.NATSConfig) StreamConfig {
	retention := cfg.StreamRetentionDays
	if retention <= 0 {
		retention = 7
	}
	return StreamConfig{
		Name:            StreamName,
		Subjects:        streamSubjects,
		MaxAge:          time.Duration(retention) * 24 * time.Hour,
		MaxBytes:        cfg.MaxStore,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// PublisherConfigFrom derives publisher settings from the application
// config. url overrides cfg.URL when the embedded server picked its own
// listen address.
func PublisherConfigFrom(cfg *config.NATSConfig, url string) PublisherConfig {
	if url == "" {
		url = cfg.URL
	}
	return PublisherConfig{
		URL:             url,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectBuffer: 8 * 1024 * 1024,
	}
}

// SubscriberConfigFrom derives the decision consumer's subscription
// settings from the application config.
func SubscriberConfigFrom(cfg *config.NATSConfig, url string) SubscriberConfig {
	if url == "" {
		url = cfg.URL
	}
	subscribers := cfg.SubscribersCount
	if subscribers <= 0 {
		subscribers = 4
	}
	durable := cfg.DurableName
	if durable == "" {
		durable = "amas-engine"
	}
	queue := cfg.QueueGroup
	if queue == "" {
		queue = "deciders"
	}
	return SubscriberConfig{
		URL:              url,
		DurableName:      durable,
		QueueGroup:       queue,
		SubscribersCount: subscribers,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     10 * time.Second,
		MaxDeliver:       5,
		MaxAckPending:    512,
		StreamName:       StreamName,
	}
}

// BridgeSubscriberConfigFrom derives the websocket bridge's subscription
// settings: its own durable, no queue group, so every process replica
// sees every decision.
func BridgeSubscriberConfigFrom(cfg *config.NATSConfig, url string) SubscriberConfig {
	sub := SubscriberConfigFrom(cfg, url)
	sub.DurableName = sub.DurableName + "-wsbridge"
	sub.QueueGroup = ""
	sub.SubscribersCount = 1
	return sub
}

// ConsumerConfigFrom derives consumer settings from the application
// config. The per-event deadline reuses the HTTP timeout so the two
// ingest paths degrade identically.
func ConsumerConfigFrom(cfg *config.Config) ConsumerConfig {
	workers := cfg.NATS.SubscribersCount
	if workers <= 0 {
		workers = 4
	}
	timeout := cfg.Server.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return ConsumerConfig{
		Workers:        workers,
		ProcessTimeout: timeout,
		DedupWindow:    10 * time.Minute,
		DedupCapacity:  8192,
	}
}

// Validate rejects subscription settings that would silently misbehave.
func (c *SubscriberConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("subscriber URL required")
	}
	if c.DurableName == "" {
		return fmt.Errorf("durable name required")
	}
	if c.SubscribersCount < 1 {
		return fmt.Errorf("subscribers count must be at least 1, got %d", c.SubscribersCount)
	}
	return nil
}
