// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package eventprocessor

import (
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/core"
)

func TestNewRawEventEnvelope(t *testing.T) {
	event := core.RawEvent{
		WordID:         "apple",
		IsCorrect:      true,
		ResponseTimeMs: 1800,
		Timestamp:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}

	env := NewRawEventEnvelope("user-1", "sess-1", event)

	if env.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", env.SchemaVersion, SchemaVersion)
	}
	if env.EnvelopeID == "" {
		t.Error("EnvelopeID should be generated")
	}
	if env.PublishedAt.IsZero() {
		t.Error("PublishedAt should be set")
	}
	if env.Event.WordID != "apple" {
		t.Errorf("Event.WordID = %q, want apple", env.Event.WordID)
	}
	if err := env.Validate(); err != nil {
		t.Errorf("fresh envelope should validate: %v", err)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	valid := func() *RawEventEnvelope {
		return NewRawEventEnvelope("user-1", "sess-1", core.RawEvent{WordID: "w"})
	}

	tests := []struct {
		name    string
		mutate  func(*RawEventEnvelope)
		wantErr string
	}{
		{
			name:   "valid envelope",
			mutate: func(*RawEventEnvelope) {},
		},
		{
			name:    "missing envelope id",
			mutate:  func(e *RawEventEnvelope) { e.EnvelopeID = "" },
			wantErr: "envelope_id",
		},
		{
			name:    "missing user id",
			mutate:  func(e *RawEventEnvelope) { e.UserID = "" },
			wantErr: "user_id",
		},
		{
			name:    "missing session id",
			mutate:  func(e *RawEventEnvelope) { e.SessionID = "" },
			wantErr: "session_id",
		},
		{
			name:    "schema from the future",
			mutate:  func(e *RawEventEnvelope) { e.SchemaVersion = SchemaVersion + 1 },
			wantErr: "newer than supported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid()
			tt.mutate(env)
			err := env.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	event := core.RawEvent{
		WordID:              "banana",
		IsCorrect:           false,
		ResponseTimeMs:      4200,
		DwellTimeMs:         9000,
		Timestamp:           time.Date(2026, 3, 2, 11, 30, 0, 0, time.UTC),
		PauseCount:          2,
		SwitchCount:         1,
		RetryCount:          3,
		FocusLossDurationMs: 1500,
		InteractionDensity:  0.4,
	}
	env := NewRawEventEnvelope("user-7", "sess-9", event)

	data, err := SerializeEnvelope(env)
	if err != nil {
		t.Fatalf("SerializeEnvelope: %v", err)
	}

	got, err := DeserializeEnvelope(data)
	if err != nil {
		t.Fatalf("DeserializeEnvelope: %v", err)
	}

	if got.EnvelopeID != env.EnvelopeID {
		t.Errorf("EnvelopeID = %q, want %q", got.EnvelopeID, env.EnvelopeID)
	}
	if got.UserID != "user-7" || got.SessionID != "sess-9" {
		t.Errorf("identity = %q/%q, want user-7/sess-9", got.UserID, got.SessionID)
	}
	if got.Event != event {
		t.Errorf("Event = %+v, want %+v", got.Event, event)
	}
}

func TestDeserializeEnvelopeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "not json", data: []byte("{{{{")},
		{name: "empty object", data: []byte("{}")},
		{name: "missing user", data: []byte(`{"envelope_id":"e","session_id":"s"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DeserializeEnvelope(tt.data); err == nil {
				t.Fatal("DeserializeEnvelope should fail")
			}
		})
	}
}

func TestDeserializeEnvelopeDefaultsLegacySchema(t *testing.T) {
	data := []byte(`{"envelope_id":"e1","user_id":"u1","session_id":"s1","event":{"word_id":"w"}}`)
	env, err := DeserializeEnvelope(data)
	if err != nil {
		t.Fatalf("DeserializeEnvelope: %v", err)
	}
	if env.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %d, want defaulted %d", env.SchemaVersion, SchemaVersion)
	}
}

func TestConfigDerivation(t *testing.T) {
	natsCfg := config.NATSConfig{
		URL:                 "nats://example:4222",
		StreamRetentionDays: 3,
		MaxStore:            1 << 20,
		SubscribersCount:    2,
		DurableName:         "amas-engine",
		QueueGroup:          "deciders",
	}

	stream := StreamConfigFrom(&natsCfg)
	if stream.Name != StreamName {
		t.Errorf("stream name = %q, want %q", stream.Name, StreamName)
	}
	if stream.MaxAge != 3*24*time.Hour {
		t.Errorf("MaxAge = %v, want 72h", stream.MaxAge)
	}
	if len(stream.Subjects) == 0 {
		t.Error("stream should declare subjects")
	}

	sub := SubscriberConfigFrom(&natsCfg, "nats://embedded:41222")
	if sub.URL != "nats://embedded:41222" {
		t.Errorf("URL override ignored: %q", sub.URL)
	}
	if sub.StreamName != StreamName {
		t.Errorf("StreamName = %q, want bind to %q", sub.StreamName, StreamName)
	}
	if err := sub.Validate(); err != nil {
		t.Errorf("derived subscriber config should validate: %v", err)
	}

	bridge := BridgeSubscriberConfigFrom(&natsCfg, "")
	if bridge.QueueGroup != "" {
		t.Errorf("bridge QueueGroup = %q, want none", bridge.QueueGroup)
	}
	if bridge.DurableName == sub.DurableName {
		t.Error("bridge must not share the consumer durable")
	}
	if bridge.URL != "nats://example:4222" {
		t.Errorf("bridge URL = %q, want config URL", bridge.URL)
	}
}

func TestSubscriberConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		cfg    SubscriberConfig
		wantOK bool
	}{
		{
			name:   "complete",
			cfg:    SubscriberConfig{URL: "nats://x", DurableName: "d", SubscribersCount: 1},
			wantOK: true,
		},
		{
			name: "missing url",
			cfg:  SubscriberConfig{DurableName: "d", SubscribersCount: 1},
		},
		{
			name: "missing durable",
			cfg:  SubscriberConfig{URL: "nats://x", SubscribersCount: 1},
		},
		{
			name: "zero subscribers",
			cfg:  SubscriberConfig{URL: "nats://x", DurableName: "d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantOK && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tt.wantOK && err == nil {
				t.Fatal("Validate() should fail")
			}
		})
	}
}
