// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package eventprocessor

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/amas/internal/core"
)

// SchemaVersion is the current envelope schema version. Increment on
// breaking changes to RawEventEnvelope; consumers accept older versions.
const SchemaVersion = 1

// RawEventEnvelope is the wire format for one interaction event on the
// bus. The envelope carries the routing identity (user, session) the
// engine needs and the event itself; EnvelopeID doubles as the
// JetStream message ID for server-side deduplication.
type RawEventEnvelope struct {
	SchemaVersion int    `json:"schema_version"`
	EnvelopeID    string `json:"envelope_id"`
	UserID        string `json:"user_id"`
	SessionID     string `json:"session_id"`

	// PublishedAt is when the API accepted the event, distinct from
	// Event.Timestamp which is when the interaction happened.
	PublishedAt time.Time `json:"published_at"`

	Event core.RawEvent `json:"event"`
}

// NewRawEventEnvelope wraps an event for publication with a fresh
// envelope ID and publication timestamp.
func NewRawEventEnvelope(userID, sessionID string, event core.RawEvent) *RawEventEnvelope {
	return &RawEventEnvelope{
		SchemaVersion: SchemaVersion,
		EnvelopeID:    uuid.New().String(),
		UserID:        userID,
		SessionID:     sessionID,
		PublishedAt:   time.Now().UTC(),
		Event:         event,
	}
}

// Validate checks the fields the consumer cannot proceed without. The
// event payload itself is sanitised by the engine on ingress, not here.
func (e *RawEventEnvelope) Validate() error {
	if e.EnvelopeID == "" {
		return fmt.Errorf("envelope_id required")
	}
	if e.UserID == "" {
		return fmt.Errorf("user_id required")
	}
	if e.SessionID == "" {
		return fmt.Errorf("session_id required")
	}
	if e.SchemaVersion > SchemaVersion {
		return fmt.Errorf("schema version %d newer than supported %d", e.SchemaVersion, SchemaVersion)
	}
	return nil
}

// ensureSchemaVersion defaults the version for envelopes published
// before the field existed.
func (e *RawEventEnvelope) ensureSchemaVersion() {
	if e.SchemaVersion == 0 {
		e.SchemaVersion = SchemaVersion
	}
}

// SerializeEnvelope marshals an envelope for publication.
func SerializeEnvelope(e *RawEventEnvelope) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("nil envelope")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// DeserializeEnvelope unmarshals and validates an envelope from the bus.
func DeserializeEnvelope(data []byte) (*RawEventEnvelope, error) {
	var e RawEventEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	e.ensureSchemaVersion()
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return &e, nil
}
