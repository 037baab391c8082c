// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/engine"
)

var apiTestBase = time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

func testAPIConfig() *config.Config {
	return &config.Config{
		Feature:   config.FeatureConfig{Dimension: 22},
		LinUCB:    config.LinUCBConfig{Alpha: 1.0, Lambda: 1.0},
		Reward:    config.RewardConfig{Profile: engine.ProfileStandard},
		ColdStart: config.ColdStartConfig{EarlyStopThreshold: 0.85, MinProbes: 2},
		Features:  config.LearnerFlags{LinUCB: true, Thompson: true, ACTR: true, Heuristic: true},
		Cache:     config.CacheConfig{MaxBundles: 16, BundleTTL: time.Hour},
		Persist:   config.PersistenceConfig{SnapshotEveryN: 5, SnapshotMaxAge: time.Hour},
		Server:    config.ServerConfig{Timeout: 10 * time.Second},
		API:       config.APIConfig{DefaultPageSize: 50, MaxPageSize: 500},
	}
}

// testHandler builds a Handler around a live engine with no optional
// dependencies: no database, no tracker, no optimizer, no hub.
func testHandler(t *testing.T) *Handler {
	t.Helper()
	cfg := testAPIConfig()
	eng, err := engine.New(cfg, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return NewHandler(cfg, eng, nil, nil, nil, nil)
}

// testRoutes mounts the handler on the same patterns the real router uses,
// without the middleware stacks, so chi.URLParam resolves.
func testRoutes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1/users/{userID}", func(r chi.Router) {
		r.Post("/events", h.IngestEvent)
		r.Get("/strategy", h.GetStrategy)
		r.Get("/snapshot", h.GetSnapshot)
		r.Put("/snapshot", h.RestoreSnapshot)
		r.Get("/decisions", h.RecentDecisions)
	})
	r.Route("/api/v1/stats", func(r chi.Router) {
		r.Get("/weekly", h.WeeklyStats)
		r.Get("/effects", h.StrategyEffects)
	})
	r.Route("/api/v1/optimizer", func(r chi.Router) {
		r.Get("/best", h.OptimizerBest)
		r.Post("/evaluations", h.RecordEvaluation)
	})
	r.Get("/api/v1/admin/ensemble/{userID}", h.EnsembleStatus)
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Get("/api/v1/ws/decisions", h.DecisionStream)
	return r
}

func ingestBody(t *testing.T, sessionID, wordID string, correct bool, at time.Time) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(IngestEventRequest{
		SessionID: sessionID,
		Event: core.RawEvent{
			WordID:             wordID,
			IsCorrect:          correct,
			ResponseTimeMs:     2400,
			DwellTimeMs:        3100,
			Timestamp:          at,
			InteractionDensity: 0.6,
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bytes.NewReader(body)
}

// postEvents feeds n events through the HTTP surface and returns the last
// response recorder.
func postEvents(t *testing.T, routes http.Handler, userID string, n int) *httptest.ResponseRecorder {
	t.Helper()
	var w *httptest.ResponseRecorder
	for i := 0; i < n; i++ {
		body := ingestBody(t, "sess-1", fmt.Sprintf("word-%d", i%5), i%3 != 0,
			apiTestBase.Add(time.Duration(i)*time.Minute))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users/"+userID+"/events", body)
		req.Header.Set("Content-Type", "application/json")
		w = httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("event %d: status = %d, body %s", i, w.Code, w.Body.String())
		}
	}
	return w
}

func decodeData(t *testing.T, body []byte, data interface{}) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if !envelope.Success {
		t.Fatalf("envelope reports failure: %+v", envelope.Error)
	}
	if err := json.Unmarshal(envelope.Data, data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
}

func decodeError(t *testing.T, body []byte) *APIError {
	t.Helper()
	var envelope APIResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Success || envelope.Error == nil {
		t.Fatalf("expected error envelope, got %s", body)
	}
	return envelope.Error
}

// =====================================================
// Event Ingestion
// =====================================================

func TestIngestEvent_ReturnsDecision(t *testing.T) {
	routes := testRoutes(testHandler(t))

	w := postEvents(t, routes, "u-ingest", 1)

	var decision core.Decision
	decodeData(t, w.Body.Bytes(), &decision)

	if _, ok := actionspace.Lookup(decision.Action); !ok {
		t.Errorf("decision action %+v is not a catalogue member", decision.Action)
	}
	if decision.Explanation == "" {
		t.Error("decision has no explanation")
	}
}

func TestIngestEvent_BadJSON(t *testing.T) {
	routes := testRoutes(testHandler(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/u1/events",
		bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if apiErr := decodeError(t, w.Body.Bytes()); apiErr.Code != ErrCodeBadRequest {
		t.Errorf("error code = %s, want %s", apiErr.Code, ErrCodeBadRequest)
	}
}

func TestIngestEvent_MissingSessionID(t *testing.T) {
	routes := testRoutes(testHandler(t))

	body, _ := json.Marshal(IngestEventRequest{
		Event: core.RawEvent{WordID: "w1", IsCorrect: true, ResponseTimeMs: 1000, Timestamp: apiTestBase},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/u1/events", bytes.NewReader(body))
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if apiErr := decodeError(t, w.Body.Bytes()); apiErr.Code != ErrCodeValidationFailed {
		t.Errorf("error code = %s, want %s", apiErr.Code, ErrCodeValidationFailed)
	}
}

func TestIngestEvent_RejectsBadEventPayload(t *testing.T) {
	routes := testRoutes(testHandler(t))

	// An empty word_id survives request validation but is thrown out by
	// the engine's input sanitisation.
	body, _ := json.Marshal(IngestEventRequest{
		SessionID: "sess-1",
		Event:     core.RawEvent{ResponseTimeMs: 900, Timestamp: apiTestBase},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/u1/events", bytes.NewReader(body))
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", w.Code, w.Body.String())
	}
}

// capturePublisher records published events, or fails if err is set.
type capturePublisher struct {
	err      error
	userIDs  []string
	sessions []string
	events   []core.RawEvent
}

func (p *capturePublisher) PublishRawEvent(_ context.Context, userID, sessionID string, event core.RawEvent) error {
	if p.err != nil {
		return p.err
	}
	p.userIDs = append(p.userIDs, userID)
	p.sessions = append(p.sessions, sessionID)
	p.events = append(p.events, event)
	return nil
}

func TestIngestEvent_QueuesWhenPublisherConfigured(t *testing.T) {
	h := testHandler(t)
	publisher := &capturePublisher{}
	h.SetEventPublisher(publisher)
	routes := testRoutes(h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/u-bus/events",
		ingestBody(t, "sess-9", "w1", true, apiTestBase))
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body %s", w.Code, w.Body.String())
	}

	var data struct {
		Queued bool   `json:"queued"`
		UserID string `json:"user_id"`
	}
	decodeData(t, w.Body.Bytes(), &data)
	if !data.Queued {
		t.Error("expected queued = true")
	}
	if data.UserID != "u-bus" {
		t.Errorf("user_id = %s, want u-bus", data.UserID)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("published %d events, want 1", len(publisher.events))
	}
	if publisher.userIDs[0] != "u-bus" || publisher.sessions[0] != "sess-9" {
		t.Errorf("published identity = %s/%s, want u-bus/sess-9", publisher.userIDs[0], publisher.sessions[0])
	}
	if publisher.events[0].WordID != "w1" {
		t.Errorf("published word_id = %s, want w1", publisher.events[0].WordID)
	}
}

func TestIngestEvent_PublisherFailure(t *testing.T) {
	h := testHandler(t)
	h.SetEventPublisher(&capturePublisher{err: errSentinel("broker down")})
	routes := testRoutes(h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/u-bus/events",
		ingestBody(t, "sess-9", "w1", true, apiTestBase))
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

// =====================================================
// Strategy
// =====================================================

func TestGetStrategy(t *testing.T) {
	routes := testRoutes(testHandler(t))
	postEvents(t, routes, "u-strat", 3)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/u-strat/strategy", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var decision core.Decision
	decodeData(t, w.Body.Bytes(), &decision)
	if _, ok := actionspace.Lookup(decision.Action); !ok {
		t.Errorf("strategy action %+v is not a catalogue member", decision.Action)
	}
}

// =====================================================
// Snapshot Transfer
// =====================================================

func TestSnapshotRoundTrip(t *testing.T) {
	routes := testRoutes(testHandler(t))
	postEvents(t, routes, "u-snap", 6)

	// Export.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/u-snap/snapshot", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET snapshot status = %d, body %s", w.Code, w.Body.String())
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal snapshot envelope: %v", err)
	}
	if len(envelope.Data) == 0 {
		t.Fatal("snapshot payload is empty")
	}

	// Import into a fresh deployment.
	fresh := testRoutes(testHandler(t))
	req = httptest.NewRequest(http.MethodPut, "/api/v1/users/u-snap/snapshot",
		bytes.NewReader(envelope.Data))
	w = httptest.NewRecorder()
	fresh.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT snapshot status = %d, body %s", w.Code, w.Body.String())
	}

	var data struct {
		Restored bool `json:"restored"`
	}
	decodeData(t, w.Body.Bytes(), &data)
	if !data.Restored {
		t.Error("expected restored = true")
	}

	// The restored user must answer strategy reads.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/users/u-snap/strategy", nil)
	w = httptest.NewRecorder()
	fresh.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("strategy after restore status = %d", w.Code)
	}
}

func TestRestoreSnapshot_RejectsGarbage(t *testing.T) {
	routes := testRoutes(testHandler(t))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/u1/snapshot",
		bytes.NewReader([]byte("definitely not a snapshot")))
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", w.Code, w.Body.String())
	}
}

// =====================================================
// Decision Log
// =====================================================

func TestRecentDecisions_WithoutDatabase(t *testing.T) {
	routes := testRoutes(testHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/u1/decisions", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

// =====================================================
// Ensemble Introspection
// =====================================================

func TestEnsembleStatus(t *testing.T) {
	routes := testRoutes(testHandler(t))
	postEvents(t, routes, "u-ens", 4)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/ensemble/u-ens", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var status engine.EnsembleStatus
	decodeData(t, w.Body.Bytes(), &status)
	if status.UserID != "u-ens" {
		t.Errorf("user_id = %s, want u-ens", status.UserID)
	}
	if len(status.Weights) == 0 {
		t.Error("expected non-empty ensemble weights")
	}
	if status.Seq == 0 {
		t.Error("expected a non-zero event sequence after four events")
	}
}
