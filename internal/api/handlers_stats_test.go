// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/database"
	"github.com/tomtom215/amas/internal/engine"
	"github.com/tomtom215/amas/internal/gp"
	"github.com/tomtom215/amas/internal/stats"
)

func testStatsDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// testHandlerWithDeps builds a Handler with the full dependency set: live
// engine, in-memory decision log, stats tracker, and optimizer.
func testHandlerWithDeps(t *testing.T) *Handler {
	t.Helper()
	cfg := testAPIConfig()
	eng, err := engine.New(cfg, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	db := testStatsDB(t)

	lower, upper := gp.RewardWeightBounds()
	opt, err := gp.NewOptimizer(config.OptimizerConfig{}, lower, upper, nil)
	if err != nil {
		t.Fatalf("gp.NewOptimizer: %v", err)
	}

	tracker, err := stats.New(config.StatsConfig{}, db, opt, []float64{0.4, 0.2, 0.2, 0.1, 0.1})
	if err != nil {
		t.Fatalf("stats.New: %v", err)
	}

	return NewHandler(cfg, eng, db, tracker, opt, nil)
}

// =====================================================
// Weekly Stats
// =====================================================

func TestWeeklyStats_WithoutTracker(t *testing.T) {
	routes := testRoutes(testHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats/weekly", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestWeeklyStats(t *testing.T) {
	h := testHandlerWithDeps(t)
	// The live week aggregates by wall-clock week, so the sample must
	// carry a current timestamp.
	h.tracker.RecordSample(core.StatsSample{
		UserID:    "u1",
		Timestamp: time.Now().UTC(),
		Correct:   true,
		Reward:    0.7,
		RewardOK:  true,
		Fatigue:   0.3,
		Strategy:  "linucb",
		Phase:     core.PhaseNormal,
	})
	routes := testRoutes(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats/weekly?weeks=4", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var report stats.WeeklyReport
	decodeData(t, w.Body.Bytes(), &report)
	if report.Current.Events != 1 {
		t.Errorf("live week events = %d, want 1", report.Current.Events)
	}
}

func TestWeeklyStats_RejectsBadWeeks(t *testing.T) {
	routes := testRoutes(testHandlerWithDeps(t))

	for _, query := range []string{"weeks=0", "weeks=500"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats/weekly?"+query, nil)
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, w.Code)
		}
	}
}

// =====================================================
// Strategy Effects
// =====================================================

func TestStrategyEffects(t *testing.T) {
	routes := testRoutes(testHandlerWithDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats/effects?user_id=u1", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var effects []database.StrategyEffect
	decodeData(t, w.Body.Bytes(), &effects)
	if len(effects) != 0 {
		t.Errorf("fresh database returned %d effects, want 0", len(effects))
	}
}

func TestStrategyEffects_WithoutTracker(t *testing.T) {
	routes := testRoutes(testHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats/effects", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

// =====================================================
// Optimizer
// =====================================================

func TestOptimizerBest_WithoutOptimizer(t *testing.T) {
	routes := testRoutes(testHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/optimizer/best", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestOptimizerBest_NoEvaluationsYet(t *testing.T) {
	routes := testRoutes(testHandlerWithDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/optimizer/best", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body %s", w.Code, w.Body.String())
	}
}

func TestRecordEvaluationThenBest(t *testing.T) {
	routes := testRoutes(testHandlerWithDeps(t))

	lower, _ := gp.RewardWeightBounds()
	body, _ := json.Marshal(EvaluationRequest{Params: lower, Value: 0.61})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/optimizer/evaluations", bytes.NewReader(body))
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("POST evaluation status = %d, body %s", w.Code, w.Body.String())
	}

	var recorded struct {
		Recorded     bool `json:"recorded"`
		Observations int  `json:"observations"`
	}
	decodeData(t, w.Body.Bytes(), &recorded)
	if !recorded.Recorded || recorded.Observations != 1 {
		t.Errorf("recorded = %+v, want recorded with 1 observation", recorded)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/optimizer/best", nil)
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET best status = %d, body %s", w.Code, w.Body.String())
	}

	var best optimizerBestResponse
	decodeData(t, w.Body.Bytes(), &best)
	if best.Best == nil {
		t.Fatal("best is nil after an evaluation")
	}
	if best.Best.Value != 0.61 {
		t.Errorf("best value = %v, want 0.61", best.Best.Value)
	}
	if best.Observations != 1 {
		t.Errorf("observations = %d, want 1", best.Observations)
	}
}

func TestRecordEvaluation_WrongDimension(t *testing.T) {
	routes := testRoutes(testHandlerWithDeps(t))

	body, _ := json.Marshal(EvaluationRequest{Params: []float64{0.5, 0.5}, Value: 0.3})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/optimizer/evaluations", bytes.NewReader(body))
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", w.Code, w.Body.String())
	}
}

func TestRecordEvaluation_EmptyParams(t *testing.T) {
	routes := testRoutes(testHandlerWithDeps(t))

	body, _ := json.Marshal(EvaluationRequest{Value: 0.3})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/optimizer/evaluations", bytes.NewReader(body))
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if apiErr := decodeError(t, w.Body.Bytes()); apiErr.Code != ErrCodeValidationFailed {
		t.Errorf("error code = %s, want %s", apiErr.Code, ErrCodeValidationFailed)
	}
}

// =====================================================
// Decision Log (with database)
// =====================================================

func TestRecentDecisions_EmptyLog(t *testing.T) {
	routes := testRoutes(testHandlerWithDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/u1/decisions?limit=10", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	var records []core.DecisionRecord
	decodeData(t, w.Body.Bytes(), &records)
	if len(records) != 0 {
		t.Errorf("fresh log returned %d records, want 0", len(records))
	}
}

func TestRecentDecisions_RejectsBadLimit(t *testing.T) {
	routes := testRoutes(testHandlerWithDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/u1/decisions?limit=0", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
