// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordDecision(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		phase    string
		duration time.Duration
	}{
		{"ensemble decision", "ensemble", "normal", 2 * time.Millisecond},
		{"coldstart decision", "coldstart", "classify", 800 * time.Microsecond},
		{"fallback decision", "fallback", "normal", 50 * time.Microsecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(DecisionsTotal.WithLabelValues(tt.source, tt.phase))
			RecordDecision(tt.source, tt.phase, tt.duration)
			after := testutil.ToFloat64(DecisionsTotal.WithLabelValues(tt.source, tt.phase))

			if after != before+1 {
				t.Errorf("DecisionsTotal{%s,%s} = %v, want %v", tt.source, tt.phase, after, before+1)
			}
		})
	}
}

func TestRecordDBQuery(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		table      string
		err        error
		wantErrInc bool
	}{
		{"successful insert", "INSERT", "decision_records", nil, false},
		{"failed insert", "INSERT", "decision_records", errors.New("io error"), true},
		{"successful select", "SELECT", "strategy_effects", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(DBQueryErrors.WithLabelValues(tt.operation, tt.table))
			RecordDBQuery(tt.operation, tt.table, 3*time.Millisecond, tt.err)
			after := testutil.ToFloat64(DBQueryErrors.WithLabelValues(tt.operation, tt.table))

			wantDelta := 0.0
			if tt.wantErrInc {
				wantDelta = 1.0
			}
			if after-before != wantDelta {
				t.Errorf("DBQueryErrors delta = %v, want %v", after-before, wantDelta)
			}
		})
	}
}

func TestRecordWorkerTask(t *testing.T) {
	before := testutil.ToFloat64(WorkerTasksTotal.WithLabelValues("linucb_select", "success"))
	RecordWorkerTask("linucb_select", 100*time.Microsecond, nil)
	after := testutil.ToFloat64(WorkerTasksTotal.WithLabelValues("linucb_select", "success"))
	if after != before+1 {
		t.Errorf("success count = %v, want %v", after, before+1)
	}

	beforeFail := testutil.ToFloat64(WorkerTasksTotal.WithLabelValues("cholesky_rank1_update", "failure"))
	RecordWorkerTask("cholesky_rank1_update", 10*time.Microsecond, errors.New("abandoned"))
	afterFail := testutil.ToFloat64(WorkerTasksTotal.WithLabelValues("cholesky_rank1_update", "failure"))
	if afterFail != beforeFail+1 {
		t.Errorf("failure count = %v, want %v", afterFail, beforeFail+1)
	}
}

func TestSetEnsembleWeights(t *testing.T) {
	SetEnsembleWeights(map[string]float64{
		"linucb":    0.4,
		"thompson":  0.3,
		"actr":      0.1,
		"heuristic": 0.2,
	})

	if got := testutil.ToFloat64(EnsembleWeight.WithLabelValues("linucb")); got != 0.4 {
		t.Errorf("EnsembleWeight{linucb} = %v, want 0.4", got)
	}
	if got := testutil.ToFloat64(EnsembleWeight.WithLabelValues("heuristic")); got != 0.2 {
		t.Errorf("EnsembleWeight{heuristic} = %v, want 0.2", got)
	}
}

// histogramSampleCount pulls the cumulative observation count for one
// labelled series out of a gather pass.
func histogramSampleCount(t *testing.T, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m.GetLabel(), labels) {
				continue
			}
			return m.GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func labelsMatch(got []*dto.LabelPair, want map[string]string) bool {
	for _, lp := range got {
		if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestDecisionDurationObserved(t *testing.T) {
	const name = "amas_decision_duration_seconds"
	labels := map[string]string{"source": "ensemble"}

	before := histogramSampleCount(t, name, labels)
	RecordDecision("ensemble", "normal", 3*time.Millisecond)
	after := histogramSampleCount(t, name, labels)

	if after != before+1 {
		t.Errorf("decision duration sample count = %d, want %d", after, before+1)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/v1/users/{userID}/events", "200"))
	RecordAPIRequest("POST", "/api/v1/users/{userID}/events", 200, 5*time.Millisecond)
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/v1/users/{userID}/events", "200"))
	if after != before+1 {
		t.Errorf("APIRequestsTotal = %v, want %v", after, before+1)
	}
}
