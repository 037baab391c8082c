// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/ensemble"
	"github.com/tomtom215/amas/internal/guardrails"
)

func TestTraceBuilderTilesStages(t *testing.T) {
	start := time.Now()
	tb := newTraceBuilder("node-1", start)

	tb.stage("perception", "in-a", "out-a", nil)
	tb.stage("modeling", "in-b", "out-b", map[string]string{"k": "v"})

	trace := tb.trace()
	if len(trace) != 2 {
		t.Fatalf("stages = %d, want 2", len(trace))
	}
	if trace[0].Stage != "perception" || trace[1].Stage != "modeling" {
		t.Fatalf("stage names = %s, %s", trace[0].Stage, trace[1].Stage)
	}
	for i, st := range trace {
		if st.NodeID != "node-1" {
			t.Fatalf("stage %d node = %q", i, st.NodeID)
		}
		if st.DurationMs < 0 {
			t.Fatalf("stage %d duration %v", i, st.DurationMs)
		}
	}
	if trace[1].StartMs < trace[0].StartMs {
		t.Fatalf("stages out of order: %d then %d", trace[0].StartMs, trace[1].StartMs)
	}
	if trace[1].Metadata["k"] != "v" {
		t.Fatalf("metadata lost: %+v", trace[1].Metadata)
	}
}

func TestExplanationSummary(t *testing.T) {
	action := actionspace.All()[0]

	tests := []struct {
		name     string
		sel      ensemble.Selection
		res      guardrails.Result
		contains []string
	}{
		{
			name: "ensemble with ordered votes",
			sel: ensemble.Selection{
				Action:     action,
				Confidence: 0.82,
				Source:     core.SourceEnsemble,
				Phase:      core.PhaseNormal,
				Votes: []core.MemberVote{
					{Learner: "thompson", Contribution: 0.20},
					{Learner: "linucb", Contribution: 0.45},
				},
			},
			res:      guardrails.Result{Action: action},
			contains: []string{"ensemble vote (normal)", "0.82", "linucb 0.45, thompson 0.20"},
		},
		{
			name: "cold start probe",
			sel: ensemble.Selection{
				Action:     action,
				Confidence: 0.33,
				Source:     core.SourceColdStart,
				Phase:      core.PhaseClassify,
			},
			res:      guardrails.Result{Action: action},
			contains: []string{"cold-start probe (classify)"},
		},
		{
			name: "guardrails adjusted",
			sel: ensemble.Selection{
				Action:     action,
				Confidence: 0.7,
				Source:     core.SourceEnsemble,
				Phase:      core.PhaseNormal,
			},
			res: guardrails.Result{
				Action:   actionspace.All()[1],
				Applied:  []string{"high_fatigue", "min_attention"},
				Adjusted: true,
			},
			contains: []string{"guardrails high_fatigue, min_attention", "adjusted the action"},
		},
		{
			name:     "fallback",
			sel:      ensemble.Selection{Action: action, Source: core.SourceFallback, Phase: core.PhaseNormal},
			res:      guardrails.Result{Action: action},
			contains: []string{"fallback picked"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := explanationSummary(tt.sel, tt.res)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Fatalf("explanation %q missing %q", got, want)
				}
			}
		})
	}
}
