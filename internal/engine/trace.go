// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/ensemble"
	"github.com/tomtom215/amas/internal/guardrails"
	"github.com/tomtom215/amas/internal/metrics"
)

// traceBuilder accumulates the per-stage record of one event's pipeline.
// Each stage call closes the stage that began at the previous mark, so the
// stage durations tile the pipeline without gaps.
type traceBuilder struct {
	nodeID string
	stages core.PipelineTrace
	mark   time.Time
}

func newTraceBuilder(nodeID string, start time.Time) *traceBuilder {
	return &traceBuilder{
		nodeID: nodeID,
		stages: make(core.PipelineTrace, 0, 8),
		mark:   start,
	}
}

// stage closes the running stage and feeds its duration to the stage
// histogram.
func (t *traceBuilder) stage(name, in, out string, md map[string]string) {
	now := time.Now()
	elapsed := now.Sub(t.mark)
	t.stages = append(t.stages, core.TraceStage{
		Stage:         name,
		NodeID:        t.nodeID,
		StartMs:       t.mark.UnixMilli(),
		DurationMs:    float64(elapsed.Microseconds()) / 1000,
		InputSummary:  in,
		OutputSummary: out,
		Metadata:      md,
	})
	metrics.PipelineStageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	t.mark = now
}

func (t *traceBuilder) trace() core.PipelineTrace { return t.stages }

// explanationSummary renders how a pick was made: which path chose, at
// what confidence, who voted how strongly, and which guardrails fired.
// Votes are ordered by contribution so the leading learner reads first.
func explanationSummary(sel ensemble.Selection, res guardrails.Result) string {
	var sb strings.Builder

	switch sel.Source {
	case core.SourceColdStart:
		fmt.Fprintf(&sb, "cold-start probe (%s)", sel.Phase)
	case core.SourceFallback:
		sb.WriteString("fallback")
	default:
		fmt.Fprintf(&sb, "ensemble vote (%s)", sel.Phase)
	}
	fmt.Fprintf(&sb, " picked %s at confidence %.2f", sel.Action.Key(), sel.Confidence)

	if len(sel.Votes) > 0 {
		votes := make([]core.MemberVote, len(sel.Votes))
		copy(votes, sel.Votes)
		sort.Slice(votes, func(i, j int) bool {
			if votes[i].Contribution != votes[j].Contribution {
				return votes[i].Contribution > votes[j].Contribution
			}
			return votes[i].Learner < votes[j].Learner
		})
		sb.WriteString("; votes:")
		for i, v := range votes {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, " %s %.2f", v.Learner, v.Contribution)
		}
	}

	if len(res.Applied) > 0 {
		fmt.Fprintf(&sb, "; guardrails %s", strings.Join(res.Applied, ", "))
		if res.Adjusted {
			fmt.Fprintf(&sb, " adjusted the action to %s", res.Action.Key())
		}
	}
	return sb.String()
}
