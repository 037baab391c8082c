// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package core

import (
	"time"

	"github.com/tomtom215/amas/internal/actionspace"
)

// DecisionSource tags which selection path produced an action.
type DecisionSource string

// Decision sources.
const (
	SourceColdStart DecisionSource = "coldstart"
	SourceEnsemble  DecisionSource = "ensemble"
	SourceFallback  DecisionSource = "fallback"
)

// Phase is the cold-start lifecycle stage of a user.
type Phase string

// Cold-start phases, in order.
const (
	PhaseClassify Phase = "classify"
	PhaseExplore  Phase = "explore"
	PhaseNormal   Phase = "normal"
)

// UserType is the cold-start classification of a user's learning style.
type UserType string

// User types. The zero value means not yet classified.
const (
	UserTypeUnknown  UserType = ""
	UserTypeFast     UserType = "fast"
	UserTypeStable   UserType = "stable"
	UserTypeCautious UserType = "cautious"
)

// MemberVote is one learner's contribution to a selection round, recorded
// for the trace and the live decision stream.
type MemberVote struct {
	// Learner names the voting member: linucb, thompson, actr, heuristic.
	Learner string `json:"learner"`

	// ActionIndex is the member's own arg-max over the catalogue.
	ActionIndex int `json:"action_index"`

	// Score is the member's raw score of its preferred action.
	Score float64 `json:"score"`

	// Confidence is the member's self-reported confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Contribution is weight * confidence * normalised score of the
	// finally selected action, the member's share of the winning vote.
	Contribution float64 `json:"contribution"`
}

// TraceStage records what one pipeline stage saw and produced for one event.
type TraceStage struct {
	// Stage names the pipeline stage: perception, modeling, selection,
	// guardrails, reward, update, persistence.
	Stage string `json:"stage"`

	// NodeID identifies the processing node for fleet-wide tracing.
	NodeID string `json:"node_id"`

	// StartMs is the stage start as Unix milliseconds.
	StartMs int64 `json:"start_ms"`

	// DurationMs is the wall-clock stage duration.
	DurationMs float64 `json:"duration_ms"`

	// InputSummary is a compact human-readable digest of the stage input.
	InputSummary string `json:"input_summary"`

	// OutputSummary is a compact human-readable digest of the stage output.
	OutputSummary string `json:"output_summary"`

	// Metadata carries stage-specific key/values (rule names, counters).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PipelineTrace is the ordered per-stage record of one event's pipeline.
type PipelineTrace []TraceStage

// DecisionRecord is the immutable per-event decision outcome persisted to
// the decision log. Append-only; nothing is ever updated except RewardLater
// once the ground-truth reward becomes attributable on a later event.
type DecisionRecord struct {
	// ID is the record's UUID.
	ID string `json:"id"`

	// UserID and SessionID identify who the decision was made for.
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	// AnswerRecordID links to the external answer-history row, if known.
	AnswerRecordID string `json:"answer_record_id,omitempty"`

	// Timestamp is the event time; Seq is the per-user monotone sequence
	// number that totally orders a user's records.
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`

	// Source and Phase describe which path picked the action.
	Source DecisionSource `json:"source"`
	Phase  Phase          `json:"phase"`

	// Weights is the ensemble weight snapshot at selection time.
	Weights map[string]float64 `json:"weights,omitempty"`

	// Votes holds the per-member votes of the selection round.
	Votes []MemberVote `json:"votes,omitempty"`

	// Action is the emitted (guard-railed) action.
	Action actionspace.Action `json:"action"`

	// Confidence is the winning vote's aggregate confidence.
	Confidence float64 `json:"confidence"`

	// RewardLater is the ground-truth reward attributed on the next
	// related event. Nil until observed; set exactly once.
	RewardLater *float64 `json:"reward_later"`

	// Trace is the per-stage pipeline record. May be empty under sampled
	// tracing.
	Trace PipelineTrace `json:"trace,omitempty"`

	// TotalDurationMs is the end-to-end pipeline duration.
	TotalDurationMs float64 `json:"total_duration_ms"`
}

// Decision is what ProcessEvent hands back to the caller: the guard-railed
// action to apply, the user state behind it, and a human-readable account
// of how the pick was made.
type Decision struct {
	Action      actionspace.Action `json:"action"`
	State       UserState          `json:"state"`
	Explanation string             `json:"explanation"`
}

// StatsSample is the per-event datum the engine hands to the stats tracker:
// just enough to build weekly aggregates without retaining the full record.
// RewardOK is false when the reward could not be computed for this event,
// in which case Reward must be ignored.
type StatsSample struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Correct   bool      `json:"correct"`
	Reward    float64   `json:"reward"`
	RewardOK  bool      `json:"reward_ok"`
	Fatigue   float64   `json:"fatigue"`
	Strategy  string    `json:"strategy"`
	UserType  UserType  `json:"user_type,omitempty"`
	Phase     Phase     `json:"phase"`
}
