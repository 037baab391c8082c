// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package database

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/core"
)

// testDBSemaphore serialises DuckDB-backed tests; concurrent CGO
// connections under CI resource pressure can hang.
var testDBSemaphore = make(chan struct{}, 1)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return db
}

// testRecord builds a fully populated record. Timestamps are microsecond
// aligned; DuckDB TIMESTAMP does not keep nanoseconds.
func testRecord(id, userID, sessionID string, ts time.Time, seq uint64) *core.DecisionRecord {
	return &core.DecisionRecord{
		ID:             id,
		UserID:         userID,
		SessionID:      sessionID,
		AnswerRecordID: "answer-" + id,
		Timestamp:      ts,
		Seq:            seq,
		Source:         core.SourceEnsemble,
		Phase:          core.PhaseNormal,
		Weights:        map[string]float64{"linucb": 0.4, "thompson": 0.3, "actr": 0.1, "heuristic": 0.2},
		Votes: []core.MemberVote{
			{Learner: "linucb", ActionIndex: 9, Score: 0.8, Confidence: 0.7, Contribution: 0.28},
			{Learner: "thompson", ActionIndex: 12, Score: 0.6, Confidence: 0.5, Contribution: 0.11},
		},
		Action:     actionspace.All()[9],
		Confidence: 0.72,
		Trace: core.PipelineTrace{
			{Stage: "perception", NodeID: "node-1", StartMs: ts.UnixMilli(), DurationMs: 0.4, InputSummary: "raw event", OutputSummary: "state"},
			{Stage: "selection", NodeID: "node-1", StartMs: ts.UnixMilli() + 1, DurationMs: 1.2, InputSummary: "state", OutputSummary: "action 9"},
		},
		TotalDurationMs: 3.5,
	}
}

func TestNewCreatesSchema(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	n, err := db.CountDecisions(ctx)
	if err != nil {
		t.Fatalf("CountDecisions() error = %v", err)
	}
	if n != 0 {
		t.Errorf("CountDecisions() = %d, want 0", n)
	}
}

func TestInsertAndFetchDecisionRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	want := testRecord("rec-1", "user-1", "sess-1", ts, 4)
	if err := db.InsertDecisionRecord(ctx, want); err != nil {
		t.Fatalf("InsertDecisionRecord() error = %v", err)
	}

	got, err := db.GetDecision(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetDecision() error = %v", err)
	}

	if got.UserID != want.UserID || got.SessionID != want.SessionID {
		t.Errorf("identity = %s/%s, want %s/%s", got.UserID, got.SessionID, want.UserID, want.SessionID)
	}
	if got.AnswerRecordID != want.AnswerRecordID {
		t.Errorf("AnswerRecordID = %q, want %q", got.AnswerRecordID, want.AnswerRecordID)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ts)
	}
	if got.Seq != 4 {
		t.Errorf("Seq = %d, want 4", got.Seq)
	}
	if got.Source != core.SourceEnsemble || got.Phase != core.PhaseNormal {
		t.Errorf("source/phase = %s/%s", got.Source, got.Phase)
	}
	if math.Abs(got.Weights["linucb"]-0.4) > 1e-12 {
		t.Errorf("Weights[linucb] = %v, want 0.4", got.Weights["linucb"])
	}
	if len(got.Votes) != 2 || got.Votes[0].Learner != "linucb" || got.Votes[1].ActionIndex != 12 {
		t.Errorf("Votes = %+v", got.Votes)
	}
	if got.Action != want.Action {
		t.Errorf("Action = %+v, want %+v", got.Action, want.Action)
	}
	if got.RewardLater != nil {
		t.Errorf("RewardLater = %v, want nil before attribution", *got.RewardLater)
	}
	if len(got.Trace) != 2 || got.Trace[1].Stage != "selection" {
		t.Errorf("Trace = %+v", got.Trace)
	}
	if got.TotalDurationMs != 3.5 {
		t.Errorf("TotalDurationMs = %v, want 3.5", got.TotalDurationMs)
	}
}

func TestInsertDecisionRecordIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	rec := testRecord("rec-dup", "user-1", "sess-1", ts, 1)
	if err := db.InsertDecisionRecord(ctx, rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := db.InsertDecisionRecord(ctx, rec); err != nil {
		t.Fatalf("redelivered insert: %v", err)
	}

	n, err := db.CountDecisions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountDecisions() = %d, want 1", n)
	}
}

func TestInsertDecisionRecordAssignsID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := testRecord("", "user-1", "sess-1", time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC), 1)
	if err := db.InsertDecisionRecord(ctx, rec); err != nil {
		t.Fatalf("InsertDecisionRecord() error = %v", err)
	}
	if rec.ID == "" {
		t.Fatal("ID not assigned")
	}
	if _, err := db.GetDecision(ctx, rec.ID); err != nil {
		t.Errorf("GetDecision(%s) error = %v", rec.ID, err)
	}
}

func TestInsertDecisionRecordsBatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	recs := make([]*core.DecisionRecord, 5)
	for i := range recs {
		recs[i] = testRecord("", "user-batch", "sess-1", base.Add(time.Duration(i)*time.Minute), uint64(i))
	}
	if err := db.InsertDecisionRecords(ctx, recs); err != nil {
		t.Fatalf("InsertDecisionRecords() error = %v", err)
	}

	n, err := db.CountDecisions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("CountDecisions() = %d, want 5", n)
	}

	if err := db.InsertDecisionRecords(ctx, nil); err != nil {
		t.Errorf("empty batch error = %v", err)
	}
}

func TestUpdateRewardSetsOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rec := testRecord("rec-reward", "user-1", "sess-1", time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC), 1)
	if err := db.InsertDecisionRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if err := db.UpdateReward(ctx, "rec-reward", 0.75); err != nil {
		t.Fatalf("UpdateReward() error = %v", err)
	}

	got, err := db.GetDecision(ctx, "rec-reward")
	if err != nil {
		t.Fatal(err)
	}
	if got.RewardLater == nil || *got.RewardLater != 0.75 {
		t.Fatalf("RewardLater = %v, want 0.75", got.RewardLater)
	}

	err = db.UpdateReward(ctx, "rec-reward", 0.9)
	if !errors.Is(err, ErrRewardAlreadySet) {
		t.Errorf("second UpdateReward() error = %v, want ErrRewardAlreadySet", err)
	}
	// The first attribution survives.
	got, err = db.GetDecision(ctx, "rec-reward")
	if err != nil {
		t.Fatal(err)
	}
	if *got.RewardLater != 0.75 {
		t.Errorf("RewardLater = %v after rejected rewrite, want 0.75", *got.RewardLater)
	}

	err = db.UpdateReward(ctx, "rec-missing", 0.5)
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("UpdateReward(missing) error = %v, want ErrRecordNotFound", err)
	}
}

func TestRecentDecisionsNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := testRecord("", "user-recent", "sess-1", base.Add(time.Duration(i)*time.Hour), uint64(i))
		if err := db.InsertDecisionRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	// Another user's record must not leak in.
	if err := db.InsertDecisionRecord(ctx, testRecord("", "user-other", "sess-2", base, 0)); err != nil {
		t.Fatal(err)
	}

	recs, err := db.RecentDecisions(ctx, "user-recent", 2)
	if err != nil {
		t.Fatalf("RecentDecisions() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].Seq != 2 || recs[1].Seq != 1 {
		t.Errorf("order = seq %d, %d; want 2, 1", recs[0].Seq, recs[1].Seq)
	}
}

func TestSessionDecisionsAscending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := testRecord("", "user-1", "sess-target", base.Add(time.Duration(i)*time.Minute), uint64(i))
		if err := db.InsertDecisionRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.InsertDecisionRecord(ctx, testRecord("", "user-1", "sess-noise", base, 9)); err != nil {
		t.Fatal(err)
	}

	recs, err := db.SessionDecisions(ctx, "sess-target")
	if err != nil {
		t.Fatalf("SessionDecisions() error = %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.Seq != uint64(i) {
			t.Errorf("recs[%d].Seq = %d, want %d", i, rec.Seq, i)
		}
	}
}

func TestSourceCounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	sources := []core.DecisionSource{core.SourceEnsemble, core.SourceEnsemble, core.SourceColdStart}
	for i, s := range sources {
		rec := testRecord("", "user-1", "sess-1", base.Add(time.Duration(i)*time.Minute), uint64(i))
		rec.Source = s
		if err := db.InsertDecisionRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := db.SourceCounts(ctx)
	if err != nil {
		t.Fatalf("SourceCounts() error = %v", err)
	}
	if counts["ensemble"] != 2 || counts["coldstart"] != 1 {
		t.Errorf("counts = %v, want ensemble:2 coldstart:1", counts)
	}
}

func TestMeanRewardWindowed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	insert := func(ts time.Time, reward *float64) {
		t.Helper()
		rec := testRecord("", "user-mean", "sess-1", ts, 0)
		rec.RewardLater = reward
		if err := db.InsertDecisionRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	// Two rewarded records inside the window; one unattributed, one after
	// the window, one before it.
	half, one := 0.5, 1.0
	insert(base.Add(1*time.Hour), &half)
	insert(base.Add(2*time.Hour), &one)
	insert(base.Add(3*time.Hour), nil)
	insert(base.Add(30*time.Hour), &one)
	insert(base.Add(-1*time.Hour), &one)

	mean, n, err := db.MeanReward(ctx, "user-mean", base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("MeanReward() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	if math.Abs(mean-0.75) > 1e-12 {
		t.Errorf("mean = %v, want 0.75", mean)
	}

	mean, n, err = db.MeanReward(ctx, "user-none", base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || mean != 0 {
		t.Errorf("empty window = (%v, %d), want (0, 0)", mean, n)
	}
}

func TestStrategyEffectUpsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	week := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // a Monday
	first := &StrategyEffect{
		UserID: "user-1", WeekStart: week,
		Events: 40, Accuracy: 0.8, AvgReward: 0.5, AvgFatigue: 0.3,
		ComputedAt: week.Add(7 * 24 * time.Hour),
	}
	if err := db.UpsertStrategyEffect(ctx, first); err != nil {
		t.Fatalf("UpsertStrategyEffect() error = %v", err)
	}

	// Recompute the same week with a matured effect score.
	score := 0.12
	second := &StrategyEffect{
		UserID: "user-1", WeekStart: week,
		Events: 45, Accuracy: 0.82, AvgReward: 0.55, AvgFatigue: 0.28,
		EffectScore: &score,
		ComputedAt:  week.Add(14 * 24 * time.Hour),
	}
	if err := db.UpsertStrategyEffect(ctx, second); err != nil {
		t.Fatalf("re-upsert error = %v", err)
	}

	effects, err := db.StrategyEffects(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("StrategyEffects() error = %v", err)
	}
	if len(effects) != 1 {
		t.Fatalf("len = %d, want 1 (upsert, not append)", len(effects))
	}
	got := effects[0]
	if got.Events != 45 || got.Accuracy != 0.82 {
		t.Errorf("row = %+v, want recomputed values", got)
	}
	if got.EffectScore == nil || *got.EffectScore != 0.12 {
		t.Errorf("EffectScore = %v, want 0.12", got.EffectScore)
	}
	if !got.WeekStart.Equal(week) {
		t.Errorf("WeekStart = %v, want %v", got.WeekStart, week)
	}
}

func TestStrategyEffectsNewestWeekFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	week1 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	week2 := week1.Add(7 * 24 * time.Hour)
	for i, week := range []time.Time{week1, week2} {
		e := &StrategyEffect{
			UserID: "user-1", WeekStart: week,
			Events: int64(10 + i), Accuracy: 0.5, AvgReward: 0.4, AvgFatigue: 0.3,
			ComputedAt: week.Add(7 * 24 * time.Hour),
		}
		if err := db.UpsertStrategyEffect(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	effects, err := db.StrategyEffects(ctx, "user-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(effects) != 2 {
		t.Fatalf("len = %d, want 2", len(effects))
	}
	if !effects[0].WeekStart.Equal(week2) {
		t.Errorf("first row week = %v, want newest %v", effects[0].WeekStart, week2)
	}
}

func TestWeeklyScoreAveragesUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	week := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for i, reward := range []float64{0.4, 0.6} {
		e := &StrategyEffect{
			UserID: "user-" + string(rune('a'+i)), WeekStart: week,
			Events: 10, Accuracy: 0.5, AvgReward: reward, AvgFatigue: 0.3,
			ComputedAt: week,
		}
		if err := db.UpsertStrategyEffect(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	mean, users, err := db.WeeklyScore(ctx, week)
	if err != nil {
		t.Fatalf("WeeklyScore() error = %v", err)
	}
	if users != 2 {
		t.Fatalf("users = %d, want 2", users)
	}
	if math.Abs(mean-0.5) > 1e-12 {
		t.Errorf("mean = %v, want 0.5", mean)
	}

	_, users, err = db.WeeklyScore(ctx, week.Add(7*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if users != 0 {
		t.Errorf("users = %d for empty week, want 0", users)
	}
}

func TestUserTypeMix(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, pair := range []struct{ user, typ string }{
		{"u1", "fast"}, {"u2", "fast"}, {"u3", "stable"},
	} {
		if err := db.UpsertUserType(ctx, pair.user, pair.typ, at); err != nil {
			t.Fatalf("UpsertUserType() error = %v", err)
		}
	}

	mix, err := db.UserTypeMix(ctx)
	if err != nil {
		t.Fatalf("UserTypeMix() error = %v", err)
	}
	if mix["fast"] != 2 || mix["stable"] != 1 {
		t.Errorf("mix = %v, want fast:2 stable:1", mix)
	}

	// Reclassification moves the user between buckets instead of
	// double-counting.
	if err := db.UpsertUserType(ctx, "u2", "cautious", at.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	mix, err = db.UserTypeMix(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if mix["fast"] != 1 || mix["cautious"] != 1 || mix["stable"] != 1 {
		t.Errorf("mix after reclassification = %v", mix)
	}
}
