// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/amas/internal/actionspace"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/core"
	"github.com/tomtom215/amas/internal/database"
)

func openTestLog(t *testing.T) (*DecisionLog, *database.DB) {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	})
	if err != nil {
		t.Fatalf("database.New failed: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})

	return NewDecisionLog(db), db
}

func testDecision(id, userID string) *core.DecisionRecord {
	return &core.DecisionRecord{
		ID:        id,
		UserID:    userID,
		SessionID: "sess-1",
		Timestamp: time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC),
		Seq:       1,
		Source:    core.SourceEnsemble,
		Phase:     core.PhaseNormal,
		Action: actionspace.Action{
			IntervalScale: 1.0,
			NewRatio:      0.2,
			Difficulty:    actionspace.DifficultyMid,
			BatchSize:     10,
			HintLevel:     1,
		},
		Confidence:      0.8,
		TotalDurationMs: 4.2,
	}
}

func TestDecisionLogInsertBatch(t *testing.T) {
	log, db := openTestLog(t)
	ctx := context.Background()

	recs := []*core.DecisionRecord{
		testDecision("rec-1", "user-1"),
		testDecision("rec-2", "user-1"),
		testDecision("rec-3", "user-2"),
	}
	if err := log.InsertBatch(ctx, recs); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	n, err := db.CountDecisions(ctx)
	if err != nil {
		t.Fatalf("CountDecisions failed: %v", err)
	}
	if n != 3 {
		t.Errorf("CountDecisions = %d, want 3", n)
	}
	if got := log.State(); got != gobreaker.StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
}

func TestDecisionLogRewardRoundTrip(t *testing.T) {
	log, db := openTestLog(t)
	ctx := context.Background()

	if err := log.InsertBatch(ctx, []*core.DecisionRecord{testDecision("rec-1", "user-1")}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if err := log.AttributeReward(ctx, "rec-1", 0.7); err != nil {
		t.Fatalf("AttributeReward failed: %v", err)
	}

	rec, err := db.GetDecision(ctx, "rec-1")
	if err != nil {
		t.Fatalf("GetDecision failed: %v", err)
	}
	if rec.RewardLater == nil || *rec.RewardLater != 0.7 {
		t.Errorf("RewardLater = %v, want 0.7", rec.RewardLater)
	}

	// The reward is write-once; the sentinel passes through.
	err = log.AttributeReward(ctx, "rec-1", 0.9)
	if !errors.Is(err, database.ErrRewardAlreadySet) {
		t.Fatalf("second AttributeReward = %v, want ErrRewardAlreadySet", err)
	}
}

func TestDecisionLogSentinelsDoNotTripBreaker(t *testing.T) {
	log, _ := openTestLog(t)
	ctx := context.Background()

	// Well past the five-consecutive-failures threshold.
	for i := 0; i < 8; i++ {
		err := log.AttributeReward(ctx, "missing", 0.5)
		if !errors.Is(err, database.ErrRecordNotFound) {
			t.Fatalf("AttributeReward %d = %v, want ErrRecordNotFound", i, err)
		}
	}

	if got := log.State(); got != gobreaker.StateClosed {
		t.Errorf("State = %v, want closed after domain errors", got)
	}
}

func TestDecisionLogBreakerOpensOnStorageFailure(t *testing.T) {
	db, err := database.New(&config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	})
	if err != nil {
		t.Fatalf("database.New failed: %v", err)
	}
	log := NewDecisionLog(db)

	// A closed database fails every write.
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx := context.Background()
	recs := []*core.DecisionRecord{testDecision("rec-1", "user-1")}

	for i := 0; i < 5; i++ {
		err := log.InsertBatch(ctx, recs)
		if err == nil {
			t.Fatalf("InsertBatch %d succeeded on closed database", i)
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("breaker opened early on attempt %d", i)
		}
	}

	if got := log.State(); got != gobreaker.StateOpen {
		t.Fatalf("State = %v, want open after five failures", got)
	}

	err = log.InsertBatch(ctx, recs)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("InsertBatch with open breaker = %v, want ErrOpenState", err)
	}
}

func TestStateValue(t *testing.T) {
	tests := []struct {
		state gobreaker.State
		want  int
	}{
		{gobreaker.StateClosed, 0},
		{gobreaker.StateHalfOpen, 1},
		{gobreaker.StateOpen, 2},
	}
	for _, tt := range tests {
		if got := stateValue(tt.state); got != tt.want {
			t.Errorf("stateValue(%v) = %d, want %d", tt.state, got, tt.want)
		}
	}
}
