// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StrategyEffect is one user-week aggregate row. EffectScore stays nil
// until the post-change window has matured enough to score the strategy
// change.
type StrategyEffect struct {
	UserID      string    `json:"user_id"`
	WeekStart   time.Time `json:"week_start"`
	Events      int64     `json:"events"`
	Accuracy    float64   `json:"accuracy"`
	AvgReward   float64   `json:"avg_reward"`
	AvgFatigue  float64   `json:"avg_fatigue"`
	EffectScore *float64  `json:"effect_score"`
	ComputedAt  time.Time `json:"computed_at"`
}

// UpsertStrategyEffect writes one user-week row, replacing any previous
// computation for the same week.
func (db *DB) UpsertStrategyEffect(ctx context.Context, e *StrategyEffect) error {
	var score any
	if e.EffectScore != nil {
		score = *e.EffectScore
	}
	if e.ComputedAt.IsZero() {
		e.ComputedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx, `
INSERT INTO strategy_effects (user_id, week_start, events, accuracy, avg_reward, avg_fatigue, effect_score, computed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, week_start) DO UPDATE SET
	events = excluded.events,
	accuracy = excluded.accuracy,
	avg_reward = excluded.avg_reward,
	avg_fatigue = excluded.avg_fatigue,
	effect_score = excluded.effect_score,
	computed_at = excluded.computed_at`,
		e.UserID, e.WeekStart, e.Events, e.Accuracy, e.AvgReward, e.AvgFatigue, score, e.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert strategy effect: %w", err)
	}
	return nil
}

// StrategyEffects returns a user's weekly rows, newest week first.
func (db *DB) StrategyEffects(ctx context.Context, userID string, limit int) ([]StrategyEffect, error) {
	if limit <= 0 {
		limit = 26
	}
	return queryAndScan(ctx, db.conn, `
SELECT user_id, week_start, events, accuracy, avg_reward, avg_fatigue, effect_score, computed_at
FROM strategy_effects WHERE user_id = ? ORDER BY week_start DESC LIMIT ?`,
		[]any{userID, limit}, scanEffect)
}

// WeeklyScore aggregates one week across all users: the mean of the
// per-user average rewards, and how many users contributed. This is the
// observation the optimiser records against the reward weights that were
// live that week.
func (db *DB) WeeklyScore(ctx context.Context, weekStart time.Time) (float64, int64, error) {
	var mean sql.NullFloat64
	var users int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT AVG(avg_reward), COUNT(*) FROM strategy_effects WHERE week_start = ?`,
		weekStart).Scan(&mean, &users)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query weekly score: %w", err)
	}
	if !mean.Valid {
		return 0, 0, nil
	}
	return mean.Float64, users, nil
}

// WeekScore is one week's global aggregate.
type WeekScore struct {
	WeekStart time.Time `json:"week_start"`
	Score     float64   `json:"score"`
	Users     int64     `json:"users"`
}

// WeeklyScores returns per-week global scores from the given week onwards,
// oldest first. The stats tracker replays these into the optimiser after a
// restart.
func (db *DB) WeeklyScores(ctx context.Context, since time.Time) ([]WeekScore, error) {
	return queryAndScan(ctx, db.conn, `
SELECT week_start, AVG(avg_reward), COUNT(*)
FROM strategy_effects WHERE week_start >= ?
GROUP BY week_start ORDER BY week_start`,
		[]any{since}, func(rows *sql.Rows) (WeekScore, error) {
			var w WeekScore
			if err := rows.Scan(&w.WeekStart, &w.Score, &w.Users); err != nil {
				return w, fmt.Errorf("failed to scan weekly score: %w", err)
			}
			return w, nil
		})
}

// RecentEffects returns the latest scored strategy changes across all
// users, newest computation first.
func (db *DB) RecentEffects(ctx context.Context, limit int) ([]StrategyEffect, error) {
	if limit <= 0 {
		limit = 50
	}
	return queryAndScan(ctx, db.conn, `
SELECT user_id, week_start, events, accuracy, avg_reward, avg_fatigue, effect_score, computed_at
FROM strategy_effects WHERE effect_score IS NOT NULL
ORDER BY computed_at DESC LIMIT ?`,
		[]any{limit}, scanEffect)
}

// UpsertUserType registers a user's settled classification. Re-classifying
// (a state-corruption recovery path) overwrites.
func (db *DB) UpsertUserType(ctx context.Context, userID, userType string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
INSERT INTO user_types (user_id, user_type, classified_at)
VALUES (?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
	user_type = excluded.user_type,
	classified_at = excluded.classified_at`,
		userID, userType, at)
	if err != nil {
		return fmt.Errorf("failed to upsert user type: %w", err)
	}
	return nil
}

// UserTypeMix counts classified users per type. The cold-start priors are
// this mix normalised, with the fixed fallback when it is empty.
func (db *DB) UserTypeMix(ctx context.Context) (map[string]int64, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_type, COUNT(*) FROM user_types GROUP BY user_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query user type mix: %w", err)
	}
	defer closeQuietly(rows)

	mix := make(map[string]int64)
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan user type count: %w", err)
		}
		mix[t] = n
	}
	return mix, rows.Err()
}

func scanEffect(rows *sql.Rows) (StrategyEffect, error) {
	var e StrategyEffect
	var score sql.NullFloat64
	err := rows.Scan(&e.UserID, &e.WeekStart, &e.Events, &e.Accuracy,
		&e.AvgReward, &e.AvgFatigue, &score, &e.ComputedAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan strategy effect: %w", err)
	}
	if score.Valid {
		s := score.Float64
		e.EffectScore = &s
	}
	return e, nil
}
