// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/amas/internal/core"
)

// Sentinel errors for the reward attribution path.
var (
	// ErrRecordNotFound means the decision record id does not exist.
	ErrRecordNotFound = errors.New("decision record not found")

	// ErrRewardAlreadySet means the record's reward was attributed before;
	// rewards are write-once.
	ErrRewardAlreadySet = errors.New("reward already set")
)

const insertDecisionQuery = `
INSERT INTO decision_records (
	id, user_id, session_id, answer_record_id, ts, seq, source, phase,
	weights, votes, action, confidence, reward, trace, duration_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING
`

const selectDecisionColumns = `
SELECT id, user_id, session_id, answer_record_id, ts, seq, source, phase,
       weights, votes, action, confidence, reward, trace, duration_ms
FROM decision_records
`

// InsertDecisionRecord appends one record. Conflicting ids are ignored so
// redelivered events stay idempotent.
func (db *DB) InsertDecisionRecord(ctx context.Context, rec *core.DecisionRecord) error {
	stmt, err := db.getStmt(ctx, insertDecisionQuery)
	if err != nil {
		return err
	}

	args, err := decisionArgs(rec)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, args...); err != nil {
		return fmt.Errorf("failed to insert decision record: %w", err)
	}
	return nil
}

// InsertDecisionRecords appends a batch inside one transaction. The store
// writer flushes its queue through here.
func (db *DB) InsertDecisionRecords(ctx context.Context, recs []*core.DecisionRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch insert: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertDecisionQuery)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	defer closeQuietly(stmt)

	for _, rec := range recs {
		args, err := decisionArgs(rec)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert decision record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch insert: %w", err)
	}
	return nil
}

// UpdateReward attributes the ground-truth reward to a record exactly once.
// Returns ErrRewardAlreadySet when the record already carries a reward and
// ErrRecordNotFound when the id is unknown.
func (db *DB) UpdateReward(ctx context.Context, id string, reward float64) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE decision_records SET reward = ? WHERE id = ? AND reward IS NULL`,
		reward, id)
	if err != nil {
		return fmt.Errorf("failed to update reward for %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM decision_records WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check record %s: %w", id, err)
	}
	if exists {
		return ErrRewardAlreadySet
	}
	return ErrRecordNotFound
}

// RecentDecisions returns a user's latest records, newest first.
func (db *DB) RecentDecisions(ctx context.Context, userID string, limit int) ([]core.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := selectDecisionColumns + `WHERE user_id = ? ORDER BY ts DESC, seq DESC LIMIT ?`
	return queryAndScan(ctx, db.conn, query, []any{userID, limit}, scanDecision)
}

// SessionDecisions returns every record of one session in decision order.
func (db *DB) SessionDecisions(ctx context.Context, sessionID string) ([]core.DecisionRecord, error) {
	query := selectDecisionColumns + `WHERE session_id = ? ORDER BY ts ASC, seq ASC`
	return queryAndScan(ctx, db.conn, query, []any{sessionID}, scanDecision)
}

// GetDecision fetches one record by id.
func (db *DB) GetDecision(ctx context.Context, id string) (*core.DecisionRecord, error) {
	recs, err := queryAndScan(ctx, db.conn, selectDecisionColumns+`WHERE id = ?`, []any{id}, scanDecision)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrRecordNotFound
	}
	return &recs[0], nil
}

// CountDecisions reports the total record count.
func (db *DB) CountDecisions(ctx context.Context) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM decision_records`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count decision records: %w", err)
	}
	return n, nil
}

// SourceCounts breaks the record count down by decision source.
func (db *DB) SourceCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM decision_records GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to query source counts: %w", err)
	}
	defer closeQuietly(rows)

	counts := make(map[string]int64)
	for rows.Next() {
		var source string
		var n int64
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan source count: %w", err)
		}
		counts[source] = n
	}
	return counts, rows.Err()
}

// MeanReward averages the attributed rewards of one user's records inside
// [from, to). The count reports how many records carried a reward; zero
// means the mean is meaningless.
func (db *DB) MeanReward(ctx context.Context, userID string, from, to time.Time) (float64, int64, error) {
	var mean sql.NullFloat64
	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT AVG(reward), COUNT(reward) FROM decision_records
		 WHERE user_id = ? AND ts >= ? AND ts < ? AND reward IS NOT NULL`,
		userID, from, to).Scan(&mean, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query mean reward: %w", err)
	}
	if !mean.Valid {
		return 0, 0, nil
	}
	return mean.Float64, n, nil
}

// decisionArgs serialises a record into insert arguments, assigning an id
// when the caller left it empty.
func decisionArgs(rec *core.DecisionRecord) ([]any, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	weights, err := marshalOrNil(rec.Weights, len(rec.Weights) > 0)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal weights for %s: %w", rec.ID, err)
	}
	votes, err := marshalOrNil(rec.Votes, len(rec.Votes) > 0)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal votes for %s: %w", rec.ID, err)
	}
	action, err := json.Marshal(rec.Action)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action for %s: %w", rec.ID, err)
	}
	trace, err := marshalOrNil(rec.Trace, len(rec.Trace) > 0)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trace for %s: %w", rec.ID, err)
	}

	var answerID any
	if rec.AnswerRecordID != "" {
		answerID = rec.AnswerRecordID
	}
	var reward any
	if rec.RewardLater != nil {
		reward = *rec.RewardLater
	}

	return []any{
		rec.ID, rec.UserID, rec.SessionID, answerID, rec.Timestamp, rec.Seq,
		string(rec.Source), string(rec.Phase),
		weights, votes, string(action), rec.Confidence, reward, trace,
		rec.TotalDurationMs,
	}, nil
}

func marshalOrNil(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func scanDecision(rows *sql.Rows) (core.DecisionRecord, error) {
	var rec core.DecisionRecord
	var answerID, weights, votes, action, trace sql.NullString
	var reward sql.NullFloat64
	var source, phase string

	err := rows.Scan(&rec.ID, &rec.UserID, &rec.SessionID, &answerID,
		&rec.Timestamp, &rec.Seq, &source, &phase,
		&weights, &votes, &action, &rec.Confidence, &reward, &trace,
		&rec.TotalDurationMs)
	if err != nil {
		return rec, fmt.Errorf("failed to scan decision record: %w", err)
	}

	rec.Source = core.DecisionSource(source)
	rec.Phase = core.Phase(phase)
	rec.AnswerRecordID = answerID.String

	if weights.Valid {
		if err := json.Unmarshal([]byte(weights.String), &rec.Weights); err != nil {
			return rec, fmt.Errorf("failed to unmarshal weights for %s: %w", rec.ID, err)
		}
	}
	if votes.Valid {
		if err := json.Unmarshal([]byte(votes.String), &rec.Votes); err != nil {
			return rec, fmt.Errorf("failed to unmarshal votes for %s: %w", rec.ID, err)
		}
	}
	if action.Valid {
		if err := json.Unmarshal([]byte(action.String), &rec.Action); err != nil {
			return rec, fmt.Errorf("failed to unmarshal action for %s: %w", rec.ID, err)
		}
	}
	if trace.Valid {
		if err := json.Unmarshal([]byte(trace.String), &rec.Trace); err != nil {
			return rec, fmt.Errorf("failed to unmarshal trace for %s: %w", rec.ID, err)
		}
	}
	if reward.Valid {
		r := reward.Float64
		rec.RewardLater = &r
	}
	return rec, nil
}
