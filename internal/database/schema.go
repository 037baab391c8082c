// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package database

import (
	"context"
	"fmt"
	"time"
)

// The JSON-shaped columns (weights, votes, action, trace) are declared
// VARCHAR and carry serialised JSON. Declaring them VARCHAR keeps the
// schema independent of the DuckDB json extension; this package owns the
// (de)serialisation either way.
const createDecisionRecordsTable = `
CREATE TABLE IF NOT EXISTS decision_records (
	id               VARCHAR PRIMARY KEY,
	user_id          VARCHAR NOT NULL,
	session_id       VARCHAR NOT NULL,
	answer_record_id VARCHAR,
	ts               TIMESTAMP NOT NULL,
	seq              BIGINT NOT NULL,
	source           VARCHAR NOT NULL,
	phase            VARCHAR NOT NULL,
	weights          VARCHAR,
	votes            VARCHAR,
	action           VARCHAR NOT NULL,
	confidence       DOUBLE NOT NULL,
	reward           DOUBLE,
	trace            VARCHAR,
	duration_ms      DOUBLE NOT NULL
);
`

const createStrategyEffectsTable = `
CREATE TABLE IF NOT EXISTS strategy_effects (
	user_id      VARCHAR NOT NULL,
	week_start   DATE NOT NULL,
	events       BIGINT NOT NULL,
	accuracy     DOUBLE NOT NULL,
	avg_reward   DOUBLE NOT NULL,
	avg_fatigue  DOUBLE NOT NULL,
	effect_score DOUBLE,
	computed_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, week_start)
);
`

// user_types registers each user's settled cold-start classification. The
// GROUP BY over this table is the empirical prior mix for new users.
const createUserTypesTable = `
CREATE TABLE IF NOT EXISTS user_types (
	user_id       VARCHAR PRIMARY KEY,
	user_type     VARCHAR NOT NULL,
	classified_at TIMESTAMP NOT NULL
);
`

func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, ddl := range []string{
		createDecisionRecordsTable,
		createStrategyEffectsTable,
		createUserTypesTable,
	} {
		if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_decisions_user_ts ON decision_records (user_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_source ON decision_records (source)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_session ON decision_records (session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_effects_week ON strategy_effects (week_start)`,
	}
	for _, idx := range indexes {
		if _, err := db.conn.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultQueryTimeout)
}
