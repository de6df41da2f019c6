package database

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS price_observation (
		id               UUID PRIMARY KEY,
		run_id           UUID NOT NULL,
		product_id       TEXT NOT NULL,
		link             TEXT NOT NULL,
		price            NUMERIC(14, 4),
		price_minor      BIGINT,
		previous_price   NUMERIC(14, 4),
		reason           TEXT,
		error_message    TEXT,
		challenge_cycles INTEGER NOT NULL DEFAULT 0,
		duration_ms      BIGINT NOT NULL DEFAULT 0,
		observed_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_price_observation_product
		ON price_observation (product_id, observed_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_price_observation_run
		ON price_observation (run_id)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		target_stream  TEXT NOT NULL,
		status         TEXT NOT NULL,
		retry_count    INTEGER NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending
		ON outbox_event (status, next_retry_at)`,
}

// EnsureSchema creates the ledger and outbox tables when they are missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
