package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS batch_runs (
		id           UUID PRIMARY KEY,
		supplier     TEXT NOT NULL,
		attempted    INTEGER NOT NULL DEFAULT 0,
		succeeded    INTEGER NOT NULL DEFAULT 0,
		failed       INTEGER NOT NULL DEFAULT 0,
		records      INTEGER NOT NULL DEFAULT 0,
		started_at   TIMESTAMPTZ NOT NULL,
		finished_at  TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS supplier_records (
		sku           TEXT NOT NULL,
		url           TEXT NOT NULL,
		supplier      TEXT NOT NULL,
		title         TEXT NOT NULL DEFAULT '',
		product_code  TEXT NOT NULL DEFAULT '',
		price         TEXT NOT NULL DEFAULT '',
		description   TEXT NOT NULL DEFAULT '',
		stock_level   TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		batch_id      UUID,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (sku, url)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id              UUID PRIMARY KEY,
		aggregate_type  TEXT NOT NULL,
		aggregate_id    TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		payload         JSONB NOT NULL,
		target_stream   TEXT NOT NULL,
		status          TEXT NOT NULL,
		retry_count     INTEGER NOT NULL DEFAULT 0,
		error_message   TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		processed_at    TIMESTAMPTZ,
		next_retry_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending
		ON outbox_event (status, next_retry_at)`,
}

// EnsureSchema creates the tables used by the record mirror and the outbox.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
