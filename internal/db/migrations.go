package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS queues (
		id                  uuid PRIMARY KEY,
		clinic_id           uuid NOT NULL,
		name                text NOT NULL,
		description         text NOT NULL DEFAULT '',
		queue_type          text NOT NULL DEFAULT 'general',
		status              text NOT NULL DEFAULT 'active',
		max_capacity        integer NOT NULL CHECK (max_capacity > 0),
		current_count       integer NOT NULL DEFAULT 0,
		average_wait_time   integer NOT NULL DEFAULT 0,
		estimated_wait_time integer NOT NULL DEFAULT 0 CHECK (estimated_wait_time >= 0),
		priority_level      integer NOT NULL DEFAULT 0,
		is_active           boolean NOT NULL DEFAULT true,
		auto_assign         boolean NOT NULL DEFAULT false,
		created_at          timestamptz NOT NULL DEFAULT now(),
		updated_at          timestamptz NOT NULL DEFAULT now(),
		CHECK (current_count >= 0 AND current_count <= max_capacity)
	)`,
	`CREATE INDEX IF NOT EXISTS queues_clinic_idx ON queues (clinic_id)`,
	`CREATE TABLE IF NOT EXISTS queue_entries (
		id                  uuid PRIMARY KEY,
		seq                 bigserial NOT NULL,
		queue_id            uuid NOT NULL REFERENCES queues (id) ON DELETE CASCADE,
		patient_id          uuid NOT NULL,
		priority            integer NOT NULL DEFAULT 1 CHECK (priority >= 1),
		status              text NOT NULL DEFAULT 'waiting',
		joined_at           timestamptz NOT NULL,
		called_at           timestamptz,
		served_at           timestamptz,
		removed_at          timestamptz,
		estimated_wait_time integer NOT NULL DEFAULT 0,
		actual_wait_time    integer,
		metadata            jsonb NOT NULL DEFAULT '{}'::jsonb,
		notes               text NOT NULL DEFAULT '',
		updated_at          timestamptz NOT NULL DEFAULT now(),
		CHECK (NOT (served_at IS NOT NULL AND removed_at IS NOT NULL))
	)`,
	`ALTER TABLE queue_entries ADD COLUMN IF NOT EXISTS seq bigserial NOT NULL`,
	`CREATE INDEX IF NOT EXISTS queue_entries_rank_idx
		ON queue_entries (queue_id, status, priority DESC, joined_at)`,
	`CREATE INDEX IF NOT EXISTS queue_entries_patient_idx
		ON queue_entries (queue_id, patient_id, joined_at DESC, seq DESC)`,
	`CREATE TABLE IF NOT EXISTS queue_events (
		id         bigserial PRIMARY KEY,
		event_type text NOT NULL,
		queue_id   uuid NOT NULL,
		entry_id   uuid,
		payload    jsonb,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS clinic_settings (
		clinic_id  uuid NOT NULL,
		key        text NOT NULL,
		value      text NOT NULL,
		updated_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (clinic_id, key)
	)`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
