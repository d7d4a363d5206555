package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the DDL for the sync engine's tables. Duplicate imports are
// blocked by the (user_id, provider) and (credential_id, external_id) unique
// constraints; the partial unique index on running sync_runs rows serializes
// passes across processes.
const schema = `
CREATE TABLE IF NOT EXISTS integration_credentials (
    credential_id    UUID PRIMARY KEY,
    user_id          TEXT NOT NULL,
    provider         TEXT NOT NULL,
    external_user_id TEXT NOT NULL DEFAULT '',
    access_token     TEXT NOT NULL,
    refresh_token    TEXT NOT NULL DEFAULT '',
    token_expires_at TIMESTAMPTZ,
    is_active        BOOLEAN NOT NULL DEFAULT TRUE,
    connected_at     TIMESTAMPTZ NOT NULL,
    last_sync_at     TIMESTAMPTZ,
    sync_cursor      TEXT NOT NULL DEFAULT '',
    metadata         JSONB,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, provider)
);

CREATE INDEX IF NOT EXISTS integration_credentials_external_user
    ON integration_credentials (provider, external_user_id);

CREATE INDEX IF NOT EXISTS integration_credentials_active
    ON integration_credentials (is_active) WHERE is_active;

CREATE TABLE IF NOT EXISTS sync_runs (
    run_id            UUID PRIMARY KEY,
    credential_id     UUID NOT NULL REFERENCES integration_credentials(credential_id),
    status            TEXT NOT NULL,
    trigger_kind      TEXT NOT NULL,
    started_at        TIMESTAMPTZ NOT NULL,
    completed_at      TIMESTAMPTZ,
    records_processed INTEGER NOT NULL DEFAULT 0,
    records_imported  INTEGER NOT NULL DEFAULT 0,
    records_skipped   INTEGER NOT NULL DEFAULT 0,
    error_message     TEXT NOT NULL DEFAULT '',
    cursor_after      TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS sync_runs_single_running
    ON sync_runs (credential_id) WHERE status = 'running';

CREATE INDEX IF NOT EXISTS sync_runs_by_credential
    ON sync_runs (credential_id, started_at DESC);

CREATE TABLE IF NOT EXISTS external_records (
    record_id           UUID PRIMARY KEY,
    credential_id       UUID NOT NULL REFERENCES integration_credentials(credential_id),
    external_id         TEXT NOT NULL,
    name                TEXT NOT NULL DEFAULT '',
    activity_type       TEXT NOT NULL,
    started_at          TIMESTAMPTZ NOT NULL,
    ended_at            TIMESTAMPTZ,
    duration_min        DOUBLE PRECISION,
    distance_meters     DOUBLE PRECISION,
    calories            INTEGER,
    is_imported         BOOLEAN NOT NULL DEFAULT FALSE,
    imported_session_id UUID,
    raw_data            JSONB,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (credential_id, external_id)
);

CREATE INDEX IF NOT EXISTS external_records_unimported
    ON external_records (credential_id) WHERE NOT is_imported;

CREATE TABLE IF NOT EXISTS workout_sessions (
    session_id    UUID PRIMARY KEY,
    user_id       TEXT NOT NULL,
    name          TEXT NOT NULL DEFAULT '',
    activity_type TEXT NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    duration_min  DOUBLE PRECISION,
    source        TEXT NOT NULL DEFAULT 'import',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS outbox (
    event_id       BIGSERIAL PRIMARY KEY,
    aggregate_type TEXT NOT NULL,
    aggregate_id   TEXT NOT NULL,
    event_type     TEXT NOT NULL,
    topic          TEXT NOT NULL,
    partition_key  TEXT NOT NULL,
    payload        JSONB NOT NULL,
    dedupe_key     TEXT UNIQUE,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    claimed_at     TIMESTAMPTZ,
    published_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS outbox_unpublished
    ON outbox (event_id) WHERE published_at IS NULL;

CREATE TABLE IF NOT EXISTS outbox_dlq (
    dlq_id         BIGSERIAL PRIMARY KEY,
    event_id       BIGINT NOT NULL,
    aggregate_type TEXT NOT NULL,
    aggregate_id   TEXT NOT NULL,
    event_type     TEXT NOT NULL,
    topic          TEXT NOT NULL,
    partition_key  TEXT NOT NULL,
    payload        JSONB NOT NULL,
    reason         TEXT NOT NULL,
    retry_count    INTEGER NOT NULL DEFAULT 0,
    next_retry_at  TIMESTAMPTZ,
    last_attempt_at TIMESTAMPTZ,
    quarantined_at TIMESTAMPTZ,
    quarantine_reason TEXT,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate applies the schema. Statements are idempotent, so Migrate is safe
// to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
