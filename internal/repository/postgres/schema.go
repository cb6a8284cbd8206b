package postgres

import (
	"context"
	"fmt"
)

// Schema — DDL хранилища. audit_log и policy_versions только дописываются.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    id               UUID PRIMARY KEY,
    ts               TIMESTAMPTZ NOT NULL,
    agent_id         TEXT,
    tool_name        TEXT NOT NULL,
    request          JSONB NOT NULL,
    verdict          TEXT NOT NULL,
    risk_tier        TEXT NOT NULL,
    confidence_score DOUBLE PRECISION NOT NULL,
    threshold        DOUBLE PRECISION NOT NULL,
    reason           TEXT NOT NULL,
    eas              DOUBLE PRECISION NOT NULL,
    policy_version   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_log_agent_ts ON audit_log (agent_id, ts DESC);

CREATE TABLE IF NOT EXISTS escalations (
    id              UUID PRIMARY KEY,
    audit_id        UUID NOT NULL REFERENCES audit_log (id),
    agent_id        TEXT NOT NULL DEFAULT '',
    tool_name       TEXT NOT NULL,
    parameters      JSONB NOT NULL DEFAULT '{}',
    device_targets  JSONB NOT NULL DEFAULT '[]',
    batch_items     JSONB NOT NULL DEFAULT '[]',
    risk_tier       TEXT NOT NULL,
    reason          TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'PENDING',
    decided_by      TEXT,
    decision_reason TEXT,
    decided_at      TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE escalations ADD COLUMN IF NOT EXISTS batch_items JSONB NOT NULL DEFAULT '[]';
CREATE INDEX IF NOT EXISTS escalations_status ON escalations (status, created_at DESC);

CREATE TABLE IF NOT EXISTS policy_versions (
    seq              BIGSERIAL UNIQUE,
    id               UUID PRIMARY KEY,
    version          TEXT NOT NULL,
    content          TEXT NOT NULL,
    content_hash     TEXT NOT NULL,
    diff             TEXT NOT NULL DEFAULT '',
    created_by       TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    rolled_back_from UUID REFERENCES policy_versions (id)
);

CREATE TABLE IF NOT EXISTS agent_policy_overrides (
    id         UUID PRIMARY KEY,
    agent_id   TEXT NOT NULL,
    rule_type  TEXT NOT NULL,
    rule       JSONB NOT NULL,
    priority   INT NOT NULL DEFAULT 0,
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS overrides_agent_active ON agent_policy_overrides (agent_id) WHERE active;

CREATE TABLE IF NOT EXISTS eas_history (
    id         UUID PRIMARY KEY,
    agent_id   TEXT NOT NULL,
    value      DOUBLE PRECISION NOT NULL,
    actor      TEXT NOT NULL,
    reason     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS eas_history_agent ON eas_history (agent_id, created_at DESC);

CREATE TABLE IF NOT EXISTS execution_log (
    id          UUID PRIMARY KEY,
    batch_id    UUID NOT NULL,
    agent_id    TEXT NOT NULL DEFAULT '',
    device      TEXT NOT NULL,
    tool_name   TEXT NOT NULL,
    success     BOOLEAN NOT NULL,
    rolled_back BOOLEAN NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL,
    ts          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS execution_log_agent ON execution_log (agent_id, ts DESC);

CREATE TABLE IF NOT EXISTS agent_restrictions (
    agent_id   TEXT NOT NULL,
    kind       TEXT NOT NULL,
    reason     TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (agent_id, kind)
);

CREATE TABLE IF NOT EXISTS users (
    id            UUID PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    scopes        JSONB NOT NULL DEFAULT '[]',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate применяет схему; все операторы идемпотентны.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
