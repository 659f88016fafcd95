// Package db is the PostgreSQL store behind the persistent repositories.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/soochol/deskflow/internal/db")

// DB wraps a database/sql connection pool for PostgreSQL.
type DB struct {
	Pool *sql.DB
}

// New creates a new database connection.
// The caller must import a PostgreSQL driver (e.g., _ "github.com/lib/pq").
func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.Pool.Close()
}

// Migrate runs the database schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Pool.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// startSpan opens a client span for one statement.
func startSpan(ctx context.Context, name, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "db."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", operation),
	))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// jsonParam marshals v for a JSONB column. nil maps and slices become SQL
// NULL because lib/pq rejects a nil []byte for JSONB.
func jsonParam(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func unmarshalJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

const migrationSQL = `
CREATE TABLE IF NOT EXISTS workflows (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    name        TEXT NOT NULL,
    version     INTEGER NOT NULL DEFAULT 1,
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    definition  JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_workflows_tenant ON workflows(tenant_id);

CREATE TABLE IF NOT EXISTS executions (
    id               TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    workflow_id      TEXT NOT NULL,
    workflow_version INTEGER NOT NULL DEFAULT 1,
    trigger_event_id TEXT NOT NULL,
    conversation_id  TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL,
    started_at       TIMESTAMPTZ NOT NULL,
    completed_at     TIMESTAMPTZ,
    node_results     JSONB,
    error            TEXT NOT NULL DEFAULT '',
    trigger          JSONB,
    pending          JSONB,
    waiting_on       TEXT NOT NULL DEFAULT '',
    resume_at        TIMESTAMPTZ,
    cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
    version          BIGINT NOT NULL DEFAULT 1,
    UNIQUE (workflow_id, trigger_event_id)
);

CREATE INDEX IF NOT EXISTS idx_executions_tenant_started ON executions(tenant_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);

CREATE TABLE IF NOT EXISTS escalation_configurations (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    name        TEXT NOT NULL,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    condition   JSONB NOT NULL,
    priority    INTEGER NOT NULL DEFAULT 0,
    action      JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_escalations_tenant ON escalation_configurations(tenant_id, priority);

CREATE TABLE IF NOT EXISTS triage_rules (
    id                   TEXT PRIMARY KEY,
    tenant_id            TEXT NOT NULL,
    name                 TEXT NOT NULL,
    is_active            BOOLEAN NOT NULL DEFAULT TRUE,
    condition            JSONB NOT NULL,
    priority_score_delta INTEGER NOT NULL DEFAULT 0,
    assignment_hint      TEXT NOT NULL DEFAULT '',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_triage_rules_tenant ON triage_rules(tenant_id);

CREATE TABLE IF NOT EXISTS conversations (
    tenant_id              TEXT NOT NULL,
    id                     TEXT NOT NULL,
    status                 TEXT NOT NULL,
    assigned_to            TEXT NOT NULL DEFAULT '',
    tags                   JSONB,
    metadata               JSONB,
    version                BIGINT NOT NULL DEFAULT 1,
    enqueued_at            TIMESTAMPTZ,
    last_human_touch_at    TIMESTAMPTZ,
    last_message_at        TIMESTAMPTZ,
    last_message_text      TEXT NOT NULL DEFAULT '',
    last_message_sentiment DOUBLE PRECISION,
    last_score             DOUBLE PRECISION,
    message_count          INTEGER NOT NULL DEFAULT 0,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(tenant_id, status);

CREATE TABLE IF NOT EXISTS messages (
    seq             BIGSERIAL,
    tenant_id       TEXT NOT NULL,
    conversation_id TEXT NOT NULL,
    id              TEXT NOT NULL,
    role            TEXT NOT NULL DEFAULT 'customer',
    content         TEXT NOT NULL DEFAULT '',
    sentiment       DOUBLE PRECISION,
    metadata        JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, conversation_id, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(tenant_id, conversation_id, seq DESC);

CREATE TABLE IF NOT EXISTS trigger_results (
    id               TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    configuration_id TEXT NOT NULL DEFAULT '',
    name             TEXT NOT NULL DEFAULT '',
    priority         INTEGER NOT NULL DEFAULT 0,
    conversation_id  TEXT NOT NULL DEFAULT '',
    message_id       TEXT NOT NULL DEFAULT '',
    matched          BOOLEAN NOT NULL DEFAULT FALSE,
    success          BOOLEAN NOT NULL DEFAULT FALSE,
    reason           TEXT NOT NULL,
    conflict         BOOLEAN NOT NULL DEFAULT FALSE,
    notified         BOOLEAN NOT NULL DEFAULT FALSE,
    error            TEXT NOT NULL DEFAULT '',
    evaluated_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trigger_results_tenant ON trigger_results(tenant_id, evaluated_at);

CREATE TABLE IF NOT EXISTS wakeups (
    execution_id TEXT NOT NULL,
    node_id      TEXT NOT NULL,
    due_at       TIMESTAMPTZ NOT NULL,
    attempts     INTEGER NOT NULL DEFAULT 0,
    leased_until TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
    PRIMARY KEY (execution_id, node_id)
);

CREATE INDEX IF NOT EXISTS idx_wakeups_due ON wakeups(due_at);

CREATE TABLE IF NOT EXISTS escalation_ledger (
    tenant_id        TEXT NOT NULL,
    message_id       TEXT NOT NULL,
    configuration_id TEXT NOT NULL,
    claimed_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, message_id)
);

CREATE TABLE IF NOT EXISTS connections (
    id        TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name      TEXT NOT NULL,
    type      TEXT NOT NULL,
    host      TEXT NOT NULL DEFAULT '',
    port      INTEGER NOT NULL DEFAULT 0,
    login     TEXT NOT NULL DEFAULT '',
    password  TEXT NOT NULL DEFAULT '',
    token     TEXT NOT NULL DEFAULT '',
    extras    JSONB
);

CREATE INDEX IF NOT EXISTS idx_connections_tenant ON connections(tenant_id);
`
