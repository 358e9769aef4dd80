// Package migrations applies the finance-layer database schema. Statements
// are ordered and idempotent so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		id                UUID PRIMARY KEY,
		project_id        BIGINT NOT NULL,
		type              TEXT NOT NULL,
		amount            NUMERIC(78,0) NOT NULL,
		token_address     TEXT NOT NULL,
		chain_id          BIGINT NOT NULL,
		payer_address     TEXT NOT NULL,
		recipient_address TEXT NOT NULL,
		status            TEXT NOT NULL,
		proceeds_notified BOOLEAN NOT NULL DEFAULT FALSE,
		tx_hash           TEXT NOT NULL DEFAULT '',
		consideration_ref TEXT NOT NULL DEFAULT '',
		description       TEXT NOT NULL DEFAULT '',
		metadata          JSONB,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_project ON payments (project_id)`,
	`CREATE TABLE IF NOT EXISTS payment_events (
		id         UUID PRIMARY KEY,
		payment_id UUID NOT NULL REFERENCES payments (id),
		type       TEXT NOT NULL,
		actor      TEXT NOT NULL DEFAULT '',
		tx_hash    TEXT NOT NULL DEFAULT '',
		metadata   JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_events_payment ON payment_events (payment_id)`,
	`CREATE TABLE IF NOT EXISTS escrow_configs (
		project_id        BIGINT PRIMARY KEY,
		chain_id          BIGINT NOT NULL,
		allocation_escrow TEXT NOT NULL DEFAULT '',
		repayment_escrow  TEXT NOT NULL DEFAULT '',
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS role_assignments (
		id             UUID PRIMARY KEY,
		principal_id   TEXT NOT NULL,
		project_id     BIGINT NOT NULL DEFAULT 0,
		role           TEXT NOT NULL,
		active         BOOLEAN NOT NULL DEFAULT TRUE,
		approval_limit NUMERIC(78,0),
		assigned_by    TEXT NOT NULL DEFAULT '',
		assigned_at    TIMESTAMPTZ NOT NULL,
		revoked_by     TEXT NOT NULL DEFAULT '',
		revoked_at     TIMESTAMPTZ,
		notes          TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_role_assignments_active
		ON role_assignments (principal_id, project_id, role) WHERE active`,
	`CREATE TABLE IF NOT EXISTS role_change_events (
		id            UUID PRIMARY KEY,
		assignment_id UUID NOT NULL,
		principal_id  TEXT NOT NULL,
		project_id    BIGINT NOT NULL DEFAULT 0,
		role          TEXT NOT NULL,
		type          TEXT NOT NULL,
		actor         TEXT NOT NULL DEFAULT '',
		notes         TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS approval_matrices (
		project_id              BIGINT PRIMARY KEY,
		tier1_max_amount        NUMERIC(78,0) NOT NULL,
		tier1_roles             TEXT[] NOT NULL DEFAULT '{}',
		tier2_max_amount        NUMERIC(78,0) NOT NULL,
		tier2_roles             TEXT[] NOT NULL DEFAULT '{}',
		tier3_requires_multisig BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at              TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS deposits (
		id         UUID PRIMARY KEY,
		project_id BIGINT NOT NULL,
		amount     NUMERIC(78,0) NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS funding_buckets (
		id         UUID PRIMARY KEY,
		project_id BIGINT NOT NULL UNIQUE,
		available  NUMERIC(78,0) NOT NULL DEFAULT 0,
		committed  NUMERIC(78,0) NOT NULL DEFAULT 0,
		encumbered NUMERIC(78,0) NOT NULL DEFAULT 0,
		disbursed  NUMERIC(78,0) NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS finance_contracts (
		id             UUID PRIMARY KEY,
		project_id     BIGINT NOT NULL,
		current_amount NUMERIC(78,0) NOT NULL,
		status         TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id           UUID PRIMARY KEY,
		project_id   BIGINT NOT NULL,
		contract_id  UUID NOT NULL,
		total_amount NUMERIC(78,0) NOT NULL,
		net_payable  NUMERIC(78,0) NOT NULL,
		status       TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS disbursements (
		id         UUID PRIMARY KEY,
		project_id BIGINT NOT NULL,
		invoice_id UUID NOT NULL,
		amount     NUMERIC(78,0) NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lift_tokens (
		id         UUID PRIMARY KEY,
		project_id BIGINT NOT NULL,
		quantity   NUMERIC(78,0) NOT NULL,
		unit_price NUMERIC(78,0) NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Count returns the number of migration statements.
func Count() int { return len(statements) }

// Apply executes every migration statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
