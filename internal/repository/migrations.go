package repository

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE SCHEMA IF NOT EXISTS fund`,
	`CREATE TABLE IF NOT EXISTS fund.pool (
		id                   INTEGER PRIMARY KEY CHECK (id = 1),
		vault                BIGINT NOT NULL DEFAULT 0,
		loan_outstanding     BIGINT NOT NULL DEFAULT 0,
		interests_received   BIGINT NOT NULL DEFAULT 0,
		provision            BIGINT NOT NULL DEFAULT 0,
		accrued_loans        BIGINT NOT NULL DEFAULT 0,
		accrued_interests    BIGINT NOT NULL DEFAULT 0,
		daily_rate           BIGINT NOT NULL DEFAULT 0,
		deposit_lock_seconds BIGINT NOT NULL DEFAULT 0,
		committee_size       INTEGER NOT NULL DEFAULT 12,
		cursor_pass          BIGINT NOT NULL DEFAULT 0,
		cursor_start         INTEGER NOT NULL DEFAULT 0,
		cursor_active        BOOLEAN NOT NULL DEFAULT FALSE,
		cursor_pool          BIGINT NOT NULL DEFAULT 0,
		cursor_basis         BIGINT NOT NULL DEFAULT 0,
		cursor_paid          BIGINT NOT NULL DEFAULT 0,
		cursor_size          INTEGER NOT NULL DEFAULT 0,
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS fund.sequences (
		name  TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fund.members (
		id        TEXT PRIMARY KEY,
		joined_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fund.role_grants (
		member TEXT NOT NULL,
		role   TEXT NOT NULL,
		PRIMARY KEY (member, role)
	)`,
	`CREATE TABLE IF NOT EXISTS fund.balances (
		member       TEXT PRIMARY KEY,
		balance      BIGINT NOT NULL CHECK (balance >= 0),
		deposited_at TIMESTAMPTZ NOT NULL,
		position     INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fund.investor_index (
		position INTEGER PRIMARY KEY,
		member   TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fund.applications (
		id              BIGINT PRIMARY KEY,
		borrower        TEXT NOT NULL,
		amount          BIGINT NOT NULL,
		term            INTEGER NOT NULL,
		state           TEXT NOT NULL,
		approved_amount BIGINT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL,
		approved_at     TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS fund.ballots (
		id               BIGINT PRIMARY KEY,
		application_id   BIGINT NOT NULL,
		borrower         TEXT NOT NULL,
		confirm_count    INTEGER NOT NULL DEFAULT 0,
		decline_count    INTEGER NOT NULL DEFAULT 0,
		committee_size   INTEGER NOT NULL DEFAULT 0,
		committee_status TEXT NOT NULL,
		state            TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		deadline         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fund.ballot_voters (
		ballot_id BIGINT NOT NULL,
		member    TEXT NOT NULL,
		voted     BOOLEAN NOT NULL DEFAULT FALSE,
		confirm   BOOLEAN NOT NULL DEFAULT FALSE,
		voted_at  TIMESTAMPTZ,
		PRIMARY KEY (ballot_id, member)
	)`,
	`CREATE TABLE IF NOT EXISTS fund.loans (
		id                  BIGINT PRIMARY KEY,
		application_id      BIGINT NOT NULL UNIQUE,
		borrower            TEXT NOT NULL,
		amount              BIGINT NOT NULL,
		term                INTEGER NOT NULL,
		installments        INTEGER NOT NULL,
		installments_repaid INTEGER NOT NULL DEFAULT 0,
		granted_at          TIMESTAMPTZ NOT NULL,
		last_repaid_at      TIMESTAMPTZ,
		amount_due          BIGINT NOT NULL CHECK (amount_due >= 0),
		daily_rate          BIGINT NOT NULL,
		interest_paid       BIGINT NOT NULL DEFAULT 0,
		fully_repaid        BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS fund.randomness_requests (
		request_id   TEXT PRIMARY KEY,
		ballot_id    BIGINT NOT NULL,
		attempt      INTEGER NOT NULL,
		status       TEXT NOT NULL,
		requested_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_randomness_status ON fund.randomness_requests(status)`,
	`CREATE TABLE IF NOT EXISTS fund.distribution_snapshot (
		position INTEGER PRIMARY KEY,
		member   TEXT NOT NULL,
		balance  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fund.payouts (
		id         BIGSERIAL PRIMARY KEY,
		key        TEXT NOT NULL UNIQUE,
		kind       TEXT NOT NULL,
		recipient  TEXT NOT NULL,
		amount     BIGINT NOT NULL,
		reference  BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the fund schema if it does not exist
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' || c == '(' {
			return s[:i]
		}
	}
	return s
}
