/**
 * @description
 * Startup schema bootstrap for the settlement-owned tables. Schema failures
 * are the one fatal condition in this service: they abort process startup
 * instead of being retried per tick.
 *
 * The orders/order_items tables belong to the order collaborator and are
 * deliberately absent here.
 */
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS settlement_transfers (
		chain_id          BIGINT       NOT NULL,
		tx_hash           TEXT         NOT NULL,
		log_index         INTEGER      NOT NULL,
		transaction_index INTEGER,
		block_number      BIGINT       NOT NULL,
		payment_reference TEXT         NOT NULL,
		gateway_address   TEXT         NOT NULL,
		payer_address     TEXT,
		amount            NUMERIC(78,0) CHECK (amount >= 0),
		observed_at       TIMESTAMPTZ  NOT NULL,
		PRIMARY KEY (chain_id, tx_hash, log_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_settlement_transfers_reference
		ON settlement_transfers (chain_id, payment_reference)`,
	`CREATE TABLE IF NOT EXISTS settlement_payments (
		chain_id           BIGINT        NOT NULL,
		payment_reference  TEXT          NOT NULL,
		gateway_address    TEXT          NOT NULL,
		payer_address      TEXT,
		total_amount       NUMERIC(78,0) NOT NULL CHECK (total_amount >= 0),
		status             TEXT          NOT NULL DEFAULT 'observed'
			CHECK (status IN ('observed', 'confirmed', 'finalized')),
		first_block_number BIGINT        NOT NULL,
		first_tx_hash      TEXT          NOT NULL,
		first_log_index    INTEGER       NOT NULL,
		last_block_number  BIGINT        NOT NULL,
		last_tx_hash       TEXT          NOT NULL,
		last_log_index     INTEGER       NOT NULL,
		created_at         TIMESTAMPTZ   NOT NULL,
		confirmed_at       TIMESTAMPTZ,
		finalized_at       TIMESTAMPTZ,
		PRIMARY KEY (chain_id, payment_reference)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_settlement_payments_sweep
		ON settlement_payments (chain_id, status, first_block_number)`,
	`CREATE TABLE IF NOT EXISTS settlement_cursors (
		chain_id               BIGINT      PRIMARY KEY,
		last_block_number      BIGINT      NOT NULL,
		last_transaction_index INTEGER     NOT NULL,
		last_log_index         INTEGER     NOT NULL,
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the settlement tables and indexes if they do not
// exist yet.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
