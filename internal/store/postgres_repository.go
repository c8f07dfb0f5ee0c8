/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface: the transfers, payments and cursors tables owned by the
 * settlement core. Every write is a single serializable statement (or one
 * short transaction for the aggregate refresh), so a crash between steps is
 * safe to resume from: the next tick re-derives payment aggregates from
 * transfers, and the cursor only advances after a page is fully committed.
 *
 * @dependencies
 * - context, errors, fmt, math/big, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Domain models.
 *
 * @notes
 * - Amounts travel as decimal strings and live in NUMERIC(78,0) columns; no
 *   floating point anywhere on the path.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainmart/settlement-service/internal/domain"
)

var (
	ErrCursorNotFound  = errors.New("cursor not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrNoTransfers     = errors.New("no transfers for reference")
)

// PostgresRepository is a concrete implementation of the Repository
// interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetCursor returns the last processed position for a chain.
func (r *PostgresRepository) GetCursor(ctx context.Context, chainID uint64) (domain.Cursor, error) {
	var cursor domain.Cursor
	query := `
		SELECT last_block_number, last_transaction_index, last_log_index
		FROM settlement_cursors
		WHERE chain_id = $1
	`
	err := r.db.QueryRow(ctx, query, chainID).Scan(
		&cursor.BlockNumber,
		&cursor.TransactionIndex,
		&cursor.LogIndex,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Cursor{}, ErrCursorNotFound
		}
		return domain.Cursor{}, err
	}
	return cursor, nil
}

// AdvanceCursor upserts the cursor row for a chain. The WHERE guard keeps
// the stored tuple monotonically non-decreasing even if two pollers race.
func (r *PostgresRepository) AdvanceCursor(ctx context.Context, chainID uint64, cursor domain.Cursor) error {
	query := `
		INSERT INTO settlement_cursors (chain_id, last_block_number, last_transaction_index, last_log_index, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (chain_id) DO UPDATE SET
			last_block_number      = EXCLUDED.last_block_number,
			last_transaction_index = EXCLUDED.last_transaction_index,
			last_log_index         = EXCLUDED.last_log_index,
			updated_at             = now()
		WHERE (settlement_cursors.last_block_number, settlement_cursors.last_transaction_index, settlement_cursors.last_log_index)
			<= (EXCLUDED.last_block_number, EXCLUDED.last_transaction_index, EXCLUDED.last_log_index)
	`
	_, err := r.db.Exec(ctx, query, chainID, cursor.BlockNumber, cursor.TransactionIndex, cursor.LogIndex)
	return err
}

// UpsertTransfer writes one gateway log row, keyed by
// (chain_id, tx_hash, log_index). Re-ingestion of the same key only fills
// previously-null fields; block number, gateway address and payment
// reference always take the latest write, observed_at keeps the earliest.
func (r *PostgresRepository) UpsertTransfer(ctx context.Context, transfer *domain.Transfer) error {
	var amount *string
	if transfer.Amount != nil {
		s := transfer.Amount.String()
		amount = &s
	}
	query := `
		INSERT INTO settlement_transfers (
			chain_id, tx_hash, log_index, transaction_index, block_number,
			payment_reference, gateway_address, payer_address, amount, observed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10)
		ON CONFLICT (chain_id, tx_hash, log_index) DO UPDATE SET
			transaction_index = COALESCE(settlement_transfers.transaction_index, EXCLUDED.transaction_index),
			block_number      = EXCLUDED.block_number,
			payment_reference = EXCLUDED.payment_reference,
			gateway_address   = EXCLUDED.gateway_address,
			payer_address     = COALESCE(settlement_transfers.payer_address, EXCLUDED.payer_address),
			amount            = COALESCE(settlement_transfers.amount, EXCLUDED.amount),
			observed_at       = LEAST(settlement_transfers.observed_at, EXCLUDED.observed_at)
	`
	_, err := r.db.Exec(ctx, query,
		transfer.ChainID,
		transfer.TxHash,
		transfer.LogIndex,
		transfer.TransactionIndex,
		transfer.BlockNumber,
		transfer.PaymentReference,
		transfer.GatewayAddress,
		transfer.PayerAddress,
		amount,
		transfer.ObservedAt,
	)
	return err
}

// RefreshPaymentAggregate re-derives the aggregate payment row for a
// reference from all of its transfers and upserts it. The upsert never
// touches status, confirmed_at or finalized_at; those belong to the
// confirmation sweeps.
func (r *PostgresRepository) RefreshPaymentAggregate(ctx context.Context, chainID uint64, reference string) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT block_number, transaction_index, log_index, tx_hash,
			gateway_address, payer_address, amount::text, observed_at
		FROM settlement_transfers
		WHERE chain_id = $1 AND payment_reference = $2
		ORDER BY block_number, transaction_index, log_index
	`
	rows, err := tx.Query(ctx, query, chainID, reference)
	if err != nil {
		return nil, err
	}

	type transferRow struct {
		block      uint64
		txIndex    uint32
		logIndex   uint32
		txHash     string
		gateway    string
		payer      *string
		amount     *string
		observedAt time.Time
	}
	var transfers []transferRow
	for rows.Next() {
		var row transferRow
		if err := rows.Scan(
			&row.block, &row.txIndex, &row.logIndex, &row.txHash,
			&row.gateway, &row.payer, &row.amount, &row.observedAt,
		); err != nil {
			rows.Close()
			return nil, err
		}
		transfers = append(transfers, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(transfers) == 0 {
		return nil, ErrNoTransfers
	}

	total := new(big.Int)
	createdAt := transfers[0].observedAt
	var payer *string
	for _, row := range transfers {
		if row.amount != nil {
			v, ok := new(big.Int).SetString(*row.amount, 10)
			if !ok {
				return nil, fmt.Errorf("unparsable stored amount %q", *row.amount)
			}
			total.Add(total, v)
		}
		if row.observedAt.Before(createdAt) {
			createdAt = row.observedAt
		}
		if payer == nil && row.payer != nil {
			payer = row.payer
		}
	}
	first, last := transfers[0], transfers[len(transfers)-1]

	upsert := `
		INSERT INTO settlement_payments (
			chain_id, payment_reference, gateway_address, payer_address, total_amount, status,
			first_block_number, first_tx_hash, first_log_index,
			last_block_number, last_tx_hash, last_log_index, created_at
		)
		VALUES ($1, $2, $3, $4, $5::numeric, 'observed', $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (chain_id, payment_reference) DO UPDATE SET
			gateway_address    = EXCLUDED.gateway_address,
			payer_address      = COALESCE(settlement_payments.payer_address, EXCLUDED.payer_address),
			total_amount       = EXCLUDED.total_amount,
			first_block_number = EXCLUDED.first_block_number,
			first_tx_hash      = EXCLUDED.first_tx_hash,
			first_log_index    = EXCLUDED.first_log_index,
			last_block_number  = EXCLUDED.last_block_number,
			last_tx_hash       = EXCLUDED.last_tx_hash,
			last_log_index     = EXCLUDED.last_log_index,
			created_at         = LEAST(settlement_payments.created_at, EXCLUDED.created_at)
		RETURNING chain_id, payment_reference, gateway_address, payer_address, total_amount::text,
			status, first_block_number, first_tx_hash, first_log_index,
			last_block_number, last_tx_hash, last_log_index, created_at, confirmed_at, finalized_at
	`
	payment, err := scanPayment(tx.QueryRow(ctx, upsert,
		chainID, reference, last.gateway, payer, total.String(),
		first.block, first.txHash, first.logIndex,
		last.block, last.txHash, last.logIndex, createdAt,
	))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return payment, nil
}

// GetPayment returns the aggregate payment row for one reference.
func (r *PostgresRepository) GetPayment(ctx context.Context, chainID uint64, reference string) (*domain.Payment, error) {
	query := `
		SELECT chain_id, payment_reference, gateway_address, payer_address, total_amount::text,
			status, first_block_number, first_tx_hash, first_log_index,
			last_block_number, last_tx_hash, last_log_index, created_at, confirmed_at, finalized_at
		FROM settlement_payments
		WHERE chain_id = $1 AND payment_reference = $2
	`
	payment, err := scanPayment(r.db.QueryRow(ctx, query, chainID, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// PromoteConfirmed moves every observed payment whose first block has
// cleared the confirmation depth to confirmed, returning the promoted rows.
func (r *PostgresRepository) PromoteConfirmed(ctx context.Context, chainID uint64, maxFirstBlock uint64, at time.Time) ([]domain.Payment, error) {
	query := `
		UPDATE settlement_payments
		SET status = 'confirmed', confirmed_at = $3
		WHERE chain_id = $1 AND status = 'observed' AND first_block_number <= $2
		RETURNING chain_id, payment_reference, gateway_address, payer_address, total_amount::text,
			status, first_block_number, first_tx_hash, first_log_index,
			last_block_number, last_tx_hash, last_log_index, created_at, confirmed_at, finalized_at
	`
	return r.promote(ctx, query, chainID, maxFirstBlock, at)
}

// PromoteFinalized moves every observed or confirmed payment whose first
// block has cleared the finalization depth to finalized. Finalized rows are
// never selected, which keeps the state terminal.
func (r *PostgresRepository) PromoteFinalized(ctx context.Context, chainID uint64, maxFirstBlock uint64, at time.Time) ([]domain.Payment, error) {
	query := `
		UPDATE settlement_payments
		SET status = 'finalized', finalized_at = $3
		WHERE chain_id = $1 AND status IN ('observed', 'confirmed') AND first_block_number <= $2
		RETURNING chain_id, payment_reference, gateway_address, payer_address, total_amount::text,
			status, first_block_number, first_tx_hash, first_log_index,
			last_block_number, last_tx_hash, last_log_index, created_at, confirmed_at, finalized_at
	`
	return r.promote(ctx, query, chainID, maxFirstBlock, at)
}

func (r *PostgresRepository) promote(ctx context.Context, query string, chainID, maxFirstBlock uint64, at time.Time) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, query, chainID, maxFirstBlock, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var promoted []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		promoted = append(promoted, *payment)
	}
	return promoted, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var payment domain.Payment
	var total string
	err := row.Scan(
		&payment.ChainID,
		&payment.PaymentReference,
		&payment.GatewayAddress,
		&payment.PayerAddress,
		&total,
		&payment.Status,
		&payment.FirstBlockNumber,
		&payment.FirstTxHash,
		&payment.FirstLogIndex,
		&payment.LastBlockNumber,
		&payment.LastTxHash,
		&payment.LastLogIndex,
		&payment.CreatedAt,
		&payment.ConfirmedAt,
		&payment.FinalizedAt,
	)
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(total, 10)
	if !ok {
		return nil, fmt.Errorf("unparsable stored total %q", total)
	}
	payment.TotalAmount = amount
	return &payment, nil
}
