/**
 * @description
 * This file provides the PostgreSQL-backed implementation of the
 * OrderService boundary. The orders and order_items tables are owned by the
 * order collaborator; this repository only exposes its contract, the three
 * idempotent mark operations plus the reference lookup, and never writes
 * order rows through any other path.
 *
 * The exactly-once signal comes straight from SQL: each mark statement
 * carries an IS NULL guard on its timestamp column, so the first call
 * reports rows affected > 0 and every replay reports zero.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - github.com/google/uuid: Order identifiers.
 * - internal/domain: Order view models.
 */
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainmart/settlement-service/internal/domain"
)

// PostgresOrderService implements OrderService on the collaborator's orders
// schema.
type PostgresOrderService struct {
	db *pgxpool.Pool
}

// NewPostgresOrderService creates a new PostgresOrderService.
func NewPostgresOrderService(db *pgxpool.Pool) *PostgresOrderService {
	return &PostgresOrderService{db: db}
}

// LookupOrdersByPaymentReference returns every order bound to a payment
// reference, with the buyer and seller line items needed for notification
// fan-out. Zero matches is an empty slice, not an error.
func (s *PostgresOrderService) LookupOrdersByPaymentReference(ctx context.Context, reference string) ([]domain.OrderMatch, error) {
	query := `
		SELECT o.id, o.buyer_address, i.seller_address, i.listing_id, i.quantity
		FROM orders o
		LEFT JOIN order_items i ON i.order_id = o.id
		WHERE o.payment_reference = $1
		ORDER BY o.id, i.position
	`
	rows, err := s.db.Query(ctx, query, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []domain.OrderMatch
	byID := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			orderID  uuid.UUID
			buyer    string
			seller   *string
			listing  *string
			quantity *uint32
		)
		if err := rows.Scan(&orderID, &buyer, &seller, &listing, &quantity); err != nil {
			return nil, err
		}
		idx, ok := byID[orderID]
		if !ok {
			matches = append(matches, domain.OrderMatch{OrderID: orderID, Buyer: buyer})
			idx = len(matches) - 1
			byID[orderID] = idx
		}
		if seller != nil {
			line := domain.SellerLine{Seller: *seller}
			if listing != nil {
				line.ListingID = *listing
			}
			if quantity != nil {
				line.Quantity = *quantity
			}
			matches[idx].SellerLines = append(matches[idx].SellerLines, line)
		}
	}
	return matches, rows.Err()
}

// MarkPaid records payment evidence on every pending order bound to the
// reference. Returns true only when at least one order actually changed
// state; replays hit the paid_at IS NULL guard and report false.
func (s *PostgresOrderService) MarkPaid(ctx context.Context, reference string, details domain.PaidDetails) (bool, error) {
	var amount *string
	if details.Amount != nil {
		v := details.Amount.String()
		amount = &v
	}
	query := `
		UPDATE orders
		SET payment_chain_id = $2,
			payment_tx_hash = $3,
			payment_log_index = $4,
			payment_gateway = $5,
			payment_amount = $6::numeric,
			paid_at = $7
		WHERE payment_reference = $1 AND paid_at IS NULL
	`
	tag, err := s.db.Exec(ctx, query,
		reference,
		details.ChainID,
		details.TxHash,
		details.LogIndex,
		details.GatewayAddress,
		amount,
		details.At,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkConfirmed stamps the confirmation time on paid orders, once.
func (s *PostgresOrderService) MarkConfirmed(ctx context.Context, reference string, at time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET confirmed_at = $2
		WHERE payment_reference = $1 AND confirmed_at IS NULL
	`
	tag, err := s.db.Exec(ctx, query, reference, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFinalized stamps the finalization time on orders, once.
func (s *PostgresOrderService) MarkFinalized(ctx context.Context, reference string, at time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET finalized_at = $2
		WHERE payment_reference = $1 AND finalized_at IS NULL
	`
	tag, err := s.db.Exec(ctx, query, reference, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
