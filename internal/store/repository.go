/**
 * @description
 * This file defines the data-access contracts of the settlement core. The
 * Repository interface covers the three tables the core owns (transfers,
 * payments, cursors); the OrderService interface is the boundary to the
 * collaborator that owns order rows. The core never writes those directly;
 * it only calls the idempotent mark operations, each of which reports
 * whether a state change actually occurred.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: Domain models.
 */
package store

import (
	"context"
	"time"

	"github.com/chainmart/settlement-service/internal/domain"
)

// Repository defines the persistence operations for the settlement-owned
// tables.
type Repository interface {
	// Cursor methods. GetCursor returns ErrCursorNotFound for a chain that
	// has never advanced; AdvanceCursor is a guarded upsert that never moves
	// the cursor backwards.
	GetCursor(ctx context.Context, chainID uint64) (domain.Cursor, error)
	AdvanceCursor(ctx context.Context, chainID uint64, cursor domain.Cursor) error

	// Transfer methods. UpsertTransfer absorbs duplicate deliveries of the
	// same (chainID, txHash, logIndex) log: later writes only fill
	// previously-null fields, except block number, gateway address and
	// payment reference (always refreshed) and observed time (keeps the
	// earliest value).
	UpsertTransfer(ctx context.Context, transfer *domain.Transfer) error

	// Payment methods. RefreshPaymentAggregate re-derives the aggregate row
	// for a reference from all its transfers and upserts it, preserving any
	// status/confirmedAt/finalizedAt already present.
	RefreshPaymentAggregate(ctx context.Context, chainID uint64, reference string) (*domain.Payment, error)
	GetPayment(ctx context.Context, chainID uint64, reference string) (*domain.Payment, error)

	// Confirmation sweeps. Both promote every eligible payment whose first
	// block is at or below maxFirstBlock and return the promoted rows.
	// PromoteConfirmed only touches observed payments; PromoteFinalized
	// touches observed and confirmed ones. Finalized is terminal and is
	// never selected by either.
	PromoteConfirmed(ctx context.Context, chainID uint64, maxFirstBlock uint64, at time.Time) ([]domain.Payment, error)
	PromoteFinalized(ctx context.Context, chainID uint64, maxFirstBlock uint64, at time.Time) ([]domain.Payment, error)
}

// OrderService is the contract exposed by the order collaborator. Every mark
// operation is idempotent and returns changed=true only for the first
// genuine transition; a reference with zero matching orders is a no-op, not
// an error.
type OrderService interface {
	LookupOrdersByPaymentReference(ctx context.Context, reference string) ([]domain.OrderMatch, error)
	MarkPaid(ctx context.Context, reference string, details domain.PaidDetails) (bool, error)
	MarkConfirmed(ctx context.Context, reference string, at time.Time) (bool, error)
	MarkFinalized(ctx context.Context, reference string, at time.Time) (bool, error)
}
