/**
 * @description
 * The confirmation engine: two independent sweeps per tick, both driven by
 * a head height fetched once for the tick. The confirm sweep promotes
 * observed payments once chain depth clears the confirmation threshold; the
 * finalize sweep promotes observed or confirmed payments once depth clears
 * the finalization threshold. Finalized is terminal.
 *
 * @notes
 * - confirmDepth > finalizeDepth is a tolerated configuration inversion: a
 *   payment may then skip confirmed entirely (observed -> finalized). The
 *   config loader logs the warning; the sweeps just execute.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainmart/settlement-service/internal/store"
)

// ConfirmationEngine advances aggregate payments through the confirmation
// lifecycle as block depth increases.
type ConfirmationEngine struct {
	repo          store.Repository
	matcher       *OrderMatcher
	chainID       uint64
	confirmDepth  uint64
	finalizeDepth uint64
	logger        *slog.Logger
}

// NewConfirmationEngine creates a confirmation engine. A depth of zero
// disables the corresponding sweep.
func NewConfirmationEngine(
	repo store.Repository,
	matcher *OrderMatcher,
	chainID uint64,
	confirmDepth uint64,
	finalizeDepth uint64,
	logger *slog.Logger,
) *ConfirmationEngine {
	return &ConfirmationEngine{
		repo:          repo,
		matcher:       matcher,
		chainID:       chainID,
		confirmDepth:  confirmDepth,
		finalizeDepth: finalizeDepth,
		logger:        logger,
	}
}

// SweepConfirm promotes observed payments whose first block has at least
// confirmDepth blocks on top of it.
func (e *ConfirmationEngine) SweepConfirm(ctx context.Context, head uint64) error {
	if e.confirmDepth == 0 || head < e.confirmDepth {
		return nil
	}
	now := time.Now().UTC()
	promoted, err := e.repo.PromoteConfirmed(ctx, e.chainID, head-e.confirmDepth, now)
	if err != nil {
		return fmt.Errorf("confirm sweep: %w", err)
	}
	for idx := range promoted {
		payment := &promoted[idx]
		e.logger.Info("payment confirmed",
			"payment_reference", payment.PaymentReference,
			"first_block", payment.FirstBlockNumber,
			"head", head,
		)
		if err := e.matcher.PaymentConfirmed(ctx, payment); err != nil {
			e.logger.Warn("order match on confirm failed",
				"payment_reference", payment.PaymentReference, "err", err)
		}
	}
	return nil
}

// SweepFinalize promotes observed or confirmed payments whose first block
// has at least finalizeDepth blocks on top of it.
func (e *ConfirmationEngine) SweepFinalize(ctx context.Context, head uint64) error {
	if e.finalizeDepth == 0 || head < e.finalizeDepth {
		return nil
	}
	now := time.Now().UTC()
	promoted, err := e.repo.PromoteFinalized(ctx, e.chainID, head-e.finalizeDepth, now)
	if err != nil {
		return fmt.Errorf("finalize sweep: %w", err)
	}
	for idx := range promoted {
		payment := &promoted[idx]
		e.logger.Info("payment finalized",
			"payment_reference", payment.PaymentReference,
			"first_block", payment.FirstBlockNumber,
			"head", head,
		)
		if err := e.matcher.PaymentFinalized(ctx, payment); err != nil {
			e.logger.Warn("order match on finalize failed",
				"payment_reference", payment.PaymentReference, "err", err)
		}
	}
	return nil
}
