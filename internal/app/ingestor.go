/**
 * @description
 * The transfer ingestor: maps raw gateway event rows to typed transfers,
 * drops invalid ones, persists each transfer idempotently and re-aggregates
 * the payment for its reference, then advances the cursor once the whole
 * page has committed.
 *
 * @dependencies
 * - context, fmt, log/slog, math/big, strings, time: Standard Go libraries.
 * - internal/domain, internal/store: Models and persistence contracts.
 *
 * @notes
 * - Skipped rows (gateway not allow-listed, malformed payload, negative
 *   amount) still advance the in-page position; the cursor must move past
 *   them or the poller would refetch the same page forever.
 * - A database failure aborts the page before the cursor advances, so the
 *   next tick retries the same page. Transfers committed before the failure
 *   are safe: the upsert is idempotent.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/chainmart/settlement-service/internal/domain"
	"github.com/chainmart/settlement-service/internal/store"
)

// EventSource is the chain query collaborator consumed by the ingestor and
// the confirmation engine.
type EventSource interface {
	FetchSince(ctx context.Context, cursor domain.Cursor, pageSize int) ([]domain.TransferRow, error)
	HeadHeight(ctx context.Context) (uint64, error)
}

// Ingestor pulls pages of gateway events and folds them into transfers and
// aggregate payments.
type Ingestor struct {
	repo      store.Repository
	source    EventSource
	matcher   *OrderMatcher
	chainID   uint64
	pageSize  int
	allowlist map[string]struct{}
	logger    *slog.Logger
}

// NewIngestor creates an ingestor. gateways is the optional allow-list of
// gateway addresses; empty means accept all.
func NewIngestor(
	repo store.Repository,
	source EventSource,
	matcher *OrderMatcher,
	chainID uint64,
	pageSize int,
	gateways []string,
	logger *slog.Logger,
) *Ingestor {
	var allowlist map[string]struct{}
	if len(gateways) > 0 {
		allowlist = make(map[string]struct{}, len(gateways))
		for _, g := range gateways {
			g = strings.ToLower(strings.TrimSpace(g))
			if g != "" {
				allowlist[g] = struct{}{}
			}
		}
	}
	return &Ingestor{
		repo:      repo,
		source:    source,
		matcher:   matcher,
		chainID:   chainID,
		pageSize:  pageSize,
		allowlist: allowlist,
		logger:    logger,
	}
}

// IngestPage processes one page of events after the stored cursor and
// returns the number of transfers ingested. The cursor advances only after
// every row of the page has been handled.
func (i *Ingestor) IngestPage(ctx context.Context) (int, error) {
	cursor, err := i.repo.GetCursor(ctx, i.chainID)
	if err != nil && !errors.Is(err, store.ErrCursorNotFound) {
		return 0, fmt.Errorf("load cursor: %w", err)
	}

	rows, err := i.source.FetchSince(ctx, cursor, i.pageSize)
	if err != nil {
		return 0, fmt.Errorf("fetch gateway events: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	last := cursor
	ingested := 0
	for _, row := range rows {
		last = row.Position()

		if !i.gatewayAllowed(row.GatewayAddress) {
			continue
		}
		transfer, err := i.buildTransfer(row)
		if err != nil {
			// Malformed on-chain data is permanent; drop, never retry.
			i.logger.Warn("dropping malformed gateway event",
				"tx_hash", row.TxHash,
				"log_index", row.LogIndex,
				"block", row.BlockNumber,
				"err", err,
			)
			continue
		}

		if err := i.repo.UpsertTransfer(ctx, transfer); err != nil {
			return ingested, fmt.Errorf("persist transfer %s/%d: %w", transfer.TxHash, transfer.LogIndex, err)
		}
		payment, err := i.repo.RefreshPaymentAggregate(ctx, i.chainID, transfer.PaymentReference)
		if err != nil {
			return ingested, fmt.Errorf("aggregate payment %q: %w", transfer.PaymentReference, err)
		}
		ingested++

		if err := i.matcher.PaymentObserved(ctx, payment); err != nil {
			i.logger.Warn("order match on observe failed",
				"payment_reference", payment.PaymentReference, "err", err)
		}
	}

	if cursor.Before(last) {
		if err := i.repo.AdvanceCursor(ctx, i.chainID, last); err != nil {
			return ingested, fmt.Errorf("advance cursor: %w", err)
		}
	}
	return ingested, nil
}

func (i *Ingestor) gatewayAllowed(gateway string) bool {
	if i.allowlist == nil {
		return true
	}
	_, ok := i.allowlist[strings.ToLower(strings.TrimSpace(gateway))]
	return ok
}

func (i *Ingestor) buildTransfer(row domain.TransferRow) (*domain.Transfer, error) {
	reference, err := DecodePaymentReference(row.Payload)
	if err != nil {
		return nil, err
	}

	amount, err := parseAmount(row.Amount)
	if err != nil {
		return nil, err
	}

	if row.TxHash == "" {
		return nil, errors.New("missing tx hash")
	}

	transfer := &domain.Transfer{
		ChainID:          i.chainID,
		TxHash:           row.TxHash,
		LogIndex:         row.LogIndex,
		TransactionIndex: row.TransactionIndex,
		BlockNumber:      row.BlockNumber,
		PaymentReference: reference,
		GatewayAddress:   row.GatewayAddress,
		Amount:           amount,
		ObservedAt:       time.Now().UTC(),
	}
	if payer := strings.TrimSpace(row.PayerAddress); payer != "" {
		transfer.PayerAddress = &payer
	}
	return transfer, nil
}

func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("missing amount")
	}
	base := 10
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw = raw[2:]
		base = 16
	}
	amount, ok := new(big.Int).SetString(raw, base)
	if !ok {
		return nil, fmt.Errorf("unparsable amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", raw)
	}
	return amount, nil
}
