/**
 * @description
 * The order matcher: binds aggregate payments to pending orders by payment
 * reference on every lifecycle step. Each mark operation on the order
 * collaborator reports whether it actually changed state; only a genuine
 * first-time transition requests hook dispatch, which is what makes the
 * downstream side effects exactly-once.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chainmart/settlement-service/internal/domain"
	"github.com/chainmart/settlement-service/internal/store"
)

// OrderMatcher reconciles payments against orders sharing their reference.
type OrderMatcher struct {
	orders     store.OrderService
	dispatcher *HookDispatcher
	logger     *slog.Logger
}

// NewOrderMatcher creates an order matcher.
func NewOrderMatcher(orders store.OrderService, dispatcher *HookDispatcher, logger *slog.Logger) *OrderMatcher {
	return &OrderMatcher{orders: orders, dispatcher: dispatcher, logger: logger}
}

// PaymentObserved marks matching orders paid with the payment's first
// transfer as evidence. Duplicate observations report changed=false and
// dispatch nothing.
func (m *OrderMatcher) PaymentObserved(ctx context.Context, payment *domain.Payment) error {
	details := domain.PaidDetails{
		ChainID:        payment.ChainID,
		TxHash:         payment.FirstTxHash,
		LogIndex:       payment.FirstLogIndex,
		GatewayAddress: payment.GatewayAddress,
		Amount:         payment.TotalAmount,
		At:             payment.CreatedAt,
	}
	changed, err := m.orders.MarkPaid(ctx, payment.PaymentReference, details)
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	if !changed {
		return nil
	}
	orders, err := m.lookup(ctx, payment.PaymentReference)
	if err != nil {
		return err
	}
	m.dispatcher.DispatchPaid(payment, orders)
	return nil
}

// PaymentConfirmed marks matching orders confirmed, keyed by the payment's
// confirmation time.
func (m *OrderMatcher) PaymentConfirmed(ctx context.Context, payment *domain.Payment) error {
	if payment.ConfirmedAt == nil {
		return fmt.Errorf("payment %q confirmed without timestamp", payment.PaymentReference)
	}
	changed, err := m.orders.MarkConfirmed(ctx, payment.PaymentReference, *payment.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("mark confirmed: %w", err)
	}
	if !changed {
		return nil
	}
	orders, err := m.lookup(ctx, payment.PaymentReference)
	if err != nil {
		return err
	}
	m.dispatcher.DispatchConfirmed(payment, orders)
	return nil
}

// PaymentFinalized marks matching orders finalized, keyed by the payment's
// finalization time.
func (m *OrderMatcher) PaymentFinalized(ctx context.Context, payment *domain.Payment) error {
	if payment.FinalizedAt == nil {
		return fmt.Errorf("payment %q finalized without timestamp", payment.PaymentReference)
	}
	changed, err := m.orders.MarkFinalized(ctx, payment.PaymentReference, *payment.FinalizedAt)
	if err != nil {
		return fmt.Errorf("mark finalized: %w", err)
	}
	if !changed {
		return nil
	}
	orders, err := m.lookup(ctx, payment.PaymentReference)
	if err != nil {
		return err
	}
	m.dispatcher.DispatchFinalized(payment, orders)
	return nil
}

// lookup resolves the orders bound to a reference. Payments may arrive
// before any order exists, or carry out-of-band references; zero matches is
// expected and logged at debug only.
func (m *OrderMatcher) lookup(ctx context.Context, reference string) ([]domain.OrderMatch, error) {
	orders, err := m.orders.LookupOrdersByPaymentReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("lookup orders: %w", err)
	}
	if len(orders) == 0 {
		m.logger.Debug("no orders for payment reference", "payment_reference", reference)
	}
	return orders, nil
}
