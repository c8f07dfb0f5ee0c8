/**
 * @description
 * The lifecycle hook dispatcher: fans out order-transition side effects
 * (fulfillment trigger, live status-change stream) without blocking or
 * failing the ingestion/confirmation loop. Every dispatch runs as a
 * detached goroutine with a recover boundary; a hook panic or error is
 * logged and swallowed, never propagated.
 *
 * @notes
 * - Dispatch carries no dedupe token: if the dispatcher is retried, a hook
 *   may fire more than once for the same transition. Consumers must be
 *   idempotent.
 * - Shutdown stops scheduling new ticks and drains in-flight dispatches
 *   best-effort via Drain.
 */
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainmart/settlement-service/internal/domain"
)

// hookTimeout bounds a single hook invocation.
const hookTimeout = 15 * time.Second

// Hooks is the interface this core exposes to its downstream collaborators.
// Implementations must be safe for concurrent use and must not panic; the
// dispatcher recovers anyway.
type Hooks interface {
	OnPaid(ctx context.Context, event domain.PaymentLifecycleEvent) error
	OnConfirmed(ctx context.Context, event domain.PaymentLifecycleEvent) error
	OnFinalized(ctx context.Context, event domain.PaymentLifecycleEvent, orders []domain.OrderMatch) error
	OnStatusChanged(ctx context.Context, event domain.StatusChangeEvent) error
}

// HookDispatcher schedules hook invocations as fire-and-forget tasks.
type HookDispatcher struct {
	hooks  Hooks
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewHookDispatcher creates a dispatcher around one Hooks implementation.
func NewHookDispatcher(hooks Hooks, logger *slog.Logger) *HookDispatcher {
	return &HookDispatcher{hooks: hooks, logger: logger}
}

// DispatchPaid fires the generic paid hook for a first-time order payment.
func (d *HookDispatcher) DispatchPaid(payment *domain.Payment, orders []domain.OrderMatch) {
	event := lifecycleEvent(payment, orders, payment.CreatedAt)
	d.spawn("paid", func(ctx context.Context) error {
		return d.hooks.OnPaid(ctx, event)
	})
}

// DispatchConfirmed fires the confirmed hook and broadcasts the
// paid -> PaymentProcessing status change to the buyer and every distinct
// seller of each matched order.
func (d *HookDispatcher) DispatchConfirmed(payment *domain.Payment, orders []domain.OrderMatch) {
	at := payment.CreatedAt
	if payment.ConfirmedAt != nil {
		at = *payment.ConfirmedAt
	}
	event := lifecycleEvent(payment, orders, at)
	d.spawn("confirmed", func(ctx context.Context) error {
		return d.hooks.OnConfirmed(ctx, event)
	})
	d.broadcastStatusChange(payment, orders, nil, domain.OrderStatusPaymentProcessing, at)
}

// DispatchFinalized fires the finalized hook (which carries the matched
// orders so fulfillment can be triggered) and broadcasts the
// PaymentProcessing -> PaymentComplete status change.
func (d *HookDispatcher) DispatchFinalized(payment *domain.Payment, orders []domain.OrderMatch) {
	at := payment.CreatedAt
	if payment.FinalizedAt != nil {
		at = *payment.FinalizedAt
	}
	event := lifecycleEvent(payment, orders, at)
	d.spawn("finalized", func(ctx context.Context) error {
		return d.hooks.OnFinalized(ctx, event, orders)
	})
	old := domain.OrderStatusPaymentProcessing
	d.broadcastStatusChange(payment, orders, &old, domain.OrderStatusPaymentComplete, at)
}

// Drain waits up to timeout for in-flight hook tasks to finish. Used on
// graceful shutdown and by tests; there is no cancellation of tasks that
// outlive the timeout.
func (d *HookDispatcher) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (d *HookDispatcher) broadcastStatusChange(
	payment *domain.Payment,
	orders []domain.OrderMatch,
	oldStatus *string,
	newStatus string,
	at time.Time,
) {
	for _, order := range orders {
		recipients := append([]string{order.Buyer}, order.DistinctSellers()...)
		for _, recipient := range recipients {
			if recipient == "" {
				continue
			}
			event := domain.StatusChangeEvent{
				ID:               uuid.New(),
				OrderID:          order.OrderID,
				PaymentReference: payment.PaymentReference,
				Recipient:        recipient,
				OldStatus:        oldStatus,
				NewStatus:        newStatus,
				At:               at,
			}
			d.spawn("status_changed", func(ctx context.Context) error {
				return d.hooks.OnStatusChanged(ctx, event)
			})
		}
	}
}

// spawn runs one hook invocation detached from the caller. The recover and
// error handling here are the isolation boundary: nothing a hook does can
// reach Payment/Order state or the main loop.
func (d *HookDispatcher) spawn(name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("hook panicked", "hook", name, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Error("hook failed", "hook", name, "err", err)
		}
	}()
}

func lifecycleEvent(payment *domain.Payment, orders []domain.OrderMatch, at time.Time) domain.PaymentLifecycleEvent {
	orderIDs := make([]uuid.UUID, 0, len(orders))
	for _, order := range orders {
		orderIDs = append(orderIDs, order.OrderID)
	}
	amount := "0"
	if payment.TotalAmount != nil {
		amount = payment.TotalAmount.String()
	}
	return domain.PaymentLifecycleEvent{
		ChainID:          payment.ChainID,
		PaymentReference: payment.PaymentReference,
		Status:           string(payment.Status),
		TxHash:           payment.FirstTxHash,
		LogIndex:         payment.FirstLogIndex,
		GatewayAddress:   payment.GatewayAddress,
		Amount:           amount,
		OrderIDs:         orderIDs,
		At:               at,
	}
}
