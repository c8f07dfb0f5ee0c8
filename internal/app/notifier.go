/**
 * @description
 * The AMQP-backed Hooks implementation. Lifecycle hooks become routed
 * messages on the settlement topic exchange; the fulfillment adapters and
 * the live status stream consume them out of process. Deliveries are
 * at-least-once; consumers dedupe on their side.
 *
 * Routing keys:
 *   settlement.payment.paid / .confirmed / .finalized
 *   settlement.order.fulfill   (one per finalized order)
 *   settlement.status.changed  (one per recipient)
 */
package app

import (
	"context"
	"fmt"

	"github.com/chainmart/settlement-service/internal/domain"
	"github.com/chainmart/settlement-service/pkg/rabbitmq"
)

// AMQPNotifier publishes hook events to a RabbitMQ topic exchange.
type AMQPNotifier struct {
	producer rabbitmq.Publisher
	exchange string
}

// NewAMQPNotifier creates a notifier publishing to the given exchange.
func NewAMQPNotifier(producer rabbitmq.Publisher, exchange string) *AMQPNotifier {
	return &AMQPNotifier{producer: producer, exchange: exchange}
}

func (n *AMQPNotifier) OnPaid(ctx context.Context, event domain.PaymentLifecycleEvent) error {
	return n.producer.Publish(ctx, n.exchange, "settlement.payment.paid", event)
}

func (n *AMQPNotifier) OnConfirmed(ctx context.Context, event domain.PaymentLifecycleEvent) error {
	return n.producer.Publish(ctx, n.exchange, "settlement.payment.confirmed", event)
}

// OnFinalized publishes the finalized event and one fulfillment trigger per
// matched order.
func (n *AMQPNotifier) OnFinalized(ctx context.Context, event domain.PaymentLifecycleEvent, orders []domain.OrderMatch) error {
	if err := n.producer.Publish(ctx, n.exchange, "settlement.payment.finalized", event); err != nil {
		return err
	}
	for _, order := range orders {
		trigger := domain.FulfillmentTrigger{
			OrderID:          order.OrderID,
			PaymentReference: event.PaymentReference,
			ChainID:          event.ChainID,
			At:               event.At,
		}
		if err := n.producer.Publish(ctx, n.exchange, "settlement.order.fulfill", trigger); err != nil {
			return fmt.Errorf("fulfillment trigger for order %s: %w", order.OrderID, err)
		}
	}
	return nil
}

func (n *AMQPNotifier) OnStatusChanged(ctx context.Context, event domain.StatusChangeEvent) error {
	return n.producer.Publish(ctx, n.exchange, "settlement.status.changed", event)
}
