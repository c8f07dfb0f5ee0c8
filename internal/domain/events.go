/**
 * @description
 * This file defines the event payloads handed to lifecycle hooks and
 * published to downstream consumers (fulfillment trigger, live status
 * stream). Hook consumers must treat these as at-least-once deliveries:
 * no dedupe token is carried, so consumers are expected to be idempotent.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentLifecycleEvent is the payload of the generic paid/confirmed/
// finalized hooks. Amount is the decimal string form of the aggregate
// payment amount.
type PaymentLifecycleEvent struct {
	ChainID          uint64      `json:"chain_id"`
	PaymentReference string      `json:"payment_reference"`
	Status           string      `json:"status"`
	TxHash           string      `json:"tx_hash"`
	LogIndex         uint32      `json:"log_index"`
	GatewayAddress   string      `json:"gateway_address"`
	Amount           string      `json:"amount"`
	OrderIDs         []uuid.UUID `json:"order_ids,omitempty"`
	At               time.Time   `json:"at"`
}

// StatusChangeEvent is one status-change notification addressed to a single
// party (the buyer or one seller of an order). OldStatus is nil on the first
// transition an order goes through.
type StatusChangeEvent struct {
	ID               uuid.UUID `json:"id"`
	OrderID          uuid.UUID `json:"order_id"`
	PaymentReference string    `json:"payment_reference"`
	Recipient        string    `json:"recipient"`
	OldStatus        *string   `json:"old_status"`
	NewStatus        string    `json:"new_status"`
	At               time.Time `json:"at"`
}

// FulfillmentTrigger asks the fulfillment adapters to start delivering one
// finalized order.
type FulfillmentTrigger struct {
	OrderID          uuid.UUID `json:"order_id"`
	PaymentReference string    `json:"payment_reference"`
	ChainID          uint64    `json:"chain_id"`
	At               time.Time `json:"at"`
}
