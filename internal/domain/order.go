/**
 * @description
 * This file defines the read-side view of Orders as exposed by the order
 * collaborator. The settlement core never writes order rows directly; it
 * only calls the collaborator's idempotent mark operations and uses this
 * view to address lifecycle notifications.
 */
package domain

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Order lifecycle status identifiers carried on status-change notifications.
const (
	OrderStatusPaymentProcessing = "PaymentProcessing"
	OrderStatusPaymentComplete   = "PaymentComplete"
)

// OrderMatch is one order sharing a payment reference, with the parties that
// must receive status-change notifications.
type OrderMatch struct {
	OrderID     uuid.UUID
	Buyer       string
	SellerLines []SellerLine
}

// SellerLine is one line item of an order, carrying the seller it belongs to.
type SellerLine struct {
	Seller    string
	ListingID string
	Quantity  uint32
}

// DistinctSellers returns the de-duplicated seller addresses across the
// order's line items, in first-seen order.
func (o OrderMatch) DistinctSellers() []string {
	seen := make(map[string]struct{}, len(o.SellerLines))
	sellers := make([]string, 0, len(o.SellerLines))
	for _, line := range o.SellerLines {
		if line.Seller == "" {
			continue
		}
		if _, ok := seen[line.Seller]; ok {
			continue
		}
		seen[line.Seller] = struct{}{}
		sellers = append(sellers, line.Seller)
	}
	return sellers
}

// PaidDetails is the payment evidence recorded on an order when it is first
// marked paid.
type PaidDetails struct {
	ChainID        uint64
	TxHash         string
	LogIndex       uint32
	GatewayAddress string
	Amount         *big.Int
	At             time.Time
}
