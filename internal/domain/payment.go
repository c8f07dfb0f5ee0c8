/**
 * @description
 * This file defines the core domain models for on-chain payment settlement:
 * the per-log Transfer record, the per-reference aggregate Payment, and the
 * ingestion Cursor that marks the last processed position on a chain.
 *
 * @notes
 * - Monetary amounts are wei-scale unsigned big integers (*big.Int), never
 *   floating point. The store layer maps them to NUMERIC(78,0).
 * - Payment status is monotonic: observed -> confirmed -> finalized, with a
 *   direct observed -> finalized edge when confirmation is disabled or the
 *   configured depths are inverted. Finalized is terminal.
 */
package domain

import (
	"math/big"
	"time"
)

// PaymentStatus is the confirmation lifecycle state of an aggregate Payment.
type PaymentStatus string

const (
	PaymentObserved  PaymentStatus = "observed"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFinalized PaymentStatus = "finalized"
)

// Transfer is one on-chain gateway log, uniquely keyed by
// (ChainID, TxHash, LogIndex). It is written once per log and never deleted;
// duplicate deliveries are absorbed by an upsert that only fills
// previously-null fields.
type Transfer struct {
	ChainID          uint64
	TxHash           string
	LogIndex         uint32
	TransactionIndex uint32
	BlockNumber      uint64
	PaymentReference string
	GatewayAddress   string
	PayerAddress     *string
	Amount           *big.Int
	ObservedAt       time.Time
}

// Position returns the lexicographic ordering tuple of the transfer.
func (t *Transfer) Position() Cursor {
	return Cursor{
		BlockNumber:      t.BlockNumber,
		TransactionIndex: t.TransactionIndex,
		LogIndex:         t.LogIndex,
	}
}

// Payment is the per-reference rollup of every Transfer sharing a payment
// reference on one chain. The aggregate fields (TotalAmount, first/last
// pointers, CreatedAt) are re-derived from the transfers table on every
// ingestion, while Status/ConfirmedAt/FinalizedAt are owned by the
// confirmation sweeps.
type Payment struct {
	ChainID          uint64
	PaymentReference string
	GatewayAddress   string
	PayerAddress     *string
	TotalAmount      *big.Int
	Status           PaymentStatus
	FirstBlockNumber uint64
	FirstTxHash      string
	FirstLogIndex    uint32
	LastBlockNumber  uint64
	LastTxHash       string
	LastLogIndex     uint32
	CreatedAt        time.Time
	ConfirmedAt      *time.Time
	FinalizedAt      *time.Time
}

// Cursor marks the exact (block, txIndex, logIndex) position of the last
// transfer successfully processed on a chain. It is strictly monotonically
// non-decreasing under lexicographic tuple order.
type Cursor struct {
	BlockNumber      uint64
	TransactionIndex uint32
	LogIndex         uint32
}

// Compare returns -1, 0 or 1 ordering c against other lexicographically by
// (BlockNumber, TransactionIndex, LogIndex).
func (c Cursor) Compare(other Cursor) int {
	switch {
	case c.BlockNumber < other.BlockNumber:
		return -1
	case c.BlockNumber > other.BlockNumber:
		return 1
	case c.TransactionIndex < other.TransactionIndex:
		return -1
	case c.TransactionIndex > other.TransactionIndex:
		return 1
	case c.LogIndex < other.LogIndex:
		return -1
	case c.LogIndex > other.LogIndex:
		return 1
	default:
		return 0
	}
}

// Before reports whether c is strictly less than other.
func (c Cursor) Before(other Cursor) bool {
	return c.Compare(other) < 0
}

// TransferRow is one loosely-typed row returned by the chain query
// collaborator, before reference decoding and sanity checks. Amount is the
// raw string value (decimal or 0x-prefixed hex) and Payload carries the
// encoded payment reference bytes.
type TransferRow struct {
	BlockNumber      uint64
	TransactionIndex uint32
	LogIndex         uint32
	TxHash           string
	GatewayAddress   string
	PayerAddress     string
	Amount           string
	Payload          string
}

// Position returns the ordering tuple of the raw row.
func (r TransferRow) Position() Cursor {
	return Cursor{
		BlockNumber:      r.BlockNumber,
		TransactionIndex: r.TransactionIndex,
		LogIndex:         r.LogIndex,
	}
}
