/**
 * @description
 * This file defines the HTTP handlers of the settlement-service's read-only
 * surface: a payment lookup by reference and a status endpoint reporting the
 * cursor position and head lag. The admin CRUD surface of the wider system
 * lives in other services; nothing here mutates settlement state.
 *
 * @dependencies
 * - encoding/json, errors, net/http, time: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Core contracts.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chainmart/settlement-service/internal/app"
	"github.com/chainmart/settlement-service/internal/domain"
	"github.com/chainmart/settlement-service/internal/store"
)

// SettlementHandlers bundles the dependencies of the read-only endpoints.
type SettlementHandlers struct {
	repo    store.Repository
	source  app.EventSource
	chainID uint64
	logger  *slog.Logger
}

// NewSettlementHandlers creates a new instance of SettlementHandlers.
func NewSettlementHandlers(repo store.Repository, source app.EventSource, chainID uint64, logger *slog.Logger) *SettlementHandlers {
	return &SettlementHandlers{repo: repo, source: source, chainID: chainID, logger: logger}
}

// paymentResponse is the wire form of an aggregate payment.
type paymentResponse struct {
	ChainID          uint64     `json:"chain_id"`
	PaymentReference string     `json:"payment_reference"`
	GatewayAddress   string     `json:"gateway_address"`
	PayerAddress     *string    `json:"payer_address,omitempty"`
	TotalAmount      string     `json:"total_amount"`
	Status           string     `json:"status"`
	FirstBlockNumber uint64     `json:"first_block_number"`
	FirstTxHash      string     `json:"first_tx_hash"`
	FirstLogIndex    uint32     `json:"first_log_index"`
	LastBlockNumber  uint64     `json:"last_block_number"`
	LastTxHash       string     `json:"last_tx_hash"`
	LastLogIndex     uint32     `json:"last_log_index"`
	CreatedAt        time.Time  `json:"created_at"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	FinalizedAt      *time.Time `json:"finalized_at,omitempty"`
}

// statusResponse reports the poller's position relative to the chain head.
type statusResponse struct {
	ChainID               uint64 `json:"chain_id"`
	CursorBlockNumber     uint64 `json:"cursor_block_number"`
	CursorTransactionIdx  uint32 `json:"cursor_transaction_index"`
	CursorLogIndex        uint32 `json:"cursor_log_index"`
	HeadHeight            uint64 `json:"head_height,omitempty"`
	BlocksBehind          uint64 `json:"blocks_behind,omitempty"`
	HeadHeightUnavailable bool   `json:"head_height_unavailable,omitempty"`
}

// GetPaymentHandler returns the aggregate payment for a reference.
func (h *SettlementHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	normalized, err := app.NormalizeReference(reference)
	if err != nil {
		http.Error(w, "invalid payment reference", http.StatusBadRequest)
		return
	}

	payment, err := h.repo.GetPayment(r.Context(), h.chainID, normalized)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			http.Error(w, "payment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("payment lookup failed", "payment_reference", normalized, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, toPaymentResponse(payment))
}

// GetStatusHandler reports the cursor and, when the chain source is
// reachable, the current head lag.
func (h *SettlementHandlers) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	cursor, err := h.repo.GetCursor(r.Context(), h.chainID)
	if err != nil && !errors.Is(err, store.ErrCursorNotFound) {
		h.logger.Error("cursor lookup failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := statusResponse{
		ChainID:              h.chainID,
		CursorBlockNumber:    cursor.BlockNumber,
		CursorTransactionIdx: cursor.TransactionIndex,
		CursorLogIndex:       cursor.LogIndex,
	}
	if head, err := h.source.HeadHeight(r.Context()); err != nil {
		resp.HeadHeightUnavailable = true
	} else {
		resp.HeadHeight = head
		if head > cursor.BlockNumber {
			resp.BlocksBehind = head - cursor.BlockNumber
		}
	}

	writeJSON(w, resp)
}

func toPaymentResponse(p *domain.Payment) paymentResponse {
	amount := "0"
	if p.TotalAmount != nil {
		amount = p.TotalAmount.String()
	}
	return paymentResponse{
		ChainID:          p.ChainID,
		PaymentReference: p.PaymentReference,
		GatewayAddress:   p.GatewayAddress,
		PayerAddress:     p.PayerAddress,
		TotalAmount:      amount,
		Status:           string(p.Status),
		FirstBlockNumber: p.FirstBlockNumber,
		FirstTxHash:      p.FirstTxHash,
		FirstLogIndex:    p.FirstLogIndex,
		LastBlockNumber:  p.LastBlockNumber,
		LastTxHash:       p.LastTxHash,
		LastLogIndex:     p.LastLogIndex,
		CreatedAt:        p.CreatedAt,
		ConfirmedAt:      p.ConfirmedAt,
		FinalizedAt:      p.FinalizedAt,
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
