package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainmart/settlement-service/internal/domain"
	"github.com/chainmart/settlement-service/internal/store"
)

// memRepo is an in-memory store.Repository mirroring the merge semantics of
// the PostgreSQL implementation.
type memRepo struct {
	mu        sync.Mutex
	cursors   map[uint64]domain.Cursor
	transfers map[transferKey]*domain.Transfer
	payments  map[paymentKey]*domain.Payment

	failUpserts bool
}

type transferKey struct {
	chainID  uint64
	txHash   string
	logIndex uint32
}

type paymentKey struct {
	chainID   uint64
	reference string
}

func newMemRepo() *memRepo {
	return &memRepo{
		cursors:   make(map[uint64]domain.Cursor),
		transfers: make(map[transferKey]*domain.Transfer),
		payments:  make(map[paymentKey]*domain.Payment),
	}
}

func (r *memRepo) GetCursor(ctx context.Context, chainID uint64) (domain.Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cursor, ok := r.cursors[chainID]
	if !ok {
		return domain.Cursor{}, store.ErrCursorNotFound
	}
	return cursor, nil
}

func (r *memRepo) AdvanceCursor(ctx context.Context, chainID uint64, cursor domain.Cursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cursors[chainID]; ok && cursor.Before(existing) {
		return nil
	}
	r.cursors[chainID] = cursor
	return nil
}

func (r *memRepo) UpsertTransfer(ctx context.Context, transfer *domain.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpserts {
		return errors.New("induced write failure")
	}
	key := transferKey{transfer.ChainID, transfer.TxHash, transfer.LogIndex}
	existing, ok := r.transfers[key]
	if !ok {
		clone := *transfer
		r.transfers[key] = &clone
		return nil
	}
	existing.BlockNumber = transfer.BlockNumber
	existing.GatewayAddress = transfer.GatewayAddress
	existing.PaymentReference = transfer.PaymentReference
	if existing.PayerAddress == nil {
		existing.PayerAddress = transfer.PayerAddress
	}
	if existing.Amount == nil {
		existing.Amount = transfer.Amount
	}
	if transfer.ObservedAt.Before(existing.ObservedAt) {
		existing.ObservedAt = transfer.ObservedAt
	}
	return nil
}

func (r *memRepo) RefreshPaymentAggregate(ctx context.Context, chainID uint64, reference string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var transfers []*domain.Transfer
	for _, t := range r.transfers {
		if t.ChainID == chainID && t.PaymentReference == reference {
			transfers = append(transfers, t)
		}
	}
	if len(transfers) == 0 {
		return nil, store.ErrNoTransfers
	}
	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].Position().Before(transfers[j].Position())
	})

	total := new(big.Int)
	createdAt := transfers[0].ObservedAt
	var payer *string
	for _, t := range transfers {
		if t.Amount != nil {
			total.Add(total, t.Amount)
		}
		if t.ObservedAt.Before(createdAt) {
			createdAt = t.ObservedAt
		}
		if payer == nil && t.PayerAddress != nil {
			payer = t.PayerAddress
		}
	}
	first, last := transfers[0], transfers[len(transfers)-1]

	key := paymentKey{chainID, reference}
	payment, ok := r.payments[key]
	if !ok {
		payment = &domain.Payment{
			ChainID:          chainID,
			PaymentReference: reference,
			Status:           domain.PaymentObserved,
			CreatedAt:        createdAt,
		}
		r.payments[key] = payment
	}
	payment.GatewayAddress = last.GatewayAddress
	if payment.PayerAddress == nil {
		payment.PayerAddress = payer
	}
	payment.TotalAmount = new(big.Int).Set(total)
	payment.FirstBlockNumber = first.BlockNumber
	payment.FirstTxHash = first.TxHash
	payment.FirstLogIndex = first.LogIndex
	payment.LastBlockNumber = last.BlockNumber
	payment.LastTxHash = last.TxHash
	payment.LastLogIndex = last.LogIndex
	if createdAt.Before(payment.CreatedAt) {
		payment.CreatedAt = createdAt
	}

	clone := *payment
	return &clone, nil
}

func (r *memRepo) GetPayment(ctx context.Context, chainID uint64, reference string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, ok := r.payments[paymentKey{chainID, reference}]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	clone := *payment
	return &clone, nil
}

func (r *memRepo) PromoteConfirmed(ctx context.Context, chainID uint64, maxFirstBlock uint64, at time.Time) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var promoted []domain.Payment
	for _, p := range r.payments {
		if p.ChainID != chainID || p.Status != domain.PaymentObserved {
			continue
		}
		if p.FirstBlockNumber > maxFirstBlock {
			continue
		}
		stamp := at
		p.Status = domain.PaymentConfirmed
		p.ConfirmedAt = &stamp
		promoted = append(promoted, *p)
	}
	return promoted, nil
}

func (r *memRepo) PromoteFinalized(ctx context.Context, chainID uint64, maxFirstBlock uint64, at time.Time) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var promoted []domain.Payment
	for _, p := range r.payments {
		if p.ChainID != chainID || p.Status == domain.PaymentFinalized {
			continue
		}
		if p.FirstBlockNumber > maxFirstBlock {
			continue
		}
		stamp := at
		p.Status = domain.PaymentFinalized
		p.FinalizedAt = &stamp
		promoted = append(promoted, *p)
	}
	return promoted, nil
}

// memOrders is an in-memory store.OrderService with the same exactly-once
// semantics as the SQL guards.
type memOrders struct {
	mu      sync.Mutex
	matches map[string][]domain.OrderMatch

	paidAt      map[string]time.Time
	confirmedAt map[string]time.Time
	finalizedAt map[string]time.Time

	markPaidCalls int
}

func newMemOrders() *memOrders {
	return &memOrders{
		matches:     make(map[string][]domain.OrderMatch),
		paidAt:      make(map[string]time.Time),
		confirmedAt: make(map[string]time.Time),
		finalizedAt: make(map[string]time.Time),
	}
}

func (o *memOrders) addOrder(reference, buyer string, sellers ...string) uuid.UUID {
	o.mu.Lock()
	defer o.mu.Unlock()
	match := domain.OrderMatch{OrderID: uuid.New(), Buyer: buyer}
	for _, seller := range sellers {
		match.SellerLines = append(match.SellerLines, domain.SellerLine{Seller: seller, Quantity: 1})
	}
	o.matches[reference] = append(o.matches[reference], match)
	return match.OrderID
}

func (o *memOrders) LookupOrdersByPaymentReference(ctx context.Context, reference string) ([]domain.OrderMatch, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.OrderMatch(nil), o.matches[reference]...), nil
}

func (o *memOrders) MarkPaid(ctx context.Context, reference string, details domain.PaidDetails) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.markPaidCalls++
	if len(o.matches[reference]) == 0 {
		return false, nil
	}
	if _, done := o.paidAt[reference]; done {
		return false, nil
	}
	o.paidAt[reference] = details.At
	return true, nil
}

func (o *memOrders) MarkConfirmed(ctx context.Context, reference string, at time.Time) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.matches[reference]) == 0 {
		return false, nil
	}
	if _, done := o.confirmedAt[reference]; done {
		return false, nil
	}
	o.confirmedAt[reference] = at
	return true, nil
}

func (o *memOrders) MarkFinalized(ctx context.Context, reference string, at time.Time) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.matches[reference]) == 0 {
		return false, nil
	}
	if _, done := o.finalizedAt[reference]; done {
		return false, nil
	}
	o.finalizedAt[reference] = at
	return true, nil
}

// recordingHooks captures every hook invocation.
type recordingHooks struct {
	mu            sync.Mutex
	paid          []domain.PaymentLifecycleEvent
	confirmed     []domain.PaymentLifecycleEvent
	finalized     []domain.PaymentLifecycleEvent
	statusChanges []domain.StatusChangeEvent
	fulfillOrders []domain.OrderMatch

	panicOn string
}

func (h *recordingHooks) OnPaid(ctx context.Context, event domain.PaymentLifecycleEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panicOn == "paid" {
		panic("paid hook exploded")
	}
	h.paid = append(h.paid, event)
	return nil
}

func (h *recordingHooks) OnConfirmed(ctx context.Context, event domain.PaymentLifecycleEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panicOn == "confirmed" {
		panic("confirmed hook exploded")
	}
	h.confirmed = append(h.confirmed, event)
	return nil
}

func (h *recordingHooks) OnFinalized(ctx context.Context, event domain.PaymentLifecycleEvent, orders []domain.OrderMatch) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panicOn == "finalized" {
		panic("finalized hook exploded")
	}
	h.finalized = append(h.finalized, event)
	h.fulfillOrders = append(h.fulfillOrders, orders...)
	return nil
}

func (h *recordingHooks) OnStatusChanged(ctx context.Context, event domain.StatusChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panicOn == "status_changed" {
		panic("status hook exploded")
	}
	h.statusChanges = append(h.statusChanges, event)
	return nil
}

func (h *recordingHooks) snapshot() (paid, confirmed, finalized int, statuses []domain.StatusChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.paid), len(h.confirmed), len(h.finalized),
		append([]domain.StatusChangeEvent(nil), h.statusChanges...)
}

// blockingHooks parks every invocation until release is closed.
type blockingHooks struct {
	release chan struct{}
}

func (h *blockingHooks) OnPaid(ctx context.Context, event domain.PaymentLifecycleEvent) error {
	<-h.release
	return nil
}

func (h *blockingHooks) OnConfirmed(ctx context.Context, event domain.PaymentLifecycleEvent) error {
	<-h.release
	return nil
}

func (h *blockingHooks) OnFinalized(ctx context.Context, event domain.PaymentLifecycleEvent, orders []domain.OrderMatch) error {
	<-h.release
	return nil
}

func (h *blockingHooks) OnStatusChanged(ctx context.Context, event domain.StatusChangeEvent) error {
	<-h.release
	return nil
}

// scriptedSource returns canned pages and head heights.
type scriptedSource struct {
	mu      sync.Mutex
	pages   [][]domain.TransferRow
	head    uint64
	headErr error
	fetches []domain.Cursor
}

func (s *scriptedSource) push(rows ...domain.TransferRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, rows)
}

func (s *scriptedSource) FetchSince(ctx context.Context, cursor domain.Cursor, pageSize int) ([]domain.TransferRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, cursor)
	if len(s.pages) == 0 {
		return nil, nil
	}
	page := s.pages[0]
	s.pages = s.pages[1:]
	// Honor the cursor predicate the way the real source does.
	filtered := page[:0:0]
	for _, row := range page {
		if cursor.Before(row.Position()) {
			filtered = append(filtered, row)
		}
	}
	if len(filtered) > pageSize {
		filtered = filtered[:pageSize]
	}
	return filtered, nil
}

func (s *scriptedSource) HeadHeight(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headErr != nil {
		return 0, s.headErr
	}
	return s.head, nil
}

func (s *scriptedSource) setHead(head uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = head
	s.headErr = err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
