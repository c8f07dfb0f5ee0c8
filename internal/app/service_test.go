package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chainmart/settlement-service/internal/domain"
)

func newTestService(repo *memRepo, source *scriptedSource, orders *memOrders, hooks *recordingHooks, confirmDepth, finalizeDepth uint64) (*Service, *HookDispatcher) {
	logger := discardLogger()
	dispatcher := NewHookDispatcher(hooks, logger)
	matcher := NewOrderMatcher(orders, dispatcher, logger)
	ingestor := NewIngestor(repo, source, matcher, testChainID, 500, nil, logger)
	engine := NewConfirmationEngine(repo, matcher, testChainID, confirmDepth, finalizeDepth, logger)
	return NewService(ingestor, engine, source, logger), dispatcher
}

// TestTick_FullLifecycle walks one payment from gateway event to fulfilled
// order across three ticks as the chain head advances.
func TestTick_FullLifecycle(t *testing.T) {
	repo := newMemRepo()
	source := &scriptedSource{}
	orders := newMemOrders()
	orders.addOrder("pay_ABCDEF0123456789ABCDEF0123456789", "buyer-1", "seller-1")
	hooks := &recordingHooks{}
	service, dispatcher := newTestService(repo, source, orders, hooks, 3, 12)

	// Tick 1: the transfer lands at block 100, head is 100. Payment is
	// observed, the order marked paid, no confirmation depth yet.
	source.push(makeRow(100, 0, 1, "pay_ABCDEF0123456789ABCDEF0123456789", "1000", "0xgw"))
	source.setHead(100, nil)
	if err := service.Tick(context.Background()); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if !dispatcher.Drain(2 * time.Second) {
		t.Fatal("tick 1 hooks did not drain")
	}
	payment, err := repo.GetPayment(context.Background(), testChainID, "pay_ABCDEF0123456789ABCDEF0123456789")
	if err != nil {
		t.Fatalf("tick 1 GetPayment: %v", err)
	}
	if payment.Status != domain.PaymentObserved {
		t.Fatalf("tick 1 status = %s, want observed", payment.Status)
	}
	paid, confirmed, finalized, _ := hooks.snapshot()
	if paid != 1 || confirmed != 0 || finalized != 0 {
		t.Fatalf("tick 1 hooks = paid %d confirmed %d finalized %d", paid, confirmed, finalized)
	}

	// Tick 2: head reaches 103, clearing the confirm depth of 3.
	source.setHead(103, nil)
	if err := service.Tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if !dispatcher.Drain(2 * time.Second) {
		t.Fatal("tick 2 hooks did not drain")
	}
	payment, _ = repo.GetPayment(context.Background(), testChainID, "pay_ABCDEF0123456789ABCDEF0123456789")
	if payment.Status != domain.PaymentConfirmed {
		t.Fatalf("tick 2 status = %s, want confirmed", payment.Status)
	}
	_, confirmed, finalized, statuses := hooks.snapshot()
	if confirmed != 1 || finalized != 0 {
		t.Fatalf("tick 2 hooks = confirmed %d finalized %d", confirmed, finalized)
	}
	if len(statuses) != 2 {
		t.Fatalf("tick 2 status changes = %d, want 2 (buyer + seller)", len(statuses))
	}
	for _, change := range statuses {
		if change.NewStatus != domain.OrderStatusPaymentProcessing {
			t.Fatalf("tick 2 status change target = %s", change.NewStatus)
		}
	}

	// Tick 3: head reaches 112, clearing the finalize depth of 12.
	source.setHead(112, nil)
	if err := service.Tick(context.Background()); err != nil {
		t.Fatalf("tick 3: %v", err)
	}
	if !dispatcher.Drain(2 * time.Second) {
		t.Fatal("tick 3 hooks did not drain")
	}
	payment, _ = repo.GetPayment(context.Background(), testChainID, "pay_ABCDEF0123456789ABCDEF0123456789")
	if payment.Status != domain.PaymentFinalized {
		t.Fatalf("tick 3 status = %s, want finalized", payment.Status)
	}
	paid, confirmed, finalized, statuses = hooks.snapshot()
	if paid != 1 || confirmed != 1 || finalized != 1 {
		t.Fatalf("tick 3 hooks = paid %d confirmed %d finalized %d", paid, confirmed, finalized)
	}
	if len(statuses) != 4 {
		t.Fatalf("tick 3 status changes = %d, want 4", len(statuses))
	}
	hooks.mu.Lock()
	fulfillCount := len(hooks.fulfillOrders)
	hooks.mu.Unlock()
	if fulfillCount != 1 {
		t.Fatalf("expected one order in fulfillment payload, got %d", fulfillCount)
	}
}

func TestTick_HeadFailureSkipsSweepsButKeepsIngest(t *testing.T) {
	repo := newMemRepo()
	source := &scriptedSource{}
	orders := newMemOrders()
	service, _ := newTestService(repo, source, orders, &recordingHooks{}, 3, 12)

	source.push(makeRow(50, 0, 0, "pay_headless", "10", "0xgw"))
	source.setHead(0, errors.New("head endpoint down"))

	if err := service.Tick(context.Background()); err != nil {
		t.Fatalf("tick must tolerate head failure, got %v", err)
	}
	if _, err := repo.GetPayment(context.Background(), testChainID, "pay_headless"); err != nil {
		t.Fatalf("ingestion must still commit when head fails: %v", err)
	}
	cursor, err := repo.GetCursor(context.Background(), testChainID)
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if cursor.BlockNumber != 50 {
		t.Fatalf("cursor = %+v, want block 50", cursor)
	}
}

func TestTick_IngestFailureAbortsTick(t *testing.T) {
	repo := newMemRepo()
	repo.failUpserts = true
	source := &scriptedSource{}
	service, _ := newTestService(repo, source, newMemOrders(), &recordingHooks{}, 3, 12)

	source.push(makeRow(60, 0, 0, "pay_broken", "10", "0xgw"))
	source.setHead(100, nil)

	if err := service.Tick(context.Background()); err == nil {
		t.Fatal("tick must surface ingest failures")
	}
	if len(source.fetches) != 1 {
		t.Fatalf("expected a single fetch before aborting, got %d", len(source.fetches))
	}
}
