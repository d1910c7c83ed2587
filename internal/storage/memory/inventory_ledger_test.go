package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/storage/memory"
)

func newLedgerWithStock(t *testing.T, productID string, quantity int64) domain.InventoryLedger {
	t.Helper()
	ledger := memory.NewInventoryLedger()
	if _, err := ledger.Put(context.Background(), domain.Stock{ProductID: productID, Quantity: quantity}); err != nil {
		t.Fatalf("put stock: %v", err)
	}
	return ledger
}

func TestInventoryLedgerReserve(t *testing.T) {
	ctx := context.Background()
	ledger := newLedgerWithStock(t, "product-1", 10)

	if err := ledger.Reserve(ctx, "product-1", 4); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	stock, err := ledger.Get(ctx, "product-1")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if stock.Reserved != 4 || stock.Available() != 6 {
		t.Fatalf("expected reserved=4 available=6, got reserved=%d available=%d", stock.Reserved, stock.Available())
	}

	// Остатка не хватает: отказ без изменений.
	err = ledger.Reserve(ctx, "product-1", 7)
	var insufficientErr *domain.InsufficientStockError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficientErr.Requested != 7 || insufficientErr.Available != 6 {
		t.Fatalf("unexpected error details: %+v", insufficientErr)
	}

	stock, _ = ledger.Get(ctx, "product-1")
	if stock.Reserved != 4 {
		t.Fatalf("failed reserve must not change state, reserved=%d", stock.Reserved)
	}
}

func TestInventoryLedgerReserveUnknownProduct(t *testing.T) {
	ledger := memory.NewInventoryLedger()
	if err := ledger.Reserve(context.Background(), "ghost", 1); !errors.Is(err, domain.ErrStockNotFound) {
		t.Fatalf("expected ErrStockNotFound, got %v", err)
	}
}

// Конкурентные резервы никогда не продают больше остатка.
func TestInventoryLedgerReserveConcurrentNoOversell(t *testing.T) {
	ctx := context.Background()
	ledger := newLedgerWithStock(t, "product-1", 100)

	const workers = 50

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Reserve(ctx, "product-1", 3); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 100 / 3 = 33 успешных резерва, остальные должны получить отказ.
	if succeeded != 33 {
		t.Fatalf("expected 33 successful reserves, got %d", succeeded)
	}

	stock, err := ledger.Get(ctx, "product-1")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if stock.Reserved != 99 {
		t.Fatalf("expected reserved=99, got %d", stock.Reserved)
	}
	if stock.Reserved > stock.Quantity {
		t.Fatalf("invariant violated: reserved=%d > quantity=%d", stock.Reserved, stock.Quantity)
	}
}

func TestInventoryLedgerReserveLinesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewInventoryLedger()
	for _, s := range []domain.Stock{
		{ProductID: "product-a", Quantity: 10},
		{ProductID: "product-b", Quantity: 2},
	} {
		if _, err := ledger.Put(ctx, s); err != nil {
			t.Fatalf("put stock: %v", err)
		}
	}

	// product-b не хватает: ни одна позиция не должна остаться удержанной.
	err := ledger.ReserveLines(ctx, []domain.ReservationLine{
		{ProductID: "product-a", Qty: 5},
		{ProductID: "product-b", Qty: 3},
	})
	var insufficientErr *domain.InsufficientStockError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficientErr.ProductID != "product-b" {
		t.Fatalf("expected failure on product-b, got %s", insufficientErr.ProductID)
	}

	for _, productID := range []string{"product-a", "product-b"} {
		stock, _ := ledger.Get(ctx, productID)
		if stock.Reserved != 0 {
			t.Fatalf("partial reserve leaked on %s: reserved=%d", productID, stock.Reserved)
		}
	}

	// Теперь хватает всем.
	if err := ledger.ReserveLines(ctx, []domain.ReservationLine{
		{ProductID: "product-a", Qty: 5},
		{ProductID: "product-b", Qty: 2},
	}); err != nil {
		t.Fatalf("reserve lines failed: %v", err)
	}

	stockA, _ := ledger.Get(ctx, "product-a")
	stockB, _ := ledger.Get(ctx, "product-b")
	if stockA.Reserved != 5 || stockB.Reserved != 2 {
		t.Fatalf("unexpected reserves: a=%d b=%d", stockA.Reserved, stockB.Reserved)
	}
}

// Дубли одного товара в заявке складываются, а не резервируются дважды
// с взаимоблокировкой на одном замке.
func TestInventoryLedgerReserveLinesMergesDuplicates(t *testing.T) {
	ctx := context.Background()
	ledger := newLedgerWithStock(t, "product-1", 10)

	if err := ledger.ReserveLines(ctx, []domain.ReservationLine{
		{ProductID: "product-1", Qty: 3},
		{ProductID: "product-1", Qty: 4},
	}); err != nil {
		t.Fatalf("reserve lines failed: %v", err)
	}

	stock, _ := ledger.Get(ctx, "product-1")
	if stock.Reserved != 7 {
		t.Fatalf("expected reserved=7, got %d", stock.Reserved)
	}
}

func TestInventoryLedgerReleaseClamped(t *testing.T) {
	ctx := context.Background()
	ledger := newLedgerWithStock(t, "product-1", 10)
	if err := ledger.Reserve(ctx, "product-1", 4); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	// Освобождаем больше, чем удержано: снимается ровно резерв.
	released, err := ledger.Release(ctx, "product-1", 9)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released != 4 {
		t.Fatalf("expected released=4, got %d", released)
	}

	stock, _ := ledger.Get(ctx, "product-1")
	if stock.Reserved != 0 || stock.Quantity != 10 {
		t.Fatalf("expected reserved=0 quantity=10, got reserved=%d quantity=%d", stock.Reserved, stock.Quantity)
	}
}

func TestInventoryLedgerCommit(t *testing.T) {
	ctx := context.Background()
	ledger := newLedgerWithStock(t, "product-1", 5)
	if err := ledger.Reserve(ctx, "product-1", 3); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	// Доставка: списание и из quantity, и из reserved.
	if err := ledger.Commit(ctx, "product-1", 3); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	stock, _ := ledger.Get(ctx, "product-1")
	if stock.Quantity != 2 || stock.Reserved != 0 {
		t.Fatalf("expected quantity=2 reserved=0, got quantity=%d reserved=%d", stock.Quantity, stock.Reserved)
	}
}

func TestInventoryLedgerPut(t *testing.T) {
	ctx := context.Background()
	ledger := newLedgerWithStock(t, "product-1", 10)
	if err := ledger.Reserve(ctx, "product-1", 6); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	// Нельзя опустить quantity ниже текущего резерва.
	if _, err := ledger.Put(ctx, domain.Stock{ProductID: "product-1", Quantity: 5}); !errors.Is(err, domain.ErrStockInvariantViolated) {
		t.Fatalf("expected ErrStockInvariantViolated, got %v", err)
	}

	// Квантити растёт, резерв сохраняется.
	updated, err := ledger.Put(ctx, domain.Stock{ProductID: "product-1", Quantity: 20, Location: "warehouse-2"})
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if updated.Quantity != 20 || updated.Reserved != 6 || updated.Location != "warehouse-2" {
		t.Fatalf("unexpected stock after put: %+v", updated)
	}
}

func TestInventoryLedgerList(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewInventoryLedger()
	for _, id := range []string{"product-c", "product-a", "product-b"} {
		if _, err := ledger.Put(ctx, domain.Stock{ProductID: id, Quantity: 1}); err != nil {
			t.Fatalf("put stock: %v", err)
		}
	}

	all, err := ledger.List(ctx, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 || all[0].ProductID != "product-a" || all[2].ProductID != "product-c" {
		t.Fatalf("expected sorted list of 3, got %+v", all)
	}

	limited, err := ledger.List(ctx, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(limited))
	}
}
