package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marketbay/fulfillment/internal/domain"
)

// stockEntry держит складскую запись вместе с её собственным замком.
// Блокировка по товару, а не по всему складу: резервы несвязанных
// товаров не мешают друг другу.
type stockEntry struct {
	mu    sync.Mutex
	stock domain.Stock
}

// inventoryLedgerInMemory — in-memory реализация InventoryLedger
// для локальной разработки и тестов.
type inventoryLedgerInMemory struct {
	mu      sync.RWMutex // защищает только map, не записи
	entries map[string]*stockEntry
}

// NewInventoryLedger возвращает in-memory реестр остатков.
func NewInventoryLedger() domain.InventoryLedger {
	return &inventoryLedgerInMemory{
		entries: make(map[string]*stockEntry),
	}
}

func (l *inventoryLedgerInMemory) entry(productID string) (*stockEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[productID]
	return e, ok
}

// Reserve атомарно удерживает qty, если доступного остатка хватает.
func (l *inventoryLedgerInMemory) Reserve(_ context.Context, productID string, qty int64) error {
	if qty <= 0 {
		return domain.ErrLineQtyInvalid
	}
	e, ok := l.entry(productID)
	if !ok {
		return domain.ErrStockNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stock.Available() < qty {
		return &domain.InsufficientStockError{
			ProductID: productID,
			Requested: qty,
			Available: e.stock.Available(),
		}
	}
	e.stock.Reserved += qty
	e.stock.Version++
	e.stock.UpdatedAt = time.Now().UTC()
	return nil
}

// ReserveLines резервирует позиции заказа по принципу всё-или-ничего.
// Замки берутся в порядке сортировки product_id, поэтому два заказа
// с пересекающимися товарами не могут взаимоблокироваться.
func (l *inventoryLedgerInMemory) ReserveLines(_ context.Context, lines []domain.ReservationLine) error {
	merged := mergeLines(lines)
	if len(merged) == 0 {
		return domain.ErrLinesRequired
	}

	entries := make([]*stockEntry, 0, len(merged))
	for _, line := range merged {
		if line.Qty <= 0 {
			return domain.ErrLineQtyInvalid
		}
		e, ok := l.entry(line.ProductID)
		if !ok {
			return domain.ErrStockNotFound
		}
		entries = append(entries, e)
	}

	for _, e := range entries {
		e.mu.Lock()
	}
	defer func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
	}()

	// Все замки удержаны: сначала проверяем каждую позицию, потом применяем.
	// Частичного резерва не существует ни в какой момент времени.
	for i, line := range merged {
		if entries[i].stock.Available() < line.Qty {
			return &domain.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Qty,
				Available: entries[i].stock.Available(),
			}
		}
	}

	now := time.Now().UTC()
	for i, line := range merged {
		entries[i].stock.Reserved += line.Qty
		entries[i].stock.Version++
		entries[i].stock.UpdatedAt = now
	}
	return nil
}

// Release снимает резерв, не опуская его ниже нуля.
func (l *inventoryLedgerInMemory) Release(_ context.Context, productID string, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, domain.ErrLineQtyInvalid
	}
	e, ok := l.entry(productID)
	if !ok {
		return 0, domain.ErrStockNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	released := qty
	if released > e.stock.Reserved {
		released = e.stock.Reserved
	}
	e.stock.Reserved -= released
	e.stock.Version++
	e.stock.UpdatedAt = time.Now().UTC()
	return released, nil
}

// ReleaseLines снимает резерв по всем позициям заказа.
func (l *inventoryLedgerInMemory) ReleaseLines(ctx context.Context, lines []domain.ReservationLine) error {
	for _, line := range mergeLines(lines) {
		if _, err := l.Release(ctx, line.ProductID, line.Qty); err != nil {
			return err
		}
	}
	return nil
}

// Commit списывает qty из Quantity и Reserved: товар доставлен покупателю.
func (l *inventoryLedgerInMemory) Commit(_ context.Context, productID string, qty int64) error {
	if qty <= 0 {
		return domain.ErrLineQtyInvalid
	}
	e, ok := l.entry(productID)
	if !ok {
		return domain.ErrStockNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Списать можно не больше, чем удержано: reserved <= quantity,
	// поэтому инвариант сохраняется и при некорректном qty.
	committed := qty
	if committed > e.stock.Reserved {
		committed = e.stock.Reserved
	}
	e.stock.Quantity -= committed
	e.stock.Reserved -= committed
	e.stock.Version++
	e.stock.UpdatedAt = time.Now().UTC()
	return nil
}

// CommitLines списывает все позиции заказа.
func (l *inventoryLedgerInMemory) CommitLines(ctx context.Context, lines []domain.ReservationLine) error {
	for _, line := range mergeLines(lines) {
		if err := l.Commit(ctx, line.ProductID, line.Qty); err != nil {
			return err
		}
	}
	return nil
}

// Get возвращает копию актуальной складской записи.
func (l *inventoryLedgerInMemory) Get(_ context.Context, productID string) (domain.Stock, error) {
	e, ok := l.entry(productID)
	if !ok {
		return domain.Stock{}, domain.ErrStockNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stock, nil
}

// Put создаёт или обновляет складскую запись.
func (l *inventoryLedgerInMemory) Put(_ context.Context, stock domain.Stock) (domain.Stock, error) {
	if errs := stock.Validate(); len(errs) > 0 {
		return domain.Stock{}, errs[0]
	}

	now := time.Now().UTC()

	l.mu.Lock()
	e, ok := l.entries[stock.ProductID]
	if !ok {
		stock.CreatedAt = now
		stock.UpdatedAt = now
		stock.Version = 1
		l.entries[stock.ProductID] = &stockEntry{stock: stock}
		l.mu.Unlock()
		return stock, nil
	}
	l.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Резерв принадлежит заказам, продавец им не управляет.
	if stock.Quantity < e.stock.Reserved {
		return domain.Stock{}, domain.ErrStockInvariantViolated
	}
	e.stock.Quantity = stock.Quantity
	e.stock.Location = stock.Location
	e.stock.Version++
	e.stock.UpdatedAt = now
	return e.stock, nil
}

// List возвращает складские записи, отсортированные по product_id.
func (l *inventoryLedgerInMemory) List(_ context.Context, limit int) ([]domain.Stock, error) {
	l.mu.RLock()
	entries := make([]*stockEntry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	result := make([]domain.Stock, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		result = append(result, e.stock)
		e.mu.Unlock()
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// mergeLines складывает дубли по одному товару и сортирует результат
// по product_id — стабильный порядок взятия замков.
func mergeLines(lines []domain.ReservationLine) []domain.ReservationLine {
	byProduct := make(map[string]int64, len(lines))
	for _, line := range lines {
		byProduct[line.ProductID] += line.Qty
	}

	merged := make([]domain.ReservationLine, 0, len(byProduct))
	for productID, qty := range byProduct {
		merged = append(merged, domain.ReservationLine{ProductID: productID, Qty: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}

var _ domain.InventoryLedger = (*inventoryLedgerInMemory)(nil)
