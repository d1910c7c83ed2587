package domain

import (
	"context"
	"time"
)

// Stock — складская запись товара. Quantity — всего на складе,
// Reserved — удержано под pending/paid заказы.
// Инвариант: 0 <= Reserved <= Quantity.
type Stock struct {
	ProductID string
	Quantity  int64
	Reserved  int64
	Location  string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available возвращает остаток, доступный к резервированию.
func (s *Stock) Available() int64 {
	return s.Quantity - s.Reserved
}

// Validate проверяет корректность складской записи.
func (s *Stock) Validate() []error {
	var errs []error

	if s.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if s.Quantity < 0 || s.Reserved < 0 || s.Reserved > s.Quantity {
		errs = append(errs, ErrStockInvariantViolated)
	}

	return errs
}

// ReservationLine — запрос резерва/освобождения/списания по одному товару.
type ReservationLine struct {
	ProductID string
	Qty       int64
}

// InventoryLedger — единственный компонент, мутирующий складские остатки.
// Reserve сериализуется по товару (никогда — одним глобальным замком на
// весь склад); многострочные операции берут блокировки в стабильном
// порядке product_id, чтобы два пересекающихся заказа не взаимоблокировались.
type InventoryLedger interface {
	// Reserve атомарно удерживает qty, только если available >= qty.
	// Иначе — InsufficientStockError, без очереди и без ожидания.
	Reserve(ctx context.Context, productID string, qty int64) error
	// ReserveLines резервирует все позиции заказа по принципу всё-или-ничего:
	// при нехватке любого товара ни одна позиция не остаётся удержанной.
	ReserveLines(ctx context.Context, lines []ReservationLine) error
	// Release снимает резерв, не опуская его ниже нуля. Возвращает
	// фактически освобождённое количество: received < qty означает баг
	// вызывающей стороны, но состояние склада остаётся корректным.
	Release(ctx context.Context, productID string, qty int64) (int64, error)
	// ReleaseLines снимает резерв по всем позициям заказа.
	ReleaseLines(ctx context.Context, lines []ReservationLine) error
	// Commit списывает qty и из Quantity, и из Reserved: товар физически
	// покинул склад. Вызывается только при подтверждении доставки.
	Commit(ctx context.Context, productID string, qty int64) error
	// CommitLines списывает все позиции заказа.
	CommitLines(ctx context.Context, lines []ReservationLine) error
	// Get возвращает актуальную складскую запись.
	Get(ctx context.Context, productID string) (Stock, error)
	// Put создаёт или обновляет складскую запись (кабинет продавца).
	Put(ctx context.Context, stock Stock) (Stock, error)
	// List возвращает складские записи, ограничивая выборку limit (если > 0).
	List(ctx context.Context, limit int) ([]Stock, error)
}
