package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора покупателя.
	ErrBuyerRequired = errors.New("buyer_id is required")
	// Ошибка отсутствующего идентификатора продавца.
	ErrSellerRequired = errors.New("seller_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLinesRequired = errors.New("order must contain at least one line")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrLineQtyInvalid = errors.New("line qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrLinePriceInvalid = errors.New("line unit price must be non-negative")
	// Ошибка отрицательной скидки/доставки/налога.
	ErrAdjustmentNegative = errors.New("discount, shipping and tax must be non-negative")
	// Ошибка несоответствия subtotal сумме позиций.
	ErrSubtotalMismatch = errors.New("order subtotal does not match lines sum")
	// Ошибка несоответствия total формуле subtotal - discount + shipping + tax.
	ErrTotalMismatch = errors.New("order total does not match frozen components")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте optimistic-версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrStockNotFound возвращается, если по товару нет складской записи.
	ErrStockNotFound = errors.New("stock record not found")
	// ErrStockVersionConflict — конкурентное изменение складской записи.
	ErrStockVersionConflict = errors.New("stock version conflict")
	// ErrStockInvariantViolated — нарушен инвариант 0 <= reserved <= quantity.
	ErrStockInvariantViolated = errors.New("stock invariant violated: 0 <= reserved <= quantity")
	// ErrShipmentNotFound возвращается, если у заказа нет отправления.
	ErrShipmentNotFound = errors.New("shipment not found")
	// ErrShipmentAlreadyExists — у заказа может быть только одно активное отправление.
	ErrShipmentAlreadyExists = errors.New("shipment already exists for order")

	// ErrInvalidShipmentDetails — пустой трек-номер или нераспознанный перевозчик.
	ErrInvalidShipmentDetails = errors.New("invalid shipment details")
	// ErrCannotCancelShipped — отгруженный заказ отменять нельзя, товар уже в пути.
	ErrCannotCancelShipped = errors.New("cannot cancel shipped order")
	// ErrOrderNotShippable — отправление создаётся только для оплаченного заказа.
	ErrOrderNotShippable = errors.New("order is not shippable")
	// ErrUnauthorized — действующее лицо не имеет права на операцию.
	ErrUnauthorized = errors.New("actor is not allowed to perform this action")

	// Ошибки контракта идемпотентности.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key is used with different request")
	ErrIdempotencyNotFound            = errors.New("idempotency record not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrPaymentUnverified — платёжный провайдер не подтвердил оплату при перепроверке.
	ErrPaymentUnverified = errors.New("payment confirmation is not verified")
)

// InsufficientStockError возвращается, когда доступного остатка
// не хватает для резервирования. Восстановимая ошибка: покупатель
// может уменьшить количество или выбрать другой товар.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// InvalidTransitionError описывает запрещённый переход state machine заказа.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}

// IsInsufficientStock проверяет, является ли ошибка нехваткой остатка.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// IsInvalidTransition проверяет, является ли ошибка запрещённым переходом.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом optimistic-версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrStockVersionConflict)
}
