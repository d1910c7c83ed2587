package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа на маркетплейсе.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, товары зарезервированы, оплата не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid — оплата подтверждена платёжным провайдером.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped — отправление создано и передано перевозчику.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — доставка подтверждена; терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён до отгрузки; терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal сообщает, завершён ли жизненный цикл заказа.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// allowedTransitions задаёт полную таблицу переходов state machine заказа.
// Переходов, которых здесь нет, не существует: пропуск статусов запрещён,
// отмена возможна только из pending и paid.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped: {OrderStatusDelivered},
}

// CanTransition проверяет допустимость перехода from → to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// knownCarriers — перевозчики, для которых мы умеем печатать этикетки
// и трекать отправления.
var knownCarriers = map[string]struct{}{
	"ups":   {},
	"usps":  {},
	"fedex": {},
	"dhl":   {},
	"ems":   {},
}

// KnownCarrier проверяет, распознан ли код перевозчика (без учёта регистра).
func KnownCarrier(carrier string) bool {
	_, ok := knownCarriers[strings.ToLower(strings.TrimSpace(carrier))]
	return ok
}

// OrderLine — замороженная позиция заказа. Цена и витринные поля
// (имя, картинка) фиксируются в момент создания заказа и больше
// не сверяются с каталогом.
type OrderLine struct {
	ID             string
	ProductID      string
	Variant        map[string]string
	Qty            int32
	UnitPriceMinor int64
	ProductName    string
	ProductImage   string
	CreatedAt      time.Time
}

// Order агрегирует состояние заказа, его позиции и замороженные суммы.
// Все мутации проходят через методы переходов; конкурентные сохранения
// защищает optimistic-версия в репозитории.
type Order struct {
	ID                string
	BuyerID           string
	SellerID          string
	Status            OrderStatus
	Currency          string
	Lines             []OrderLine
	SubtotalMinor     int64
	DiscountMinor     int64
	ShippingMinor     int64
	TaxMinor          int64
	TotalMinor        int64
	PaymentMethod     string
	Paid              bool
	TrackingNumber    string
	ShippingAddressID string
	CancelReason      string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeliveredAt       *time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if o.SellerID == "" {
		errs = append(errs, ErrSellerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if o.DiscountMinor < 0 || o.ShippingMinor < 0 || o.TaxMinor < 0 {
		errs = append(errs, ErrAdjustmentNegative)
	}

	// Сверяем subtotal с суммой позиций: qty * unit_price.
	var calc int64
	for _, line := range o.Lines {
		if line.Qty <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.UnitPriceMinor < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
		calc += int64(line.Qty) * line.UnitPriceMinor
	}
	if calc != o.SubtotalMinor {
		errs = append(errs, ErrSubtotalMismatch)
	}
	if o.SubtotalMinor-o.DiscountMinor+o.ShippingMinor+o.TaxMinor != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// MarkPaid переводит заказ pending → paid. Идемпотентность повторных
// подтверждений обеспечивает координатор платежей, не агрегат.
func (o *Order) MarkPaid(now time.Time) error {
	if !CanTransition(o.Status, OrderStatusPaid) {
		return &InvalidTransitionError{From: o.Status, To: OrderStatusPaid}
	}
	o.Status = OrderStatusPaid
	o.Paid = true
	o.UpdatedAt = now
	return nil
}

// Ship переводит заказ paid → shipped. Трек-номер обязателен,
// перевозчик должен быть распознан.
func (o *Order) Ship(carrier, trackingNumber string, now time.Time) error {
	if strings.TrimSpace(trackingNumber) == "" || !KnownCarrier(carrier) {
		return ErrInvalidShipmentDetails
	}
	if !CanTransition(o.Status, OrderStatusShipped) {
		return &InvalidTransitionError{From: o.Status, To: OrderStatusShipped}
	}
	o.Status = OrderStatusShipped
	o.TrackingNumber = strings.TrimSpace(trackingNumber)
	o.UpdatedAt = now
	return nil
}

// Deliver переводит заказ shipped → delivered и фиксирует момент доставки.
func (o *Order) Deliver(now time.Time) error {
	if !CanTransition(o.Status, OrderStatusDelivered) {
		return &InvalidTransitionError{From: o.Status, To: OrderStatusDelivered}
	}
	o.Status = OrderStatusDelivered
	delivered := now
	o.DeliveredAt = &delivered
	o.UpdatedAt = now
	return nil
}

// Cancel переводит заказ pending|paid → cancelled. Отгруженный заказ
// отменить нельзя: товар уже физически покинул склад.
func (o *Order) Cancel(reason string, now time.Time) error {
	if o.Status == OrderStatusShipped {
		return ErrCannotCancelShipped
	}
	if !CanTransition(o.Status, OrderStatusCancelled) {
		return &InvalidTransitionError{From: o.Status, To: OrderStatusCancelled}
	}
	o.Status = OrderStatusCancelled
	o.CancelReason = reason
	o.UpdatedAt = now
	return nil
}
