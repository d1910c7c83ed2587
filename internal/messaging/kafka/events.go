package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// События заказа
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderPaid      EventType = "order.paid"
	EventTypeOrderShipped   EventType = "order.shipped"
	EventTypeOrderDelivered EventType = "order.delivered"
	EventTypeOrderCancelled EventType = "order.cancelled"

	// События склада
	EventTypeStockReserved  EventType = "stock.reserved"
	EventTypeStockReleased  EventType = "stock.released"
	EventTypeStockCommitted EventType = "stock.committed"

	// Входящие подтверждения платёжного провайдера
	EventTypePaymentConfirmed EventType = "payment.confirmed"
)

// Topics для Kafka
const (
	TopicOrderEvents          = "marketplace.order.events"
	TopicStockEvents          = "marketplace.stock.events"
	TopicPaymentConfirmations = "marketplace.payment.confirmations"
	TopicDeadLetterQueue      = "marketplace.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	BuyerID   string                 `json:"buyer_id,omitempty"`
	SellerID  string                 `json:"seller_id,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// PaymentConfirmation — сообщение платёжного провайдера {order_id, success}.
type PaymentConfirmation struct {
	OrderID   string    `json:"order_id"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, buyerID, sellerID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
