package domain

import (
	"context"
	"time"
)

// PaymentGateway описывает взаимодействие с платёжным провайдером.
// Провайдер присылает подтверждение {order_id, success}; VerifyConfirmation
// позволяет перепроверить его статус перед переводом заказа в paid.
type PaymentGateway interface {
	VerifyConfirmation(ctx context.Context, orderID string) (bool, error)
}

// CarrierAPI описывает взаимодействие с API перевозчика.
type CarrierAPI interface {
	// CreateLabel запрашивает этикетку; перевозчик возвращает URL этикетки
	// и трек-номер (может совпадать с переданным в отправлении).
	CreateLabel(ctx context.Context, shipment Shipment) (labelURL, trackingNumber string, err error)
}

// CatalogProduct — витринные данные товара на момент чекаута.
type CatalogProduct struct {
	ProductID      string
	Name           string
	Image          string
	UnitPriceMinor int64
}

// Catalog поставляет цену и витринные поля только в момент снимка корзины.
// Для существующих заказов каталог больше не опрашивается.
type Catalog interface {
	Product(ctx context.Context, productID string) (CatalogProduct, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
