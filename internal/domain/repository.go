package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByBuyer возвращает заказы покупателя с опциональным ограничением на количество.
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]Order, error)
	// ListBySeller возвращает заказы продавца (кабинет управления заказами).
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// ShipmentRepository хранит отправления. Одно активное отправление на заказ.
type ShipmentRepository interface {
	// Create сохраняет отправление; повторное создание для того же заказа
	// возвращает ErrShipmentAlreadyExists.
	Create(ctx context.Context, shipment Shipment) error
	// GetByOrder возвращает отправление заказа или ErrShipmentNotFound.
	GetByOrder(ctx context.Context, orderID string) (Shipment, error)
}
