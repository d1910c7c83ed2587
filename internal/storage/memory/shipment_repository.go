package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketbay/fulfillment/internal/domain"
)

// shipmentRepositoryInMemory — in-memory хранилище отправлений, одно на заказ.
type shipmentRepositoryInMemory struct {
	mu      sync.RWMutex
	byOrder map[string]domain.Shipment
}

// NewShipmentRepository возвращает in-memory реализацию ShipmentRepository.
func NewShipmentRepository() domain.ShipmentRepository {
	return &shipmentRepositoryInMemory{
		byOrder: make(map[string]domain.Shipment),
	}
}

// Create сохраняет отправление; повтор для того же заказа — ошибка.
func (r *shipmentRepositoryInMemory) Create(_ context.Context, shipment domain.Shipment) error {
	if errs := shipment.Validate(); len(errs) > 0 {
		return errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byOrder[shipment.OrderID]; exists {
		return domain.ErrShipmentAlreadyExists
	}
	if shipment.ID == "" {
		shipment.ID = uuid.NewString()
	}
	if shipment.CreatedAt.IsZero() {
		shipment.CreatedAt = time.Now().UTC()
	}
	r.byOrder[shipment.OrderID] = shipment
	return nil
}

// GetByOrder возвращает отправление заказа или ErrShipmentNotFound.
func (r *shipmentRepositoryInMemory) GetByOrder(_ context.Context, orderID string) (domain.Shipment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	shipment, ok := r.byOrder[orderID]
	if !ok {
		return domain.Shipment{}, domain.ErrShipmentNotFound
	}
	return shipment, nil
}

var _ domain.ShipmentRepository = (*shipmentRepositoryInMemory)(nil)
