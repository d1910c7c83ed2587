package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marketbay/fulfillment/internal/domain"
)

type shipmentRepository struct {
	db *sql.DB
}

// NewShipmentRepository создаёт PostgreSQL-реализацию ShipmentRepository.
// Уникальный индекс по order_id гарантирует одно отправление на заказ.
func NewShipmentRepository(store *Store) domain.ShipmentRepository {
	return &shipmentRepository{db: store.DB()}
}

func (r *shipmentRepository) Create(ctx context.Context, shipment domain.Shipment) error {
	if errs := shipment.Validate(); len(errs) > 0 {
		return errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var estimated any
	if !shipment.EstimatedDelivery.IsZero() {
		estimated = shipment.EstimatedDelivery
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO shipments (
			id, order_id, carrier, tracking_number, weight_grams,
			dimensions, cost_minor, shipped_at, estimated_delivery, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		shipment.ID, shipment.OrderID, shipment.Carrier, shipment.TrackingNumber, shipment.WeightGrams,
		shipment.Dimensions, shipment.CostMinor, shipment.ShippedAt, estimated, shipment.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrShipmentAlreadyExists
		}
		return fmt.Errorf("insert shipment: %w", err)
	}

	return nil
}

func (r *shipmentRepository) GetByOrder(ctx context.Context, orderID string) (domain.Shipment, error) {
	if orderID == "" {
		return domain.Shipment{}, domain.ErrOrderIDRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		shipment  domain.Shipment
		estimated sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, carrier, tracking_number, weight_grams,
		       dimensions, cost_minor, shipped_at, estimated_delivery, created_at
		FROM shipments
		WHERE order_id = $1
	`, orderID).Scan(
		&shipment.ID, &shipment.OrderID, &shipment.Carrier, &shipment.TrackingNumber, &shipment.WeightGrams,
		&shipment.Dimensions, &shipment.CostMinor, &shipment.ShippedAt, &estimated, &shipment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Shipment{}, domain.ErrShipmentNotFound
		}
		return domain.Shipment{}, fmt.Errorf("select shipment: %w", err)
	}
	if estimated.Valid {
		shipment.EstimatedDelivery = estimated.Time.UTC()
	}

	return shipment, nil
}

var _ domain.ShipmentRepository = (*shipmentRepository)(nil)
