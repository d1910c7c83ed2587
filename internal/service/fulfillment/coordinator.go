package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/messaging/kafka"
	"github.com/marketbay/fulfillment/internal/metrics"
)

const (
	maxSaveRetries = 3
	baseRetryDelay = 10 * time.Millisecond
)

// ShipmentInput — данные отправления, которые вводит продавец.
type ShipmentInput struct {
	Carrier           string
	TrackingNumber    string
	WeightGrams       int64
	Dimensions        string
	CostMinor         int64
	EstimatedDelivery time.Time
}

// Coordinator управляет отгрузкой, доставкой и отменой заказа.
// Гонку ship против cancel разрешает optimistic-версия заказа: выигрывает
// ровно одно сохранение, проигравший перечитывает заказ и заново
// проверяет guard-условия.
type Coordinator struct {
	orders    domain.OrderRepository
	shipments domain.ShipmentRepository
	ledger    domain.InventoryLedger
	carrier   domain.CarrierAPI
	outbox    domain.OutboxRepository
	timeline  domain.TimelineRepository
	producer  *kafka.Producer // опциональный Kafka producer
	metrics   *metrics.LifecycleMetrics
	logger    *log.Entry
}

// NewCoordinator создаёт рабочий экземпляр координатора фулфилмента.
func NewCoordinator(
	orders domain.OrderRepository,
	shipments domain.ShipmentRepository,
	ledger domain.InventoryLedger,
	carrier domain.CarrierAPI,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	lifecycleMetrics *metrics.LifecycleMetrics,
	logger *log.Entry,
) *Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	return &Coordinator{
		orders:    orders,
		shipments: shipments,
		ledger:    ledger,
		carrier:   carrier,
		outbox:    outbox,
		timeline:  timeline,
		metrics:   lifecycleMetrics,
		logger:    logger,
	}
}

// WithKafka подключает опциональный Kafka producer для публикации событий.
func (c *Coordinator) WithKafka(producer *kafka.Producer) *Coordinator {
	c.producer = producer
	return c
}

// Ship переводит оплаченный заказ в shipped и создаёт запись отправления.
// Для неоплаченного заказа возвращает ErrOrderNotShippable, при пустом
// трек-номере или неизвестном перевозчике — ErrInvalidShipmentDetails.
// Резерв при отгрузке сохраняется: товар списывается со склада только
// при подтверждении доставки.
func (c *Coordinator) Ship(ctx context.Context, orderID string, in ShipmentInput) (domain.Shipment, error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordOperationDuration("ship", time.Since(start))
		}
	}()

	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Shipment{}, err
	}

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		if order.Status != domain.OrderStatusPaid {
			if order.Status == domain.OrderStatusPending {
				return domain.Shipment{}, domain.ErrOrderNotShippable
			}
			if c.metrics != nil {
				c.metrics.RecordInvalidTransition()
			}
			return domain.Shipment{}, &domain.InvalidTransitionError{From: order.Status, To: domain.OrderStatusShipped}
		}

		now := time.Now().UTC()
		if err := order.Ship(in.Carrier, in.TrackingNumber, now); err != nil {
			if c.metrics != nil && domain.IsInvalidTransition(err) {
				c.metrics.RecordInvalidTransition()
			}
			return domain.Shipment{}, err
		}
		prevVersion := order.Version

		if err := c.orders.Save(ctx, order); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxSaveRetries-1 {
				c.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"attempt":  attempt + 1,
				}).Warn("version conflict on ship, retrying")

				fresh, loadErr := c.orders.Get(ctx, order.ID)
				if loadErr != nil {
					return domain.Shipment{}, loadErr
				}
				order = fresh
				time.Sleep(baseRetryDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			c.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist shipped order")
			return domain.Shipment{}, err
		}
		order.Version = prevVersion + 1

		shipment := domain.Shipment{
			ID:                uuid.NewString(),
			OrderID:           order.ID,
			Carrier:           in.Carrier,
			TrackingNumber:    in.TrackingNumber,
			WeightGrams:       in.WeightGrams,
			Dimensions:        in.Dimensions,
			CostMinor:         in.CostMinor,
			ShippedAt:         now,
			EstimatedDelivery: in.EstimatedDelivery,
			CreatedAt:         now,
		}
		if err := c.shipments.Create(ctx, shipment); err != nil {
			// Статус заказа уже shipped, запись отправления вторична.
			c.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist shipment record")
			return domain.Shipment{}, err
		}

		c.emitEvent(&order, "OrderShipped", kafka.EventTypeOrderShipped, map[string]interface{}{
			"carrier":         shipment.Carrier,
			"tracking_number": shipment.TrackingNumber,
			"ts":              now.Format(time.RFC3339Nano),
		})
		if c.metrics != nil {
			c.metrics.RecordOrderShipped()
		}
		c.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"carrier":  shipment.Carrier,
		}).Info("order shipped")
		return shipment, nil
	}

	return domain.Shipment{}, domain.ErrOrderVersionConflict
}

// Deliver переводит отгруженный заказ в delivered и списывает резерв
// со склада (commit). Статус delivered терминальный.
func (c *Coordinator) Deliver(ctx context.Context, orderID string) (domain.Order, error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordOperationDuration("deliver", time.Since(start))
		}
	}()

	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		now := time.Now().UTC()
		if err := order.Deliver(now); err != nil {
			if c.metrics != nil && domain.IsInvalidTransition(err) {
				c.metrics.RecordInvalidTransition()
			}
			return domain.Order{}, err
		}
		prevVersion := order.Version

		if err := c.orders.Save(ctx, order); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxSaveRetries-1 {
				fresh, loadErr := c.orders.Get(ctx, order.ID)
				if loadErr != nil {
					return domain.Order{}, loadErr
				}
				order = fresh
				time.Sleep(baseRetryDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			c.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist delivered order")
			return domain.Order{}, err
		}
		order.Version = prevVersion + 1

		// Товар физически покинул склад: quantity и reserved уменьшаются вместе.
		if err := c.ledger.CommitLines(ctx, reservationLines(&order)); err != nil {
			c.logger.WithError(err).WithField("order_id", order.ID).Error("failed to commit reserved stock")
		}

		c.emitEvent(&order, "OrderDelivered", kafka.EventTypeOrderDelivered, map[string]interface{}{
			"ts": now.Format(time.RFC3339Nano),
		})
		if c.metrics != nil {
			c.metrics.RecordOrderDelivered()
		}
		c.logger.WithField("order_id", order.ID).Info("order delivered")
		return order, nil
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

// Cancel отменяет заказ и освобождает резерв. Отмена уже отменённого
// заказа идемпотентна. Отгруженный заказ отменить нельзя: товар в пути,
// возвращается ErrCannotCancelShipped.
func (c *Coordinator) Cancel(ctx context.Context, orderID, reason string) (domain.Order, error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordOperationDuration("cancel", time.Since(start))
		}
	}()

	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		if order.Status == domain.OrderStatusCancelled {
			c.logger.WithField("order_id", order.ID).Debug("order already cancelled")
			return order, nil
		}

		now := time.Now().UTC()
		if err := order.Cancel(reason, now); err != nil {
			if c.metrics != nil && domain.IsInvalidTransition(err) {
				c.metrics.RecordInvalidTransition()
			}
			return domain.Order{}, err
		}

		// Переход разрешён, но существующее отправление означает, что
		// продавец уже передал товар перевозчику, даже если статус
		// конкурентной отгрузки ещё не сохранён.
		if _, shipErr := c.shipments.GetByOrder(ctx, order.ID); shipErr == nil {
			return domain.Order{}, domain.ErrCannotCancelShipped
		} else if !errors.Is(shipErr, domain.ErrShipmentNotFound) {
			return domain.Order{}, shipErr
		}
		prevVersion := order.Version

		if err := c.orders.Save(ctx, order); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxSaveRetries-1 {
				c.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"attempt":  attempt + 1,
				}).Warn("version conflict on cancel, retrying")

				fresh, loadErr := c.orders.Get(ctx, order.ID)
				if loadErr != nil {
					return domain.Order{}, loadErr
				}
				order = fresh
				time.Sleep(baseRetryDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			c.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist cancelled order")
			return domain.Order{}, err
		}
		order.Version = prevVersion + 1

		// Резерв освобождается только после выигранного сохранения:
		// проигравшая отмена не должна трогать склад.
		if err := c.ledger.ReleaseLines(ctx, reservationLines(&order)); err != nil {
			c.logger.WithError(err).WithField("order_id", order.ID).Error("failed to release reserved stock")
		}

		payload := map[string]interface{}{
			"ts": now.Format(time.RFC3339Nano),
		}
		if reason != "" {
			payload["reason"] = reason
		}
		c.emitEvent(&order, "OrderCancelled", kafka.EventTypeOrderCancelled, payload)
		if c.metrics != nil {
			c.metrics.RecordOrderCancelled()
		}
		c.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"reason":   reason,
		}).Info("order cancelled")
		return order, nil
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

// GenerateLabel запрашивает у перевозчика этикетку для отправления заказа.
// Заказ должен быть отгружен, иначе отправления не существует и
// возвращается ErrShipmentNotFound.
func (c *Coordinator) GenerateLabel(ctx context.Context, orderID string) (string, error) {
	shipment, err := c.shipments.GetByOrder(ctx, orderID)
	if err != nil {
		return "", err
	}

	labelURL, trackingNumber, err := c.carrier.CreateLabel(ctx, shipment)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Error("carrier label request failed")
		return "", err
	}
	if trackingNumber != "" && trackingNumber != shipment.TrackingNumber {
		c.logger.WithFields(log.Fields{
			"order_id":         orderID,
			"tracking_number":  shipment.TrackingNumber,
			"carrier_tracking": trackingNumber,
		}).Warn("carrier returned different tracking number")
	}

	c.logger.WithField("order_id", orderID).Info("shipping label generated")
	return labelURL, nil
}

// Shipment возвращает отправление заказа.
func (c *Coordinator) Shipment(ctx context.Context, orderID string) (domain.Shipment, error) {
	return c.shipments.GetByOrder(ctx, orderID)
}

func reservationLines(order *domain.Order) []domain.ReservationLine {
	lines := make([]domain.ReservationLine, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, domain.ReservationLine{ProductID: l.ProductID, Qty: int64(l.Qty)})
	}
	return lines
}

func (c *Coordinator) emitEvent(order *domain.Order, eventType string, kafkaType kafka.EventType, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	if c.outbox != nil {
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}
		if _, err := c.outbox.Enqueue(msg); err != nil {
			c.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("enqueue event failed")
		} else if c.metrics != nil {
			c.metrics.RecordOutboxEvent()
		}
	}

	if c.timeline != nil {
		var reason string
		if r, ok := payload["reason"].(string); ok {
			reason = r
		}
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Occurred: order.UpdatedAt,
		}
		if err := c.timeline.Append(event); err != nil {
			c.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if c.metrics != nil {
			c.metrics.RecordTimelineEvent()
		}
	}

	if c.producer != nil {
		event := kafka.NewOrderEvent(kafkaType, order.ID, order.BuyerID, order.SellerID, string(order.Status), payload)
		if err := c.producer.PublishEvent(kafka.TopicOrderEvents, order.ID, event); err != nil {
			c.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Warn("failed to publish order event to kafka")
		}
	}
}
