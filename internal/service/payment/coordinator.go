package payment

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/messaging/kafka"
	"github.com/marketbay/fulfillment/internal/metrics"
)

const (
	maxSaveRetries = 3
	baseRetryDelay = 10 * time.Millisecond
)

// Coordinator обрабатывает подтверждения оплаты от платёжного провайдера.
// Подтверждение идемпотентно: повторное сообщение по уже оплаченному
// заказу завершается успехом без побочных эффектов.
type Coordinator struct {
	orders   domain.OrderRepository
	gateway  domain.PaymentGateway
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	producer *kafka.Producer // опциональный Kafka producer
	metrics  *metrics.LifecycleMetrics
	logger   *log.Entry
}

// NewCoordinator создаёт рабочий экземпляр координатора оплаты.
func NewCoordinator(
	orders domain.OrderRepository,
	gateway domain.PaymentGateway,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	lifecycleMetrics *metrics.LifecycleMetrics,
	logger *log.Entry,
) *Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "payment")
	}
	return &Coordinator{
		orders:   orders,
		gateway:  gateway,
		outbox:   outbox,
		timeline: timeline,
		metrics:  lifecycleMetrics,
		logger:   logger,
	}
}

// WithKafka подключает опциональный Kafka producer для публикации событий.
func (c *Coordinator) WithKafka(producer *kafka.Producer) *Coordinator {
	c.producer = producer
	return c
}

// Confirm переводит заказ pending -> paid по подтверждению {order_id, success}.
// Для уже оплаченного (paid, shipped, delivered) заказа возвращает nil:
// провайдер может прислать подтверждение повторно. Для отменённого заказа
// возвращает InvalidTransitionError, деньги такого заказа подлежат возврату
// на стороне провайдера.
func (c *Coordinator) Confirm(ctx context.Context, orderID string) error {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordOperationDuration("payment_confirm", time.Since(start))
		}
	}()

	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Warn("order not found for payment confirmation")
		return err
	}

	if done, err := c.checkGuard(&order); done || err != nil {
		return err
	}

	// Перепроверяем статус у провайдера, если gateway настроен. Kafka-топик
	// подтверждений не аутентифицирует отправителя, перепроверка закрывает
	// подделанные сообщения.
	if c.gateway != nil {
		ok, verifyErr := c.gateway.VerifyConfirmation(ctx, orderID)
		if verifyErr != nil {
			c.logger.WithError(verifyErr).WithField("order_id", orderID).Error("payment verification failed")
			return verifyErr
		}
		if !ok {
			c.logger.WithField("order_id", orderID).Warn("payment confirmation rejected by gateway")
			return domain.ErrPaymentUnverified
		}
	}

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		now := time.Now().UTC()
		if err := order.MarkPaid(now); err != nil {
			if c.metrics != nil && domain.IsInvalidTransition(err) {
				c.metrics.RecordInvalidTransition()
			}
			return err
		}
		prevVersion := order.Version

		if err := c.orders.Save(ctx, order); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxSaveRetries-1 {
				c.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"attempt":  attempt + 1,
				}).Warn("version conflict on payment confirmation, retrying")

				fresh, loadErr := c.orders.Get(ctx, order.ID)
				if loadErr != nil {
					return loadErr
				}
				order = fresh

				// Конкурент мог успеть оплатить или отменить заказ,
				// перепроверяем guard на свежей версии.
				if done, guardErr := c.checkGuard(&order); done || guardErr != nil {
					return guardErr
				}

				time.Sleep(baseRetryDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			c.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist paid order")
			return err
		}

		order.Version = prevVersion + 1
		c.emitPaid(&order)
		if c.metrics != nil {
			c.metrics.RecordOrderPaid()
		}
		c.logger.WithField("order_id", order.ID).Info("order paid")
		return nil
	}

	return domain.ErrOrderVersionConflict
}

// checkGuard возвращает done=true, если подтверждение по текущему статусу
// заказа уже не требуется. Ошибка означает недопустимый переход.
func (c *Coordinator) checkGuard(order *domain.Order) (bool, error) {
	switch order.Status {
	case domain.OrderStatusPending:
		return false, nil
	case domain.OrderStatusCancelled:
		if c.metrics != nil {
			c.metrics.RecordInvalidTransition()
		}
		c.logger.WithField("order_id", order.ID).Warn("payment confirmation for cancelled order")
		return false, &domain.InvalidTransitionError{From: order.Status, To: domain.OrderStatusPaid}
	default:
		// paid, shipped, delivered: оплата уже зафиксирована.
		c.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"status":   order.Status,
		}).Debug("payment already confirmed, skipping")
		return true, nil
	}
}

func (c *Coordinator) emitPaid(order *domain.Order) {
	payload := map[string]interface{}{
		"order_id":    order.ID,
		"total_minor": order.TotalMinor,
		"currency":    order.Currency,
		"ts":          order.UpdatedAt.Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Error("marshal paid event failed")
		return
	}

	if c.outbox != nil {
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     "OrderPaid",
			Payload:       data,
		}
		if _, err := c.outbox.Enqueue(msg); err != nil {
			c.logger.WithError(err).WithField("order_id", order.ID).Error("enqueue paid event failed")
		} else if c.metrics != nil {
			c.metrics.RecordOutboxEvent()
		}
	}

	if c.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     "OrderPaid",
			Occurred: order.UpdatedAt,
		}
		if err := c.timeline.Append(event); err != nil {
			c.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
		} else if c.metrics != nil {
			c.metrics.RecordTimelineEvent()
		}
	}

	if c.producer != nil {
		event := kafka.NewOrderEvent(kafka.EventTypeOrderPaid, order.ID, order.BuyerID, order.SellerID, string(order.Status), map[string]interface{}{
			"total_minor": order.TotalMinor,
			"currency":    order.Currency,
		})
		if err := c.producer.PublishEvent(kafka.TopicOrderEvents, order.ID, event); err != nil {
			// Kafka опциональный, жизненный цикл заказа от него не зависит.
			c.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to publish paid event to kafka")
		}
	}
}
