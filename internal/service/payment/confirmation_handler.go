package payment

import (
	"context"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/messaging/kafka"
)

// CancelFunc отменяет заказ при отклонённой оплате.
type CancelFunc func(ctx context.Context, orderID, reason string) error

// ConfirmationHandler возвращает обработчик топика подтверждений оплаты.
// success=true подтверждает заказ, success=false отменяет его с
// освобождением резерва. Невосстановимые ошибки (неизвестный заказ,
// недопустимый переход) не ретраятся: сообщение маркируется обработанным.
func ConfirmationHandler(coordinator *Coordinator, cancel CancelFunc, logger *log.Entry) kafka.MessageHandler {
	if logger == nil {
		logger = log.New().WithField("component", "payment-consumer")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		confirmation, err := kafka.ParsePaymentConfirmation(message)
		if err != nil {
			// Битый payload ретраить бесполезно, пусть уходит в DLQ.
			return err
		}

		entry := logger.WithFields(log.Fields{
			"order_id": confirmation.OrderID,
			"success":  confirmation.Success,
		})

		if confirmation.Success {
			err = coordinator.Confirm(ctx, confirmation.OrderID)
		} else if cancel != nil {
			err = cancel(ctx, confirmation.OrderID, "payment rejected by provider")
		}
		if err == nil {
			entry.Debug("payment confirmation processed")
			return nil
		}

		switch {
		case domain.IsInvalidTransition(err):
			// Заказ уже в несовместимом статусе, повтор не поможет.
			entry.WithError(err).Warn("payment confirmation skipped: invalid transition")
			return nil
		default:
			entry.WithError(err).Error("payment confirmation processing failed")
			return err
		}
	}
}
