package order

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
	"github.com/marketbay/fulfillment/internal/service/fulfillment"
	"github.com/marketbay/fulfillment/internal/service/payment"
)

// Service — фасад жизненного цикла заказа. Создание заказа и чтение
// обслуживает сам, переходы делегирует координаторам оплаты и фулфилмента,
// авторизацию операций — внешней ролевой модели.
type Service struct {
	orders      domain.OrderRepository
	ledger      domain.InventoryLedger
	catalog     domain.Catalog
	payments    *payment.Coordinator
	fulfillment *fulfillment.Coordinator
	authorizer  domain.Authorizer
	outbox      domain.OutboxRepository
	timeline    domain.TimelineRepository
	producer    *kafka.Producer // опциональный Kafka producer
	metrics     *metrics.LifecycleMetrics
	logger      *log.Entry
}

// NewService создаёт рабочий экземпляр сервиса заказов.
func NewService(
	orders domain.OrderRepository,
	ledger domain.InventoryLedger,
	catalog domain.Catalog,
	payments *payment.Coordinator,
	fulfillmentCoordinator *fulfillment.Coordinator,
	authorizer domain.Authorizer,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	lifecycleMetrics *metrics.LifecycleMetrics,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "order_service")
	}
	return &Service{
		orders:      orders,
		ledger:      ledger,
		catalog:     catalog,
		payments:    payments,
		fulfillment: fulfillmentCoordinator,
		authorizer:  authorizer,
		outbox:      outbox,
		timeline:    timeline,
		metrics:     lifecycleMetrics,
		logger:      logger,
	}
}

// WithKafka подключает опциональный Kafka producer для публикации событий.
func (s *Service) WithKafka(producer *kafka.Producer) *Service {
	s.producer = producer
	return s
}

// CreateOrder превращает снимок корзины в заказ: резервирует все позиции
// по принципу всё-или-ничего, замораживает суммы и сохраняет заказ в
// статусе pending. При нехватке любого товара заказ не создаётся и
// ни одна позиция не остаётся удержанной.
func (s *Service) CreateOrder(ctx context.Context, snapshot domain.CartSnapshot) (domain.Order, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordOperationDuration("create_order", time.Since(start))
		}
	}()

	if errs := snapshot.Validate(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	if err := s.enrichFromCatalog(ctx, &snapshot); err != nil {
		return domain.Order{}, err
	}

	lines := make([]domain.ReservationLine, 0, len(snapshot.Lines))
	for _, l := range snapshot.Lines {
		lines = append(lines, domain.ReservationLine{ProductID: l.ProductID, Qty: int64(l.Qty)})
	}
	if err := s.ledger.ReserveLines(ctx, lines); err != nil {
		if s.metrics != nil && domain.IsInsufficientStock(err) {
			s.metrics.RecordReserveRejected()
		}
		s.logger.WithError(err).WithField("buyer_id", snapshot.BuyerID).Info("reservation rejected")
		return domain.Order{}, err
	}

	now := time.Now().UTC()
	order := buildOrder(&snapshot, now)

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		s.releaseLines(ctx, lines, order.ID)
		return domain.Order{}, errors.Join(errs...)
	}

	if err := s.orders.Create(ctx, order); err != nil {
		// Компенсация: без записи заказа удержание резерва незаконно.
		s.releaseLines(ctx, lines, order.ID)
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to persist order")
		return domain.Order{}, err
	}

	s.emitCreated(&order)
	if s.metrics != nil {
		s.metrics.RecordOrderCreated()
	}
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"buyer_id":    order.BuyerID,
		"total_minor": order.TotalMinor,
	}).Info("order created")
	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.orders.Get(ctx, orderID)
}

// ListByBuyer возвращает заказы покупателя, новые первыми.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	return s.orders.ListByBuyer(ctx, buyerID, limit)
}

// ListBySeller возвращает заказы продавца, новые первыми.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]domain.Order, error) {
	return s.orders.ListBySeller(ctx, sellerID, limit)
}

// Timeline возвращает события жизненного цикла заказа.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(orderID)
}

// ConfirmPayment обрабатывает подтверждение оплаты. Идемпотентно.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) error {
	return s.payments.Confirm(ctx, orderID)
}

// CancelOrder отменяет заказ от имени actor и освобождает резерв.
func (s *Service) CancelOrder(ctx context.Context, actor domain.Actor, orderID, reason string) (domain.Order, error) {
	if err := s.authorize(ctx, actor, domain.ActionCancelOrder, orderID); err != nil {
		return domain.Order{}, err
	}
	return s.fulfillment.Cancel(ctx, orderID, reason)
}

// ShipOrder отгружает заказ от имени actor.
func (s *Service) ShipOrder(ctx context.Context, actor domain.Actor, orderID string, in fulfillment.ShipmentInput) (domain.Shipment, error) {
	if err := s.authorize(ctx, actor, domain.ActionShipOrder, orderID); err != nil {
		return domain.Shipment{}, err
	}
	return s.fulfillment.Ship(ctx, orderID, in)
}

// DeliverOrder подтверждает доставку заказа от имени actor.
func (s *Service) DeliverOrder(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	if err := s.authorize(ctx, actor, domain.ActionDeliverOrder, orderID); err != nil {
		return domain.Order{}, err
	}
	return s.fulfillment.Deliver(ctx, orderID)
}

// GenerateLabel запрашивает этикетку перевозчика для отправления заказа.
func (s *Service) GenerateLabel(ctx context.Context, actor domain.Actor, orderID string) (string, error) {
	if err := s.authorize(ctx, actor, domain.ActionLabelOrder, orderID); err != nil {
		return "", err
	}
	return s.fulfillment.GenerateLabel(ctx, orderID)
}

// GetShipment возвращает отправление заказа.
func (s *Service) GetShipment(ctx context.Context, orderID string) (domain.Shipment, error) {
	return s.fulfillment.Shipment(ctx, orderID)
}

// GetStock возвращает складскую запись товара.
func (s *Service) GetStock(ctx context.Context, productID string) (domain.Stock, error) {
	return s.ledger.Get(ctx, productID)
}

// ListStock возвращает складские записи.
func (s *Service) ListStock(ctx context.Context, limit int) ([]domain.Stock, error) {
	return s.ledger.List(ctx, limit)
}

// PutStock создаёт или обновляет складскую запись из кабинета продавца.
func (s *Service) PutStock(ctx context.Context, actor domain.Actor, stock domain.Stock) (domain.Stock, error) {
	if s.authorizer != nil && !s.authorizer.Can(actor, domain.ActionManageStock, domain.Order{}) {
		return domain.Stock{}, domain.ErrUnauthorized
	}
	return s.ledger.Put(ctx, stock)
}

// authorize загружает заказ и проверяет право actor на операцию.
func (s *Service) authorize(ctx context.Context, actor domain.Actor, action domain.Action, orderID string) error {
	if s.authorizer == nil {
		return nil
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !s.authorizer.Can(actor, action, order) {
		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"actor_id": actor.ID,
			"role":     actor.Role,
			"action":   action,
		}).Warn("operation denied by policy")
		return domain.ErrUnauthorized
	}
	return nil
}

// enrichFromCatalog снимает цену и витринные поля с каталога для позиций,
// у которых они не заданы. Уже заполненные позиции не трогаются: снимок
// корзины первичен.
func (s *Service) enrichFromCatalog(ctx context.Context, snapshot *domain.CartSnapshot) error {
	if s.catalog == nil {
		return nil
	}
	for i := range snapshot.Lines {
		line := &snapshot.Lines[i]
		if line.UnitPriceMinor > 0 && line.ProductName != "" {
			continue
		}
		product, err := s.catalog.Product(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if line.UnitPriceMinor == 0 {
			line.UnitPriceMinor = product.UnitPriceMinor
		}
		if line.ProductName == "" {
			line.ProductName = product.Name
		}
		if line.ProductImage == "" {
			line.ProductImage = product.Image
		}
	}
	return nil
}

func (s *Service) releaseLines(ctx context.Context, lines []domain.ReservationLine, orderID string) {
	if err := s.ledger.ReleaseLines(ctx, lines); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("failed to release reservation")
	}
}

// buildOrder собирает заказ с замороженными суммами из снимка корзины.
func buildOrder(snapshot *domain.CartSnapshot, now time.Time) domain.Order {
	orderID := uuid.NewString()
	lines := make([]domain.OrderLine, 0, len(snapshot.Lines))
	for _, l := range snapshot.Lines {
		lines = append(lines, domain.OrderLine{
			ID:             uuid.NewString(),
			ProductID:      l.ProductID,
			Variant:        l.Variant,
			Qty:            l.Qty,
			UnitPriceMinor: l.UnitPriceMinor,
			ProductName:    l.ProductName,
			ProductImage:   l.ProductImage,
			CreatedAt:      now,
		})
	}

	subtotal := snapshot.SubtotalMinor()
	return domain.Order{
		ID:                orderID,
		BuyerID:           snapshot.BuyerID,
		SellerID:          snapshot.SellerID,
		Status:            domain.OrderStatusPending,
		Currency:          snapshot.Currency,
		Lines:             lines,
		SubtotalMinor:     subtotal,
		DiscountMinor:     snapshot.DiscountMinor,
		ShippingMinor:     snapshot.ShippingMinor,
		TaxMinor:          snapshot.TaxMinor,
		TotalMinor:        subtotal - snapshot.DiscountMinor + snapshot.ShippingMinor + snapshot.TaxMinor,
		PaymentMethod:     snapshot.PaymentMethod,
		ShippingAddressID: snapshot.ShippingAddressID,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (s *Service) emitCreated(order *domain.Order) {
	payload := map[string]interface{}{
		"order_id":    order.ID,
		"buyer_id":    order.BuyerID,
		"seller_id":   order.SellerID,
		"total_minor": order.TotalMinor,
		"currency":    order.Currency,
		"ts":          order.CreatedAt.Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("marshal created event failed")
		return
	}

	if s.outbox != nil {
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     "OrderCreated",
			Payload:       data,
		}
		if _, err := s.outbox.Enqueue(msg); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Error("enqueue created event failed")
		} else if s.metrics != nil {
			s.metrics.RecordOutboxEvent()
		}
	}

	if s.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     "OrderCreated",
			Occurred: order.CreatedAt,
		}
		if err := s.timeline.Append(event); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
		} else if s.metrics != nil {
			s.metrics.RecordTimelineEvent()
		}
	}

	if s.producer != nil {
		event := kafka.NewOrderEvent(kafka.EventTypeOrderCreated, order.ID, order.BuyerID, order.SellerID, string(order.Status), nil)
		if err := s.producer.PublishEvent(kafka.TopicOrderEvents, order.ID, event); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to publish created event to kafka")
		}
		reserved := kafka.NewOrderEvent(kafka.EventTypeStockReserved, order.ID, order.BuyerID, order.SellerID, string(order.Status), map[string]interface{}{
			"lines_count": len(order.Lines),
		})
		if err := s.producer.PublishEvent(kafka.TopicStockEvents, order.ID, reserved); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to publish stock event to kafka")
		}
	}
}
