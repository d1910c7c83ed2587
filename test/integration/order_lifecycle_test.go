package integration

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/service/auth"
	"github.com/marketbay/fulfillment/internal/service/carrier"
	"github.com/marketbay/fulfillment/internal/service/catalog"
	"github.com/marketbay/fulfillment/internal/service/fulfillment"
	"github.com/marketbay/fulfillment/internal/service/order"
	"github.com/marketbay/fulfillment/internal/service/payment"
	"github.com/marketbay/fulfillment/internal/storage/memory"
)

// OrderLifecycleTestSuite тестирует полный жизненный цикл заказа
// через фасад сервиса: create -> confirm -> ship -> deliver и ветку отмены.
type OrderLifecycleTestSuite struct {
	suite.Suite
	service  *order.Service
	orders   domain.OrderRepository
	ledger   domain.InventoryLedger
	timeline domain.TimelineRepository
	gateway  *payment.MockGateway
	carrier  *carrier.MockAPI
}

func (suite *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	suite.orders = memory.NewOrderRepository()
	suite.ledger = memory.NewInventoryLedger()
	suite.timeline = memory.NewTimelineRepository()
	shipments := memory.NewShipmentRepository()
	outbox := memory.NewOutboxRepository()

	suite.gateway = payment.NewMockGateway()
	suite.carrier = carrier.NewMockAPI()

	payments := payment.NewCoordinator(suite.orders, suite.gateway, outbox, suite.timeline, nil, logger)
	fulfillmentCoordinator := fulfillment.NewCoordinator(
		suite.orders,
		shipments,
		suite.ledger,
		suite.carrier,
		outbox,
		suite.timeline,
		nil,
		logger,
	)

	suite.service = order.NewService(
		suite.orders,
		suite.ledger,
		catalog.NewMockCatalog(),
		payments,
		fulfillmentCoordinator,
		auth.NewRolePolicy(),
		outbox,
		suite.timeline,
		nil,
		logger,
	)

	suite.seedStock("laptop-pro", 5)
	suite.seedStock("mouse-wireless", 10)
}

func (suite *OrderLifecycleTestSuite) seedStock(productID string, quantity int64) {
	_, err := suite.ledger.Put(context.Background(), domain.Stock{ProductID: productID, Quantity: quantity})
	require.NoError(suite.T(), err)
}

func (suite *OrderLifecycleTestSuite) stock(productID string) domain.Stock {
	stock, err := suite.ledger.Get(context.Background(), productID)
	require.NoError(suite.T(), err)
	return stock
}

func (suite *OrderLifecycleTestSuite) createOrder(ctx context.Context) domain.Order {
	created, err := suite.service.CreateOrder(ctx, domain.CartSnapshot{
		BuyerID:  "buyer-123",
		SellerID: "seller-7",
		Currency: "USD",
		Lines: []domain.CartLine{
			{ProductID: "laptop-pro", Qty: 1, UnitPriceMinor: 199900, ProductName: "Ноутбук"},
			{ProductID: "mouse-wireless", Qty: 2, UnitPriceMinor: 4900, ProductName: "Мышь"},
		},
		ShippingMinor: 1500,
	})
	require.NoError(suite.T(), err)
	return created
}

func (suite *OrderLifecycleTestSuite) TestSuccessfulOrderLifecycle() {
	ctx := context.Background()
	seller := domain.Actor{ID: "seller-7", Role: domain.RoleSeller}

	// 1. Создаём заказ: резерв удержан, суммы заморожены
	created := suite.createOrder(ctx)
	require.Equal(suite.T(), domain.OrderStatusPending, created.Status)
	require.EqualValues(suite.T(), 209700, created.SubtotalMinor)
	require.EqualValues(suite.T(), 211200, created.TotalMinor)
	require.EqualValues(suite.T(), 1, suite.stock("laptop-pro").Reserved)
	require.EqualValues(suite.T(), 2, suite.stock("mouse-wireless").Reserved)

	// 2. Подтверждаем оплату
	require.NoError(suite.T(), suite.service.ConfirmPayment(ctx, created.ID))
	paid, err := suite.service.GetOrder(ctx, created.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPaid, paid.Status)
	require.True(suite.T(), paid.Paid)

	// 3. Отгружаем: резерв сохраняется до подтверждения доставки
	shipment, err := suite.service.ShipOrder(ctx, seller, created.ID, fulfillment.ShipmentInput{
		Carrier:        "ups",
		TrackingNumber: "1Z999AA10123456784",
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), created.ID, shipment.OrderID)
	require.EqualValues(suite.T(), 1, suite.stock("laptop-pro").Reserved)

	// 4. Доставка: товар списан со склада, резерв снят
	delivered, err := suite.service.DeliverOrder(ctx, seller, created.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusDelivered, delivered.Status)
	require.NotNil(suite.T(), delivered.DeliveredAt)

	laptop := suite.stock("laptop-pro")
	require.EqualValues(suite.T(), 4, laptop.Quantity)
	require.EqualValues(suite.T(), 0, laptop.Reserved)
	mouse := suite.stock("mouse-wireless")
	require.EqualValues(suite.T(), 8, mouse.Quantity)
	require.EqualValues(suite.T(), 0, mouse.Reserved)

	// 5. Полная история жизненного цикла
	events, err := suite.service.Timeline(ctx, created.ID)
	require.NoError(suite.T(), err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	require.Equal(suite.T(), []string{"OrderCreated", "OrderPaid", "OrderShipped", "OrderDelivered"}, types)
}

func (suite *OrderLifecycleTestSuite) TestCancellationReleasesReserve() {
	ctx := context.Background()
	buyer := domain.Actor{ID: "buyer-123", Role: domain.RoleBuyer}

	created := suite.createOrder(ctx)
	require.EqualValues(suite.T(), 1, suite.stock("laptop-pro").Reserved)

	// Пока резерв удержан, на все пять ноутбуков остатка не хватает
	bigCart := domain.CartSnapshot{
		BuyerID:  "buyer-456",
		SellerID: "seller-7",
		Currency: "USD",
		Lines: []domain.CartLine{
			{ProductID: "laptop-pro", Qty: 5, UnitPriceMinor: 199900, ProductName: "Ноутбук"},
		},
	}
	_, err := suite.service.CreateOrder(ctx, bigCart)
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(suite.T(), err, &stockErr)

	cancelled, err := suite.service.CancelOrder(ctx, buyer, created.ID, "передумал")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusCancelled, cancelled.Status)
	require.Equal(suite.T(), "передумал", cancelled.CancelReason)

	// Резерв освобождён, товар остался на складе
	laptop := suite.stock("laptop-pro")
	require.EqualValues(suite.T(), 5, laptop.Quantity)
	require.EqualValues(suite.T(), 0, laptop.Reserved)

	// После отмены тот же заказ проходит
	retried, err := suite.service.CreateOrder(ctx, bigCart)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPending, retried.Status)
	require.EqualValues(suite.T(), 5, suite.stock("laptop-pro").Reserved)

	// Повторная отмена идемпотентна и не трогает причину
	again, err := suite.service.CancelOrder(ctx, buyer, created.ID, "другая причина")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "передумал", again.CancelReason)
}

func (suite *OrderLifecycleTestSuite) TestCancelAfterShipRejected() {
	ctx := context.Background()
	seller := domain.Actor{ID: "seller-7", Role: domain.RoleSeller}
	buyer := domain.Actor{ID: "buyer-123", Role: domain.RoleBuyer}

	created := suite.createOrder(ctx)
	require.NoError(suite.T(), suite.service.ConfirmPayment(ctx, created.ID))
	_, err := suite.service.ShipOrder(ctx, seller, created.ID, fulfillment.ShipmentInput{
		Carrier:        "dhl",
		TrackingNumber: "JD014600003RU",
	})
	require.NoError(suite.T(), err)

	_, err = suite.service.CancelOrder(ctx, buyer, created.ID, "слишком поздно")
	require.ErrorIs(suite.T(), err, domain.ErrCannotCancelShipped)

	// Заказ остался shipped, резерв не тронут
	current, err := suite.service.GetOrder(ctx, created.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusShipped, current.Status)
	require.EqualValues(suite.T(), 1, suite.stock("laptop-pro").Reserved)
}

func (suite *OrderLifecycleTestSuite) TestPaymentConfirmIsIdempotent() {
	ctx := context.Background()

	created := suite.createOrder(ctx)
	require.NoError(suite.T(), suite.service.ConfirmPayment(ctx, created.ID))
	require.NoError(suite.T(), suite.service.ConfirmPayment(ctx, created.ID))

	paid, err := suite.service.GetOrder(ctx, created.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPaid, paid.Status)

	// Повторное подтверждение не добавляет событий
	events, err := suite.service.Timeline(ctx, created.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), events, 2)
}

func (suite *OrderLifecycleTestSuite) TestOversellRejected() {
	ctx := context.Background()

	_, err := suite.service.CreateOrder(ctx, domain.CartSnapshot{
		BuyerID:  "buyer-123",
		SellerID: "seller-7",
		Currency: "USD",
		Lines: []domain.CartLine{
			{ProductID: "laptop-pro", Qty: 6, UnitPriceMinor: 199900, ProductName: "Ноутбук"},
		},
	})

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(suite.T(), err, &stockErr)
	require.Equal(suite.T(), "laptop-pro", stockErr.ProductID)
	require.EqualValues(suite.T(), 6, stockErr.Requested)
	require.EqualValues(suite.T(), 5, stockErr.Available)
	require.EqualValues(suite.T(), 0, suite.stock("laptop-pro").Reserved)
}

func TestOrderLifecycle(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
