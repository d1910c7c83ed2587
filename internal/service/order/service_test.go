package order_test

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/service/auth"
	"github.com/marketbay/fulfillment/internal/service/carrier"
	"github.com/marketbay/fulfillment/internal/service/catalog"
	"github.com/marketbay/fulfillment/internal/service/fulfillment"
	"github.com/marketbay/fulfillment/internal/service/order"
	"github.com/marketbay/fulfillment/internal/service/payment"
	"github.com/marketbay/fulfillment/internal/storage/memory"
)

type env struct {
	orders  domain.OrderRepository
	ledger  domain.InventoryLedger
	catalog *catalog.MockCatalog
	gateway *payment.MockGateway
	outbox  interface {
		domain.OutboxRepository
		AllPending() []domain.OutboxMessage
	}
	service *order.Service
}

func newEnv(t *testing.T, authorizer domain.Authorizer) *env {
	t.Helper()

	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	entry := logger.WithField("test", "order_service")

	e := &env{
		orders:  memory.NewOrderRepository(),
		ledger:  memory.NewInventoryLedger(),
		catalog: catalog.NewMockCatalog(),
		gateway: payment.NewMockGateway(),
		outbox:  memory.NewOutboxRepository(),
	}
	timeline := memory.NewTimelineRepository()
	shipments := memory.NewShipmentRepository()

	payments := payment.NewCoordinator(e.orders, e.gateway, e.outbox, timeline, nil, entry)
	fulfillmentCoordinator := fulfillment.NewCoordinator(e.orders, shipments, e.ledger, carrier.NewMockAPI(), e.outbox, timeline, nil, entry)

	e.service = order.NewService(
		e.orders,
		e.ledger,
		e.catalog,
		payments,
		fulfillmentCoordinator,
		authorizer,
		e.outbox,
		timeline,
		nil,
		entry,
	)
	return e
}

func (e *env) seedStock(t *testing.T, productID string, quantity int64) {
	t.Helper()
	if _, err := e.ledger.Put(context.Background(), domain.Stock{ProductID: productID, Quantity: quantity}); err != nil {
		t.Fatalf("put stock: %v", err)
	}
}

func snapshot() domain.CartSnapshot {
	return domain.CartSnapshot{
		BuyerID:  "buyer-1",
		SellerID: "seller-1",
		Currency: "USD",
		Lines: []domain.CartLine{
			{ProductID: "product-1", Qty: 2, UnitPriceMinor: 1500, ProductName: "Чайник"},
			{ProductID: "product-2", Qty: 1, UnitPriceMinor: 500, ProductName: "Кружка"},
		},
		DiscountMinor:     300,
		ShippingMinor:     200,
		TaxMinor:          100,
		PaymentMethod:     "card",
		ShippingAddressID: "addr-1",
	}
}


func TestCreateOrderFreezesTotals(t *testing.T) {
	e := newEnv(t, auth.AllowAll{})
	e.seedStock(t, "product-1", 10)
	e.seedStock(t, "product-2", 10)

	created, err := e.service.CreateOrder(context.Background(), snapshot())
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if created.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", created.Status)
	}
	// 2*1500 + 1*500 = 3500; 3500 - 300 + 200 + 100 = 3500.
	if created.SubtotalMinor != 3500 {
		t.Fatalf("expected subtotal 3500, got %d", created.SubtotalMinor)
	}
	if created.TotalMinor != 3500 {
		t.Fatalf("expected total 3500, got %d", created.TotalMinor)
	}
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}
	if created.PaymentMethod != "card" || created.ShippingAddressID != "addr-1" {
		t.Fatalf("checkout details lost: method=%q address=%q", created.PaymentMethod, created.ShippingAddressID)
	}

	// Резерв удержан по каждой позиции.
	stock1, _ := e.ledger.Get(context.Background(), "product-1")
	stock2, _ := e.ledger.Get(context.Background(), "product-2")
	if stock1.Reserved != 2 || stock2.Reserved != 1 {
		t.Fatalf("unexpected reserves: product-1=%d product-2=%d", stock1.Reserved, stock2.Reserved)
	}

	events := e.outbox.AllPending()
	if len(events) != 1 || events[0].EventType != "OrderCreated" {
		t.Fatalf("expected OrderCreated outbox event, got %+v", events)
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	e := newEnv(t, auth.AllowAll{})
	e.seedStock(t, "product-1", 10)
	e.seedStock(t, "product-2", 0)

	_, err := e.service.CreateOrder(context.Background(), snapshot())
	var insufficientErr *domain.InsufficientStockError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	// Всё-или-ничего: резерв первой позиции не утёк.
	stock1, _ := e.ledger.Get(context.Background(), "product-1")
	if stock1.Reserved != 0 {
		t.Fatalf("partial reserve leaked, reserved=%d", stock1.Reserved)
	}
	if events := e.outbox.AllPending(); len(events) != 0 {
		t.Fatalf("rejected order must not emit events, got %+v", events)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	e := newEnv(t, auth.AllowAll{})

	bad := snapshot()
	bad.BuyerID = ""
	bad.Lines = nil
	if _, err := e.service.CreateOrder(context.Background(), bad); err == nil {
		t.Fatal("expected validation error")
	}
}

// Позиции без цены обогащаются из каталога в момент снимка.
func TestCreateOrderEnrichesFromCatalog(t *testing.T) {
	e := newEnv(t, auth.AllowAll{})
	e.seedStock(t, "product-1", 10)
	e.catalog.Add(domain.CatalogProduct{
		ProductID:      "product-1",
		Name:           "Чайник",
		Image:          "https://cdn.example.com/product-1.jpg",
		UnitPriceMinor: 2500,
	})

	created, err := e.service.CreateOrder(context.Background(), domain.CartSnapshot{
		BuyerID:  "buyer-1",
		SellerID: "seller-1",
		Currency: "USD",
		Lines:    []domain.CartLine{{ProductID: "product-1", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	line := created.Lines[0]
	if line.UnitPriceMinor != 2500 || line.ProductName != "Чайник" || line.ProductImage == "" {
		t.Fatalf("line not enriched from catalog: %+v", line)
	}
	if created.SubtotalMinor != 5000 || created.TotalMinor != 5000 {
		t.Fatalf("unexpected totals: subtotal=%d total=%d", created.SubtotalMinor, created.TotalMinor)
	}
}

func TestCreateOrderUnknownCatalogProduct(t *testing.T) {
	e := newEnv(t, auth.AllowAll{})
	e.seedStock(t, "product-1", 10)

	_, err := e.service.CreateOrder(context.Background(), domain.CartSnapshot{
		BuyerID:  "buyer-1",
		SellerID: "seller-1",
		Currency: "USD",
		Lines:    []domain.CartLine{{ProductID: "product-1", Qty: 1}},
	})
	if !errors.Is(err, domain.ErrStockNotFound) {
		t.Fatalf("expected ErrStockNotFound from catalog, got %v", err)
	}
}

// Полный жизненный цикл через фасад: create -> confirm -> ship -> deliver.
func TestOrderLifecycleThroughService(t *testing.T) {
	e := newEnv(t, auth.AllowAll{})
	e.seedStock(t, "product-1", 10)
	e.seedStock(t, "product-2", 10)
	ctx := context.Background()
	seller := domain.Actor{ID: "seller-1", Role: domain.RoleSeller}

	created, err := e.service.CreateOrder(ctx, snapshot())
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if err := e.service.ConfirmPayment(ctx, created.ID); err != nil {
		t.Fatalf("confirm payment failed: %v", err)
	}

	shipment, err := e.service.ShipOrder(ctx, seller, created.ID, fulfillment.ShipmentInput{
		Carrier:        "ups",
		TrackingNumber: "1Z999",
	})
	if err != nil {
		t.Fatalf("ship order failed: %v", err)
	}
	if shipment.OrderID != created.ID {
		t.Fatalf("unexpected shipment: %+v", shipment)
	}

	delivered, err := e.service.DeliverOrder(ctx, seller, created.ID)
	if err != nil {
		t.Fatalf("deliver order failed: %v", err)
	}
	if delivered.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", delivered.Status)
	}

	// Товар списан со склада.
	stock1, _ := e.ledger.Get(ctx, "product-1")
	if stock1.Quantity != 8 || stock1.Reserved != 0 {
		t.Fatalf("expected quantity=8 reserved=0, got quantity=%d reserved=%d", stock1.Quantity, stock1.Reserved)
	}

	timeline, err := e.service.Timeline(ctx, created.ID)
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if len(timeline) != 4 {
		t.Fatalf("expected 4 timeline events, got %d", len(timeline))
	}
}

func TestCancelOrderAuthorization(t *testing.T) {
	e := newEnv(t, auth.NewRolePolicy())
	e.seedStock(t, "product-1", 10)
	e.seedStock(t, "product-2", 10)
	ctx := context.Background()

	created, err := e.service.CreateOrder(ctx, snapshot())
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	// Чужой покупатель не может отменить заказ.
	stranger := domain.Actor{ID: "buyer-999", Role: domain.RoleBuyer}
	if _, err := e.service.CancelOrder(ctx, stranger, created.ID, "not mine"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// Владелец — может.
	owner := domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}
	cancelled, err := e.service.CancelOrder(ctx, owner, created.ID, "changed mind")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// Резерв освобождён.
	stock1, _ := e.ledger.Get(ctx, "product-1")
	if stock1.Reserved != 0 {
		t.Fatalf("expected reserve released, reserved=%d", stock1.Reserved)
	}
}

func TestShipOrderAuthorization(t *testing.T) {
	e := newEnv(t, auth.NewRolePolicy())
	e.seedStock(t, "product-1", 10)
	e.seedStock(t, "product-2", 10)
	ctx := context.Background()

	created, err := e.service.CreateOrder(ctx, snapshot())
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if err := e.service.ConfirmPayment(ctx, created.ID); err != nil {
		t.Fatalf("confirm payment failed: %v", err)
	}

	// Покупатель не отгружает заказы.
	buyer := domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}
	if _, err := e.service.ShipOrder(ctx, buyer, created.ID, fulfillment.ShipmentInput{Carrier: "ups", TrackingNumber: "1Z"}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// Чужой продавец тоже.
	otherSeller := domain.Actor{ID: "seller-999", Role: domain.RoleSeller}
	if _, err := e.service.ShipOrder(ctx, otherSeller, created.ID, fulfillment.ShipmentInput{Carrier: "ups", TrackingNumber: "1Z"}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestPutStockAuthorization(t *testing.T) {
	e := newEnv(t, auth.NewRolePolicy())
	ctx := context.Background()

	buyer := domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}
	if _, err := e.service.PutStock(ctx, buyer, domain.Stock{ProductID: "product-1", Quantity: 5}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	seller := domain.Actor{ID: "seller-1", Role: domain.RoleSeller}
	stock, err := e.service.PutStock(ctx, seller, domain.Stock{ProductID: "product-1", Quantity: 5})
	if err != nil {
		t.Fatalf("put stock failed: %v", err)
	}
	if stock.Quantity != 5 {
		t.Fatalf("unexpected stock: %+v", stock)
	}
}
