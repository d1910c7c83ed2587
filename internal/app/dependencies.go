package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/service/carrier"
	"github.com/marketbay/fulfillment/internal/service/catalog"
	"github.com/marketbay/fulfillment/internal/service/payment"
	"github.com/marketbay/fulfillment/internal/storage/memory"
	"github.com/marketbay/fulfillment/internal/storage/postgres"
)

// Dependencies содержит хранилища и внешние адаптеры приложения.
type Dependencies struct {
	Orders      domain.OrderRepository
	Ledger      domain.InventoryLedger
	Shipments   domain.ShipmentRepository
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository

	Catalog domain.Catalog
	Gateway domain.PaymentGateway
	Carrier domain.CarrierAPI

	// Store не nil только для PostgreSQL-хранилища.
	Store  *postgres.Store
	Logger *log.Entry
}

// NewDependencies собирает зависимости по конфигурации: PostgreSQL при
// заданном DSN, иначе in-memory. Каталог, платёжный шлюз и перевозчик
// подключаются mock-реализациями.
// NOTE: В production окружении catalog, gateway и carrier должны быть
// заменены на реальные клиенты внешних сервисов.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Catalog: catalog.NewMockCatalog(),
		Gateway: payment.NewMockGateway(),
		Carrier: carrier.NewMockAPI(),
		Logger:  logger,
	}

	if cfg.PostgresDSN == "" {
		deps.Orders = memory.NewOrderRepository()
		deps.Ledger = memory.NewInventoryLedger()
		deps.Shipments = memory.NewShipmentRepository()
		deps.Outbox = memory.NewOutboxRepository()
		deps.Timeline = memory.NewTimelineRepository()
		deps.Idempotency = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")
		return deps, nil
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}

	deps.Store = store
	deps.Orders = postgres.NewOrderRepository(store)
	deps.Ledger = postgres.NewInventoryLedger(store)
	deps.Shipments = postgres.NewShipmentRepository(store)
	deps.Outbox = postgres.NewOutboxRepository(store)
	deps.Timeline = postgres.NewTimelineRepository(store)
	deps.Idempotency = postgres.NewIdempotencyRepository(store)
	logger.Info("using postgres storage")

	return deps, nil
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() {
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
