package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/service/payment"
	"github.com/marketbay/fulfillment/internal/storage/memory"
)

func seedOrder(t *testing.T, repo domain.OrderRepository, status domain.OrderStatus) domain.Order {
	t.Helper()

	now := time.Now().UTC()
	order := domain.Order{
		ID:            "order-1",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Status:        status,
		Currency:      "USD",
		SubtotalMinor: 100,
		TotalMinor:    100,
		Lines: []domain.OrderLine{{
			ID:             "line-1",
			ProductID:      "product-1",
			Qty:            1,
			UnitPriceMinor: 100,
			CreatedAt:      now,
		}},
		Paid:      status != domain.OrderStatusPending && status != domain.OrderStatusCancelled,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := repo.Create(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	return order
}

func newCoordinator(repo domain.OrderRepository, gateway domain.PaymentGateway, outbox domain.OutboxRepository) *payment.Coordinator {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return payment.NewCoordinator(repo, gateway, outbox, memory.NewTimelineRepository(), nil, logger.WithField("test", "payment"))
}

func TestConfirmPendingOrder(t *testing.T) {
	repo := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	gateway := payment.NewMockGateway()
	seedOrder(t, repo, domain.OrderStatusPending)

	coordinator := newCoordinator(repo, gateway, outbox)
	if err := coordinator.Confirm(context.Background(), "order-1"); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	updated, err := repo.Get(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if updated.Status != domain.OrderStatusPaid || !updated.Paid {
		t.Fatalf("expected paid order, got status=%s paid=%v", updated.Status, updated.Paid)
	}
	if gateway.VerifyCalls != 1 {
		t.Fatalf("expected gateway verified once, got %d", gateway.VerifyCalls)
	}

	events := outbox.AllPending()
	if len(events) != 1 || events[0].EventType != "OrderPaid" {
		t.Fatalf("expected one OrderPaid outbox event, got %+v", events)
	}
}

// Повторное подтверждение уже оплаченного заказа — no-op без ошибок
// и без побочных эффектов.
func TestConfirmIdempotent(t *testing.T) {
	repo := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	gateway := payment.NewMockGateway()
	seedOrder(t, repo, domain.OrderStatusPending)

	coordinator := newCoordinator(repo, gateway, outbox)
	ctx := context.Background()

	if err := coordinator.Confirm(ctx, "order-1"); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	if err := coordinator.Confirm(ctx, "order-1"); err != nil {
		t.Fatalf("second confirm must be no-op, got %v", err)
	}

	if gateway.VerifyCalls != 1 {
		t.Fatalf("second confirm must not reach gateway, verify calls=%d", gateway.VerifyCalls)
	}
	if events := outbox.AllPending(); len(events) != 1 {
		t.Fatalf("expected exactly one outbox event, got %d", len(events))
	}
}

func TestConfirmShippedAndDeliveredNoOp(t *testing.T) {
	for _, status := range []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		t.Run(string(status), func(t *testing.T) {
			repo := memory.NewOrderRepository()
			gateway := payment.NewMockGateway()
			seedOrder(t, repo, status)

			coordinator := newCoordinator(repo, gateway, memory.NewOutboxRepository())
			if err := coordinator.Confirm(context.Background(), "order-1"); err != nil {
				t.Fatalf("confirm for %s order must be no-op, got %v", status, err)
			}

			updated, _ := repo.Get(context.Background(), "order-1")
			if updated.Status != status {
				t.Fatalf("status must not change, got %s", updated.Status)
			}
		})
	}
}

func TestConfirmCancelledOrderRejected(t *testing.T) {
	repo := memory.NewOrderRepository()
	gateway := payment.NewMockGateway()
	seedOrder(t, repo, domain.OrderStatusCancelled)

	coordinator := newCoordinator(repo, gateway, memory.NewOutboxRepository())
	err := coordinator.Confirm(context.Background(), "order-1")

	var transitionErr *domain.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if transitionErr.From != domain.OrderStatusCancelled {
		t.Fatalf("unexpected transition error: %+v", transitionErr)
	}
	if gateway.VerifyCalls != 0 {
		t.Fatalf("cancelled order must not reach gateway, verify calls=%d", gateway.VerifyCalls)
	}
}

func TestConfirmUnknownOrder(t *testing.T) {
	coordinator := newCoordinator(memory.NewOrderRepository(), payment.NewMockGateway(), memory.NewOutboxRepository())
	if err := coordinator.Confirm(context.Background(), "ghost"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestConfirmGatewayRejects(t *testing.T) {
	repo := memory.NewOrderRepository()
	gateway := payment.NewMockGateway()
	gateway.VerifyOK = false
	seedOrder(t, repo, domain.OrderStatusPending)

	coordinator := newCoordinator(repo, gateway, memory.NewOutboxRepository())
	if err := coordinator.Confirm(context.Background(), "order-1"); !errors.Is(err, domain.ErrPaymentUnverified) {
		t.Fatalf("expected ErrPaymentUnverified, got %v", err)
	}

	updated, _ := repo.Get(context.Background(), "order-1")
	if updated.Status != domain.OrderStatusPending {
		t.Fatalf("rejected confirmation must not change order, status=%s", updated.Status)
	}
}

func TestConfirmGatewayError(t *testing.T) {
	repo := memory.NewOrderRepository()
	gateway := payment.NewMockGateway()
	gateway.VerifyErr = errors.New("provider timeout")
	seedOrder(t, repo, domain.OrderStatusPending)

	coordinator := newCoordinator(repo, gateway, memory.NewOutboxRepository())
	if err := coordinator.Confirm(context.Background(), "order-1"); err == nil {
		t.Fatal("expected gateway error to propagate")
	}
}
