package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/service/outbox"
	"github.com/marketbay/fulfillment/internal/storage/memory"
)

type stubPublisher struct {
	published []domain.OutboxMessage
	err       error
}

func (p *stubPublisher) Publish(msg domain.OutboxMessage) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return logger.WithField("test", "outbox")
}

func enqueue(t *testing.T, repo domain.OutboxRepository, eventType string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     eventType,
		Payload:       []byte(`{"order_id":"order-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return msg
}

func TestWorkerPublishesPending(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{}
	enqueue(t, repo, "OrderCreated")
	enqueue(t, repo, "OrderPaid")

	worker := outbox.NewWorker(repo, publisher, outbox.WithLogger(testLogger()))
	worker.ProcessOnce(context.Background())

	if len(publisher.published) != 2 {
		t.Fatalf("expected 2 published messages, got %d", len(publisher.published))
	}
	if pending := repo.AllPending(); len(pending) != 0 {
		t.Fatalf("expected drained outbox, still pending: %d", len(pending))
	}
}

func TestWorkerSecondPassIsNoop(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{}
	enqueue(t, repo, "OrderCreated")

	worker := outbox.NewWorker(repo, publisher, outbox.WithLogger(testLogger()))
	worker.ProcessOnce(context.Background())
	worker.ProcessOnce(context.Background())

	if len(publisher.published) != 1 {
		t.Fatalf("message republished: %d publishes", len(publisher.published))
	}
}

func TestWorkerSendsToDLQAfterRetries(t *testing.T) {
	repo := memory.NewOutboxRepository()
	broken := &stubPublisher{err: errors.New("broker unavailable")}
	dlq := &stubPublisher{}
	msg := enqueue(t, repo, "OrderCreated")

	worker := outbox.NewWorker(repo, broken,
		outbox.WithLogger(testLogger()),
		outbox.WithDLQPublisher(dlq),
		outbox.WithMaxAttempts(2),
		outbox.WithRetryBaseDelay(0),
	)
	worker.ProcessOnce(context.Background())

	if len(dlq.published) != 1 {
		t.Fatalf("expected 1 DLQ message, got %d", len(dlq.published))
	}
	if dlq.published[0].ID != msg.ID || dlq.published[0].EventType != "OrderCreated" {
		t.Fatalf("unexpected DLQ message: %+v", dlq.published[0])
	}
	// Сообщение помечено failed и больше не забирается.
	if pending := repo.AllPending(); len(pending) != 0 {
		t.Fatalf("failed message still pending: %d", len(pending))
	}
}

func TestWorkerKeepsGoingAfterSingleFailure(t *testing.T) {
	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "OrderCreated")
	enqueue(t, repo, "OrderPaid")

	// Падает первый вызов, остальные проходят.
	calls := 0
	publisher := publisherFunc(func(msg domain.OutboxMessage) error {
		calls++
		if calls == 1 {
			return errors.New("transient broker error")
		}
		return nil
	})

	worker := outbox.NewWorker(repo, publisher,
		outbox.WithLogger(testLogger()),
		outbox.WithMaxAttempts(2),
		outbox.WithRetryBaseDelay(0),
	)
	worker.ProcessOnce(context.Background())

	if pending := repo.AllPending(); len(pending) != 0 {
		t.Fatalf("expected both messages handled, still pending: %d", len(pending))
	}
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{}
	enqueue(t, repo, "OrderCreated")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	worker := outbox.NewWorker(repo, publisher,
		outbox.WithLogger(testLogger()),
		outbox.WithPollInterval(10*time.Millisecond),
	)
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}

type publisherFunc func(domain.OutboxMessage) error

func (f publisherFunc) Publish(msg domain.OutboxMessage) error { return f(msg) }
