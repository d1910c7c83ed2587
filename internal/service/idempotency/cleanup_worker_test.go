package idempotency_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/service/idempotency"
	"github.com/marketbay/fulfillment/internal/storage/memory"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return logger.WithField("test", "idempotency-cleanup")
}

func seedKeys(t *testing.T, repo domain.IdempotencyRepository, count int, ttlAt time.Time) {
	t.Helper()
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("key-%d-%d", ttlAt.UnixNano(), i)
		if _, err := repo.CreateProcessing(key, "hash", ttlAt); err != nil {
			t.Fatalf("seed key %s: %v", key, err)
		}
	}
}

func TestDeleteExpiredDrainsInBatches(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	seedKeys(t, repo, 5, now.Add(-time.Minute))
	seedKeys(t, repo, 2, now.Add(time.Hour))

	worker := idempotency.NewCleanupWorker(repo,
		idempotency.WithLogger(testLogger()),
		idempotency.WithBatchSize(2),
	)

	deleted, err := worker.DeleteExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("expected 5 deleted, got %d", deleted)
	}

	// Живые ключи не тронуты.
	remaining, err := repo.DeleteExpired(now.Add(2*time.Hour), 0)
	if err != nil {
		t.Fatalf("count remaining: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("expected 2 fresh keys to survive, got %d", remaining)
	}
}

func TestDeleteExpiredRespectsContext(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	seedKeys(t, repo, 3, time.Now().UTC().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	worker := idempotency.NewCleanupWorker(repo, idempotency.WithLogger(testLogger()))
	if _, err := worker.DeleteExpired(ctx, time.Now().UTC()); err == nil {
		t.Fatal("expected context error")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	worker := idempotency.NewCleanupWorker(repo,
		idempotency.WithLogger(testLogger()),
		idempotency.WithInterval(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop after context cancel")
	}
}
