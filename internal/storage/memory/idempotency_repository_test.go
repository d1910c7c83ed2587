package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/marketbay/fulfillment/internal/domain"
	"github.com/marketbay/fulfillment/internal/storage/memory"
)

func TestIdempotencyRepositoryCreateProcessing(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	record, err := repo.CreateProcessing("key-1", "hash-1", ttl)
	if err != nil {
		t.Fatalf("create processing failed: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing status, got %s", record.Status)
	}

	// Тот же ключ с тем же хэшем — повтор запроса.
	existing, err := repo.CreateProcessing("key-1", "hash-1", ttl)
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if existing.Key != "key-1" {
		t.Fatalf("expected existing record, got %+v", existing)
	}

	// Тот же ключ с другим хэшем — конфликт использования.
	if _, err := repo.CreateProcessing("key-1", "hash-2", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}
}

func TestIdempotencyRepositoryValidation(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	if _, err := repo.CreateProcessing("  ", "hash", ttl); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := repo.CreateProcessing("key", "  ", ttl); !errors.Is(err, domain.ErrIdempotencyRequestHashRequired) {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
	if _, err := repo.Get("ghost"); !errors.Is(err, domain.ErrIdempotencyNotFound) {
		t.Fatalf("expected ErrIdempotencyNotFound, got %v", err)
	}
}

func TestIdempotencyRepositoryMarkDoneAndReplay(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	if _, err := repo.CreateProcessing("key-1", "hash-1", ttl); err != nil {
		t.Fatalf("create processing failed: %v", err)
	}
	if err := repo.MarkDone("key-1", []byte(`{"id":"order-1"}`), 201); err != nil {
		t.Fatalf("mark done failed: %v", err)
	}

	record, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Status != domain.IdempotencyStatusDone || record.HTTPStatus != 201 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if string(record.ResponseBody) != `{"id":"order-1"}` {
		t.Fatalf("unexpected response body: %s", record.ResponseBody)
	}

	if err := repo.MarkFailed("ghost", nil, 500); !errors.Is(err, domain.ErrIdempotencyNotFound) {
		t.Fatalf("expected ErrIdempotencyNotFound, got %v", err)
	}
}

// Просроченный ключ перезанимается новым запросом.
func TestIdempotencyRepositoryExpiredKeyReused(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	expired := time.Now().UTC().Add(-time.Minute)

	if _, err := repo.CreateProcessing("key-1", "hash-1", expired); err != nil {
		t.Fatalf("create processing failed: %v", err)
	}

	record, err := repo.CreateProcessing("key-1", "hash-2", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("expected expired key to be reusable, got %v", err)
	}
	if record.RequestHash != "hash-2" || record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestIdempotencyRepositoryDeleteExpired(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for _, key := range []string{"old-1", "old-2", "old-3"} {
		if _, err := repo.CreateProcessing(key, "hash", now.Add(-time.Hour)); err != nil {
			t.Fatalf("create %s failed: %v", key, err)
		}
	}
	if _, err := repo.CreateProcessing("fresh", "hash", now.Add(time.Hour)); err != nil {
		t.Fatalf("create fresh failed: %v", err)
	}

	// Батч-лимит соблюдается.
	removed, err := repo.DeleteExpired(now, 2)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	removed, err = repo.DeleteExpired(now, 10)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	if _, err := repo.Get("fresh"); err != nil {
		t.Fatalf("fresh key must survive cleanup: %v", err)
	}
}
