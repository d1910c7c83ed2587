package main

import (
	"encoding/json"
	"testing"

	"github.com/marketbay/fulfillment/internal/messaging/kafka"
)

func TestRestoreConsumerRecord(t *testing.T) {
	original := `{"event_type":"payment.confirmed","order_id":"order-1","success":true}`
	record, err := json.Marshal(map[string]any{
		"original_topic":     kafka.TopicPaymentConfirmations,
		"original_partition": 0,
		"original_offset":    42,
		"original_key":       "order-1",
		"original_value":     original,
		"error_message":      "handler failed: order not found",
		"failed_at":          "2026-08-28T10:00:00Z",
		"retry_count":        3,
	})
	if err != nil {
		t.Fatalf("marshal dlq record: %v", err)
	}

	candidate, err := restoreMessage(record)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if candidate.topic != kafka.TopicPaymentConfirmations {
		t.Fatalf("expected original topic, got %s", candidate.topic)
	}
	if candidate.key != "order-1" || string(candidate.value) != original {
		t.Fatalf("original message not restored: key=%s value=%s", candidate.key, candidate.value)
	}
	if candidate.eventType != "payment.confirmed" {
		t.Fatalf("expected event type from original message, got %q", candidate.eventType)
	}
	if candidate.reason != "handler failed: order not found" {
		t.Fatalf("unexpected reason: %q", candidate.reason)
	}
}

func TestRestoreOutboxRecordRoutesByAggregate(t *testing.T) {
	payload, err := json.Marshal(map[string]any{
		"outbox_id":        "outbox-7",
		"aggregate_type":   "stock",
		"aggregate_id":     "product-1",
		"event_type":       "stock.released",
		"payload":          json.RawMessage(`{"product_id":"product-1","qty":3}`),
		"publish_error":    "kafka: broker not available",
		"dlq_published_at": "2026-08-28T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("marshal dlq payload: %v", err)
	}
	envelope, err := json.Marshal(map[string]any{
		"id":             "outbox-7",
		"aggregate_type": "stock",
		"aggregate_id":   "product-1",
		"event_type":     "stock.released",
		"payload":        json.RawMessage(payload),
		"published_at":   "2026-08-28T10:00:01Z",
	})
	if err != nil {
		t.Fatalf("marshal dlq envelope: %v", err)
	}

	candidate, err := restoreMessage(envelope)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if candidate.topic != kafka.TopicStockEvents {
		t.Fatalf("expected stock topic, got %s", candidate.topic)
	}
	if candidate.key != "product-1" {
		t.Fatalf("expected aggregate id as key, got %s", candidate.key)
	}
	if candidate.eventType != "stock.released" {
		t.Fatalf("unexpected event type: %q", candidate.eventType)
	}
	if candidate.reason != "kafka: broker not available" {
		t.Fatalf("unexpected reason: %q", candidate.reason)
	}

	var restored outboxEnvelope
	if err := json.Unmarshal(candidate.value, &restored); err != nil {
		t.Fatalf("decode restored envelope: %v", err)
	}
	if restored.ID != "outbox-7" || restored.EventType != "stock.released" {
		t.Fatalf("unexpected restored envelope: %+v", restored)
	}
	if string(restored.Payload) != `{"product_id":"product-1","qty":3}` {
		t.Fatalf("original event payload lost: %s", restored.Payload)
	}
	if restored.PublishedAt.IsZero() {
		t.Fatal("restored envelope must carry a fresh published_at")
	}
}

func TestRestoreMessageRejectsGarbage(t *testing.T) {
	if _, err := restoreMessage([]byte("not json")); err == nil {
		t.Fatal("expected error for non-json dlq record")
	}
	if _, err := restoreMessage([]byte(`{"id":"x","event_type":"order.paid"}`)); err == nil {
		t.Fatal("expected error for envelope without payload")
	}
}

func TestRouteTopic(t *testing.T) {
	if got := routeTopic("order", ""); got != kafka.TopicOrderEvents {
		t.Fatalf("order aggregate: got %s", got)
	}
	if got := routeTopic("stock", ""); got != kafka.TopicStockEvents {
		t.Fatalf("stock aggregate: got %s", got)
	}
	if got := routeTopic("stock", "custom.topic"); got != "custom.topic" {
		t.Fatalf("original topic must win: got %s", got)
	}
}
