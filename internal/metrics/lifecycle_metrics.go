package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics содержит метрики жизненного цикла заказов и склада.
type LifecycleMetrics struct {
	// Счётчики переходов заказа
	ordersCreated   prometheus.Counter
	ordersPaid      prometheus.Counter
	ordersShipped   prometheus.Counter
	ordersDelivered prometheus.Counter
	ordersCancelled prometheus.Counter

	// Отказы резервирования из-за нехватки остатка
	reserveRejected prometheus.Counter
	// Запрещённые переходы, возвращённые вызывающей стороне
	invalidTransitions prometheus.Counter

	// Гистограммы времени выполнения операций
	operationDuration *prometheus.HistogramVec

	// Счётчики событий timeline и outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewLifecycleMetrics создаёт метрики на default-регистраторе.
func NewLifecycleMetrics() *LifecycleMetrics {
	return newLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LifecycleMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersPaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_paid_total",
			Help: "Total number of orders with confirmed payment",
		}),
		ordersShipped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_shipped_total",
			Help: "Total number of orders handed to a carrier",
		}),
		ordersDelivered: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_delivered_total",
			Help: "Total number of orders delivered to the buyer",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_cancelled_total",
			Help: "Total number of orders cancelled with inventory released",
		}),
		reserveRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_reserve_rejected_total",
			Help: "Total number of reservations rejected due to insufficient stock",
		}),
		invalidTransitions: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_invalid_transitions_total",
			Help: "Total number of rejected order state transitions",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_operation_duration_seconds",
			Help:    "Duration of lifecycle operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_outbox_events_total",
			Help: "Total number of events enqueued to the transactional outbox",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *LifecycleMetrics) RecordOrderCreated() { m.ordersCreated.Inc() }

// RecordOrderPaid увеличивает счётчик оплаченных заказов.
func (m *LifecycleMetrics) RecordOrderPaid() { m.ordersPaid.Inc() }

// RecordOrderShipped увеличивает счётчик отгруженных заказов.
func (m *LifecycleMetrics) RecordOrderShipped() { m.ordersShipped.Inc() }

// RecordOrderDelivered увеличивает счётчик доставленных заказов.
func (m *LifecycleMetrics) RecordOrderDelivered() { m.ordersDelivered.Inc() }

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *LifecycleMetrics) RecordOrderCancelled() { m.ordersCancelled.Inc() }

// RecordReserveRejected увеличивает счётчик отказов резервирования.
func (m *LifecycleMetrics) RecordReserveRejected() { m.reserveRejected.Inc() }

// RecordInvalidTransition увеличивает счётчик запрещённых переходов.
func (m *LifecycleMetrics) RecordInvalidTransition() { m.invalidTransitions.Inc() }

// RecordOperationDuration записывает длительность операции жизненного цикла.
func (m *LifecycleMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *LifecycleMetrics) RecordTimelineEvent() { m.timelineEvents.Inc() }

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *LifecycleMetrics) RecordOutboxEvent() { m.outboxEvents.Inc() }
