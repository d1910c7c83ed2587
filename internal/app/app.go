package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/cache"
	"github.com/marketbay/fulfillment/internal/domain"
	healthcheck "github.com/marketbay/fulfillment/internal/health"
	"github.com/marketbay/fulfillment/internal/messaging/kafka"
	"github.com/marketbay/fulfillment/internal/metrics"
	"github.com/marketbay/fulfillment/internal/service/auth"
	"github.com/marketbay/fulfillment/internal/service/fulfillment"
	httpsvc "github.com/marketbay/fulfillment/internal/service/http"
	"github.com/marketbay/fulfillment/internal/service/idempotency"
	"github.com/marketbay/fulfillment/internal/service/order"
	"github.com/marketbay/fulfillment/internal/service/outbox"
	"github.com/marketbay/fulfillment/internal/service/payment"
	"github.com/marketbay/fulfillment/internal/version"
)

// Run собирает сервис и блокируется до отмены контекста или фатальной
// ошибки HTTP-сервера. Kafka, Redis и PostgreSQL подключаются по
// конфигурации, без них сервис работает в урезанном локальном режиме.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	lifecycleMetrics := metrics.NewLifecycleMetrics()

	// Kafka producer (опционально).
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	paymentCoordinator := payment.NewCoordinator(
		deps.Orders,
		deps.Gateway,
		deps.Outbox,
		deps.Timeline,
		lifecycleMetrics,
		logger.WithField("component", "payment"),
	)
	fulfillmentCoordinator := fulfillment.NewCoordinator(
		deps.Orders,
		deps.Shipments,
		deps.Ledger,
		deps.Carrier,
		deps.Outbox,
		deps.Timeline,
		lifecycleMetrics,
		logger.WithField("component", "fulfillment"),
	)

	var authorizer domain.Authorizer
	switch cfg.AuthMode {
	case "allow-all":
		authorizer = auth.AllowAll{}
		logger.Warn("authorization disabled (allow-all mode)")
	default:
		authorizer = auth.NewRolePolicy()
	}

	orderService := order.NewService(
		deps.Orders,
		deps.Ledger,
		deps.Catalog,
		paymentCoordinator,
		fulfillmentCoordinator,
		authorizer,
		deps.Outbox,
		deps.Timeline,
		lifecycleMetrics,
		logger.WithField("component", "order_service"),
	)

	if kafkaProducer != nil {
		paymentCoordinator.WithKafka(kafkaProducer)
		fulfillmentCoordinator.WithKafka(kafkaProducer)
		orderService.WithKafka(kafkaProducer)
	}

	// Redis read-through кэш (опционально).
	var readCache *cache.Cache
	if cfg.RedisAddr != "" {
		readCache = cache.New(cfg.RedisAddr)
		if err := readCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, continuing without cache")
			_ = readCache.Close()
			readCache = nil
		} else {
			logger.WithField("addr", cfg.RedisAddr).Info("redis cache initialized")
			defer func() { _ = readCache.Close() }()
		}
	}

	// Outbox relay работает только при наличии Kafka.
	if kafkaProducer != nil {
		outboxWorker := outbox.NewWorker(
			deps.Outbox,
			kafka.NewRoutingPublisher(kafkaProducer),
			outbox.WithLogger(logger.WithField("component", "outbox_worker")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
		)
		go outboxWorker.Run(ctx)
	}

	cleanupWorker := idempotency.NewCleanupWorker(
		deps.Idempotency,
		idempotency.WithLogger(logger.WithField("component", "idempotency_cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
	)
	go cleanupWorker.Run(ctx)

	// Consumer подтверждений оплаты: отклонённый платёж отменяет заказ.
	var paymentConsumer *kafka.Consumer
	if kafkaProducer != nil {
		cancelOrder := func(ctx context.Context, orderID, reason string) error {
			_, err := fulfillmentCoordinator.Cancel(ctx, orderID, reason)
			return err
		}
		handler := payment.ConfirmationHandler(paymentCoordinator, cancelOrder, logger.WithField("component", "payment_consumer"))
		consumer, err := initPaymentConsumer(cfg, handler, kafkaProducer, logger)
		if err == nil && consumer != nil {
			if err := consumer.Start(ctx); err != nil {
				logger.WithError(err).Warn("failed to start payment confirmations consumer")
			} else {
				paymentConsumer = consumer
			}
		}
	}

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.Store != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.Store.Ping(pingCtx)
		}))
	}
	if readCache != nil {
		healthHandler.RegisterChecker("redis", healthcheck.NewSimpleChecker("redis", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return readCache.Ping(pingCtx)
		}))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	var handlerCache httpsvc.Cache
	if readCache != nil {
		handlerCache = readCache
	}
	handler := httpsvc.NewHandler(orderService, handlerCache, logger.WithField("layer", "http"))
	idem := httpsvc.IdempotencyMiddleware(deps.Idempotency, cfg.IdempotencyTTL, logger.WithField("component", "idempotency"))
	router := httpsvc.NewRouter(handler, idem)
	srv := httpsvc.NewServer(cfg.HTTPAddr, router, logger.WithField("component", "http_server"))

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.HTTPAddr)
		errCh <- srv.Start()
	}()

	stopConsumer := func() {
		if paymentConsumer == nil {
			return
		}
		if err := paymentConsumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop payment confirmations consumer")
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("http shutdown with error")
		}
		stopConsumer()
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		stopConsumer()
		shutdownHTTP(metricsSrv, logger)
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
