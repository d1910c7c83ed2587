package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config описывает настройки запуска сервиса фулфилмента.
// Все значения переопределяются переменными окружения с префиксом MFS_.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	// PostgresDSN пустой означает in-memory хранилище.
	PostgresDSN string
	// RedisAddr пустой означает работу без read-through кэша.
	RedisAddr string
	// KafkaBrokers пустой означает работу без Kafka.
	KafkaBrokers  string
	KafkaGroupID  string
	ConsumerDLQ   bool
	MaxDLQRetries int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	IdempotencyTTL             time.Duration
	IdempotencyCleanupInterval time.Duration

	// AuthMode: "roles" включает ролевую модель, "allow-all" отключает проверки.
	AuthMode string
}

// DefaultConfig возвращает конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                   ":8080",
		MetricsAddr:                ":9090",
		KafkaGroupID:               "fulfillment-service",
		ConsumerDLQ:                true,
		MaxDLQRetries:              3,
		OutboxPollInterval:         time.Second,
		OutboxBatchSize:            100,
		IdempotencyTTL:             24 * time.Hour,
		IdempotencyCleanupInterval: 10 * time.Minute,
		AuthMode:                   "roles",
	}
}

// LoadConfig читает конфигурацию из окружения поверх значений по умолчанию.
func LoadConfig() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("MFS_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("MFS_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("MFS_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("MFS_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("MFS_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = v
	}
	if v := os.Getenv("MFS_KAFKA_GROUP_ID"); v != "" {
		cfg.KafkaGroupID = v
	}
	if v := os.Getenv("MFS_CONSUMER_DLQ"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.ConsumerDLQ = parsed
		}
	}
	if v := envInt("MFS_MAX_DLQ_RETRIES"); v > 0 {
		cfg.MaxDLQRetries = v
	}
	if v := envDuration("MFS_OUTBOX_POLL_INTERVAL"); v > 0 {
		cfg.OutboxPollInterval = v
	}
	if v := envInt("MFS_OUTBOX_BATCH_SIZE"); v > 0 {
		cfg.OutboxBatchSize = v
	}
	if v := envDuration("MFS_IDEMPOTENCY_TTL"); v > 0 {
		cfg.IdempotencyTTL = v
	}
	if v := envDuration("MFS_IDEMPOTENCY_CLEANUP_INTERVAL"); v > 0 {
		cfg.IdempotencyCleanupInterval = v
	}
	if v := strings.TrimSpace(os.Getenv("MFS_AUTH_MODE")); v != "" {
		cfg.AuthMode = strings.ToLower(v)
	}

	return cfg
}

func envDuration(name string) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

func envInt(name string) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
