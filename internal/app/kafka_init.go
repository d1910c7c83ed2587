package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/messaging/kafka"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, nil
	}

	brokerList := parseBrokers(brokers)
	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// initPaymentConsumer создаёт consumer group для подтверждений оплаты.
func initPaymentConsumer(cfg Config, handler kafka.MessageHandler, dlqProducer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	brokerList := parseBrokers(cfg.KafkaBrokers)
	topics := []string{kafka.TopicPaymentConfirmations}

	var (
		consumer *kafka.Consumer
		err      error
	)
	if cfg.ConsumerDLQ && dlqProducer != nil {
		consumer, err = kafka.NewConsumerWithDLQ(brokerList, cfg.KafkaGroupID, topics, handler, dlqProducer, cfg.MaxDLQRetries)
	} else {
		consumer, err = kafka.NewConsumer(brokerList, cfg.KafkaGroupID, topics, handler)
	}
	if err != nil {
		logger.WithError(err).Warn("failed to create payment confirmations consumer")
		return nil, err
	}

	logger.WithFields(log.Fields{
		"group_id": cfg.KafkaGroupID,
		"topics":   topics,
	}).Info("payment confirmations consumer initialized")
	return consumer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}
