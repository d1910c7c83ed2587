package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/messaging/kafka"
)

// dlq-reprocess перечитывает marketplace.dlq и возвращает восстановимые
// сообщения в их рабочие topic-и. Умеет оба формата DLQ: записи
// consumer-а (original_topic/original_value) и конверты outbox worker-а
// (payload с outbox_id/publish_error). По умолчанию dry-run.

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string // непустой — принудительный topic вместо маршрутизации
	eventType   string // непустой — реплеим только этот event_type
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// consumerRecord — запись, которую Consumer.sendToDLQ кладёт в DLQ
// после исчерпания retry.
type consumerRecord struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
	ErrorMessage  string `json:"error_message"`
	RetryCount    int    `json:"retry_count"`
}

// outboxEnvelope — конверт, в котором outbox worker публикует события;
// в DLQ его payload содержит outboxRecord.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// outboxRecord — payload DLQ-конверта: исходное событие плюс причина,
// по которой worker не смог его опубликовать.
type outboxRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// replayCandidate — восстановленное сообщение, готовое к публикации.
type replayCandidate struct {
	topic     string
	key       string
	value     []byte
	eventType string
	reason    string // из-за чего сообщение попало в DLQ
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: MFS_KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.targetTopic, "target-topic", "", "force target topic; empty routes by message origin")
	flag.StringVar(&cfg.eventType, "event-type", "", "replay only messages with this event_type (e.g. order.paid)")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan")
	flag.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("MFS_KAFKA_BROKERS")
	}

	cfg.brokers = parseBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or MFS_KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		return config{}, fmt.Errorf("source-topic is required")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
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

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"event_type":   cfg.eventType,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
	}).Info("starting dlq replay")

	clientConfig := sarama.NewConfig()
	clientConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, clientConfig)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer func() { _ = client.Close() }()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	r := &replayer{cfg: cfg, client: client, consumer: consumer}

	if cfg.execute {
		producerConfig := sarama.NewConfig()
		producerConfig.Producer.RequiredAcks = sarama.WaitForAll
		producerConfig.Producer.Retry.Max = 5
		producerConfig.Producer.Return.Successes = true
		producerConfig.Producer.Compression = sarama.CompressionSnappy
		producerConfig.Producer.Idempotent = true
		producerConfig.Net.MaxOpenRequests = 1

		producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer func() { _ = producer.Close() }()
		r.producer = producer
	}

	return r.run(ctx)
}

type replayer struct {
	cfg      config
	client   sarama.Client
	consumer sarama.Consumer
	producer sarama.SyncProducer

	processed int
	replayed  int
	skipped   int
}

func (r *replayer) run(ctx context.Context) error {
	partitions, err := r.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if r.processed >= r.cfg.limit {
			break
		}
		if err := r.scanPartition(ctx, partition); err != nil {
			return err
		}
	}

	mode := "dry-run"
	if r.cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": r.processed,
		"replayed":  r.replayed,
		"skipped":   r.skipped,
	}).Info("dlq replay finished")

	return nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32) error {
	oldest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return nil
	}

	startOffset := oldest
	if r.cfg.fromNewest {
		startOffset = newest - int64(r.cfg.limit-r.processed)
		if startOffset < oldest {
			startOffset = oldest
		}
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(r.cfg.idleTimeout)
	defer idleTimer.Stop()

	for r.processed < r.cfg.limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-pc.Errors():
			if err != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return nil
			}

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(r.cfg.idleTimeout)

			r.handleMessage(msg)

			if msg.Offset+1 >= newest {
				return nil
			}
		case <-idleTimer.C:
			return nil
		}
	}

	return nil
}

func (r *replayer) handleMessage(msg *sarama.ConsumerMessage) {
	r.processed++

	candidate, err := restoreMessage(msg.Value)
	if err != nil {
		r.skipped++
		log.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip unsupported dlq message")
		return
	}
	if r.cfg.eventType != "" && candidate.eventType != r.cfg.eventType {
		r.skipped++
		return
	}
	if r.cfg.targetTopic != "" {
		candidate.topic = r.cfg.targetTopic
	}

	fields := log.Fields{
		"partition":    msg.Partition,
		"offset":       msg.Offset,
		"target_topic": candidate.topic,
		"event_type":   candidate.eventType,
		"key":          candidate.key,
		"dlq_reason":   candidate.reason,
	}

	if !r.cfg.execute {
		log.WithFields(fields).Info("dlq replay candidate")
		r.replayed++
		return
	}

	_, _, err = r.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     candidate.topic,
		Key:       sarama.StringEncoder(candidate.key),
		Value:     sarama.ByteEncoder(candidate.value),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		r.skipped++
		log.WithError(err).WithFields(fields).Error("failed to republish dlq message")
		return
	}
	r.replayed++
}

// restoreMessage восстанавливает исходное сообщение из записи DLQ.
func restoreMessage(value []byte) (replayCandidate, error) {
	var record consumerRecord
	if err := json.Unmarshal(value, &record); err == nil && record.OriginalValue != "" {
		return restoreConsumerRecord(record), nil
	}

	var envelope outboxEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return replayCandidate{}, fmt.Errorf("unrecognized dlq record: %w", err)
	}
	return restoreOutboxRecord(envelope)
}

func restoreConsumerRecord(record consumerRecord) replayCandidate {
	original := []byte(record.OriginalValue)

	// event_type берём из самого события, чтобы работал фильтр -event-type.
	var event struct {
		EventType string `json:"event_type"`
	}
	_ = json.Unmarshal(original, &event)

	return replayCandidate{
		topic:     routeTopic("", record.OriginalTopic),
		key:       record.OriginalKey,
		value:     original,
		eventType: event.EventType,
		reason:    record.ErrorMessage,
	}
}

func restoreOutboxRecord(envelope outboxEnvelope) (replayCandidate, error) {
	if len(envelope.Payload) == 0 {
		return replayCandidate{}, fmt.Errorf("outbox dlq envelope has empty payload")
	}

	var record outboxRecord
	if err := json.Unmarshal(envelope.Payload, &record); err != nil {
		return replayCandidate{}, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(record.Payload) == 0 {
		return replayCandidate{}, fmt.Errorf("outbox dlq payload does not contain original event")
	}

	// Пересобираем конверт в том же виде, в каком его публикует
	// OutboxTopicPublisher.
	restored := outboxEnvelope{
		ID:            firstNonEmpty(record.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(record.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(record.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(record.EventType, envelope.EventType),
		Payload:       record.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(restored)
	if err != nil {
		return replayCandidate{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := restored.AggregateID
	if key == "" {
		key = restored.ID
	}

	return replayCandidate{
		topic:     routeTopic(restored.AggregateType, ""),
		key:       key,
		value:     encoded,
		eventType: restored.EventType,
		reason:    record.PublishError,
	}, nil
}

// routeTopic выбирает topic так же, как RoutingPublisher: складские
// события в topic остатков, всё остальное в topic заказов. Для записей
// consumer-а исходный topic важнее.
func routeTopic(aggregateType, originalTopic string) string {
	if topic := strings.TrimSpace(originalTopic); topic != "" {
		return topic
	}
	if aggregateType == "stock" {
		return kafka.TopicStockEvents
	}
	return kafka.TopicOrderEvents
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
