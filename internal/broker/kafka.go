package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"orderflow/internal/config"
	"orderflow/internal/constants"
	"orderflow/internal/logger"
	"orderflow/pkg/logging"
	"orderflow/pkg/metrics"
	"orderflow/pkg/tracing"
)

// KafkaProducer writes messages keyed by entity id. The hash balancer pins a
// key to a partition, which is what gives per-entity ordering downstream.
type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

// NewKafkaProducer returns an asynchronous producer: Publish enqueues and
// returns, delivery outcome arrives on the completion callback. Callers that
// need confirmed writes (dead-letter routing) use NewSyncKafkaProducer.
func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	p := &KafkaProducer{logger: log}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion:   p.onCompletion,
	}
	return p
}

func NewSyncKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	return &KafkaProducer{
		logger: log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: constants.KafkaBatchTimeout,
			WriteTimeout: constants.KafkaWriteTimeout,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	headers := tracing.InjectTraceContext(ctx, nil)

	err := p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     key,
			Value:   value,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	if !p.writer.Async {
		metrics.EventsPublishedTotal.WithLabelValues(topic, "ok").Inc()
	}
	return nil
}

// onCompletion surfaces async write results. A failure here is not retried by
// the producer; the outer delivery guarantee (outbox, replay) owns that.
func (p *KafkaProducer) onCompletion(messages []kafka.Message, err error) {
	for _, m := range messages {
		if err != nil {
			metrics.EventsPublishedTotal.WithLabelValues(m.Topic, "error").Inc()
			p.logger.Errorw("Async publish failed",
				"error", err,
				"topic", m.Topic,
				"key", string(m.Key),
			)
			continue
		}
		metrics.EventsPublishedTotal.WithLabelValues(m.Topic, "ok").Inc()
		p.logger.Debugw("Message published",
			"topic", m.Topic,
			"key", string(m.Key),
			"partition", m.Partition,
			"offset", m.Offset,
		)
	}
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	mu          sync.Mutex
	reader      *kafka.Reader
	logger      logger.Logger
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: "unknown",
	}
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume runs the fetch loop until ctx is canceled. The commit is issued
// only after the handler returns nil, so acknowledgment is always the last
// action for a delivery. Cancellation between fetch and commit leaves the
// message unacknowledged for redelivery, never half-acknowledged.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
		"service_name", c.serviceName,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming",
					"topic", topic,
					"reason", "context canceled",
				)
				return ctx.Err()
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
				"error", err,
				"topic", topic,
			)
			time.Sleep(time.Second)
			continue
		}

		msgCtx, span := tracing.StartSpanFromKafkaMessage(consumeCtx, "kafka.consume", m.Headers)

		d := Delivery{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Time:      m.Time,
		}

		err = handler(msgCtx, d)
		span.End()

		if err != nil {
			// No commit: the transport redelivers after a rebalance or
			// restart. The handler has already exhausted its own recovery
			// paths, so back off before fetching more.
			c.logger.ErrorwCtx(msgCtx, "Delivery left unacknowledged",
				"error", err,
				"topic", topic,
				"partition", d.Partition,
				"offset", d.Offset,
			)
			time.Sleep(time.Second)
			continue
		}

		if err := reader.CommitMessages(ctx, m); err != nil {
			c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
				"error", err,
				"topic", topic,
				"partition", d.Partition,
				"offset", d.Offset,
			)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
