package dlq

import (
	"context"
	"fmt"

	"orderflow/internal/broker"
	"orderflow/internal/constants"
	"orderflow/internal/logger"
	"orderflow/pkg/metrics"
)

// Topic maps a source topic to its dead-letter topic.
func Topic(sourceTopic string) string {
	return sourceTopic + constants.DLQTopicSuffix
}

// Router is the terminal escape valve for unprocessable messages. It owns
// envelope creation; a separate replay process owns consumption.
type Router struct {
	producer  broker.Producer
	logger    logger.Logger
	schemaRef string
}

// NewRouter expects a synchronous producer: a dead-letter write that fails
// silently is message loss, so the outcome must be known before the original
// message is acknowledged.
func NewRouter(producer broker.Producer, schemaRef string, log logger.Logger) *Router {
	if schemaRef == "" {
		schemaRef = constants.EventSchemaRef
	}
	return &Router{
		producer:  producer,
		logger:    log,
		schemaRef: schemaRef,
	}
}

// Route publishes a diagnostic envelope for the failed delivery, keyed by the
// original message key so replay preserves per-entity ordering.
func (r *Router) Route(ctx context.Context, d broker.Delivery, consumerGroup string, cause error, retryCount int) error {
	envelope := NewEnvelope(d, consumerGroup, cause, retryCount, r.schemaRef)

	body, err := envelope.Marshal()
	if err != nil {
		metrics.DLQPublishFailuresTotal.WithLabelValues(d.Topic).Inc()
		return err
	}

	dlqTopic := Topic(d.Topic)
	if err := r.producer.Publish(ctx, dlqTopic, d.Key, body); err != nil {
		metrics.DLQPublishFailuresTotal.WithLabelValues(d.Topic).Inc()
		r.logger.ErrorwCtx(ctx, "ALERT: dead-letter envelope write failed, message may be lost",
			"error", err,
			"source_topic", d.Topic,
			"dlq_topic", dlqTopic,
			"partition", d.Partition,
			"offset", d.Offset,
			"error_class", envelope.ErrorClass,
		)
		return fmt.Errorf("failed to publish dead-letter envelope: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(d.Topic, envelope.ErrorClass).Inc()
	r.logger.InfowCtx(ctx, "Message routed to dead-letter topic",
		"source_topic", d.Topic,
		"dlq_topic", dlqTopic,
		"partition", d.Partition,
		"offset", d.Offset,
		"error_class", envelope.ErrorClass,
		"error", envelope.ErrorMessage,
		"retry_count", retryCount,
	)
	return nil
}
