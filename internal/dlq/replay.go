package dlq

import (
	"context"
	"strings"

	"orderflow/internal/broker"
	"orderflow/internal/constants"
	"orderflow/internal/logger"
	"orderflow/pkg/metrics"
)

// Replayer drains a dead-letter topic and re-publishes each original payload
// to its original topic with the original key. It assumes the underlying
// failure has been remediated; a message that fails again will simply travel
// the normal consume → dead-letter path once more.
type Replayer struct {
	consumer broker.Consumer
	producer broker.Producer
	logger   logger.Logger
}

func NewReplayer(consumer broker.Consumer, producer broker.Producer, log logger.Logger) *Replayer {
	return &Replayer{
		consumer: consumer,
		producer: producer,
		logger:   log,
	}
}

// Run consumes dlqTopic until ctx is canceled.
func (r *Replayer) Run(ctx context.Context, dlqTopic string) error {
	return r.consumer.Consume(ctx, dlqTopic, r.handle)
}

func (r *Replayer) handle(ctx context.Context, d broker.Delivery) error {
	envelope, err := Unmarshal(d.Value)
	if err != nil {
		// Not an envelope; nothing to replay. Acknowledge so the DLQ does
		// not wedge on garbage.
		r.logger.ErrorwCtx(ctx, "Skipping undecodable dead-letter message",
			"error", err,
			"dlq_topic", d.Topic,
			"partition", d.Partition,
			"offset", d.Offset,
		)
		return nil
	}

	payload, err := envelope.DecodePayload()
	if err != nil {
		r.logger.ErrorwCtx(ctx, "Skipping dead-letter envelope with corrupt payload",
			"error", err,
			"original_topic", envelope.OriginalTopic,
		)
		return nil
	}

	originalTopic := envelope.OriginalTopic
	if originalTopic == "" {
		originalTopic = strings.TrimSuffix(d.Topic, constants.DLQTopicSuffix)
	}

	if err := r.producer.Publish(ctx, originalTopic, []byte(envelope.OriginalKey), payload); err != nil {
		metrics.DLQReplayedTotal.WithLabelValues(originalTopic, "error").Inc()
		r.logger.ErrorwCtx(ctx, "Failed to re-publish dead-lettered message",
			"error", err,
			"original_topic", originalTopic,
		)
		// Leave unacknowledged so the replay can be retried.
		return err
	}

	metrics.DLQReplayedTotal.WithLabelValues(originalTopic, "ok").Inc()
	r.logger.InfowCtx(ctx, "Re-published dead-lettered message",
		"original_topic", originalTopic,
		"original_key", envelope.OriginalKey,
		"original_partition", envelope.Partition,
		"original_offset", envelope.Offset,
		"error_class", envelope.ErrorClass,
	)
	return nil
}
