package consumer

import (
	"context"
	"errors"
	"time"

	"orderflow/internal/broker"
	"orderflow/internal/constants"
	"orderflow/internal/dedup"
	"orderflow/internal/logger"
	"orderflow/internal/order"
	pkgerrors "orderflow/pkg/errors"
	"orderflow/pkg/logging"
	"orderflow/pkg/metrics"
	"orderflow/pkg/retry"
)

// Effect is the business side effect applied exactly once per event. It must
// classify its own failures: fatal errors go straight to the dead-letter
// topic, everything else is retried under the processor's policy.
type Effect interface {
	Apply(ctx context.Context, d broker.Delivery) error
}

// DeadLetterRouter publishes a diagnostic envelope for a delivery that could
// not be processed.
type DeadLetterRouter interface {
	Route(ctx context.Context, d broker.Delivery, consumerGroup string, cause error, retryCount int) error
}

// Processor drives one delivery through dedup, the side effect, the processed
// marker, and the dead-letter escape valve. Returning nil from Handle
// acknowledges the delivery; acknowledgement is always the last step, so a
// crash at any point re-delivers and the dedup marker absorbs the duplicate.
type Processor struct {
	dedup         dedup.Store
	effect        Effect
	router        DeadLetterRouter
	logger        logger.Logger
	consumerGroup string
	effectTimeout time.Duration
	retryPolicy   retry.Policy
}

type ProcessorConfig struct {
	ConsumerGroup     string
	SideEffectTimeout time.Duration
	Retry             retry.Policy
}

func NewProcessor(store dedup.Store, effect Effect, router DeadLetterRouter, cfg ProcessorConfig, log logger.Logger) *Processor {
	timeout := cfg.SideEffectTimeout
	if timeout <= 0 {
		timeout = constants.DefaultSideEffectBudget
	}
	policy := cfg.Retry
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy()
	}
	return &Processor{
		dedup:         store,
		effect:        effect,
		router:        router,
		logger:        log,
		consumerGroup: cfg.ConsumerGroup,
		effectTimeout: timeout,
		retryPolicy:   policy,
	}
}

func (p *Processor) Handle(ctx context.Context, d broker.Delivery) error {
	metrics.ConsumerEventsTotal.WithLabelValues(d.Topic, "received").Inc()
	start := time.Now()

	header, err := order.DecodeEventHeader(d.Value)
	if err != nil || header.EventID == "" {
		// No event id means no dedup identity; the message can never be
		// processed safely and retrying will not change that.
		cause := pkgerrors.ErrUnprocessable.WithDetail("message", "event id is missing or payload is not valid JSON")
		if err != nil {
			cause = cause.WithCause(err)
		}
		return p.deadLetter(ctx, d, cause, 0, start)
	}

	ctx = logging.WithEventID(ctx, header.EventID)

	seen, err := p.dedup.Exists(ctx, header.EventID, p.consumerGroup)
	if err != nil {
		// Store outage: leave the delivery unacknowledged and let the
		// transport redeliver once the store is back.
		p.logger.ErrorwCtx(ctx, "Failed to check processed-event marker",
			"error", err,
			"topic", d.Topic,
		)
		return err
	}
	if seen {
		metrics.ConsumerEventsTotal.WithLabelValues(d.Topic, "skipped").Inc()
		metrics.ObserveConsumerDuration(d.Topic, "skipped", time.Since(start))
		p.logger.DebugwCtx(ctx, "Duplicate event skipped",
			"topic", d.Topic,
			"partition", d.Partition,
			"offset", d.Offset,
		)
		return nil
	}

	attempts := 0
	effectCtx, cancel := context.WithTimeout(ctx, p.effectTimeout)
	defer cancel()

	effectErr := retry.RetryWithCallback(effectCtx, p.retryPolicy, func() error {
		attempts++
		return p.effect.Apply(effectCtx, d)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(p.consumerGroup, d.Topic).Inc()
		p.logger.WarnwCtx(ctx, "Event processing failed, retrying",
			"error", err,
			"attempt", attempt,
			"next_delay", nextDelay,
			"topic", d.Topic,
		)
	})
	if effectErr != nil {
		return p.deadLetter(ctx, d, effectErr, attempts, start)
	}

	if err := p.dedup.Mark(ctx, header.EventID, header.EventType, p.consumerGroup); err != nil {
		if errors.Is(err, dedup.ErrAlreadyMarked) {
			// A concurrent delivery won the marker insert. The effect is
			// idempotent, so both executions produced the same state.
			metrics.ConsumerEventsTotal.WithLabelValues(d.Topic, "skipped").Inc()
			metrics.ObserveConsumerDuration(d.Topic, "skipped", time.Since(start))
			return nil
		}
		// Effect done but marker not written: redelivery will re-run the
		// effect, which the idempotent side effect absorbs.
		p.logger.ErrorwCtx(ctx, "Failed to write processed-event marker",
			"error", err,
			"topic", d.Topic,
		)
		return err
	}

	metrics.ConsumerEventsTotal.WithLabelValues(d.Topic, "processed").Inc()
	metrics.ObserveConsumerDuration(d.Topic, "processed", time.Since(start))
	p.logger.InfowCtx(ctx, "Event processed",
		"topic", d.Topic,
		"partition", d.Partition,
		"offset", d.Offset,
		"attempts", attempts,
	)
	return nil
}

// deadLetter routes the delivery and, only if the envelope write succeeded,
// acknowledges it by returning nil. A failed dead-letter write keeps the
// delivery unacknowledged; losing the message silently is the one outcome
// this path must never produce.
func (p *Processor) deadLetter(ctx context.Context, d broker.Delivery, cause error, retryCount int, start time.Time) error {
	if err := p.router.Route(ctx, d, p.consumerGroup, cause, retryCount); err != nil {
		return err
	}
	metrics.ConsumerEventsTotal.WithLabelValues(d.Topic, "dead_lettered").Inc()
	metrics.ObserveConsumerDuration(d.Topic, "dead_lettered", time.Since(start))
	return nil
}
