package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"orderflow/internal/config"
	"orderflow/internal/constants"
	"orderflow/internal/logger"
	"orderflow/pkg/errors"
	"orderflow/pkg/metrics"
)

// Operation is the guarded side effect. It must return the serialized
// response that a retried request should see again.
type Operation func(ctx context.Context) ([]byte, error)

type Result struct {
	Response json.RawMessage
	// Replayed reports that the response came from the cache of a previous
	// execution rather than a live run of the operation.
	Replayed bool
}

// Guard makes a creation operation safe to retry. One caller wins the
// atomic insert and runs the operation; everyone else either replays the
// cached response, conflicts on a different payload, or briefly waits for
// the winner to finish.
type Guard struct {
	store        Store
	logger       logger.Logger
	pollInterval time.Duration
	pollAttempts int
}

func NewGuard(store Store, cfg config.IdempotencyConfig, log logger.Logger) *Guard {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = constants.DefaultPollInterval
	}
	pollAttempts := cfg.PollAttempts
	if pollAttempts <= 0 {
		pollAttempts = constants.DefaultPollAttempts
	}
	return &Guard{
		store:        store,
		logger:       log,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
	}
}

func (g *Guard) Execute(ctx context.Context, key string, payload interface{}, op Operation) (Result, error) {
	if key == "" {
		response, err := op(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{Response: response}, nil
	}

	fingerprint, err := Fingerprint(payload)
	if err != nil {
		metrics.IdempotencyRequestsTotal.WithLabelValues("error").Inc()
		return Result{}, errors.ErrValidation.WithCause(err)
	}

	// The outer loop only repeats when the record under the key vanished
	// between observations: the TTL fired, or the previous owner failed and
	// released the key. Each iteration starts from a clean insert attempt.
	for attempt := 0; attempt < 3; attempt++ {
		created, existing, err := g.store.InsertIfAbsent(ctx, key, fingerprint)
		if err != nil {
			metrics.IdempotencyRequestsTotal.WithLabelValues("error").Inc()
			return Result{}, errors.ErrServiceUnavailable.WithCause(err)
		}

		if created {
			return g.runOperation(ctx, key, op)
		}

		if existing == nil {
			continue
		}

		if existing.Fingerprint != fingerprint {
			metrics.IdempotencyRequestsTotal.WithLabelValues("conflict").Inc()
			return Result{}, errors.ErrConflict.WithDetail("idempotency_key", key)
		}

		if existing.Completed() {
			metrics.IdempotencyRequestsTotal.WithLabelValues("replayed").Inc()
			return Result{Response: existing.Response, Replayed: true}, nil
		}

		record, err := g.awaitCompletion(ctx, key)
		if err != nil {
			return Result{}, err
		}
		if record == nil {
			continue
		}
		metrics.IdempotencyRequestsTotal.WithLabelValues("replayed").Inc()
		return Result{Response: record.Response, Replayed: true}, nil
	}

	metrics.IdempotencyRequestsTotal.WithLabelValues("error").Inc()
	return Result{}, errors.ErrServiceUnavailable.WithDetail("message", "idempotency record kept disappearing between attempts")
}

func (g *Guard) runOperation(ctx context.Context, key string, op Operation) (Result, error) {
	response, err := op(ctx)
	if err != nil {
		// Release the key so a clean retry is possible; a failed operation
		// must not poison the key until TTL.
		if delErr := g.store.Delete(ctx, key); delErr != nil {
			g.logger.ErrorwCtx(ctx, "Failed to release idempotency key after operation failure",
				"error", delErr,
				"idempotency_key", key,
			)
		}
		metrics.IdempotencyRequestsTotal.WithLabelValues("failed").Inc()
		return Result{}, err
	}

	if err := g.store.Complete(ctx, key, response); err != nil {
		// The side effect already happened, so the live result is returned
		// either way. Until the record expires, concurrent retries will see
		// a pending record and back off instead of re-executing.
		g.logger.ErrorwCtx(ctx, "Failed to cache idempotent response",
			"error", err,
			"idempotency_key", key,
		)
	}

	metrics.IdempotencyRequestsTotal.WithLabelValues("created").Inc()
	return Result{Response: response}, nil
}

// awaitCompletion polls the shared store while another worker owns the key.
// A bounded poll against the store, not a local lock: the owner may be a
// different process entirely. Returns (nil, nil) when the record disappeared,
// meaning the owner failed and the caller may claim the key.
func (g *Guard) awaitCompletion(ctx context.Context, key string) (*Record, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for i := 0; i < g.pollAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, errors.ErrTimeout.WithCause(ctx.Err())
		case <-ticker.C:
		}

		record, err := g.store.Get(ctx, key)
		if err != nil {
			metrics.IdempotencyRequestsTotal.WithLabelValues("error").Inc()
			return nil, errors.ErrServiceUnavailable.WithCause(err)
		}
		if record == nil {
			return nil, nil
		}
		if record.Completed() {
			return record, nil
		}
	}

	metrics.IdempotencyRequestsTotal.WithLabelValues("in_progress").Inc()
	return nil, errors.ErrInProgress.WithDetail("idempotency_key", key)
}
