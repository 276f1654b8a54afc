package idempotency

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"orderflow/internal/config"
	"orderflow/pkg/circuitbreaker"
)

// CircuitBreakerStore shields the request path from a struggling Redis. When
// the circuit is open the guard fails closed: callers get a transient error
// instead of an unguarded execution.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store Store, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{store: store}
	}

	cbConfig := circuitbreaker.DefaultConfig("redis-idempotency")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

type insertResult struct {
	created  bool
	existing *Record
}

func (s *CircuitBreakerStore) InsertIfAbsent(ctx context.Context, key, fingerprint string) (bool, *Record, error) {
	if s.cb == nil {
		return s.store.InsertIfAbsent(ctx, key, fingerprint)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		created, existing, err := s.store.InsertIfAbsent(ctx, key, fingerprint)
		if err != nil {
			return nil, err
		}
		return insertResult{created: created, existing: existing}, nil
	})
	s.cb.RecordRequest(err == nil)
	if err != nil {
		return false, nil, s.wrapOpenState(err)
	}

	r, ok := result.(insertResult)
	if !ok {
		return false, nil, fmt.Errorf("store returned invalid result type")
	}
	return r.created, r.existing, nil
}

func (s *CircuitBreakerStore) Complete(ctx context.Context, key string, response []byte) error {
	if s.cb == nil {
		return s.store.Complete(ctx, key, response)
	}

	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.store.Complete(ctx, key, response)
	})
	s.cb.RecordRequest(err == nil)
	return s.wrapOpenState(err)
}

func (s *CircuitBreakerStore) Get(ctx context.Context, key string) (*Record, error) {
	if s.cb == nil {
		return s.store.Get(ctx, key)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.Get(ctx, key)
	})
	s.cb.RecordRequest(err == nil)
	if err != nil {
		return nil, s.wrapOpenState(err)
	}

	record, ok := result.(*Record)
	if !ok && result != nil {
		return nil, fmt.Errorf("store returned invalid result type")
	}
	return record, nil
}

func (s *CircuitBreakerStore) Delete(ctx context.Context, key string) error {
	if s.cb == nil {
		return s.store.Delete(ctx, key)
	}

	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.store.Delete(ctx, key)
	})
	s.cb.RecordRequest(err == nil)
	return s.wrapOpenState(err)
}

func (s *CircuitBreakerStore) wrapOpenState(err error) error {
	if err == nil {
		return nil
	}
	if s.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for redis-idempotency: %w", err)
	}
	return err
}
