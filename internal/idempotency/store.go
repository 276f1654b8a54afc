package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"orderflow/internal/constants"
	"orderflow/pkg/metrics"
)

// Store is the shared map behind the guard. Correctness across service
// instances rests entirely on InsertIfAbsent being atomic; there is no
// in-process locking anywhere above it.
type Store interface {
	// InsertIfAbsent writes a pending record for key unless one exists.
	// It reports created=true on success, otherwise the existing record.
	// Both created=false and existing=nil means the previous record expired
	// mid-flight; the caller should retry the insert.
	InsertIfAbsent(ctx context.Context, key, fingerprint string) (created bool, existing *Record, err error)

	// Complete promotes the pending record to completed with the cached
	// response, preserving the remaining TTL.
	Complete(ctx context.Context, key string, response []byte) error

	Get(ctx context.Context, key string) (*Record, error)
	Delete(ctx context.Context, key string) error
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = constants.DefaultIdempotencyTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) InsertIfAbsent(ctx context.Context, key, fingerprint string) (bool, *Record, error) {
	rec := Record{
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	start := time.Now()
	created, err := s.client.SetNX(ctx, s.redisKey(key), body, s.ttl).Result()
	metrics.ObserveStoreDuration("insert_if_absent", time.Since(start))
	if err != nil {
		return false, nil, fmt.Errorf("redis SETNX failed for idempotency key: %w", err)
	}
	if created {
		return true, nil, nil
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, response []byte) error {
	existing, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("idempotency record for key expired before completion")
	}

	existing.Status = StatusCompleted
	existing.Response = response

	body, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	start := time.Now()
	err = s.client.Set(ctx, s.redisKey(key), body, redis.KeepTTL).Err()
	metrics.ObserveStoreDuration("complete", time.Since(start))
	if err != nil {
		return fmt.Errorf("redis SET failed for idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	start := time.Now()
	body, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	metrics.ObserveStoreDuration("get", time.Since(start))
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed for idempotency key: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.client.Del(ctx, s.redisKey(key)).Err()
	metrics.ObserveStoreDuration("delete", time.Since(start))
	if err != nil {
		return fmt.Errorf("redis DEL failed for idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) redisKey(key string) string {
	return constants.IdempotencyKeyPrefix + key
}
