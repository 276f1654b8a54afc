package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/config"
	"orderflow/internal/idempotency"
	"orderflow/internal/logger"
	pkgerrors "orderflow/pkg/errors"
)

func newRedisGuard(t *testing.T, infra *TestInfra) *idempotency.Guard {
	t.Helper()
	store := idempotency.NewRedisStore(infra.RedisClient, time.Minute)
	return idempotency.NewGuard(store, config.IdempotencyConfig{
		PollInterval: 10 * time.Millisecond,
		PollAttempts: 50,
	}, logger.NopLogger())
}

func TestGuard_RedisRetryReplaysCachedResponse(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	guard := newRedisGuard(t, infra)
	ctx := context.Background()
	payload := []byte(`{"customer_id":"c-1","items":[{"sku":"widget","quantity":1}]}`)

	var calls int32
	op := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`{"order_id":"o-1"}`), nil
	}

	first, err := guard.Execute(ctx, "req-1", payload, op)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := guard.Execute(ctx, "req-1", payload, op)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.JSONEq(t, string(first.Response), string(second.Response))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGuard_RedisKeyReuseWithDifferentPayloadConflicts(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	guard := newRedisGuard(t, infra)
	ctx := context.Background()

	_, err := guard.Execute(ctx, "req-1", []byte(`{"customer_id":"c-1"}`), func(ctx context.Context) ([]byte, error) {
		return []byte(`{}`), nil
	})
	require.NoError(t, err)

	_, err = guard.Execute(ctx, "req-1", []byte(`{"customer_id":"c-2"}`), func(ctx context.Context) ([]byte, error) {
		t.Error("operation must not run on a fingerprint mismatch")
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestGuard_RedisConcurrentRetriesExecuteOnce(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	guard := newRedisGuard(t, infra)
	payload := []byte(`{"customer_id":"c-1"}`)

	var calls int32
	op := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return []byte(`{"order_id":"o-1"}`), nil
	}

	const workers = 10
	results := make([]idempotency.Result, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = guard.Execute(context.Background(), "req-1", payload, op)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.JSONEq(t, `{"order_id":"o-1"}`, string(results[i].Response))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "SETNX must admit exactly one winner")
}
