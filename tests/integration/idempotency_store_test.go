package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/idempotency"
)

func TestRedisStore_InsertIfAbsent(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)

	ctx := context.Background()
	store := idempotency.NewRedisStore(infra.RedisClient, time.Minute)

	created, existing, err := store.InsertIfAbsent(ctx, "key-1", "fp-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, existing)

	created, existing, err = store.InsertIfAbsent(ctx, "key-1", "fp-2")
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, existing)
	assert.Equal(t, "fp-1", existing.Fingerprint, "the first writer's fingerprint wins")
	assert.Equal(t, idempotency.StatusPending, existing.Status)
}

func TestRedisStore_CompleteCachesResponse(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)

	ctx := context.Background()
	store := idempotency.NewRedisStore(infra.RedisClient, time.Minute)

	created, _, err := store.InsertIfAbsent(ctx, "key-1", "fp-1")
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, store.Complete(ctx, "key-1", []byte(`{"order_id":"o-1"}`)))

	rec, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Completed())
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(rec.Response))
}

func TestRedisStore_CompletePreservesTTL(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)

	ctx := context.Background()
	store := idempotency.NewRedisStore(infra.RedisClient, 30*time.Second)

	created, _, err := store.InsertIfAbsent(ctx, "key-1", "fp-1")
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, store.Complete(ctx, "key-1", []byte(`{}`)))

	ttl, err := infra.RedisClient.TTL(ctx, "idem:key-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "completion must not clear the expiry")
	assert.LessOrEqual(t, ttl, 30*time.Second)
}

func TestRedisStore_TTLExpiryReleasesKey(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)

	ctx := context.Background()
	store := idempotency.NewRedisStore(infra.RedisClient, time.Second)

	created, _, err := store.InsertIfAbsent(ctx, "key-1", "fp-1")
	require.NoError(t, err)
	require.True(t, created)

	time.Sleep(1500 * time.Millisecond)

	rec, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	created, _, err = store.InsertIfAbsent(ctx, "key-1", "fp-2")
	require.NoError(t, err)
	assert.True(t, created, "an expired key is claimable again")
}

func TestRedisStore_Delete(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)

	ctx := context.Background()
	store := idempotency.NewRedisStore(infra.RedisClient, time.Minute)

	created, _, err := store.InsertIfAbsent(ctx, "key-1", "fp-1")
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, store.Delete(ctx, "key-1"))

	rec, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
