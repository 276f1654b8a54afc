package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/config"
	"orderflow/internal/logger"
	pkgerrors "orderflow/pkg/errors"
)

// memoryStore is an in-process Store with the same insert-if-absent contract
// as the Redis implementation.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]*Record)}
}

func (s *memoryStore) InsertIfAbsent(_ context.Context, key, fingerprint string) (bool, *Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[key]; ok {
		copied := *existing
		return false, &copied, nil
	}
	s.records[key] = &Record{
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	return true, nil, nil
}

func (s *memoryStore) Complete(_ context.Context, key string, response []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return errors.New("record expired before completion")
	}
	rec.Status = StatusCompleted
	rec.Response = response
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func newTestGuard(store Store) *Guard {
	return NewGuard(store, config.IdempotencyConfig{
		PollInterval: 5 * time.Millisecond,
		PollAttempts: 10,
	}, logger.NopLogger())
}

func TestGuard_FreshKeyRunsOperation(t *testing.T) {
	store := newMemoryStore()
	guard := newTestGuard(store)

	calls := 0
	result, err := guard.Execute(context.Background(), "key-1", []byte(`{"a":1}`), func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{"order_id":"o-1"}`), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, result.Replayed)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(result.Response))

	rec, err := store.Get(context.Background(), "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Completed())
}

func TestGuard_RetrySamePayloadReplaysWithoutRerun(t *testing.T) {
	store := newMemoryStore()
	guard := newTestGuard(store)
	payload := []byte(`{"customer_id":"c-1","items":[{"sku":"widget","quantity":1}]}`)

	calls := 0
	op := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{"order_id":"o-1"}`), nil
	}

	first, err := guard.Execute(context.Background(), "key-1", payload, op)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	// Retry with the same payload but different field order.
	reordered := []byte(`{"items":[{"quantity":1,"sku":"widget"}],"customer_id":"c-1"}`)
	second, err := guard.Execute(context.Background(), "key-1", reordered, op)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, 1, calls, "operation must run exactly once")
	assert.JSONEq(t, string(first.Response), string(second.Response))
}

func TestGuard_DifferentPayloadConflicts(t *testing.T) {
	store := newMemoryStore()
	guard := newTestGuard(store)

	_, err := guard.Execute(context.Background(), "key-1", []byte(`{"a":1}`), func(ctx context.Context) ([]byte, error) {
		return []byte(`{}`), nil
	})
	require.NoError(t, err)

	_, err = guard.Execute(context.Background(), "key-1", []byte(`{"a":2}`), func(ctx context.Context) ([]byte, error) {
		t.Fatal("operation must not run on conflict")
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestGuard_OperationFailureReleasesKey(t *testing.T) {
	store := newMemoryStore()
	guard := newTestGuard(store)
	opErr := errors.New("downstream unavailable")

	_, err := guard.Execute(context.Background(), "key-1", []byte(`{"a":1}`), func(ctx context.Context) ([]byte, error) {
		return nil, opErr
	})
	require.ErrorIs(t, err, opErr)

	rec, err := store.Get(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Nil(t, rec, "failed operation must not leave a record behind")

	// A clean retry succeeds.
	result, err := guard.Execute(context.Background(), "key-1", []byte(`{"a":1}`), func(ctx context.Context) ([]byte, error) {
		return []byte(`{"order_id":"o-2"}`), nil
	})
	require.NoError(t, err)
	assert.False(t, result.Replayed)
}

func TestGuard_EmptyKeyBypassesStore(t *testing.T) {
	store := newMemoryStore()
	guard := newTestGuard(store)

	calls := 0
	op := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{}`), nil
	}

	_, err := guard.Execute(context.Background(), "", []byte(`{"a":1}`), op)
	require.NoError(t, err)
	_, err = guard.Execute(context.Background(), "", []byte(`{"a":1}`), op)
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "no key means no idempotency guarantee")
	store.mu.Lock()
	assert.Empty(t, store.records)
	store.mu.Unlock()
}

func TestGuard_PendingRecordAwaitsCompletion(t *testing.T) {
	store := newMemoryStore()
	guard := newTestGuard(store)
	payload := []byte(`{"a":1}`)

	fp, err := Fingerprint(payload)
	require.NoError(t, err)

	// Another worker owns the key.
	created, _, err := store.InsertIfAbsent(context.Background(), "key-1", fp)
	require.NoError(t, err)
	require.True(t, created)

	// The owner completes while we poll.
	go func() {
		time.Sleep(15 * time.Millisecond)
		_ = store.Complete(context.Background(), "key-1", []byte(`{"order_id":"o-1"}`))
	}()

	result, err := guard.Execute(context.Background(), "key-1", payload, func(ctx context.Context) ([]byte, error) {
		t.Error("operation must not run while another worker owns the key")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(result.Response))
}

func TestGuard_PendingRecordTimesOutAsInProgress(t *testing.T) {
	store := newMemoryStore()
	guard := NewGuard(store, config.IdempotencyConfig{
		PollInterval: time.Millisecond,
		PollAttempts: 3,
	}, logger.NopLogger())
	payload := []byte(`{"a":1}`)

	fp, err := Fingerprint(payload)
	require.NoError(t, err)
	created, _, err := store.InsertIfAbsent(context.Background(), "key-1", fp)
	require.NoError(t, err)
	require.True(t, created)

	_, err = guard.Execute(context.Background(), "key-1", payload, func(ctx context.Context) ([]byte, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInProgress(err))
}

func TestGuard_OwnerFailureDuringPollReclaimsKey(t *testing.T) {
	store := newMemoryStore()
	guard := newTestGuard(store)
	payload := []byte(`{"a":1}`)

	fp, err := Fingerprint(payload)
	require.NoError(t, err)
	created, _, err := store.InsertIfAbsent(context.Background(), "key-1", fp)
	require.NoError(t, err)
	require.True(t, created)

	// The owner fails and releases the key while we wait.
	go func() {
		time.Sleep(15 * time.Millisecond)
		_ = store.Delete(context.Background(), "key-1")
	}()

	result, err := guard.Execute(context.Background(), "key-1", payload, func(ctx context.Context) ([]byte, error) {
		return []byte(`{"order_id":"o-3"}`), nil
	})
	require.NoError(t, err)
	assert.False(t, result.Replayed, "after the owner released the key, this caller should win it")
	assert.JSONEq(t, `{"order_id":"o-3"}`, string(result.Response))
}

func TestGuard_InvalidPayloadRejected(t *testing.T) {
	store := newMemoryStore()
	guard := newTestGuard(store)

	_, err := guard.Execute(context.Background(), "key-1", []byte(`not json`), func(ctx context.Context) ([]byte, error) {
		t.Fatal("operation must not run for an unfingerprintable payload")
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestGuard_ConcurrentSameKey(t *testing.T) {
	store := newMemoryStore()
	guard := newTestGuard(store)
	payload := []byte(`{"a":1}`)

	var calls int
	var callsMu sync.Mutex
	op := func(ctx context.Context) ([]byte, error) {
		callsMu.Lock()
		calls++
		callsMu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return json.RawMessage(`{"order_id":"o-1"}`), nil
	}

	const workers = 8
	results := make([]Result, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = guard.Execute(context.Background(), "key-1", payload, op)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.JSONEq(t, `{"order_id":"o-1"}`, string(results[i].Response))
	}
	assert.Equal(t, 1, calls, "only one worker may execute the operation")
}
