package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/broker"
	"orderflow/internal/dedup"
	"orderflow/internal/logger"
	"orderflow/internal/order"
	pkgerrors "orderflow/pkg/errors"
	"orderflow/pkg/retry"
)

type fakeDedupStore struct {
	seen      map[string]bool
	existsErr error
	markErr   error
	marked    []string
}

func newFakeDedupStore() *fakeDedupStore {
	return &fakeDedupStore{seen: make(map[string]bool)}
}

func (s *fakeDedupStore) Exists(_ context.Context, eventID, _ string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.seen[eventID], nil
}

func (s *fakeDedupStore) Mark(_ context.Context, eventID, _, _ string) error {
	if s.markErr != nil {
		return s.markErr
	}
	if s.seen[eventID] {
		return dedup.ErrAlreadyMarked
	}
	s.seen[eventID] = true
	s.marked = append(s.marked, eventID)
	return nil
}

type fakeEffect struct {
	errs  []error
	calls int
}

func (e *fakeEffect) Apply(_ context.Context, _ broker.Delivery) error {
	e.calls++
	if len(e.errs) == 0 {
		return nil
	}
	err := e.errs[0]
	e.errs = e.errs[1:]
	return err
}

type routedCall struct {
	delivery   broker.Delivery
	cause      error
	retryCount int
}

type fakeRouter struct {
	routeErr error
	routed   []routedCall
}

func (r *fakeRouter) Route(_ context.Context, d broker.Delivery, _ string, cause error, retryCount int) error {
	if r.routeErr != nil {
		return r.routeErr
	}
	r.routed = append(r.routed, routedCall{delivery: d, cause: cause, retryCount: retryCount})
	return nil
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      1.5,
	}
}

func newTestProcessor(store dedup.Store, effect Effect, router DeadLetterRouter) *Processor {
	return NewProcessor(store, effect, router, ProcessorConfig{
		ConsumerGroup:     "billing",
		SideEffectTimeout: time.Second,
		Retry:             testPolicy(),
	}, logger.NopLogger())
}

func orderCreatedDelivery(t *testing.T, eventID string) broker.Delivery {
	t.Helper()
	ev := order.OrderCreated{
		EventID:    eventID,
		EventType:  order.EventTypeOrderCreated,
		OccurredAt: time.Now().UTC(),
		OrderID:    "o-1",
		CustomerID: "c-1",
		Currency:   "EUR",
		Items:      []order.EventItem{{SKU: "widget", Quantity: 2, UnitPrice: 500}},
	}
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return broker.Delivery{
		Topic:     "order_events",
		Partition: 1,
		Offset:    42,
		Key:       []byte(ev.OrderID),
		Value:     body,
		Time:      time.Now(),
	}
}

func TestProcessor_ProcessesAndMarks(t *testing.T) {
	store := newFakeDedupStore()
	effect := &fakeEffect{}
	router := &fakeRouter{}
	p := newTestProcessor(store, effect, router)

	err := p.Handle(context.Background(), orderCreatedDelivery(t, "ev-1"))
	require.NoError(t, err)

	assert.Equal(t, 1, effect.calls)
	assert.Equal(t, []string{"ev-1"}, store.marked)
	assert.Empty(t, router.routed)
}

func TestProcessor_DuplicateSkipped(t *testing.T) {
	store := newFakeDedupStore()
	store.seen["ev-1"] = true
	effect := &fakeEffect{}
	router := &fakeRouter{}
	p := newTestProcessor(store, effect, router)

	err := p.Handle(context.Background(), orderCreatedDelivery(t, "ev-1"))
	require.NoError(t, err)

	assert.Zero(t, effect.calls, "duplicate must not re-run the side effect")
	assert.Empty(t, router.routed)
}

func TestProcessor_UndecodablePayloadDeadLettered(t *testing.T) {
	store := newFakeDedupStore()
	effect := &fakeEffect{}
	router := &fakeRouter{}
	p := newTestProcessor(store, effect, router)

	err := p.Handle(context.Background(), broker.Delivery{
		Topic: "order_events",
		Key:   []byte("o-1"),
		Value: []byte("not json"),
	})
	require.NoError(t, err, "dead-lettered message is acknowledged")

	require.Len(t, router.routed, 1)
	assert.True(t, pkgerrors.IsUnprocessable(router.routed[0].cause))
	assert.Zero(t, effect.calls)
}

func TestProcessor_MissingEventIDDeadLettered(t *testing.T) {
	store := newFakeDedupStore()
	effect := &fakeEffect{}
	router := &fakeRouter{}
	p := newTestProcessor(store, effect, router)

	err := p.Handle(context.Background(), broker.Delivery{
		Topic: "order_events",
		Value: []byte(`{"event_type":"order.created","order_id":"o-1"}`),
	})
	require.NoError(t, err)

	require.Len(t, router.routed, 1)
	assert.True(t, pkgerrors.IsUnprocessable(router.routed[0].cause))
}

func TestProcessor_FatalErrorDeadLettersWithoutRetry(t *testing.T) {
	store := newFakeDedupStore()
	effect := &fakeEffect{errs: []error{pkgerrors.ErrUnprocessable.WithDetail("message", "bad items")}}
	router := &fakeRouter{}
	p := newTestProcessor(store, effect, router)

	err := p.Handle(context.Background(), orderCreatedDelivery(t, "ev-1"))
	require.NoError(t, err)

	assert.Equal(t, 1, effect.calls, "fatal errors must not be retried")
	require.Len(t, router.routed, 1)
	assert.True(t, pkgerrors.IsUnprocessable(router.routed[0].cause))
	assert.Empty(t, store.marked, "dead-lettered event must not be marked processed")
}

func TestProcessor_TransientErrorExhaustsRetriesThenDeadLetters(t *testing.T) {
	store := newFakeDedupStore()
	transient := pkgerrors.ErrServiceUnavailable.WithDetail("message", "db down")
	effect := &fakeEffect{errs: []error{transient, transient, transient}}
	router := &fakeRouter{}
	p := newTestProcessor(store, effect, router)

	err := p.Handle(context.Background(), orderCreatedDelivery(t, "ev-1"))
	require.NoError(t, err)

	assert.Equal(t, 3, effect.calls)
	require.Len(t, router.routed, 1)
	assert.Equal(t, 3, router.routed[0].retryCount)
	assert.Empty(t, store.marked)
}

func TestProcessor_TransientErrorRecoversOnRetry(t *testing.T) {
	store := newFakeDedupStore()
	effect := &fakeEffect{errs: []error{pkgerrors.ErrServiceUnavailable}}
	router := &fakeRouter{}
	p := newTestProcessor(store, effect, router)

	err := p.Handle(context.Background(), orderCreatedDelivery(t, "ev-1"))
	require.NoError(t, err)

	assert.Equal(t, 2, effect.calls)
	assert.Equal(t, []string{"ev-1"}, store.marked)
	assert.Empty(t, router.routed)
}

func TestProcessor_ConcurrentMarkerTreatedAsSkip(t *testing.T) {
	store := newFakeDedupStore()
	store.markErr = dedup.ErrAlreadyMarked
	effect := &fakeEffect{}
	router := &fakeRouter{}
	p := newTestProcessor(store, effect, router)

	err := p.Handle(context.Background(), orderCreatedDelivery(t, "ev-1"))
	require.NoError(t, err, "losing the marker race is a skip, not a failure")
	assert.Equal(t, 1, effect.calls)
}

func TestProcessor_MarkerWriteFailureLeavesUnacknowledged(t *testing.T) {
	store := newFakeDedupStore()
	store.markErr = errors.New("connection reset")
	effect := &fakeEffect{}
	router := &fakeRouter{}
	p := newTestProcessor(store, effect, router)

	err := p.Handle(context.Background(), orderCreatedDelivery(t, "ev-1"))
	require.Error(t, err)
	assert.Empty(t, router.routed)
}

func TestProcessor_DedupStoreOutageLeavesUnacknowledged(t *testing.T) {
	store := newFakeDedupStore()
	store.existsErr = errors.New("connection refused")
	effect := &fakeEffect{}
	router := &fakeRouter{}
	p := newTestProcessor(store, effect, router)

	err := p.Handle(context.Background(), orderCreatedDelivery(t, "ev-1"))
	require.Error(t, err)
	assert.Zero(t, effect.calls)
	assert.Empty(t, router.routed)
}

func TestProcessor_DeadLetterFailureLeavesUnacknowledged(t *testing.T) {
	store := newFakeDedupStore()
	effect := &fakeEffect{errs: []error{pkgerrors.ErrUnprocessable}}
	router := &fakeRouter{routeErr: errors.New("broker unavailable")}
	p := newTestProcessor(store, effect, router)

	err := p.Handle(context.Background(), orderCreatedDelivery(t, "ev-1"))
	require.Error(t, err, "a failed dead-letter write must not acknowledge the delivery")
}
