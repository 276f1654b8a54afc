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
	"orderflow/internal/logger"
	"orderflow/internal/order"
	pkgerrors "orderflow/pkg/errors"
)

type fakeInvoiceRepo struct {
	createErr error
	invoices  map[string]*order.Invoice
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{invoices: make(map[string]*order.Invoice)}
}

func (r *fakeInvoiceRepo) CreateForOrder(_ context.Context, inv *order.Invoice) (bool, error) {
	if r.createErr != nil {
		return false, r.createErr
	}
	if _, ok := r.invoices[inv.OrderID]; ok {
		return false, nil
	}
	r.invoices[inv.OrderID] = inv
	return true, nil
}

func (r *fakeInvoiceRepo) GetByOrderID(_ context.Context, orderID string) (*order.Invoice, error) {
	inv, ok := r.invoices[orderID]
	if !ok {
		return nil, errors.New("not found")
	}
	return inv, nil
}

func invoiceDelivery(t *testing.T, ev order.OrderCreated) broker.Delivery {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return broker.Delivery{Topic: "order_events", Key: []byte(ev.OrderID), Value: body, Time: time.Now()}
}

func validEvent() order.OrderCreated {
	return order.OrderCreated{
		EventID:    "ev-1",
		EventType:  order.EventTypeOrderCreated,
		OccurredAt: time.Now().UTC(),
		OrderID:    "o-1",
		CustomerID: "c-1",
		Currency:   "EUR",
		Items: []order.EventItem{
			{SKU: "widget", Quantity: 2, UnitPrice: 500},
			{SKU: "gadget", Quantity: 1, UnitPrice: 250},
		},
	}
}

func TestInvoiceEffect_CreatesInvoiceWithTotal(t *testing.T) {
	repo := newFakeInvoiceRepo()
	effect := NewInvoiceEffect(repo, logger.NopLogger())

	err := effect.Apply(context.Background(), invoiceDelivery(t, validEvent()))
	require.NoError(t, err)

	inv, err := repo.GetByOrderID(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2*500+250), inv.Amount)
	assert.Equal(t, "EUR", inv.Currency)
	assert.Equal(t, "c-1", inv.CustomerID)
}

func TestInvoiceEffect_SecondApplicationIsNoop(t *testing.T) {
	repo := newFakeInvoiceRepo()
	effect := NewInvoiceEffect(repo, logger.NopLogger())
	d := invoiceDelivery(t, validEvent())

	require.NoError(t, effect.Apply(context.Background(), d))
	require.NoError(t, effect.Apply(context.Background(), d))

	assert.Len(t, repo.invoices, 1)
}

func TestInvoiceEffect_MalformedPayloadIsUnprocessable(t *testing.T) {
	repo := newFakeInvoiceRepo()
	effect := NewInvoiceEffect(repo, logger.NopLogger())

	err := effect.Apply(context.Background(), broker.Delivery{Value: []byte("garbage")})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsUnprocessable(err))
}

func TestInvoiceEffect_InvalidEventIsUnprocessable(t *testing.T) {
	repo := newFakeInvoiceRepo()
	effect := NewInvoiceEffect(repo, logger.NopLogger())

	ev := validEvent()
	ev.Items = nil

	err := effect.Apply(context.Background(), invoiceDelivery(t, ev))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsUnprocessable(err))
}

func TestInvoiceEffect_RepositoryErrorIsRetryable(t *testing.T) {
	repo := newFakeInvoiceRepo()
	repo.createErr = errors.New("connection reset")
	effect := NewInvoiceEffect(repo, logger.NopLogger())

	err := effect.Apply(context.Background(), invoiceDelivery(t, validEvent()))
	require.Error(t, err)

	var appErr *pkgerrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.IsRetryable())
}
