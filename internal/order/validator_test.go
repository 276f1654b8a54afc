package order

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"orderflow/pkg/errors"
)

func validRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		CustomerID: "c-1",
		Currency:   "EUR",
		Items: []ItemInput{
			{SKU: "widget", Quantity: 2, UnitPrice: 500},
		},
	}
}

func TestValidateCreateOrder(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*CreateOrderRequest)
		wantError bool
	}{
		{
			name:      "valid request",
			mutate:    func(r *CreateOrderRequest) {},
			wantError: false,
		},
		{
			name:      "missing currency is allowed",
			mutate:    func(r *CreateOrderRequest) { r.Currency = "" },
			wantError: false,
		},
		{
			name:      "missing customer id",
			mutate:    func(r *CreateOrderRequest) { r.CustomerID = "" },
			wantError: true,
		},
		{
			name:      "empty items",
			mutate:    func(r *CreateOrderRequest) { r.Items = nil },
			wantError: true,
		},
		{
			name: "too many items",
			mutate: func(r *CreateOrderRequest) {
				r.Items = make([]ItemInput, 101)
				for i := range r.Items {
					r.Items[i] = ItemInput{SKU: "widget", Quantity: 1}
				}
			},
			wantError: true,
		},
		{
			name:      "bad currency code",
			mutate:    func(r *CreateOrderRequest) { r.Currency = "EURO" },
			wantError: true,
		},
		{
			name:      "missing sku",
			mutate:    func(r *CreateOrderRequest) { r.Items[0].SKU = "" },
			wantError: true,
		},
		{
			name:      "zero quantity",
			mutate:    func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 },
			wantError: true,
		},
		{
			name:      "negative unit price",
			mutate:    func(r *CreateOrderRequest) { r.Items[0].UnitPrice = -1 },
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			err := ValidateCreateOrder(req)
			if tt.wantError {
				assert.Error(t, err)
				assert.True(t, errors.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateIdempotencyKey(t *testing.T) {
	assert.NoError(t, ValidateIdempotencyKey(""))
	assert.NoError(t, ValidateIdempotencyKey("client-key-1"))
	assert.NoError(t, ValidateIdempotencyKey(strings.Repeat("a", 255)))

	err := ValidateIdempotencyKey(strings.Repeat("a", 256))
	assert.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestValidateOrderCreated(t *testing.T) {
	valid := func() *OrderCreated {
		return &OrderCreated{
			EventID:    "ev-1",
			EventType:  EventTypeOrderCreated,
			OrderID:    "o-1",
			CustomerID: "c-1",
			Items:      []EventItem{{SKU: "widget", Quantity: 1}},
		}
	}

	tests := []struct {
		name      string
		mutate    func(*OrderCreated)
		wantError bool
	}{
		{"valid event", func(ev *OrderCreated) {}, false},
		{"missing event id", func(ev *OrderCreated) { ev.EventID = "" }, true},
		{"wrong event type", func(ev *OrderCreated) { ev.EventType = "order.updated" }, true},
		{"missing order id", func(ev *OrderCreated) { ev.OrderID = "" }, true},
		{"missing customer id", func(ev *OrderCreated) { ev.CustomerID = "" }, true},
		{"empty items", func(ev *OrderCreated) { ev.Items = nil }, true},
		{"malformed item", func(ev *OrderCreated) { ev.Items[0].Quantity = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid()
			tt.mutate(ev)
			err := ValidateOrderCreated(ev)
			if tt.wantError {
				assert.Error(t, err)
				assert.True(t, errors.IsUnprocessable(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
