package order

import (
	"fmt"

	"orderflow/internal/constants"
	"orderflow/pkg/errors"
)

const maxItemsPerOrder = 100

// ValidateCreateOrder checks the request explicitly; every rejection is a
// typed validation error the handler can map straight to a 400.
func ValidateCreateOrder(req *CreateOrderRequest) error {
	if req.CustomerID == "" {
		return validationError("customer_id is required")
	}
	if len(req.Items) == 0 {
		return validationError("items must not be empty")
	}
	if len(req.Items) > maxItemsPerOrder {
		return validationError(fmt.Sprintf("items exceeds the maximum of %d", maxItemsPerOrder))
	}
	if req.Currency != "" && len(req.Currency) != 3 {
		return validationError(fmt.Sprintf("currency %q is not a 3-letter code", req.Currency))
	}

	for i, item := range req.Items {
		if item.SKU == "" {
			return validationError(fmt.Sprintf("items[%d].sku is required", i))
		}
		if item.Quantity <= 0 {
			return validationError(fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		if item.UnitPrice < 0 {
			return validationError(fmt.Sprintf("items[%d].unit_price must not be negative", i))
		}
	}

	return nil
}

// ValidateIdempotencyKey bounds the client-supplied key; an empty key is
// valid and simply opts out of the idempotency guarantee.
func ValidateIdempotencyKey(key string) error {
	if len(key) > constants.IdempotencyKeyMaxLen {
		return validationError(fmt.Sprintf("idempotency key exceeds %d characters", constants.IdempotencyKeyMaxLen))
	}
	return nil
}

// ValidateOrderCreated guards the consumer side: a payload failing here is
// unprocessable and goes to the dead-letter topic, not back into retry.
func ValidateOrderCreated(ev *OrderCreated) error {
	if ev.EventID == "" {
		return unprocessable("event_id is missing")
	}
	if ev.EventType != EventTypeOrderCreated {
		return unprocessable(fmt.Sprintf("unexpected event type %q", ev.EventType))
	}
	if ev.OrderID == "" {
		return unprocessable("order_id is missing")
	}
	if ev.CustomerID == "" {
		return unprocessable("customer_id is missing")
	}
	if len(ev.Items) == 0 {
		return unprocessable("items must not be empty")
	}
	for i, item := range ev.Items {
		if item.SKU == "" || item.Quantity <= 0 {
			return unprocessable(fmt.Sprintf("items[%d] is malformed", i))
		}
	}
	return nil
}

func validationError(msg string) error {
	return errors.ErrValidation.WithDetail("message", msg)
}

func unprocessable(msg string) error {
	return errors.ErrUnprocessable.WithDetail("message", msg)
}
