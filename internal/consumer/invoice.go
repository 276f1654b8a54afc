package consumer

import (
	"context"

	"orderflow/internal/broker"
	"orderflow/internal/logger"
	"orderflow/internal/order"
	"orderflow/pkg/errors"
	"orderflow/pkg/logging"
)

// InvoiceEffect turns an OrderCreated event into an invoice row. The insert
// carries ON CONFLICT (order_id) DO NOTHING, so applying the same event twice
// converges on one invoice regardless of the dedup marker.
type InvoiceEffect struct {
	invoices order.InvoiceRepository
	logger   logger.Logger
}

func NewInvoiceEffect(invoices order.InvoiceRepository, log logger.Logger) *InvoiceEffect {
	return &InvoiceEffect{
		invoices: invoices,
		logger:   log,
	}
}

func (e *InvoiceEffect) Apply(ctx context.Context, d broker.Delivery) error {
	ev, err := order.DecodeOrderCreated(d.Value)
	if err != nil {
		return errors.ErrUnprocessable.WithCause(err)
	}
	if err := order.ValidateOrderCreated(&ev); err != nil {
		return err
	}

	ctx = logging.WithOrderID(ctx, ev.OrderID)

	var amount int64
	for _, item := range ev.Items {
		amount += int64(item.Quantity) * item.UnitPrice
	}

	created, err := e.invoices.CreateForOrder(ctx, &order.Invoice{
		OrderID:    ev.OrderID,
		CustomerID: ev.CustomerID,
		Currency:   ev.Currency,
		Amount:     amount,
	})
	if err != nil {
		return errors.ErrServiceUnavailable.WithCause(err)
	}
	if !created {
		e.logger.DebugwCtx(ctx, "Invoice already exists for order",
			"event_id", ev.EventID,
		)
		return nil
	}

	e.logger.InfowCtx(ctx, "Invoice created",
		"event_id", ev.EventID,
		"customer_id", ev.CustomerID,
		"amount", amount,
		"currency", ev.Currency,
	)
	return nil
}
