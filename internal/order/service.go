package order

import (
	"context"

	"orderflow/internal/broker"
	"orderflow/internal/logger"
	"orderflow/pkg/errors"
	"orderflow/pkg/logging"
)

// Service creates orders and publishes the corresponding OrderCreated events.
// Publishing is asynchronous: the producer hands the message to its internal
// writer and the request returns without waiting for broker acknowledgement.
type Service struct {
	repo     Repository
	producer broker.Producer
	topic    string
	logger   logger.Logger
}

func NewService(repo Repository, producer broker.Producer, topic string, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		producer: producer,
		topic:    topic,
		logger:   log,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Order, error) {
	if err := ValidateCreateOrder(req); err != nil {
		return nil, err
	}

	o := &Order{
		CustomerID: req.CustomerID,
		Currency:   req.Currency,
	}
	if o.Currency == "" {
		o.Currency = DefaultCurrency
	}
	for _, item := range req.Items {
		o.Items = append(o.Items, OrderItem{
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	ctx = logging.WithOrderID(ctx, o.ID)

	ev := NewOrderCreated(o)
	body, err := EncodeOrderCreated(ev)
	if err != nil {
		return nil, errors.ErrInternal.WithCause(err)
	}

	// Keyed by order id so all events for one order land on the same
	// partition and are consumed in publish order.
	if err := s.producer.Publish(ctx, s.topic, []byte(o.ID), body); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to enqueue OrderCreated event",
			"error", err,
			"event_id", ev.EventID,
			"topic", s.topic,
		)
		return nil, errors.ErrServiceUnavailable.WithCause(err)
	}

	s.logger.InfowCtx(ctx, "Order created",
		"event_id", ev.EventID,
		"customer_id", o.CustomerID,
		"items", len(o.Items),
	)
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.repo.GetOrder(ctx, id)
}
