package broker

import (
	"context"
	"time"
)

// Delivery is one message as handed to a consumer handler, with enough
// transport coordinates to acknowledge, diagnose, or dead-letter it.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// HandlerFunc processes a delivery. Returning nil acknowledges the message;
// returning an error leaves it unacknowledged for transport-level redelivery.
type HandlerFunc func(ctx context.Context, d Delivery) error

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}
