package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	IdempotencyKeyPrefix = "idem:"
	IdempotencyKeyMaxLen = 255
)

const (
	DefaultIdempotencyTTL   = 24 * time.Hour
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultPollAttempts     = 20
	DefaultSideEffectBudget = 30 * time.Second
)

const (
	DefaultOrderTopic = "order_events"
	DLQTopicSuffix    = ".dlq"
)

const (
	EventSchemaRef = "order_events/OrderCreated/v1"
)

const (
	ShutdownTimeout = 5 * time.Second
)
