package dedup

import "time"

// Marker records that one event was fully processed by one consumer group.
type Marker struct {
	EventID       string
	EventType     string
	ConsumerGroup string
	ProcessedAt   time.Time
}
