package idempotency

import (
	"encoding/json"
	"time"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Record is the stored state for one idempotency key. It is written once as
// pending, promoted to completed with the cached response, and otherwise only
// removed by TTL expiry (or explicitly, when the guarded operation failed and
// the key must stay retryable).
type Record struct {
	Fingerprint string          `json:"fingerprint"`
	Status      string          `json:"status"`
	Response    json.RawMessage `json:"response,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (r *Record) Completed() bool {
	return r.Status == StatusCompleted
}
