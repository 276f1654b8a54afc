package dlq

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"orderflow/internal/broker"
	"orderflow/pkg/errors"
)

// Envelope carries everything a replay process needs to re-publish the
// original message without consulting live system state.
type Envelope struct {
	OriginalTopic    string    `json:"original_topic"`
	OriginalKey      string    `json:"original_key"`
	Partition        int       `json:"partition"`
	Offset           int64     `json:"offset"`
	ConsumerGroup    string    `json:"consumer_group"`
	ErrorClass       string    `json:"error_class"`
	ErrorMessage     string    `json:"error_message"`
	FailedAt         time.Time `json:"failed_at"`
	RetryCount       int       `json:"retry_count"`
	Payload          string    `json:"payload"`
	PayloadSchemaRef string    `json:"payload_schema_ref"`
}

func NewEnvelope(d broker.Delivery, consumerGroup string, cause error, retryCount int, schemaRef string) Envelope {
	return Envelope{
		OriginalTopic:    d.Topic,
		OriginalKey:      string(d.Key),
		Partition:        d.Partition,
		Offset:           d.Offset,
		ConsumerGroup:    consumerGroup,
		ErrorClass:       errors.Code(cause),
		ErrorMessage:     cause.Error(),
		FailedAt:         time.Now().UTC(),
		RetryCount:       retryCount,
		Payload:          base64.StdEncoding.EncodeToString(d.Value),
		PayloadSchemaRef: schemaRef,
	}
}

// DecodePayload returns the original message bytes.
func (e Envelope) DecodePayload() ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode dead-letter payload: %w", err)
	}
	return payload, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dead-letter envelope: %w", err)
	}
	return body, nil
}

func Unmarshal(body []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal dead-letter envelope: %w", err)
	}
	return e, nil
}
