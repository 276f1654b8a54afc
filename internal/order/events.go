package order

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const EventTypeOrderCreated = "order.created"

// DefaultCurrency is applied on decode when the field is absent. Events
// published before the currency field existed must keep deserializing; this
// is the backward-compatible evolution contract for the topic.
const DefaultCurrency = "USD"

// OrderCreated is immutable once published. OrderID doubles as the partition
// key so every event for one order is observed in publish order.
type OrderCreated struct {
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	OccurredAt time.Time   `json:"occurred_at"`
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Currency   string      `json:"currency,omitempty"`
	Items      []EventItem `json:"items"`
}

type EventItem struct {
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price,omitempty"`
}

func NewOrderCreated(o *Order) OrderCreated {
	items := make([]EventItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, EventItem{
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return OrderCreated{
		EventID:    uuid.New().String(),
		EventType:  EventTypeOrderCreated,
		OccurredAt: time.Now().UTC(),
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Currency:   o.Currency,
		Items:      items,
	}
}

func EncodeOrderCreated(ev OrderCreated) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode OrderCreated event: %w", err)
	}
	return body, nil
}

// DecodeOrderCreated tolerates unknown fields and fills defaults for fields
// added after the payload was produced.
func DecodeOrderCreated(body []byte) (OrderCreated, error) {
	var ev OrderCreated
	if err := json.Unmarshal(body, &ev); err != nil {
		return OrderCreated{}, fmt.Errorf("failed to decode OrderCreated event: %w", err)
	}
	if ev.Currency == "" {
		ev.Currency = DefaultCurrency
	}
	return ev, nil
}

// EventHeader is the minimal shape shared by every event on the topic, used
// for dedup before the full payload is interpreted.
type EventHeader struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
}

func DecodeEventHeader(body []byte) (EventHeader, error) {
	var h EventHeader
	if err := json.Unmarshal(body, &h); err != nil {
		return EventHeader{}, fmt.Errorf("failed to decode event header: %w", err)
	}
	return h, nil
}
