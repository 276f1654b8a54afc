package order

import "time"

type CreateOrderRequest struct {
	CustomerID string      `json:"customer_id"`
	Currency   string      `json:"currency,omitempty"`
	Items      []ItemInput `json:"items"`
}

type ItemInput struct {
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price,omitempty"` // minor units
}

type Order struct {
	ID         string
	CustomerID string
	Currency   string
	Items      []OrderItem
	CreatedAt  time.Time
}

type OrderItem struct {
	SKU       string
	Quantity  int
	UnitPrice int64
}

type OrderResponse struct {
	OrderID    string         `json:"order_id"`
	CustomerID string         `json:"customer_id"`
	Currency   string         `json:"currency"`
	Items      []ItemResponse `json:"items"`
	CreatedAt  time.Time      `json:"created_at"`
}

type ItemResponse struct {
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Invoice is the consumer-side business effect of an OrderCreated event.
type Invoice struct {
	ID         string
	OrderID    string
	CustomerID string
	Currency   string
	Amount     int64
	CreatedAt  time.Time
}

func (o *Order) ToResponse() OrderResponse {
	items := make([]ItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemResponse{
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return OrderResponse{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Currency:   o.Currency,
		Items:      items,
		CreatedAt:  o.CreatedAt,
	}
}
