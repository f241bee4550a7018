package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderPaid          = "OrderPaid"
	EventOrderInterrupted   = "OrderInterrupted"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "shop-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// StatusPayload is shared by every order lifecycle event.
type StatusPayload struct {
	OrderID          string    `json:"order_id"`
	Status           Status    `json:"status"`
	PreviousStatus   Status    `json:"previous_status,omitempty"`
	TotalAmountCents int       `json:"total_amount_cents"`
	Items            []ItemQty `json:"items,omitempty"`
	P24OrderID       int64     `json:"p24_order_id,omitempty"`
}

func itemQtys(o *Order) []ItemQty {
	out := make([]ItemQty, 0, len(o.Cart.Items))
	for _, it := range o.Cart.Items {
		out = append(out, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}
