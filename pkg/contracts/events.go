package contracts

import "time"

const (
	EventOrderStatusChanged = "orders.status_changed"
	EventOrderFulfilled     = "orders.fulfilled"
)

// OrderStatusChanged is published by the worker on every status transition
// and fanned out to the API process for live order tracking.
type OrderStatusChanged struct {
	EventID   string    `json:"event_id"`
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	Attempt   int       `json:"attempt"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

type NotificationLine struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type OrderFulfilledNotification struct {
	EventID       string             `json:"event_id"`
	OrderID       string             `json:"order_id"`
	CustomerEmail string             `json:"customer_email,omitempty"`
	Total         int64              `json:"total"`
	Lines         []NotificationLine `json:"lines"`
	FulfilledAt   time.Time          `json:"fulfilled_at"`
}

func FulfilledEventID(orderID string) string {
	return EventOrderFulfilled + ":" + orderID
}
