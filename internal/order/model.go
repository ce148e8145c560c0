package order

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFulfilled  Status = "fulfilled"
	StatusFailed     Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusFulfilled, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusFulfilled, StatusPending, StatusFailed},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MaxLineQuantity caps a single line so totals stay far from overflow and
// fit the INTEGER quantity column.
const MaxLineQuantity = 10_000

type Line struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

func (l Line) Subtotal() int64 {
	return int64(l.Quantity) * l.UnitPrice
}

type Order struct {
	ID             string    `json:"id"`
	Lines          []Line    `json:"lines"`
	Total          int64     `json:"total"`
	Status         Status    `json:"status"`
	Queued         bool      `json:"queued"`
	CustomerEmail  string    `json:"customer_email,omitempty"`
	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// ClaimedBy and ClaimExpiresAt are set while a worker holds the order
	// in processing.
	ClaimedBy      string    `json:"-"`
	ClaimExpiresAt time.Time `json:"-"`
}

func Total(lines []Line) int64 {
	var total int64
	for _, l := range lines {
		total += l.Subtotal()
	}
	return total
}

// OutboxEntry is an order whose WorkItem has not been confirmed by the queue.
type OutboxEntry struct {
	OrderID   string
	Attempts  int
	CreatedAt time.Time
}
