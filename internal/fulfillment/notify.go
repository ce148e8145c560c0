package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brewstore/internal/order"
	"brewstore/pkg/contracts"

	"github.com/segmentio/kafka-go"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NotifyStep sends the customer notification. The event id is derived from
// the order id so downstream consumers can drop repeats.
type NotifyStep struct {
	writer MessageWriter
	now    func() time.Time
}

func NewNotifyStep(w MessageWriter) *NotifyStep {
	return &NotifyStep{writer: w, now: func() time.Time { return time.Now().UTC() }}
}

func (s *NotifyStep) Name() string { return "notify" }

func (s *NotifyStep) Run(ctx context.Context, o *order.Order) error {
	items := make([]contracts.NotificationLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, contracts.NotificationLine{Name: l.Name, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}

	evt := contracts.OrderFulfilledNotification{
		EventID:       contracts.FulfilledEventID(o.ID),
		OrderID:       o.ID,
		CustomerEmail: o.CustomerEmail,
		Total:         o.Total,
		Lines:         items,
		FulfilledAt:   s.now(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Permanent(fmt.Errorf("marshal notification: %w", err))
	}

	msg := kafka.Message{
		Key:   []byte(o.ID),
		Value: payload,
		Time:  evt.FulfilledAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(contracts.EventOrderFulfilled)},
			{Key: "event_id", Value: []byte(evt.EventID)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
