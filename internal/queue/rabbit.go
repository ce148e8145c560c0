package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Rabbit is a durable queue on RabbitMQ. Delayed requeues go to a retry
// queue whose expired messages dead-letter back into the work queue.
type Rabbit struct {
	url        string
	queue      string
	retryQueue string
	prefetch   int
	logger     *slog.Logger

	mu         sync.Mutex
	conn       *amqp091.Connection
	consumeCh  *amqp091.Channel
	deliveries <-chan amqp091.Delivery
	closed     bool
}

type rabbitToken struct {
	raw amqp091.Delivery
}

func NewRabbit(url, queue string, prefetch int, logger *slog.Logger) (*Rabbit, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	r := &Rabbit{
		url:        url,
		queue:      queue,
		retryQueue: queue + ".retry",
		prefetch:   prefetch,
		logger:     logger,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.connection(); err != nil {
		return nil, err
	}
	return r, nil
}

// connection must be called with mu held.
func (r *Rabbit) connection() (*amqp091.Connection, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	conn, err := amqp091.Dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("%w: connect rabbitmq: %v", ErrUnavailable, err)
	}
	if err := r.declare(conn); err != nil {
		conn.Close()
		return nil, err
	}
	r.conn = conn
	r.consumeCh = nil
	r.deliveries = nil
	return conn, nil
}

func (r *Rabbit) declare(conn *amqp091.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: open channel: %v", ErrUnavailable, err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(
		r.queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if _, err := ch.QueueDeclare(
		r.retryQueue,
		true,
		false,
		false,
		false,
		amqp091.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": r.queue,
		},
	); err != nil {
		return fmt.Errorf("declare retry queue: %w", err)
	}
	return nil
}

func (r *Rabbit) Enqueue(ctx context.Context, item WorkItem) error {
	return r.publish(ctx, r.queue, item, 0)
}

func (r *Rabbit) publish(ctx context.Context, queue string, item WorkItem, delay time.Duration) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal work item: %w", err)
	}

	r.mu.Lock()
	conn, err := r.connection()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: open channel: %v", ErrUnavailable, err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("%w: confirm mode: %v", ErrUnavailable, err)
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    item.OrderID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if delay > 0 {
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
	if err != nil {
		return fmt.Errorf("%w: publish: %v", ErrUnavailable, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: wait confirm: %v", ErrUnavailable, err)
	}
	if !acked {
		return fmt.Errorf("%w: broker nacked %s", ErrUnavailable, item.OrderID)
	}
	return nil
}

func (r *Rabbit) consumer() (<-chan amqp091.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deliveries != nil {
		return r.deliveries, nil
	}
	conn, err := r.connection()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %v", ErrUnavailable, err)
	}
	if err := ch.Qos(r.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(r.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume queue: %w", err)
	}

	r.consumeCh = ch
	r.deliveries = msgs
	return msgs, nil
}

func (r *Rabbit) resetConsumer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumeCh != nil {
		_ = r.consumeCh.Close()
	}
	r.consumeCh = nil
	r.deliveries = nil
}

func (r *Rabbit) Dequeue(ctx context.Context) (Delivery, error) {
	for {
		msgs, err := r.consumer()
		if err != nil {
			return Delivery{}, err
		}

		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				r.resetConsumer()
				if r.isClosed() {
					return Delivery{}, ErrClosed
				}
				return Delivery{}, fmt.Errorf("%w: consumer channel closed", ErrUnavailable)
			}

			var item WorkItem
			if err := json.Unmarshal(msg.Body, &item); err != nil || item.OrderID == "" {
				r.logger.Error("dropping malformed work item", "message_id", msg.MessageId, "err", err)
				_ = msg.Nack(false, false)
				continue
			}
			return Delivery{Item: item, token: rabbitToken{raw: msg}}, nil
		}
	}
}

func (r *Rabbit) Ack(ctx context.Context, d Delivery) error {
	tok, ok := d.token.(rabbitToken)
	if !ok {
		return ErrUnknownDelivery
	}
	if err := tok.raw.Ack(false); err != nil {
		return fmt.Errorf("ack %s: %w", d.Item.OrderID, err)
	}
	return nil
}

func (r *Rabbit) Requeue(ctx context.Context, d Delivery, delay time.Duration) error {
	next := d.Item
	next.Attempt++
	return r.republish(ctx, d, next, delay)
}

func (r *Rabbit) Postpone(ctx context.Context, d Delivery, delay time.Duration) error {
	return r.republish(ctx, d, d.Item, delay)
}

// republish routes next through the retry queue when delay is set, then
// acks the original. A failed publish nacks it back onto the work queue.
func (r *Rabbit) republish(ctx context.Context, d Delivery, next WorkItem, delay time.Duration) error {
	tok, ok := d.token.(rabbitToken)
	if !ok {
		return ErrUnknownDelivery
	}

	target := r.retryQueue
	if delay <= 0 {
		target = r.queue
	}

	if err := r.publish(ctx, target, next, delay); err != nil {
		if nackErr := tok.raw.Nack(false, true); nackErr != nil {
			return errors.Join(err, nackErr)
		}
		return err
	}
	if err := tok.raw.Ack(false); err != nil {
		return fmt.Errorf("ack requeued %s: %w", d.Item.OrderID, err)
	}
	return nil
}

func (r *Rabbit) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Rabbit) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.consumeCh != nil {
		_ = r.consumeCh.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
