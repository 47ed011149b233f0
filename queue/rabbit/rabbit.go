// Package rabbit implements recall.MessageQueue on RabbitMQ.
//
// Queues are declared durable and messages published persistent, so a
// broker restart loses neither. Consumers use manual acknowledgement
// with a bounded prefetch window.
package rabbit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/recallio/recall"
)

// Queue implements recall.MessageQueue backed by an AMQP connection.
type Queue struct {
	conn   *amqp.Connection
	logger *slog.Logger

	mu       sync.Mutex
	pubCh    *amqp.Channel
	declared map[string]bool
}

var _ recall.MessageQueue = (*Queue)(nil)

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// Dial connects to the broker at url and opens a publish channel.
func Dial(url string, opts ...Option) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbit: open channel: %w", err)
	}
	q := &Queue{conn: conn, pubCh: ch, declared: map[string]bool{}}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.New(slog.DiscardHandler)
	}
	return q, nil
}

// Close shuts down the connection and all of its channels.
func (q *Queue) Close() error {
	return q.conn.Close()
}

func (q *Queue) declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbit: declare queue %s: %w", name, err)
	}
	return nil
}

// Publish enqueues body on the named queue with persistent delivery.
func (q *Queue) Publish(ctx context.Context, queue string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.declared[queue] {
		if err := q.declare(q.pubCh, queue); err != nil {
			return err
		}
		q.declared[queue] = true
	}
	err := q.pubCh.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return &recall.TransientError{Op: "rabbit publish", Err: err}
	}
	return nil
}

// Consume opens a dedicated channel on the named queue and delivers
// messages until ctx is cancelled. At most prefetch messages are held
// unacknowledged at a time.
func (q *Queue) Consume(ctx context.Context, queue string, prefetch int) (<-chan recall.Delivery, error) {
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbit: open channel: %w", err)
	}
	if err := q.declare(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("rabbit: qos: %w", err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("rabbit: consume: %w", err)
	}

	out := make(chan recall.Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- &delivery{msg: msg}:
				case <-ctx.Done():
					// Unacked message returns to the queue when the
					// channel closes.
					return
				}
			}
		}
	}()
	return out, nil
}

type delivery struct {
	msg amqp.Delivery
}

var _ recall.Delivery = (*delivery)(nil)

func (d *delivery) Body() []byte       { return d.msg.Body }
func (d *delivery) Ack() error         { return d.msg.Ack(false) }
func (d *delivery) NackRequeue() error { return d.msg.Nack(false, true) }
func (d *delivery) NackDrop() error    { return d.msg.Nack(false, false) }
