package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP is a RabbitMQ-backed queue. Events are persistent messages on a
// durable queue and are acked once the handler returns.
type AMQP struct {
	conn   *amqp.Connection
	pub    *amqp.Channel
	pubMu  sync.Mutex
	cfg    AMQPConfig
	logger *slog.Logger
}

// NewAMQP dials the broker and declares the queue.
func NewAMQP(cfg AMQPConfig, logger *slog.Logger) (*AMQP, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", cfg.Queue, err)
	}

	logger.Info("amqp queue ready", "queue", cfg.Queue)
	return &AMQP{conn: conn, pub: ch, cfg: cfg, logger: logger}, nil
}

// Publish sends ev as a persistent JSON message.
func (q *AMQP) Publish(ctx context.Context, ev Event) error {
	body, err := encode(ev)
	if err != nil {
		return err
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if q.conn.IsClosed() {
		return ErrClosed
	}

	err = q.pub.PublishWithContext(ctx,
		"",
		q.cfg.Queue,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    ev.ID,
			Timestamp:    ev.FiredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return nil
}

// Consume reads deliveries on a dedicated channel. Messages are acked after
// the handler runs; malformed messages and handler failures are rejected
// without requeue.
func (q *AMQP) Consume(ctx context.Context, h Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(q.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(q.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %q: %w", q.cfg.Queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrClosed
			}

			ev, err := decode(d.Body)
			if err != nil {
				q.logger.Warn("dropping malformed message", "message_id", d.MessageId, "error", err)
				d.Nack(false, false)
				continue
			}

			if err := h(ctx, ev); err != nil {
				q.logger.Error("event handler failed",
					"event", ev.ID, "reminder", ev.ReminderID, "error", err)
				d.Nack(false, false)
				continue
			}
			d.Ack(false)
		}
	}
}

// Close closes the connection and every channel on it.
func (q *AMQP) Close() error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if q.conn.IsClosed() {
		return nil
	}
	return q.conn.Close()
}
