package review

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange review items are published to.
const DefaultExchange = "bookrecon.review"

// publisher is the subset of *amqp.Channel the queue needs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPQueue publishes review items as JSON to a RabbitMQ topic exchange with
// routing key "review.<kind>".
type AMQPQueue struct {
	conn     *amqp.Connection
	ch       publisher
	exchange string
	now      func() time.Time
}

// DialAMQP connects to url and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPQueue, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, exchange: exchange, now: time.Now}, nil
}

// RoutingKey returns the routing key for a review kind.
func RoutingKey(kind string) string {
	return "review." + kind
}

// Enqueue implements Queue.
func (q *AMQPQueue) Enqueue(ctx context.Context, item Item) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = q.now().UTC()
	}
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal review item: %w", err)
	}
	err = q.ch.PublishWithContext(ctx, q.exchange, RoutingKey(item.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    item.SourceID,
		Timestamp:    item.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish review item %s: %w", item.SourceID, err)
	}
	return nil
}

// Close closes the channel and connection.
func (q *AMQPQueue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
