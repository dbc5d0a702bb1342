package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatcher/internal/logger"
)

// AMQPQueue publishes events to a RabbitMQ topic exchange, using the topic
// as routing key.
type AMQPQueue struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *logger.Logger
	mu       sync.Mutex
}

// NewAMQPQueue connects to RabbitMQ and declares the durable exchange.
func NewAMQPQueue(url, exchange string, log *logger.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // delete when unused
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPQueue{conn: conn, ch: ch, exchange: exchange, log: log.Named("amqp")}, nil
}

// Publish sends the payload as JSON.
func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
	if ev, ok := payload.(Event); ok {
		msg.MessageId = ev.ID
		msg.Timestamp = ev.OccurredAt
		msg.Type = ev.Type
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ch.Publish(q.exchange, topic, false, false, msg)
}

// Subscribe binds an exclusive queue to the topic and feeds decoded events
// to the handler. AllTopics binds with the '#' wildcard.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	declared, err := q.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	key := topic
	if topic == AllTopics {
		key = "#"
	}
	if err := q.ch.QueueBind(declared.Name, key, q.exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", key, err)
	}
	msgs, err := q.ch.Consume(
		declared.Name,
		"",
		false, // autoAck = false for reliability
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", key, err)
	}

	go func() {
		for d := range msgs {
			var ev Event
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				q.log.Warn("Dropping undecodable event", zap.String("routingKey", d.RoutingKey), zap.Error(err))
				d.Ack(false)
				continue
			}
			if err := handler(ev); err != nil {
				q.log.Warn("Event handler failed, requeueing", zap.String("routingKey", d.RoutingKey), zap.Error(err))
				d.Nack(false, !d.Redelivered)
				continue
			}
			d.Ack(false)
		}
	}()
	return nil
}

// Close shuts the channel and connection.
func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)
