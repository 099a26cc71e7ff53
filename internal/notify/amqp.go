package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeType = "topic"

// publisher is the slice of *amqp.Channel the dispatcher needs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPDispatcher hands messages to the delivery service over RabbitMQ.
// Routing keys are notification.<channel>.
type AMQPDispatcher struct {
	conn     *amqp.Connection
	channel  publisher
	exchange string
}

// NewAMQPDispatcher connects and declares the topic exchange.
func NewAMQPDispatcher(url, exchange string) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPDispatcher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (d *AMQPDispatcher) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return Permanent(fmt.Errorf("marshal message: %w", err))
	}

	err = d.channel.PublishWithContext(
		ctx,
		d.exchange,
		"notification."+string(msg.Channel),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			MessageId:    uuid.NewString(),
		},
	)
	if err != nil {
		return classifyAMQP(err)
	}
	return nil
}

// classifyAMQP treats broker-side refusals of the request itself as
// permanent and everything else (closed connections, timeouts) as transient.
func classifyAMQP(err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.NotFound, amqp.AccessRefused, amqp.NotAllowed, amqp.NotImplemented:
			return Permanent(err)
		}
	}
	return Retryable(err)
}

func (d *AMQPDispatcher) Close() error {
	if c, ok := d.channel.(*amqp.Channel); ok && c != nil {
		_ = c.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
