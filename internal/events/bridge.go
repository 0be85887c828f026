package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
)

// Envelope is the wire form of an event on external brokers
type Envelope struct {
	Source string `json:"source"`
	Event
}

// Encode marshals e in its wire form
func Encode(source string, e Event) ([]byte, error) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.Marshal(Envelope{Source: source, Event: e})
}

// forward drains src into fn until ctx is done or src is closed. Failures
// are logged and never stop the loop.
func forward(ctx context.Context, src <-chan Event, fn func(context.Context, Event) error, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-src:
			if !ok {
				return
			}
			if err := fn(ctx, e); err != nil {
				logger.WithError(err).WithField("eventType", e.Type).Warn("Failed to forward push event")
			}
		}
	}
}

// RedisBridge publishes events on a Redis pub/sub channel
type RedisBridge struct {
	client  redis.Cmdable
	channel string
	source  string
	logger  *logging.Logger
}

// NewRedisBridge creates a Redis bridge
func NewRedisBridge(client redis.Cmdable, channel, source string, logger *logging.Logger) *RedisBridge {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		source:  source,
		logger:  logger.WithFields(map[string]interface{}{"component": "redis_bridge", "channel": channel}),
	}
}

// Forward publishes one event
func (r *RedisBridge) Forward(ctx context.Context, e Event) error {
	body, err := Encode(r.source, e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Run forwards every event from src until ctx is done
func (r *RedisBridge) Run(ctx context.Context, src <-chan Event) {
	r.logger.Info("Redis push bridge started")
	forward(ctx, src, r.Forward, r.logger)
}

// AMQPChannel is the subset of *amqp.Channel the bridge needs
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPBridge publishes events to a fanout exchange, routed by event type
type AMQPBridge struct {
	conn     *amqp.Connection
	ch       AMQPChannel
	exchange string
	source   string
	logger   *logging.Logger
}

// DialAMQP connects to the broker and declares a durable fanout exchange
func DialAMQP(url, exchange, source string, logger *logging.Logger) (*AMQPBridge, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	b, err := NewAMQPBridge(ch, exchange, source, logger)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	b.conn = conn
	return b, nil
}

// NewAMQPBridge wraps an open channel
func NewAMQPBridge(ch AMQPChannel, exchange, source string, logger *logging.Logger) (*AMQPBridge, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &AMQPBridge{
		ch:       ch,
		exchange: exchange,
		source:   source,
		logger:   logger.WithFields(map[string]interface{}{"component": "amqp_bridge", "exchange": exchange}),
	}, nil
}

// Forward publishes one event
func (a *AMQPBridge) Forward(_ context.Context, e Event) error {
	body, err := Encode(a.source, e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return a.ch.Publish(a.exchange, e.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Type:         e.Type,
		AppId:        a.source,
		Body:         body,
	})
}

// Run forwards every event from src until ctx is done
func (a *AMQPBridge) Run(ctx context.Context, src <-chan Event) {
	a.logger.Info("AMQP push bridge started")
	forward(ctx, src, a.Forward, a.logger)
}

// Close closes the channel and the connection
func (a *AMQPBridge) Close() error {
	err := a.ch.Close()
	if a.conn != nil {
		if cerr := a.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
