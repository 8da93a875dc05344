/**
 * @description
 * Publishing side of the ledger's RabbitMQ integration. Ledger events are JSON
 * documents sent to a durable topic exchange; the exchange is declared the first
 * time it is used on a channel.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 * - go.uber.org/zap: Structured logging.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const dialTimeout = 10 * time.Second

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// Identified bodies are published with their id as the AMQP message id so
// consumers can drop redeliveries.
type Identified interface {
	MessageID() string
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is not configured
// or unavailable at startup.
type EventProducerFallback struct {
	Logger *zap.Logger
}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if p.Logger != nil {
		p.Logger.Debug("publish skipped",
			zap.String("component", "rabbitmq_producer"),
			zap.String("mode", "fallback"),
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
		)
	}
	return nil
}

func (p *EventProducerFallback) Close() {}

// amqpChannel is the part of *amqp091.Channel the producer uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// EventProducer publishes over a single connection. Channels are not safe for
// concurrent use, so every publish holds mu.
type EventProducer struct {
	mu         sync.Mutex
	conn       *amqp091.Connection
	channel    amqpChannel
	newChannel func() (amqpChannel, error)
	declared   map[string]bool
	logger     *zap.Logger
}

// normalizeAMQPURL trims quoting and anything in front of the scheme that env
// files tend to leave behind, then validates the result with the client's parser.
func normalizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	if _, err := amqp091.ParseURI(clean); err != nil {
		return "", fmt.Errorf("invalid RABBITMQ_URL: %w", err)
	}
	return clean, nil
}

// NewEventProducer dials RabbitMQ and opens a channel.
func NewEventProducer(amqpURL string, logger *zap.Logger) (*EventProducer, error) {
	target, err := normalizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp091.DialConfig(target, amqp091.Config{Dial: amqp091.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	p := &EventProducer{
		conn:       conn,
		newChannel: func() (amqpChannel, error) { return conn.Channel() },
		logger:     logger.With(zap.String("component", "rabbitmq_producer")),
	}
	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// openChannel replaces the current channel, closing the old one first.
func (p *EventProducer) openChannel() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			p.logger.Debug("stale channel close failed", zap.Error(err))
		}
		p.channel = nil
	}

	ch, err := p.newChannel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	p.channel = ch
	p.declared = make(map[string]bool)
	return nil
}

// Publish marshals body to JSON and sends it to exchange with routingKey. A failed
// publish reopens the channel and tries once more.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	msg, err := newPublishing(body)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err = p.send(ctx, exchange, routingKey, msg); err == nil {
		return nil
	}

	p.logger.Warn("publish failed; reopening channel",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.Error(err),
	)
	if chErr := p.openChannel(); chErr != nil {
		return chErr
	}
	return p.send(ctx, exchange, routingKey, msg)
}

func newPublishing(body interface{}) (amqp091.Publishing, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}
	if id, ok := body.(Identified); ok {
		msg.MessageId = id.MessageID()
	}
	return msg, nil
}

func (p *EventProducer) send(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error {
	if p.channel == nil {
		return amqp091.ErrClosed
	}
	if !p.declared[exchange] {
		// durable topic exchange, not auto-deleted
		if err := p.channel.ExchangeDeclare(exchange, amqp091.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
		p.declared[exchange] = true
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
