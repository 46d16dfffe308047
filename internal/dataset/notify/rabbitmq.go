// Package notify publishes dataset record events to a RabbitMQ topic
// exchange. Publishing is best-effort: failures are logged and counted, and a
// circuit breaker stops hammering a broker that is down.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"dataplane/internal/dataset/models"
	"dataplane/pkg/platform/circuit"
)

const (
	DefaultExchange = "dataplane.events"
	publishTimeout  = 5 * time.Second
)

// Channel is the part of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// FailureCounter counts dropped notifications.
type FailureCounter interface {
	IncNotifyFailures()
}

type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  Channel
	exchange string
	breaker  *circuit.Breaker
	logger   *slog.Logger
	failures FailureCounter
	timeout  time.Duration
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithFailureCounter(c FailureCounter) Option {
	return func(p *Publisher) {
		p.failures = c
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		p.breaker = b
	}
}

func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New wraps an open channel. The exchange must already exist.
func New(channel Channel, exchange string, opts ...Option) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	p := &Publisher{
		channel:  channel,
		exchange: exchange,
		breaker:  circuit.New("rabbitmq-notify"),
		logger:   slog.Default(),
		timeout:  publishTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dial connects to the broker, declares a durable topic exchange and returns
// a publisher bound to it.
func Dial(url, exchange string, opts ...Option) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := New(ch, exchange, opts...)
	p.conn = conn
	p.logger.Info("rabbitmq publisher initialized", "exchange", exchange)
	return p, nil
}

// RoutingKey is dataset.<dataset-id>.<event-type>, so consumers can bind on
// one dataset or one event kind.
func RoutingKey(e models.Event) string {
	return "dataset." + e.DatasetID.String() + "." + string(e.Type)
}

// Notify publishes e. It never returns an error; the operation that produced
// the event has already committed.
func (p *Publisher) Notify(ctx context.Context, e models.Event) {
	if !p.breaker.Allow() {
		p.drop(ctx, e, "circuit open", nil)
		return
	}
	if err := p.publish(ctx, e); err != nil {
		_, change := p.breaker.RecordFailure()
		if change.Opened {
			p.logger.WarnContext(ctx, "notification circuit opened", "exchange", p.exchange)
		}
		p.drop(ctx, e, "publish failed", err)
		return
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.InfoContext(ctx, "notification circuit closed", "exchange", p.exchange)
	}
}

func (p *Publisher) publish(ctx context.Context, e models.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, p.exchange, RoutingKey(e), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         string(e.Type),
		Timestamp:    e.OccurredAt,
		Body:         body,
	})
}

func (p *Publisher) drop(ctx context.Context, e models.Event, reason string, err error) {
	attrs := []any{
		"event", string(e.Type),
		"dataset_id", e.DatasetID.String(),
		"reason", reason,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	p.logger.WarnContext(ctx, "notification dropped", attrs...)
	if p.failures != nil {
		p.failures.IncNotifyFailures()
	}
}

// Health reports whether the broker connection is usable.
func (p *Publisher) Health() error {
	if p.conn != nil && p.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	if p.breaker.IsOpen() {
		return fmt.Errorf("rabbitmq publishing circuit is open")
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.logger.Error("failed to close rabbitmq channel", "error", err)
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
