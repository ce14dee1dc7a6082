package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/warp/savings-engine/generic"
)

// amqpChannel is the part of *amqp091.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQP publishes events to a durable topic exchange. A publish that fails
// reopens the channel once and retries; if that fails too the event is
// logged and the error returned.
type AMQP struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	open     func() (amqpChannel, error)
	ch       amqpChannel
	exchange string
	declared bool
	fallback generic.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// DialAMQP connects to RabbitMQ and declares the exchange lazily.
func DialAMQP(rawURL, exchange string, logger *slog.Logger) (*AMQP, error) {
	clean, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(clean, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	open := func() (amqpChannel, error) { return conn.Channel() }
	p, err := newAMQP(open, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewAMQPOrLog returns an AMQP publisher, or a Log notifier when RabbitMQ
// is unreachable at startup.
func NewAMQPOrLog(rawURL, exchange string, logger *slog.Logger) generic.Notifier {
	p, err := DialAMQP(rawURL, exchange, logger)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("amqp unavailable, events will be logged only", "error", err)
		return NewLog(logger)
	}
	return p
}

func newAMQP(open func() (amqpChannel, error), exchange string, logger *slog.Logger) (*AMQP, error) {
	if exchange == "" {
		exchange = "savings_events"
	}
	if logger == nil {
		logger = slog.Default()
	}
	ch, err := open()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQP{
		open:     open,
		ch:       ch,
		exchange: exchange,
		fallback: NewLog(logger),
		logger:   logger.With("component", "amqp_publisher"),
		now:      time.Now,
	}, nil
}

func (p *AMQP) Notify(ctx context.Context, owner generic.OwnerID, kind generic.EventKind, payload map[string]any) error {
	evt := envelope(owner, kind, payload, p.now())
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", kind, err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publish(ctx, string(kind), msg)
	if err != nil {
		p.logger.WarnContext(ctx, "publish failed; reopening channel", "kind", kind, "error", err)
		if rerr := p.reopen(); rerr != nil {
			err = errors.Join(err, rerr)
		} else {
			err = p.publish(ctx, string(kind), msg)
		}
	}
	if err != nil {
		p.fallback.Notify(ctx, owner, kind, payload)
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

func (p *AMQP) publish(ctx context.Context, key string, msg amqp091.Publishing) error {
	if !p.declared {
		if err := p.ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
		}
		p.declared = true
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
}

func (p *AMQP) reopen() error {
	if p.ch != nil {
		p.ch.Close()
	}
	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("reopen channel: %w", err)
	}
	p.ch = ch
	p.declared = false
	return nil
}

func (p *AMQP) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse amqp url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("amqp url scheme must be amqp:// or amqps://")
	}
	return clean, nil
}
