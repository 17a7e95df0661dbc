package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends JSON events to the broker. exchange "" with a queue name
// as key targets a work queue directly.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, event any, reqID string) error
	Close() error
}

// NoopPub drops every event. Used when no broker is configured.
type NoopPub struct{}

func NewNoop() Publisher { return NoopPub{} }

func (NoopPub) Publish(context.Context, string, string, any, string) error { return nil }
func (NoopPub) Close() error                                              { return nil }

var (
	// ErrNacked is returned when the broker refuses to take a message.
	ErrNacked = errors.New("queue: broker nacked message")
	// ErrUnroutable is returned when a message for a work queue matched no
	// queue and came back to the publisher.
	ErrUnroutable = errors.New("queue: message unroutable")
)

// RabbitPublisher keeps one connection and channel open for the process
// lifetime. The channel is in confirm mode; Publish returns once the broker
// has acked the message. Publishes are serialized on the channel.
type RabbitPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	returns chan amqp.Return
}

// NewRabbit dials url and declares the events exchange and the dispatch queue.
func NewRabbit(url string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbit: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	// one publish is in flight at a time, so one buffered return is enough
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	return &RabbitPublisher{conn: conn, ch: ch, returns: returns}, nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	// durable so queued codes survive a broker restart
	if _, err := ch.QueueDeclare(OTPDispatchQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	return nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, exchange, key string, event any, reqID string) error {
	if p == nil || p.ch == nil {
		return nil
	}
	msg, err := newPublishing(event, reqID, time.Now())
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
	}
	// work queue messages must reach a queue; events may have no subscriber
	mandatory := exchange == ""

	p.mu.Lock()
	defer p.mu.Unlock()
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, false, msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: %w", key, ErrNacked)
	}
	// the broker sends basic.return before the ack of the same message
	return unroutable(p.returns, msg.MessageId)
}

// unroutable drains pending returns without blocking and fails when one of
// them is the message identified by id.
func unroutable(returns <-chan amqp.Return, id string) error {
	var err error
	for {
		select {
		case r, ok := <-returns:
			if !ok {
				return err
			}
			if r.MessageId == id {
				err = fmt.Errorf("%w: %s (%d %s)", ErrUnroutable, r.RoutingKey, r.ReplyCode, r.ReplyText)
			}
		default:
			return err
		}
	}
}

func newPublishing(event any, reqID string, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now.UTC(),
		Body:         body,
	}
	if reqID != "" {
		msg.Headers = amqp.Table{"X-Request-ID": reqID}
	}
	return msg, nil
}
