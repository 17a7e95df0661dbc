package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrPermanent marks a handler failure that a redelivery cannot fix.
var ErrPermanent = errors.New("permanent failure")

// OTPHandler delivers one decoded dispatch request.
type OTPHandler func(ctx context.Context, ev OTPDispatchEvent) error

// Consumer drains OTPDispatchQueue, reconnecting with backoff whenever the
// broker connection drops.
type Consumer struct {
	URL      string
	Prefetch int
	Log      *zap.Logger
	// OnDrop runs when a request is given up on after its handler failed.
	// The code in ev was never delivered.
	OnDrop func(ctx context.Context, ev OTPDispatchEvent, err error)
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle OTPHandler) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warn("otp-consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn, handle)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warn("otp-consumer: consume loop ended, reconnecting", zap.Error(err))
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection, handle OTPHandler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	prefetch := c.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		c.Log.Warn("otp-consumer: set QoS failed", zap.Error(err))
	}
	if err := declareTopology(ch); err != nil {
		return err
	}
	msgs, err := ch.Consume(OTPDispatchQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d, handle)
		}
	}
}

// deliver acks on success. Undecodable bodies and permanent failures are
// rejected; other failures are requeued once. A rejected request that
// decoded is passed to OnDrop.
func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery, handle OTPHandler) {
	var ev OTPDispatchEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.Log.Error("otp-consumer: bad payload", zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if err := handle(ctx, ev); err != nil {
		requeue := !d.Redelivered && !errors.Is(err, ErrPermanent)
		c.Log.Error("otp-consumer: delivery failed",
			zap.String("message_id", d.MessageId),
			zap.String("channel", ev.Channel),
			zap.Bool("requeue", requeue),
			zap.Error(err))
		_ = d.Nack(false, requeue)
		if !requeue && c.OnDrop != nil {
			c.OnDrop(ctx, ev, err)
		}
		return
	}
	_ = d.Ack(false)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
