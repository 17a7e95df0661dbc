package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAck) Ack(uint64, bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked, f.requeue = true, requeue
	return nil
}
func (f *fakeAck) Reject(_ uint64, requeue bool) error {
	f.nacked, f.requeue = true, requeue
	return nil
}

func delivery(t *testing.T, body any, redelivered bool) (amqp.Delivery, *fakeAck) {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	ack := &fakeAck{}
	return amqp.Delivery{Acknowledger: ack, Body: raw, Redelivered: redelivered}, ack
}

func TestConsumerDeliver(t *testing.T) {
	ev := OTPDispatchEvent{Channel: "email", To: "a@x.com", Code: "123456", Purpose: "login"}
	c := &Consumer{Log: zap.NewNop()}
	ctx := context.Background()

	t.Run("ack on success", func(t *testing.T) {
		d, ack := delivery(t, ev, false)
		var got OTPDispatchEvent
		c.deliver(ctx, d, func(_ context.Context, e OTPDispatchEvent) error { got = e; return nil })
		assert.True(t, ack.acked)
		assert.Equal(t, ev.To, got.To)
		assert.Equal(t, ev.Code, got.Code)
	})

	t.Run("bad payload rejected", func(t *testing.T) {
		d, ack := delivery(t, []byte("{"), false)
		c.deliver(ctx, d, func(context.Context, OTPDispatchEvent) error {
			t.Fatal("handler must not run")
			return nil
		})
		assert.True(t, ack.nacked)
		assert.False(t, ack.requeue)
	})

	t.Run("transient failure requeued once", func(t *testing.T) {
		fail := func(context.Context, OTPDispatchEvent) error { return errors.New("smtp down") }

		d, ack := delivery(t, ev, false)
		c.deliver(ctx, d, fail)
		assert.True(t, ack.requeue)

		d, ack = delivery(t, ev, true)
		c.deliver(ctx, d, fail)
		assert.True(t, ack.nacked)
		assert.False(t, ack.requeue)
	})

	t.Run("permanent failure dropped", func(t *testing.T) {
		d, ack := delivery(t, ev, false)
		c.deliver(ctx, d, func(context.Context, OTPDispatchEvent) error {
			return fmt.Errorf("unknown channel: %w", ErrPermanent)
		})
		assert.True(t, ack.nacked)
		assert.False(t, ack.requeue)
	})
}

func TestConsumerDeliver_OnDrop(t *testing.T) {
	ev := OTPDispatchEvent{Channel: "email", To: "a@x.com", Code: "123456", Purpose: "login"}
	var dropped []OTPDispatchEvent
	c := &Consumer{Log: zap.NewNop(), OnDrop: func(_ context.Context, e OTPDispatchEvent, err error) {
		assert.Error(t, err)
		dropped = append(dropped, e)
	}}
	ctx := context.Background()
	fail := func(context.Context, OTPDispatchEvent) error { return errors.New("smtp down") }

	d, _ := delivery(t, ev, false)
	c.deliver(ctx, d, fail)
	assert.Empty(t, dropped, "requeued request is still pending")

	d, _ = delivery(t, ev, true)
	c.deliver(ctx, d, fail)
	require.Len(t, dropped, 1)
	assert.Equal(t, "123456", dropped[0].Code)

	d, _ = delivery(t, ev, false)
	c.deliver(ctx, d, func(context.Context, OTPDispatchEvent) error { return ErrPermanent })
	assert.Len(t, dropped, 2)

	d, _ = delivery(t, ev, false)
	c.deliver(ctx, d, func(context.Context, OTPDispatchEvent) error { return nil })
	assert.Len(t, dropped, 2)

	d, _ = delivery(t, []byte("{"), false)
	c.deliver(ctx, d, fail)
	assert.Len(t, dropped, 2, "undecodable body carries no code to revoke")
}

func TestUnroutable(t *testing.T) {
	returns := make(chan amqp.Return, 2)
	assert.NoError(t, unroutable(returns, "m1"))

	returns <- amqp.Return{MessageId: "m0", RoutingKey: OTPDispatchQueue}
	assert.NoError(t, unroutable(returns, "m1"), "stale return for another message")
	assert.Empty(t, returns)

	returns <- amqp.Return{MessageId: "m1", RoutingKey: OTPDispatchQueue, ReplyCode: 312, ReplyText: "NO_ROUTE"}
	err := unroutable(returns, "m1")
	assert.ErrorIs(t, err, ErrUnroutable)
	assert.Contains(t, err.Error(), "NO_ROUTE")

	close(returns)
	assert.NoError(t, unroutable(returns, "m1"))
}

func TestNewPublishing(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	msg, err := newPublishing(UserEvent{UserID: "u1", Email: "a@x.com"}, "req-1", now)
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.NotEmpty(t, msg.MessageId)
	assert.Equal(t, now.UTC(), msg.Timestamp)
	assert.Equal(t, "req-1", msg.Headers["X-Request-ID"])
	assert.JSONEq(t, `{"user_id":"u1","email":"a@x.com","occurred_at":"0001-01-01T00:00:00Z"}`, string(msg.Body))

	msg, err = newPublishing(UserEvent{}, "", now)
	require.NoError(t, err)
	assert.Nil(t, msg.Headers)
}

func TestNoopPublisher(t *testing.T) {
	p := NewNoop()
	assert.NoError(t, p.Publish(context.Background(), EventsExchange, KeyUserRegistered, UserEvent{}, ""))
	assert.NoError(t, p.Close())
}
