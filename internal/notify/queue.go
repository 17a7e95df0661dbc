package notify

import (
	"context"
	"time"

	"github.com/iliyamo/crowdfund-auth/internal/logger"
	"github.com/iliyamo/crowdfund-auth/internal/queue"
)

// QueueDispatcher hands messages to the notifier worker through the broker.
// A nil error means the broker confirmed the message and routed it to the
// dispatch queue. The worker revokes codes it gives up on.
type QueueDispatcher struct {
	Pub queue.Publisher
}

func (q QueueDispatcher) Dispatch(ctx context.Context, msg Message) error {
	ev := queue.OTPDispatchEvent{
		Channel:  string(msg.Channel),
		To:       msg.To,
		Code:     msg.Code,
		Purpose:  string(msg.Purpose),
		IssuedAt: time.Now().UTC(),
	}
	return q.Pub.Publish(ctx, "", queue.OTPDispatchQueue, ev, logger.RequestID(ctx))
}
