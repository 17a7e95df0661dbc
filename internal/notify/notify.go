// Package notify delivers one-time codes to users over email or SMS.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Channel is the medium a code is sent over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Purpose tags why a code was issued.
type Purpose string

const (
	PurposeLogin    Purpose = "login"
	PurposeRegister Purpose = "register"
)

// ErrUnsupportedChannel is returned by a dispatcher that cannot serve the
// message's channel.
var ErrUnsupportedChannel = errors.New("notify: unsupported channel")

// Message is a single outbound one-time code.
type Message struct {
	Channel Channel
	To      string
	Code    string
	Purpose Purpose
}

// Dispatcher sends a message. Dispatch returns only after the message has
// been handed to the underlying transport, or with the reason it was not.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// Router picks a dispatcher by channel.
type Router map[Channel]Dispatcher

func (r Router) Dispatch(ctx context.Context, msg Message) error {
	d, ok := r[msg.Channel]
	if !ok || d == nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, msg.Channel)
	}
	return d.Dispatch(ctx, msg)
}
