package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogDispatcher writes messages to the log instead of sending them. The code
// is included only when RevealCode is set, which is meant for development.
type LogDispatcher struct {
	Log        *zap.Logger
	RevealCode bool
}

func (l LogDispatcher) Dispatch(_ context.Context, msg Message) error {
	fields := []zap.Field{
		zap.String("channel", string(msg.Channel)),
		zap.String("to", mask(msg.To)),
		zap.String("purpose", string(msg.Purpose)),
	}
	if l.RevealCode {
		fields = append(fields, zap.String("code", msg.Code))
	}
	l.Log.Info("one-time code dispatched", fields...)
	return nil
}

// mask keeps the first two and last two characters.
func mask(s string) string {
	r := []rune(s)
	if len(r) <= 4 {
		return "****"
	}
	for i := 2; i < len(r)-2; i++ {
		if r[i] != '@' {
			r[i] = '*'
		}
	}
	return string(r)
}
