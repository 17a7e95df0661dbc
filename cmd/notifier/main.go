// Command notifier drains the one-time code queue and delivers each code
// over SMTP. SMS codes are logged until an SMS gateway is configured. A code
// that cannot be delivered is revoked in the shared Redis code cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/crowdfund-auth/internal/config"
	"github.com/iliyamo/crowdfund-auth/internal/logger"
	"github.com/iliyamo/crowdfund-auth/internal/notify"
	"github.com/iliyamo/crowdfund-auth/internal/otp"
	"github.com/iliyamo/crowdfund-auth/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)
	if cfg.Notify.AMQPURL == "" {
		log.Fatal("RABBITMQ_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	route := notify.Router{
		notify.ChannelSMS: notify.LogDispatcher{Log: log, RevealCode: cfg.Notify.RevealCode},
	}
	if cfg.SMTP.Enabled() {
		s := cfg.SMTP
		route[notify.ChannelEmail] = notify.NewMailer(s.Host, s.Port, s.Username, s.Password, s.From, s.FromName)
	} else {
		log.Warn("SMTP_HOST not set; email codes are logged")
		route[notify.ChannelEmail] = notify.LogDispatcher{Log: log, RevealCode: cfg.Notify.RevealCode}
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.Fatal("redis is unreachable", zap.String("addr", cfg.Redis.Addr))
	}
	defer rdb.Close()
	codes := otp.NewRedisCache(rdb, cfg.OTP.Prefix)

	c := &queue.Consumer{
		URL:      cfg.Notify.AMQPURL,
		Prefetch: 16,
		Log:      log,
		OnDrop:   revokeWith(codes, cfg.StoreTimeout, log),
	}
	err = c.Run(ctx, handleWith(route, cfg.DeliveryTimeout))
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("consumer stopped", zap.Error(err))
	}
	log.Info("notifier stopped")
}

func handleWith(d notify.Dispatcher, timeout time.Duration) queue.OTPHandler {
	return func(ctx context.Context, ev queue.OTPDispatchEvent) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := d.Dispatch(ctx, notify.Message{
			Channel: notify.Channel(ev.Channel),
			To:      ev.To,
			Code:    ev.Code,
			Purpose: notify.Purpose(ev.Purpose),
		})
		if errors.Is(err, notify.ErrUnsupportedChannel) {
			return errors.Join(queue.ErrPermanent, err)
		}
		return err
	}
}

// revokeWith removes an undelivered code so it cannot be used. A newer code
// issued for the same identifier is left alone.
func revokeWith(codes otp.Cache, timeout time.Duration, log *zap.Logger) func(context.Context, queue.OTPDispatchEvent, error) {
	return func(ctx context.Context, ev queue.OTPDispatchEvent, cause error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := codes.Revoke(ctx, ev.To, ev.Code); err != nil {
			log.Error("revoke undelivered code failed", zap.String("channel", ev.Channel), zap.Error(err))
			return
		}
		log.Warn("undelivered code revoked", zap.String("channel", ev.Channel), zap.NamedError("cause", cause))
	}
}
