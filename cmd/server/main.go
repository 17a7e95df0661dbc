package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/crowdfund-auth/internal/config"
	"github.com/iliyamo/crowdfund-auth/internal/database"
	"github.com/iliyamo/crowdfund-auth/internal/handler"
	"github.com/iliyamo/crowdfund-auth/internal/logger"
	"github.com/iliyamo/crowdfund-auth/internal/metrics"
	"github.com/iliyamo/crowdfund-auth/internal/middleware"
	"github.com/iliyamo/crowdfund-auth/internal/notify"
	"github.com/iliyamo/crowdfund-auth/internal/oauth"
	"github.com/iliyamo/crowdfund-auth/internal/otp"
	"github.com/iliyamo/crowdfund-auth/internal/queue"
	"github.com/iliyamo/crowdfund-auth/internal/repository"
	"github.com/iliyamo/crowdfund-auth/internal/router"
	"github.com/iliyamo/crowdfund-auth/internal/service"
	"github.com/iliyamo/crowdfund-auth/internal/utils"
)

func main() {
	cfg, err := config.Load() // Load environment config
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

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
	}
	users := repository.NewUserRepo(db)

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	} else {
		log.Warn("redis unreachable; rate limiting disabled", zap.String("addr", cfg.Redis.Addr))
	}

	codes, closeCodes, err := newCodeCache(cfg.OTP, rdb)
	if err != nil {
		return err
	}
	defer closeCodes()

	events := queue.NewNoop()
	if cfg.Notify.AMQPURL != "" {
		rp, err := queue.NewRabbit(cfg.Notify.AMQPURL)
		if err != nil {
			if cfg.Notify.Backend == "queue" {
				return fmt.Errorf("rabbitmq: %w", err)
			}
			log.Warn("rabbitmq unreachable; domain events disabled", zap.Error(err))
		} else {
			events = rp
		}
	}
	defer events.Close()

	tokens, err := utils.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL, cfg.JWTIssuer)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(reg)

	svc := service.NewIdentityService(service.Deps{
		Store:           users,
		Hasher:          utils.BcryptHasher{Cost: utils.BcryptCost},
		Tokens:          tokens,
		Codes:           codes,
		Notifier:        newNotifier(cfg, events, log),
		Events:          events,
		Log:             log,
		OTPTTL:          cfg.OTP.TTL,
		StoreTimeout:    cfg.StoreTimeout,
		DeliveryTimeout: cfg.DeliveryTimeout,
	})

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
	}))
	e.Use(echomw.BodyLimit("64K"))
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(middleware.Metrics())

	checks := map[string]handler.Checker{"mysql": users.Ping}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	router.RegisterRoutes(e, checks, reg)

	var google *handler.GoogleHandler
	if cfg.Google.Enabled() {
		flow := oauth.NewGoogle(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.CallbackURL, cfg.Google.StateSecret)
		google = handler.NewGoogleHandler(flow, svc, cfg.FrontendURL, cfg.IsProd(), log)
	}
	limit := middleware.NewTokenBucket(cfg.RateLimit, rdb, log)
	router.RegisterUser(e, handler.NewUserHandler(svc, log), google, tokens, limit)

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newCodeCache picks the one-time code backend. The redis backend needs a
// live client; the memory backend only suits a single instance.
func newCodeCache(cfg config.OTPConfig, rdb *redis.Client) (otp.Cache, func(), error) {
	switch cfg.Backend {
	case "memory":
		mc, err := otp.NewMemoryCache(cfg.MaxEntries)
		if err != nil {
			return nil, nil, err
		}
		return mc.WithMaxAttempts(cfg.MaxAttempts), mc.Close, nil
	default:
		if rdb == nil {
			return nil, nil, errors.New("OTP_BACKEND=redis but redis is unreachable")
		}
		return otp.NewRedisCache(rdb, cfg.Prefix).WithMaxAttempts(cfg.MaxAttempts), func() {}, nil
	}
}

func newNotifier(cfg config.Config, pub queue.Publisher, log *zap.Logger) notify.Dispatcher {
	switch cfg.Notify.Backend {
	case "smtp":
		s := cfg.SMTP
		return notify.Router{
			notify.ChannelEmail: notify.NewMailer(s.Host, s.Port, s.Username, s.Password, s.From, s.FromName),
			notify.ChannelSMS:   notify.LogDispatcher{Log: log, RevealCode: cfg.Notify.RevealCode},
		}
	case "queue":
		return notify.QueueDispatcher{Pub: pub}
	default:
		return notify.LogDispatcher{Log: log, RevealCode: cfg.Notify.RevealCode}
	}
}
