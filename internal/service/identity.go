// Package service implements identity reconciliation: it turns password,
// one-time-code and federated claims into exactly one user record and a
// session token.
package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/crowdfund-auth/internal/logger"
	"github.com/iliyamo/crowdfund-auth/internal/metrics"
	"github.com/iliyamo/crowdfund-auth/internal/model"
	"github.com/iliyamo/crowdfund-auth/internal/notify"
	"github.com/iliyamo/crowdfund-auth/internal/otp"
	"github.com/iliyamo/crowdfund-auth/internal/queue"
	"github.com/iliyamo/crowdfund-auth/internal/utils"
)

// Store is the Credential Store. repository.UserRepo implements it.
type Store interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	FindByEmailOrMobile(ctx context.Context, email, mobile string) (*model.User, error)
	UpdateProfile(ctx context.Context, id string, patch model.ProfilePatch) (*model.User, error)
	LinkFederated(ctx context.Context, email string, provider model.AuthProvider, subject string, avatar *string) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	Delete(ctx context.Context, id string) error
}

// Hasher is the Credential Hasher.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(hash, plain string) bool
}

// TokenIssuer mints session tokens.
type TokenIssuer interface {
	Issue(sc utils.SessionClaims) (utils.AccessToken, error)
}

// Deps wires an IdentityService. Events and Log may be nil.
type Deps struct {
	Store    Store
	Hasher   Hasher
	Tokens   TokenIssuer
	Codes    otp.Cache
	Notifier notify.Dispatcher
	Events   queue.Publisher
	Log      *zap.Logger

	OTPTTL          time.Duration
	StoreTimeout    time.Duration
	DeliveryTimeout time.Duration

	// NewCode overrides the one-time code generator.
	NewCode func() (string, error)
}

const (
	defaultOTPTTL          = 10 * time.Minute
	defaultStoreTimeout    = 5 * time.Second
	defaultDeliveryTimeout = 10 * time.Second
)

type IdentityService struct {
	store    Store
	hasher   Hasher
	tokens   TokenIssuer
	codes    otp.Cache
	notifier notify.Dispatcher
	events   queue.Publisher
	log      *zap.Logger

	otpTTL          time.Duration
	storeTimeout    time.Duration
	deliveryTimeout time.Duration
	newCode         func() (string, error)
}

func NewIdentityService(d Deps) *IdentityService {
	s := &IdentityService{
		store:           d.Store,
		hasher:          d.Hasher,
		tokens:          d.Tokens,
		codes:           d.Codes,
		notifier:        d.Notifier,
		events:          d.Events,
		log:             d.Log,
		otpTTL:          d.OTPTTL,
		storeTimeout:    d.StoreTimeout,
		deliveryTimeout: d.DeliveryTimeout,
		newCode:         d.NewCode,
	}
	if s.hasher == nil {
		s.hasher = utils.BcryptHasher{}
	}
	if s.events == nil {
		s.events = queue.NewNoop()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.otpTTL <= 0 {
		s.otpTTL = defaultOTPTTL
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = defaultStoreTimeout
	}
	if s.deliveryTimeout <= 0 {
		s.deliveryTimeout = defaultDeliveryTimeout
	}
	if s.newCode == nil {
		s.newCode = utils.NewOneTimeCode
	}
	return s
}

// Session is a freshly issued session token with the account it names.
type Session struct {
	Token     string            `json:"token"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	User      model.UserSummary `json:"user"`
}

// IssueSession signs a token for u.
func (s *IdentityService) IssueSession(u *model.User) (Session, error) {
	at, err := s.tokens.Issue(utils.SessionClaims{
		UserID: u.ID,
		Email:  u.EmailValue(),
		Mobile: u.MobileValue(),
	})
	if err != nil {
		return Session{}, err
	}
	sess := Session{Token: at.Token, User: u.Summary()}
	if !at.Exp.IsZero() {
		sess.ExpiresAt = &at.Exp
	}
	return sess, nil
}

func (s *IdentityService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// publish sends a lifecycle event. Failures are logged only.
func (s *IdentityService) publish(ctx context.Context, key string, ev queue.UserEvent) {
	ev.OccurredAt = time.Now().UTC()
	err := s.events.Publish(context.WithoutCancel(ctx), queue.EventsExchange, key, ev, logger.RequestID(ctx))
	if err != nil {
		logger.For(ctx, s.log).Warn("publish event failed",
			zap.String("key", key), zap.String("user_id", ev.UserID), zap.Error(err))
	}
}

// observeAuth records the outcome of an authentication attempt.
func observeAuth(method string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		var e *Error
		if errors.As(err, &e) {
			outcome = string(e.Kind)
		}
	}
	metrics.AuthAttempts.WithLabelValues(method, outcome).Inc()
}

// identifier is a normalized email or mobile number.
type identifier struct {
	email  string
	mobile string
}

func parseIdentifier(raw string) (identifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return identifier{}, ValidationError("identifier_required")
	}
	if strings.Contains(raw, "@") {
		e, err := normalizeEmail(raw)
		if err != nil {
			return identifier{}, err
		}
		return identifier{email: e}, nil
	}
	m, err := normalizeMobile(raw)
	if err != nil {
		return identifier{}, err
	}
	return identifier{mobile: m}, nil
}

func (i identifier) key() string {
	if i.email != "" {
		return i.email
	}
	return i.mobile
}

func (i identifier) channel() notify.Channel {
	if i.email != "" {
		return notify.ChannelEmail
	}
	return notify.ChannelSMS
}

func normalizeEmail(raw string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(raw))
	if len(e) > model.MaxEmailLen {
		return "", ValidationError("invalid_email")
	}
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e {
		return "", ValidationError("invalid_email")
	}
	return e, nil
}

// normalizeMobile accepts an optional leading '+' followed by 7 to 15
// digits; spaces and dashes are dropped.
func normalizeMobile(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
		default:
			return "", ValidationError("invalid_mobile")
		}
	}
	m := b.String()
	digits := len(strings.TrimPrefix(m, "+"))
	if digits < 7 || digits > 15 {
		return "", ValidationError("invalid_mobile")
	}
	return m, nil
}
