package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/crowdfund-auth/internal/logger"
	"github.com/iliyamo/crowdfund-auth/internal/model"
	"github.com/iliyamo/crowdfund-auth/internal/oauth"
	"github.com/iliyamo/crowdfund-auth/internal/service"
)

const stateCookie = "oauth_state"

// GoogleFlow is the provider side of the redirect flow.
type GoogleFlow interface {
	NewState() (string, error)
	VerifyState(state string) error
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth.GoogleUser, error)
}

// Federator turns verified provider claims into a session.
type Federator interface {
	AuthenticateFederated(ctx context.Context, c service.FederatedClaims) (*model.User, error)
	IssueSession(u *model.User) (service.Session, error)
}

type GoogleHandler struct {
	flow     GoogleFlow
	svc      Federator
	frontend string
	secure   bool
	log      *zap.Logger
}

// NewGoogleHandler wires the Google sign-in routes. frontendURL receives the
// final redirect; secure marks the state cookie Secure.
func NewGoogleHandler(flow GoogleFlow, svc Federator, frontendURL string, secure bool, log *zap.Logger) *GoogleHandler {
	return &GoogleHandler{flow: flow, svc: svc, frontend: frontendURL, secure: secure, log: log}
}

// Start: GET /user/auth/google
func (h *GoogleHandler) Start(c echo.Context) error {
	state, err := h.flow.NewState()
	if err != nil {
		logger.For(c.Request().Context(), h.log).Error("oauth state", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "message": "internal server error"})
	}
	c.SetCookie(&http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/user/auth/google",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, h.flow.AuthURL(state))
}

// Callback: GET /user/auth/google/callback. Always ends in a redirect to the
// frontend, with a token on success and error=authentication_failed otherwise.
func (h *GoogleHandler) Callback(c echo.Context) error {
	ctx := c.Request().Context()
	log := logger.For(ctx, h.log)
	c.SetCookie(&http.Cookie{Name: stateCookie, Path: "/user/auth/google", MaxAge: -1, HttpOnly: true, Secure: h.secure})

	if e := c.QueryParam("error"); e != "" {
		log.Info("google sign-in declined", zap.String("error", e))
		return h.failed(c)
	}
	state := c.QueryParam("state")
	ck, err := c.Cookie(stateCookie)
	if err != nil || subtle.ConstantTimeCompare([]byte(ck.Value), []byte(state)) != 1 {
		log.Warn("google callback state does not match cookie")
		return h.failed(c)
	}
	if err := h.flow.VerifyState(state); err != nil {
		log.Warn("google callback state rejected", zap.Error(err))
		return h.failed(c)
	}

	gu, err := h.flow.Exchange(ctx, c.QueryParam("code"))
	if err != nil {
		log.Warn("google exchange failed", zap.Error(err))
		return h.failed(c)
	}
	u, err := h.svc.AuthenticateFederated(ctx, service.FederatedClaims{
		Provider:  model.ProviderGoogle,
		Subject:   gu.Sub,
		Email:     gu.Email,
		Name:      gu.Name,
		AvatarURL: gu.Picture,
	})
	if err != nil {
		log.Warn("federated sign-in failed", zap.String("reason", service.ReasonOf(err)), zap.Error(err))
		return h.failed(c)
	}
	sess, err := h.svc.IssueSession(u)
	if err != nil {
		log.Error("issue session", zap.Error(err))
		return h.failed(c)
	}
	return c.Redirect(http.StatusFound, h.frontend+"/auth/callback?token="+url.QueryEscape(sess.Token))
}

func (h *GoogleHandler) failed(c echo.Context) error {
	return c.Redirect(http.StatusFound, h.frontend+"/login?error=authentication_failed")
}
