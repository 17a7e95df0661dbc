package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/crowdfund-auth/internal/handler"
	"github.com/iliyamo/crowdfund-auth/internal/middleware"
)

// RegisterRoutes registers the probes and the metrics endpoint.
func RegisterRoutes(e *echo.Echo, checks map[string]handler.Checker, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(checks))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// RegisterUser registers the /user routes. limit guards the credential and
// code endpoints; it may be nil. google may be nil when sign-in with Google
// is not configured.
func RegisterUser(e *echo.Echo, u *handler.UserHandler, google *handler.GoogleHandler, tokens middleware.TokenVerifier, limit echo.MiddlewareFunc) {
	g := e.Group("/user")

	guarded := []echo.MiddlewareFunc{}
	if limit != nil {
		guarded = append(guarded, limit)
	}
	g.POST("/register", u.Register, guarded...)
	g.POST("/login", u.Login, guarded...)
	g.POST("/request-otp", u.RequestOTP, guarded...)
	g.POST("/register-request-otp", u.RegisterRequestOTP, guarded...)
	g.POST("/verify-otp", u.VerifyOTP, guarded...)

	if google != nil {
		g.GET("/auth/google", google.Start)
		g.GET("/auth/google/callback", google.Callback)
	}

	// Everything below needs a bearer token.
	auth := g.Group("", middleware.BearerAuth(tokens))
	auth.POST("/logout", u.Logout)
	auth.GET("/profile", u.Profile)
	auth.GET("/me", u.Profile)
	auth.PUT("/update", u.Update)
	auth.DELETE("/delete", u.Delete)
	auth.PUT("/password", u.ChangePassword)
}
