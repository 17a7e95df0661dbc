package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/crowdfund-auth/internal/logger"
	"github.com/iliyamo/crowdfund-auth/internal/service"
)

var messages = map[string]string{
	"missing_fields":          "name, email, password and mobile are required",
	"invalid_email":           "email is not valid",
	"invalid_mobile":          "mobile number is not valid",
	"identifier_required":     "email or mobile is required",
	"credentials_required":    "password or otp is required",
	"otp_required":            "otp is required",
	"email_exists":            "an account with this email already exists",
	"mobile_exists":           "an account with this mobile number already exists",
	"google_account":          "this account signs in with Google",
	"provider_account_exists": "this Google account is linked to another user",
	"user_not_found":          "user not found",
	"invalid_password":        "invalid password",
	"password_not_set":        "this account has no password; sign in with Google",
	"invalid_otp":             "invalid or expired otp",
	"otp_attempts_exceeded":   "too many wrong codes; request a new one",
	"password_too_long":       "password must be at most 72 bytes",
	"field_too_long":          "a field exceeds its maximum length",
	"not_owner":               "token does not belong to this account",
	"token_missing":           "missing bearer token",
	"empty_update":            "no updatable fields supplied",
	"name_required":           "name cannot be empty",
	"immutable_field":         "email, mobile, password and provider cannot be changed here",
	"unknown_field":           "unknown field in body",
	"invalid_body":            "invalid request body",
	"delivery_failed":         "could not send the code, try again",
	"store_unavailable":       "service temporarily unavailable",
	"store_timeout":           "service temporarily unavailable",
}

// statusFor maps a service error to an HTTP status. google_account is a
// client-side choice of login method rather than a uniqueness clash.
func statusFor(e *service.Error) int {
	switch e.Kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindConflict:
		if e.Reason == "google_account" {
			return http.StatusBadRequest
		}
		return http.StatusConflict
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindInvalidCredential, service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindDelivery:
		return http.StatusBadGateway
	case service.KindStore:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as {"error": reason, "message": text}.
func fail(c echo.Context, log *zap.Logger, err error) error {
	var se *service.Error
	if !errors.As(err, &se) {
		logger.For(c.Request().Context(), log).Error("unhandled error", zap.String("route", c.Path()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "message": "internal server error"})
	}
	status := statusFor(se)
	if status >= 500 {
		logger.For(c.Request().Context(), log).Error("request failed", zap.String("route", c.Path()), zap.Error(err))
	}
	return failWith(c, status, se.Reason)
}

func failWith(c echo.Context, status int, reason string) error {
	msg, ok := messages[reason]
	if !ok {
		msg = http.StatusText(status)
	}
	return c.JSON(status, echo.Map{"error": reason, "message": msg})
}
