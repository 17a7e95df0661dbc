package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/crowdfund-auth/internal/repository"
)

// Kind classifies a failure for callers deciding how to respond.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindNotFound          Kind = "not_found"
	KindInvalidCredential Kind = "invalid_credential"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindDelivery          Kind = "delivery"
	KindStore             Kind = "store"
)

// Error is the error type returned by IdentityService. Reason is a stable
// machine-readable code such as "email_exists".
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind. A target with a reason also
// has to match the reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// Kind targets for errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidCredential = &Error{Kind: KindInvalidCredential}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrDelivery          = &Error{Kind: KindDelivery}
	ErrStore             = &Error{Kind: KindStore}
)

func ValidationError(reason string) error { return &Error{Kind: KindValidation, Reason: reason} }
func ConflictError(reason string) error   { return &Error{Kind: KindConflict, Reason: reason} }
func NotFoundError(reason string) error   { return &Error{Kind: KindNotFound, Reason: reason} }

func InvalidCredentialError(reason string) error {
	return &Error{Kind: KindInvalidCredential, Reason: reason}
}

func UnauthorizedError(reason string, err error) error {
	return &Error{Kind: KindUnauthorized, Reason: reason, Err: err}
}

func ForbiddenError(reason string) error { return &Error{Kind: KindForbidden, Reason: reason} }

func DeliveryError(err error) error {
	return &Error{Kind: KindDelivery, Reason: "delivery_failed", Err: err}
}

func StoreError(err error) error {
	reason := "store_unavailable"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "store_timeout"
	}
	return &Error{Kind: KindStore, Reason: reason, Err: err}
}

func fieldTooLong(field string, limit int) error {
	return &Error{Kind: KindValidation, Reason: "field_too_long", Err: fmt.Errorf("%s exceeds %d characters", field, limit)}
}

// ReasonOf returns the reason carried by err, or "" if err is not an *Error.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// fromStore converts repository errors to the service taxonomy.
func fromStore(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return NotFoundError("user_not_found")
	case errors.Is(err, repository.ErrEmailExists):
		return ConflictError("email_exists")
	case errors.Is(err, repository.ErrMobileExists):
		return ConflictError("mobile_exists")
	case errors.Is(err, repository.ErrDuplicate):
		return ConflictError("duplicate")
	case errors.Is(err, repository.ErrTooLong):
		return &Error{Kind: KindValidation, Reason: "field_too_long", Err: err}
	default:
		return StoreError(fmt.Errorf("credential store: %w", err))
	}
}
