// Package otp stores outstanding one-time codes keyed by identifier.
package otp

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when no live code exists for the identifier.
var ErrMiss = errors.New("otp: no code for identifier")

// ErrAttemptsExceeded is returned by CompareAndDelete when the identifier has
// used up its wrong guesses. The outstanding code is gone once it is seen.
var ErrAttemptsExceeded = errors.New("otp: too many attempts")

// DefaultMaxAttempts is the number of wrong codes tolerated per issued code.
const DefaultMaxAttempts = 5

// Cache maps an identifier (email or mobile) to its single outstanding code.
// Put overwrites any previous code for the same identifier and resets its
// attempt counter; every entry carries a TTL.
type Cache interface {
	Put(ctx context.Context, id, code string, ttl time.Duration) error
	Get(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
	// CompareAndDelete removes the entry only when it holds code and reports
	// whether it did. A missing entry is (false, nil). Each mismatch counts
	// against the entry; the last allowed mismatch removes it and returns
	// ErrAttemptsExceeded.
	CompareAndDelete(ctx context.Context, id, code string) (bool, error)
	// Revoke removes the entry only when it still holds code. It does not
	// count as an attempt.
	Revoke(ctx context.Context, id, code string) error
}

func maxAttemptsOr(n int) int {
	if n <= 0 {
		return DefaultMaxAttempts
	}
	return n
}
