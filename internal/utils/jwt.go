package utils // package utils provides helpers for hashing, session tokens and one-time codes

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClaimsVersion is the only claim-set layout this service issues and accepts.
const ClaimsVersion = 1

var (
	// ErrNoSigningSecret is returned when an issuer is built without a secret.
	ErrNoSigningSecret = errors.New("jwt signing secret is empty")
	// ErrTokenMissing is returned by Verify for an empty token string.
	ErrTokenMissing = errors.New("token missing")
	// ErrTokenExpired is returned by Verify once exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers malformed tokens and bad signatures.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenForbidden is returned for authentic tokens whose claim set the
	// service refuses, such as an unknown version or a missing subject.
	ErrTokenForbidden = errors.New("token forbidden")
)

// SessionClaims is the identity asserted by a session token.
type SessionClaims struct {
	UserID string
	Email  string
	Mobile string
}

// Claims is the signed payload. Only the fields listed here are embedded;
// the rest of the user record never reaches a token.
type Claims struct {
	Version int    `json:"ver"`
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	Mobile  string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// Session returns the identity part of c.
func (c *Claims) Session() SessionClaims {
	return SessionClaims{UserID: c.UserID, Email: c.Email, Mobile: c.Mobile}
}

// AccessToken represents a signed session token along with its expiry.
// Exp is the zero time when the issuer has no TTL configured.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// TokenIssuer signs and verifies HS256 session tokens with a shared secret.
// Verification is stateless: no store lookup is involved.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenIssuer builds an issuer. A ttl of zero issues tokens without an
// exp claim. An empty secret is rejected rather than replaced.
func NewTokenIssuer(secret string, ttl time.Duration, issuer string) (*TokenIssuer, error) {
	if secret == "" {
		return nil, ErrNoSigningSecret
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, issuer: issuer, now: time.Now}, nil
}

// SetClock replaces the time source. Intended for tests.
func (t *TokenIssuer) SetClock(now func() time.Time) { t.now = now }

// Issue signs sc into a session token.
func (t *TokenIssuer) Issue(sc SessionClaims) (AccessToken, error) {
	now := t.now().UTC()
	c := Claims{
		Version: ClaimsVersion,
		UserID:  sc.UserID,
		Email:   sc.Email,
		Mobile:  sc.Mobile,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  sc.UserID,
			Issuer:   t.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	var exp time.Time
	if t.ttl > 0 {
		exp = now.Add(t.ttl)
		c.ExpiresAt = jwt.NewNumericDate(exp)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// Verify checks signature and expiry and returns the embedded claims.
// Failures are ErrTokenMissing, ErrTokenExpired or ErrTokenInvalid
// (unauthorized), or ErrTokenForbidden for authentic but unacceptable claims.
func (t *TokenIssuer) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrTokenMissing
	}
	c := &Claims{}
	_, err := jwt.ParseWithClaims(raw, c, func(tok *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, errors.Join(ErrTokenInvalid, err)
	}
	if c.Version != ClaimsVersion || c.UserID == "" || c.Subject != c.UserID {
		return nil, ErrTokenForbidden
	}
	return c, nil
}
