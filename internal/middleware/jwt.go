package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/crowdfund-auth/internal/utils"
)

const (
	// ClaimsKey is the echo context key holding *utils.Claims.
	ClaimsKey = "claims"
	// UserIDKey is the echo context key holding the caller's user id.
	UserIDKey = "user_id"
)

// TokenVerifier verifies session tokens.
type TokenVerifier interface {
	Verify(raw string) (*utils.Claims, error)
}

// BearerAuth validates `Authorization: Bearer <token>` and stores the
// decoded claims on the context. Missing, malformed and expired tokens get
// 401; authentic tokens with an unacceptable claim set get 403.
func BearerAuth(v TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearer(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token_missing", "message": "missing bearer token"})
			}
			claims, err := v.Verify(raw)
			switch {
			case err == nil:
			case errors.Is(err, utils.ErrTokenForbidden):
				return c.JSON(http.StatusForbidden, echo.Map{"error": "token_forbidden", "message": "token not accepted"})
			case errors.Is(err, utils.ErrTokenExpired):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token_expired", "message": "token expired"})
			default:
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token_invalid", "message": "invalid token"})
			}
			c.Set(ClaimsKey, claims)
			c.Set(UserIDKey, claims.UserID)
			return next(c)
		}
	}
}

func bearer(h string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// Claims returns the claims stored by BearerAuth.
func Claims(c echo.Context) (*utils.Claims, bool) {
	cl, ok := c.Get(ClaimsKey).(*utils.Claims)
	return cl, ok && cl != nil
}
