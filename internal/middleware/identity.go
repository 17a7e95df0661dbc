package middleware

import "github.com/labstack/echo/v4"

// userID returns the authenticated user id, or "anon" before BearerAuth
// has run or on public routes.
func userID(c echo.Context) string {
	if s, ok := c.Get(UserIDKey).(string); ok && s != "" {
		return s
	}
	return "anon"
}
