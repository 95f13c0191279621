package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireSession rejects anonymous callers with 401 and callers without a
// role with 403. Privileged data is never served to either.
func RequireSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s := SessionFromContext(c.Request().Context())
			if !s.Resolved || s.Anonymous() {
				return echo.NewHTTPError(http.StatusUnauthorized, "sign in required")
			}
			if s.Role == NoRole {
				return echo.NewHTTPError(http.StatusForbidden, "no role assigned")
			}
			return next(c)
		}
	}
}
