package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on each request context. Store calls made
// under that context are cancelled when it passes, so a hung backend cannot
// hold a controller's write lock past the deadline. A handler that runs out
// of time without writing a response gets a 504. A timeout of zero or less
// disables the deadline.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) || c.Response().Committed {
				return err
			}
			return c.JSON(http.StatusGatewayTimeout, map[string]any{
				"error": map[string]string{
					"kind":   "timeout",
					"reason": "request exceeded " + timeout.String(),
				},
			})
		}
	}
}
