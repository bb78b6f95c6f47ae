package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/context"
)

// TestAuth takes the operator from the X-User-ID and X-User-Email headers
// when OIDC is disabled.
//
// WARNING: Only use this when AUTH_ENABLED=false. Do not enable in production.
func TestAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			if userID := c.Request().Header.Get(HeaderUserID); userID != "" {
				ctx = context.SetUserID(ctx, userID)
			}
			if email := c.Request().Header.Get(HeaderUserEmail); email != "" {
				ctx = context.SetUserEmail(ctx, email)
			}

			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
