package middleware

// identity.go derives the identity used for rate limiting anonymous callers:
// a fingerprint of the client IP and user agent.  Authenticated callers are
// limited by client id instead, which the service reads from Basic auth.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/content-license-server/internal/utils"
)

const callerKey = "caller_id"

// Identity stores the caller fingerprint in the context.
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(callerKey, fingerprint(c))
			return next(c)
		}
	}
}

// CallerID returns the fingerprint set by Identity, computing it when the
// middleware did not run.
func CallerID(c echo.Context) string {
	if v, ok := c.Get(callerKey).(string); ok && v != "" {
		return v
	}
	return fingerprint(c)
}

func fingerprint(c echo.Context) string {
	return utils.Fingerprint(c.RealIP(), c.Request().UserAgent())
}
