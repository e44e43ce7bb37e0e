package middleware

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// CORS allows the server's own origin plus the configured extras.  echo
// reflects Origin only when it is in the list.  serverURL may carry a path;
// only its scheme and host form the origin.
func CORS(serverURL string, extra []string) echo.MiddlewareFunc {
	origins := make([]string, 0, len(extra)+1)
	if o := originOf(serverURL); o != "" {
		origins = append(origins, o)
	}
	origins = append(origins, extra...)
	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
		ExposeHeaders: []string{
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
			"Retry-After", echo.HeaderWWWAuthenticate,
		},
		MaxAge: 600,
	})
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
