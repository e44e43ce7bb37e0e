package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/content-license-server/internal/apperr"
	"github.com/iliyamo/content-license-server/internal/token"
)

const claimsKey = "license_claims"

// Authorizer validates a License-scheme token for a resource path.
type Authorizer interface {
	Authorize(ctx context.Context, raw, resourcePath string) (token.Claims, error)
}

// License returns a middleware enforcing "Authorization: License <token>"
// on requests whose path starts with one of prefixes.  Other requests pass
// through untouched.  Rejections carry a WWW-Authenticate challenge that
// points clients at authorizationURI to obtain a token.
func License(auth Authorizer, prefixes []string, authorizationURI string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if !protected(path, prefixes) {
				return next(c)
			}
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, raw, _ := strings.Cut(strings.TrimSpace(header), " ")
			raw = strings.TrimSpace(raw)
			if !strings.EqualFold(scheme, "License") || raw == "" {
				return challenge(apperr.New(401, apperr.CodeInvalidRequest, "license token required"), authorizationURI)
			}
			claims, err := auth.Authorize(c.Request().Context(), raw, requestURL(c))
			if err != nil {
				ae, ok := apperr.As(err)
				if !ok {
					ae = apperr.InvalidToken("token could not be validated")
				}
				return challenge(ae, authorizationURI)
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// LicenseClaims returns the claims stored by License.
func LicenseClaims(c echo.Context) (token.Claims, bool) {
	claims, ok := c.Get(claimsKey).(token.Claims)
	return claims, ok
}

// requestURL is the absolute URL of the request.  Path-only license
// patterns look at its path and query; absolute patterns need the host.
func requestURL(c echo.Context) string {
	return c.Scheme() + "://" + c.Request().Host + c.Request().URL.RequestURI()
}

func protected(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func challenge(ae *apperr.Error, authorizationURI string) *apperr.Error {
	desc := strings.ReplaceAll(ae.Description, `"`, `'`)
	return ae.WithHeader(echo.HeaderWWWAuthenticate, fmt.Sprintf(
		`License error=%q, error_description=%q, authorization_uri=%q`, ae.Code, desc, authorizationURI))
}
