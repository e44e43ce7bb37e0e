package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/content-license-server/internal/apperr"
	"github.com/iliyamo/content-license-server/internal/token"
)

type stubAuthorizer struct {
	claims   token.Claims
	err      error
	resource string
}

func (s *stubAuthorizer) Authorize(_ context.Context, raw, resourcePath string) (token.Claims, error) {
	s.resource = resourcePath
	if raw != "good" {
		return token.Claims{}, s.err
	}
	return s.claims, nil
}

const authURI = "https://olp.test/olp/token"

func runLicense(t *testing.T, auth Authorizer, path, header string) (echo.Context, bool, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	reached := false
	h := License(auth, []string{"/content/"}, authURI)(func(echo.Context) error {
		reached = true
		return nil
	})
	err := h(c)
	return c, reached, err
}

func TestLicenseUnprotectedPassesThrough(t *testing.T) {
	_, reached, err := runLicense(t, &stubAuthorizer{}, "/blog/post", "")
	require.NoError(t, err)
	assert.True(t, reached)
}

func TestLicenseAdmitsValidToken(t *testing.T) {
	auth := &stubAuthorizer{claims: token.Claims{LicenseID: 6, Subject: "olp_a"}}
	c, reached, err := runLicense(t, auth, "/content/a?x=1", "License good")
	require.NoError(t, err)
	assert.True(t, reached)
	assert.Equal(t, "http://example.com/content/a?x=1", auth.resource)
	claims, ok := LicenseClaims(c)
	require.True(t, ok)
	assert.Equal(t, int64(6), claims.LicenseID)
}

func TestLicensePassesAbsoluteURL(t *testing.T) {
	auth := &stubAuthorizer{claims: token.Claims{LicenseID: 7}}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/content/a", nil)
	req.Host = "olp.test"
	req.Header.Set(echo.HeaderAuthorization, "License good")
	req.Header.Set(echo.HeaderXForwardedProto, "https")
	c := e.NewContext(req, httptest.NewRecorder())
	h := License(auth, []string{"/content/"}, authURI)(func(echo.Context) error { return nil })
	require.NoError(t, h(c))
	assert.Equal(t, "https://olp.test/content/a", auth.resource)
}

func TestLicenseChallenges(t *testing.T) {
	tests := []struct {
		name   string
		header string
		err    error
		status int
		code   string
	}{
		{"missing header", "", nil, http.StatusUnauthorized, apperr.CodeInvalidRequest},
		{"bearer scheme", "Bearer good", nil, http.StatusUnauthorized, apperr.CodeInvalidRequest},
		{"empty token", "License ", nil, http.StatusUnauthorized, apperr.CodeInvalidRequest},
		{"rejected token", "License bad", apperr.InvalidToken(`token "expired"`), http.StatusUnauthorized, apperr.CodeInvalidToken},
		{"backend failure", "License bad", errors.New("db down"), http.StatusUnauthorized, apperr.CodeInvalidToken},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, reached, err := runLicense(t, &stubAuthorizer{err: tc.err}, "/content/a", tc.header)
			assert.False(t, reached)
			ae, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, tc.status, ae.Status)
			assert.Equal(t, tc.code, ae.Code)
			challenge := ae.Headers[echo.HeaderWWWAuthenticate]
			assert.Contains(t, challenge, `License error="`+tc.code+`"`)
			assert.Contains(t, challenge, `authorization_uri="`+authURI+`"`)
			assert.NotContains(t, challenge, `\"`)
		})
	}
}

func TestIdentity(t *testing.T) {
	e := echo.New()
	newCtx := func(ua string) echo.Context {
		req := httptest.NewRequest(http.MethodGet, "/olp/token", nil)
		req.Header.Set("User-Agent", ua)
		req.RemoteAddr = "203.0.113.7:5000"
		return e.NewContext(req, httptest.NewRecorder())
	}

	c := newCtx("bot/1.0")
	var seen string
	require.NoError(t, Identity()(func(c echo.Context) error {
		seen = CallerID(c)
		return nil
	})(c))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, CallerID(newCtx("bot/1.0")))
	assert.NotEqual(t, seen, CallerID(newCtx("bot/2.0")))
}

func TestCORS(t *testing.T) {
	e := echo.New()
	e.Use(CORS("https://olp.test/olp/", []string{"https://app.example"}))
	e.GET("/olp/processors", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for _, tc := range []struct {
		origin  string
		allowed bool
	}{
		{"https://olp.test", true},
		{"https://app.example", true},
		{"https://evil.example", false},
		{"https://olp.test/olp", false},
	} {
		req := httptest.NewRequest(http.MethodGet, "/olp/processors", nil)
		req.Header.Set(echo.HeaderOrigin, tc.origin)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if tc.allowed {
			assert.Equal(t, tc.origin, rec.Header().Get(echo.HeaderAccessControlAllowOrigin), tc.origin)
			assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlExposeHeaders), "X-RateLimit-Remaining")
		} else {
			assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin), tc.origin)
		}
	}
}
