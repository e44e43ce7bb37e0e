// Package router registers the HTTP routes of the licensing server.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/content-license-server/internal/handler"
	"github.com/iliyamo/content-license-server/internal/middleware"
)

// RegisterRoutes registers routes that need no authentication.  Currently
// it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterOLP registers the protocol endpoints under /olp.  Authentication
// is per endpoint (Basic client credentials) and enforced by the service,
// so the group carries no auth middleware.
func RegisterOLP(e *echo.Echo, h *handler.OLPHandler, w *handler.WebhookHandler) {
	g := e.Group("/olp", middleware.Identity())
	g.POST("/token", h.Token)
	g.POST("/introspect", h.Introspect)
	g.POST("/session", h.CreateSession)
	g.GET("/session/:id", h.GetSession)
	g.GET("/processors", h.Processors)
	g.POST("/webhooks/:processor", w.Receive)
}

// RegisterProtected mounts the grant endpoint under every protected prefix.
// The License middleware must already be installed on e.
func RegisterProtected(e *echo.Echo, h *handler.OLPHandler, prefixes []string) {
	for _, p := range prefixes {
		if p == "" || p == "/" {
			continue
		}
		e.GET(trimSlash(p)+"/*", h.Grant)
	}
}

func trimSlash(p string) string {
	for len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}
