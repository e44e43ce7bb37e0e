package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/content-license-server/internal/apperr"
	"github.com/iliyamo/content-license-server/internal/middleware"
	"github.com/iliyamo/content-license-server/internal/payment"
	"github.com/iliyamo/content-license-server/internal/service"
)

// OLPHandler serves the token, introspection and session endpoints.
type OLPHandler struct {
	Svc *service.LicenseService
}

func NewOLPHandler(svc *service.LicenseService) *OLPHandler {
	return &OLPHandler{Svc: svc}
}

// Token handles POST /olp/token.
func (h *OLPHandler) Token(c echo.Context) error {
	var p tokenParams
	if err := c.Bind(&p); err != nil {
		return apperr.InvalidRequest("invalid request body")
	}
	resp, err := h.Svc.IssueToken(c.Request().Context(), service.TokenRequest{
		LicenseID:       p.LicenseID.ID(),
		Resource:        p.Resource.String(),
		Client:          p.Client.String(),
		CreateCheckout:  p.CreateCheckout.Bool(),
		OrderRef:        first(p.OrderID, p.WCOrderKey),
		SubscriptionRef: first(p.SubscriptionID, p.WCSubscriptionID),
		PaymentProof:    p.PaymentProof.String(),
		Authorization:   c.Request().Header.Get(echo.HeaderAuthorization),
		CallerID:        middleware.CallerID(c),
	})
	if err != nil {
		return err
	}
	setRateHeaders(c, resp.RateLimit)
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, resp)
}

// Introspect handles POST /olp/introspect.
func (h *OLPHandler) Introspect(c echo.Context) error {
	var p introspectParams
	if err := c.Bind(&p); err != nil {
		return apperr.InvalidRequest("invalid request body")
	}
	resp, err := h.Svc.Introspect(c.Request().Context(), service.IntrospectRequest{
		Token:         p.Token.String(),
		Authorization: c.Request().Header.Get(echo.HeaderAuthorization),
		CallerID:      middleware.CallerID(c),
	})
	if err != nil {
		return err
	}
	setRateHeaders(c, resp.RateLimit)
	return c.JSON(http.StatusOK, resp)
}

// CreateSession handles POST /olp/session.
func (h *OLPHandler) CreateSession(c echo.Context) error {
	var p sessionParams
	if err := c.Bind(&p); err != nil {
		return apperr.InvalidRequest("invalid request body")
	}
	resp, err := h.Svc.CreateSession(c.Request().Context(), service.SessionRequest{
		LicenseID:     p.LicenseID.ID(),
		Client:        p.Client.String(),
		Options:       p.Options,
		Authorization: c.Request().Header.Get(echo.HeaderAuthorization),
		CallerID:      middleware.CallerID(c),
	})
	if err != nil {
		return err
	}
	setRateHeaders(c, resp.RateLimit)
	return c.JSON(http.StatusCreated, resp)
}

// GetSession handles GET /olp/session/:id.
func (h *OLPHandler) GetSession(c echo.Context) error {
	view, err := h.Svc.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, view)
}

type processorView struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	PaymentTypes []string              `json:"payment_types"`
	ConfigFields []payment.ConfigField `json:"config_fields"`
}

// Processors handles GET /olp/processors.
func (h *OLPHandler) Processors(c echo.Context) error {
	ps := h.Svc.Processors()
	out := make([]processorView, 0, len(ps))
	for _, p := range ps {
		v := processorView{ID: p.ID(), Name: p.Name(), ConfigFields: p.ConfigFields()}
		for _, t := range p.SupportedPaymentTypes() {
			v.PaymentTypes = append(v.PaymentTypes, string(t))
		}
		out = append(out, v)
	}
	return c.JSON(http.StatusOK, echo.Map{"processors": out})
}

// Grant handles GET on protected paths once the License middleware has
// admitted the request; it reports what the token grants.
func (h *OLPHandler) Grant(c echo.Context) error {
	claims, ok := middleware.LicenseClaims(c)
	if !ok {
		return apperr.InvalidToken("no license token")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"resource":   c.Request().URL.RequestURI(),
		"license_id": claims.LicenseID,
		"client_id":  claims.Subject,
		"scope":      claims.Scope,
		"expires_at": claims.ExpiresAt,
	})
}
