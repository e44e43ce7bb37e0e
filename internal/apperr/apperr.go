// Package apperr defines the error taxonomy returned by the licensing
// endpoints.  Every error carries an OAuth-style code, the HTTP status it
// maps to, a human readable description and optional extra payload fields
// and response headers.
package apperr

import (
	"errors"
	"net/http"
)

// Error codes.
const (
	CodeInvalidClient        = "invalid_client"
	CodeInvalidLicense       = "invalid_license"
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidResource      = "invalid_resource"
	CodeInvalidToken         = "invalid_token"
	CodeExternalServer       = "external_server"
	CodePaymentRequired      = "payment_required"
	CodePaymentNotAvailable  = "payment_not_available"
	CodeSubscriptionsUnavail = "subscriptions_unavailable"
	CodeNotImplemented       = "not_implemented"
	CodeRateLimitExceeded    = "rate_limit_exceeded"
	CodeMissingOrder         = "missing_order"
	CodeOrderNotFound        = "order_not_found"
	CodeProductMismatch      = "product_mismatch"
	CodeMissingSubscription  = "missing_subscription"
	CodeSubscriptionNotFound = "subscription_not_found"
	CodeSubscriptionMismatch = "subscription_mismatch"
	CodeSubscriptionInactive = "subscription_inactive"
	CodeNoProcessor          = "no_processor"
	CodeNotFound             = "not_found"
	CodeServerError          = "server_error"
)

// Error is a protocol-level failure.  It is safe to render directly to the
// caller: Description never contains internal details.
type Error struct {
	Status      int
	Code        string
	Description string
	Data        map[string]any
	Headers     map[string]string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// New builds an Error.
func New(status int, code, description string) *Error {
	return &Error{Status: status, Code: code, Description: description}
}

// WithData returns a copy of e with key=value added to the payload.
func (e *Error) WithData(key string, value any) *Error {
	cp := e.clone()
	cp.Data[key] = value
	return cp
}

// WithHeader returns a copy of e that sets the response header key.
func (e *Error) WithHeader(key, value string) *Error {
	cp := e.clone()
	cp.Headers[key] = value
	return cp
}

func (e *Error) clone() *Error {
	cp := *e
	cp.Data = make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		cp.Data[k] = v
	}
	cp.Headers = make(map[string]string, len(e.Headers)+1)
	for k, v := range e.Headers {
		cp.Headers[k] = v
	}
	return &cp
}

// Body renders the JSON payload for e.
func (e *Error) Body() map[string]any {
	body := map[string]any{"error": e.Code}
	if e.Description != "" {
		body["error_description"] = e.Description
	}
	for k, v := range e.Data {
		body[k] = v
	}
	return body
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	ae, ok := As(err)
	return ok && ae.Code == code
}

func InvalidClient(desc string) *Error  { return New(http.StatusUnauthorized, CodeInvalidClient, desc) }
func InvalidLicense(desc string) *Error { return New(http.StatusBadRequest, CodeInvalidLicense, desc) }
func InvalidRequest(desc string) *Error { return New(http.StatusBadRequest, CodeInvalidRequest, desc) }
func InvalidResource(desc string) *Error {
	return New(http.StatusBadRequest, CodeInvalidResource, desc)
}
func InvalidToken(desc string) *Error { return New(http.StatusUnauthorized, CodeInvalidToken, desc) }
func NotFound(desc string) *Error     { return New(http.StatusNotFound, CodeNotFound, desc) }
func ServerError(desc string) *Error {
	return New(http.StatusInternalServerError, CodeServerError, desc)
}
func NotImplemented(desc string) *Error {
	return New(http.StatusNotImplemented, CodeNotImplemented, desc)
}

// ExternalServer signals that another licensing server issues tokens for
// the license.  The caller is expected to redirect there.
func ExternalServer(serverURL string) *Error {
	return New(http.StatusConflict, CodeExternalServer, "license tokens are issued by an external server").
		WithData("server_url", serverURL)
}

func PaymentRequired(desc string) *Error {
	return New(http.StatusPaymentRequired, CodePaymentRequired, desc)
}

func PaymentNotAvailable(desc string) *Error {
	return New(http.StatusNotImplemented, CodePaymentNotAvailable, desc)
}

// NoProcessor is returned when processors are configured but none handles
// the license's payment type.
func NoProcessor(desc string) *Error {
	return New(http.StatusNotImplemented, CodeNoProcessor, desc)
}

func SubscriptionsUnavailable(desc string) *Error {
	return New(http.StatusNotImplemented, CodeSubscriptionsUnavail, desc)
}

// Order and subscription verification failures.
func MissingOrder(desc string) *Error { return New(http.StatusBadRequest, CodeMissingOrder, desc) }
func OrderNotFound(desc string) *Error {
	return New(http.StatusNotFound, CodeOrderNotFound, desc)
}
func ProductMismatch(desc string) *Error {
	return New(http.StatusForbidden, CodeProductMismatch, desc)
}
func MissingSubscription(desc string) *Error {
	return New(http.StatusBadRequest, CodeMissingSubscription, desc)
}
func SubscriptionNotFound(desc string) *Error {
	return New(http.StatusNotFound, CodeSubscriptionNotFound, desc)
}
func SubscriptionMismatch(desc string) *Error {
	return New(http.StatusForbidden, CodeSubscriptionMismatch, desc)
}
func SubscriptionInactive(desc string) *Error {
	return New(http.StatusPaymentRequired, CodeSubscriptionInactive, desc)
}
