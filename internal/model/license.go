package model

import "strings"

// PaymentType enumerates the payment models a license can declare.
type PaymentType string

const (
	PaymentFree         PaymentType = "free"
	PaymentPurchase     PaymentType = "purchase"
	PaymentSubscription PaymentType = "subscription"
	PaymentTraining     PaymentType = "training"
	PaymentCrawl        PaymentType = "crawl"
	PaymentInference    PaymentType = "inference"
	PaymentAttribution  PaymentType = "attribution"
	PaymentRoyalty      PaymentType = "royalty"
)

// ParsePaymentType normalizes s into a known PaymentType.  Unknown values
// are returned unchanged so callers can reject them explicitly.
func ParsePaymentType(s string) PaymentType {
	return PaymentType(strings.ToLower(strings.TrimSpace(s)))
}

// License is a content-usage policy owned by the external content store.
// This server only reads licenses; it never creates or edits them.
//
// Fields:
//
//	ID                 – licenses.id
//	URLPattern         – content URL pattern (see package pattern)
//	PaymentType        – payment model
//	Amount             – price in Currency; zero means free
//	Currency           – ISO currency code
//	ServerURL          – optional external licensing server that issues tokens instead of us
//	URL                – optional public URL of the rendered license document
//	PermittedUsage     – usage types explicitly allowed
//	ProhibitedUsage    – usage types explicitly forbidden
//	PermittedUsers     – user types explicitly allowed
//	ProhibitedUsers    – user types explicitly forbidden
//	Active             – inactive licenses cannot issue tokens
type License struct {
	ID              int64       `json:"id"`
	Name            string      `json:"name"`
	URLPattern      string      `json:"url_pattern"`
	PaymentType     PaymentType `json:"payment_type"`
	Amount          float64     `json:"amount"`
	Currency        string      `json:"currency"`
	ServerURL       string      `json:"server_url,omitempty"`
	URL             string      `json:"url,omitempty"`
	PermittedUsage  []string    `json:"permitted_usage,omitempty"`
	ProhibitedUsage []string    `json:"prohibited_usage,omitempty"`
	PermittedUsers  []string    `json:"permitted_users,omitempty"`
	ProhibitedUsers []string    `json:"prohibited_users,omitempty"`
	Active          bool        `json:"active"`
}

// IsFree reports whether tokens for this license can be issued without
// payment or client authentication.
func (l License) IsFree() bool {
	return l.Amount <= 0 || l.PaymentType == PaymentFree || l.PaymentType == PaymentAttribution
}
