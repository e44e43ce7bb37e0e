package model

import "time"

// SessionStatus is the state of a payment session.
type SessionStatus string

const (
	SessionCreated         SessionStatus = "created"
	SessionAwaitingPayment SessionStatus = "awaiting_payment"
	SessionProofReady      SessionStatus = "proof_ready"
	SessionCompleted       SessionStatus = "completed"
	SessionFailed          SessionStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Session tracks one asynchronous payment-to-token flow.  Clients poll it
// until it reaches a terminal state or expires.
type Session struct {
	ID           string            `json:"session_id"`
	LicenseID    int64             `json:"license_id"`
	ClientID     string            `json:"client"`
	Status       SessionStatus     `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	CheckoutURL  string            `json:"checkout_url,omitempty"`
	ProcessorID  string            `json:"processor_id,omitempty"`
	PaymentProof string            `json:"payment_proof,omitempty"`
	FailReason   string            `json:"fail_reason,omitempty"`
	Options      map[string]string `json:"options,omitempty"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
