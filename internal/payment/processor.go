// Package payment defines the processor capability the license service
// depends on, a registry that selects processors by payment type, and the
// signed payment proofs exchanged for tokens once a payment clears.
package payment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/iliyamo/content-license-server/internal/model"
)

// ErrNoProcessor is returned when no available processor supports a
// payment type.
var ErrNoProcessor = errors.New("no payment processor available")

// ConfigField describes one setting a processor needs.  Values are never
// exposed, only whether the field is required and secret.
type ConfigField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Secret   bool   `json:"secret"`
}

// Checkout is the result of starting a hosted checkout.
type Checkout struct {
	URL        string `json:"checkout_url"`
	ExternalID string `json:"external_id,omitempty"`
}

// Proof is the content of a payment proof: evidence that a session's
// payment cleared, bound to a license and client.
type Proof struct {
	ProcessorID    string    `json:"pid"`
	SessionID      string    `json:"sid,omitempty"`
	LicenseID      int64     `json:"lic"`
	ClientID       string    `json:"sub,omitempty"`
	OrderID        string    `json:"oid,omitempty"`
	SubscriptionID string    `json:"subid,omitempty"`
	IssuedAt       time.Time `json:"iat"`
	ExpiresAt      time.Time `json:"exp"`
}

// Processor is a pluggable payment backend.
type Processor interface {
	ID() string
	Name() string
	IsAvailable() bool
	SupportedPaymentTypes() []model.PaymentType
	ConfigFields() []ConfigField

	// EnsureProduct returns the processor-side item id for the license,
	// creating it when it does not exist yet.
	EnsureProduct(ctx context.Context, lic model.License) (string, error)
	CreateCheckoutSession(ctx context.Context, lic model.License, clientID, sessionID string) (Checkout, error)
	ValidatePaymentProof(ctx context.Context, proof string, lic model.License) (Proof, error)
	GeneratePaymentProof(ctx context.Context, p Proof) (string, error)
}

// Order is a processor order reduced to what issuance needs.
type Order struct {
	ID         string
	Paid       bool
	ProductIDs []string
}

// Subscription is a processor subscription reduced to what issuance needs.
type Subscription struct {
	ID         string
	Active     bool
	ProductIDs []string
}

// OrderVerifier is implemented by processors that can look up completed
// orders by reference.  A nil Order with nil error means not found.
type OrderVerifier interface {
	LookupOrder(ctx context.Context, ref string) (*Order, error)
}

// SubscriptionVerifier is the subscription counterpart of OrderVerifier.
type SubscriptionVerifier interface {
	LookupSubscription(ctx context.Context, ref string) (*Subscription, error)
}

// WebhookParser turns a verified processor webhook into lifecycle events.
// Events the server does not act on yield an empty slice.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) ([]model.PaymentEvent, error)
}

// Covers reports whether productID appears in ids.
func Covers(ids []string, productID string) bool {
	for _, id := range ids {
		if id == productID {
			return true
		}
	}
	return false
}
