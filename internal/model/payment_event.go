package model

import "time"

// PaymentEventType names a lifecycle event emitted by a payment processor.
type PaymentEventType string

const (
	EventOrderPaid             PaymentEventType = "order_paid"
	EventOrderFailed           PaymentEventType = "order_failed"
	EventOrderRefunded         PaymentEventType = "order_refunded"
	EventOrderCancelled        PaymentEventType = "order_cancelled"
	EventSubscriptionCancelled PaymentEventType = "subscription_cancelled"
	EventSubscriptionExpired   PaymentEventType = "subscription_expired"
)

// PaymentEvent is published to the message broker when a processor reports
// a change to an order or subscription.  Consumers apply it to sessions and
// the token ledger without calling back into the processor.
type PaymentEvent struct {
	Type           PaymentEventType `json:"type"`
	ProcessorID    string           `json:"processor_id"`
	SessionID      string           `json:"session_id,omitempty"`
	LicenseID      int64            `json:"license_id,omitempty"`
	OrderID        string           `json:"order_id,omitempty"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}
