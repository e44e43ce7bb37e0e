package model

import "time"

// TokenRecord models a row in the `olp_tokens` ledger.  Only the jti and its
// linkage are stored; the signed token itself is never persisted.
type TokenRecord struct {
	JTI            string     // olp_tokens.jti (unique)
	ClientID       string     // olp_tokens.client_id
	LicenseID      int64      // olp_tokens.license_id
	OrderID        string     // olp_tokens.order_id (empty when not linked)
	SubscriptionID string     // olp_tokens.subscription_id (empty when not linked)
	ExpiresAt      time.Time  // olp_tokens.expires_at
	RevokedAt      *time.Time // olp_tokens.revoked_at (nil while valid)
	CreatedAt      time.Time  // olp_tokens.created_at
}

// Revoked reports whether the record has been flagged.
func (r TokenRecord) Revoked() bool { return r.RevokedAt != nil }
