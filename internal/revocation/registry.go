// Package revocation is the durable ledger of issued token ids.  Revocation
// flags are set once and never cleared, so concurrent revoke calls are
// idempotent.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/content-license-server/internal/model"
	"github.com/iliyamo/content-license-server/internal/repository"
)

// Store is the persistence contract for the ledger.  Insert must reject a
// reused jti with repository.ErrDuplicate.
type Store interface {
	Insert(ctx context.Context, rec model.TokenRecord) error
	Get(ctx context.Context, jti string) (model.TokenRecord, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string) (bool, error)
	RevokeByOrder(ctx context.Context, orderID string) (int64, error)
	RevokeBySubscription(ctx context.Context, subscriptionID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Link ties a token to the payment that paid for it.
type Link struct {
	OrderID        string
	SubscriptionID string
}

// Registry wraps a Store with logging.
type Registry struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewRegistry(store Store, log zerolog.Logger) *Registry {
	return &Registry{
		store: store,
		log:   log.With().Str("component", "revocation").Logger(),
		now:   time.Now,
	}
}

// Store records an issued token.
func (r *Registry) Store(ctx context.Context, jti, clientID string, licenseID int64, expiresAt time.Time, link Link) error {
	err := r.store.Insert(ctx, model.TokenRecord{
		JTI:            jti,
		ClientID:       clientID,
		LicenseID:      licenseID,
		OrderID:        link.OrderID,
		SubscriptionID: link.SubscriptionID,
		ExpiresAt:      expiresAt.UTC(),
		CreatedAt:      r.now().UTC(),
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("token %s already recorded: %w", jti, err)
	}
	return err
}

// Lookup returns the record for jti, or repository.ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, jti string) (model.TokenRecord, error) {
	return r.store.Get(ctx, jti)
}

// IsRevoked reports whether jti has been revoked.  Unknown ids are not.
func (r *Registry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return r.store.IsRevoked(ctx, jti)
}

// Revoke flags a single token.
func (r *Registry) Revoke(ctx context.Context, jti string) (bool, error) {
	changed, err := r.store.Revoke(ctx, jti)
	if err != nil {
		return false, err
	}
	if changed {
		r.log.Info().Str("jti", jti).Msg("token revoked")
	}
	return changed, nil
}

// RevokeForOrder flags every live token linked to orderID.
func (r *Registry) RevokeForOrder(ctx context.Context, orderID string) (int64, error) {
	if orderID == "" {
		return 0, nil
	}
	n, err := r.store.RevokeByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	r.log.Info().Str("order_id", orderID).Int64("count", n).Msg("tokens revoked for order")
	return n, nil
}

// RevokeForSubscription flags every live token linked to subscriptionID.
func (r *Registry) RevokeForSubscription(ctx context.Context, subscriptionID string) (int64, error) {
	if subscriptionID == "" {
		return 0, nil
	}
	n, err := r.store.RevokeBySubscription(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	r.log.Info().Str("subscription_id", subscriptionID).Int64("count", n).Msg("tokens revoked for subscription")
	return n, nil
}

// CleanupExpired purges records past their expiry.  Safe to run
// concurrently with itself and with reads.
func (r *Registry) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := r.store.DeleteExpired(ctx, r.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Debug().Int64("count", n).Msg("expired token records purged")
	}
	return n, nil
}
