package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/content-license-server/internal/model"
)

// TokenRepo persists issued-token identifiers for revocation lookups
// (`olp_tokens`, unique `jti`).
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Insert stores a token record.  A reused jti yields ErrDuplicate.
func (r *TokenRepo) Insert(ctx context.Context, rec model.TokenRecord) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO olp_tokens (jti, client_id, license_id, order_id, subscription_id, expires_at) VALUES (?,?,?,?,?,?)",
		rec.JTI, rec.ClientID, rec.LicenseID, nullString(rec.OrderID), nullString(rec.SubscriptionID), rec.ExpiresAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// IsRevoked reports whether jti is flagged.  Unknown jtis are not revoked.
func (r *TokenRepo) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revokedAt sql.NullTime
	err := r.DB.QueryRowContext(ctx,
		"SELECT revoked_at FROM olp_tokens WHERE jti=? LIMIT 1", jti).Scan(&revokedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return revokedAt.Valid, nil
}

// Get loads a single record.
func (r *TokenRepo) Get(ctx context.Context, jti string) (model.TokenRecord, error) {
	var (
		rec       model.TokenRecord
		orderID   sql.NullString
		subID     sql.NullString
		revokedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT jti, client_id, license_id, order_id, subscription_id, expires_at, revoked_at, created_at FROM olp_tokens WHERE jti=? LIMIT 1",
		jti).Scan(&rec.JTI, &rec.ClientID, &rec.LicenseID, &orderID, &subID, &rec.ExpiresAt, &revokedAt, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return model.TokenRecord{}, ErrNotFound
	}
	if err != nil {
		return model.TokenRecord{}, err
	}
	rec.OrderID, rec.SubscriptionID = orderID.String, subID.String
	if revokedAt.Valid {
		t := revokedAt.Time
		rec.RevokedAt = &t
	}
	return rec, nil
}

// Revoke flags a single token.  Already revoked rows are left untouched so
// the call is idempotent; the result reports whether a row changed.
func (r *TokenRepo) Revoke(ctx context.Context, jti string) (bool, error) {
	n, err := r.exec(ctx,
		"UPDATE olp_tokens SET revoked_at=UTC_TIMESTAMP() WHERE jti=? AND revoked_at IS NULL", jti)
	return n > 0, err
}

// RevokeByOrder flags every live token linked to orderID.
func (r *TokenRepo) RevokeByOrder(ctx context.Context, orderID string) (int64, error) {
	return r.exec(ctx,
		"UPDATE olp_tokens SET revoked_at=UTC_TIMESTAMP() WHERE order_id=? AND revoked_at IS NULL", orderID)
}

// RevokeBySubscription flags every live token linked to subscriptionID.
func (r *TokenRepo) RevokeBySubscription(ctx context.Context, subscriptionID string) (int64, error) {
	return r.exec(ctx,
		"UPDATE olp_tokens SET revoked_at=UTC_TIMESTAMP() WHERE subscription_id=? AND revoked_at IS NULL", subscriptionID)
}

// DeleteExpired purges rows whose expiry is before now.
func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, "DELETE FROM olp_tokens WHERE expires_at < ?", now.UTC())
}

func (r *TokenRepo) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
