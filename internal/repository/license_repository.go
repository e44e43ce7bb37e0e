package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/content-license-server/internal/model"
)

// LicenseRepo reads licenses from the content store's `olp_licenses`
// table.  This server never writes to it.
type LicenseRepo struct{ DB *sql.DB }

func NewLicenseRepo(db *sql.DB) *LicenseRepo { return &LicenseRepo{DB: db} }

// GetLicense fetches a license by id.
func (r *LicenseRepo) GetLicense(ctx context.Context, id int64) (model.License, error) {
	var (
		l                                  model.License
		paymentType                        string
		serverURL, docURL                  sql.NullString
		permUsage, prohUsage, permU, prohU sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, url_pattern, payment_type, amount, currency, server_url, license_url,
		        permitted_usage, prohibited_usage, permitted_users, prohibited_users, is_active
		 FROM olp_licenses WHERE id=? LIMIT 1`, id).
		Scan(&l.ID, &l.Name, &l.URLPattern, &paymentType, &l.Amount, &l.Currency, &serverURL, &docURL,
			&permUsage, &prohUsage, &permU, &prohU, &l.Active)
	if err == sql.ErrNoRows {
		return model.License{}, ErrNotFound
	}
	if err != nil {
		return model.License{}, err
	}
	l.PaymentType = model.ParsePaymentType(paymentType)
	l.ServerURL, l.URL = serverURL.String, docURL.String
	l.PermittedUsage = splitList(permUsage.String)
	l.ProhibitedUsage = splitList(prohUsage.String)
	l.PermittedUsers = splitList(permU.String)
	l.ProhibitedUsers = splitList(prohU.String)
	return l, nil
}

// splitList parses the comma separated list columns.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
