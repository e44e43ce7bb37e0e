package repository

import (
	"context"
	"database/sql"
)

// SettingRepo stores server-wide name/value pairs (`olp_settings`).
type SettingRepo struct{ DB *sql.DB }

func NewSettingRepo(db *sql.DB) *SettingRepo { return &SettingRepo{DB: db} }

// PutIfAbsent inserts value unless name exists, then returns the stored
// value.  INSERT IGNORE makes concurrent first writers converge.
func (r *SettingRepo) PutIfAbsent(ctx context.Context, name, value string) (string, error) {
	if _, err := r.DB.ExecContext(ctx,
		"INSERT IGNORE INTO olp_settings (name, value) VALUES (?,?)", name, value); err != nil {
		return "", err
	}
	var stored string
	err := r.DB.QueryRowContext(ctx, "SELECT value FROM olp_settings WHERE name=? LIMIT 1", name).Scan(&stored)
	return stored, err
}
