package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/content-license-server/internal/model"
)

// ClientRepo mirrors the `olp_clients` table.
type ClientRepo struct{ DB *sql.DB }

func NewClientRepo(db *sql.DB) *ClientRepo { return &ClientRepo{DB: db} }

const clientColumns = "client_id, name, description, secret_hash, is_active, created_at, updated_at"

// Insert creates a client row.
func (r *ClientRepo) Insert(ctx context.Context, rec model.ClientRecord) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO olp_clients (client_id, name, description, secret_hash, is_active, created_at, updated_at) VALUES (?,?,?,?,?,?,?)",
		rec.ID, rec.Name, rec.Description, rec.SecretHash, rec.Active, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Get fetches a client (including its secret hash) by id.
func (r *ClientRepo) Get(ctx context.Context, id string) (model.ClientRecord, error) {
	var rec model.ClientRecord
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+clientColumns+" FROM olp_clients WHERE client_id=? LIMIT 1", id).
		Scan(&rec.ID, &rec.Name, &rec.Description, &rec.SecretHash, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.ClientRecord{}, ErrNotFound
	}
	return rec, err
}

// Deactivate flips is_active off.  The row is kept.
func (r *ClientRepo) Deactivate(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE olp_clients SET is_active=0, updated_at=UTC_TIMESTAMP() WHERE client_id=?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every client ordered by creation time.
func (r *ClientRepo) List(ctx context.Context) ([]model.Client, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT client_id, name, description, is_active, created_at, updated_at FROM olp_clients ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Client
	for rows.Next() {
		var c model.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
