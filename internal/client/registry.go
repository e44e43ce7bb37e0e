// Package client manages OLP client credentials.  Secrets are returned
// exactly once at creation; only their bcrypt hash is stored.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/content-license-server/internal/apperr"
	"github.com/iliyamo/content-license-server/internal/model"
	"github.com/iliyamo/content-license-server/internal/repository"
	"github.com/iliyamo/content-license-server/internal/utils"
)

// IDPrefix marks client ids issued by this server.
const IDPrefix = "olp_"

// Store persists client records.
type Store interface {
	Insert(ctx context.Context, rec model.ClientRecord) error
	Get(ctx context.Context, id string) (model.ClientRecord, error)
	Deactivate(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.Client, error)
}

// CreateOptions carries optional attributes for a new client.
type CreateOptions struct {
	Description string
}

// Credentials is the one-time result of Create.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Registry validates and administers clients.
type Registry struct {
	store     Store
	cost      int
	log       zerolog.Logger
	dummyHash string
	now       func() time.Time
}

// NewRegistry returns a Registry hashing secrets with bcrypt cost.
func NewRegistry(store Store, cost int, log zerolog.Logger) (*Registry, error) {
	filler, err := utils.RandomHex(32)
	if err != nil {
		return nil, err
	}
	// Unknown clients are checked against this hash so they cost the same
	// as a wrong secret.
	dummy, err := utils.HashSecret(filler, cost)
	if err != nil {
		return nil, fmt.Errorf("hash dummy secret: %w", err)
	}
	return &Registry{
		store:     store,
		cost:      cost,
		log:       log.With().Str("component", "client_registry").Logger(),
		dummyHash: dummy,
		now:       time.Now,
	}, nil
}

// Create registers a client and returns its id and plain secret.
func (r *Registry) Create(ctx context.Context, name string, opts CreateOptions) (Credentials, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Credentials{}, apperr.InvalidRequest("client name is required")
	}
	idPart, err := utils.RandomHex(12)
	if err != nil {
		return Credentials{}, err
	}
	secret, err := utils.RandomHex(32)
	if err != nil {
		return Credentials{}, err
	}
	hash, err := utils.HashSecret(secret, r.cost)
	if err != nil {
		return Credentials{}, fmt.Errorf("hash client secret: %w", err)
	}
	now := r.now().UTC()
	rec := model.ClientRecord{
		Client: model.Client{
			ID:          IDPrefix + idPart,
			Name:        name,
			Description: opts.Description,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		SecretHash: hash,
	}
	if err := r.store.Insert(ctx, rec); err != nil {
		return Credentials{}, fmt.Errorf("insert client: %w", err)
	}
	r.log.Info().Str("client_id", rec.ID).Str("name", name).Msg("client created")
	return Credentials{ClientID: rec.ID, ClientSecret: secret}, nil
}

// Validate checks id/secret and returns the client on success.  Any
// failure is reported as invalid_client without saying which part failed.
func (r *Registry) Validate(ctx context.Context, id, secret string) (model.Client, error) {
	invalid := apperr.InvalidClient("client authentication failed")
	if id == "" || secret == "" {
		utils.VerifySecret(r.dummyHash, secret)
		return model.Client{}, invalid
	}
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			r.log.Error().Err(err).Str("client_id", id).Msg("load client failed")
		}
		utils.VerifySecret(r.dummyHash, secret)
		return model.Client{}, invalid
	}
	if !rec.Active {
		utils.VerifySecret(r.dummyHash, secret)
		return model.Client{}, invalid
	}
	if !utils.VerifySecret(rec.SecretHash, secret) {
		return model.Client{}, invalid
	}
	return rec.Client, nil
}

// Get returns the public view of a client.
func (r *Registry) Get(ctx context.Context, id string) (model.Client, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return model.Client{}, err
	}
	return rec.Client, nil
}

// List returns all clients, active or not.
func (r *Registry) List(ctx context.Context) ([]model.Client, error) {
	return r.store.List(ctx)
}

// Revoke deactivates a client.  Records are never deleted.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	if err := r.store.Deactivate(ctx, id); err != nil {
		return err
	}
	r.log.Info().Str("client_id", id).Msg("client revoked")
	return nil
}

// ParseBasicAuth decodes an "Authorization: Basic ..." header value.  It
// returns ok=false for any other scheme, malformed base64 or a missing
// ":" separator.
func ParseBasicAuth(header string) (id, secret string, ok bool) {
	const prefix = "basic "
	header = strings.TrimSpace(header)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	id, secret, found := strings.Cut(string(raw), ":")
	if !found || id == "" {
		return "", "", false
	}
	return id, secret, true
}
