package model

import "time"

// Client is an OLP client as exposed outside the client registry.  The
// secret hash never leaves the repository layer.
type Client struct {
	ID          string    `json:"client_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ClientRecord is the persisted form of a client, including the bcrypt
// hash of its secret.
type ClientRecord struct {
	Client
	SecretHash string
}
