package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SecretSettingName is the settings key holding the generated signing secret.
const SecretSettingName = "olp_token_secret"

// SettingStore persists small server-wide values.
type SettingStore interface {
	// PutIfAbsent stores value under name unless a value already exists and
	// returns the value that is stored after the call.
	PutIfAbsent(ctx context.Context, name, value string) (string, error)
}

// LoadSecret returns configured when non-empty.  Otherwise it returns the
// persisted secret, generating and storing one on first use.  Concurrent
// first calls converge on whichever value was stored first.
func LoadSecret(ctx context.Context, store SettingStore, configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}
	stored, err := store.PutIfAbsent(ctx, SecretSettingName, hex.EncodeToString(buf))
	if err != nil {
		return nil, fmt.Errorf("persist token secret: %w", err)
	}
	return []byte(stored), nil
}

// NewCodec builds the codec named kind ("hmac" or "jwt").
func NewCodec(kind string, secret []byte) (Codec, error) {
	switch kind {
	case "", "hmac":
		return NewHMACCodec(secret), nil
	case "jwt":
		return NewJWTCodec(secret), nil
	default:
		return nil, fmt.Errorf("unknown token codec %q", kind)
	}
}
