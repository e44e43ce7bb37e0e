package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultProofTTL bounds how long a proof can be exchanged for a token.
const DefaultProofTTL = 24 * time.Hour

// ErrInvalidProof is returned for malformed, forged or expired proofs.
var ErrInvalidProof = errors.New("invalid payment proof")

// ProofSigner signs proofs as base64url(json) "." base64url(hmac).
type ProofSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewProofSigner(secret []byte, ttl time.Duration) *ProofSigner {
	if ttl <= 0 {
		ttl = DefaultProofTTL
	}
	return &ProofSigner{secret: secret, ttl: ttl, now: time.Now}
}

// Sign stamps p with issue and expiry times and returns the signed string.
func (s *ProofSigner) Sign(p Proof) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("payment proof secret not configured")
	}
	now := s.now().UTC().Truncate(time.Second)
	p.IssuedAt = now
	p.ExpiresAt = now.Add(s.ttl)
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode proof: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return payload + "." + s.mac(payload), nil
}

// Verify checks the signature and expiry of raw and returns its content.
func (s *ProofSigner) Verify(raw string) (Proof, error) {
	payload, sig, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || payload == "" || sig == "" || len(s.secret) == 0 {
		return Proof{}, ErrInvalidProof
	}
	if !hmac.Equal([]byte(sig), []byte(s.mac(payload))) {
		return Proof{}, ErrInvalidProof
	}
	body, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Proof{}, ErrInvalidProof
	}
	var p Proof
	if err := json.Unmarshal(body, &p); err != nil {
		return Proof{}, ErrInvalidProof
	}
	if !s.now().Before(p.ExpiresAt) {
		return Proof{}, fmt.Errorf("%w: expired", ErrInvalidProof)
	}
	return p, nil
}

func (s *ProofSigner) mac(payload string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
