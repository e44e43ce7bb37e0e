// Package token mints, decodes and validates license access tokens.
//
// Wire format: base64url(header) "." base64url(payload) "." base64url(sig)
// where sig = HMAC-SHA256(secret, header "." payload) and header/payload
// are JSON objects.  HMACCodec and JWTCodec produce and accept the same
// format and can replace each other.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// ErrInvalidToken is returned for any token that is malformed or whose
// signature does not verify.
var ErrInvalidToken = errors.New("invalid_token")

// Codec encodes and decodes signed claim sets.  Decode only checks
// structure and signature; time and audience checks belong to Validator.
type Codec interface {
	Encode(claims Claims) (string, error)
	Decode(raw string) (Claims, error)
}

var b64 = base64.RawURLEncoding

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// HMACCodec is the built-in HS256 implementation.
type HMACCodec struct {
	secret []byte
}

// NewHMACCodec returns a codec signing with secret.
func NewHMACCodec(secret []byte) *HMACCodec {
	return &HMACCodec{secret: secret}
}

func (c *HMACCodec) Encode(claims Claims) (string, error) {
	h, err := json.Marshal(header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	p, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signing := b64.EncodeToString(h) + "." + b64.EncodeToString(p)
	return signing + "." + b64.EncodeToString(c.sign(signing)), nil
}

func (c *HMACCodec) Decode(raw string) (Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidToken
	}
	sig, err := b64.DecodeString(parts[2])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal(sig, c.sign(parts[0]+"."+parts[1])) {
		return Claims{}, ErrInvalidToken
	}
	hb, err := b64.DecodeString(parts[0])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var h header
	if err := json.Unmarshal(hb, &h); err != nil || h.Alg != "HS256" {
		return Claims{}, ErrInvalidToken
	}
	pb, err := b64.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(pb, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (c *HMACCodec) sign(signing string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(signing))
	return mac.Sum(nil)
}
