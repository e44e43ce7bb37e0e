package token

import (
	"errors"
	"time"

	"github.com/iliyamo/content-license-server/internal/pattern"
)

// Validation failures.  All of them wrap ErrInvalidToken.
var (
	ErrExpired          = wrapInvalid("token expired")
	ErrNotYetValid      = wrapInvalid("token not yet valid")
	ErrAudienceMismatch = wrapInvalid("token audience mismatch")
	ErrResourceMismatch = wrapInvalid("token does not cover this resource")
)

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
func (e *validationError) Unwrap() error { return ErrInvalidToken }

func wrapInvalid(msg string) error { return &validationError{msg: msg} }

// Validator decodes a token and checks it against this server and the
// resource being accessed.
type Validator struct {
	Codec    Codec
	Audience string
	Now      func() time.Time
}

// Validate decodes raw and enforces nbf <= now <= exp, aud == Audience and,
// when the token carries a resource pattern, that resourcePath matches it.
func (v *Validator) Validate(raw, resourcePath string) (Claims, error) {
	claims, err := v.Codec.Decode(raw)
	if err != nil {
		return Claims{}, err
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	if err := CheckTimes(claims, now); err != nil {
		return Claims{}, err
	}
	if claims.Audience != v.Audience {
		return Claims{}, ErrAudienceMismatch
	}
	if claims.Resource != "" && !pattern.Matches(resourcePath, claims.Resource) {
		return Claims{}, ErrResourceMismatch
	}
	return claims, nil
}

// CheckTimes enforces the nbf/exp window at now.
func CheckTimes(c Claims, now time.Time) error {
	ts := now.Unix()
	if c.NotBefore != 0 && c.NotBefore > ts {
		return ErrNotYetValid
	}
	if c.ExpiresAt == 0 || ts > c.ExpiresAt {
		return ErrExpired
	}
	return nil
}

// IsInvalid reports whether err is any token validation failure.
func IsInvalid(err error) bool { return errors.Is(err, ErrInvalidToken) }
