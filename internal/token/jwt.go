package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTCodec delegates signing and parsing to golang-jwt.  Time-based claims
// are not checked here so both codecs behave identically.
type JWTCodec struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTCodec returns a golang-jwt backed codec.
func NewJWTCodec(secret []byte) *JWTCodec {
	return &JWTCodec{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

func (c *JWTCodec) Encode(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *JWTCodec) Decode(raw string) (Claims, error) {
	var claims Claims
	tok, err := c.parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	})
	if err != nil || !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
