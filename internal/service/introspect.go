package service

import (
	"context"
	"strings"

	"github.com/iliyamo/content-license-server/internal/apperr"
	"github.com/iliyamo/content-license-server/internal/ratelimit"
	"github.com/iliyamo/content-license-server/internal/token"
)

// IntrospectRequest is a POST /olp/introspect call.
type IntrospectRequest struct {
	Token         string
	Authorization string
	CallerID      string
}

// IntrospectResponse follows RFC 7662: inactive tokens carry only
// active=false.
type IntrospectResponse struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Nbf       int64  `json:"nbf,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
	JTI       string `json:"jti,omitempty"`
	LicenseID int64  `json:"license_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Resource  string `json:"resource,omitempty"`
	TokenType string `json:"token_type,omitempty"`

	RateLimit ratelimit.Result `json:"-"`
}

// Introspect reports whether a token is currently valid.  The endpoint is
// privileged: callers always authenticate, even for free-license tokens.
func (s *LicenseService) Introspect(ctx context.Context, req IntrospectRequest) (*IntrospectResponse, error) {
	who := s.identify(ctx, req.Authorization, req.CallerID)
	rl, err := s.limiter.Check(ctx, ratelimit.EndpointIntrospect, who.key)
	if err != nil {
		return nil, err
	}
	if _, err := who.authenticated("client authentication required"); err != nil {
		return nil, withRateHeaders(err, rl)
	}
	raw := strings.TrimSpace(req.Token)
	if raw == "" {
		return nil, withRateHeaders(apperr.InvalidRequest("token is required"), rl)
	}

	inactive := &IntrospectResponse{Active: false, RateLimit: rl}
	claims, err := s.codec.Decode(raw)
	if err != nil {
		return inactive, nil
	}
	if err := token.CheckTimes(claims, s.now()); err != nil {
		return inactive, nil
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("jti", claims.ID).Msg("revocation lookup failed")
	}
	if revoked {
		return inactive, nil
	}
	return &IntrospectResponse{
		Active:    true,
		ClientID:  claims.Subject,
		Subject:   claims.Subject,
		Exp:       claims.ExpiresAt,
		Iat:       claims.IssuedAt,
		Nbf:       claims.NotBefore,
		Aud:       claims.Audience,
		Iss:       claims.Issuer,
		JTI:       claims.ID,
		LicenseID: claims.LicenseID,
		Scope:     claims.Scope,
		Resource:  claims.Resource,
		TokenType: "Bearer",
		RateLimit: rl,
	}, nil
}

// Authorize validates a License-scheme token for a protected resource.
// Any failure is a *apperr.Error with code invalid_token.
func (s *LicenseService) Authorize(ctx context.Context, raw, resourcePath string) (token.Claims, error) {
	claims, err := s.validator.Validate(raw, resourcePath)
	if err != nil {
		return token.Claims{}, apperr.InvalidToken(err.Error())
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("jti", claims.ID).Msg("revocation lookup failed")
	}
	if revoked {
		return token.Claims{}, apperr.InvalidToken("token has been revoked")
	}
	return claims, nil
}
