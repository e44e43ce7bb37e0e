// Package service implements the license issuance flow: it sequences rate
// limiting, license lookup, resource matching, client authentication,
// payment verification, token minting and revocation bookkeeping.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/content-license-server/internal/apperr"
	"github.com/iliyamo/content-license-server/internal/client"
	"github.com/iliyamo/content-license-server/internal/config"
	"github.com/iliyamo/content-license-server/internal/model"
	"github.com/iliyamo/content-license-server/internal/pattern"
	"github.com/iliyamo/content-license-server/internal/payment"
	"github.com/iliyamo/content-license-server/internal/ratelimit"
	"github.com/iliyamo/content-license-server/internal/repository"
	"github.com/iliyamo/content-license-server/internal/revocation"
	"github.com/iliyamo/content-license-server/internal/session"
	"github.com/iliyamo/content-license-server/internal/token"
)

// AnonymousClient is the token subject for free licenses when the caller
// does not name itself.
const AnonymousClient = "anonymous"

// Dependencies groups everything LicenseService needs.  All fields except
// Payments, Now and the tuning values are required.
type Dependencies struct {
	Licenses    repository.LicenseGetter
	Clients     *client.Registry
	Codec       token.Codec
	Revocations *revocation.Registry
	Limiter     *ratelimit.Limiter
	Sessions    *session.Manager
	Payments    *payment.Registry
	Logger      zerolog.Logger

	ServerURL         string
	TokenTTL          time.Duration
	Scope             string
	PersistFreeTokens bool
	Now               func() time.Time
}

// LicenseService answers token, introspection and session requests.
type LicenseService struct {
	licenses    repository.LicenseGetter
	clients     *client.Registry
	codec       token.Codec
	validator   *token.Validator
	revocations *revocation.Registry
	limiter     *ratelimit.Limiter
	sessions    *session.Manager
	payments    *payment.Registry
	log         zerolog.Logger

	serverURL   string
	host        string
	ttl         time.Duration
	scope       string
	persistFree bool
	now         func() time.Time
}

func New(deps Dependencies) *LicenseService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	ttl := deps.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	payments := deps.Payments
	if payments == nil {
		payments = payment.NewRegistry()
	}
	serverURL := strings.TrimRight(deps.ServerURL, "/")
	host := config.HostOf(serverURL)
	return &LicenseService{
		licenses:    deps.Licenses,
		clients:     deps.Clients,
		codec:       deps.Codec,
		validator:   &token.Validator{Codec: deps.Codec, Audience: host, Now: now},
		revocations: deps.Revocations,
		limiter:     deps.Limiter,
		sessions:    deps.Sessions,
		payments:    payments,
		log:         deps.Logger.With().Str("component", "license_service").Logger(),
		serverURL:   serverURL,
		host:        host,
		ttl:         ttl,
		scope:       deps.Scope,
		persistFree: deps.PersistFreeTokens,
		now:         now,
	}
}

// ServerURL is the public base URL tokens are issued under.
func (s *LicenseService) ServerURL() string { return s.serverURL }

// Processors lists the processors currently able to take payments.
func (s *LicenseService) Processors() []payment.Processor { return s.payments.Available() }

// TokenRequest is a POST /olp/token call.
type TokenRequest struct {
	LicenseID       int64
	Resource        string
	Client          string
	CreateCheckout  bool
	OrderRef        string
	SubscriptionRef string
	PaymentProof    string

	// Authorization is the raw Authorization header.  CallerID identifies
	// unauthenticated callers for rate limiting.
	Authorization string
	CallerID      string
}

// TokenResponse carries either a token or a checkout URL.
type TokenResponse struct {
	AccessToken string `json:"access_token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
	LicenseURL  string `json:"license_url,omitempty"`

	CheckoutURL string `json:"checkout_url,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Processor   string `json:"processor,omitempty"`

	RateLimit ratelimit.Result `json:"-"`
}

// IssueToken runs the issuance flow for one request.
func (s *LicenseService) IssueToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	who := s.identify(ctx, req.Authorization, req.CallerID)
	rl, err := s.limiter.Check(ctx, ratelimit.EndpointToken, who.key)
	if err != nil {
		return nil, err
	}
	resp, err := s.issue(ctx, req, who)
	if err != nil {
		return nil, withRateHeaders(err, rl)
	}
	resp.RateLimit = rl
	return resp, nil
}

// caller is the outcome of checking a request's Basic credentials.  key is
// the rate-limit key: the client id once the secret checks out, the request
// fingerprint otherwise.
type caller struct {
	key     string
	client  *model.Client
	hasAuth bool
	err     error
}

func (s *LicenseService) identify(ctx context.Context, authorization, fingerprint string) caller {
	who := caller{key: fingerprint}
	id, secret, ok := client.ParseBasicAuth(authorization)
	if !ok {
		return who
	}
	who.hasAuth = true
	c, err := s.clients.Validate(ctx, id, secret)
	if err != nil {
		who.err = err
		return who
	}
	who.client = &c
	who.key = c.ID
	return who
}

// authenticated returns the validated client or the invalid_client error
// the request earned.
func (c caller) authenticated(desc string) (model.Client, error) {
	if !c.hasAuth {
		return model.Client{}, apperr.InvalidClient(desc).WithHeader("WWW-Authenticate", `Basic realm="olp"`)
	}
	if c.err != nil {
		return model.Client{}, c.err
	}
	return *c.client, nil
}

func (s *LicenseService) issue(ctx context.Context, req TokenRequest, who caller) (*TokenResponse, error) {
	lic, err := s.activeLicense(ctx, req.LicenseID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Resource) == "" {
		return nil, apperr.InvalidRequest("resource is required")
	}
	if !pattern.Matches(req.Resource, lic.URLPattern) {
		return nil, apperr.InvalidResource("resource is not covered by this license")
	}
	if lic.ServerURL != "" && !strings.EqualFold(config.HostOf(lic.ServerURL), s.host) {
		return nil, apperr.ExternalServer(lic.ServerURL)
	}

	if lic.IsFree() {
		subject := strings.TrimSpace(req.Client)
		if subject == "" {
			subject = AnonymousClient
		}
		return s.mint(ctx, lic, subject, revocation.Link{}, s.persistFree)
	}

	c, err := who.authenticated("client authentication required for paid licenses")
	if err != nil {
		return nil, err
	}
	if len(s.payments.Available()) == 0 {
		return nil, apperr.PaymentNotAvailable("no payment processor is configured")
	}

	var proc payment.Processor
	switch lic.PaymentType {
	case model.PaymentPurchase, model.PaymentSubscription:
		if proc, err = s.payments.ForType(lic.PaymentType); err != nil {
			return nil, noProcessor(lic.PaymentType)
		}
	default:
		return nil, apperr.NotImplemented(fmt.Sprintf("payment type %q is not supported here; delegate to an external server", lic.PaymentType))
	}

	if req.PaymentProof != "" {
		return s.redeemProof(ctx, proc, lic, c.ID, req.PaymentProof)
	}

	productID, err := proc.EnsureProduct(ctx, lic)
	if err != nil {
		return nil, fmt.Errorf("ensure product for license %d: %w", lic.ID, err)
	}
	if req.CreateCheckout {
		return s.checkout(ctx, proc, lic, c.ID)
	}
	if lic.PaymentType == model.PaymentPurchase {
		link, err := s.verifyOrder(ctx, proc, productID, req.OrderRef)
		if err != nil {
			return nil, err
		}
		return s.mint(ctx, lic, c.ID, link, true)
	}
	link, err := s.verifySubscription(ctx, proc, productID, req.SubscriptionRef)
	if err != nil {
		return nil, err
	}
	return s.mint(ctx, lic, c.ID, link, true)
}

func (s *LicenseService) activeLicense(ctx context.Context, id int64) (model.License, error) {
	if id <= 0 {
		return model.License{}, apperr.InvalidLicense("license_id is required")
	}
	lic, err := s.licenses.GetLicense(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.License{}, apperr.InvalidLicense("unknown license")
	}
	if err != nil {
		return model.License{}, fmt.Errorf("load license %d: %w", id, err)
	}
	if !lic.Active {
		return model.License{}, apperr.InvalidLicense("license is not active")
	}
	return lic, nil
}

// checkout starts a processor checkout tracked by a new session.
func (s *LicenseService) checkout(ctx context.Context, proc payment.Processor, lic model.License, clientID string) (*TokenResponse, error) {
	sess, err := s.sessions.Create(ctx, lic.ID, clientID, nil)
	if err != nil {
		return nil, err
	}
	co, err := proc.CreateCheckoutSession(ctx, lic, clientID, sess.ID)
	if err != nil {
		s.failSession(ctx, sess.ID, "checkout could not be created")
		return nil, fmt.Errorf("create checkout: %w", err)
	}
	if _, err := s.sessions.SetCheckoutURL(ctx, sess.ID, co.URL, proc.ID()); err != nil {
		return nil, err
	}
	return &TokenResponse{CheckoutURL: co.URL, SessionID: sess.ID, Processor: proc.ID()}, nil
}

func (s *LicenseService) verifyOrder(ctx context.Context, proc payment.Processor, productID, ref string) (revocation.Link, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return revocation.Link{}, apperr.MissingOrder("an order reference or payment proof is required")
	}
	ov, ok := proc.(payment.OrderVerifier)
	if !ok {
		return revocation.Link{}, apperr.NotImplemented("processor cannot verify orders; exchange a payment proof instead")
	}
	order, err := ov.LookupOrder(ctx, ref)
	if err != nil {
		return revocation.Link{}, fmt.Errorf("lookup order: %w", err)
	}
	if order == nil {
		return revocation.Link{}, apperr.OrderNotFound("order not found")
	}
	if !order.Paid {
		return revocation.Link{}, apperr.PaymentRequired("order has not been paid")
	}
	if !payment.Covers(order.ProductIDs, productID) {
		return revocation.Link{}, apperr.ProductMismatch("order does not include this license")
	}
	return revocation.Link{OrderID: order.ID}, nil
}

func (s *LicenseService) verifySubscription(ctx context.Context, proc payment.Processor, productID, ref string) (revocation.Link, error) {
	sv, ok := proc.(payment.SubscriptionVerifier)
	if !ok {
		return revocation.Link{}, apperr.SubscriptionsUnavailable("processor cannot verify subscriptions")
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return revocation.Link{}, apperr.MissingSubscription("a subscription reference or payment proof is required")
	}
	sub, err := sv.LookupSubscription(ctx, ref)
	if err != nil {
		return revocation.Link{}, fmt.Errorf("lookup subscription: %w", err)
	}
	if sub == nil {
		return revocation.Link{}, apperr.SubscriptionNotFound("subscription not found")
	}
	if !payment.Covers(sub.ProductIDs, productID) {
		return revocation.Link{}, apperr.SubscriptionMismatch("subscription does not include this license")
	}
	if !sub.Active {
		return revocation.Link{}, apperr.SubscriptionInactive("subscription is not active")
	}
	return revocation.Link{SubscriptionID: sub.ID}, nil
}

// redeemProof exchanges a payment proof for a token.  A proof is good for
// one token: the session it was generated for moves proof_ready ->
// completed before minting, and a proof whose session is gone, already
// completed or never existed is refused.
func (s *LicenseService) redeemProof(ctx context.Context, proc payment.Processor, lic model.License, clientID, raw string) (*TokenResponse, error) {
	p, err := proc.ValidatePaymentProof(ctx, raw, lic)
	if err != nil {
		s.log.Debug().Err(err).Int64("license_id", lic.ID).Msg("payment proof rejected")
		return nil, apperr.PaymentRequired("payment proof is invalid or expired")
	}
	if p.ClientID != "" && p.ClientID != clientID {
		return nil, apperr.PaymentRequired("payment proof was issued to another client")
	}
	if p.SessionID == "" {
		return nil, apperr.PaymentRequired("payment proof is not bound to a session")
	}
	if _, err := s.sessions.Complete(ctx, p.SessionID); err != nil {
		if errors.Is(err, session.ErrInvalidTransition) || errors.Is(err, repository.ErrNotFound) {
			s.log.Info().Err(err).Str("session_id", p.SessionID).Msg("payment proof already redeemed or session gone")
			return nil, apperr.PaymentRequired("payment proof has already been redeemed")
		}
		return nil, fmt.Errorf("complete session %s: %w", p.SessionID, err)
	}
	return s.mint(ctx, lic, clientID, revocation.Link{OrderID: p.OrderID, SubscriptionID: p.SubscriptionID}, true)
}

// mint signs a token for lic and subject.  Persistence failures are logged;
// the token is still returned.
func (s *LicenseService) mint(ctx context.Context, lic model.License, subject string, link revocation.Link, persist bool) (*TokenResponse, error) {
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := token.Claims{
		Issuer:    s.serverURL,
		Audience:  s.host,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  now.Unix(),
		NotBefore: now.Unix(),
		ExpiresAt: exp.Unix(),
		LicenseID: lic.ID,
		Scope:     s.scope,
		Resource:  lic.URLPattern,
	}
	raw, err := s.codec.Encode(claims)
	if err != nil {
		return nil, fmt.Errorf("encode token: %w", err)
	}
	if persist {
		if err := s.revocations.Store(ctx, claims.ID, subject, lic.ID, exp, link); err != nil {
			s.log.Warn().Err(err).Str("jti", claims.ID).Int64("license_id", lic.ID).Msg("record issued token failed")
		}
	}
	s.log.Info().Str("jti", claims.ID).Str("client_id", subject).Int64("license_id", lic.ID).Msg("token issued")
	return &TokenResponse{
		AccessToken: raw,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl / time.Second),
		ExpiresAt:   exp.Unix(),
		LicenseURL:  s.licenseURL(lic),
	}, nil
}

func (s *LicenseService) licenseURL(lic model.License) string {
	if lic.URL != "" {
		return lic.URL
	}
	return s.serverURL + "/licenses/" + strconv.FormatInt(lic.ID, 10)
}

// noProcessor reports that no available processor handles t.
func noProcessor(t model.PaymentType) *apperr.Error {
	if t == model.PaymentSubscription {
		return apperr.SubscriptionsUnavailable("no processor supports subscriptions")
	}
	return apperr.NoProcessor(fmt.Sprintf("no processor supports %s licenses", t))
}

func (s *LicenseService) failSession(ctx context.Context, id, reason string) {
	if _, err := s.sessions.Fail(ctx, id, reason); err != nil {
		s.log.Warn().Err(err).Str("session_id", id).Msg("fail session")
	}
}

// withRateHeaders attaches the caller's quota headers to protocol errors.
func withRateHeaders(err error, rl ratelimit.Result) error {
	ae, ok := apperr.As(err)
	if !ok {
		return err
	}
	for k, v := range rl.Headers() {
		if _, set := ae.Headers[k]; !set {
			ae = ae.WithHeader(k, v)
		}
	}
	return ae
}
