package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/content-license-server/internal/apperr"
	"github.com/iliyamo/content-license-server/internal/client"
	"github.com/iliyamo/content-license-server/internal/config"
	"github.com/iliyamo/content-license-server/internal/model"
	"github.com/iliyamo/content-license-server/internal/payment"
	"github.com/iliyamo/content-license-server/internal/ratelimit"
	"github.com/iliyamo/content-license-server/internal/repository"
	"github.com/iliyamo/content-license-server/internal/revocation"
	"github.com/iliyamo/content-license-server/internal/session"
	"github.com/iliyamo/content-license-server/internal/token"
)

const serverURL = "https://olp.test"

// fakeProcessor is an in-memory payment backend.
type fakeProcessor struct {
	types     []model.PaymentType
	signer    *payment.ProofSigner
	orders    map[string]*payment.Order
	subs      map[string]*payment.Subscription
	checkouts int
	failNext  bool
}

func newFakeProcessor(types ...model.PaymentType) *fakeProcessor {
	return &fakeProcessor{
		types:  types,
		signer: payment.NewProofSigner([]byte("proof-secret"), time.Hour),
		orders: map[string]*payment.Order{},
		subs:   map[string]*payment.Subscription{},
	}
}

func (p *fakeProcessor) ID() string                                 { return "fake" }
func (p *fakeProcessor) Name() string                               { return "Fake Pay" }
func (p *fakeProcessor) IsAvailable() bool                          { return true }
func (p *fakeProcessor) SupportedPaymentTypes() []model.PaymentType { return p.types }
func (p *fakeProcessor) ConfigFields() []payment.ConfigField        { return nil }

func (p *fakeProcessor) EnsureProduct(_ context.Context, lic model.License) (string, error) {
	return fmt.Sprintf("prod_%d", lic.ID), nil
}

func (p *fakeProcessor) CreateCheckoutSession(_ context.Context, _ model.License, _, sessionID string) (payment.Checkout, error) {
	if p.failNext {
		p.failNext = false
		return payment.Checkout{}, fmt.Errorf("processor down")
	}
	p.checkouts++
	return payment.Checkout{URL: "https://pay.test/" + sessionID, ExternalID: "co_" + sessionID}, nil
}

func (p *fakeProcessor) ValidatePaymentProof(_ context.Context, raw string, lic model.License) (payment.Proof, error) {
	proof, err := p.signer.Verify(raw)
	if err != nil {
		return payment.Proof{}, err
	}
	if proof.LicenseID != lic.ID {
		return payment.Proof{}, payment.ErrInvalidProof
	}
	return proof, nil
}

func (p *fakeProcessor) GeneratePaymentProof(_ context.Context, proof payment.Proof) (string, error) {
	proof.ProcessorID = p.ID()
	return p.signer.Sign(proof)
}

func (p *fakeProcessor) LookupOrder(_ context.Context, ref string) (*payment.Order, error) {
	return p.orders[ref], nil
}

func (p *fakeProcessor) LookupSubscription(_ context.Context, ref string) (*payment.Subscription, error) {
	return p.subs[ref], nil
}

type fixture struct {
	svc      *LicenseService
	licenses *repository.MemoryLicenseStore
	tokens   *repository.MemoryTokenStore
	sessions *session.Manager
	codec    token.Codec
	proc     *fakeProcessor
	creds    client.Credentials
	now      time.Time
}

type fixtureOpts struct {
	processors  []payment.Processor
	noProcessor bool
	persistFree bool
	limits      map[string]int
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{now: time.Now().UTC().Truncate(time.Second)}

	f.licenses = repository.NewMemoryLicenseStore(
		model.License{ID: 5, URLPattern: "/blog/*", PaymentType: model.PaymentFree, Active: true},
		model.License{ID: 6, URLPattern: "/premium/*", PaymentType: model.PaymentPurchase, Amount: 99.99, Currency: "USD", Active: true},
		model.License{ID: 7, URLPattern: "/feed/*", PaymentType: model.PaymentSubscription, Amount: 5, Active: true},
		model.License{ID: 8, URLPattern: "/data/*", PaymentType: model.PaymentRoyalty, Amount: 1, Active: true},
		model.License{ID: 9, URLPattern: "/", PaymentType: model.PaymentFree, ServerURL: "https://other.example/olp", Active: true},
		model.License{ID: 10, URLPattern: "/", PaymentType: model.PaymentFree, ServerURL: serverURL + "/olp", Active: true},
		model.License{ID: 11, URLPattern: "/", PaymentType: model.PaymentFree, Active: false},
		model.License{ID: 12, URLPattern: serverURL + "/content/*", PaymentType: model.PaymentFree, Active: true},
	)
	f.tokens = repository.NewMemoryTokenStore()
	clients, err := client.NewRegistry(repository.NewMemoryClientStore(), bcrypt.MinCost, zerolog.Nop())
	require.NoError(t, err)
	f.creds, err = clients.Create(ctx, "bot", client.CreateOptions{})
	require.NoError(t, err)

	f.codec = token.NewHMACCodec([]byte("test-secret"))
	f.sessions = session.NewManager(repository.NewMemorySessionStore(), 0, zerolog.Nop())

	limits := opts.limits
	if limits == nil {
		limits = map[string]int{"token": 1000, "introspect": 1000, "session": 1000}
	}
	limiter := ratelimit.NewLimiter(repository.NewMemoryCounterStore(), config.RateLimitConfig{
		Enabled: true, Window: time.Minute, Limits: limits, Prefix: "t",
	}, zerolog.Nop())

	registry := payment.NewRegistry(opts.processors...)
	if opts.processors == nil && !opts.noProcessor {
		f.proc = newFakeProcessor(model.PaymentPurchase, model.PaymentSubscription)
		registry.Register(f.proc)
	}

	f.svc = New(Dependencies{
		Licenses:          f.licenses,
		Clients:           clients,
		Codec:             f.codec,
		Revocations:       revocation.NewRegistry(f.tokens, zerolog.Nop()),
		Limiter:           limiter,
		Sessions:          f.sessions,
		Payments:          registry,
		Logger:            zerolog.Nop(),
		ServerURL:         serverURL,
		TokenTTL:          time.Hour,
		Scope:             "read",
		PersistFreeTokens: opts.persistFree,
		Now:               func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) basic() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(f.creds.ClientID+":"+f.creds.ClientSecret))
}

func requireCode(t *testing.T, err error, code string, status int) *apperr.Error {
	t.Helper()
	ae, ok := apperr.As(err)
	require.True(t, ok, "expected apperr, got %v", err)
	assert.Equal(t, code, ae.Code)
	assert.Equal(t, status, ae.Status)
	return ae
}

func TestIssueFreeToken(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	resp, err := f.svc.IssueToken(context.Background(), TokenRequest{
		LicenseID: 5, Resource: "http://site/blog/post1", Client: "bot1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, f.now.Add(time.Hour).Unix(), resp.ExpiresAt)
	assert.Equal(t, serverURL+"/licenses/5", resp.LicenseURL)
	assert.Equal(t, 1000, resp.RateLimit.Limit)

	claims, err := f.codec.Decode(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(5), claims.LicenseID)
	assert.Equal(t, "bot1", claims.Subject)
	assert.Equal(t, "olp.test", claims.Audience)
	assert.Equal(t, serverURL, claims.Issuer)
	assert.Equal(t, "/blog/*", claims.Resource)
	assert.Equal(t, "read", claims.Scope)
	assert.NotEmpty(t, claims.ID)

	_, err = f.tokens.Get(context.Background(), claims.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound, "free tokens are not recorded by default")
}

func TestIssueFreeTokenDefaultsAndPersistence(t *testing.T) {
	f := newFixture(t, fixtureOpts{persistFree: true})
	resp, err := f.svc.IssueToken(context.Background(), TokenRequest{LicenseID: 5, Resource: "/blog/x"})
	require.NoError(t, err)
	claims, err := f.codec.Decode(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, AnonymousClient, claims.Subject)

	rec, err := f.tokens.Get(context.Background(), claims.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.LicenseID)
}

func TestIssueTokenValidationErrors(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	tests := []struct {
		name   string
		req    TokenRequest
		code   string
		status int
	}{
		{"resource outside pattern", TokenRequest{LicenseID: 5, Resource: "http://site/other"}, apperr.CodeInvalidResource, 400},
		{"missing resource", TokenRequest{LicenseID: 5}, apperr.CodeInvalidRequest, 400},
		{"unknown license", TokenRequest{LicenseID: 404, Resource: "/x"}, apperr.CodeInvalidLicense, 400},
		{"no license id", TokenRequest{Resource: "/x"}, apperr.CodeInvalidLicense, 400},
		{"inactive license", TokenRequest{LicenseID: 11, Resource: "/x"}, apperr.CodeInvalidLicense, 400},
		{"paid without auth", TokenRequest{LicenseID: 6, Resource: "/premium/a"}, apperr.CodeInvalidClient, 401},
		{"paid with wrong secret", TokenRequest{LicenseID: 6, Resource: "/premium/a",
			Authorization: "Basic " + base64.StdEncoding.EncodeToString([]byte(f.creds.ClientID+":wrong"))}, apperr.CodeInvalidClient, 401},
		{"unsupported payment type", TokenRequest{LicenseID: 8, Resource: "/data/a", Authorization: f.basic()}, apperr.CodeNotImplemented, 501},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.IssueToken(ctx, tt.req)
			ae := requireCode(t, err, tt.code, tt.status)
			assert.NotEmpty(t, ae.Headers["X-RateLimit-Limit"], "quota headers ride on errors")
		})
	}
}

func TestIssueTokenExternalServer(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, err := f.svc.IssueToken(context.Background(), TokenRequest{LicenseID: 9, Resource: "http://site/a"})
	ae := requireCode(t, err, apperr.CodeExternalServer, http.StatusConflict)
	assert.Equal(t, "https://other.example/olp", ae.Data["server_url"])

	resp, err := f.svc.IssueToken(context.Background(), TokenRequest{LicenseID: 10, Resource: "http://site/a"})
	require.NoError(t, err, "a server_url on our own host is not external")
	assert.NotEmpty(t, resp.AccessToken)
}

func TestPaidWithoutProcessors(t *testing.T) {
	f := newFixture(t, fixtureOpts{noProcessor: true})
	_, err := f.svc.IssueToken(context.Background(), TokenRequest{LicenseID: 6, Resource: "/premium/a", Authorization: f.basic()})
	requireCode(t, err, apperr.CodePaymentNotAvailable, 501)
}

func TestSubscriptionWithoutSubscriptionProcessor(t *testing.T) {
	f := newFixture(t, fixtureOpts{processors: []payment.Processor{newFakeProcessor(model.PaymentPurchase)}})
	_, err := f.svc.IssueToken(context.Background(), TokenRequest{LicenseID: 7, Resource: "/feed/a", Authorization: f.basic()})
	requireCode(t, err, apperr.CodeSubscriptionsUnavail, 501)
}

func TestPurchaseCheckout(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	resp, err := f.svc.IssueToken(ctx, TokenRequest{
		LicenseID: 6, Resource: "/premium/a", Authorization: f.basic(), CreateCheckout: true,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.AccessToken)
	assert.Equal(t, "https://pay.test/"+resp.SessionID, resp.CheckoutURL)
	assert.Equal(t, "fake", resp.Processor)

	view, err := f.svc.GetSession(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionAwaitingPayment, view.Status)
	assert.Equal(t, resp.CheckoutURL, view.CheckoutURL)
}

func TestPurchaseOrderVerification(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.proc.orders["unpaid"] = &payment.Order{ID: "unpaid", ProductIDs: []string{"prod_6"}}
	f.proc.orders["other"] = &payment.Order{ID: "other", Paid: true, ProductIDs: []string{"prod_1"}}
	f.proc.orders["good"] = &payment.Order{ID: "good", Paid: true, ProductIDs: []string{"prod_6"}}
	ctx := context.Background()
	req := func(ref string) TokenRequest {
		return TokenRequest{LicenseID: 6, Resource: "/premium/a", Authorization: f.basic(), OrderRef: ref}
	}

	_, err := f.svc.IssueToken(ctx, req(""))
	requireCode(t, err, apperr.CodeMissingOrder, 400)
	_, err = f.svc.IssueToken(ctx, req("nope"))
	requireCode(t, err, apperr.CodeOrderNotFound, 404)
	_, err = f.svc.IssueToken(ctx, req("unpaid"))
	requireCode(t, err, apperr.CodePaymentRequired, 402)
	_, err = f.svc.IssueToken(ctx, req("other"))
	requireCode(t, err, apperr.CodeProductMismatch, 403)

	resp, err := f.svc.IssueToken(ctx, req("good"))
	require.NoError(t, err)
	claims, err := f.codec.Decode(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.creds.ClientID, claims.Subject)

	rec, err := f.tokens.Get(ctx, claims.ID)
	require.NoError(t, err, "paid tokens are always recorded")
	assert.Equal(t, "good", rec.OrderID)
}

func TestSubscriptionVerification(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.proc.subs["inactive"] = &payment.Subscription{ID: "inactive", ProductIDs: []string{"prod_7"}}
	f.proc.subs["other"] = &payment.Subscription{ID: "other", Active: true, ProductIDs: []string{"prod_2"}}
	f.proc.subs["good"] = &payment.Subscription{ID: "good", Active: true, ProductIDs: []string{"prod_7"}}
	ctx := context.Background()
	req := func(ref string) TokenRequest {
		return TokenRequest{LicenseID: 7, Resource: "/feed/a", Authorization: f.basic(), SubscriptionRef: ref}
	}

	_, err := f.svc.IssueToken(ctx, req(""))
	requireCode(t, err, apperr.CodeMissingSubscription, 400)
	_, err = f.svc.IssueToken(ctx, req("nope"))
	requireCode(t, err, apperr.CodeSubscriptionNotFound, 404)
	_, err = f.svc.IssueToken(ctx, req("other"))
	requireCode(t, err, apperr.CodeSubscriptionMismatch, 403)
	_, err = f.svc.IssueToken(ctx, req("inactive"))
	requireCode(t, err, apperr.CodeSubscriptionInactive, 402)

	resp, err := f.svc.IssueToken(ctx, req("good"))
	require.NoError(t, err)
	claims, err := f.codec.Decode(resp.AccessToken)
	require.NoError(t, err)
	rec, err := f.tokens.Get(ctx, claims.ID)
	require.NoError(t, err)
	assert.Equal(t, "good", rec.SubscriptionID)
}

func TestTokenRateLimit(t *testing.T) {
	f := newFixture(t, fixtureOpts{limits: map[string]int{"token": 2}})
	ctx := context.Background()
	req := TokenRequest{LicenseID: 5, Resource: "/blog/a", CallerID: "fp1"}
	for i := 0; i < 2; i++ {
		_, err := f.svc.IssueToken(ctx, req)
		require.NoError(t, err)
	}
	_, err := f.svc.IssueToken(ctx, req)
	ae := requireCode(t, err, apperr.CodeRateLimitExceeded, http.StatusTooManyRequests)
	assert.Equal(t, "0", ae.Headers["X-RateLimit-Remaining"])
	assert.NotEmpty(t, ae.Headers["Retry-After"])

	req.CallerID = "fp2"
	_, err = f.svc.IssueToken(ctx, req)
	assert.NoError(t, err, "other callers keep their own quota")
}

func TestIntrospect(t *testing.T) {
	f := newFixture(t, fixtureOpts{persistFree: true})
	ctx := context.Background()
	issued, err := f.svc.IssueToken(ctx, TokenRequest{LicenseID: 5, Resource: "/blog/a", Client: "bot1"})
	require.NoError(t, err)

	_, err = f.svc.Introspect(ctx, IntrospectRequest{Token: issued.AccessToken})
	requireCode(t, err, apperr.CodeInvalidClient, 401)

	_, err = f.svc.Introspect(ctx, IntrospectRequest{Authorization: f.basic()})
	requireCode(t, err, apperr.CodeInvalidRequest, 400)

	resp, err := f.svc.Introspect(ctx, IntrospectRequest{Token: issued.AccessToken, Authorization: f.basic()})
	require.NoError(t, err)
	assert.True(t, resp.Active)
	assert.Equal(t, "bot1", resp.ClientID)
	assert.Equal(t, int64(5), resp.LicenseID)
	assert.Equal(t, "olp.test", resp.Aud)
	assert.Equal(t, issued.ExpiresAt, resp.Exp)

	resp, err = f.svc.Introspect(ctx, IntrospectRequest{Token: "a.b.c", Authorization: f.basic()})
	require.NoError(t, err)
	assert.False(t, resp.Active)

	claims, err := f.codec.Decode(issued.AccessToken)
	require.NoError(t, err)
	_, err = f.svc.revocations.Revoke(ctx, claims.ID)
	require.NoError(t, err)
	resp, err = f.svc.Introspect(ctx, IntrospectRequest{Token: issued.AccessToken, Authorization: f.basic()})
	require.NoError(t, err)
	assert.False(t, resp.Active, "revoked")
}

func TestIntrospectExpired(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	issued, err := f.svc.IssueToken(ctx, TokenRequest{LicenseID: 5, Resource: "/blog/a"})
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour + time.Second)
	resp, err := f.svc.Introspect(ctx, IntrospectRequest{Token: issued.AccessToken, Authorization: f.basic()})
	require.NoError(t, err)
	assert.Equal(t, &IntrospectResponse{Active: false, RateLimit: resp.RateLimit}, resp)

	_, err = f.svc.Authorize(ctx, issued.AccessToken, "/blog/a")
	requireCode(t, err, apperr.CodeInvalidToken, 401)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	f.proc.orders["o1"] = &payment.Order{ID: "o1", Paid: true, ProductIDs: []string{"prod_6"}}
	issued, err := f.svc.IssueToken(ctx, TokenRequest{LicenseID: 6, Resource: "/premium/a", Authorization: f.basic(), OrderRef: "o1"})
	require.NoError(t, err)

	claims, err := f.svc.Authorize(ctx, issued.AccessToken, "/premium/b")
	require.NoError(t, err)
	assert.Equal(t, int64(6), claims.LicenseID)

	_, err = f.svc.Authorize(ctx, issued.AccessToken, "/blog/b")
	requireCode(t, err, apperr.CodeInvalidToken, 401)
	_, err = f.svc.Authorize(ctx, "garbage", "/premium/b")
	requireCode(t, err, apperr.CodeInvalidToken, 401)

	require.NoError(t, f.svc.HandlePaymentEvent(ctx, model.PaymentEvent{Type: model.EventOrderRefunded, OrderID: "o1"}))
	_, err = f.svc.Authorize(ctx, issued.AccessToken, "/premium/b")
	ae := requireCode(t, err, apperr.CodeInvalidToken, 401)
	assert.Contains(t, ae.Description, "revoked")
}

func TestCreateSessionFree(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	resp, err := f.svc.CreateSession(context.Background(), SessionRequest{LicenseID: 5, Client: "bot1"})
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, resp.Status)
	require.NotNil(t, resp.Token)
	assert.NotEmpty(t, resp.Token.AccessToken)
	assert.Equal(t, serverURL+"/olp/session/"+resp.SessionID, resp.PollingURL)
}

func TestCreateSessionPaid(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	_, err := f.svc.CreateSession(ctx, SessionRequest{LicenseID: 6})
	requireCode(t, err, apperr.CodeInvalidClient, 401)

	resp, err := f.svc.CreateSession(ctx, SessionRequest{LicenseID: 6, Authorization: f.basic()})
	require.NoError(t, err)
	assert.Equal(t, model.SessionAwaitingPayment, resp.Status)
	assert.NotEmpty(t, resp.CheckoutURL)
	assert.Equal(t, "fake", resp.Processor)
	assert.Nil(t, resp.Token)

	f.proc.failNext = true
	_, err = f.svc.CreateSession(ctx, SessionRequest{LicenseID: 6, Authorization: f.basic()})
	ae := requireCode(t, err, apperr.CodeServerError, http.StatusBadGateway)
	id, _ := ae.Data["session_id"].(string)
	sess, err := f.sessions.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, model.SessionFailed, sess.Status)
}

func TestCreateSessionWithoutProcessor(t *testing.T) {
	f := newFixture(t, fixtureOpts{noProcessor: true})
	_, err := f.svc.CreateSession(context.Background(), SessionRequest{LicenseID: 6, Authorization: f.basic()})
	requireCode(t, err, apperr.CodePaymentNotAvailable, 501)
}

func TestGetSessionNotFound(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, err := f.svc.GetSession(context.Background(), "missing")
	requireCode(t, err, apperr.CodeNotFound, 404)
}

func TestPaymentProofLifecycle(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	started, err := f.svc.CreateSession(ctx, SessionRequest{LicenseID: 6, Authorization: f.basic()})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentEvent(ctx, model.PaymentEvent{
		Type: model.EventOrderPaid, ProcessorID: "fake", SessionID: started.SessionID, OrderID: "o9",
	}))
	view, err := f.svc.GetSession(ctx, started.SessionID)
	require.NoError(t, err)
	require.Equal(t, model.SessionProofReady, view.Status)
	require.NotEmpty(t, view.PaymentProof)

	tok, err := f.svc.IssueToken(ctx, TokenRequest{
		LicenseID: 6, Resource: "/premium/a", Authorization: f.basic(), PaymentProof: view.PaymentProof,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tok.AccessToken)

	view, err = f.svc.GetSession(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, view.Status)

	_, err = f.svc.IssueToken(ctx, TokenRequest{
		LicenseID: 7, Resource: "/feed/a", Authorization: f.basic(), PaymentProof: view.PaymentProof + "x",
	})
	requireCode(t, err, apperr.CodePaymentRequired, 402)

	// refund revokes the token minted from the proof
	require.NoError(t, f.svc.HandlePaymentEvent(ctx, model.PaymentEvent{Type: model.EventOrderRefunded, OrderID: "o9"}))
	resp, err := f.svc.Introspect(ctx, IntrospectRequest{Token: tok.AccessToken, Authorization: f.basic()})
	require.NoError(t, err)
	assert.False(t, resp.Active)
}

func TestPaymentEventFailsSession(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	started, err := f.svc.CreateSession(ctx, SessionRequest{LicenseID: 6, Authorization: f.basic()})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentEvent(ctx, model.PaymentEvent{Type: model.EventOrderFailed, SessionID: started.SessionID}))
	view, err := f.svc.GetSession(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionFailed, view.Status)

	assert.NoError(t, f.svc.HandlePaymentEvent(ctx, model.PaymentEvent{Type: model.EventOrderPaid, ProcessorID: "fake", SessionID: "gone"}),
		"unknown sessions are ignored")
	assert.Error(t, f.svc.HandlePaymentEvent(ctx, model.PaymentEvent{Type: model.EventOrderPaid, ProcessorID: "nope", SessionID: started.SessionID}))
}

func TestSubscriptionCancellationRevokes(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	f.proc.subs["s1"] = &payment.Subscription{ID: "s1", Active: true, ProductIDs: []string{"prod_7"}}
	var jtis []string
	for i := 0; i < 2; i++ {
		resp, err := f.svc.IssueToken(ctx, TokenRequest{LicenseID: 7, Resource: "/feed/a", Authorization: f.basic(), SubscriptionRef: "s1"})
		require.NoError(t, err)
		c, err := f.codec.Decode(resp.AccessToken)
		require.NoError(t, err)
		jtis = append(jtis, c.ID)
	}
	require.NoError(t, f.svc.HandlePaymentEvent(ctx, model.PaymentEvent{Type: model.EventSubscriptionExpired, SubscriptionID: "s1"}))
	for _, jti := range jtis {
		revoked, err := f.tokens.IsRevoked(ctx, jti)
		require.NoError(t, err)
		assert.True(t, revoked)
	}
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, fixtureOpts{persistFree: true})
	ctx := context.Background()
	fresh, err := f.svc.IssueToken(ctx, TokenRequest{LicenseID: 5, Resource: "/blog/a"})
	require.NoError(t, err)
	freshClaims, err := f.codec.Decode(fresh.AccessToken)
	require.NoError(t, err)

	// token records expire against the wall clock
	f.now = f.now.Add(-2 * time.Hour)
	old, err := f.svc.IssueToken(ctx, TokenRequest{LicenseID: 5, Resource: "/blog/a"})
	require.NoError(t, err)
	oldClaims, err := f.codec.Decode(old.AccessToken)
	require.NoError(t, err)

	f.svc.Cleanup(ctx)
	_, err = f.tokens.Get(ctx, oldClaims.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.tokens.Get(ctx, freshClaims.ID)
	assert.NoError(t, err)
}

func TestProcessorsListing(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ps := f.svc.Processors()
	require.Len(t, ps, 1)
	assert.True(t, strings.EqualFold("fake", ps[0].ID()))
}

func TestTokenRateLimitIgnoresUnverifiedClientIDs(t *testing.T) {
	f := newFixture(t, fixtureOpts{limits: map[string]int{"token": 2}})
	ctx := context.Background()
	forged := func(i int) string {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("rand%d:x", i)))
	}
	for i := 0; i < 2; i++ {
		_, err := f.svc.IssueToken(ctx, TokenRequest{LicenseID: 5, Resource: "/blog/a", CallerID: "fp1", Authorization: forged(i)})
		require.NoError(t, err)
	}
	for i := 2; i < 5; i++ {
		_, err := f.svc.IssueToken(ctx, TokenRequest{LicenseID: 5, Resource: "/blog/a", CallerID: "fp1", Authorization: forged(i)})
		requireCode(t, err, apperr.CodeRateLimitExceeded, http.StatusTooManyRequests)
	}

	// a client that authenticates is counted under its own id
	_, err := f.svc.IssueToken(ctx, TokenRequest{LicenseID: 5, Resource: "/blog/a", CallerID: "fp1", Authorization: f.basic()})
	assert.NoError(t, err)
}

func TestIntrospectRateLimitIgnoresUnverifiedClientIDs(t *testing.T) {
	f := newFixture(t, fixtureOpts{limits: map[string]int{"introspect": 1}})
	ctx := context.Background()
	bad := "Basic " + base64.StdEncoding.EncodeToString([]byte("olp_fake:nope"))
	_, err := f.svc.Introspect(ctx, IntrospectRequest{Token: "x", CallerID: "fp1", Authorization: bad})
	requireCode(t, err, apperr.CodeInvalidClient, 401)

	bad = "Basic " + base64.StdEncoding.EncodeToString([]byte("olp_other:nope"))
	_, err = f.svc.Introspect(ctx, IntrospectRequest{Token: "x", CallerID: "fp1", Authorization: bad})
	requireCode(t, err, apperr.CodeRateLimitExceeded, http.StatusTooManyRequests)
}

func TestPaymentProofIsSingleUse(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	started, err := f.svc.CreateSession(ctx, SessionRequest{LicenseID: 6, Authorization: f.basic()})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandlePaymentEvent(ctx, model.PaymentEvent{
		Type: model.EventOrderPaid, ProcessorID: "fake", SessionID: started.SessionID, OrderID: "o10",
	}))
	view, err := f.svc.GetSession(ctx, started.SessionID)
	require.NoError(t, err)
	proof := view.PaymentProof
	require.NotEmpty(t, proof)

	req := TokenRequest{LicenseID: 6, Resource: "/premium/a", Authorization: f.basic(), PaymentProof: proof}
	_, err = f.svc.IssueToken(ctx, req)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.svc.IssueToken(ctx, req)
		requireCode(t, err, apperr.CodePaymentRequired, http.StatusPaymentRequired)
	}
	view, err = f.svc.GetSession(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, view.Status)
}

func TestPaymentProofWithoutSessionRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	proof, err := f.proc.signer.Sign(payment.Proof{ProcessorID: "fake", LicenseID: 6, ClientID: f.creds.ClientID, OrderID: "o11"})
	require.NoError(t, err)
	_, err = f.svc.IssueToken(context.Background(), TokenRequest{
		LicenseID: 6, Resource: "/premium/a", Authorization: f.basic(), PaymentProof: proof,
	})
	requireCode(t, err, apperr.CodePaymentRequired, http.StatusPaymentRequired)
}

func TestAuthorizeAbsoluteURLLicense(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	issued, err := f.svc.IssueToken(ctx, TokenRequest{LicenseID: 12, Resource: serverURL + "/content/a"})
	require.NoError(t, err)

	claims, err := f.svc.Authorize(ctx, issued.AccessToken, serverURL+"/content/b?page=2")
	require.NoError(t, err)
	assert.Equal(t, int64(12), claims.LicenseID)

	_, err = f.svc.Authorize(ctx, issued.AccessToken, "https://other.example/content/b")
	requireCode(t, err, apperr.CodeInvalidToken, 401)
}

func TestPurchaseWithoutPurchaseProcessor(t *testing.T) {
	f := newFixture(t, fixtureOpts{processors: []payment.Processor{newFakeProcessor(model.PaymentSubscription)}})
	ctx := context.Background()
	_, err := f.svc.IssueToken(ctx, TokenRequest{LicenseID: 6, Resource: "/premium/a", Authorization: f.basic()})
	requireCode(t, err, apperr.CodeNoProcessor, http.StatusNotImplemented)

	_, err = f.svc.CreateSession(ctx, SessionRequest{LicenseID: 6, Authorization: f.basic()})
	ae := requireCode(t, err, apperr.CodeNoProcessor, http.StatusNotImplemented)
	assert.NotEmpty(t, ae.Data["session_id"])
}
