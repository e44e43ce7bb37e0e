package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/content-license-server/internal/config"
	"github.com/iliyamo/content-license-server/internal/model"
)

// StripeID is the processor id used in routes and proofs.
const StripeID = "stripe"

// webhookTolerance is the maximum age of a signed webhook timestamp.
const webhookTolerance = 5 * time.Minute

// StripeAPIError is an error response from the Stripe API.
type StripeAPIError struct {
	Status  int    `json:"-"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *StripeAPIError) Error() string {
	return fmt.Sprintf("stripe api error: %d %s: %s", e.Status, e.Type, e.Message)
}

func isStripeNotFound(err error) bool {
	var se *StripeAPIError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// Stripe sells licenses through Stripe Checkout.  Purchases become one-off
// payment sessions and subscriptions become monthly recurring ones; each
// license maps to a Stripe product with id "olp_license_<id>".
type Stripe struct {
	cfg        config.StripeConfig
	signer     *ProofSigner
	httpClient *http.Client
	log        zerolog.Logger
	now        func() time.Time
	products   sync.Map // license id -> product id
}

// NewStripe creates a Stripe processor.  It reports itself unavailable
// until a secret key is configured.
func NewStripe(cfg config.StripeConfig, signer *ProofSigner, log zerolog.Logger) *Stripe {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.stripe.com/v1"
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Stripe{
		cfg:        cfg,
		signer:     signer,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("component", "stripe").Logger(),
		now:        time.Now,
	}
}

func (s *Stripe) ID() string   { return StripeID }
func (s *Stripe) Name() string { return "Stripe" }

func (s *Stripe) IsAvailable() bool { return s.cfg.SecretKey != "" && s.signer != nil }

func (s *Stripe) SupportedPaymentTypes() []model.PaymentType {
	return []model.PaymentType{model.PaymentPurchase, model.PaymentSubscription}
}

func (s *Stripe) ConfigFields() []ConfigField {
	return []ConfigField{
		{Key: "STRIPE_SECRET_KEY", Label: "Secret key", Required: true, Secret: true},
		{Key: "STRIPE_WEBHOOK_SECRET", Label: "Webhook signing secret", Required: true, Secret: true},
		{Key: "STRIPE_SUCCESS_URL", Label: "Checkout success URL"},
		{Key: "STRIPE_CANCEL_URL", Label: "Checkout cancel URL"},
	}
}

// ProductID is the Stripe product id for a license.
func ProductID(licenseID int64) string {
	return "olp_license_" + strconv.FormatInt(licenseID, 10)
}

// EnsureProduct looks up the license's product and creates it when Stripe
// has none.
func (s *Stripe) EnsureProduct(ctx context.Context, lic model.License) (string, error) {
	if id, ok := s.products.Load(lic.ID); ok {
		return id.(string), nil
	}
	id := ProductID(lic.ID)
	_, err := s.makeRequest(ctx, http.MethodGet, "/products/"+id, nil)
	if isStripeNotFound(err) {
		name := lic.Name
		if name == "" {
			name = "License " + strconv.FormatInt(lic.ID, 10)
		}
		form := url.Values{}
		form.Set("id", id)
		form.Set("name", name)
		form.Set("metadata[license_id]", strconv.FormatInt(lic.ID, 10))
		_, err = s.makeRequest(ctx, http.MethodPost, "/products", form)
	}
	if err != nil {
		return "", fmt.Errorf("ensure stripe product: %w", err)
	}
	s.products.Store(lic.ID, id)
	return id, nil
}

// CreateCheckoutSession starts a hosted checkout for the license and links
// it to the OLP session through metadata.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, lic model.License, clientID, sessionID string) (Checkout, error) {
	productID, err := s.EnsureProduct(ctx, lic)
	if err != nil {
		return Checkout{}, err
	}
	currency := strings.ToLower(lic.Currency)
	if currency == "" {
		currency = "usd"
	}
	meta := map[string]string{
		"session_id": sessionID,
		"license_id": strconv.FormatInt(lic.ID, 10),
		"client_id":  clientID,
		"product_id": productID,
	}

	form := url.Values{}
	form.Set("success_url", s.redirectURL(s.cfg.SuccessURL))
	form.Set("cancel_url", s.redirectURL(s.cfg.CancelURL))
	form.Set("client_reference_id", sessionID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", currency)
	form.Set("line_items[0][price_data][product]", productID)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(minorUnits(lic.Amount), 10))
	for k, v := range meta {
		form.Set("metadata["+k+"]", v)
	}
	switch lic.PaymentType {
	case model.PaymentPurchase:
		form.Set("mode", "payment")
		for k, v := range meta {
			form.Set("payment_intent_data[metadata]["+k+"]", v)
		}
	case model.PaymentSubscription:
		form.Set("mode", "subscription")
		form.Set("line_items[0][price_data][recurring][interval]", "month")
		for k, v := range meta {
			form.Set("subscription_data[metadata]["+k+"]", v)
		}
	default:
		return Checkout{}, fmt.Errorf("stripe: unsupported payment type %q", lic.PaymentType)
	}

	resp, err := s.makeRequest(ctx, http.MethodPost, "/checkout/sessions", form)
	if err != nil {
		return Checkout{}, fmt.Errorf("create checkout session: %w", err)
	}
	var cs struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp, &cs); err != nil {
		return Checkout{}, fmt.Errorf("parse checkout session: %w", err)
	}
	if cs.URL == "" {
		return Checkout{}, errors.New("stripe returned a checkout session without url")
	}
	s.log.Info().Str("session_id", sessionID).Str("checkout_id", cs.ID).Int64("license_id", lic.ID).Msg("checkout created")
	return Checkout{URL: cs.URL, ExternalID: cs.ID}, nil
}

func (s *Stripe) redirectURL(u string) string {
	if u == "" {
		return "https://stripe.com"
	}
	return u
}

func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

type checkoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	Status            string            `json:"status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Subscription      string            `json:"subscription"`
	PaymentIntent     string            `json:"payment_intent"`
	Metadata          map[string]string `json:"metadata"`
}

// LookupOrder resolves a Stripe checkout session id as an order.
func (s *Stripe) LookupOrder(ctx context.Context, ref string) (*Order, error) {
	resp, err := s.makeRequest(ctx, http.MethodGet, "/checkout/sessions/"+url.PathEscape(ref), nil)
	if isStripeNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cs checkoutSession
	if err := json.Unmarshal(resp, &cs); err != nil {
		return nil, fmt.Errorf("parse checkout session: %w", err)
	}
	o := &Order{ID: cs.ID, Paid: cs.PaymentStatus == "paid"}
	if pid := cs.Metadata["product_id"]; pid != "" {
		o.ProductIDs = []string{pid}
	}
	return o, nil
}

// LookupSubscription resolves a Stripe subscription id.
func (s *Stripe) LookupSubscription(ctx context.Context, ref string) (*Subscription, error) {
	resp, err := s.makeRequest(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(ref), nil)
	if isStripeNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sub struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Items  struct {
			Data []struct {
				Price struct {
					Product string `json:"product"`
				} `json:"price"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := json.Unmarshal(resp, &sub); err != nil {
		return nil, fmt.Errorf("parse subscription: %w", err)
	}
	out := &Subscription{ID: sub.ID, Active: sub.Status == "active" || sub.Status == "trialing"}
	for _, it := range sub.Items.Data {
		out.ProductIDs = append(out.ProductIDs, it.Price.Product)
	}
	return out, nil
}

// GeneratePaymentProof signs p on behalf of Stripe.
func (s *Stripe) GeneratePaymentProof(_ context.Context, p Proof) (string, error) {
	if s.signer == nil {
		return "", errors.New("stripe: no proof signer")
	}
	p.ProcessorID = StripeID
	return s.signer.Sign(p)
}

// ValidatePaymentProof verifies a proof minted by this processor for lic.
func (s *Stripe) ValidatePaymentProof(_ context.Context, raw string, lic model.License) (Proof, error) {
	if s.signer == nil {
		return Proof{}, ErrInvalidProof
	}
	p, err := s.signer.Verify(raw)
	if err != nil {
		return Proof{}, err
	}
	if p.ProcessorID != StripeID {
		return Proof{}, fmt.Errorf("%w: issued by %q", ErrInvalidProof, p.ProcessorID)
	}
	if p.LicenseID != lic.ID {
		return Proof{}, fmt.Errorf("%w: license mismatch", ErrInvalidProof)
	}
	return p, nil
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseWebhook verifies the Stripe-Signature header and maps the event to
// lifecycle events.
func (s *Stripe) ParseWebhook(ctx context.Context, payload []byte, header http.Header) ([]model.PaymentEvent, error) {
	if err := s.verifyWebhookSignature(payload, header.Get("Stripe-Signature")); err != nil {
		return nil, err
	}
	var ev stripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("parse webhook event: %w", err)
	}
	at := time.Unix(ev.Created, 0).UTC()
	if ev.Created == 0 {
		at = s.now().UTC()
	}

	switch ev.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var cs checkoutSession
		if err := json.Unmarshal(ev.Data.Object, &cs); err != nil {
			return nil, fmt.Errorf("parse checkout session: %w", err)
		}
		if cs.PaymentStatus != "paid" && cs.PaymentStatus != "no_payment_required" {
			// async methods settle later via async_payment_succeeded
			return nil, nil
		}
		return []model.PaymentEvent{s.checkoutEvent(model.EventOrderPaid, cs, at)}, nil

	case "checkout.session.async_payment_failed", "checkout.session.expired":
		var cs checkoutSession
		if err := json.Unmarshal(ev.Data.Object, &cs); err != nil {
			return nil, fmt.Errorf("parse checkout session: %w", err)
		}
		return []model.PaymentEvent{s.checkoutEvent(model.EventOrderFailed, cs, at)}, nil

	case "charge.refunded":
		var ch struct {
			PaymentIntent string `json:"payment_intent"`
		}
		if err := json.Unmarshal(ev.Data.Object, &ch); err != nil {
			return nil, fmt.Errorf("parse charge: %w", err)
		}
		return s.paymentIntentEvents(ctx, model.EventOrderRefunded, ch.PaymentIntent, at)

	case "payment_intent.canceled":
		var pi struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Data.Object, &pi); err != nil {
			return nil, fmt.Errorf("parse payment intent: %w", err)
		}
		return s.paymentIntentEvents(ctx, model.EventOrderCancelled, pi.ID, at)

	case "customer.subscription.deleted", "customer.subscription.updated":
		var sub struct {
			ID       string            `json:"id"`
			Status   string            `json:"status"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(ev.Data.Object, &sub); err != nil {
			return nil, fmt.Errorf("parse subscription: %w", err)
		}
		typ := model.EventSubscriptionCancelled
		if ev.Type == "customer.subscription.updated" {
			switch sub.Status {
			case "canceled":
				typ = model.EventSubscriptionCancelled
			case "incomplete_expired", "unpaid":
				typ = model.EventSubscriptionExpired
			default:
				return nil, nil
			}
		}
		licID, _ := strconv.ParseInt(sub.Metadata["license_id"], 10, 64)
		return []model.PaymentEvent{{
			Type:           typ,
			ProcessorID:    StripeID,
			SessionID:      sub.Metadata["session_id"],
			LicenseID:      licID,
			SubscriptionID: sub.ID,
			OccurredAt:     at,
		}}, nil
	}
	s.log.Debug().Str("event_type", ev.Type).Str("event_id", ev.ID).Msg("ignoring stripe event")
	return nil, nil
}

func (s *Stripe) checkoutEvent(typ model.PaymentEventType, cs checkoutSession, at time.Time) model.PaymentEvent {
	sessionID := cs.Metadata["session_id"]
	if sessionID == "" {
		sessionID = cs.ClientReferenceID
	}
	licID, _ := strconv.ParseInt(cs.Metadata["license_id"], 10, 64)
	return model.PaymentEvent{
		Type:           typ,
		ProcessorID:    StripeID,
		SessionID:      sessionID,
		LicenseID:      licID,
		OrderID:        cs.ID,
		SubscriptionID: cs.Subscription,
		OccurredAt:     at,
	}
}

// paymentIntentEvents maps a payment intent back to the checkout session
// that created it; tokens are linked to checkout session ids.
func (s *Stripe) paymentIntentEvents(ctx context.Context, typ model.PaymentEventType, paymentIntent string, at time.Time) ([]model.PaymentEvent, error) {
	if paymentIntent == "" {
		return nil, nil
	}
	q := url.Values{}
	q.Set("payment_intent", paymentIntent)
	resp, err := s.makeRequest(ctx, http.MethodGet, "/checkout/sessions", q)
	if err != nil {
		return nil, fmt.Errorf("list checkout sessions: %w", err)
	}
	var list struct {
		Data []checkoutSession `json:"data"`
	}
	if err := json.Unmarshal(resp, &list); err != nil {
		return nil, fmt.Errorf("parse checkout sessions: %w", err)
	}
	out := make([]model.PaymentEvent, 0, len(list.Data))
	for _, cs := range list.Data {
		out = append(out, s.checkoutEvent(typ, cs, at))
	}
	return out, nil
}

// makeRequest makes an authenticated form-encoded request to the Stripe API.
func (s *Stripe) makeRequest(ctx context.Context, method, path string, data url.Values) ([]byte, error) {
	endpoint := s.cfg.APIBase + path
	var body io.Reader
	if method == http.MethodGet {
		if len(data) > 0 {
			endpoint += "?" + data.Encode()
		}
	} else if data != nil {
		body = strings.NewReader(data.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.cfg.SecretKey, "")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var wrapped struct {
			Error StripeAPIError `json:"error"`
		}
		_ = json.Unmarshal(respBody, &wrapped)
		apiErr := wrapped.Error
		apiErr.Status = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return nil, &apiErr
	}
	return respBody, nil
}

// verifyWebhookSignature checks a "t=<unix>,v1=<hex>" signature header.
func (s *Stripe) verifyWebhookSignature(payload []byte, signatureHeader string) error {
	if s.cfg.WebhookSecret == "" {
		return errors.New("stripe webhook secret not configured")
	}
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(signatureHeader, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return errors.New("malformed stripe signature header")
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.New("malformed stripe signature timestamp")
	}
	if age := s.now().Sub(time.Unix(ts, 0)); age > webhookTolerance || age < -webhookTolerance {
		return errors.New("stripe signature timestamp outside tolerance")
	}

	expected := SignStripePayload(s.cfg.WebhookSecret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return errors.New("invalid stripe signature")
}

// SignStripePayload computes the v1 signature Stripe sends for payload.
func SignStripePayload(secret, timestamp string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(h.Sum(nil))
}
