package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/iliyamo/content-license-server/internal/apperr"
	"github.com/iliyamo/content-license-server/internal/model"
	"github.com/iliyamo/content-license-server/internal/ratelimit"
	"github.com/iliyamo/content-license-server/internal/revocation"
	"github.com/iliyamo/content-license-server/internal/session"
)

// SessionRequest is a POST /olp/session call.
type SessionRequest struct {
	LicenseID     int64
	Client        string
	Options       map[string]string
	Authorization string
	CallerID      string
}

// SessionResponse describes a newly created session.
type SessionResponse struct {
	SessionID   string              `json:"session_id"`
	Status      model.SessionStatus `json:"status"`
	PollingURL  string              `json:"polling_url"`
	ExpiresAt   time.Time           `json:"expires_at"`
	CheckoutURL string              `json:"checkout_url,omitempty"`
	Processor   string              `json:"processor,omitempty"`
	Message     string              `json:"message,omitempty"`

	Token *TokenResponse `json:"token,omitempty"`

	RateLimit ratelimit.Result `json:"-"`
}

// CreateSession starts a payment session.  Free licenses complete at once
// and carry a token; paid licenses start a processor checkout.
func (s *LicenseService) CreateSession(ctx context.Context, req SessionRequest) (*SessionResponse, error) {
	who := s.identify(ctx, req.Authorization, req.CallerID)
	rl, err := s.limiter.Check(ctx, ratelimit.EndpointSession, who.key)
	if err != nil {
		return nil, err
	}
	resp, err := s.createSession(ctx, req, who)
	if err != nil {
		return nil, withRateHeaders(err, rl)
	}
	resp.RateLimit = rl
	return resp, nil
}

func (s *LicenseService) createSession(ctx context.Context, req SessionRequest, who caller) (*SessionResponse, error) {
	lic, err := s.activeLicense(ctx, req.LicenseID)
	if err != nil {
		return nil, err
	}

	clientID := strings.TrimSpace(req.Client)
	if clientID == "" {
		clientID = AnonymousClient
	}
	if !lic.IsFree() {
		c, err := who.authenticated("client authentication required for paid licenses")
		if err != nil {
			return nil, err
		}
		clientID = c.ID
		if len(s.payments.Available()) == 0 {
			return nil, apperr.PaymentNotAvailable("no payment processor is configured")
		}
	}

	sess, err := s.sessions.Create(ctx, lic.ID, clientID, req.Options)
	if err != nil {
		return nil, err
	}
	resp := &SessionResponse{
		SessionID:  sess.ID,
		Status:     sess.Status,
		PollingURL: s.serverURL + "/olp/session/" + sess.ID,
		ExpiresAt:  sess.ExpiresAt,
	}

	if lic.IsFree() {
		tok, err := s.mint(ctx, lic, clientID, revocation.Link{}, s.persistFree)
		if err != nil {
			s.failSession(ctx, sess.ID, "token could not be issued")
			return nil, err
		}
		done, err := s.sessions.Complete(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		resp.Status = done.Status
		resp.Token = tok
		return resp, nil
	}

	proc, err := s.payments.ForType(lic.PaymentType)
	if err != nil {
		s.failSession(ctx, sess.ID, "no payment processor available")
		return nil, noProcessor(lic.PaymentType).WithData("session_id", sess.ID)
	}
	co, err := proc.CreateCheckoutSession(ctx, lic, clientID, sess.ID)
	if err != nil {
		s.failSession(ctx, sess.ID, "checkout could not be created")
		s.log.Error().Err(err).Str("session_id", sess.ID).Str("processor", proc.ID()).Msg("create checkout failed")
		return nil, apperr.New(http.StatusBadGateway, apperr.CodeServerError, "payment processor error").WithData("session_id", sess.ID)
	}
	updated, err := s.sessions.SetCheckoutURL(ctx, sess.ID, co.URL, proc.ID())
	if err != nil {
		return nil, err
	}
	resp.Status = updated.Status
	resp.CheckoutURL = co.URL
	resp.Processor = proc.ID()
	resp.Message = session.Project(updated).Message
	return resp, nil
}

// GetSession returns the caller-facing projection of a live session.
func (s *LicenseService) GetSession(ctx context.Context, id string) (*session.StatusView, error) {
	v, err := s.sessions.Status(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apperr.NotFound("session not found or expired")
	}
	return v, nil
}
