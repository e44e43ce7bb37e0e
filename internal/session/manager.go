// Package session tracks asynchronous payment flows.  A session moves
// created -> awaiting_payment -> proof_ready -> completed, may jump from
// created straight to completed for free licenses, and may fail from any
// non-terminal state.  Sessions expire after their TTL whether or not they
// completed; clients poll them and treat "not found" and "expired" alike.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/content-license-server/internal/model"
	"github.com/iliyamo/content-license-server/internal/repository"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = time.Hour

// ErrInvalidTransition is returned when a state change is not allowed from
// the session's current status.
var ErrInvalidTransition = errors.New("invalid session transition")

// Store persists sessions.  Get returns repository.ErrNotFound for unknown
// ids; it may still return expired sessions, which the Manager evicts.
type Store interface {
	Put(ctx context.Context, s model.Session) error
	Get(ctx context.Context, id string) (model.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

var transitions = map[model.SessionStatus][]model.SessionStatus{
	model.SessionCreated:         {model.SessionAwaitingPayment, model.SessionCompleted, model.SessionFailed},
	model.SessionAwaitingPayment: {model.SessionAwaitingPayment, model.SessionProofReady, model.SessionFailed},
	model.SessionProofReady:      {model.SessionCompleted, model.SessionFailed},
}

func allowed(from, to model.SessionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Manager drives session state.
type Manager struct {
	store Store
	ttl   time.Duration
	log   zerolog.Logger
	now   func() time.Time
	mu    sync.Mutex // serializes read-modify-write transitions in this process
}

func NewManager(store Store, ttl time.Duration, log zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		log:   log.With().Str("component", "session").Logger(),
		now:   time.Now,
	}
}

// Create starts a session in the created state.
func (m *Manager) Create(ctx context.Context, licenseID int64, clientID string, opts map[string]string) (model.Session, error) {
	now := m.now().UTC()
	s := model.Session{
		ID:        uuid.NewString(),
		LicenseID: licenseID,
		ClientID:  clientID,
		Status:    model.SessionCreated,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		Options:   opts,
	}
	if err := m.store.Put(ctx, s); err != nil {
		return model.Session{}, fmt.Errorf("save session: %w", err)
	}
	return s, nil
}

// Get returns the session or nil when it does not exist or has expired.
// Expired sessions are evicted on read.
func (m *Manager) Get(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, nil
	}
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		if err := m.store.Delete(ctx, id); err != nil {
			m.log.Warn().Err(err).Str("session_id", id).Msg("evict expired session failed")
		}
		return nil, nil
	}
	return &s, nil
}

// SetCheckoutURL records where the client pays.
func (m *Manager) SetCheckoutURL(ctx context.Context, id, checkoutURL, processorID string) (model.Session, error) {
	return m.transition(ctx, id, model.SessionAwaitingPayment, func(s *model.Session) {
		s.CheckoutURL = checkoutURL
		s.ProcessorID = processorID
	})
}

// StorePaymentProof attaches a signed proof once payment has cleared.
func (m *Manager) StorePaymentProof(ctx context.Context, id, proof string) (model.Session, error) {
	return m.transition(ctx, id, model.SessionProofReady, func(s *model.Session) {
		s.PaymentProof = proof
	})
}

// Complete marks the session done.  Free-license sessions complete
// directly from created.
func (m *Manager) Complete(ctx context.Context, id string) (model.Session, error) {
	return m.transition(ctx, id, model.SessionCompleted, nil)
}

// Fail moves a non-terminal session to failed.
func (m *Manager) Fail(ctx context.Context, id, reason string) (model.Session, error) {
	return m.transition(ctx, id, model.SessionFailed, func(s *model.Session) {
		s.FailReason = reason
	})
}

func (m *Manager) transition(ctx context.Context, id string, to model.SessionStatus, mutate func(*model.Session)) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.Get(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if s == nil {
		return model.Session{}, repository.ErrNotFound
	}
	if !allowed(s.Status, to) {
		return *s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	from := s.Status
	s.Status = to
	s.UpdatedAt = m.now().UTC()
	if mutate != nil {
		mutate(s)
	}
	if err := m.store.Put(ctx, *s); err != nil {
		return model.Session{}, fmt.Errorf("save session: %w", err)
	}
	m.log.Debug().Str("session_id", id).Str("from", string(from)).Str("to", string(to)).Msg("session transition")
	return *s, nil
}

// StatusView is the caller-facing projection of a session.
type StatusView struct {
	SessionID    string              `json:"session_id"`
	Status       model.SessionStatus `json:"status"`
	ExpiresAt    time.Time           `json:"expires_at"`
	Message      string              `json:"message,omitempty"`
	CheckoutURL  string              `json:"checkout_url,omitempty"`
	PaymentProof string              `json:"payment_proof,omitempty"`
}

// Project returns the fields a polling client should see for s.
func Project(s model.Session) StatusView {
	v := StatusView{SessionID: s.ID, Status: s.Status, ExpiresAt: s.ExpiresAt}
	switch s.Status {
	case model.SessionCreated:
		v.Message = "Session created; checkout has not started yet."
	case model.SessionAwaitingPayment:
		v.Message = "Waiting for payment. Complete checkout and keep polling."
		v.CheckoutURL = s.CheckoutURL
	case model.SessionProofReady:
		v.Message = "Payment confirmed. Exchange the payment proof for an access token."
		v.PaymentProof = s.PaymentProof
	}
	return v
}

// Status returns the projection of a live session, or nil.
func (m *Manager) Status(ctx context.Context, id string) (*StatusView, error) {
	s, err := m.Get(ctx, id)
	if err != nil || s == nil {
		return nil, err
	}
	v := Project(*s)
	return &v, nil
}

// Cleanup purges expired sessions.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.now())
}
