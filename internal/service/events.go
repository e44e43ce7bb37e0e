package service

import (
	"context"
	"fmt"

	"github.com/iliyamo/content-license-server/internal/model"
	"github.com/iliyamo/content-license-server/internal/payment"
)

// HandlePaymentEvent applies a processor lifecycle event.  Paid orders get
// a payment proof stored on their session; refunds, cancellations and
// expiries revoke every token linked to the order or subscription.
func (s *LicenseService) HandlePaymentEvent(ctx context.Context, ev model.PaymentEvent) error {
	log := s.log.With().Str("event", string(ev.Type)).Str("processor", ev.ProcessorID).Logger()
	switch ev.Type {
	case model.EventOrderPaid:
		if ev.SessionID == "" {
			log.Debug().Str("order_id", ev.OrderID).Msg("paid order without session")
			return nil
		}
		sess, err := s.sessions.Get(ctx, ev.SessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			log.Warn().Str("session_id", ev.SessionID).Msg("paid order for unknown or expired session")
			return nil
		}
		proc, ok := s.payments.Get(ev.ProcessorID)
		if !ok {
			return fmt.Errorf("unknown processor %q", ev.ProcessorID)
		}
		if sess.Status != model.SessionAwaitingPayment {
			log.Debug().Str("session_id", sess.ID).Str("status", string(sess.Status)).Msg("duplicate paid event ignored")
			return nil
		}
		proof, err := proc.GeneratePaymentProof(ctx, payment.Proof{
			SessionID:      sess.ID,
			LicenseID:      sess.LicenseID,
			ClientID:       sess.ClientID,
			OrderID:        ev.OrderID,
			SubscriptionID: ev.SubscriptionID,
		})
		if err != nil {
			return fmt.Errorf("generate payment proof: %w", err)
		}
		if _, err := s.sessions.StorePaymentProof(ctx, sess.ID, proof); err != nil {
			return err
		}
		log.Info().Str("session_id", sess.ID).Str("order_id", ev.OrderID).Msg("payment proof stored")

	case model.EventOrderFailed:
		if ev.SessionID != "" {
			s.failSession(ctx, ev.SessionID, "payment failed")
		}

	case model.EventOrderRefunded, model.EventOrderCancelled:
		n, err := s.revocations.RevokeForOrder(ctx, ev.OrderID)
		if err != nil {
			log.Warn().Err(err).Str("order_id", ev.OrderID).Msg("revoke tokens for order failed")
			return nil
		}
		log.Info().Str("order_id", ev.OrderID).Int64("revoked", n).Msg("order tokens revoked")

	case model.EventSubscriptionCancelled, model.EventSubscriptionExpired:
		n, err := s.revocations.RevokeForSubscription(ctx, ev.SubscriptionID)
		if err != nil {
			log.Warn().Err(err).Str("subscription_id", ev.SubscriptionID).Msg("revoke tokens for subscription failed")
			return nil
		}
		log.Info().Str("subscription_id", ev.SubscriptionID).Int64("revoked", n).Msg("subscription tokens revoked")

	default:
		log.Debug().Msg("ignoring payment event")
	}
	return nil
}

// Cleanup purges expired token records and sessions.  Failures are logged.
func (s *LicenseService) Cleanup(ctx context.Context) {
	if n, err := s.revocations.CleanupExpired(ctx); err != nil {
		s.log.Warn().Err(err).Msg("token cleanup failed")
	} else if n > 0 {
		s.log.Info().Int64("deleted", n).Msg("expired token records purged")
	}
	if n, err := s.sessions.Cleanup(ctx); err != nil {
		s.log.Warn().Err(err).Msg("session cleanup failed")
	} else if n > 0 {
		s.log.Info().Int("deleted", n).Msg("expired sessions purged")
	}
}
