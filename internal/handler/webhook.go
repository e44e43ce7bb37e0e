package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/content-license-server/internal/apperr"
	"github.com/iliyamo/content-license-server/internal/payment"
	"github.com/iliyamo/content-license-server/internal/queue"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives processor webhooks and forwards the resulting
// lifecycle events to the event sink.
type WebhookHandler struct {
	Payments *payment.Registry
	Sink     queue.EventSink
	Log      zerolog.Logger
}

func NewWebhookHandler(payments *payment.Registry, sink queue.EventSink, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{Payments: payments, Sink: sink, Log: log.With().Str("component", "webhook").Logger()}
}

// Receive handles POST /olp/webhooks/:processor.
func (h *WebhookHandler) Receive(c echo.Context) error {
	id := c.Param("processor")
	proc, ok := h.Payments.Get(id)
	if !ok {
		return apperr.NotFound("unknown processor")
	}
	parser, ok := proc.(payment.WebhookParser)
	if !ok {
		return apperr.NotFound("processor does not accept webhooks")
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return apperr.InvalidRequest("could not read body")
	}
	ctx := c.Request().Context()
	events, err := parser.ParseWebhook(ctx, body, c.Request().Header)
	if err != nil {
		h.Log.Warn().Err(err).Str("processor", id).Msg("webhook rejected")
		return apperr.InvalidRequest("webhook could not be verified")
	}
	for _, ev := range events {
		if err := h.Sink.Publish(ctx, ev); err != nil {
			// the processor retries on non-2xx
			return err
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"received": len(events)})
}
