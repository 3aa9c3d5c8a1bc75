package webhook

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/payrelay/internal/reconcile"
	"github.com/ksred/payrelay/internal/signature"
	"github.com/ksred/payrelay/pkg/response"
	"github.com/rs/zerolog/log"
)

// SignatureHeader carries the gateway's HMAC of the raw body
const SignatureHeader = "X-Razorpay-Signature"

// maxBodyBytes bounds how much of a webhook body is read
const maxBodyBytes = 1 << 20

// Ack is the body of every accepted webhook
type Ack struct {
	Received bool             `json:"received"`
	Event    string           `json:"event,omitempty"`
	Action   reconcile.Action `json:"action,omitempty"`
}

// GinHandlers contains the gateway webhook endpoint
type GinHandlers struct {
	engine *reconcile.Engine
}

func NewGinHandlers(engine *reconcile.Engine) *GinHandlers {
	return &GinHandlers{engine: engine}
}

// WebhookHandler verifies and applies gateway webhooks. Configuration,
// signature and oversize-body problems are rejected. Every other outcome is
// acknowledged with 200 so the gateway stops retrying.
func (h *GinHandlers) WebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := log.With().Str("service", "webhook").Logger()

		if !h.engine.WebhookConfigured() {
			logger.Error().Msg("webhook received but no webhook secret is configured")
			response.Handle(c, nil, signature.ErrServerMisconfigured)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		rawBody, err := c.GetRawData()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				logger.Error().Int64("limit", tooLarge.Limit).Msg("webhook body exceeds size limit")
				response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrCodePayloadTooLarge, "Webhook body is too large")
				return
			}
			logger.Warn().Err(err).Msg("failed to read webhook body")
			response.BadRequest(c, "Unable to read request body")
			return
		}

		// The engine decodes only after verifying, so a body that does not
		// parse is acknowledged as malformed rather than rejected
		result, err := h.engine.ReconcileWebhook(rawBody, c.GetHeader(SignatureHeader))
		if err != nil {
			if !isRejection(err) {
				logger.Error().Err(err).Msg("unexpected webhook failure, acknowledging")
				response.OK(c, Ack{Received: true})
				return
			}
			response.Handle(c, nil, err)
			return
		}

		response.OK(c, Ack{
			Received: true,
			Event:    result.Event,
			Action:   result.Action,
		})
	}
}

func isRejection(err error) bool {
	return errors.Is(err, signature.ErrSignatureInvalid) ||
		errors.Is(err, signature.ErrMissingSignature) ||
		errors.Is(err, signature.ErrServerMisconfigured)
}
