package public

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bookd-next/internal/http/response"
	"github.com/bookd-next/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 20

// PaypalPayoutWebhook PayPal Payouts 回调，非 2xx 会触发网关重投
func (h *Handler) PaypalPayoutWebhook(c *gin.Context) {
	log := requestLog(c)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Warnw("paypal_payout_webhook_body_read_failed", "error", err)
		response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeBadRequest, "bad request")
		return
	}
	log.Infow("paypal_payout_webhook_received",
		"client_ip", c.ClientIP(),
		"body_size", len(body),
		"paypal_transmission_id", strings.TrimSpace(c.GetHeader("Paypal-Transmission-Id")),
	)

	result, err := h.PayoutWebhookService.HandleWebhook(c.Request.Context(), c.Request.Header, body)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWebhookSignatureInvalid):
			log.Warnw("paypal_payout_webhook_signature_rejected", "error", err)
			response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeBadRequest, "webhook signature invalid")
		case errors.Is(err, service.ErrWebhookInvalid):
			log.Warnw("paypal_payout_webhook_payload_invalid", "error", err)
			response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeBadRequest, "webhook payload invalid")
		default:
			log.Errorw("paypal_payout_webhook_handle_failed", "error", err)
			response.ErrorWithStatus(c, http.StatusInternalServerError, response.CodeInternal, "webhook handle failed")
		}
		return
	}
	log.Infow("paypal_payout_webhook_handled",
		"event_id", result.EventID,
		"event_type", result.EventType,
		"outcome", result.Outcome,
		"request_id", result.RequestID,
		"payout_id", result.PayoutID,
	)
	response.Success(c, gin.H{
		"received": true,
		"outcome":  result.Outcome,
	})
}
