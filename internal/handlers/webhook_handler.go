package handlers

import (
	"io"
	"net/http"

	"github.com/borderway/rideshare-backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// maxWebhookBody bounds how much of a webhook payload is read
const maxWebhookBody = 1 << 20

// WebhookHandler receives payment gateway webhook deliveries
type WebhookHandler struct {
	webhooks *services.WebhookService
	logger   *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(webhooks *services.WebhookService, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, logger: logger}
}

// Handle handles POST /api/v1/webhooks/stripe. A 2xx acknowledges the
// delivery; any other status makes the gateway redeliver, so transient
// errors return 500 while signature failures return 400 to stop retries
// of garbage.
func (h *WebhookHandler) Handle(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_argument",
			"message": "Unreadable request body",
		})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if err := h.webhooks.HandleEvent(c.Request.Context(), payload, signature); err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
