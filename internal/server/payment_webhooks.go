package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/payrail/internal/payment/domain"
)

// HandlePaymentWebhook ingests one provider delivery. The raw body is kept
// byte-for-byte for providers that sign the wire payload; a canonical
// re-serialization is prepared for providers that sign the parsed object.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	webhook, err := s.webhookSvc.Ingest(c.Request.Context(), paymentdomain.IngestWebhookRequest{
		Provider:   provider,
		Payload:    canonicalize(raw),
		RawPayload: raw,
		Headers:    c.Request.Header,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if webhook.Status == paymentdomain.WebhookStatusFailed && webhook.Error != nil && *webhook.Error == "Invalid signature" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected"})
		return
	}

	// The provider only needs an acknowledgement; a failed application is
	// retried on redelivery.
	c.JSON(http.StatusOK, gin.H{"status": string(webhook.Status)})
}

// canonicalize re-serializes the body so a provider that signs the parsed
// object verifies against a stable representation.
func canonicalize(raw []byte) []byte {
	var parsed json.RawMessage
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return raw
	}
	compact, err := json.Marshal(parsed)
	if err != nil {
		return raw
	}
	return compact
}

type listWebhooksQuery struct {
	Provider string `form:"provider"`
	Status   string `form:"status"`
	Limit    int    `form:"limit"`
}

// HandleListPaymentWebhooks lists stored webhook records so stuck or failed
// deliveries can be inspected.
func (s *Server) HandleListPaymentWebhooks(c *gin.Context) {
	var query listWebhooksQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	webhooks, err := s.webhookSvc.List(c.Request.Context(), paymentdomain.ListWebhooksFilter{
		Provider: strings.ToLower(strings.TrimSpace(query.Provider)),
		Status:   paymentdomain.WebhookStatus(strings.ToLower(strings.TrimSpace(query.Status))),
		Limit:    query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"webhooks": webhooks})
}
