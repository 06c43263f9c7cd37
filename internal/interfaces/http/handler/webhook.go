package handler

import (
	"encoding/json"
	"errors"
	"io"

	appwebhook "github.com/erp/sync-engine/internal/application/webhook"
	"github.com/erp/sync-engine/internal/domain/webhook"
	"github.com/erp/sync-engine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SignatureHeader carries the HMAC-SHA256 payload signature
const SignatureHeader = "X-Webhook-Signature"

// maxWebhookBody bounds inbound delivery payloads
const maxWebhookBody = 1 << 20

// WebhookHandler receives platform webhook deliveries
type WebhookHandler struct {
	BaseHandler
	service *appwebhook.Service
}

// NewWebhookHandler creates a webhook handler
func NewWebhookHandler(service *appwebhook.Service) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/webhooks")
	group.POST("/platform", h.Receive)
	group.GET("/stats", h.Stats)
	group.POST("/:id/replay", h.Replay)
}

// Receive ingests one delivery. The signature is verified over the raw body
// bytes, so the body is read before any JSON decoding.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.BadRequest(c, "failed to read request body")
		return
	}

	var envelope dto.WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.Error(c, 400, dto.ErrCodeInvalidJSON, "malformed delivery body")
		return
	}

	result, err := h.service.Ingest(c.Request.Context(), appwebhook.IngestInput{
		EventType:  envelope.EventType,
		ResourceID: envelope.ResourceID,
		Payload:    body,
		Signature:  c.GetHeader(SignatureHeader),
		SourceIP:   c.ClientIP(),
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrRateLimited):
			h.TooManyRequests(c, err.Error())
		case errors.Is(err, webhook.ErrBadSignature):
			h.ErrorWithCode(c, dto.ErrCodeBadSignature, err.Error())
		case errors.Is(err, webhook.ErrInvalidEvent), errors.Is(err, appwebhook.ErrUnknownEventType):
			h.Error(c, 400, dto.ErrCodeInvalidInput, err.Error())
		default:
			h.InternalError(c, err.Error())
		}
		return
	}

	if result.Duplicate {
		h.Success(c, gin.H{"duplicate": true})
		return
	}
	h.Accepted(c, gin.H{"event_id": result.Event.ID.String()})
}

// Stats returns delivery counts per lifecycle status
func (h *WebhookHandler) Stats(c *gin.Context) {
	counts, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.InternalError(c, err.Error())
		return
	}
	h.Success(c, counts)
}

// Replay requeues a terminally failed delivery
func (h *WebhookHandler) Replay(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "invalid event ID")
		return
	}

	event, err := h.service.Replay(c.Request.Context(), eventID)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrEventNotFound):
			h.NotFound(c, "webhook event not found")
		case errors.Is(err, webhook.ErrEventTerminal):
			h.UnprocessableEntity(c, dto.ErrCodeInvalidState, "only failed events can be replayed")
		default:
			h.InternalError(c, err.Error())
		}
		return
	}
	h.Success(c, gin.H{"event_id": event.ID.String(), "status": event.Status})
}
