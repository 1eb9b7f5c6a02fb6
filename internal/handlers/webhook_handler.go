package handlers

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tajirly/agent-core/internal/gateway"
	"github.com/tajirly/agent-core/internal/shared/logutil"
)

// WebhookHandler receives provider push notifications. Persistence happens
// before the ack so a 200 means the message is durably stored (or a known
// duplicate); the reply pipeline runs async behind it.
type WebhookHandler struct {
	ingestor *gateway.Ingestor
}

func NewWebhookHandler(ingestor *gateway.Ingestor) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor}
}

// webhookPayload is the flat event shape providers are configured to post.
// From/To arrive in JID form ("628xxx@c.us") or as bare numbers.
type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		To        string `json:"to"`
		FromMe    bool   `json:"fromMe"`
		Type      string `json:"type"`
		Body      string `json:"body"`
		Timestamp int64  `json:"timestamp"`
	} `json:"payload"`
}

// Receive godoc
// @Summary WhatsApp webhook receiver
// @Description Receives message push notifications from WhatsApp providers
// @Tags Webhook
// @Accept json
// @Produce json
// @Param payload body map[string]interface{} true "Provider event payload"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 502 {object} map[string]interface{}
// @Router /webhooks/whatsapp [post]
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	log := logutil.Component("webhook")

	var payload webhookPayload
	if err := c.BodyParser(&payload); err != nil {
		log.Warn().Err(err).Msg("malformed webhook payload")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}

	// Providers post acks, reactions and session events on the same URL;
	// only customer messages are ingested.
	if (payload.Event != "" && payload.Event != "message") || payload.Payload.FromMe {
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	raw := make(json.RawMessage, len(c.Body()))
	copy(raw, c.Body())

	msg := gateway.InboundMessage{
		ProviderMessageID: payload.Payload.ID,
		FromPhone:         extractPhoneNumber(payload.Payload.From),
		ToPhone:           extractPhoneNumber(payload.Payload.To),
		Text:              payload.Payload.Body,
		Type:              payload.Payload.Type,
		Raw:               raw,
	}
	if payload.Payload.Timestamp > 0 {
		msg.Timestamp = time.Unix(payload.Payload.Timestamp, 0)
	}

	res, err := h.ingestor.Ingest(c.Context(), msg, gateway.ChannelWebhook)
	if err != nil {
		if errors.Is(err, gateway.ErrUnknownConnection) {
			// Nothing to attribute it to; acking stops provider retries.
			return c.JSON(fiber.Map{"status": "ignored"})
		}
		log.Error().Err(err).Msg("webhook ingestion failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "temporarily unable to store message"})
	}

	switch {
	case res.Ignored:
		return c.JSON(fiber.Map{"status": "ignored"})
	case res.Duplicate:
		return c.JSON(fiber.Map{"status": "duplicate"})
	default:
		return c.JSON(fiber.Map{
			"status":          "received",
			"conversation_id": res.Conversation.ID,
		})
	}
}

// extractPhoneNumber strips the JID suffix ("628xxx@c.us" -> "628xxx").
func extractPhoneNumber(from string) string {
	if i := strings.IndexByte(from, '@'); i >= 0 {
		return from[:i]
	}
	return from
}
