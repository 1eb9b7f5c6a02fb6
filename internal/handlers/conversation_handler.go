package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/tajirly/agent-core/internal/repositories"
)

const (
	defaultConversationLimit = 50
	defaultMessageLimit      = 100
	maxListLimit             = 500
)

// ConversationHandler exposes read-only transcript access for reporting.
type ConversationHandler struct {
	convRepo repositories.ConversationRepo
}

func NewConversationHandler(convRepo repositories.ConversationRepo) *ConversationHandler {
	return &ConversationHandler{convRepo: convRepo}
}

// ListByMerchant godoc
// @Summary List a merchant's conversations
// @Tags Conversations
// @Produce json
// @Param id path string true "Merchant ID"
// @Param limit query int false "Max rows (default 50)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /merchants/{id}/conversations [get]
func (h *ConversationHandler) ListByMerchant(c *fiber.Ctx) error {
	merchantID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid merchant id"})
	}

	convs, err := h.convRepo.ListByMerchant(c.Context(), merchantID, listLimit(c, defaultConversationLimit))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list conversations"})
	}
	return c.JSON(fiber.Map{"conversations": convs, "count": len(convs)})
}

// ListMessages godoc
// @Summary List a conversation's messages in chronological order
// @Tags Conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Param limit query int false "Max rows (default 100)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /conversations/{id}/messages [get]
func (h *ConversationHandler) ListMessages(c *fiber.Ctx) error {
	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid conversation id"})
	}

	msgs, err := h.convRepo.ListMessages(c.Context(), conversationID, listLimit(c, defaultMessageLimit))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list messages"})
	}
	return c.JSON(fiber.Map{"messages": msgs, "count": len(msgs)})
}

func listLimit(c *fiber.Ctx, def int) int {
	limit := c.QueryInt("limit", def)
	if limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
