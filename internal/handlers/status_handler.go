package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tajirly/agent-core/internal/services"
)

type StatusHandler struct {
	pipeline *services.Pipeline
}

func NewStatusHandler(pipeline *services.Pipeline) *StatusHandler {
	return &StatusHandler{pipeline: pipeline}
}

// AutoReplyStatus godoc
// @Summary Auto-reply status banner
// @Description Reports whether the agent would answer a message arriving right now
// @Tags Merchants
// @Produce json
// @Param id path string true "Merchant ID"
// @Success 200 {object} services.Status
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /merchants/{id}/auto-reply-status [get]
func (h *StatusHandler) AutoReplyStatus(c *fiber.Ctx) error {
	merchantID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid merchant id"})
	}

	status, err := h.pipeline.ShouldRespond(c.Context(), merchantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "merchant not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to evaluate status"})
	}
	return c.JSON(status)
}
