package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/tajirly/agent-core/internal/core/whatsapp"
	"github.com/tajirly/agent-core/internal/repositories"
	"github.com/tajirly/agent-core/internal/shared/logutil"
)

// ConnectionHandler serves device-pairing endpoints for self-hosted
// (whatsmeow) connections.
type ConnectionHandler struct {
	connRepo repositories.ConnectionRepo
	storeURL string
}

func NewConnectionHandler(connRepo repositories.ConnectionRepo, storeURL string) *ConnectionHandler {
	return &ConnectionHandler{connRepo: connRepo, storeURL: storeURL}
}

type qrProvider interface {
	PairingQR(ctx context.Context) ([]byte, error)
}

// PairingQR godoc
// @Summary Device pairing QR code
// @Description Returns the pairing QR as a PNG for self-hosted connections
// @Tags Connections
// @Produce png
// @Param id path string true "Connection ID"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /connections/{id}/qr [get]
func (h *ConnectionHandler) PairingQR(c *fiber.Ctx) error {
	connectionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid connection id"})
	}

	conn, err := h.connRepo.GetByID(c.Context(), connectionID)
	if err != nil {
		if errors.Is(err, repositories.ErrConnectionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "connection not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load connection"})
	}

	// A fresh unconnected provider; pairing manages its own client lifetime.
	provider, err := whatsapp.NewFromConnection(conn, h.storeURL)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	qp, ok := provider.(qrProvider)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "connection provider does not use QR pairing",
		})
	}

	png, err := qp.PairingQR(c.Context())
	if err != nil {
		logger := logutil.Component("handlers")
		logger.Error().Err(err).
			Str("connection_id", connectionID.String()).
			Msg("qr pairing failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to generate pairing QR"})
	}

	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}
