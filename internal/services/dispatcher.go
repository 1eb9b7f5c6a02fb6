package services

import (
	"context"
	"fmt"

	"github.com/tajirly/agent-core/internal/models"
	"github.com/tajirly/agent-core/internal/repositories"
	"github.com/tajirly/agent-core/internal/shared/logutil"
)

// TextSender is the outbound side of the provider registry. Satisfied by
// whatsapp.Service.
type TextSender interface {
	SendText(ctx context.Context, conn *models.WhatsAppConnection, phoneNumber, text string) (string, error)
}

// Dispatcher sends agent replies out through the connection's provider and
// records them. The outgoing row is written only after the provider accepted
// the send, so the transcript never claims a delivery that did not happen.
type Dispatcher struct {
	wa       TextSender
	convRepo repositories.ConversationRepo
}

func NewDispatcher(wa TextSender, convRepo repositories.ConversationRepo) *Dispatcher {
	return &Dispatcher{wa: wa, convRepo: convRepo}
}

// Deliver sends text to the conversation's customer. On provider failure the
// error is recorded on the conversation and returned; nothing is persisted to
// the transcript.
func (d *Dispatcher) Deliver(ctx context.Context, conn *models.WhatsAppConnection, conv *models.Conversation, text string) (*models.Message, error) {
	log := logutil.Component("dispatcher").With().
		Str("connection_id", conn.ID.String()).
		Str("conversation_id", conv.ID.String()).
		Logger()

	providerRef, err := d.wa.SendText(ctx, conn, conv.CustomerPhone, text)
	if err != nil {
		log.Error().Err(err).Msg("provider send failed")
		if dbErr := d.convRepo.SetDeliveryError(ctx, conv.ID, err.Error()); dbErr != nil {
			log.Warn().Err(dbErr).Msg("failed to record delivery error")
		}
		return nil, fmt.Errorf("send reply: %w", err)
	}

	row := &models.Message{
		ConversationID: conv.ID,
		ConnectionID:   conn.ID,
		Direction:      models.DirectionOutgoing,
		Content:        text,
		MessageType:    "text",
		IsProcessed:    true,
	}
	if providerRef != "" {
		row.ProviderMessageID = &providerRef
	}

	if err := d.convRepo.AppendMessage(ctx, row); err != nil {
		// The customer has the message even if we failed to record it.
		log.Error().Err(err).Msg("reply sent but failed to persist outgoing row")
		return nil, fmt.Errorf("persist reply: %w", err)
	}

	if conv.LastDeliveryError != "" {
		if err := d.convRepo.SetDeliveryError(ctx, conv.ID, ""); err != nil {
			log.Warn().Err(err).Msg("failed to clear delivery error")
		}
	}

	log.Info().Str("provider_message_id", providerRef).Msg("reply delivered")
	return row, nil
}
