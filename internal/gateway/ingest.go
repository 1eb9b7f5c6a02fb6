package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/tajirly/agent-core/internal/models"
	"github.com/tajirly/agent-core/internal/repositories"
	"github.com/tajirly/agent-core/internal/shared/logutil"
)

// Channel tags which ingress path delivered a message. Webhook covers every
// provider-push path (HTTP webhooks and whatsmeow device events); polling is
// the pull path. Dedup makes the tag informational, not behavioural.
type Channel string

const (
	ChannelWebhook Channel = "webhook"
	ChannelPolling Channel = "polling"
)

// InboundMessage is the single normalized shape both ingress adapters produce.
type InboundMessage struct {
	ProviderMessageID string
	FromPhone         string
	ToPhone           string // the connection's number
	Text              string
	Type              string
	Timestamp         time.Time
	Raw               json.RawMessage
}

// Result reports what Ingest did with a message.
type Result struct {
	// Ignored: non-text or otherwise unsupported message, dropped.
	Ignored bool
	// Duplicate: dedup key already seen, treated as success.
	Duplicate bool
	// FirstContact: this message created the conversation.
	FirstContact bool

	Connection   *models.WhatsAppConnection
	Conversation *models.Conversation
	Message      *models.Message
}

// ErrUnknownConnection wraps the repository sentinel so callers can drop
// messages that no tenant owns.
var ErrUnknownConnection = repositories.ErrConnectionNotFound

// Trigger hands a freshly persisted inbound message to the reply pipeline.
// Implementations must not block the caller on LLM or send latency.
type Trigger interface {
	TriggerReply(conn *models.WhatsAppConnection, conv *models.Conversation, msg *models.Message, firstContact bool)
}

// Ingestor is the single consumer both ingress adapters feed.
type Ingestor struct {
	connRepo repositories.ConnectionRepo
	convRepo repositories.ConversationRepo
	pipeline Trigger
}

func NewIngestor(connRepo repositories.ConnectionRepo, convRepo repositories.ConversationRepo, pipeline Trigger) *Ingestor {
	return &Ingestor{
		connRepo: connRepo,
		convRepo: convRepo,
		pipeline: pipeline,
	}
}

// Ingest normalizes, deduplicates and persists one inbound message, then
// triggers the reply pipeline. It is idempotent on the
// (connection, provider message ID) dedup key, which is what makes dual
// webhook+polling delivery and provider webhook retries safe.
func (i *Ingestor) Ingest(ctx context.Context, msg InboundMessage, channel Channel) (*Result, error) {
	log := logutil.Component("gateway").With().
		Str("channel", string(channel)).
		Str("from", msg.FromPhone).
		Str("provider_message_id", msg.ProviderMessageID).
		Logger()

	if msg.Type != "" && msg.Type != "text" {
		log.Info().Str("type", msg.Type).Msg("ignoring non-text message")
		return &Result{Ignored: true}, nil
	}
	if msg.Text == "" || msg.FromPhone == "" {
		log.Info().Msg("ignoring message without text or sender")
		return &Result{Ignored: true}, nil
	}

	conn, err := i.connRepo.GetByPhone(ctx, msg.ToPhone)
	if err != nil {
		if errors.Is(err, repositories.ErrConnectionNotFound) {
			log.Warn().Str("to", msg.ToPhone).Msg("inbound message for unknown connection, dropping")
			return nil, ErrUnknownConnection
		}
		return nil, fmt.Errorf("resolve connection: %w", err)
	}

	// Dedup fast path: already seen via the other channel (or a retry).
	if msg.ProviderMessageID != "" {
		existing, err := i.convRepo.FindByProviderMessageID(ctx, conn.ID, msg.ProviderMessageID)
		if err != nil {
			return nil, fmt.Errorf("dedup lookup: %w", err)
		}
		if existing != nil {
			log.Debug().Msg("duplicate message, already persisted")
			return &Result{Duplicate: true, Connection: conn, Message: existing}, nil
		}
	}

	conv, created, err := i.convRepo.GetOrCreate(ctx, conn.MerchantID, msg.FromPhone)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}

	row := &models.Message{
		ConversationID: conv.ID,
		ConnectionID:   conn.ID,
		Direction:      models.DirectionIncoming,
		Content:        msg.Text,
		MessageType:    "text",
		Payload:        datatypes.JSON(msg.Raw),
	}
	if msg.ProviderMessageID != "" {
		id := msg.ProviderMessageID
		row.ProviderMessageID = &id
	}

	if err := i.convRepo.AppendMessage(ctx, row); err != nil {
		// Lost the insert race against the other channel: the row exists,
		// which is the outcome we wanted.
		if errors.Is(err, repositories.ErrDuplicateMessage) {
			log.Debug().Msg("duplicate message, lost insert race")
			return &Result{Duplicate: true, Connection: conn, Conversation: conv}, nil
		}
		return nil, fmt.Errorf("persist message: %w", err)
	}

	log.Info().
		Str("conversation_id", conv.ID.String()).
		Bool("first_contact", created).
		Msg("inbound message persisted")

	if i.pipeline != nil {
		i.pipeline.TriggerReply(conn, conv, row, created)
	}

	return &Result{
		FirstContact: created,
		Connection:   conn,
		Conversation: conv,
		Message:      row,
	}, nil
}
