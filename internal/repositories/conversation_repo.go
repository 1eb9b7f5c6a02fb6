package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tajirly/agent-core/internal/models"
)

type ConversationRepo interface {
	// GetOrCreate returns the open conversation for (merchant, phone),
	// creating it if none exists. The second return value reports whether
	// this call created it (first customer contact).
	GetOrCreate(ctx context.Context, merchantID uuid.UUID, customerPhone string) (*models.Conversation, bool, error)

	// AppendMessage inserts a message row. Returns ErrDuplicateMessage when
	// the (connection, provider message ID) dedup key is already present.
	AppendMessage(ctx context.Context, msg *models.Message) error

	FindByProviderMessageID(ctx context.Context, connectionID uuid.UUID, providerMessageID string) (*models.Message, error)
	RecentMessages(ctx context.Context, conversationID uuid.UUID, n int) ([]models.Message, error)
	SetDeliveryError(ctx context.Context, conversationID uuid.UUID, errText string) error
	CloseIdle(ctx context.Context, inactiveSince time.Time) (int64, error)

	ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit int) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error)
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) GetOrCreate(ctx context.Context, merchantID uuid.UUID, customerPhone string) (*models.Conversation, bool, error) {
	var conv models.Conversation

	find := func() error {
		return r.db.WithContext(ctx).
			Where("merchant_id = ? AND customer_phone = ? AND status <> ?",
				merchantID, customerPhone, models.ConversationClosed).
			First(&conv).Error
	}

	err := find()
	if err == nil {
		return &conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("lookup conversation: %w", err)
	}

	conv = models.Conversation{
		MerchantID:    merchantID,
		CustomerPhone: customerPhone,
		Status:        models.ConversationActive,
		LastMessageAt: time.Now(),
	}
	err = r.db.WithContext(ctx).Create(&conv).Error
	if err == nil {
		return &conv, true, nil
	}

	// Webhook and polling can race on a customer's first message. The loser
	// of the unique-index race re-reads the winner's row and proceeds.
	if isUniqueViolation(err) {
		if err := find(); err != nil {
			return nil, false, fmt.Errorf("re-read after conflict: %w", err)
		}
		return &conv, false, nil
	}

	return nil, false, fmt.Errorf("create conversation: %w", err)
}

func (r *conversationRepo) AppendMessage(ctx context.Context, msg *models.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("last_message_at", msg.CreatedAt).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (r *conversationRepo) FindByProviderMessageID(ctx context.Context, connectionID uuid.UUID, providerMessageID string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND provider_message_id = ?", connectionID, providerMessageID).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *conversationRepo) RecentMessages(ctx context.Context, conversationID uuid.UUID, n int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(n).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// Chronological order for prompt building.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *conversationRepo) SetDeliveryError(ctx context.Context, conversationID uuid.UUID, errText string) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("last_delivery_error", errText).Error
}

// CloseIdle marks conversations with no traffic since the cutoff as closed.
// Closed conversations are kept forever; a returning customer gets a fresh
// open conversation.
func (r *conversationRepo) CloseIdle(ctx context.Context, inactiveSince time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("status = ? AND last_message_at < ?", models.ConversationActive, inactiveSince).
		Update("status", models.ConversationClosed)
	return res.RowsAffected, res.Error
}

func (r *conversationRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit int) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("last_message_at DESC").
		Limit(limit).
		Find(&convs).Error
	return convs, err
}

func (r *conversationRepo) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}
