package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// Direction of a message relative to the merchant.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Conversation groups the message history between one merchant and one
// customer phone. At most one non-closed conversation may exist per
// (merchant, customer phone), enforced by the partial unique index
// ux_open_conversation (WHERE status <> 'closed'). GORM tags cannot express
// the predicate, so the index lives in the migration; test databases create
// it with raw SQL after AutoMigrate.
type Conversation struct {
	ID            uuid.UUID          `gorm:"type:uuid;primary_key" json:"id"`
	MerchantID    uuid.UUID          `gorm:"type:uuid;not null;index" json:"merchant_id"`
	CustomerPhone string             `gorm:"type:text;not null;index" json:"customer_phone"`
	Status        ConversationStatus `gorm:"type:text;not null;default:'active'" json:"status"`
	LastMessageAt time.Time          `gorm:"index" json:"last_message_at"`

	// Last outbound send failure, kept operator-visible; cleared on success.
	LastDeliveryError string `gorm:"type:text" json:"last_delivery_error,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Merchant Merchant `gorm:"foreignKey:MerchantID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Message is one append-only row of a conversation. ProviderMessageID is the
// dedup key across the webhook and polling ingress paths: the same provider
// event delivered twice collapses onto a single row via the unique index on
// (connection_id, provider_message_id).
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index" json:"conversation_id"`
	ConnectionID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_message_dedup" json:"connection_id"`

	Direction   Direction `gorm:"type:text;not null" json:"direction"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	MessageType string    `gorm:"type:text;not null;default:'text'" json:"message_type"`

	// NULL (not empty string) when the provider assigned no ID, so that rows
	// without a dedup key never collide in the unique index.
	ProviderMessageID *string        `gorm:"type:text;uniqueIndex:ux_message_dedup" json:"provider_message_id,omitempty"`
	Payload           datatypes.JSON `gorm:"type:jsonb" json:"-"` // raw provider event, for audit

	IsProcessed bool      `gorm:"not null;default:false" json:"is_processed"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`

	Conversation Conversation `gorm:"foreignKey:ConversationID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
