package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChannelMode tells which ingress path delivers inbound messages for a
// connection: the provider pushes webhooks, or we pull its unread queue.
type ChannelMode string

const (
	ChannelWebhook ChannelMode = "webhook"
	ChannelPolling ChannelMode = "polling"
)

// WhatsAppConnection links a merchant to their WhatsApp number. A merchant has
// at most one active connection; unlinking deactivates instead of deleting so
// message history keeps a valid foreign key.
type WhatsAppConnection struct {
	ID          uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	MerchantID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"merchant_id"`
	PhoneNumber string         `gorm:"type:text;not null;index" json:"phone_number"`
	ChannelMode ChannelMode    `gorm:"type:text;not null;default:'webhook'" json:"channel_mode"`
	Provider    string         `gorm:"type:text;not null;default:'cloudapi'" json:"provider"`
	Credentials datatypes.JSON `gorm:"type:jsonb" json:"-"`
	IsActive    bool           `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	Merchant Merchant `gorm:"foreignKey:MerchantID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (WhatsAppConnection) TableName() string {
	return "whatsapp_connections"
}

func (c *WhatsAppConnection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
