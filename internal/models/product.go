package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is catalogue data owned by the catalogue module. This core only
// reads it as retrieval context for grounded replies.
type Product struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	MerchantID uuid.UUID `gorm:"type:uuid;not null;index" json:"merchant_id"`

	Name        string `gorm:"type:text;not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	Category    string `gorm:"type:text" json:"category,omitempty"`

	Price float64 `gorm:"type:decimal(12,2);not null;default:0" json:"price"`
	Stock int     `gorm:"not null;default:0" json:"stock"`

	IsActive bool `gorm:"not null;default:true" json:"is_active"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Product) TableName() string {
	return "products"
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
