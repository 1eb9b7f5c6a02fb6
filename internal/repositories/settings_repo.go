package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tajirly/agent-core/internal/models"
)

type SettingsRepo interface {
	// GetByMerchant returns the merchant's bot settings as an immutable
	// snapshot. A merchant without a settings row gets defaults: auto-reply
	// on, no time gating.
	GetByMerchant(ctx context.Context, merchantID uuid.UUID) (*models.BotSettings, error)
}

type settingsRepo struct {
	db *gorm.DB
}

func NewSettingsRepo(db *gorm.DB) SettingsRepo {
	return &settingsRepo{db: db}
}

func (r *settingsRepo) GetByMerchant(ctx context.Context, merchantID uuid.UUID) (*models.BotSettings, error) {
	var settings models.BotSettings
	err := r.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.BotSettings{
				MerchantID:          merchantID,
				AutoReplyEnabled:    true,
				WorkingHoursEnabled: false,
				Tone:                "friendly",
				Language:            "ar",
				MaxResponseLength:   300,
			}, nil
		}
		return nil, err
	}
	return &settings, nil
}
