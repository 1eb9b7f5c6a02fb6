package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tajirly/agent-core/internal/models"
)

type MerchantRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Merchant, error)
}

type merchantRepo struct {
	db *gorm.DB
}

func NewMerchantRepo(db *gorm.DB) MerchantRepo {
	return &merchantRepo{db: db}
}

func (r *merchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Merchant, error) {
	var merchant models.Merchant
	if err := r.db.WithContext(ctx).First(&merchant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &merchant, nil
}
