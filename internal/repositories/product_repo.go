package repositories

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tajirly/agent-core/internal/models"
)

type ProductRepo interface {
	// ListActive returns the merchant's active catalogue, bounded so one
	// oversized catalogue cannot blow up the in-memory lexical search.
	ListActive(ctx context.Context, merchantID uuid.UUID, limit int) ([]models.Product, error)
}

type productRepo struct {
	db *gorm.DB
}

func NewProductRepo(db *gorm.DB) ProductRepo {
	return &productRepo{db: db}
}

func (r *productRepo) ListActive(ctx context.Context, merchantID uuid.UUID, limit int) ([]models.Product, error) {
	var products []models.Product
	q := r.db.WithContext(ctx).
		Where("merchant_id = ? AND is_active = ?", merchantID, true).
		Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&products).Error
	return products, err
}
