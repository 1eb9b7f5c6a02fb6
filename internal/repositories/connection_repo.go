package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tajirly/agent-core/internal/models"
)

// ErrConnectionNotFound reports an inbound message addressed to a number no
// active connection owns. There is no tenant to attribute it to, so callers
// drop the message instead of retrying.
var ErrConnectionNotFound = errors.New("unknown connection")

type ConnectionRepo interface {
	GetByPhone(ctx context.Context, phoneNumber string) (*models.WhatsAppConnection, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.WhatsAppConnection, error)
	ListPolling(ctx context.Context) ([]models.WhatsAppConnection, error)
	ListByProvider(ctx context.Context, provider string) ([]models.WhatsAppConnection, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type connectionRepo struct {
	db *gorm.DB
}

func NewConnectionRepo(db *gorm.DB) ConnectionRepo {
	return &connectionRepo{db: db}
}

func (r *connectionRepo) GetByPhone(ctx context.Context, phoneNumber string) (*models.WhatsAppConnection, error) {
	var conn models.WhatsAppConnection
	err := r.db.WithContext(ctx).
		Where("phone_number = ? AND is_active = ?", phoneNumber, true).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WhatsAppConnection, error) {
	var conn models.WhatsAppConnection
	err := r.db.WithContext(ctx).First(&conn, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// ListPolling returns active connections whose provider cannot push webhooks,
// so the gateway must pull their unread queues.
func (r *connectionRepo) ListPolling(ctx context.Context) ([]models.WhatsAppConnection, error) {
	var conns []models.WhatsAppConnection
	err := r.db.WithContext(ctx).
		Where("channel_mode = ? AND is_active = ?", models.ChannelPolling, true).
		Find(&conns).Error
	return conns, err
}

// ListByProvider returns active connections on one provider type. Used at
// startup to attach in-process listeners to self-hosted device sessions.
func (r *connectionRepo) ListByProvider(ctx context.Context, provider string) ([]models.WhatsAppConnection, error) {
	var conns []models.WhatsAppConnection
	err := r.db.WithContext(ctx).
		Where("provider = ? AND is_active = ?", provider, true).
		Find(&conns).Error
	return conns, err
}

func (r *connectionRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.WhatsAppConnection{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}
