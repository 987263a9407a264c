package gateway

import (
	"context"
	"time"

	"github.com/remnashop/remnashop/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the gateway service.
type Repository interface {
	CreateEventIfNotExists(ctx context.Context, event *models.PaymentEvent) (bool, *models.PaymentEvent, error)
	FindEvent(ctx context.Context, provider, externalID string) (*models.PaymentEvent, error)
	UpdatePipelineStage(id uint, stage string) error
	MarkProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a gateway repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// CreateEventIfNotExists is the atomic check-and-insert dedup gate. The
// unique (provider, external_id) index closes the race between two concurrent
// deliveries of the same event: exactly one insert wins.
func (r *gormRepository) CreateEventIfNotExists(ctx context.Context, event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "external_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentEvent
	if err := db.Where("provider = ? AND external_id = ?", event.Provider, event.ExternalID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) FindEvent(ctx context.Context, provider, externalID string) (*models.PaymentEvent, error) {
	var ev models.PaymentEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND external_id = ?", provider, externalID).First(&ev).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *gormRepository) UpdatePipelineStage(id uint, stage string) error {
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).Update("pipeline_stage", stage).Error
}

func (r *gormRepository) MarkProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).Updates(updates).Error
}
