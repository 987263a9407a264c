package entsync

import (
	"context"
	"errors"

	"github.com/remnashop/remnashop/app/models"
	"gorm.io/gorm"
)

// Repository provides DB operations used by the sync engine. Methods without
// a context run inside WithTx, whose transaction carries the caller's context.
type Repository interface {
	WithTx(ctx context.Context, fn func(r Repository) error) error
	FindSubscription(ctx context.Context, id uint) (*models.Subscription, error)
	FindUser(ctx context.Context, id uint) (*models.User, error)
	SaveSubscription(sub *models.Subscription) error
	GetOrCreateSnapshot(subscriptionID uint) (*models.RemoteEntitlementSnapshot, error)
	SaveSnapshot(snap *models.RemoteEntitlementSnapshot) error
	FindDirtyBatch(ctx context.Context, limit int) ([]uint, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a sync repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(ctx context.Context, fn func(r Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) FindSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) GetOrCreateSnapshot(subscriptionID uint) (*models.RemoteEntitlementSnapshot, error) {
	var snap models.RemoteEntitlementSnapshot
	err := r.db.Where("subscription_id = ?", subscriptionID).First(&snap).Error
	if err == nil {
		return &snap, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	snap = models.RemoteEntitlementSnapshot{SubscriptionID: subscriptionID}
	if err := r.db.Create(&snap).Error; err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *gormRepository) SaveSnapshot(snap *models.RemoteEntitlementSnapshot) error {
	return r.db.Save(snap).Error
}

func (r *gormRepository) FindDirtyBatch(ctx context.Context, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("dirty_for_sync = ? AND archive_seq = 0", true).
		Order("updated_at").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
