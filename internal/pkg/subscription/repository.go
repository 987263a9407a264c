package subscription

import (
	"context"
	"time"

	"github.com/remnashop/remnashop/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the subscription service. Methods
// without a context run inside WithTx, whose transaction carries the caller's
// context.
type Repository interface {
	WithTx(ctx context.Context, fn func(r Repository) error) error
	GetUser(userID uint) (*models.User, error)
	MarkTrialUsed(userID uint) error
	FindLiveByUserID(userID uint) (*models.Subscription, error)
	FindByID(id uint) (*models.Subscription, error)
	Create(sub *models.Subscription) error
	Save(sub *models.Subscription) error
	Archive(sub *models.Subscription) error
	FindExpiredBatch(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	CreateAppliedRequestIfNotExists(req *models.AppliedRequest) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(ctx context.Context, fn func(r Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetUser(userID uint) (*models.User, error) {
	var u models.User
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, userID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) MarkTrialUsed(userID uint) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).Update("trial_used", true).Error
}

func (r *gormRepository) FindLiveByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND archive_seq = 0", userID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) FindByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) Save(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

// Archive releases the user_id uniqueness of a disabled record so a fresh
// subscription can be provisioned while history is preserved.
func (r *gormRepository) Archive(sub *models.Subscription) error {
	sub.ArchiveSeq = sub.ID
	return r.db.Model(sub).Update("archive_seq", sub.ID).Error
}

func (r *gormRepository) FindExpiredBatch(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).Where("status = ? AND end_date IS NOT NULL AND end_date < ?", models.SubscriptionStatusActive, now).
		Order("id").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateAppliedRequestIfNotExists(req *models.AppliedRequest) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}},
		DoNothing: true,
	}).Create(req)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
