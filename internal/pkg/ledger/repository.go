package ledger

import (
	"context"

	"github.com/remnashop/remnashop/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the ledger service. Methods
// without a context run inside WithTx, whose transaction carries the caller's
// context.
type Repository interface {
	WithTx(ctx context.Context, fn func(r Repository) error) error
	GetUser(ctx context.Context, userID uint) (*models.User, error)
	FindTransactionByKey(idempotencyKey string) (*models.Transaction, error)
	CreateTransactionIfNotExists(t *models.Transaction) (bool, *models.Transaction, error)
	UpdateUserBalance(userID uint, balance int64) error
	SumTransactions(userID uint) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(ctx context.Context, fn func(r Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, userID).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) FindTransactionByKey(idempotencyKey string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.Where("idempotency_key = ?", idempotencyKey).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) CreateTransactionIfNotExists(t *models.Transaction) (bool, *models.Transaction, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(t)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.Transaction
	if err := r.db.Where("idempotency_key = ?", t.IdempotencyKey).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) UpdateUserBalance(userID uint, balance int64) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).Update("balance", balance).Error
}

func (r *gormRepository) SumTransactions(userID uint) (int64, error) {
	var sum int64
	err := r.db.Model(&models.Transaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}
