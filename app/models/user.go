package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a shop customer identified by their Telegram account. Balance is a
// derived value: it must always equal the sum of signed transaction amounts
// for the user and is only ever written by the ledger service.
type User struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	TelegramID   int64       `gorm:"uniqueIndex;not null" json:"telegram_id"`
	Username     string      `gorm:"type:varchar(150)" json:"username"`
	Balance      int64       `gorm:"not null;default:0" json:"balance"` // minor units (kopecks)
	PromoGroupID *uint       `gorm:"index" json:"promo_group_id,omitempty"`
	PromoGroup   *PromoGroup `gorm:"foreignKey:PromoGroupID" json:"promo_group,omitempty"`
	TrialUsed    bool        `gorm:"not null;default:false" json:"trial_used"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindUserByID loads a user by primary key.
func FindUserByID(db *gorm.DB, id uint) (*User, error) {
	var u User
	if err := db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByTelegramID loads a user by Telegram account ID.
func FindUserByTelegramID(db *gorm.DB, telegramID int64) (*User, error) {
	var u User
	if err := db.Where("telegram_id = ?", telegramID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
