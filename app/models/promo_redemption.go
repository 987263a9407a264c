package models

import "time"

// PromoRedemption binds one promo code use to the payment that redeemed it.
// The unique redemption key makes the use count replay-safe: re-pricing the
// same payment finds the row and does not consume another use.
type PromoRedemption struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	PromoCodeID   uint      `gorm:"not null;index" json:"promo_code_id"`
	RedemptionKey string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"redemption_key"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
