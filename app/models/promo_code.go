package models

import "time"

const (
	PromoCodeTypePercent  = "percent"
	PromoCodeTypeAbsolute = "absolute"
)

// PromoCode is a redeemable discount applied as the last pricing step.
type PromoCode struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Code      string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	Type      string     `gorm:"type:varchar(16);not null" json:"type"`
	Value     int64      `gorm:"not null" json:"value"` // percent 0..100 or absolute minor units
	MaxUses   int        `gorm:"not null;default:0" json:"max_uses"` // 0 = unlimited
	UsedCount int        `gorm:"not null;default:0" json:"used_count"`
	ExpiresAt *time.Time `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// Usable reports whether the code can still be redeemed at the given time.
func (p *PromoCode) Usable(now time.Time) bool {
	if p.ExpiresAt != nil && now.After(*p.ExpiresAt) {
		return false
	}
	if p.MaxUses > 0 && p.UsedCount >= p.MaxUses {
		return false
	}
	return true
}
