package models

import "gorm.io/gorm"

// Plan holds the base prices for the priceable dimensions. All prices are in
// minor units; the pricing engine combines them with promo-group, period and
// promo-code discounts in a fixed order.
type Plan struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	Name              string `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	BasePrice         int64  `gorm:"not null;default:0" json:"base_price"`           // per period
	PricePerSquad     int64  `gorm:"not null;default:0" json:"price_per_squad"`      // per squad per period
	PricePerTrafficGB int64  `gorm:"not null;default:0" json:"price_per_traffic_gb"` // per GB per period
	PricePerDevice    int64  `gorm:"not null;default:0" json:"price_per_device"`     // per device per period
	IsActive          bool   `gorm:"not null;default:true;index" json:"is_active"`
}

// FindActivePlanByName loads an active plan by its unique name.
func FindActivePlanByName(db *gorm.DB, name string) (*Plan, error) {
	var p Plan
	if err := db.Where("name = ? AND is_active = ?", name, true).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
