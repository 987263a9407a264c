package models

import (
	"encoding/json"
	"strconv"
)

// PromoGroup is a named discount tier. Per-dimension percentages apply to the
// priced components (servers/traffic/devices); the period table maps a period
// length in days to an additional subtotal discount percent.
type PromoGroup struct {
	ID                  uint   `gorm:"primaryKey" json:"id"`
	Name                string `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	ServersDiscount     int    `gorm:"not null;default:0" json:"servers_discount"` // percent 0..100
	TrafficDiscount     int    `gorm:"not null;default:0" json:"traffic_discount"`
	DevicesDiscount     int    `gorm:"not null;default:0" json:"devices_discount"`
	PeriodDiscountsJSON string `gorm:"type:text" json:"period_discounts_json"` // {"30":0,"90":5,...}
	Priority            int    `gorm:"not null;default:0;index" json:"priority"`
}

// PeriodDiscounts decodes the period-days -> percent table.
func (g *PromoGroup) PeriodDiscounts() map[int]int {
	if g.PeriodDiscountsJSON == "" {
		return nil
	}
	raw := map[string]int{}
	if err := json.Unmarshal([]byte(g.PeriodDiscountsJSON), &raw); err != nil {
		return nil
	}
	out := make(map[int]int, len(raw))
	for k, v := range raw {
		days, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[days] = v
	}
	return out
}
