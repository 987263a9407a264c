package models

import "time"

// ProviderStat holds per-provider webhook counters. Counters accumulate in
// Redis hashes and are flushed here in batches by the jobqueue manager.
type ProviderStat struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Provider   string    `gorm:"type:varchar(32);not null;uniqueIndex" json:"provider"`
	Processed  int64     `gorm:"not null;default:0" json:"processed"`
	Duplicates int64     `gorm:"not null;default:0" json:"duplicates"`
	Rejected   int64     `gorm:"not null;default:0" json:"rejected"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
