package models

import "time"

// AppliedRequest records entitlement mutation requests that have already been
// applied. The unique request id makes add-on operations replay-safe the same
// way the transaction idempotency key protects the ledger.
type AppliedRequest struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	RequestID      string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"request_id"`
	SubscriptionID uint      `gorm:"not null;index" json:"subscription_id"`
	Kind           string    `gorm:"type:varchar(32);not null" json:"kind"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
