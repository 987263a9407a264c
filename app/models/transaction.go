package models

import "time"

const (
	TransactionTypeDeposit  = "deposit"
	TransactionTypePurchase = "purchase"
	TransactionTypeRefund   = "refund"
	TransactionTypeTrial    = "trial"
	TransactionTypeAdmin    = "admin"
)

// Transaction is one immutable signed money movement. The unique idempotency
// key is the exactly-once gate: re-inserting the same key is a no-op and the
// ledger answers with the previously computed result.
type Transaction struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	Amount         int64     `gorm:"not null" json:"amount"` // signed, minor units
	Type           string    `gorm:"type:varchar(32);not null;index" json:"type"`
	Source         string    `gorm:"type:varchar(100);not null;default:''" json:"source"`
	IdempotencyKey string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"idempotency_key"`
	BalanceAfter   int64     `gorm:"not null" json:"balance_after"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
