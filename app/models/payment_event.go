package models

import "time"

const (
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusPending   = "pending"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Pipeline checkpoint stages, in order. Each saga stage commits its own
// durable state; a replayed delivery resumes at the first incomplete stage.
const (
	PipelineStageReceived    = "received"
	PipelineStageCredited    = "credited"
	PipelineStageProvisioned = "provisioned"
	PipelineStageDone        = "done"
)

// PaymentEvent stores normalized provider notifications with deduplication
// metadata. The (provider, external_id) unique pair is the single gate that
// decides "new work" vs "already seen"; it also carries the saga checkpoint
// so crash recovery resumes at the right stage. Distinct from Transaction.
type PaymentEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(32);not null;index:ux_payment_events_provider_external,unique,priority:1;index" json:"provider"`
	ExternalID      string     `gorm:"type:varchar(191);not null;index:ux_payment_events_provider_external,unique,priority:2" json:"external_id"`
	UserID          uint       `gorm:"not null;index" json:"user_id"`
	Amount          int64      `gorm:"not null" json:"amount"` // minor units
	Status          string     `gorm:"type:varchar(16);not null;index" json:"status"`
	PayloadHash     string     `gorm:"type:varchar(64);not null;default:''" json:"payload_hash"`
	PurchaseJSON    string     `gorm:"type:text" json:"purchase_json"` // purchase intent attached to the payment, if any
	PipelineStage   string     `gorm:"type:varchar(16);not null;default:'received';index" json:"pipeline_stage"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IdempotencyKey is the ledger key derived from the provider pair. It threads
// through every pipeline stage so replays from any crash point are safe.
func (e *PaymentEvent) IdempotencyKey() string {
	return e.Provider + ":" + e.ExternalID
}
