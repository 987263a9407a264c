package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeEntitlementSync JobType = "entitlement_sync"
	JobTypePaymentPipeline JobType = "payment_pipeline"
	JobTypeExpireSweep     JobType = "expire_sweep"
	JobTypeBalanceAudit    JobType = "balance_audit"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// EntitlementSyncJobPayload carries one subscription to reconcile against the
// panel. Revoke selects the harder retry schedule.
type EntitlementSyncJobPayload struct {
	SubscriptionID uint `json:"subscription_id"`
	Revoke         bool `json:"revoke"`
}

// ToMap converts the payload to a map for storage
func (p EntitlementSyncJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"subscription_id": p.SubscriptionID,
		"revoke":          p.Revoke,
	}
}

// EntitlementSyncJobPayloadFromMap creates a payload from a map
func EntitlementSyncJobPayloadFromMap(data map[string]interface{}) (*EntitlementSyncJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload EntitlementSyncJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// PaymentPipelineJobPayload identifies a recorded payment event to run
// through the saga. The record is reloaded by the processor, so a job that
// survives a crash resumes from the stored checkpoint.
type PaymentPipelineJobPayload struct {
	Provider   string `json:"provider"`
	ExternalID string `json:"external_id"`
}

// ToMap converts the payload to a map for storage
func (p PaymentPipelineJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"provider":    p.Provider,
		"external_id": p.ExternalID,
	}
}

// PaymentPipelineJobPayloadFromMap creates a payload from a map
func PaymentPipelineJobPayloadFromMap(data map[string]interface{}) (*PaymentPipelineJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload PaymentPipelineJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// ExpireSweepJobPayload carries the batch size for one expiry sweep pass.
type ExpireSweepJobPayload struct {
	BatchSize int `json:"batch_size"`
}

// ToMap converts the payload to a map for storage
func (p ExpireSweepJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"batch_size": p.BatchSize,
	}
}

// ExpireSweepJobPayloadFromMap creates a payload from a map
func ExpireSweepJobPayloadFromMap(data map[string]interface{}) (*ExpireSweepJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ExpireSweepJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// BalanceAuditJobPayload names one user whose stored balance should be
// checked against the transaction log.
type BalanceAuditJobPayload struct {
	UserID uint `json:"user_id"`
}

// ToMap converts the payload to a map for storage
func (p BalanceAuditJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id": p.UserID,
	}
}

// BalanceAuditJobPayloadFromMap creates a payload from a map
func BalanceAuditJobPayloadFromMap(data map[string]interface{}) (*BalanceAuditJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload BalanceAuditJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
