package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Refund handling policies, selectable per provider. Whether a
// provider-initiated refund triggers an automatic compensating debit or waits
// for admin confirmation differs between providers, so it is deployment
// configuration rather than code.
const (
	RefundPolicyAuto   = "auto"
	RefundPolicyManual = "manual"
)

// Setting represents a system setting row.
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type"` // string, boolean, integer, json
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppSettings is the in-memory application settings structure.
type AppSettings struct {
	TrialDays             int            `json:"trial_days"`
	TrialTrafficGB        int            `json:"trial_traffic_gb"`
	TrialDeviceLimit      int            `json:"trial_device_limit"`
	TrialSquad            string         `json:"trial_squad"`
	JobQueueWorkerCount   int            `json:"job_queue_worker_count"`
	SweepIntervalMinutes  int            `json:"sweep_interval_minutes"`
	SweepBatchSize        int            `json:"sweep_batch_size"`
	RefundPolicies        map[string]string `json:"refund_policies"`         // provider -> auto|manual
	GlobalPeriodDiscounts map[int]int    `json:"global_period_discounts"` // period days -> percent
	mu                    sync.RWMutex
}

// Global settings instance
var (
	appSettings *AppSettings
	settingsMu  sync.RWMutex
)

// GetAppSettings returns the current application settings.
func GetAppSettings() *AppSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return appSettings
}

func defaultAppSettings() *AppSettings {
	return &AppSettings{
		TrialDays:            3,
		TrialTrafficGB:       10,
		TrialDeviceLimit:     1,
		TrialSquad:           "default",
		JobQueueWorkerCount:  5,
		SweepIntervalMinutes: 15,
		SweepBatchSize:       100,
		RefundPolicies:       map[string]string{},
		GlobalPeriodDiscounts: map[int]int{
			30:  0,
			90:  5,
			180: 10,
			360: 15,
		},
	}
}

// LoadSettings loads settings from the database into memory.
func LoadSettings(db *gorm.DB) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	appSettings = defaultAppSettings()

	var settings []Setting
	if err := db.Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	for _, setting := range settings {
		switch setting.Key {
		case "trial_days":
			if v, err := strconv.Atoi(setting.Value); err == nil {
				appSettings.TrialDays = v
			}
		case "trial_traffic_gb":
			if v, err := strconv.Atoi(setting.Value); err == nil {
				appSettings.TrialTrafficGB = v
			}
		case "trial_device_limit":
			if v, err := strconv.Atoi(setting.Value); err == nil {
				appSettings.TrialDeviceLimit = v
			}
		case "trial_squad":
			appSettings.TrialSquad = setting.Value
		case "job_queue_worker_count":
			if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
				appSettings.JobQueueWorkerCount = v
			}
		case "sweep_interval_minutes":
			if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
				appSettings.SweepIntervalMinutes = v
			}
		case "sweep_batch_size":
			if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
				appSettings.SweepBatchSize = v
			}
		case "refund_policies":
			var m map[string]string
			if err := json.Unmarshal([]byte(setting.Value), &m); err == nil {
				appSettings.RefundPolicies = m
			}
		case "global_period_discounts":
			var m map[string]int
			if err := json.Unmarshal([]byte(setting.Value), &m); err == nil {
				out := make(map[int]int, len(m))
				for k, v := range m {
					if days, err := strconv.Atoi(k); err == nil {
						out[days] = v
					}
				}
				appSettings.GlobalPeriodDiscounts = out
			}
		}
	}

	return nil
}

// GetTrialDays returns the trial period length in days.
func (s *AppSettings) GetTrialDays() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TrialDays
}

// GetTrialTrafficGB returns the trial traffic grant in GB.
func (s *AppSettings) GetTrialTrafficGB() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TrialTrafficGB
}

// GetTrialDeviceLimit returns the trial device limit.
func (s *AppSettings) GetTrialDeviceLimit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TrialDeviceLimit
}

// GetTrialSquad returns the squad granted to trial subscriptions.
func (s *AppSettings) GetTrialSquad() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TrialSquad
}

// GetJobQueueWorkerCount returns the configured worker count.
func (s *AppSettings) GetJobQueueWorkerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.JobQueueWorkerCount <= 0 {
		return 5
	}
	return s.JobQueueWorkerCount
}

// GetSweepIntervalMinutes returns the expiry sweep interval.
func (s *AppSettings) GetSweepIntervalMinutes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.SweepIntervalMinutes <= 0 {
		return 15
	}
	return s.SweepIntervalMinutes
}

// GetSweepBatchSize returns the expiry sweep batch size.
func (s *AppSettings) GetSweepBatchSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.SweepBatchSize <= 0 {
		return 100
	}
	return s.SweepBatchSize
}

// GetRefundPolicy returns the refund policy for a provider, defaulting to
// manual confirmation when the provider has no explicit entry.
func (s *AppSettings) GetRefundPolicy(provider string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.RefundPolicies[provider]; ok && p == RefundPolicyAuto {
		return RefundPolicyAuto
	}
	return RefundPolicyManual
}

// GetGlobalPeriodDiscounts returns a copy of the global period discount table.
func (s *AppSettings) GetGlobalPeriodDiscounts() map[int]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]int, len(s.GlobalPeriodDiscounts))
	for k, v := range s.GlobalPeriodDiscounts {
		out[k] = v
	}
	return out
}
