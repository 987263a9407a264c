package models

import (
	"encoding/json"
	"time"
)

// RemoteEntitlementSnapshot is the last known panel-side state for a
// subscription. The sync engine diffs local desired state against it and
// flags drift when the panel cannot be brought in line.
type RemoteEntitlementSnapshot struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID     uint       `gorm:"not null;uniqueIndex" json:"subscription_id"`
	RemoteSquadsJSON   string     `gorm:"type:text" json:"remote_squads_json"`
	RemoteExpireAt     *time.Time `gorm:"type:timestamp;default:null" json:"remote_expire_at,omitempty"`
	RemoteTrafficLimit int64      `gorm:"not null;default:0" json:"remote_traffic_limit"`
	RemoteTrafficUsed  int64      `gorm:"not null;default:0" json:"remote_traffic_used"`
	LastSyncedAt       *time.Time `gorm:"type:timestamp;default:null" json:"last_synced_at,omitempty"`
	DriftFlag          bool       `gorm:"not null;default:false;index" json:"drift_flag"`
	FailedAttempts     int        `gorm:"not null;default:0" json:"failed_attempts"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// RemoteSquads decodes the last known remote squad set.
func (s *RemoteEntitlementSnapshot) RemoteSquads() []string {
	if s.RemoteSquadsJSON == "" {
		return nil
	}
	var squads []string
	if err := json.Unmarshal([]byte(s.RemoteSquadsJSON), &squads); err != nil {
		return nil
	}
	return squads
}

// SetRemoteSquads stores the remote squad set as JSON.
func (s *RemoteEntitlementSnapshot) SetRemoteSquads(squads []string) {
	if len(squads) == 0 {
		s.RemoteSquadsJSON = ""
		return
	}
	b, _ := json.Marshal(squads)
	s.RemoteSquadsJSON = string(b)
}
