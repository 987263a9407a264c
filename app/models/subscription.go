package models

import (
	"encoding/json"
	"sort"
	"time"

	"gorm.io/gorm"
)

const (
	SubscriptionStatusPending  = "pending"
	SubscriptionStatusTrial    = "trial"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusExpired  = "expired"
	SubscriptionStatusDisabled = "disabled"
)

// Subscription is the locally authoritative entitlement record. One live
// subscription per user: live rows carry archive_seq = 0 under the composite
// unique index, disabling archives the row by setting archive_seq = id so a
// later re-provisioning can create a fresh record.
//
// TrafficUsed is remote-authoritative: it is written only by entitlement sync
// from panel reads, never by local business logic.
type Subscription struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	UserID              uint       `gorm:"not null;index:ux_subscriptions_user_archive,unique,priority:1" json:"user_id"`
	ArchiveSeq          uint       `gorm:"not null;default:0;index:ux_subscriptions_user_archive,unique,priority:2" json:"archive_seq"`
	Status              string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	StartDate           *time.Time `gorm:"type:timestamp;default:null" json:"start_date,omitempty"`
	EndDate             *time.Time `gorm:"type:timestamp;default:null;index" json:"end_date,omitempty"`
	TrafficLimit        int64      `gorm:"not null;default:0" json:"traffic_limit"` // bytes, 0 = unlimited
	TrafficUsed         int64      `gorm:"not null;default:0" json:"traffic_used"`  // bytes, remote-authoritative
	DeviceLimit         int        `gorm:"not null;default:1" json:"device_limit"`
	ConnectedSquadsJSON string     `gorm:"type:text" json:"connected_squads_json"`
	DirtyForSync        bool       `gorm:"not null;default:false;index" json:"dirty_for_sync"`
	ExpiryNotified      bool       `gorm:"not null;default:false" json:"expiry_notified"`
	DisableReason       string     `gorm:"type:varchar(255);not null;default:''" json:"disable_reason"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Squads decodes the connected squad set. The set is stored sorted so the
// JSON form is stable for comparison and audit.
func (s *Subscription) Squads() []string {
	if s.ConnectedSquadsJSON == "" {
		return nil
	}
	var squads []string
	if err := json.Unmarshal([]byte(s.ConnectedSquadsJSON), &squads); err != nil {
		return nil
	}
	return squads
}

// SetSquads stores the squad set, deduplicated and sorted.
func (s *Subscription) SetSquads(squads []string) {
	seen := make(map[string]struct{}, len(squads))
	out := make([]string, 0, len(squads))
	for _, sq := range squads {
		if sq == "" {
			continue
		}
		if _, ok := seen[sq]; ok {
			continue
		}
		seen[sq] = struct{}{}
		out = append(out, sq)
	}
	sort.Strings(out)
	if len(out) == 0 {
		s.ConnectedSquadsJSON = ""
		return
	}
	b, _ := json.Marshal(out)
	s.ConnectedSquadsJSON = string(b)
}

// HasSquad reports whether the squad is part of the connected set.
func (s *Subscription) HasSquad(squad string) bool {
	for _, sq := range s.Squads() {
		if sq == squad {
			return true
		}
	}
	return false
}

// IsLive reports whether this is the user's current (non-archived) record.
func (s *Subscription) IsLive() bool {
	return s.ArchiveSeq == 0
}

// FindLiveSubscriptionByUserID loads the user's current subscription record.
func FindLiveSubscriptionByUserID(db *gorm.DB, userID uint) (*Subscription, error) {
	var sub Subscription
	if err := db.Where("user_id = ? AND archive_seq = 0", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}
