package entsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/remnashop/remnashop/app/models"
	"github.com/remnashop/remnashop/internal/pkg/events"
	"github.com/remnashop/remnashop/internal/pkg/panel"
	"github.com/remnashop/remnashop/internal/pkg/retry"
)

// PanelAPI is the slice of the panel client the sync engine needs.
type PanelAPI interface {
	GetEntitlements(ctx context.Context, userKey string) (*panel.RemoteState, error)
	ApplyEntitlements(ctx context.Context, desired *panel.RemoteState) error
}

// Service reconciles locally authoritative subscriptions against the panel.
// The local record is the source of truth for everything except TrafficUsed,
// which flows from the panel back into the local record and never the other
// way. Corrections push the full desired state, not deltas.
type Service struct {
	repo  Repository
	panel PanelAPI
	sink  events.Sink

	grantPolicy  retry.Policy
	revokePolicy retry.Policy

	now func() time.Time
}

// NewService creates a sync engine with the default retry policies.
func NewService(repo Repository, api PanelAPI, sink events.Sink) *Service {
	if sink == nil {
		sink = events.LogSink{}
	}
	return &Service{
		repo:         repo,
		panel:        api,
		sink:         sink,
		grantPolicy:  retry.GrantPolicy,
		revokePolicy: retry.RevokePolicy,
		now:          time.Now,
	}
}

// UserKey is the panel-side account identifier for a user.
func UserKey(user *models.User) string {
	return fmt.Sprintf("u%d", user.ID)
}

// DesiredState maps a subscription to the absolute remote state the panel
// should hold for it.
func DesiredState(sub *models.Subscription, userKey string) *panel.RemoteState {
	enabled := sub.Status == models.SubscriptionStatusTrial || sub.Status == models.SubscriptionStatusActive
	return &panel.RemoteState{
		UserKey:      userKey,
		Enabled:      enabled,
		ExpiresAt:    sub.EndDate,
		TrafficLimit: sub.TrafficLimit,
		DeviceLimit:  sub.DeviceLimit,
		Squads:       sub.Squads(),
	}
}

// Sync reconciles one subscription. revoke selects the harder retry schedule
// used for access-removing transitions. A failed sync leaves the local record
// untouched and dirty; once the policy's attempts are exhausted the snapshot
// is flagged as drifted and an event fires on the transition.
func (s *Service) Sync(ctx context.Context, subscriptionID uint, revoke bool) error {
	sub, err := s.repo.FindSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	user, err := s.repo.FindUser(ctx, sub.UserID)
	if err != nil {
		return err
	}
	key := UserKey(user)
	seenAt := sub.UpdatedAt

	desired := DesiredState(sub, key)

	policy := s.grantPolicy
	if revoke {
		policy = s.revokePolicy
	}

	// The read shares the apply retry schedule: a transient panel hiccup on
	// either side counts as one failed run only after attempts are exhausted.
	var remote *panel.RemoteState
	getErr := policy.Do(ctx, func(ctx context.Context) error {
		r, err := s.panel.GetEntitlements(ctx, key)
		if err != nil {
			if errors.Is(err, panel.ErrUserNotFound) {
				remote = nil
				return nil
			}
			return err
		}
		remote = r
		return nil
	})
	if getErr != nil {
		return s.recordFailure(ctx, sub, getErr)
	}
	if remote != nil {
		desired.TrafficUsed = remote.TrafficUsed
	}

	if remote == nil || !statesEqual(remote, desired) {
		applyErr := policy.Do(ctx, func(ctx context.Context) error {
			return s.panel.ApplyEntitlements(ctx, desired)
		})
		if applyErr != nil {
			return s.recordFailure(ctx, sub, applyErr)
		}
	}

	return s.recordSuccess(ctx, sub, desired, seenAt)
}

// SyncDirty reconciles up to limit dirty subscriptions and returns how many
// it attempted. Individual failures are logged and do not stop the batch.
func (s *Service) SyncDirty(ctx context.Context, limit int, revoke bool) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.repo.FindDirtyBatch(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.Sync(ctx, id, revoke); err != nil {
			log.Errorf("[EntSync] subscription %d: %v", id, err)
		}
	}
	return len(ids), nil
}

func (s *Service) recordSuccess(ctx context.Context, sub *models.Subscription, applied *panel.RemoteState, seenAt time.Time) error {
	return s.repo.WithTx(ctx, func(r Repository) error {
		snap, err := r.GetOrCreateSnapshot(sub.ID)
		if err != nil {
			return err
		}
		snap.SetRemoteSquads(applied.Squads)
		snap.RemoteExpireAt = applied.ExpiresAt
		snap.RemoteTrafficLimit = applied.TrafficLimit
		snap.RemoteTrafficUsed = applied.TrafficUsed
		now := s.now()
		snap.LastSyncedAt = &now
		snap.DriftFlag = false
		snap.FailedAttempts = 0
		if err := r.SaveSnapshot(snap); err != nil {
			return err
		}

		cur, err := r.FindSubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		cur.TrafficUsed = applied.TrafficUsed
		// A mutation that landed mid-sync keeps the record dirty so the
		// next run picks up the newer state.
		if !cur.UpdatedAt.After(seenAt) {
			cur.DirtyForSync = false
		}
		return r.SaveSubscription(cur)
	})
}

func (s *Service) recordFailure(ctx context.Context, sub *models.Subscription, cause error) error {
	var drifted bool
	err := s.repo.WithTx(ctx, func(r Repository) error {
		snap, err := r.GetOrCreateSnapshot(sub.ID)
		if err != nil {
			return err
		}
		snap.FailedAttempts++
		if !snap.DriftFlag {
			snap.DriftFlag = true
			drifted = true
		}
		return r.SaveSnapshot(snap)
	})
	if err != nil {
		return err
	}
	if drifted {
		ev := events.New(events.TypeEntitlementDriftDetected)
		ev.UserID = sub.UserID
		ev.SubscriptionID = sub.ID
		ev.Detail = map[string]string{"error": cause.Error()}
		s.sink.Publish(ev)
	}
	return fmt.Errorf("entsync: subscription %d: %w", sub.ID, cause)
}

func statesEqual(remote, desired *panel.RemoteState) bool {
	if remote.Enabled != desired.Enabled ||
		remote.TrafficLimit != desired.TrafficLimit ||
		remote.DeviceLimit != desired.DeviceLimit {
		return false
	}
	if !timesEqual(remote.ExpiresAt, desired.ExpiresAt) {
		return false
	}
	if len(remote.Squads) != len(desired.Squads) {
		return false
	}
	seen := make(map[string]struct{}, len(remote.Squads))
	for _, sq := range remote.Squads {
		seen[sq] = struct{}{}
	}
	for _, sq := range desired.Squads {
		if _, ok := seen[sq]; !ok {
			return false
		}
	}
	return true
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	// Panels round to whole seconds.
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}
