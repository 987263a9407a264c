package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/remnashop/remnashop/app/models"
	"github.com/remnashop/remnashop/internal/pkg/events"
	"gorm.io/gorm"
)

var (
	// ErrTrialAlreadyUsed is returned when a user requests a second trial.
	ErrTrialAlreadyUsed = errors.New("subscription: trial already used")
	// ErrDisabled is returned for entitlement mutations on a disabled record.
	ErrDisabled = errors.New("subscription: record is disabled")
	// ErrNotFound is returned when the user has no live subscription.
	ErrNotFound = errors.New("subscription: not found")
)

const bytesPerGB = int64(1024 * 1024 * 1024)

// TrialDefaults are the entitlements granted on trial activation. They come
// from deployment settings and are passed in explicitly.
type TrialDefaults struct {
	Days        int
	TrafficGB   int
	DeviceLimit int
	Squad       string
}

// Purchase is the entitlement delta paid for by a confirmed payment.
type Purchase struct {
	PeriodDays int
	Squads     []string
	TrafficGB  int
	Devices    int
}

// SyncScheduler hands a subscription over to the entitlement sync engine.
// Revocations are scheduled with revoke=true and retried more aggressively.
type SyncScheduler interface {
	Schedule(subscriptionID uint, revoke bool)
}

// NoopScheduler discards sync requests; used in tests and tooling.
type NoopScheduler struct{}

func (NoopScheduler) Schedule(subscriptionID uint, revoke bool) {}

// Service owns the subscription lifecycle:
//
//	pending -> trial -> active -> expired -> disabled
//
// expired -> active is reachable via renewal; disabled is terminal for the
// record. Every mutation marks the record dirty for sync and schedules a
// reconcile run.
type Service struct {
	repo  Repository
	sink  events.Sink
	sched SyncScheduler
	// now is swappable for tests.
	now func() time.Time
}

// NewService creates a subscription service.
func NewService(repo Repository, sink events.Sink, sched SyncScheduler) *Service {
	if sink == nil {
		sink = events.LogSink{}
	}
	if sched == nil {
		sched = NoopScheduler{}
	}
	return &Service{repo: repo, sink: sink, sched: sched, now: time.Now}
}

// NewServiceFromDB creates a subscription service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, sink events.Sink, sched SyncScheduler) *Service {
	return NewService(NewRepository(db), sink, sched)
}

// ActivateTrial grants trial defaults to a user who never had one. Allowed at
// most once per user, from pending or no subscription at all.
func (s *Service) ActivateTrial(ctx context.Context, userID uint, defaults TrialDefaults) (*models.Subscription, error) {
	var out *models.Subscription
	err := s.repo.WithTx(ctx, func(r Repository) error {
		user, err := r.GetUser(userID)
		if err != nil {
			return err
		}
		if user.TrialUsed {
			return ErrTrialAlreadyUsed
		}

		sub, err := r.FindLiveByUserID(userID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if sub != nil && sub.Status != models.SubscriptionStatusPending {
			return ErrTrialAlreadyUsed
		}
		if sub == nil {
			sub = &models.Subscription{UserID: userID, Status: models.SubscriptionStatusPending}
			if err := r.Create(sub); err != nil {
				return err
			}
		}

		now := s.now()
		end := now.AddDate(0, 0, defaults.Days)
		sub.Status = models.SubscriptionStatusTrial
		sub.StartDate = &now
		sub.EndDate = &end
		sub.TrafficLimit = int64(defaults.TrafficGB) * bytesPerGB
		sub.DeviceLimit = defaults.DeviceLimit
		if defaults.Squad != "" {
			sub.SetSquads([]string{defaults.Squad})
		}
		sub.DirtyForSync = true
		sub.ExpiryNotified = false
		if err := r.Save(sub); err != nil {
			return err
		}
		if err := r.MarkTrialUsed(userID); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sched.Schedule(out.ID, false)
	ev := events.New(events.TypeSubscriptionActivated)
	ev.UserID = userID
	ev.SubscriptionID = out.ID
	ev.Detail = map[string]string{"status": models.SubscriptionStatusTrial}
	s.sink.Publish(ev)
	return out, nil
}

// ConfirmPurchase applies a paid purchase: the subscription becomes active
// and the paid period stacks on top of the remaining time,
// end_date = max(now, end_date) + period. Add-on entitlements merge in.
// A disabled record is archived and a fresh one provisioned. The request id
// gates the mutation the same way add-on requests are gated: a replay of an
// already-applied purchase returns the live record without stacking again.
func (s *Service) ConfirmPurchase(ctx context.Context, userID uint, p Purchase, requestID string) (*models.Subscription, error) {
	if requestID == "" {
		return nil, fmt.Errorf("subscription: request id is required")
	}

	var out *models.Subscription
	var activated, applied bool
	err := s.repo.WithTx(ctx, func(r Repository) error {
		sub, err := r.FindLiveByUserID(userID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			sub = &models.Subscription{UserID: userID, Status: models.SubscriptionStatusPending}
			if err := r.Create(sub); err != nil {
				return err
			}
		}

		if sub.Status == models.SubscriptionStatusDisabled {
			// Terminal record: keep it for history, provision a new one.
			if err := r.Archive(sub); err != nil {
				return err
			}
			sub = &models.Subscription{UserID: userID, Status: models.SubscriptionStatusPending}
			if err := r.Create(sub); err != nil {
				return err
			}
		}

		created, err := r.CreateAppliedRequestIfNotExists(&models.AppliedRequest{
			RequestID:      requestID,
			SubscriptionID: sub.ID,
			Kind:           "purchase",
		})
		if err != nil {
			return err
		}
		if !created {
			// Replay of an already-applied purchase: a concurrent delivery or
			// a crash-retry after the commit. The extension stands as is.
			out = sub
			return nil
		}

		now := s.now()
		base := now
		if sub.EndDate != nil && sub.EndDate.After(now) {
			base = *sub.EndDate
		}
		end := base.AddDate(0, 0, p.PeriodDays)

		activated = sub.Status != models.SubscriptionStatusActive
		if sub.StartDate == nil {
			sub.StartDate = &now
		}
		sub.Status = models.SubscriptionStatusActive
		sub.EndDate = &end
		if p.TrafficGB > 0 {
			sub.TrafficLimit += int64(p.TrafficGB) * bytesPerGB
		}
		if p.Devices > 0 {
			sub.DeviceLimit += p.Devices
		}
		if len(p.Squads) > 0 {
			sub.SetSquads(append(sub.Squads(), p.Squads...))
		}
		sub.DirtyForSync = true
		sub.ExpiryNotified = false
		if err := r.Save(sub); err != nil {
			return err
		}
		out = sub
		applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return out, nil
	}

	s.sched.Schedule(out.ID, false)
	if activated {
		ev := events.New(events.TypeSubscriptionActivated)
		ev.UserID = userID
		ev.SubscriptionID = out.ID
		ev.Detail = map[string]string{"status": models.SubscriptionStatusActive}
		s.sink.Publish(ev)
	}
	return out, nil
}

// AddTraffic adds traffic to the subscription. Strictly additive and
// idempotent under replay of the same request id.
func (s *Service) AddTraffic(ctx context.Context, subscriptionID uint, deltaGB int, requestID string) error {
	return s.addEntitlement(ctx, subscriptionID, "traffic", requestID, func(sub *models.Subscription) {
		sub.TrafficLimit += int64(deltaGB) * bytesPerGB
	})
}

// AddDevices adds device slots; additive, replay-safe per request id.
func (s *Service) AddDevices(ctx context.Context, subscriptionID uint, delta int, requestID string) error {
	return s.addEntitlement(ctx, subscriptionID, "devices", requestID, func(sub *models.Subscription) {
		sub.DeviceLimit += delta
	})
}

// AddSquad connects a squad; additive, replay-safe per request id.
func (s *Service) AddSquad(ctx context.Context, subscriptionID uint, squad string, requestID string) error {
	return s.addEntitlement(ctx, subscriptionID, "squad", requestID, func(sub *models.Subscription) {
		sub.SetSquads(append(sub.Squads(), squad))
	})
}

func (s *Service) addEntitlement(ctx context.Context, subscriptionID uint, kind, requestID string, mutate func(*models.Subscription)) error {
	if requestID == "" {
		return fmt.Errorf("subscription: request id is required")
	}

	var applied bool
	err := s.repo.WithTx(ctx, func(r Repository) error {
		sub, err := r.FindByID(subscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if sub.Status == models.SubscriptionStatusDisabled {
			return ErrDisabled
		}

		created, err := r.CreateAppliedRequestIfNotExists(&models.AppliedRequest{
			RequestID:      requestID,
			SubscriptionID: subscriptionID,
			Kind:           kind,
		})
		if err != nil {
			return err
		}
		if !created {
			// Replay of an already-applied request.
			return nil
		}

		mutate(sub)
		sub.DirtyForSync = true
		applied = true
		return r.Save(sub)
	})
	if err != nil {
		return err
	}
	if applied {
		s.sched.Schedule(subscriptionID, false)
	}
	return nil
}

// ExpireSweep transitions overdue active subscriptions to expired in one
// batch and returns how many it processed. Expired records leave the
// candidate set, so a crashed sweep resumes by simply running again; the
// expiry event fires at most once per subscription.
func (s *Service) ExpireSweep(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	now := s.now()
	batch, err := s.repo.FindExpiredBatch(ctx, now, batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range batch {
		sub := batch[i]
		notify := false
		err := s.repo.WithTx(ctx, func(r Repository) error {
			cur, err := r.FindByID(sub.ID)
			if err != nil {
				return err
			}
			// A concurrent renewal or an earlier sweep pass may have moved it.
			if cur.Status != models.SubscriptionStatusActive || cur.EndDate == nil || !cur.EndDate.Before(now) {
				return nil
			}
			cur.Status = models.SubscriptionStatusExpired
			cur.DirtyForSync = true
			if !cur.ExpiryNotified {
				cur.ExpiryNotified = true
				notify = true
			}
			return r.Save(cur)
		})
		if err != nil {
			log.Errorf("[Sweep] subscription %d: %v", sub.ID, err)
			continue
		}
		processed++
		s.sched.Schedule(sub.ID, true)
		if notify {
			ev := events.New(events.TypeSubscriptionExpired)
			ev.UserID = sub.UserID
			ev.SubscriptionID = sub.ID
			s.sink.Publish(ev)
		}
	}
	return processed, nil
}

// Disable moves a subscription to the terminal disabled state. Irreversible:
// any later provisioning creates a new record.
func (s *Service) Disable(ctx context.Context, subscriptionID uint, reason string) error {
	err := s.repo.WithTx(ctx, func(r Repository) error {
		sub, err := r.FindByID(subscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if sub.Status == models.SubscriptionStatusDisabled {
			return nil
		}
		sub.Status = models.SubscriptionStatusDisabled
		sub.DisableReason = reason
		sub.DirtyForSync = true
		return r.Save(sub)
	})
	if err != nil {
		return err
	}
	s.sched.Schedule(subscriptionID, true)
	return nil
}
