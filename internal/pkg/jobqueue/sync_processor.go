package jobqueue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/remnashop/remnashop/app/models"
	"github.com/remnashop/remnashop/internal/pkg/gateway"
)

// Syncer reconciles one subscription against the panel.
type Syncer interface {
	Sync(ctx context.Context, subscriptionID uint, revoke bool) error
}

// Sweeper runs one expiry sweep pass.
type Sweeper interface {
	ExpireSweep(ctx context.Context, batchSize int) (int, error)
}

// PipelineRunner drives a recorded payment event through the saga.
type PipelineRunner interface {
	Process(ctx context.Context, ev *gateway.Event) error
}

// EventLoader reloads a stored payment event record.
type EventLoader interface {
	FindEvent(ctx context.Context, provider, externalID string) (*models.PaymentEvent, error)
}

// Auditor checks a user's stored balance against the transaction log.
type Auditor interface {
	RecomputeBalance(ctx context.Context, userID uint) (int64, bool, error)
}

// Processors are the domain services the queue dispatches jobs to.
type Processors struct {
	Syncer   Syncer
	Sweeper  Sweeper
	Pipeline PipelineRunner
	Events   EventLoader
	Auditor  Auditor
}

// processEntitlementSyncJob reconciles one subscription. A per-subscription
// Redis lock keeps two workers from syncing the same subscription at once;
// the loser requeues its job instead of failing it.
func (q *Queue) processEntitlementSyncJob(ctx context.Context, job *Job) error {
	if q.procs.Syncer == nil {
		return fmt.Errorf("no syncer configured")
	}
	payload, err := EntitlementSyncJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid entitlement sync payload: %w", err)
	}

	lockKey := SyncLockPrefix + strconv.FormatUint(uint64(payload.SubscriptionID), 10)
	acquired, err := q.client.SetNX(ctx, lockKey, job.ID, SyncLockTTL).Result()
	if err != nil {
		return fmt.Errorf("sync lock error: %w", err)
	}
	if !acquired {
		log.Debugf("[JobQueue] Subscription %d sync in flight, requeueing job %s", payload.SubscriptionID, job.ID)
		if err := q.requeueJob(ctx, job); err != nil {
			return err
		}
		return ErrRequeue
	}
	defer q.client.Del(ctx, lockKey)

	return q.procs.Syncer.Sync(ctx, payload.SubscriptionID, payload.Revoke)
}

// processPaymentPipelineJob reloads the stored event record and runs the
// saga. Reloading (instead of trusting the payload) means a retried job
// resumes from the checkpoint the crashed run left behind. A per-event Redis
// lock keeps two workers from running the same event concurrently; the loser
// requeues its job instead of failing it.
func (q *Queue) processPaymentPipelineJob(ctx context.Context, job *Job) error {
	if q.procs.Pipeline == nil || q.procs.Events == nil {
		return fmt.Errorf("no pipeline configured")
	}
	payload, err := PaymentPipelineJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payment pipeline payload: %w", err)
	}

	lockKey := PipelineLockPrefix + payload.Provider + ":" + payload.ExternalID
	acquired, err := q.client.SetNX(ctx, lockKey, job.ID, PipelineLockTTL).Result()
	if err != nil {
		return fmt.Errorf("pipeline lock error: %w", err)
	}
	if !acquired {
		log.Debugf("[JobQueue] Event %s:%s pipeline in flight, requeueing job %s", payload.Provider, payload.ExternalID, job.ID)
		if err := q.requeueJob(ctx, job); err != nil {
			return err
		}
		return ErrRequeue
	}
	defer q.client.Del(ctx, lockKey)

	rec, err := q.procs.Events.FindEvent(ctx, payload.Provider, payload.ExternalID)
	if err != nil {
		return fmt.Errorf("payment event %s:%s not found: %w", payload.Provider, payload.ExternalID, err)
	}

	ev := &gateway.Event{
		PaymentEvent: gateway.PaymentEvent{
			Provider:   rec.Provider,
			ExternalID: rec.ExternalID,
			UserID:     rec.UserID,
			Amount:     rec.Amount,
			Status:     rec.Status,
			Purchase:   gateway.DecodePurchase(rec.PurchaseJSON),
		},
		Record: rec,
	}
	return q.procs.Pipeline.Process(ctx, ev)
}

func (q *Queue) processExpireSweepJob(ctx context.Context, job *Job) error {
	if q.procs.Sweeper == nil {
		return fmt.Errorf("no sweeper configured")
	}
	payload, err := ExpireSweepJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid expire sweep payload: %w", err)
	}

	n, err := q.procs.Sweeper.ExpireSweep(ctx, payload.BatchSize)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Infof("[JobQueue] Expire sweep moved %d subscriptions", n)
	}
	return nil
}

func (q *Queue) processBalanceAuditJob(ctx context.Context, job *Job) error {
	if q.procs.Auditor == nil {
		return fmt.Errorf("no auditor configured")
	}
	payload, err := BalanceAuditJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid balance audit payload: %w", err)
	}

	sum, repaired, err := q.procs.Auditor.RecomputeBalance(ctx, payload.UserID)
	if err != nil {
		return err
	}
	if repaired {
		log.Warnf("[JobQueue] Balance for user %d repaired to %d", payload.UserID, sum)
	}
	return nil
}
