package jobqueue

import (
	"github.com/gofiber/fiber/v2/log"
)

// Scheduler hands subscription mutations to the queue as entitlement sync
// jobs. It satisfies the subscription service's SyncScheduler dependency.
type Scheduler struct {
	queue *Queue
}

// NewScheduler creates a scheduler on top of a queue.
func NewScheduler(queue *Queue) *Scheduler {
	return &Scheduler{queue: queue}
}

// Schedule enqueues a sync job. Enqueue failures are logged, not returned:
// the dirty flag on the subscription guarantees the manager's backlog worker
// picks the subscription up later.
func (s *Scheduler) Schedule(subscriptionID uint, revoke bool) {
	payload := EntitlementSyncJobPayload{SubscriptionID: subscriptionID, Revoke: revoke}.ToMap()
	if _, err := s.queue.EnqueueJob(JobTypeEntitlementSync, payload); err != nil {
		log.Errorf("[JobQueue] Failed to enqueue sync for subscription %d: %v", subscriptionID, err)
	}
}
