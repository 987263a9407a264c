package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/remnashop/remnashop/app/models"
	metrics "github.com/remnashop/remnashop/internal/pkg/metrics/counter"
)

// DirtyLister exposes the dirty-subscription backlog so the manager can
// re-enqueue sync jobs that were lost between enqueue and completion.
type DirtyLister interface {
	FindDirtyBatch(ctx context.Context, limit int) ([]uint, error)
}

// Manager manages the global job queue and background tasks
type Manager struct {
	queue              *Queue
	dirty              DirtyLister
	sweepTicker        *time.Ticker
	dirtySyncTicker    *time.Ticker
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		// Get worker count from settings, fallback to 5 if not available
		workerCount := 5
		if settings := getAppSettings(); settings != nil {
			workerCount = settings.GetJobQueueWorkerCount()
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount, Processors{}),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// Configure wires the domain services before Start. Must be called once
// during boot.
func (m *Manager) Configure(procs Processors, dirty DirtyLister) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.procs = procs
	m.dirty = dirty
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Get intervals from settings
	sweepInterval := 15 * time.Minute // Default fallback
	if settings := getAppSettings(); settings != nil {
		sweepInterval = time.Duration(settings.GetSweepIntervalMinutes()) * time.Minute
	}

	// Expiry sweep - configurable interval
	m.sweepTicker = time.NewTicker(sweepInterval)
	m.wg.Add(1)
	go m.sweepWorker()

	// Dirty-subscription backlog requeue every 2 minutes
	m.dirtySyncTicker = time.NewTicker(2 * time.Minute)
	m.wg.Add(1)
	go m.dirtySyncWorker()

	// Start counter flush worker (Redis -> DB) every 5 seconds
	m.counterFlushTicker = time.NewTicker(5 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.dirtySyncTicker != nil {
		m.dirtySyncTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	// Signal workers to stop. The channel stays closed until the next Start
	// recreates it, so a worker that reads the field late still returns.
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// sweepWorker periodically enqueues an expiry sweep pass
func (m *Manager) sweepWorker() {
	defer m.wg.Done()
	batch := 100
	if settings := getAppSettings(); settings != nil {
		batch = settings.GetSweepBatchSize()
	}
	log.Infof("[JobQueue Manager] Started expiry sweep worker (batch: %d)", batch)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Sweep worker stopping")
			return
		case <-m.sweepTicker.C:
			if _, err := m.queue.EnqueueJob(JobTypeExpireSweep, ExpireSweepJobPayload{BatchSize: batch}.ToMap()); err != nil {
				log.Errorf("[JobQueue Manager] Error enqueueing expiry sweep: %v", err)
			}
		}
	}
}

// dirtySyncWorker re-enqueues sync jobs for subscriptions that stayed dirty,
// catching jobs lost to crashes or Redis eviction.
func (m *Manager) dirtySyncWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Dirty sync worker stopping")
			return
		case <-m.dirtySyncTicker.C:
			if m.dirty == nil {
				continue
			}
			ids, err := m.dirty.FindDirtyBatch(context.Background(), 50)
			if err != nil {
				log.Errorf("[JobQueue Manager] Dirty batch error: %v", err)
				continue
			}
			for _, id := range ids {
				payload := EntitlementSyncJobPayload{SubscriptionID: id}.ToMap()
				if _, err := m.queue.EnqueueJob(JobTypeEntitlementSync, payload); err != nil {
					log.Errorf("[JobQueue Manager] Error enqueueing sync for %d: %v", id, err)
				}
			}
		}
	}
}

// counterFlushWorker periodically flushes webhook counters from Redis to DB
func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := metrics.FlushAll(); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// getAppSettings safely returns the current app settings
func getAppSettings() *models.AppSettings {
	return models.GetAppSettings()
}
