package jobqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ringlinehq/ringline/internal/pkg/dispatch"
	"github.com/ringlinehq/ringline/internal/pkg/env"
)

// Manager owns the process-wide job queue and its background tasks. The
// lifecycle is explicit: initialized once at startup, stopped on shutdown.
type Manager struct {
	queue       *Queue
	statsTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// InitManager builds the global manager with its processing dependencies.
// Must be called before GetManager.
func InitManager(registry *dispatch.Registry, events EventStore) *Manager {
	managerOnce.Do(func() {
		workerCount := defaultWorkerCount
		if v, err := strconv.Atoi(env.GetEnv("JOB_WORKERS", "")); err == nil && v > 0 {
			workerCount = v
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount, registry, events),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	return globalManager
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

	m.queue.Start()

	// Periodic queue-depth logging for operators
	m.statsTicker = time.NewTicker(time.Minute)
	m.wg.Add(1)
	go m.statsWorker()

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

	if m.statsTicker != nil {
		m.statsTicker.Stop()
	}
	close(m.stopCh)
	m.wg.Wait()

	m.queue.Stop()
	m.running = false
	log.Info("[JobQueue Manager] Stopped")
}

func (m *Manager) statsWorker() {
	defer m.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.statsTicker.C:
			pending, err := m.queue.GetQueueSize(ctx)
			if err != nil {
				log.Errorf("[JobQueue Manager] Failed to read queue size: %v", err)
				continue
			}
			processing, err := m.queue.GetProcessingSize(ctx)
			if err != nil {
				log.Errorf("[JobQueue Manager] Failed to read processing size: %v", err)
				continue
			}
			log.Infof("[JobQueue Manager] Queue depth: pending=%d processing=%d", pending, processing)
		}
	}
}
