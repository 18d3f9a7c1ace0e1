package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Manager runs a queue together with its periodic housekeeping
type Manager struct {
	queue         *Queue
	statsInterval time.Duration
	statsTicker   *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

// NewManager wraps a queue; statsInterval <= 0 disables the depth reporter
func NewManager(queue *Queue, statsInterval time.Duration) *Manager {
	return &Manager{
		queue:         queue,
		statsInterval: statsInterval,
		stopCh:        make(chan struct{}),
	}
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

	if m.statsInterval > 0 {
		m.statsTicker = time.NewTicker(m.statsInterval)
		m.wg.Add(1)
		go m.statsWorker()
	}

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
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// statsWorker periodically logs queue depths
func (m *Manager) statsWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Stats worker stopping")
			return
		case <-m.statsTicker.C:
			m.logDepths(context.Background())
		}
	}
}

func (m *Manager) logDepths(ctx context.Context) {
	for _, name := range m.queue.Queues() {
		pending, err := m.queue.GetQueueSize(ctx, name)
		if err != nil {
			log.Errorf("[JobQueue Manager] Queue size for %s: %v", name, err)
			continue
		}
		processing, err := m.queue.GetProcessingSize(ctx, name)
		if err != nil {
			log.Errorf("[JobQueue Manager] Processing size for %s: %v", name, err)
			continue
		}
		log.Infof("[JobQueue Manager] Queue %s: pending=%d processing=%d", name, pending, processing)
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
