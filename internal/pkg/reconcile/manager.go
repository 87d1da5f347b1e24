package reconcile

import (
	"sync"

	"github.com/gofiber/fiber/v2/log"
)

// Manager owns the two background producers so the application has a single
// start/stop handle for the reconciliation loops.
type Manager struct {
	sweeper *Sweeper
	reaper  *Reaper
	mu      sync.Mutex
	running bool
}

// NewManager wires the sweeper and reaper under one lifecycle.
func NewManager(sweeper *Sweeper, reaper *Reaper) *Manager {
	return &Manager{sweeper: sweeper, reaper: reaper}
}

// Start launches both background loops.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true

	log.Info("[Reconcile Manager] Starting background producers")
	m.sweeper.Start()
	m.reaper.Start()
}

// Stop halts both loops and waits for in-flight work.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.sweeper.Stop()
	m.reaper.Stop()
	log.Info("[Reconcile Manager] Stopped")
}
