// Package health aggregates component liveness for the /health endpoint
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"signalbot/internal/core"
)

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	if logger == nil {
		return &HealthManager{
			checks: make(map[string]func() error),
		}
	}
	return &HealthManager{
		logger: logger.WithField("component", "health_manager"),
		checks: make(map[string]func() error),
	}
}

// Register adds a new health check for a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := make(map[string]string)
	for component, check := range hm.checks {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy returns true if all critical components are healthy
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	for _, check := range hm.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}

// ServeHTTP writes the component status as JSON, 503 when anything is unhealthy
func (hm *HealthManager) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := hm.GetStatus()
	code := http.StatusOK
	for _, s := range status {
		if s != "Healthy" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil && hm.logger != nil {
		hm.logger.Warn("Failed to write health status", "error", err)
	}
}

// Heartbeat is a liveness check for a periodic loop
type Heartbeat struct {
	mu     sync.Mutex
	last   time.Time
	maxAge time.Duration
	now    func() time.Time
}

// NewHeartbeat fails its check when Beat was not called within maxAge
func NewHeartbeat(maxAge time.Duration) *Heartbeat {
	return &Heartbeat{maxAge: maxAge, now: time.Now}
}

// Beat records a completed iteration
func (h *Heartbeat) Beat() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = h.now()
}

// Check is suitable for HealthManager.Register
func (h *Heartbeat) Check() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last.IsZero() {
		return fmt.Errorf("no iteration completed yet")
	}
	if age := h.now().Sub(h.last); age > h.maxAge {
		return fmt.Errorf("last iteration %s ago", age.Truncate(time.Second))
	}
	return nil
}
