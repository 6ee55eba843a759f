package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dreamware/hashcrack/internal/cluster"
)

// Health states reported by the monitor.
const (
	HealthUnknown   = "unknown"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// WorkerHealth tracks the health of one worker.
// Protected by HealthMonitor's mutex.
type WorkerHealth struct {
	LastCheck        time.Time `json:"last_check"`
	LastHealthy      time.Time `json:"last_healthy"`
	WorkerID         string    `json:"worker_id"`
	Status           string    `json:"status"`
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// HealthMonitor polls the /health endpoint of every active worker.
//
// A worker whose check fails maxFailures times in a row is reported through
// the onUnhealthy callback, once per transition. The Master feeds the callback
// into MemberDown, which makes the monitor the second source of membership
// loss next to websocket disconnects: it catches workers whose connection
// stays open while their process no longer answers.
//
// Thread-safe: all methods may be called concurrently.
type HealthMonitor struct {
	clock       clockwork.Clock
	log         *zap.SugaredLogger
	workers     map[string]*WorkerHealth
	httpClient  *http.Client
	checkFunc   func(ctx context.Context, addr string) error
	onUnhealthy func(workerID string)
	interval    time.Duration
	maxFailures int
	mu          sync.RWMutex
}

// NewHealthMonitor creates a monitor checking every interval and reporting
// a worker after maxFailures consecutive failures.
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, 3, clockwork.NewRealClock(), log)
//	monitor.SetOnUnhealthy(master.MemberDown)
//	go monitor.Start(ctx, func() []cluster.Member { return master.Status().ActiveMembers })
func NewHealthMonitor(interval time.Duration, maxFailures int, clock clockwork.Clock, log *zap.SugaredLogger) *HealthMonitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxFailures < 1 {
		maxFailures = 3
	}
	return &HealthMonitor{
		clock:       clock,
		log:         log,
		interval:    interval,
		maxFailures: maxFailures,
		workers:     make(map[string]*WorkerHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
	}
}

// SetOnUnhealthy sets the callback invoked, without any lock held, when a
// worker becomes unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(workerID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnhealthy = callback
}

// SetCheckFunction replaces the HTTP check. Used by tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, addr string) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkFunc = checkFunc
}

// Start checks the workers returned by provider immediately and then every
// interval, until ctx is done.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []cluster.Member) {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Infow("health monitor started", "interval", h.interval, "max_failures", h.maxFailures)
	h.CheckAll(ctx, provider())

	for {
		select {
		case <-ticker.Chan():
			h.CheckAll(ctx, provider())
		case <-ctx.Done():
			h.log.Infow("health monitor stopped")
			return
		}
	}
}

// CheckAll runs one round of checks and forgets workers that are no longer
// listed.
func (h *HealthMonitor) CheckAll(ctx context.Context, workers []cluster.Member) {
	current := make(map[string]bool, len(workers))
	for _, w := range workers {
		current[w.ID] = true
		h.checkWorker(ctx, w)
	}

	h.mu.Lock()
	for id := range h.workers {
		if !current[id] {
			delete(h.workers, id)
			h.log.Debugw("removed worker from health monitoring", "worker", id)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkWorker(ctx context.Context, w cluster.Member) {
	h.mu.Lock()
	health, ok := h.workers[w.ID]
	if !ok {
		now := h.clock.Now()
		health = &WorkerHealth{
			WorkerID:    w.ID,
			Status:      HealthUnknown,
			LastCheck:   now,
			LastHealthy: now,
		}
		h.workers[w.ID] = health
	}
	check := h.checkFunc
	if check == nil {
		check = h.defaultHealthCheck
	}
	h.mu.Unlock()

	err := check(ctx, w.Addr)

	h.mu.Lock()
	health.LastCheck = h.clock.Now()
	if err == nil {
		if health.Status == HealthUnhealthy {
			h.log.Infow("worker recovered", "worker", w.ID)
		}
		health.Status = HealthHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = health.LastCheck
		h.mu.Unlock()
		return
	}

	health.ConsecutiveFails++
	h.log.Debugw("health check failed",
		"worker", w.ID,
		"attempt", health.ConsecutiveFails,
		"max", h.maxFailures,
		"error", err)
	var notify func(string)
	if health.ConsecutiveFails >= h.maxFailures && health.Status != HealthUnhealthy {
		health.Status = HealthUnhealthy
		notify = h.onUnhealthy
		h.log.Warnw("worker marked unhealthy", "worker", w.ID, "failures", health.ConsecutiveFails)
	}
	h.mu.Unlock()

	if notify != nil {
		notify(w.ID)
	}
}

// defaultHealthCheck GETs <addr>/health and expects 200 OK. addr may be a
// full URL or host:port.
func (h *HealthMonitor) defaultHealthCheck(ctx context.Context, addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetWorkerHealth returns a copy of the health of workerID, or nil if it is
// not monitored.
func (h *HealthMonitor) GetWorkerHealth(workerID string) *WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.workers[workerID]
	if !ok {
		return nil
	}
	c := *health
	return &c
}

// GetAllWorkerHealth returns copies of every monitored worker's health.
func (h *HealthMonitor) GetAllWorkerHealth() map[string]*WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]*WorkerHealth, len(h.workers))
	for id, health := range h.workers {
		c := *health
		out[id] = &c
	}
	return out
}

// IsHealthy reports whether workerID passed its latest check.
func (h *HealthMonitor) IsHealthy(workerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.workers[workerID]
	return ok && health.Status == HealthHealthy
}
