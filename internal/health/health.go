// Package health provides liveness and readiness checks for the
// gateway, kiosk, and panel processes, exposed over HTTP for container
// orchestrators and load balancers.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lockergrid/core/internal/log"
)

// CheckType scopes a checker to liveness, readiness, or both.
type CheckType uint8

const (
	CheckHealth    CheckType = 1 << 0
	CheckReadiness CheckType = 1 << 1
)

// Status is the aggregate health/readiness verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one component's verdict.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    int64                  `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness probe body.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Error     string                 `json:"error,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one health/readiness dependency probe.
type Checker interface {
	Name() string
	Type() CheckType
	Check(ctx context.Context) CheckResult
}

// Manager aggregates registered checkers and serves the gateway's
// /health and /ready endpoints (spec §6). Readiness results are
// collapsed with singleflight and cached briefly so a thundering herd
// of probes from a load balancer doesn't hammer the database or
// hardware serializer on every request.
type Manager struct {
	version       string
	startTime     time.Time
	mu            sync.RWMutex
	checkers      []Checker
	sfg           singleflight.Group
	lastReadyResp ReadinessResponse
	lastReadyTime time.Time
}

func NewManager(version string) *Manager {
	return &Manager{version: version, startTime: time.Now()}
}

func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Health reports liveness: 200 as long as the process can run its own
// checkers, regardless of whether dependencies are degraded.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    int64(time.Since(m.startTime).Seconds()),
		Timestamp: time.Now(),
	}
	if !verbose {
		return resp
	}

	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	resp.Checks = make(map[string]CheckResult, len(checkers))
	degraded, unhealthy := false, false
	for _, c := range checkers {
		res := c.Check(ctx)
		resp.Checks[c.Name()] = res
		switch res.Status {
		case StatusUnhealthy:
			unhealthy = true
		case StatusDegraded:
			degraded = true
		}
	}
	switch {
	case unhealthy:
		resp.Status = StatusUnhealthy
	case degraded:
		resp.Status = StatusDegraded
	}
	return resp
}

// Ready reports readiness: 503 until every readiness-scoped checker
// passes, so the gateway isn't routed traffic before its readiness-scoped
// dependencies (such as the database) are usable.
func (m *Manager) Ready(ctx context.Context, verbose bool) ReadinessResponse {
	m.mu.RLock()
	if !m.lastReadyTime.IsZero() && time.Since(m.lastReadyTime) < time.Second {
		cached := m.lastReadyResp
		m.mu.RUnlock()
		if !verbose {
			cached.Checks = nil
		}
		return cached
	}
	m.mu.RUnlock()

	val, err, _ := m.sfg.Do("readiness", func() (any, error) {
		probeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		m.mu.RLock()
		checkers := append([]Checker(nil), m.checkers...)
		m.mu.RUnlock()

		result := ReadinessResponse{Ready: true, Status: StatusHealthy, Timestamp: time.Now(), Checks: map[string]CheckResult{}}
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, c := range checkers {
			if c.Type()&CheckReadiness == 0 {
				continue
			}
			wg.Add(1)
			go func(c Checker) {
				defer wg.Done()
				res := c.Check(probeCtx)
				mu.Lock()
				defer mu.Unlock()
				result.Checks[c.Name()] = res
				switch res.Status {
				case StatusUnhealthy:
					result.Status = StatusUnhealthy
					result.Ready = false
				case StatusDegraded:
					if result.Status != StatusUnhealthy {
						result.Status = StatusDegraded
					}
				}
			}(c)
		}
		wg.Wait()

		m.mu.Lock()
		m.lastReadyResp = result
		m.lastReadyTime = result.Timestamp
		m.mu.Unlock()
		return result, nil
	})
	if err != nil {
		return ReadinessResponse{Ready: false, Status: StatusUnhealthy, Timestamp: time.Now(), Error: err.Error()}
	}

	resp := val.(ReadinessResponse)
	if !verbose {
		resp.Checks = nil
	}
	return resp
}

func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())
	resp := m.Health(r.Context(), r.URL.Query().Get("verbose") == "true")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("health: encode response")
	}
}

func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())
	resp := m.Ready(r.Context(), r.URL.Query().Get("verbose") == "true")
	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("readiness: encode response")
	}
}
