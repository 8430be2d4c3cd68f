// Package resilience provides component health checks for the service.
package resilience

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"ensemble-trader/internal/logging"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message,omitempty"`
	LastCheck time.Time              `json:"last_check"`
	Latency   time.Duration          `json:"latency_ns"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck represents a health check function.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth is the result of one round of checks.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Uptime     time.Duration     `json:"uptime_ns"`
	Components []ComponentHealth `json:"components"`
}

// HealthMonitorConfig holds health monitor configuration.
type HealthMonitorConfig struct {
	CheckTimeout       time.Duration
	MemoryThresholdMB  uint64
	GoroutineThreshold int
}

// DefaultHealthMonitorConfig returns default configuration.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		CheckTimeout:       5 * time.Second,
		MemoryThresholdMB:  500,
		GoroutineThreshold: 1000,
	}
}

// HealthMonitor runs registered component checks on demand.
type HealthMonitor struct {
	mu         sync.RWMutex
	components map[string]HealthCheck

	checkTimeout       time.Duration
	memoryThreshold    uint64 // bytes
	goroutineThreshold int

	startTime time.Time
	logger    zerolog.Logger
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(config HealthMonitorConfig, logger zerolog.Logger) *HealthMonitor {
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 5 * time.Second
	}
	return &HealthMonitor{
		components:         make(map[string]HealthCheck),
		checkTimeout:       config.CheckTimeout,
		memoryThreshold:    config.MemoryThresholdMB * 1024 * 1024,
		goroutineThreshold: config.GoroutineThreshold,
		startTime:          time.Now(),
		logger:             logging.WithComponent(logger, "health"),
	}
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// Check runs every component check concurrently, plus the memory and
// goroutine checks. A check that panics reports its component unhealthy.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]HealthCheck, len(names))
	for i, name := range names {
		checks[i] = m.components[name]
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	results := make([]ComponentHealth, len(checks))
	var wg conc.WaitGroup
	for i, check := range checks {
		i, check := i, check
		wg.Go(func() {
			start := time.Now()
			var pc panics.Catcher
			pc.Try(func() {
				results[i] = check(ctx)
			})
			if r := pc.Recovered(); r != nil {
				results[i] = ComponentHealth{
					Status:  HealthStatusUnhealthy,
					Message: fmt.Sprintf("panic recovered: %v", r.Value),
				}
			}
			results[i].Name = names[i]
			results[i].LastCheck = time.Now()
			results[i].Latency = time.Since(start)
		})
	}
	wg.Wait()

	results = append(results, m.checkMemory(), m.checkGoroutines())

	health := SystemHealth{
		Status:     HealthStatusHealthy,
		Uptime:     time.Since(m.startTime),
		Components: results,
	}
	for _, c := range results {
		switch c.Status {
		case HealthStatusUnhealthy:
			health.Status = HealthStatusUnhealthy
			m.logger.Warn().Str("check", c.Name).Str("message", c.Message).Msg("Component unhealthy")
		case HealthStatusDegraded:
			if health.Status == HealthStatusHealthy {
				health.Status = HealthStatusDegraded
			}
		}
	}
	return health
}

// Probe wraps an error-returning ping as a health check.
func Probe(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error()}
		}
		return ComponentHealth{Status: HealthStatusHealthy}
	}
}

func (m *HealthMonitor) checkMemory() ComponentHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	health := ComponentHealth{
		Name:      "memory",
		LastCheck: time.Now(),
		Details: map[string]interface{}{
			"alloc_mb": memStats.Alloc / 1024 / 1024,
			"sys_mb":   memStats.Sys / 1024 / 1024,
			"num_gc":   memStats.NumGC,
		},
	}

	if m.memoryThreshold > 0 && memStats.Alloc > m.memoryThreshold {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("Memory usage high: %d MB", memStats.Alloc/1024/1024)
	} else {
		health.Status = HealthStatusHealthy
	}
	return health
}

func (m *HealthMonitor) checkGoroutines() ComponentHealth {
	numGoroutines := runtime.NumGoroutine()

	health := ComponentHealth{
		Name:      "goroutines",
		LastCheck: time.Now(),
		Details:   map[string]interface{}{"count": numGoroutines},
	}

	if m.goroutineThreshold > 0 && numGoroutines > m.goroutineThreshold {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("High goroutine count: %d", numGoroutines)
	} else {
		health.Status = HealthStatusHealthy
	}
	return health
}
