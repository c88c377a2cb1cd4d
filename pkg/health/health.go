// Package health provides health check endpoints for the lichen service.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const checkTimeout = 5 * time.Second

// CheckResult represents the result of a health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Response represents a health check response
type Response struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

// Pinger is anything that can prove its connection is alive
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type dependency struct {
	pinger Pinger
	// optional dependencies only degrade the service
	optional bool
}

// Checker provides health check functionality
type Checker struct {
	dependencies map[string]dependency
	startTime    time.Time
	version      string
	mu           sync.RWMutex
	ready        bool
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		dependencies: map[string]dependency{},
		startTime:    time.Now(),
		version:      version,
	}
}

// Require registers a dependency whose failure makes the service unhealthy
func (c *Checker) Require(name string, pinger Pinger) *Checker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dependencies[name] = dependency{pinger: pinger}
	return c
}

// Optional registers a dependency whose failure only degrades the service
func (c *Checker) Optional(name string, pinger Pinger) *Checker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dependencies[name] = dependency{pinger: pinger, optional: true}
	return c
}

// SetReady marks the service as ready to receive traffic
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// IsReady returns whether the service is ready
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// LivenessHandler reports that the process is up
func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, Response{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		ReportedAt: time.Now(),
	})
}

// ReadinessHandler reports whether the service can take traffic
func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		return ctx.JSON(http.StatusServiceUnavailable, Response{
			Status:     StatusUnhealthy,
			Version:    c.version,
			ReportedAt: time.Now(),
			Checks: map[string]CheckResult{
				"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
			},
		})
	}
	return c.HealthHandler(ctx)
}

// HealthHandler returns a detailed health check handler
func (c *Checker) HealthHandler(ctx echo.Context) error {
	response := c.Check(ctx.Request().Context())

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	return ctx.JSON(statusCode, response)
}

// Check runs every registered dependency check
func (c *Checker) Check(ctx context.Context) Response {
	c.mu.RLock()
	names := make([]string, 0, len(c.dependencies))
	for name := range c.dependencies {
		names = append(names, name)
	}
	deps := make(map[string]dependency, len(c.dependencies))
	for name, dep := range c.dependencies {
		deps[name] = dep
	}
	c.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]CheckResult, len(names))
	for _, name := range names {
		checks[name] = runCheck(ctx, deps[name])
	}

	return Response{
		Status:     calculateOverallStatus(checks),
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     checks,
		ReportedAt: time.Now(),
	}
}

func runCheck(ctx context.Context, dep dependency) CheckResult {
	if dep.pinger == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "not configured"}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := dep.pinger.Ping(ctx); err != nil {
		status := StatusUnhealthy
		if dep.optional {
			status = StatusDegraded
		}
		return CheckResult{
			Status:  status,
			Message: err.Error(),
			Latency: time.Since(start).String(),
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Latency: time.Since(start).String(),
	}
}

// calculateOverallStatus determines the overall health status
func calculateOverallStatus(checks map[string]CheckResult) Status {
	hasUnhealthy := false
	hasDegraded := false

	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// RegisterRoutes registers health check routes under /api/v1
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	health := e.Group("/api/v1/health")

	health.GET("", c.HealthHandler)

	// Kubernetes-style probes
	health.GET("/live", c.LivenessHandler)
	health.GET("/ready", c.ReadinessHandler)
}
