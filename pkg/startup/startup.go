// Package startup brings service dependencies up in dependency order, retrying the whole
// sequence with a Fibonacci backoff, and tears them down in reverse.
package startup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
)

type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Status int

const (
	StatusPending Status = iota
	StatusStarted
	StatusStopped
	StatusFailed
)

// Func is a Dependency built from closures. A nil StopFn is a no-op.
type Func struct {
	Name    string
	Needs   []string
	StartFn func(ctx context.Context) error
	StopFn  func(ctx context.Context) error
}

func (f Func) GetName() string     { return f.Name }
func (f Func) DependsOn() []string { return f.Needs }

func (f Func) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}

type Startup struct {
	dependencies map[string]Dependency
	logger       ectologger.Logger
	statuses     map[string]Status
	started      []string
	attempt      int
	maxAttempts  int
	backoffUnit  time.Duration
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Startup{
		logger:       logger,
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]Status),
		maxAttempts:  maxAttempts,
		backoffUnit:  time.Second,
	}
}

func (s *Startup) AddDependency(dependency Dependency) *Startup {
	s.dependencies[dependency.GetName()] = dependency
	return s
}

// Status returns the last known state of a dependency
func (s *Startup) Status(name string) Status {
	return s.statuses[name]
}

func (s *Startup) Start(ctx context.Context) error {
	s.attempt = 0
	var lastErr error

	names := make([]string, 0, len(s.dependencies))
	for name := range s.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	a, b := 1, 1
	for s.attempt < s.maxAttempts {
		s.attempt++
		s.logger.WithField("attempt", s.attempt).Infof("Beginning startup attempt %d", s.attempt)

		success := true
		for _, name := range names {
			if err := s.startDependency(ctx, name, map[string]bool{}); err != nil {
				s.logger.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, s.attempt)
				lastErr = err
				success = false
				break
			}
		}

		if success {
			return nil
		}

		if s.attempt >= s.maxAttempts {
			return fmt.Errorf("startup failed after %d attempts: %w", s.attempt, lastErr)
		}

		waitTime := time.Duration(a) * s.backoffUnit
		s.logger.Infof("Retrying in %s (attempt %d/%d)", waitTime, s.attempt, s.maxAttempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}

		a, b = b, a+b
	}

	return lastErr
}

func (s *Startup) startDependency(ctx context.Context, name string, visiting map[string]bool) error {
	dependency, ok := s.dependencies[name]
	if !ok {
		return fmt.Errorf("unknown startup dependency '%s'", name)
	}
	if s.statuses[name] == StatusStarted {
		return nil
	}
	if visiting[name] {
		return fmt.Errorf("startup dependency cycle at '%s'", name)
	}
	visiting[name] = true

	for _, dependencyName := range dependency.DependsOn() {
		if err := s.startDependency(ctx, dependencyName, visiting); err != nil {
			return err
		}
	}

	s.logger.WithField("dependency", name).Infof("Starting dependency '%s'", name)
	s.statuses[name] = StatusPending
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StatusFailed
		return fmt.Errorf("%s: %w", name, err)
	}
	s.statuses[name] = StatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops every started dependency in reverse start order and returns the first error.
func (s *Startup) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		if s.statuses[name] != StatusStarted {
			continue
		}

		s.logger.WithField("dependency", name).Infof("Stopping dependency '%s'", name)
		if err := s.dependencies[name].Stop(ctx); err != nil {
			s.logger.WithError(err).WithField("dependency", name).Errorf("Failed to stop dependency '%s'", name)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.statuses[name] = StatusStopped
	}
	s.started = nil
	return firstErr
}
