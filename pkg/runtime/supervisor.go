// Package runtime supervises the long-running components of a process:
// it starts them together, stops them on SIGINT/SIGTERM or on the first
// component failure, and runs registered cleanups in reverse order.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/stayware/bookingest/internal/logger"
)

// component is one supervised run loop.
type component struct {
	name string
	run  func(ctx context.Context) error
}

// cleanup is a named teardown step, run after every component has stopped.
type cleanup struct {
	name string
	fn   func(ctx context.Context) error
}

// Supervisor owns the process lifecycle.
//
// Components run concurrently; the first one to fail, or a termination
// signal, cancels all of them. Cleanups then run LIFO, mirroring the
// construction order of the resources they release.
type Supervisor struct {
	components      []component
	cleanups        []cleanup
	shutdownTimeout time.Duration
}

// New creates a Supervisor. shutdownTimeout bounds the wait for components
// to drain after cancellation.
func New(shutdownTimeout time.Duration) *Supervisor {
	return &Supervisor{shutdownTimeout: shutdownTimeout}
}

// Add registers a run loop. run must return promptly once its context is
// cancelled; returning ctx.Err() on cancellation is not treated as a
// failure.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.components = append(s.components, component{name: name, run: run})
}

// OnShutdown registers a teardown step, run after all components stop.
// Steps run in reverse registration order.
func (s *Supervisor) OnShutdown(name string, fn func(ctx context.Context) error) {
	s.cleanups = append(s.cleanups, cleanup{name: name, fn: fn})
}

// Run starts every component and blocks until shutdown completes.
//
// Returns nil on a clean signal-initiated shutdown, or the first component
// error otherwise. Cleanups run in both cases.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(s.components))

	var wg sync.WaitGroup
	for _, c := range s.components {
		wg.Add(1)
		go func(c component) {
			defer wg.Done()
			err := c.run(runCtx)
			if err != nil && errors.Is(err, context.Canceled) {
				err = nil
			}
			results <- result{name: c.name, err: err}
		}(c)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var firstErr error
	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown", "signal", sig.String())
	case r := <-results:
		if r.err != nil {
			firstErr = fmt.Errorf("%s: %w", r.name, r.err)
			logger.Error("Component failed, shutting down", "component", r.name, logger.KeyError, r.err)
		} else {
			logger.Warn("Component exited early, shutting down", "component", r.name)
		}
	case <-ctx.Done():
	}

	cancel()

	// Wait for the remaining components, bounded by the shutdown timeout.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
		logger.Warn("Shutdown timeout exceeded, abandoning in-flight work",
			"timeout", s.shutdownTimeout)
	}

	// Drain any late failures so they are at least logged.
	for {
		select {
		case r := <-results:
			if r.err != nil {
				logger.Error("Component stopped with error", "component", r.name, logger.KeyError, r.err)
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", r.name, r.err)
				}
			}
			continue
		default:
		}
		break
	}

	s.runCleanups()

	if firstErr == nil {
		logger.Info("Shutdown complete")
	}
	return firstErr
}

// runCleanups releases resources LIFO under the shutdown timeout.
func (s *Supervisor) runCleanups() {
	if len(s.cleanups) == 0 {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	for i := len(s.cleanups) - 1; i >= 0; i-- {
		c := s.cleanups[i]
		if err := c.fn(cleanupCtx); err != nil {
			logger.Error("Cleanup failed", "step", c.name, logger.KeyError, err)
			continue
		}
		logger.Debug("Cleanup complete", "step", c.name)
	}
}
