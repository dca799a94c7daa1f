// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package breaker provides a circuit breaker per scanner instance, wrapping
// every adapter call so a failing instance fails fast instead of being
// hammered.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
)

// Config holds the tunables from §4.10, with the spec's defaults.
type Config struct {
	FailureThreshold uint32        // default 5
	RecoveryTimeout  time.Duration // default 30s
	HalfOpenMax      uint32        // default 1
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenMax == 0 {
		c.HalfOpenMax = 1
	}
	return c
}

// State mirrors gobreaker's three states as the metrics-friendly 0/1/2 gauge.
type State int

const (
	StateClosed   State = 0
	StateOpen     State = 1
	StateHalfOpen State = 2
)

// Registry holds one gobreaker.CircuitBreaker per scanner instance, created
// lazily and keyed by instance id. It is an injected value, not a
// package-level singleton, so tests can build independent instances.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg.withDefaults(), breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (r *Registry) breakerFor(instanceID string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[instanceID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        instanceID,
		MaxRequests: r.cfg.HalfOpenMax,
		Interval:    0, // counts never reset except on state transitions
		Timeout:     r.cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.FailureThreshold
		},
	})
	r.breakers[instanceID] = b
	return b
}

// Execute runs fn through the breaker for instanceID. A fail-fast refusal is
// surfaced as apperr.CircuitOpen so the worker can treat it like a
// transient ScannerError.
func (r *Registry) Execute(ctx context.Context, instanceID string, fn func(context.Context) error) error {
	b := r.breakerFor(instanceID)
	_, err := b.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.NewCircuitOpen("circuit open for scanner instance " + instanceID)
	}
	return err
}

// State reports the current state of instanceID's breaker for metrics.
func (r *Registry) State(instanceID string) State {
	b := r.breakerFor(instanceID)
	switch b.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
