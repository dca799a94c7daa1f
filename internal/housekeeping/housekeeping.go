// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package housekeeping implements the periodic TTL sweep and stale-RUNNING
// reaper (C13): a ticker-driven background loop in the same shape as the
// teacher's cleanupWorker/cleanupOldReports, generalized from a single
// retention window to the per-status TTLs this domain requires, plus the
// restart-recovery pass the teacher runs once at startup
// (markInterruptedTasksAsFailed).
package housekeeping

import (
	"context"
	"time"

	"github.com/eafonin/nessus-orchestrator/internal/metrics"
	"github.com/eafonin/nessus-orchestrator/internal/obslog"
	"github.com/eafonin/nessus-orchestrator/internal/scanner"
	"github.com/eafonin/nessus-orchestrator/internal/task"
	"github.com/eafonin/nessus-orchestrator/internal/taskstore"
)

// Config bundles the sweep's tunables, mirroring config.HousekeepingConfig
// so callers can wire the two directly.
type Config struct {
	Interval              time.Duration // sweep cadence, default 1h
	CompletedTTL          time.Duration // default 7d
	FailedTTL             time.Duration // default 30d (covers FAILED and TIMEOUT)
	StaleRunningThreshold time.Duration // default 24h
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = time.Hour
	}
	if c.CompletedTTL == 0 {
		c.CompletedTTL = 7 * 24 * time.Hour
	}
	if c.FailedTTL == 0 {
		c.FailedTTL = 30 * 24 * time.Hour
	}
	if c.StaleRunningThreshold == 0 {
		c.StaleRunningThreshold = 24 * time.Hour
	}
	return c
}

// AdapterLookup resolves the scanner adapter to use for a
// best-effort StopScan/DeleteScan against a stale task, keyed by the
// instance ID the task was last assigned to. Returns ok=false when the
// instance is no longer known, in which case the sweep still transitions
// the task locally without reaching out to the scanner.
type AdapterLookup func(instanceID string) (scanner.Adapter, bool)

// Sweeper runs the TTL deletion and stale-RUNNING reaper on a ticker.
type Sweeper struct {
	store      *taskstore.Store
	lookup     AdapterLookup
	cfg        Config
	log        obslog.Logger

	stopCh chan struct{}
	done   chan struct{}
}

func New(store *taskstore.Store, lookup AdapterLookup, cfg Config, log obslog.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		lookup: lookup,
		cfg:    cfg.withDefaults(),
		log:    log,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run blocks, sweeping immediately and then every cfg.Interval, until Stop
// is called. Intended to run in its own goroutine, one per process.
func (s *Sweeper) Run() {
	defer close(s.done)

	s.RecoverInterrupted()
	s.Sweep()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Stop signals Run to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.done
}

// RecoverInterrupted marks every task still RUNNING at process start as
// FAILED, the startup-recovery pass a single-process worker needs since a
// crash mid-scan leaves no one to ever report a terminal state.
func (s *Sweeper) RecoverInterrupted() {
	tasks, err := s.store.ListAll()
	if err != nil {
		s.log.Error("housekeeping: listing tasks for restart recovery failed: %v", err)
		return
	}
	now := time.Now()
	for _, t := range tasks {
		if t.Status != task.StatusRunning {
			continue
		}
		msg := "interrupted by process restart"
		failed := task.StatusFailed
		if _, err := s.store.Update(t.TaskID, task.Update{Status: &failed, ErrorMessage: &msg}, now); err != nil {
			s.log.Error("housekeeping: failed to recover interrupted task %s: %v", t.TaskID, err)
			continue
		}
		s.log.Info("housekeeping: recovered interrupted task %s", t.TaskID)
	}
}

// Sweep performs one pass: reap stale RUNNING tasks, then delete terminal
// task directories past their status-specific TTL.
func (s *Sweeper) Sweep() {
	tasks, err := s.store.ListAll()
	if err != nil {
		s.log.Error("housekeeping: listing tasks failed: %v", err)
		return
	}

	now := time.Now()
	deleted := 0
	reaped := 0

	for _, t := range tasks {
		if t.Status == task.StatusRunning {
			if s.reapIfStale(t, now) {
				reaped++
			}
			continue
		}
		if !t.Status.IsTerminal() {
			continue
		}
		if s.pastTTL(t, now) {
			if err := s.store.Delete(t.TaskID); err != nil {
				s.log.Error("housekeeping: failed to delete task %s: %v", t.TaskID, err)
				continue
			}
			metrics.RecordTTLDeletion()
			deleted++
		}
	}

	if reaped > 0 || deleted > 0 {
		s.log.Info("housekeeping: reaped %d stale RUNNING tasks, deleted %d expired task directories", reaped, deleted)
	}
}

func (s *Sweeper) pastTTL(t *task.Task, now time.Time) bool {
	if t.CompletedAt == nil {
		return false
	}
	var ttl time.Duration
	switch t.Status {
	case task.StatusCompleted:
		ttl = s.cfg.CompletedTTL
	case task.StatusFailed, task.StatusTimeout:
		ttl = s.cfg.FailedTTL
	default:
		return false
	}
	return now.Sub(*t.CompletedAt) >= ttl
}

// reapIfStale transitions a RUNNING task whose started_at predates the
// stale-running threshold to TIMEOUT, best-effort stopping and deleting the
// remote scan first. Returns whether a reap occurred.
func (s *Sweeper) reapIfStale(t *task.Task, now time.Time) bool {
	if t.StartedAt == nil || now.Sub(*t.StartedAt) < s.cfg.StaleRunningThreshold {
		return false
	}

	if s.lookup != nil && t.ScannerInstanceID != "" && t.NessusScanID != "" {
		if adapter, ok := s.lookup(t.ScannerInstanceID); ok {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, _ = adapter.StopScan(ctx, t.NessusScanID)
			_, _ = adapter.DeleteScan(ctx, t.NessusScanID)
			cancel()
		}
	}

	msg := "stale"
	timeout := task.StatusTimeout
	if _, err := s.store.Update(t.TaskID, task.Update{Status: &timeout, ErrorMessage: &msg}, now); err != nil {
		s.log.Error("housekeeping: failed to reap stale task %s: %v", t.TaskID, err)
		return false
	}
	s.log.Info("housekeeping: reaped stale RUNNING task %s (started_at=%s)", t.TaskID, t.StartedAt.Format(time.RFC3339))
	return true
}
