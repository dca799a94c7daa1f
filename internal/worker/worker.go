// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package worker implements the single-process, cooperative, multi-task
// scan scheduler (C9): a supervisor loop that dequeues across pools with
// spare capacity and drives each dequeued entry through the scanner
// lifecycle in its own goroutine.
package worker

import (
	"bytes"
	"context"
	"os"
	"sync"
	"time"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
	"github.com/eafonin/nessus-orchestrator/internal/breaker"
	"github.com/eafonin/nessus-orchestrator/internal/metrics"
	"github.com/eafonin/nessus-orchestrator/internal/obslog"
	"github.com/eafonin/nessus-orchestrator/internal/queue"
	"github.com/eafonin/nessus-orchestrator/internal/registry"
	"github.com/eafonin/nessus-orchestrator/internal/scanner"
	"github.com/eafonin/nessus-orchestrator/internal/task"
	"github.com/eafonin/nessus-orchestrator/internal/taskstore"
	"github.com/eafonin/nessus-orchestrator/internal/validator"
)

const (
	pollInterval   = 30 * time.Second
	dequeueTimeout = 5 * time.Second
	noCapacitySleep = time.Second
)

// AdapterFactory builds a scanner.Adapter for a concrete instance.
type AdapterFactory func(registry.InstanceConfig) scanner.Adapter

// Config bundles the worker's tunables.
type Config struct {
	ScanCeiling     time.Duration // hard wall-clock ceiling, default 24h
	ShutdownDeadline time.Duration // bound on graceful drain, default = ScanCeiling
	Pools           []string      // subset of pools this worker services; empty = all registered
}

// Worker is the supervisor described in §4.8/§9: it owns a map of in-flight
// scan goroutines per pool, each with a cancelable context. Capacity checks
// read the registry's live per-instance counters, not this map.
type Worker struct {
	reg       *registry.Registry
	q         *queue.Manager
	store     *taskstore.Store
	breakers  *breaker.Registry
	newAdapter AdapterFactory
	plugins   validator.PluginTable
	cfg       Config
	log       obslog.Logger

	mu       sync.Mutex
	inFlight map[string]map[string]context.CancelFunc // pool -> taskID -> cancel
	wg       sync.WaitGroup
	stopCh   chan struct{}
}

func New(reg *registry.Registry, q *queue.Manager, store *taskstore.Store, breakers *breaker.Registry, newAdapter AdapterFactory, plugins validator.PluginTable, cfg Config, log obslog.Logger) *Worker {
	if cfg.ScanCeiling == 0 {
		cfg.ScanCeiling = 24 * time.Hour
	}
	if cfg.ShutdownDeadline == 0 {
		cfg.ShutdownDeadline = cfg.ScanCeiling
	}
	return &Worker{
		reg:        reg,
		q:          q,
		store:      store,
		breakers:   breakers,
		newAdapter: newAdapter,
		plugins:    plugins,
		cfg:        cfg,
		log:        log,
		inFlight:   make(map[string]map[string]context.CancelFunc),
		stopCh:     make(chan struct{}),
	}
}

// Run blocks, dequeuing and dispatching until Stop is called.
func (w *Worker) Run() {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		pools := w.poolsWithSpareCapacity()
		if len(pools) == 0 {
			time.Sleep(noCapacitySleep)
			continue
		}

		entry, err := w.q.DequeueAny(context.Background(), pools, dequeueTimeout)
		if err != nil {
			w.log.Error("dequeue failed: %v", err)
			continue
		}
		if entry == nil {
			continue
		}

		w.dispatch(*entry)
	}
}

// Stop signals the loop to stop dequeuing and waits up to
// cfg.ShutdownDeadline for in-flight scans to drain.
func (w *Worker) Stop() {
	close(w.stopCh)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.cfg.ShutdownDeadline):
		w.log.Warn("shutdown deadline reached with scans still in flight")
	}
}

func (w *Worker) poolsWithSpareCapacity() []string {
	var pools []string
	candidates := w.cfg.Pools
	if len(candidates) == 0 {
		candidates = w.reg.Pools()
	}
	for _, p := range candidates {
		if w.reg.GetPoolActive(p) < w.reg.GetPoolCapacity(p) {
			pools = append(pools, p)
		}
	}
	return pools
}

func (w *Worker) dispatch(entry queue.Entry) {
	ctx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	if w.inFlight[entry.ScannerPool] == nil {
		w.inFlight[entry.ScannerPool] = make(map[string]context.CancelFunc)
	}
	w.inFlight[entry.ScannerPool][entry.TaskID] = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inFlight[entry.ScannerPool], entry.TaskID)
			w.mu.Unlock()
			cancel()
		}()
		w.processScan(ctx, entry)
	}()
}

// processScan is `_process_scan`: load, acquire, run the full lifecycle,
// always releasing the instance and closing the adapter.
func (w *Worker) processScan(ctx context.Context, entry queue.Entry) {
	t, err := w.store.Get(entry.TaskID)
	if err != nil {
		w.log.Error("task %s missing from store, moving to DLQ: %v", entry.TaskID, err)
		_ = w.q.MoveToDLQ(ctx, entry.ScannerPool, entry, err.Error())
		return
	}

	instanceID, ok := w.reg.AcquireAvailable(entry.ScannerPool, entry.ScannerInstanceID)
	if !ok {
		if _, err := w.q.Enqueue(ctx, entry.ScannerPool, entry); err != nil {
			w.log.Error("requeue of task %s failed: %v", entry.TaskID, err)
		}
		return
	}
	defer w.reg.Release(instanceID)

	instCfg, _ := w.reg.InstanceConfig(instanceID)
	adapter := w.newAdapter(instCfg)
	defer adapter.Close()

	scanCtx, cancelScan := context.WithTimeout(ctx, w.cfg.ScanCeiling)
	defer cancelScan()

	running := task.StatusRunning
	if _, err := w.store.Update(t.TaskID, task.Update{Status: &running, ScannerInstanceID: &instanceID}, time.Now()); err != nil {
		w.failOrDLQ(ctx, entry, err)
		return
	}

	if err := w.runLifecycle(scanCtx, t, entry, instanceID, adapter); err != nil {
		w.failOrDLQ(ctx, entry, err)
	}
}

func (w *Worker) runLifecycle(ctx context.Context, t *task.Task, entry queue.Entry, instanceID string, adapter scanner.Adapter) error {
	exec := func(fn func(context.Context) error) error {
		return w.breakers.Execute(ctx, instanceID, fn)
	}

	if err := exec(adapter.Authenticate); err != nil {
		return err
	}

	var scanID string
	if err := exec(func(ctx context.Context) error {
		id, err := adapter.CreateScan(ctx, scanner.CreateRequest{
			Targets:               t.Payload.Targets,
			Name:                  t.Payload.Name,
			Description:           t.Payload.Description,
			ScanType:              t.ScanType,
			SSHUsername:           t.Payload.SSHUsername,
			SSHPassword:           t.Payload.SSHPassword,
			ElevatePrivilegesWith: t.Payload.ElevatePrivilegesWith,
			EscalationAccount:     t.Payload.EscalationAccount,
			EscalationPassword:    t.Payload.EscalationPassword,
		})
		scanID = id
		return err
	}); err != nil {
		return err
	}

	nessusScanID := scanID
	if _, err := w.store.Update(t.TaskID, task.Update{Status: statusPtr(task.StatusRunning), NessusScanID: &nessusScanID}, time.Now()); err != nil {
		return err
	}

	if err := exec(func(ctx context.Context) error {
		_, err := adapter.LaunchScan(ctx, scanID)
		return err
	}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.breakers.Execute(context.Background(), instanceID, func(ctx context.Context) error {
				_, err := adapter.StopScan(ctx, scanID)
				return err
			})
			msg := "exceeded the scan ceiling"
			updated, _ := w.store.Update(t.TaskID, task.Update{Status: statusPtr(task.StatusTimeout), ErrorMessage: &msg}, time.Now())
			recordTerminal(updated)
			return nil
		case <-time.After(pollInterval):
		}

		var remote scanner.RemoteStatus
		if err := exec(func(ctx context.Context) error {
			s, err := adapter.GetStatus(ctx, scanID)
			remote = s
			return err
		}); err != nil {
			return err
		}

		progress := remote.Progress
		if _, err := w.store.Update(t.TaskID, task.Update{Status: statusPtr(task.StatusRunning), Progress: &progress}, time.Now()); err != nil {
			return err
		}

		switch remote.Status {
		case "completed":
			return w.finishCompleted(ctx, t, instanceID, scanID, adapter)
		case "failed":
			errMsg := "scanner reported failure"
			updated, err := w.store.Update(t.TaskID, task.Update{Status: statusPtr(task.StatusFailed), ErrorMessage: &errMsg}, time.Now())
			recordTerminal(updated)
			return err
		}
	}
}

func (w *Worker) finishCompleted(ctx context.Context, t *task.Task, instanceID string, scanID string, adapter scanner.Adapter) error {
	var data []byte
	if err := w.breakers.Execute(ctx, instanceID, func(ctx context.Context) error {
		b, err := adapter.ExportResults(ctx, scanID)
		data = b
		return err
	}); err != nil {
		return err
	}

	path, err := w.store.NessusFilePath(t.TaskID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperr.WrapStorageError(err, "writing scan_native.nessus")
	}

	res, err := validator.Validate(bytes.NewReader(data), t.ScanType, w.plugins)
	if err != nil {
		return err
	}
	if res.AuthenticationStatus == task.AuthStatusFailed {
		metrics.RecordAuthFailure(t.ScannerPool, string(t.ScanType))
	}
	metrics.RecordValidation(t.ScannerPool, string(res.AuthenticationStatus))

	completed := task.StatusCompleted
	authStatus := res.AuthenticationStatus
	updated, err := w.store.Update(t.TaskID, task.Update{
		Status:               &completed,
		ValidationStats:       &res.Stats,
		ValidationWarnings:    res.Warnings,
		AuthenticationStatus:  &authStatus,
	}, time.Now())
	recordTerminal(updated)
	for _, warning := range res.Warnings {
		metrics.RecordValidationFailure(t.ScannerPool, warning)
	}
	return err
}

func (w *Worker) failOrDLQ(ctx context.Context, entry queue.Entry, cause error) {
	w.log.Error("task %s failed: %v", entry.TaskID, cause)
	errMsg := cause.Error()
	failed := task.StatusFailed
	t, err := w.store.Get(entry.TaskID)
	if err == nil && !t.Status.IsTerminal() {
		updated, _ := w.store.Update(entry.TaskID, task.Update{Status: &failed, ErrorMessage: &errMsg}, time.Now())
		recordTerminal(updated)
	}
	if dlqErr := w.q.MoveToDLQ(ctx, entry.ScannerPool, entry, errMsg); dlqErr != nil {
		w.log.Error("failed to move task %s to DLQ: %v", entry.TaskID, dlqErr)
	}
}

func statusPtr(s task.Status) *task.Status { return &s }

// recordTerminal reports scans_total/task_duration_seconds for a task that
// just reached a terminal status. Safe to call with a nil task (a failed
// store.Update that could not load the record to report on).
func recordTerminal(t *task.Task) {
	if t == nil || !t.Status.IsTerminal() {
		return
	}
	var duration float64
	if t.StartedAt != nil && t.CompletedAt != nil {
		duration = t.CompletedAt.Sub(*t.StartedAt).Seconds()
	}
	metrics.RecordScanTerminal(string(t.ScanType), string(t.Status), duration)
}
