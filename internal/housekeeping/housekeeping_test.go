// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package housekeeping

import (
	"testing"
	"time"

	"github.com/eafonin/nessus-orchestrator/internal/obslog"
	"github.com/eafonin/nessus-orchestrator/internal/task"
	"github.com/eafonin/nessus-orchestrator/internal/taskstore"
)

func TestSweep_DeletesExpiredCompleted(t *testing.T) {
	store := taskstore.New(t.TempDir())
	now := time.Now()
	tk := task.New("task-1", "trace-1", task.ScanTypeUntrusted, "nessus", task.Payload{Targets: "10.0.0.1"}, now.Add(-8*24*time.Hour))
	if err := store.Create(tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	running := task.StatusRunning
	if _, err := store.Update(tk.TaskID, task.Update{Status: &running}, now.Add(-8*24*time.Hour)); err != nil {
		t.Fatalf("Update to RUNNING: %v", err)
	}
	completed := task.StatusCompleted
	if _, err := store.Update(tk.TaskID, task.Update{Status: &completed}, now.Add(-8*24*time.Hour)); err != nil {
		t.Fatalf("Update to COMPLETED: %v", err)
	}

	sw := New(store, nil, Config{CompletedTTL: 7 * 24 * time.Hour}, obslog.New("test"))
	sw.Sweep()

	if _, err := store.Get(tk.TaskID); err == nil {
		t.Errorf("expected expired task to be deleted")
	}
}

func TestSweep_KeepsFreshCompleted(t *testing.T) {
	store := taskstore.New(t.TempDir())
	now := time.Now()
	tk := task.New("task-2", "trace-2", task.ScanTypeUntrusted, "nessus", task.Payload{Targets: "10.0.0.1"}, now)
	if err := store.Create(tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	running := task.StatusRunning
	if _, err := store.Update(tk.TaskID, task.Update{Status: &running}, now); err != nil {
		t.Fatalf("Update to RUNNING: %v", err)
	}
	completed := task.StatusCompleted
	if _, err := store.Update(tk.TaskID, task.Update{Status: &completed}, now); err != nil {
		t.Fatalf("Update to COMPLETED: %v", err)
	}

	sw := New(store, nil, Config{CompletedTTL: 7 * 24 * time.Hour}, obslog.New("test"))
	sw.Sweep()

	if _, err := store.Get(tk.TaskID); err != nil {
		t.Errorf("expected fresh task to survive sweep: %v", err)
	}
}

func TestSweep_ReapsStaleRunning(t *testing.T) {
	store := taskstore.New(t.TempDir())
	old := time.Now().Add(-25 * time.Hour)
	tk := task.New("task-3", "trace-3", task.ScanTypeUntrusted, "nessus", task.Payload{Targets: "10.0.0.1"}, old)
	if err := store.Create(tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	running := task.StatusRunning
	if _, err := store.Update(tk.TaskID, task.Update{Status: &running}, old); err != nil {
		t.Fatalf("Update to RUNNING: %v", err)
	}

	sw := New(store, nil, Config{StaleRunningThreshold: 24 * time.Hour}, obslog.New("test"))
	sw.Sweep()

	got, err := store.Get(tk.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusTimeout {
		t.Errorf("expected stale RUNNING task to be reaped to TIMEOUT, got %s", got.Status)
	}
}

func TestRecoverInterrupted_MarksRunningAsFailed(t *testing.T) {
	store := taskstore.New(t.TempDir())
	now := time.Now()
	tk := task.New("task-4", "trace-4", task.ScanTypeUntrusted, "nessus", task.Payload{Targets: "10.0.0.1"}, now)
	if err := store.Create(tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	running := task.StatusRunning
	if _, err := store.Update(tk.TaskID, task.Update{Status: &running}, now); err != nil {
		t.Fatalf("Update to RUNNING: %v", err)
	}

	sw := New(store, nil, Config{}, obslog.New("test"))
	sw.RecoverInterrupted()

	got, err := store.Get(tk.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusFailed {
		t.Errorf("expected interrupted RUNNING task to be marked FAILED, got %s", got.Status)
	}
}
