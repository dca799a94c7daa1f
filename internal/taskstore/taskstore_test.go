// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package taskstore

import (
	"testing"
	"time"

	"github.com/eafonin/nessus-orchestrator/internal/task"
)

func TestCreateGetUpdate(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	now := time.Now()

	tk := task.New("nessus-001-20260101-abcd", "trace-1", task.ScanTypeUntrusted, "nessus", task.Payload{Targets: "10.0.0.1", Name: "t1"}, now)
	if err := s.Create(tk); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(tk.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusQueued {
		t.Errorf("expected QUEUED, got %s", got.Status)
	}

	running := task.StatusRunning
	instance := "inst-1"
	updated, err := s.Update(tk.TaskID, task.Update{Status: &running, ScannerInstanceID: &instance}, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != task.StatusRunning || updated.ScannerInstanceID != "inst-1" {
		t.Errorf("unexpected updated task: %+v", updated)
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	now := time.Now()
	tk := task.New("nessus-002-20260101-efgh", "trace-2", task.ScanTypeUntrusted, "nessus", task.Payload{Targets: "10.0.0.2"}, now)

	if err := s.Create(tk); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if err := s.Create(tk); err == nil {
		t.Fatalf("expected second Create of same task id to fail")
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Get("does-not-exist"); err == nil {
		t.Fatalf("expected error for missing task")
	}
}
