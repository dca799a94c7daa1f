// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package task

import (
	"testing"
	"time"
)

func statusPtr(s Status) *Status { return &s }

func TestApply_LegalTransitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tk := New("t1", "tr1", ScanTypeUntrusted, "nessus", Payload{Targets: "10.0.0.1"}, now)

	if err := Apply(tk, Update{Status: statusPtr(StatusRunning)}, now.Add(time.Second)); err != nil {
		t.Fatalf("QUEUED -> RUNNING should be legal: %v", err)
	}
	if tk.StartedAt == nil {
		t.Fatalf("expected started_at to be set")
	}

	later := now.Add(time.Hour)
	if err := Apply(tk, Update{Status: statusPtr(StatusRunning), Progress: intPtr(50)}, later); err != nil {
		t.Fatalf("RUNNING -> RUNNING should be legal: %v", err)
	}
	if *tk.Progress != 50 {
		t.Errorf("expected progress 50, got %d", *tk.Progress)
	}

	if err := Apply(tk, Update{Status: statusPtr(StatusCompleted)}, later.Add(time.Second)); err != nil {
		t.Fatalf("RUNNING -> COMPLETED should be legal: %v", err)
	}
	if tk.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}
}

func TestApply_IllegalTransition(t *testing.T) {
	now := time.Now()
	tk := New("t2", "tr2", ScanTypeUntrusted, "nessus", Payload{Targets: "10.0.0.1"}, now)

	if err := Apply(tk, Update{Status: statusPtr(StatusCompleted)}, now); err == nil {
		t.Fatalf("expected QUEUED -> COMPLETED to fail")
	}
}

func TestApply_TerminalIsFinal(t *testing.T) {
	now := time.Now()
	tk := New("t3", "tr3", ScanTypeUntrusted, "nessus", Payload{Targets: "10.0.0.1"}, now)
	_ = Apply(tk, Update{Status: statusPtr(StatusRunning)}, now)
	_ = Apply(tk, Update{Status: statusPtr(StatusFailed)}, now)

	if err := Apply(tk, Update{Status: statusPtr(StatusRunning)}, now); err == nil {
		t.Fatalf("expected transition out of terminal state to fail")
	}
	if err := Apply(tk, Update{Progress: intPtr(10)}, now); err == nil {
		t.Fatalf("expected metadata-only mutation of terminal task to fail")
	}
}

func intPtr(i int) *int { return &i }
