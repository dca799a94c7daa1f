// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/eafonin/nessus-orchestrator/internal/kv"
	"github.com/eafonin/nessus-orchestrator/internal/task"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	return New(kv.New(mr.Addr(), "", 0))
}

func TestEnqueueDequeue(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	entry := Entry{TaskID: "t1", ScannerPool: "nessus", ScanType: task.ScanTypeUntrusted, Payload: task.Payload{Targets: "10.0.0.1"}}
	depth, err := m.Enqueue(ctx, "nessus", entry)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if depth != 1 {
		t.Errorf("expected depth 1, got %d", depth)
	}

	got, err := m.Dequeue(ctx, "nessus", time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got == nil || got.TaskID != "t1" {
		t.Fatalf("unexpected dequeue result: %+v", got)
	}
}

func TestDequeueAnyRespectsPoolIsolation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Enqueue(ctx, "nessus_dmz", Entry{TaskID: "dmz-1", ScannerPool: "nessus_dmz"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := m.DequeueAny(ctx, []string{"nessus", "nessus_dmz"}, time.Second)
	if err != nil {
		t.Fatalf("DequeueAny: %v", err)
	}
	if got == nil || got.TaskID != "dmz-1" {
		t.Fatalf("expected to dequeue dmz-1, got %+v", got)
	}

	empty, err := m.DequeueAny(ctx, []string{"nessus", "nessus_dmz"}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueAny (empty): %v", err)
	}
	if empty != nil {
		t.Fatalf("expected no entry, got %+v", empty)
	}
}

func TestMoveToDLQAndRetry(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	entry := Entry{TaskID: "t2", ScannerPool: "nessus"}
	if err := m.MoveToDLQ(ctx, "nessus", entry, "scanner unreachable"); err != nil {
		t.Fatalf("MoveToDLQ: %v", err)
	}

	size, err := m.GetDLQSize(ctx, "nessus")
	if err != nil || size != 1 {
		t.Fatalf("expected DLQ size 1, got %d err=%v", size, err)
	}

	list, err := m.ListDLQ(ctx, "nessus", 10)
	if err != nil || len(list) != 1 || list[0].Error == "" {
		t.Fatalf("expected one DLQ entry with error set, got %+v err=%v", list, err)
	}

	if err := m.RetryDLQ(ctx, "nessus", "t2"); err != nil {
		t.Fatalf("RetryDLQ: %v", err)
	}
	depth, err := m.GetDepth(ctx, "nessus")
	if err != nil || depth != 1 {
		t.Fatalf("expected queue depth 1 after retry, got %d err=%v", depth, err)
	}
	dlqSize, err := m.GetDLQSize(ctx, "nessus")
	if err != nil || dlqSize != 0 {
		t.Fatalf("expected DLQ empty after retry, got %d err=%v", dlqSize, err)
	}
}
