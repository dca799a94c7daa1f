// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/eafonin/nessus-orchestrator/internal/breaker"
	"github.com/eafonin/nessus-orchestrator/internal/kv"
	"github.com/eafonin/nessus-orchestrator/internal/obslog"
	"github.com/eafonin/nessus-orchestrator/internal/queue"
	"github.com/eafonin/nessus-orchestrator/internal/registry"
	"github.com/eafonin/nessus-orchestrator/internal/scanner"
	"github.com/eafonin/nessus-orchestrator/internal/task"
	"github.com/eafonin/nessus-orchestrator/internal/taskstore"
	"github.com/eafonin/nessus-orchestrator/internal/validator"
)

const sampleExport = `<NessusClientData_v2><Report><ReportHost name="10.0.0.1">
<ReportItem pluginID="1" severity="2"></ReportItem>
</ReportHost></Report></NessusClientData_v2>`

func TestProcessScan_UntrustedHappyPath(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	q := queue.New(kv.New(mr.Addr(), "", 0))
	store := taskstore.New(t.TempDir())
	reg := registry.New(registry.Config{
		"nessus": {{InstanceID: "i1", Enabled: true, MaxConcurrentScans: 1}},
	})
	breakers := breaker.NewRegistry(breaker.Config{})
	mockAdapter := scanner.NewMockAdapter()
	mockAdapter.Export = []byte(sampleExport)

	w := New(reg, q, store, breakers, func(registry.InstanceConfig) scanner.Adapter { return mockAdapter }, validator.PluginTable{}, Config{ScanCeiling: time.Minute}, obslog.New("test"))

	now := time.Now()
	tk := task.New("nessus-i1-20260101-0001", "trace-1", task.ScanTypeUntrusted, "nessus", task.Payload{Targets: "10.0.0.1", Name: "t1"}, now)
	if err := store.Create(tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	entry := queue.Entry{TaskID: tk.TaskID, ScannerPool: "nessus", ScanType: tk.ScanType, Payload: tk.Payload}

	w.processScan(context.Background(), entry)

	got, err := store.Get(tk.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (error_message=%q)", got.Status, got.ErrorMessage)
	}
	if got.NessusScanID == "" {
		t.Errorf("expected nessus_scan_id to be set")
	}
	if got.AuthenticationStatus != task.AuthStatusNotApplicable {
		t.Errorf("expected not_applicable for untrusted scan, got %s", got.AuthenticationStatus)
	}
	if reg.GetPoolActive("nessus") != 0 {
		t.Errorf("expected instance to be released after completion")
	}
}

func TestProcessScan_AdapterFailureMovesToDLQ(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	q := queue.New(kv.New(mr.Addr(), "", 0))
	store := taskstore.New(t.TempDir())
	reg := registry.New(registry.Config{
		"nessus": {{InstanceID: "i1", Enabled: true, MaxConcurrentScans: 1}},
	})
	breakers := breaker.NewRegistry(breaker.Config{})
	mockAdapter := scanner.NewMockAdapter()
	mockAdapter.FailWith = context.DeadlineExceeded

	w := New(reg, q, store, breakers, func(registry.InstanceConfig) scanner.Adapter { return mockAdapter }, validator.PluginTable{}, Config{ScanCeiling: time.Minute}, obslog.New("test"))

	now := time.Now()
	tk := task.New("nessus-i1-20260101-0002", "trace-2", task.ScanTypeUntrusted, "nessus", task.Payload{Targets: "10.0.0.1", Name: "t2"}, now)
	if err := store.Create(tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	entry := queue.Entry{TaskID: tk.TaskID, ScannerPool: "nessus", ScanType: tk.ScanType, Payload: tk.Payload}

	w.processScan(context.Background(), entry)

	got, err := store.Get(tk.TaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}

	size, err := q.GetDLQSize(context.Background(), "nessus")
	if err != nil || size != 1 {
		t.Fatalf("expected one DLQ entry, got %d err=%v", size, err)
	}
}
