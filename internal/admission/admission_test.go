// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package admission

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
	"github.com/eafonin/nessus-orchestrator/internal/idempotency"
	"github.com/eafonin/nessus-orchestrator/internal/kv"
	"github.com/eafonin/nessus-orchestrator/internal/queue"
	"github.com/eafonin/nessus-orchestrator/internal/registry"
	"github.com/eafonin/nessus-orchestrator/internal/task"
	"github.com/eafonin/nessus-orchestrator/internal/taskstore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	c := kv.New(mr.Addr(), "", 0)
	reg := registry.New(registry.Config{
		"nessus": {{InstanceID: "i1", Enabled: true, MaxConcurrentScans: 1}},
	})
	return New(reg, taskstore.New(t.TempDir()), queue.New(c), idempotency.New(c, 0), "nessus")
}

func TestSubmit_HappyPath(t *testing.T) {
	s := newTestService(t)
	res, err := s.Submit(context.Background(), Request{
		ScanType: task.ScanTypeUntrusted,
		Targets:  "10.0.0.1",
		Name:     "t1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Status != "queued" || res.QueuePosition < 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestSubmit_InvalidTargetsRejected(t *testing.T) {
	s := newTestService(t)
	_, err := s.Submit(context.Background(), Request{ScanType: task.ScanTypeUntrusted, Targets: "", Name: "t1"})
	if !apperr.Is(err, apperr.KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestSubmit_UnknownPoolRejected(t *testing.T) {
	s := newTestService(t)
	_, err := s.Submit(context.Background(), Request{ScanType: task.ScanTypeUntrusted, Targets: "10.0.0.1", Name: "t1", ScannerPool: "ghost"})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSubmit_IdempotentResubmission(t *testing.T) {
	s := newTestService(t)
	req := Request{ScanType: task.ScanTypeUntrusted, Targets: "10.0.0.1", Name: "t1", IdempotencyKey: "k1"}
	first, err := s.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := s.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if !second.Idempotent || second.TaskID != first.TaskID {
		t.Errorf("expected idempotent replay of task %s, got %+v", first.TaskID, second)
	}
}

func TestSubmit_ConflictingBodyUnderSameKeyRejected(t *testing.T) {
	s := newTestService(t)
	first := Request{
		ScanType:       task.ScanTypeUntrusted,
		Targets:        "10.0.0.1",
		Name:           "t1",
		IdempotencyKey: "k1",
		BodyHash:       idempotency.BodyHash([]byte(`{"targets":"10.0.0.1","name":"t1"}`)),
	}
	if _, err := s.Submit(context.Background(), first); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	second := Request{
		ScanType:       task.ScanTypeUntrusted,
		Targets:        "10.0.0.2", // different body under the same explicit key
		Name:           "t1",
		IdempotencyKey: "k1",
		BodyHash:       idempotency.BodyHash([]byte(`{"targets":"10.0.0.2","name":"t1"}`)),
	}
	_, err := s.Submit(context.Background(), second)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}
