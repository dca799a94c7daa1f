// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package idempotency

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
	"github.com/eafonin/nessus-orchestrator/internal/kv"
	"github.com/eafonin/nessus-orchestrator/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	return New(kv.New(mr.Addr(), "", 0), 0)
}

func TestLookup_ReplaySameTupleFindsPriorTask(t *testing.T) {
	s := newTestStore(t)
	fp, err := Fingerprint(task.ScanTypeUntrusted, task.Payload{Targets: "10.0.0.1", Name: "t1"}, "")
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if err := s.Store(context.Background(), fp, "task-1", "", ""); err != nil {
		t.Fatalf("Store: %v", err)
	}
	id, found, err := s.Lookup(context.Background(), fp)
	if err != nil || !found || id != "task-1" {
		t.Fatalf("expected replay hit task-1, got id=%q found=%v err=%v", id, found, err)
	}
}

func TestCheckBodyConflict_SameKeySameBodyIsNotConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	hash := BodyHash([]byte(`{"targets":"10.0.0.1"}`))
	if err := s.Store(ctx, "fp1", "task-1", "k1", hash); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.CheckBodyConflict(ctx, "k1", hash); err != nil {
		t.Errorf("expected no conflict for identical body, got %v", err)
	}
}

func TestCheckBodyConflict_SameKeyDifferentBodyIsConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Store(ctx, "fp1", "task-1", "k1", BodyHash([]byte(`{"targets":"10.0.0.1"}`))); err != nil {
		t.Fatalf("Store: %v", err)
	}
	err := s.CheckBodyConflict(ctx, "k1", BodyHash([]byte(`{"targets":"10.0.0.2"}`)))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestCheckBodyConflict_NoExplicitKeyIsNeverConflict(t *testing.T) {
	s := newTestStore(t)
	if err := s.CheckBodyConflict(context.Background(), "", BodyHash([]byte(`anything`))); err != nil {
		t.Errorf("expected no conflict without an explicit idempotency_key, got %v", err)
	}
}
