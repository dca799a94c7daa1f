// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package admission implements the submission contract (C8/§4.1): validate,
// dedupe, persist, enqueue. Generalized from the teacher's
// scanServiceImpl.CreateScanTask, which parses+validates the request, then
// writes the task record and pushes it onto the worker queue under one
// logical operation.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eafonin/nessus-orchestrator/internal/admitvalidate"
	"github.com/eafonin/nessus-orchestrator/internal/apperr"
	"github.com/eafonin/nessus-orchestrator/internal/idempotency"
	"github.com/eafonin/nessus-orchestrator/internal/queue"
	"github.com/eafonin/nessus-orchestrator/internal/registry"
	"github.com/eafonin/nessus-orchestrator/internal/task"
	"github.com/eafonin/nessus-orchestrator/internal/taskstore"
)

// Request is the union of both submission calls' parameters.
type Request struct {
	ScanType        task.ScanType
	Targets         string
	Name            string
	Description     string
	SchemaProfile   string
	IdempotencyKey  string
	ScannerPool     string
	ScannerInstance string

	SSHUsername           string
	SSHPassword           string
	ElevatePrivilegesWith task.EscalationMethod
	EscalationAccount     string
	EscalationPassword    string

	TraceID string
	BodyHash string
}

// Result is the admission response, §4.1 step 6.
type Result struct {
	TaskID               string `json:"task_id"`
	TraceID              string `json:"trace_id"`
	Status               string `json:"status"`
	ScannerPool          string `json:"scanner_pool"`
	QueuePosition        int64  `json:"queue_position,omitempty"`
	EstimatedWaitMinutes float64 `json:"estimated_wait_minutes,omitempty"`
	Idempotent           bool   `json:"idempotent,omitempty"`
}

// Service wires together validation, the idempotency store, the task
// store, and the queue manager behind the one admission operation.
type Service struct {
	reg   *registry.Registry
	store *taskstore.Store
	q     *queue.Manager
	idemp *idempotency.Store

	defaultPool string
}

func New(reg *registry.Registry, store *taskstore.Store, q *queue.Manager, idemp *idempotency.Store, defaultPool string) *Service {
	return &Service{reg: reg, store: store, q: q, idemp: idemp, defaultPool: defaultPool}
}

// Submit runs the full admission contract for either submission call; the
// caller distinguishes the two only by which fields of Request it populates
// and by ScanType.
func (s *Service) Submit(ctx context.Context, req Request) (*Result, error) {
	payload := task.Payload{
		Targets:               req.Targets,
		Name:                  req.Name,
		Description:           req.Description,
		SchemaProfile:         req.SchemaProfile,
		SSHUsername:           req.SSHUsername,
		SSHPassword:           req.SSHPassword,
		ElevatePrivilegesWith: req.ElevatePrivilegesWith,
		EscalationAccount:     req.EscalationAccount,
		EscalationPassword:    req.EscalationPassword,
	}

	if err := admitvalidate.ValidateTargets(req.Targets); err != nil {
		return nil, err
	}
	if err := admitvalidate.ValidateScanType(req.ScanType); err != nil {
		return nil, err
	}
	if err := admitvalidate.ValidateName(req.Name); err != nil {
		return nil, err
	}
	if err := admitvalidate.ValidateCredentials(req.ScanType, payload); err != nil {
		return nil, err
	}

	pool := req.ScannerPool
	if pool == "" {
		pool = s.defaultPool
	}
	if !s.reg.PoolExists(pool) {
		return nil, apperr.NewNotFound("scanner pool " + pool + " not found")
	}

	fingerprint, err := idempotency.Fingerprint(req.ScanType, payload, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existingID, found, err := s.idemp.Lookup(ctx, fingerprint); err != nil {
		return nil, err
	} else if found {
		existing, err := s.store.Get(existingID)
		status := "queued"
		if err == nil {
			status = string(existing.Status)
		}
		return &Result{TaskID: existingID, TraceID: req.TraceID, Status: status, ScannerPool: pool, Idempotent: true}, nil
	}
	if err := s.idemp.CheckBodyConflict(ctx, req.IdempotencyKey, req.BodyHash); err != nil {
		return nil, err
	}

	taskID := fmt.Sprintf("%s-%s", pool, uuid.NewString())
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	now := time.Now()
	t := task.New(taskID, traceID, req.ScanType, pool, payload, now)
	t.ScannerInstanceID = req.ScannerInstance
	if err := s.store.Create(t); err != nil {
		return nil, err
	}

	entry := queue.Entry{
		TaskID:            taskID,
		TraceID:           traceID,
		ScannerPool:       pool,
		ScannerInstanceID: req.ScannerInstance,
		ScanType:          req.ScanType,
		Payload:           payload,
	}
	depth, err := s.q.Enqueue(ctx, pool, entry)
	if err != nil {
		return nil, err
	}

	if err := s.idemp.Store(ctx, fingerprint, taskID, req.IdempotencyKey, req.BodyHash); err != nil {
		return nil, err
	}

	return &Result{
		TaskID:        taskID,
		TraceID:       traceID,
		Status:        "queued",
		ScannerPool:   pool,
		QueuePosition: depth,
	}, nil
}
