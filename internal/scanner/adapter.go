// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package scanner defines the abstract scanner adapter and its concrete
// Nessus HTTP implementation.
package scanner

import (
	"context"

	"github.com/eafonin/nessus-orchestrator/internal/task"
)

// RemoteStatus is the worker-facing, vendor-agnostic view of a remote scan's
// progress, after mapping vendor states per §4.6.
type RemoteStatus struct {
	Status   string // one of "queued", "running", "completed", "failed"
	Progress int    // 0-100
	UUID     string
}

// CreateRequest carries everything create_scan needs to build an
// advanced-policy scan, including the optional SSH credential block for
// authenticated variants.
type CreateRequest struct {
	Targets               string
	Name                  string
	Description           string
	ScanType              task.ScanType
	SSHUsername           string
	SSHPassword           string
	ElevatePrivilegesWith task.EscalationMethod
	EscalationAccount     string
	EscalationPassword    string
}

// Adapter is the abstract interface the worker drives. Every method is
// async/cancellable via ctx and is expected to be wrapped by a circuit
// breaker at the call site (internal/breaker), not internally.
type Adapter interface {
	Authenticate(ctx context.Context) error
	CreateScan(ctx context.Context, req CreateRequest) (scanID string, err error)
	LaunchScan(ctx context.Context, scanID string) (scanUUID string, err error)
	GetStatus(ctx context.Context, scanID string) (RemoteStatus, error)
	ExportResults(ctx context.Context, scanID string) ([]byte, error)
	StopScan(ctx context.Context, scanID string) (bool, error)
	DeleteScan(ctx context.Context, scanID string) (bool, error)
	Close() error
}

// mapVendorStatus maps a raw Nessus scan status string to the worker's
// four-way vocabulary, per §4.6: paused -> running, canceled/stopped/aborted
// -> failed.
func mapVendorStatus(vendor string) string {
	switch vendor {
	case "pending":
		return "queued"
	case "running", "paused":
		return "running"
	case "completed":
		return "completed"
	case "canceled", "stopped", "aborted":
		return "failed"
	default:
		return "failed"
	}
}
