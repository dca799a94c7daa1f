// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package task defines the Task record and its legal state transitions.
package task

import "time"

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimeout   Status = "TIMEOUT"
)

// IsTerminal reports whether s admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// ScanType is one of the three admission variants.
type ScanType string

const (
	ScanTypeUntrusted               ScanType = "untrusted"
	ScanTypeAuthenticated           ScanType = "authenticated"
	ScanTypeAuthenticatedPrivileged ScanType = "authenticated_privileged"
)

// EscalationMethod is the privilege-escalation mode for authenticated scans.
type EscalationMethod string

const (
	EscalationNone EscalationMethod = "Nothing"
	EscalationSudo EscalationMethod = "sudo"
	EscalationSu   EscalationMethod = "su"
)

// AuthenticationStatus is the validator's verdict on credential usage.
type AuthenticationStatus string

const (
	AuthStatusSuccess        AuthenticationStatus = "success"
	AuthStatusPartial        AuthenticationStatus = "partial"
	AuthStatusFailed         AuthenticationStatus = "failed"
	AuthStatusNotApplicable  AuthenticationStatus = "not_applicable"
)

// Payload carries the caller-supplied submission parameters.
type Payload struct {
	Targets               string           `json:"targets"`
	Name                  string           `json:"name"`
	Description           string           `json:"description,omitempty"`
	SchemaProfile         string           `json:"schema_profile,omitempty"`
	SSHUsername           string           `json:"ssh_username,omitempty"`
	SSHPassword           string           `json:"ssh_password,omitempty"`
	ElevatePrivilegesWith EscalationMethod `json:"elevate_privileges_with,omitempty"`
	EscalationAccount     string           `json:"escalation_account,omitempty"`
	EscalationPassword    string           `json:"escalation_password,omitempty"`
}

// ValidationStats holds the per-severity finding counts written by the validator.
type ValidationStats struct {
	HostsScanned         int `json:"hosts_scanned"`
	TotalVulnerabilities int `json:"total_vulnerabilities"`
	Critical             int `json:"critical"`
	High                 int `json:"high"`
	Medium               int `json:"medium"`
	Low                  int `json:"low"`
	Info                 int `json:"info"`
}

// Task is the central entity, persisted as a single JSON document inside a
// directory named by TaskID.
type Task struct {
	TaskID             string           `json:"task_id"`
	TraceID            string           `json:"trace_id"`
	ScanType           ScanType         `json:"scan_type"`
	ScannerPool        string           `json:"scanner_pool"`
	ScannerInstanceID  string           `json:"scanner_instance_id,omitempty"`
	ScannerType        string           `json:"scanner_type,omitempty"`
	Status             Status           `json:"status"`
	Progress           *int             `json:"progress,omitempty"`
	Payload            Payload          `json:"payload"`
	CreatedAt          time.Time        `json:"created_at"`
	StartedAt          *time.Time       `json:"started_at,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	NessusScanID       string           `json:"nessus_scan_id,omitempty"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	ValidationStats    *ValidationStats `json:"validation_stats,omitempty"`
	ValidationWarnings []string         `json:"validation_warnings,omitempty"`
	AuthenticationStatus AuthenticationStatus `json:"authentication_status,omitempty"`
}

// New constructs a freshly admitted task in QUEUED state.
func New(taskID, traceID string, scanType ScanType, pool string, payload Payload, now time.Time) *Task {
	return &Task{
		TaskID:      taskID,
		TraceID:     traceID,
		ScanType:    scanType,
		ScannerPool: pool,
		Status:      StatusQueued,
		Payload:     payload,
		CreatedAt:   now,
	}
}
