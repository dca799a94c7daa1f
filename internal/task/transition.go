// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package task

import (
	"time"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
)

// legalTransitions mirrors the graph in the state-machine component: QUEUED
// may only move to RUNNING or FAILED; RUNNING may loop on itself (metadata
// updates) or move to any terminal state; terminal states admit nothing.
var legalTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusRunning:   true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimeout:   true,
	},
}

// Update describes a requested mutation of a Task. Nil fields mean "leave
// unchanged" (the static replacement for the source's dynamic kwarg copy).
type Update struct {
	Status               *Status
	ScannerInstanceID     *string
	NessusScanID          *string
	Progress              *int
	ErrorMessage          *string
	ValidationStats       *ValidationStats
	ValidationWarnings    []string
	AuthenticationStatus  *AuthenticationStatus
}

// Apply validates the transition implied by u.Status (if any) against t's
// current status and, if legal, mutates t in place. now is used to stamp
// started_at/completed_at; it must never backdate an already-set timestamp.
func Apply(t *Task, u Update, now time.Time) error {
	if t.Status.IsTerminal() {
		if u.Status != nil && *u.Status != t.Status {
			return apperr.NewStateTransition("task " + t.TaskID + " is terminal (" + string(t.Status) + "); cannot move to " + string(*u.Status))
		}
		if u.Status == nil {
			return apperr.NewStateTransition("task " + t.TaskID + " is terminal (" + string(t.Status) + "); no further mutation is permitted")
		}
	}

	if u.Status != nil {
		allowed := legalTransitions[t.Status]
		if !allowed[*u.Status] {
			return apperr.NewStateTransition("illegal transition " + string(t.Status) + " -> " + string(*u.Status))
		}
		if *u.Status == StatusRunning && t.StartedAt == nil {
			startedAt := now
			t.StartedAt = &startedAt
		}
		if Status(*u.Status).IsTerminal() {
			completedAt := now
			t.CompletedAt = &completedAt
		}
		t.Status = *u.Status
	}

	if u.ScannerInstanceID != nil {
		t.ScannerInstanceID = *u.ScannerInstanceID
	}
	if u.NessusScanID != nil {
		t.NessusScanID = *u.NessusScanID
	}
	if u.Progress != nil {
		t.Progress = u.Progress
	}
	if u.ErrorMessage != nil {
		t.ErrorMessage = *u.ErrorMessage
	}
	if u.ValidationStats != nil {
		t.ValidationStats = u.ValidationStats
	}
	if u.ValidationWarnings != nil {
		t.ValidationWarnings = u.ValidationWarnings
	}
	if u.AuthenticationStatus != nil {
		t.AuthenticationStatus = *u.AuthenticationStatus
	}

	return nil
}
