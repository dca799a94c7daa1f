// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package admitvalidate validates admission-time input: targets syntax,
// scan_type, and credential completeness. Generalized from the teacher's
// syntactic input validator (same length-limit/dangerous-character-blacklist
// style), applied to this domain's fields instead of image names.
package admitvalidate

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
	"github.com/eafonin/nessus-orchestrator/internal/task"
)

const (
	MaxTargetsLength = 4096
	MaxNameLength    = 256
	MaxPasswordLength = 512
)

// ValidateTargets accepts a single IP, a CIDR, or a comma-separated list of
// either, and rejects anything else, including empty input.
func ValidateTargets(targets string) error {
	if strings.TrimSpace(targets) == "" {
		return apperr.NewInvalidArgument("targets cannot be empty")
	}
	if len(targets) > MaxTargetsLength {
		return apperr.NewInvalidArgument(fmt.Sprintf("targets exceeds maximum length of %d characters", MaxTargetsLength))
	}
	for _, t := range strings.Split(targets, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			return apperr.NewInvalidArgument("targets contains an empty entry")
		}
		if strings.Contains(t, "/") {
			if _, err := netip.ParsePrefix(t); err != nil {
				return apperr.NewInvalidArgument("invalid CIDR in targets: " + t)
			}
			continue
		}
		if _, err := netip.ParseAddr(t); err != nil {
			return apperr.NewInvalidArgument("invalid IP in targets: " + t)
		}
	}
	return nil
}

// ValidateScanType ensures scanType is one of the three admitted variants.
func ValidateScanType(scanType task.ScanType) error {
	switch scanType {
	case task.ScanTypeUntrusted, task.ScanTypeAuthenticated, task.ScanTypeAuthenticatedPrivileged:
		return nil
	default:
		return apperr.NewInvalidArgument("invalid scan_type: " + string(scanType))
	}
}

// ValidateName rejects empty or oversized display names.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.NewInvalidArgument("name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return apperr.NewInvalidArgument(fmt.Sprintf("name exceeds maximum length of %d characters", MaxNameLength))
	}
	return nil
}

// ValidateCredentials enforces completeness: both ssh_username and
// ssh_password must be present for authenticated variants, and
// elevate_privileges_with must be empty or one of the three accepted values.
func ValidateCredentials(scanType task.ScanType, p task.Payload) error {
	if scanType == task.ScanTypeUntrusted {
		return nil
	}
	if p.SSHUsername == "" || p.SSHPassword == "" {
		return apperr.NewInvalidArgument("authenticated scans require both ssh_username and ssh_password")
	}
	if len(p.SSHPassword) > MaxPasswordLength {
		return apperr.NewInvalidArgument(fmt.Sprintf("ssh_password exceeds maximum length of %d characters", MaxPasswordLength))
	}
	if strings.ContainsAny(p.SSHPassword, "\n\r\x00") {
		return apperr.NewInvalidArgument("ssh_password contains invalid characters")
	}
	switch p.ElevatePrivilegesWith {
	case "", task.EscalationNone, task.EscalationSudo, task.EscalationSu:
	default:
		return apperr.NewInvalidArgument("invalid elevate_privileges_with: " + string(p.ElevatePrivilegesWith))
	}
	return nil
}
