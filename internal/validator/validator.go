// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package validator computes per-scan statistics and the authentication
// outcome from an exported scan_native.nessus file.
package validator

import (
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eafonin/nessus-orchestrator/internal/apperr"
	"github.com/eafonin/nessus-orchestrator/internal/nessusxml"
	"github.com/eafonin/nessus-orchestrator/internal/task"
)

// PluginTable is the configuration-defined set of diagnostic plugin ids used
// to infer authentication success/failure for authenticated scans. Kept as
// a loaded file, never hard-coded, per the open design question in §9.
type PluginTable struct {
	SuccessPluginIDs []string `yaml:"success_plugin_ids"`
	FailurePluginIDs []string `yaml:"failure_plugin_ids"`
}

// LoadPluginTable reads the plugin-id table from a YAML file.
func LoadPluginTable(path string) (PluginTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PluginTable{}, apperr.WrapStorageError(err, "reading plugin table")
	}
	var t PluginTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return PluginTable{}, apperr.WrapInternal(err, "parsing plugin table")
	}
	return t, nil
}

// Result is what the validator writes back into task.json.
type Result struct {
	Stats                task.ValidationStats
	Warnings             []string
	AuthenticationStatus task.AuthenticationStatus
}

// Validate streams r (the exported .nessus content) and computes the
// result. scanType governs whether authentication_status is meaningful at
// all (untrusted scans are always not_applicable).
func Validate(r io.Reader, scanType task.ScanType, plugins PluginTable) (Result, error) {
	hosts := map[string]struct{}{}
	stats := task.ValidationStats{}
	var warnings []string

	seenSuccess := false
	seenFailure := false
	successSet := toSet(plugins.SuccessPluginIDs)
	failureSet := toSet(plugins.FailurePluginIDs)

	findingCount := 0
	err := nessusxml.Stream(r, nessusxml.Handler{
		OnHost: func(hostname string) {
			if hostname != "" {
				hosts[hostname] = struct{}{}
			}
		},
		OnFinding: func(f nessusxml.Finding) {
			findingCount++
			switch nessusxml.SeverityName(f.Severity) {
			case "critical":
				stats.Critical++
			case "high":
				stats.High++
			case "medium":
				stats.Medium++
			case "low":
				stats.Low++
			default:
				stats.Info++
			}
			if _, ok := successSet[f.PluginID]; ok {
				seenSuccess = true
			}
			if _, ok := failureSet[f.PluginID]; ok {
				seenFailure = true
			}
		},
	})
	if err != nil {
		warnings = append(warnings, "xml_invalid")
	}

	stats.HostsScanned = len(hosts)
	stats.TotalVulnerabilities = findingCount

	if findingCount == 0 && len(hosts) == 0 {
		warnings = append(warnings, "empty_scan")
	}

	authStatus := task.AuthStatusNotApplicable
	if scanType != task.ScanTypeUntrusted {
		switch {
		case seenSuccess && !seenFailure:
			authStatus = task.AuthStatusSuccess
		case seenSuccess && seenFailure:
			authStatus = task.AuthStatusPartial
		case seenFailure && !seenSuccess:
			authStatus = task.AuthStatusFailed
			warnings = append(warnings, "auth_failed")
		default:
			authStatus = task.AuthStatusFailed
			warnings = append(warnings, "auth_failed")
		}
	}

	return Result{Stats: stats, Warnings: warnings, AuthenticationStatus: authStatus}, nil
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
