// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package validator

import (
	"strings"
	"testing"

	"github.com/eafonin/nessus-orchestrator/internal/task"
)

const sampleNessus = `<NessusClientData_v2>
  <Report>
    <ReportHost name="10.0.0.1">
      <ReportItem pluginID="19506" pluginName="Nessus Scan Information" port="0" severity="0">
        <description>info</description>
      </ReportItem>
      <ReportItem pluginID="10000" pluginName="Sample high" port="443" severity="3">
        <cvss_base_score>7.5</cvss_base_score>
        <cve>CVE-2024-0001</cve>
        <synopsis>A high severity finding</synopsis>
      </ReportItem>
    </ReportHost>
  </Report>
</NessusClientData_v2>`

func TestValidateUntrusted(t *testing.T) {
	res, err := Validate(strings.NewReader(sampleNessus), task.ScanTypeUntrusted, PluginTable{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Stats.HostsScanned != 1 {
		t.Errorf("expected 1 host, got %d", res.Stats.HostsScanned)
	}
	if res.Stats.High != 1 || res.Stats.Info != 1 {
		t.Errorf("unexpected severity counts: %+v", res.Stats)
	}
	if res.AuthenticationStatus != task.AuthStatusNotApplicable {
		t.Errorf("expected not_applicable for untrusted scan, got %s", res.AuthenticationStatus)
	}
}

func TestValidateAuthenticatedSuccess(t *testing.T) {
	plugins := PluginTable{SuccessPluginIDs: []string{"19506"}}
	res, err := Validate(strings.NewReader(sampleNessus), task.ScanTypeAuthenticated, plugins)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.AuthenticationStatus != task.AuthStatusSuccess {
		t.Errorf("expected success, got %s", res.AuthenticationStatus)
	}
}

func TestValidateAuthenticatedFailure(t *testing.T) {
	res, err := Validate(strings.NewReader(sampleNessus), task.ScanTypeAuthenticated, PluginTable{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.AuthenticationStatus != task.AuthStatusFailed {
		t.Errorf("expected failed, got %s", res.AuthenticationStatus)
	}
	found := false
	for _, w := range res.Warnings {
		if w == "auth_failed" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected auth_failed warning, got %v", res.Warnings)
	}
}

func TestValidateEmptyScan(t *testing.T) {
	res, err := Validate(strings.NewReader(`<NessusClientData_v2><Report></Report></NessusClientData_v2>`), task.ScanTypeUntrusted, PluginTable{})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	found := false
	for _, w := range res.Warnings {
		if w == "empty_scan" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected empty_scan warning, got %v", res.Warnings)
	}
}
