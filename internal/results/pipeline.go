// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package results implements the get_results pipeline: schema projection,
// AND-combined filtering, and JSON-Lines pagination over a streamed
// .nessus export, with memory bounded by page size rather than total
// findings (§4.11, P7).
package results

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/eafonin/nessus-orchestrator/internal/nessusxml"
)

var profileFields = map[string][]string{
	"minimal": {"host", "plugin_id", "severity"},
	"summary": {"host", "plugin_id", "severity", "plugin_name", "port"},
	"brief":   {"host", "plugin_id", "severity", "plugin_name", "port", "cvss_score", "cve", "synopsis"},
	"full":    {"host", "plugin_id", "severity", "plugin_name", "port", "cvss_score", "cve", "synopsis", "description", "solution", "see_also"},
}

// Request is the full set of get_results parameters.
type Request struct {
	Page         int // 0 means "all, no pagination"
	PageSize     int // clamped to [10, 100] by the caller before reaching here
	SchemaProfile string
	CustomFields []string
	Filters      map[string]string
}

// Metadata is the scan_metadata line's content, supplied by the caller
// (the task store / validator), not derived from the export file.
type Metadata struct {
	TaskID      string      `json:"task_id"`
	Name        string      `json:"name"`
	StartedAt   interface{} `json:"started_at"`
	CompletedAt interface{} `json:"completed_at"`
	Targets     string      `json:"targets"`
	Summary     interface{} `json:"summary,omitempty"`
}

// fields returns the effective projection: custom_fields wins outright;
// otherwise the named profile's field set.
func (r Request) fields() []string {
	if len(r.CustomFields) > 0 {
		return r.CustomFields
	}
	if fs, ok := profileFields[r.SchemaProfile]; ok {
		return fs
	}
	return profileFields["brief"]
}

// Generate streams matching findings from open() (called twice -- once to
// count, once to emit -- so resident memory never exceeds one
// finding plus one page buffer) and writes the JSON-Lines output to w.
func Generate(open func() (io.ReadCloser, error), req Request, meta Metadata, w io.Writer) error {
	fields := req.fields()

	total, err := countMatches(open, req.Filters)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)

	if err := enc.Encode(map[string]interface{}{
		"type":                  "schema",
		"profile":               req.SchemaProfile,
		"fields":                fields,
		"filters_applied":       req.Filters,
		"total_vulnerabilities": total,
	}); err != nil {
		return err
	}

	meta2 := map[string]interface{}{
		"type":         "scan_metadata",
		"task_id":      meta.TaskID,
		"name":         meta.Name,
		"started_at":   meta.StartedAt,
		"completed_at": meta.CompletedAt,
		"targets":      meta.Targets,
	}
	if meta.Summary != nil {
		meta2["summary"] = meta.Summary
	}
	if err := enc.Encode(meta2); err != nil {
		return err
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 40
	}
	var offset, limit int
	paginate := req.Page != 0
	if paginate {
		offset = (req.Page - 1) * pageSize
		limit = pageSize
	}

	rc, err := open()
	if err != nil {
		return err
	}
	defer rc.Close()

	matched := 0
	emitted := 0
	streamErr := nessusxml.Stream(rc, nessusxml.Handler{
		OnFinding: func(f nessusxml.Finding) {
			if !matchesFilters(f, req.Filters) {
				return
			}
			idx := matched
			matched++
			if paginate && (idx < offset || emitted >= limit) {
				return
			}
			emitted++
			_ = enc.Encode(project(f, fields))
		},
	})
	if streamErr != nil {
		return streamErr
	}

	if paginate {
		totalPages := (total + pageSize - 1) / pageSize
		var nextPage interface{}
		if req.Page < totalPages {
			nextPage = req.Page + 1
		}
		if err := enc.Encode(map[string]interface{}{
			"type":       "pagination",
			"page":       req.Page,
			"page_size":  pageSize,
			"total_pages": totalPages,
			"next_page":  nextPage,
		}); err != nil {
			return err
		}
	}

	return nil
}

func countMatches(open func() (io.ReadCloser, error), filters map[string]string) (int, error) {
	rc, err := open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	count := 0
	err = nessusxml.Stream(rc, nessusxml.Handler{
		OnFinding: func(f nessusxml.Finding) {
			if matchesFilters(f, filters) {
				count++
			}
		},
	})
	return count, err
}

func project(f nessusxml.Finding, fields []string) map[string]interface{} {
	out := map[string]interface{}{"type": "vulnerability"}
	for _, field := range fields {
		switch field {
		case "host":
			out["host"] = f.Host
		case "plugin_id":
			out["plugin_id"] = f.PluginID
		case "severity":
			out["severity"] = f.Severity
		case "plugin_name":
			out["plugin_name"] = f.PluginName
		case "port":
			out["port"] = f.Port
		case "cvss_score":
			out["cvss_score"] = f.CVSSScore
		case "cve":
			out["cve"] = f.CVE
		case "synopsis":
			out["synopsis"] = f.Synopsis
		case "description":
			out["description"] = f.Description
		case "solution":
			out["solution"] = f.Solution
		case "see_also":
			out["see_also"] = f.SeeAlso
		}
	}
	return out
}

// matchesFilters applies the AND-combined filter language of §4.11.
// Unknown field names produce an empty match set (false), never an error.
func matchesFilters(f nessusxml.Finding, filters map[string]string) bool {
	for field, raw := range filters {
		if !matchesOne(f, field, raw) {
			return false
		}
	}
	return true
}

func matchesOne(f nessusxml.Finding, field, raw string) bool {
	switch field {
	case "host":
		return containsFold(f.Host, raw)
	case "plugin_id":
		return containsFold(f.PluginID, raw)
	case "plugin_name":
		return containsFold(f.PluginName, raw)
	case "port":
		return containsFold(f.Port, raw)
	case "synopsis":
		return containsFold(f.Synopsis, raw)
	case "description":
		return containsFold(f.Description, raw)
	case "solution":
		return containsFold(f.Solution, raw)
	case "see_also":
		return containsFold(f.SeeAlso, raw)
	case "cve":
		for _, c := range f.CVE {
			if containsFold(c, raw) {
				return true
			}
		}
		return false
	case "severity":
		return matchesNumeric(float64(f.Severity), raw)
	case "cvss_score":
		return matchesNumeric(f.CVSSScore, raw)
	default:
		return false
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func matchesNumeric(value float64, raw string) bool {
	raw = strings.TrimSpace(raw)
	for _, op := range []string{">=", "<=", ">", "<", "="} {
		if strings.HasPrefix(raw, op) {
			n, err := strconv.ParseFloat(strings.TrimSpace(raw[len(op):]), 64)
			if err != nil {
				return false
			}
			switch op {
			case ">=":
				return value >= n
			case "<=":
				return value <= n
			case ">":
				return value > n
			case "<":
				return value < n
			case "=":
				return value == n
			}
		}
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false
	}
	return value == n
}
