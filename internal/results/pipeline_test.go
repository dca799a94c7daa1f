// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package results

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
)

func buildSample() string {
	var b strings.Builder
	b.WriteString(`<NessusClientData_v2><Report><ReportHost name="10.0.0.1">`)
	for i := 0; i < 60; i++ {
		b.WriteString(`<ReportItem pluginID="1" severity="0"></ReportItem>`)
	}
	for i := 0; i < 2; i++ {
		b.WriteString(`<ReportItem pluginID="2" severity="1"></ReportItem>`)
	}
	for i := 0; i < 2; i++ {
		b.WriteString(`<ReportItem pluginID="3" severity="2"></ReportItem>`)
	}
	b.WriteString(`<ReportItem pluginID="4" severity="3"></ReportItem>`)
	b.WriteString(`</ReportHost></Report></NessusClientData_v2>`)
	return b.String()
}

func opener(content string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(content)), nil
	}
}

func decodeLines(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad JSON line: %v (%s)", err, sc.Text())
		}
		lines = append(lines, m)
	}
	return lines
}

func TestGenerate_FilterHighSeverityPageZero(t *testing.T) {
	content := buildSample()
	var buf bytes.Buffer
	req := Request{Page: 0, SchemaProfile: "brief", Filters: map[string]string{"severity": ">=3"}}
	if err := Generate(opener(content), req, Metadata{TaskID: "t1"}, &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	lines := decodeLines(t, buf.Bytes())

	var vulnLines int
	for _, l := range lines {
		if l["type"] == "pagination" {
			t.Fatalf("did not expect pagination trailer for page=0")
		}
		if l["type"] == "vulnerability" {
			vulnLines++
			if l["severity"].(float64) != 3 {
				t.Errorf("expected severity 3, got %v", l["severity"])
			}
		}
	}
	if vulnLines != 1 {
		t.Errorf("expected exactly one vulnerability line, got %d", vulnLines)
	}
}

func TestGenerate_PaginationTrailer(t *testing.T) {
	content := buildSample() // 65 findings total -> 2 pages at page_size=40
	var buf bytes.Buffer
	req := Request{Page: 1, PageSize: 40, SchemaProfile: "brief"}
	if err := Generate(opener(content), req, Metadata{TaskID: "t1"}, &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	lines := decodeLines(t, buf.Bytes())
	last := lines[len(lines)-1]
	if last["type"] != "pagination" {
		t.Fatalf("expected last line to be pagination, got %v", last["type"])
	}
	if last["next_page"] != float64(2) {
		t.Errorf("expected next_page 2 on page 1 of 2, got %v", last["next_page"])
	}

	buf.Reset()
	req2 := Request{Page: 2, PageSize: 40, SchemaProfile: "brief"}
	if err := Generate(opener(content), req2, Metadata{TaskID: "t1"}, &buf); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	lines2 := decodeLines(t, buf.Bytes())
	last2 := lines2[len(lines2)-1]
	if last2["next_page"] != nil {
		t.Errorf("expected next_page nil on the final page, got %v", last2["next_page"])
	}
}
