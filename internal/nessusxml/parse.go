// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package nessusxml streams a .nessus export (structurally XML, with hosts
// and findings as repeated sub-records) one finding at a time so downstream
// consumers -- the result pipeline and the validator -- never hold the
// whole document in memory. This is required to satisfy the pipeline's
// bounded-memory property: the file may contain an unbounded number of
// findings, but resident memory must track page size, not file size.
package nessusxml

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"
)

// Finding is one ReportItem, denormalized with its host name.
type Finding struct {
	Host        string   `xml:"-"`
	PluginID    string   `xml:"pluginID,attr"`
	PluginName  string   `xml:"pluginName,attr"`
	Port        string   `xml:"port,attr"`
	Severity    int      `xml:"severity,attr"`
	CVSSScore   float64  `xml:"-"`
	CVE         []string `xml:"cve"`
	Synopsis    string   `xml:"synopsis"`
	Description string   `xml:"description"`
	Solution    string   `xml:"solution"`
	SeeAlso     string   `xml:"see_also"`
	CVSSRaw     string   `xml:"cvss_base_score"`
}

type reportItemXML struct {
	PluginID    string   `xml:"pluginID,attr"`
	PluginName  string   `xml:"pluginName,attr"`
	Port        string   `xml:"port,attr"`
	Severity    string   `xml:"severity,attr"`
	CVE         []string `xml:"cve"`
	Synopsis    string   `xml:"synopsis"`
	Description string   `xml:"description"`
	Solution    string   `xml:"solution"`
	SeeAlso     string   `xml:"see_also"`
	CVSSRaw     string   `xml:"cvss_base_score"`
}

// Handler is invoked once per finding and once per host, in document order.
type Handler struct {
	OnHost    func(hostname string)
	OnFinding func(Finding)
}

// Stream walks the document with a token-based decoder, calling h.OnHost
// whenever a ReportHost element starts and h.OnFinding for every ReportItem
// inside it. It never materializes the whole tree.
func Stream(r io.Reader, h Handler) error {
	dec := xml.NewDecoder(r)
	var currentHost string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "ReportHost":
				currentHost = attrValue(t, "name")
				if h.OnHost != nil {
					h.OnHost(currentHost)
				}
			case "ReportItem":
				var item reportItemXML
				if err := dec.DecodeElement(&item, &t); err != nil {
					return err
				}
				if h.OnFinding != nil {
					h.OnFinding(toFinding(currentHost, item))
				}
			}
		}
	}
}

func attrValue(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func toFinding(host string, item reportItemXML) Finding {
	sev, _ := strconv.Atoi(item.Severity)
	cvss, _ := strconv.ParseFloat(strings.TrimSpace(item.CVSSRaw), 64)
	return Finding{
		Host:        host,
		PluginID:    item.PluginID,
		PluginName:  item.PluginName,
		Port:        item.Port,
		Severity:    sev,
		CVSSScore:   cvss,
		CVE:         item.CVE,
		Synopsis:    item.Synopsis,
		Description: item.Description,
		Solution:    item.Solution,
		SeeAlso:     item.SeeAlso,
		CVSSRaw:     item.CVSSRaw,
	}
}

// SeverityName maps the numeric 0-4 severity to its label.
func SeverityName(sev int) string {
	switch sev {
	case 4:
		return "critical"
	case 3:
		return "high"
	case 2:
		return "medium"
	case 1:
		return "low"
	default:
		return "info"
	}
}
