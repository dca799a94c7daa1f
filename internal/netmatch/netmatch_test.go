// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

package netmatch

import "testing"

func TestMatches(t *testing.T) {
	cases := []struct {
		stored, query string
		want          bool
	}{
		{"10.0.0.1", "10.0.0.1", true},
		{"10.0.0.1", "10.0.0.2", false},
		{"10.0.0.5", "10.0.0.0/24", true},
		{"10.0.0.0/24", "10.0.0.5", true},
		{"10.0.0.0/24", "10.0.0.0/25", true},
		{"10.0.0.0/25", "10.0.0.0/24", true},
		{"10.0.0.0/24", "10.1.0.0/24", false},
	}
	for _, c := range cases {
		if got := Matches(c.stored, c.query); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.stored, c.query, got, c.want)
		}
	}
}

func TestMatchesAny(t *testing.T) {
	if !MatchesAny("10.0.0.1,10.0.0.2", "10.0.0.2") {
		t.Errorf("expected match against comma-separated list")
	}
	if MatchesAny("10.0.0.1,10.0.0.2", "10.0.0.3") {
		t.Errorf("expected no match")
	}
}
