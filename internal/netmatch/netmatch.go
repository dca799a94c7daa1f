// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package netmatch implements the CIDR-aware target filter used by
// list_tasks: a stored target matches a query if it equals it, is
// contained in it, contains it, or overlaps it, when either side is a
// network. Grounded on the standard library's net/netip since no example
// repository in the corpus implements CIDR containment/overlap matching;
// this single piece of domain math is a justified stdlib fallback.
package netmatch

import (
	"net/netip"
	"strings"
)

// Matches reports whether storedTarget (a single IP or CIDR, never a
// comma-separated list at this layer) matches query under the spec's
// combined equals/contains/overlaps rule.
func Matches(storedTarget, query string) bool {
	storedTarget = strings.TrimSpace(storedTarget)
	query = strings.TrimSpace(query)
	if storedTarget == "" || query == "" {
		return false
	}
	if storedTarget == query {
		return true
	}

	storedPrefix, storedIsNet := parsePrefix(storedTarget)
	queryPrefix, queryIsNet := parsePrefix(query)

	switch {
	case storedIsNet && queryIsNet:
		return prefixesOverlap(storedPrefix, queryPrefix)
	case storedIsNet && !queryIsNet:
		addr, err := netip.ParseAddr(query)
		if err != nil {
			return false
		}
		return storedPrefix.Contains(addr)
	case !storedIsNet && queryIsNet:
		addr, err := netip.ParseAddr(storedTarget)
		if err != nil {
			return false
		}
		return queryPrefix.Contains(addr)
	default:
		return false
	}
}

// MatchesAny splits storedTargets on commas and reports whether any entry
// matches query.
func MatchesAny(storedTargets, query string) bool {
	for _, t := range strings.Split(storedTargets, ",") {
		if Matches(t, query) {
			return true
		}
	}
	return false
}

func parsePrefix(s string) (netip.Prefix, bool) {
	if !strings.Contains(s, "/") {
		return netip.Prefix{}, false
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, false
	}
	return p, true
}

func prefixesOverlap(a, b netip.Prefix) bool {
	a = a.Masked()
	b = b.Masked()
	if a.Bits() <= b.Bits() {
		return a.Contains(b.Addr())
	}
	return b.Contains(a.Addr())
}
