// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package agenttoken

import (
	"path"
	"strings"
)

// Match reports whether name matches a slash-hierarchical glob
// pattern:
//
//   - "budget/show" matches only itself
//   - "lease/*" matches "lease/report" but not "lease/a/b"
//   - "lease/**" matches "lease/report" and anything deeper
//   - "**" matches everything
//   - "acme/**/triage" matches "acme/triage" and "acme/billing/triage"
//
// "*" and "?" follow path.Match and never cross a "/". "**" spans zero
// or more whole segments. Malformed patterns and names with empty
// segments match nothing — a broken pattern must never grant access.
func Match(pattern, name string) bool {
	if name == "" {
		return false
	}
	nameParts := strings.Split(name, "/")
	for _, part := range nameParts {
		if part == "" {
			return false
		}
	}
	return matchSegments(strings.Split(pattern, "/"), nameParts)
}

// matchSegments matches pattern segments against name segments,
// letting "**" absorb any number of whole segments.
func matchSegments(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	if pattern[0] == "**" {
		for skip := 0; skip <= len(name); skip++ {
			if matchSegments(pattern[1:], name[skip:]) {
				return true
			}
		}
		return false
	}
	if len(name) == 0 {
		return false
	}
	matched, err := path.Match(pattern[0], name[0])
	if err != nil || !matched {
		return false
	}
	return matchSegments(pattern[1:], name[1:])
}

// MatchAny reports whether name matches any of the patterns. An empty
// pattern list matches nothing (default deny).
func MatchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if Match(pattern, name) {
			return true
		}
	}
	return false
}
