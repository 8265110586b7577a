// Package middleware provides the Gin request-lifecycle hook that opens a
// per-request scope, runs enrichment and emits the terminal request log.
package middleware

import (
	"fmt"
	"strings"
)

// ExclusionMatcher decides which request paths bypass context tracking
// entirely. Immutable after construction; evaluated once per request before
// any scope is created.
type ExclusionMatcher struct {
	literals map[string]struct{}
	prefixes []string
}

// NewExclusionMatcher compiles the configured patterns. A pattern is either
// a literal path ("/health") or a prefix pattern ending in "/*"
// ("/internal/*"). Malformed patterns fail startup.
func NewExclusionMatcher(patterns []string) (*ExclusionMatcher, error) {
	m := &ExclusionMatcher{
		literals: make(map[string]struct{}, len(patterns)),
	}

	for _, pattern := range patterns {
		if pattern == "" {
			return nil, fmt.Errorf("exclude pattern must not be empty")
		}

		if !strings.HasPrefix(pattern, "/") {
			return nil, fmt.Errorf("exclude pattern %q must start with /", pattern)
		}

		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
			if prefix == "" {
				return nil, fmt.Errorf("exclude pattern %q would match every path", pattern)
			}

			m.prefixes = append(m.prefixes, prefix+"/")

			continue
		}

		m.literals[pattern] = struct{}{}
	}

	return m, nil
}

// IsExcluded reports whether path matches any configured pattern. A prefix
// pattern "/internal/*" matches "/internal" itself and everything below it.
func (m *ExclusionMatcher) IsExcluded(path string) bool {
	if m == nil {
		return false
	}

	if _, ok := m.literals[path]; ok {
		return true
	}

	for _, prefix := range m.prefixes {
		if strings.HasPrefix(path, prefix) || path == strings.TrimSuffix(prefix, "/") {
			return true
		}
	}

	return false
}
