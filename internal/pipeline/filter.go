package pipeline

import (
	"path/filepath"
	"strings"
)

// Ignore matches path components against glob patterns.
type Ignore struct {
	patterns []string
}

func NewIgnore(patterns []string) *Ignore {
	return &Ignore{patterns: patterns}
}

func (i *Ignore) Match(path string) bool {
	if i == nil {
		return false
	}

	parts := strings.Split(filepath.ToSlash(path), "/")
	for _, part := range parts {
		if part == "" {
			continue
		}
		for _, pattern := range i.patterns {
			matched, err := filepath.Match(pattern, part)
			if err == nil && matched {
				return true
			}
		}
	}

	return false
}
