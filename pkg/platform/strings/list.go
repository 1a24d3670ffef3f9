// Package strings provides string list helpers for configuration values.
package strings

import (
	"strings"
)

// SplitList flattens comma-separated entries into a single list. Each element
// is trimmed; empty elements and duplicates are dropped. Order is preserved.
//
// Example:
//
//	SplitList([]string{"a:9092, b:9092", "a:9092", " "})
//	// Returns: []string{"a:9092", "b:9092"}
func SplitList(values []string) []string {
	if values == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if _, ok := seen[trimmed]; !ok {
				seen[trimmed] = struct{}{}
				result = append(result, trimmed)
			}
		}
	}

	return result
}
