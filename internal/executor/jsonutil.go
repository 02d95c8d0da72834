package executor

import "strings"

// stripMarkdownFences removes a single leading/trailing ```lang fence
// pair, a common way models wrap "JSON only" responses despite being
// told not to (spec.md §4.3 Judge, Extract).
func stripMarkdownFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	lines = lines[1:]
	if last := len(lines) - 1; last >= 0 && strings.TrimSpace(lines[last]) == "```" {
		lines = lines[:last]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
