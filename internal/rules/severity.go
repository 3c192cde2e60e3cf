package rules

import "strings"

// Severity levels carried by rules and alerts.
const (
	LevelCritical = "CRITICAL"
	LevelWarning  = "WARNING"
	LevelInfo     = "INFO"
)

// UnknownPriority ranks levels that are not recognised below every known level.
const UnknownPriority = 999

var priorities = map[string]int{
	LevelCritical: 1,
	LevelWarning:  2,
	LevelInfo:     3,
}

// Priority returns the numeric priority of a level. Lower is more severe.
func Priority(level string) int {
	if p, ok := priorities[strings.ToUpper(strings.TrimSpace(level))]; ok {
		return p
	}
	return UnknownPriority
}

// MoreSevere reports whether level a outranks level b.
func MoreSevere(a, b string) bool {
	return Priority(a) < Priority(b)
}

// NormalizeLevel upper-cases a level name.
func NormalizeLevel(level string) string {
	return strings.ToUpper(strings.TrimSpace(level))
}
