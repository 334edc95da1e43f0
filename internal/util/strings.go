package util

import "strings"

// DefaultString returns the fallback value if v is empty or consists entirely
// of whitespace; otherwise it returns v unchanged.
//
//	DefaultString("hello", "world")  → "hello"
//	DefaultString("  ",    "world")  → "world"
func DefaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// EmptyDash returns "-" for blank strings. The CLI tables and the TUI detail
// panel use it for optional fields such as a server address or a port's
// readable usage so a missing value is visibly different from a blank one.
func EmptyDash(s string) string {
	return DefaultString(s, "-")
}
