// Package redact shortens secrets before they reach the logs.
package redact

import "strings"

const keep = 4

// Token keeps at most the first and last four characters of a bearer token, code or secret.
// Values of twelve characters or fewer are masked entirely.
func Token(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 3*keep:
		return strings.Repeat("*", len(s))
	default:
		return s[:keep] + "..." + s[len(s)-keep:]
	}
}

// Secret reports only whether a value is configured.
func Secret(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "***"
}
