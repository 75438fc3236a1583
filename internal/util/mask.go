package util

import "fmt"

// MaskToken shortens a credential for log output, keeping only a recognizable
// tail. Short strings pass through untouched.
func MaskToken(token string) string {
	if len(token) < 20 {
		return token
	}
	return "..." + token[len(token)-12:]
}

// Truncate caps long strings (typically error response bodies) for log and
// error output.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}
