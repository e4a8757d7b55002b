// Package redact scrubs user secrets, chiefly openHAB passwords, from text
// before it is logged or echoed back to a chat.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each secret in s with [REDACTED].
// Secrets shorter than 4 characters are left alone; redacting them would
// mangle ordinary words.
func String(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Error returns the redacted message of err, or "" when err is nil.
func Error(err error, secrets ...string) string {
	if err == nil {
		return ""
	}
	return String(err.Error(), secrets...)
}
